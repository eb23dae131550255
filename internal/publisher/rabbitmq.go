// Package publisher forwards persisted articles and crawl lifecycle events to
// RabbitMQ, where downstream consumers (notification bots, indexers) pick them
// up. The spider works fine without it; a disabled publisher is simply nil.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/xiaofeiwuuu/wechat-spider/internal/config"
	"github.com/xiaofeiwuuu/wechat-spider/internal/domain"
	"github.com/xiaofeiwuuu/wechat-spider/internal/events"
)

type RabbitMQ struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *slog.Logger
}

func NewRabbitMQ(cfg config.RabbitMQConfig, logger *slog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		cfg.Exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		cfg.QueueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	err = ch.QueueBind(
		q.Name,
		cfg.RoutingKey,
		cfg.Exchange,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", cfg.QueueName,
		"routing_key", cfg.RoutingKey,
	)

	return &RabbitMQ{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger,
	}, nil
}

// Message is the envelope for everything published to the exchange. Kind is
// "article" for persisted content and "event" for crawl lifecycle events.
type Message struct {
	Kind      string          `json:"kind"`
	Article   *ArticlePayload `json:"article,omitempty"`
	Event     *EventPayload   `json:"event,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type ArticlePayload struct {
	ID          int64     `json:"id"`
	AccountID   int64     `json:"accountId"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	PublishTime time.Time `json:"publishTime"`
}

type EventPayload struct {
	Name    string           `json:"name"`
	Type    string           `json:"type,omitempty"`
	Message string           `json:"message,omitempty"`
	Current int              `json:"current,omitempty"`
	Total   int              `json:"total,omitempty"`
	Results []domain.Outcome `json:"results,omitempty"`
}

// PublishArticle forwards one persisted article. The body is metadata only;
// consumers fetch content from the database by ID.
func (r *RabbitMQ) PublishArticle(ctx context.Context, article *domain.Article) error {
	msg := Message{
		Kind: "article",
		Article: &ArticlePayload{
			ID:          article.ID,
			AccountID:   article.AccountID,
			Title:       article.Title,
			URL:         article.URL,
			PublishTime: article.PublishTime,
		},
		Timestamp: time.Now().UTC(),
	}

	if err := r.publish(ctx, msg); err != nil {
		return err
	}

	r.logger.Debug("published article", "id", article.ID, "url", article.URL)
	return nil
}

func (r *RabbitMQ) publish(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = r.channel.PublishWithContext(
		ctx,
		r.exchange,
		r.routingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	return nil
}

// publishEvent is the best-effort path behind the listener methods: event
// delivery must never fail a crawl, so errors are only logged.
func (r *RabbitMQ) publishEvent(payload EventPayload) {
	msg := Message{
		Kind:      "event",
		Event:     &payload,
		Timestamp: time.Now().UTC(),
	}
	if err := r.publish(context.Background(), msg); err != nil {
		r.logger.Warn("event publish failed", "event", payload.Name, "error", err)
	}
}

// Listener implementation: mirror crawl and scheduler events onto the queue.

func (r *RabbitMQ) Log(t events.Type, message string) {
	r.publishEvent(EventPayload{Name: "log", Type: string(t), Message: message})
}

func (r *RabbitMQ) Progress(current, total int) {
	r.publishEvent(EventPayload{Name: "progress", Current: current, Total: total})
}

func (r *RabbitMQ) Complete(results []domain.Outcome) {
	r.publishEvent(EventPayload{Name: "complete", Results: results})
}

func (r *RabbitMQ) Countdown(secondsRemaining int, accountNames []string) {
	r.publishEvent(EventPayload{
		Name:    "countdown",
		Current: secondsRemaining,
		Message: fmt.Sprintf("scheduled run for %d accounts", len(accountNames)),
	})
}

func (r *RabbitMQ) CountdownComplete() {
	r.publishEvent(EventPayload{Name: "countdown_complete"})
}

func (r *RabbitMQ) Cancelled() {
	r.publishEvent(EventPayload{Name: "cancelled"})
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
