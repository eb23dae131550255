//go:build integration

package publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xiaofeiwuuu/wechat-spider/internal/config"
	"github.com/xiaofeiwuuu/wechat-spider/internal/domain"
	"github.com/xiaofeiwuuu/wechat-spider/internal/events"
)

type RabbitMQIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *rabbitmq.RabbitMQContainer
	amqpURL   string
	logger    *slog.Logger
}

func (s *RabbitMQIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	container, err := rabbitmq.Run(s.ctx,
		"rabbitmq:3.13-management-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete").
				WithStartupTimeout(60*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	amqpURL, err := container.AmqpURL(s.ctx)
	s.Require().NoError(err)
	s.amqpURL = amqpURL
}

func (s *RabbitMQIntegrationSuite) TearDownSuite() {
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func TestRabbitMQIntegrationSuite(t *testing.T) {
	suite.Run(t, new(RabbitMQIntegrationSuite))
}

func (s *RabbitMQIntegrationSuite) TestPublisher_Connection() {
	cfg := config.RabbitMQConfig{
		URL:        s.amqpURL,
		Exchange:   "test-exchange",
		RoutingKey: "test-routing-key",
		QueueName:  "test-queue",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.NoError(err)
	s.NotNil(pub)

	err = pub.Close()
	s.NoError(err)
}

func (s *RabbitMQIntegrationSuite) TestPublisher_PublishArticle() {
	cfg := config.RabbitMQConfig{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-article",
		RoutingKey: "test-routing-key-article",
		QueueName:  "test-queue-article",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	now := time.Now().Truncate(time.Millisecond)
	article := &domain.Article{
		ID:          1,
		AccountID:   7,
		Title:       "Test Article",
		URL:         "https://mp.weixin.qq.com/s/abc",
		PublishTime: now,
		Content:     "# Test Article\n\nbody",
	}

	err = pub.PublishArticle(s.ctx, article)
	s.NoError(err)

	msg := s.consumeMessage(cfg)
	s.NotNil(msg)
	s.Equal("application/json", msg.ContentType)
	s.Equal(uint8(amqp.Persistent), msg.DeliveryMode)

	var received Message
	err = json.Unmarshal(msg.Body, &received)
	s.NoError(err)
	s.Equal("article", received.Kind)
	s.Require().NotNil(received.Article)
	s.Equal(int64(1), received.Article.ID)
	s.Equal(int64(7), received.Article.AccountID)
	s.Equal("Test Article", received.Article.Title)
	s.Equal("https://mp.weixin.qq.com/s/abc", received.Article.URL)
	s.False(received.Timestamp.IsZero())
}

func (s *RabbitMQIntegrationSuite) TestPublisher_LifecycleEvents() {
	cfg := config.RabbitMQConfig{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-events",
		RoutingKey: "test-routing-key-events",
		QueueName:  "test-queue-events",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	pub.Log(events.TypeInfo, "crawling account: test")

	msg := s.consumeMessage(cfg)
	s.NotNil(msg)

	var received Message
	err = json.Unmarshal(msg.Body, &received)
	s.NoError(err)
	s.Equal("event", received.Kind)
	s.Require().NotNil(received.Event)
	s.Equal("log", received.Event.Name)
	s.Equal("info", received.Event.Type)
	s.Equal("crawling account: test", received.Event.Message)

	pub.Complete([]domain.Outcome{{Name: "test", Success: true, ArticleCount: 4}})

	msg = s.consumeMessage(cfg)
	s.NotNil(msg)

	err = json.Unmarshal(msg.Body, &received)
	s.NoError(err)
	s.Equal("event", received.Kind)
	s.Require().NotNil(received.Event)
	s.Equal("complete", received.Event.Name)
	s.Len(received.Event.Results, 1)
	s.Equal(4, received.Event.Results[0].ArticleCount)
}

func (s *RabbitMQIntegrationSuite) consumeMessage(cfg config.RabbitMQConfig) *amqp.Delivery {
	conn, err := amqp.Dial(s.amqpURL)
	s.Require().NoError(err)
	defer conn.Close()

	ch, err := conn.Channel()
	s.Require().NoError(err)
	defer ch.Close()

	msgs, err := ch.Consume(cfg.QueueName, "", true, false, false, false, nil)
	s.Require().NoError(err)

	select {
	case msg := <-msgs:
		return &msg
	case <-time.After(5 * time.Second):
		s.Fail("Timeout waiting for message")
		return nil
	}
}
