// Package events defines the observer interface through which the crawl
// engine and the scheduler report to the UI layer. Delivery is
// fire-and-forget; listeners must not block.
package events

import (
	"log/slog"

	"github.com/xiaofeiwuuu/wechat-spider/internal/domain"
)

// Type classifies a log event line.
type Type string

const (
	TypeInfo    Type = "info"
	TypeSuccess Type = "success"
	TypeWarning Type = "warning"
	TypeError   Type = "error"
)

// Listener receives crawl and scheduler lifecycle events. Events for a given
// account arrive in harvest order: log lines before progress ticks before
// completion.
type Listener interface {
	Log(t Type, message string)
	Progress(current, total int)
	Complete(results []domain.Outcome)
	Countdown(secondsRemaining int, accountNames []string)
	CountdownComplete()
	Cancelled()
}

// Nop discards all events.
type Nop struct{}

func (Nop) Log(Type, string) {}

func (Nop) Progress(int, int) {}

func (Nop) Complete([]domain.Outcome) {}

func (Nop) Countdown(int, []string) {}

func (Nop) CountdownComplete() {}

func (Nop) Cancelled() {}

// LoggerListener mirrors events onto a slog logger. Used by the CLI, where
// the operator log is the UI.
type LoggerListener struct {
	logger *slog.Logger
}

func NewLoggerListener(logger *slog.Logger) *LoggerListener {
	return &LoggerListener{logger: logger.With("component", "events")}
}

func (l *LoggerListener) Log(t Type, message string) {
	switch t {
	case TypeWarning:
		l.logger.Warn(message)
	case TypeError:
		l.logger.Error(message)
	default:
		l.logger.Info(message)
	}
}

func (l *LoggerListener) Progress(current, total int) {
	l.logger.Info("progress", "current", current, "total", total)
}

func (l *LoggerListener) Complete(results []domain.Outcome) {
	var articles int
	var failed int
	for _, r := range results {
		articles += r.ArticleCount
		if !r.Success {
			failed++
		}
	}
	l.logger.Info("crawl complete", "accounts", len(results), "failed", failed, "articles", articles)
}

func (l *LoggerListener) Countdown(secondsRemaining int, accountNames []string) {
	l.logger.Info("scheduled run countdown", "seconds", secondsRemaining, "accounts", accountNames)
}

func (l *LoggerListener) CountdownComplete() {
	l.logger.Info("countdown complete, starting run")
}

func (l *LoggerListener) Cancelled() {
	l.logger.Info("scheduled run cancelled")
}

// Multi fans events out to several listeners in order.
type Multi []Listener

func (m Multi) Log(t Type, message string) {
	for _, l := range m {
		l.Log(t, message)
	}
}

func (m Multi) Progress(current, total int) {
	for _, l := range m {
		l.Progress(current, total)
	}
}

func (m Multi) Complete(results []domain.Outcome) {
	for _, l := range m {
		l.Complete(results)
	}
}

func (m Multi) Countdown(secondsRemaining int, accountNames []string) {
	for _, l := range m {
		l.Countdown(secondsRemaining, accountNames)
	}
}

func (m Multi) CountdownComplete() {
	for _, l := range m {
		l.CountdownComplete()
	}
}

func (m Multi) Cancelled() {
	for _, l := range m {
		l.Cancelled()
	}
}
