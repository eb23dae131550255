package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xiaofeiwuuu/wechat-spider/internal/domain"
	"github.com/xiaofeiwuuu/wechat-spider/internal/events"
)

// Config keys read through the repository.
const (
	ConfigKeyScheduler       = "scheduler"
	ConfigKeyScraper         = "scraper"
	ConfigKeyScraperDefaults = "scraperDefaults"
)

// Status is the externally visible scheduler state. NextRunTime is only
// computable in fixed mode; interval mode reports nil.
type Status struct {
	Enabled     bool       `json:"enabled"`
	NextRunTime *time.Time `json:"nextRunTime"`
}

// Scheduler owns one timer and triggers the crawl engine on it. Each fire
// creates a pending run log, counts down a cancellable window, runs the
// harvest and finalizes the log.
type Scheduler struct {
	engine  CrawlEngine
	runLogs RunLogStore
	configs ConfigStore
	events  events.Listener
	logger  *slog.Logger

	countdownTicks int
	tickInterval   time.Duration

	running atomic.Bool

	mu        sync.Mutex
	cfg       *domain.SchedulerConfig
	timer     *time.Timer
	armed     bool
	baseCtx   context.Context
	cancelCh  chan struct{}
	cancelled bool
}

func New(
	engine CrawlEngine,
	runLogs RunLogStore,
	configs ConfigStore,
	listener events.Listener,
	logger *slog.Logger,
	countdownSeconds int,
) *Scheduler {
	if listener == nil {
		listener = events.Nop{}
	}
	if countdownSeconds <= 0 {
		countdownSeconds = 30
	}
	return &Scheduler{
		engine:         engine,
		runLogs:        runLogs,
		configs:        configs,
		events:         listener,
		logger:         logger.With("component", "scheduler"),
		countdownTicks: countdownSeconds,
		tickInterval:   time.Second,
		baseCtx:        context.Background(),
	}
}

// Start loads the scheduler config and arms the timer. A disabled config
// leaves the scheduler stopped without error.
func (s *Scheduler) Start(ctx context.Context) error {
	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return fmt.Errorf("load scheduler config: %w", err)
	}
	if cfg == nil || !cfg.Enabled {
		s.logger.Info("scheduler disabled")
		return nil
	}

	s.Stop()

	s.mu.Lock()
	s.cfg = cfg
	s.baseCtx = ctx
	s.armed = true
	s.mu.Unlock()

	switch cfg.Mode {
	case domain.ModeFixed:
		s.armFixed()
	default:
		s.armInterval(intervalDuration(cfg))
	}

	s.logger.Info("scheduler started", "mode", cfg.Mode)
	return nil
}

// Stop cancels the timer and resolves any pending countdown as cancelled.
// It does not cancel an already-running harvest.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
		s.logger.Info("scheduler stopped")
	}
	s.resolveCountdownLocked()
}

// CancelCurrentTask sets the shared cancellation flag: a pending countdown
// resolves immediately and an in-flight harvest stops cooperatively.
// Idempotent.
func (s *Scheduler) CancelCurrentTask() {
	s.mu.Lock()
	s.resolveCountdownLocked()
	s.mu.Unlock()
	s.engine.Stop()
}

func (s *Scheduler) resolveCountdownLocked() {
	if !s.cancelled {
		s.cancelled = true
		if s.cancelCh != nil {
			close(s.cancelCh)
			s.cancelCh = nil
		}
	}
}

// GetStatus reports whether the scheduler is enabled and, in fixed mode, the
// next fire instant.
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{}
	if s.cfg == nil || !s.cfg.Enabled {
		return status
	}
	status.Enabled = true

	if s.cfg.Mode == domain.ModeFixed {
		status.NextRunTime = nextFixedRunTime(s.cfg, time.Now())
	}
	return status
}

// GetLogs returns run-log history, newest first.
func (s *Scheduler) GetLogs(ctx context.Context, limit, offset int) ([]domain.RunLog, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.runLogs.List(ctx, limit, offset)
}

// GetStats returns aggregate run-log counts and the success rate.
func (s *Scheduler) GetStats(ctx context.Context) (*domain.RunStats, error) {
	return s.runLogs.Stats(ctx)
}

func (s *Scheduler) loadConfig(ctx context.Context) (*domain.SchedulerConfig, error) {
	raw, err := s.configs.Get(ctx, ConfigKeyScheduler)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	var cfg domain.SchedulerConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode scheduler config: %w", err)
	}
	return &cfg, nil
}

func intervalDuration(cfg *domain.SchedulerConfig) time.Duration {
	value := time.Duration(cfg.IntervalValue)
	switch cfg.IntervalUnit {
	case domain.UnitHours:
		return value * time.Hour
	case domain.UnitDays:
		return value * 24 * time.Hour
	default:
		return value * time.Minute
	}
}

// armInterval arms the timer for one interval. The first fire happens after a
// full interval, and the timer is unconditionally re-armed after every run so
// a failed run cannot silently disable the schedule.
func (s *Scheduler) armInterval(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.armed {
		return
	}
	ctx := s.baseCtx
	s.timer = time.AfterFunc(interval, func() {
		defer s.armInterval(interval)
		s.runScheduled(ctx)
	})
}

// armFixed arms the timer for the next qualifying wall-clock instant and
// recomputes after each fire.
func (s *Scheduler) armFixed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.armed {
		return
	}

	next := nextFixedRunTime(s.cfg, time.Now())
	if next == nil {
		s.logger.Warn("no qualifying run time, fixed schedule not armed")
		return
	}

	s.logger.Info("next run scheduled", "at", next)
	ctx := s.baseCtx
	s.timer = time.AfterFunc(time.Until(*next), func() {
		defer s.armFixed()
		s.runScheduled(ctx)
	})
}

// nextFixedRunTime computes the next qualifying instant for a fixed-mode
// config: today at HH:MM rolled forward past "now", then (weekly mode) rolled
// to the next allowed weekday, searching at most 7 days ahead.
func nextFixedRunTime(cfg *domain.SchedulerConfig, now time.Time) *time.Time {
	if cfg == nil || cfg.Time == "" {
		return nil
	}

	parts := strings.SplitN(cfg.Time, ":", 2)
	if len(parts) != 2 {
		return nil
	}
	var hours, minutes int
	if _, err := fmt.Sscanf(cfg.Time, "%d:%d", &hours, &minutes); err != nil {
		return nil
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), hours, minutes, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}

	if cfg.Frequency != domain.FrequencyWeekly {
		return &next
	}

	if len(cfg.WeekDays) == 0 {
		return nil
	}
	for i := 0; i < 7; i++ {
		weekday := int(next.Weekday())
		for _, d := range cfg.WeekDays {
			if d == weekday {
				return &next
			}
		}
		next = next.AddDate(0, 0, 1)
	}
	return nil
}

// runScheduled is the countdown-and-execute sequence invoked on each fire.
func (s *Scheduler) runScheduled(ctx context.Context) {
	s.mu.Lock()
	s.cancelled = false
	s.cancelCh = make(chan struct{})
	cancelCh := s.cancelCh
	var names []string
	if s.cfg != nil {
		names = s.cfg.AccountNames
	}
	s.mu.Unlock()

	if len(names) == 0 {
		s.logger.Warn("no accounts configured, skipping scheduled run")
		return
	}

	logID, err := s.runLogs.Create(ctx, names)
	if err != nil {
		s.logger.Error("failed to create run log", "error", err)
		return
	}
	startTime := time.Now()
	s.logger.Info("scheduled run pending", "log_id", logID, "countdown_seconds", s.countdownTicks)

	cancelled := false
countdown:
	for remaining := s.countdownTicks; remaining > 0; remaining-- {
		s.events.Countdown(remaining, names)
		select {
		case <-time.After(s.tickInterval):
		case <-cancelCh:
			cancelled = true
			break countdown
		}
	}

	if cancelled {
		s.logger.Info("scheduled run cancelled during countdown", "log_id", logID)
		s.events.Cancelled()
		s.finalize(ctx, logID, domain.RunLogUpdate{
			Status:   domain.RunCancelled,
			EndTime:  time.Now(),
			Duration: int(time.Since(startTime).Seconds()),
		})
		return
	}

	s.events.CountdownComplete()
	s.execute(ctx, logID, names, startTime)
}

// execute runs the harvest and finalizes the run log. The running flag guards
// skipIfRunning and is cleared on every path, including panics, so a crashed
// run cannot wedge future runs into the skipped state.
func (s *Scheduler) execute(ctx context.Context, logID string, names []string, startTime time.Time) {
	skipIfRunning := false
	s.mu.Lock()
	if s.cfg != nil {
		skipIfRunning = s.cfg.SkipIfRunning
	}
	s.mu.Unlock()

	if skipIfRunning && s.running.Load() {
		msg := "previous run still active, skipped"
		s.logger.Warn(msg, "log_id", logID)
		s.events.Log(events.TypeWarning, msg)
		s.finalize(ctx, logID, domain.RunLogUpdate{
			Status:       domain.RunCancelled,
			EndTime:      time.Now(),
			Duration:     int(time.Since(startTime).Seconds()),
			ErrorMessage: &msg,
		})
		return
	}

	s.running.Store(true)
	defer s.running.Store(false)

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("scheduled run panic: %v", r)
			s.logger.Error(msg, "log_id", logID)
			s.finalize(ctx, logID, domain.RunLogUpdate{
				Status:       domain.RunFailed,
				EndTime:      time.Now(),
				Duration:     int(time.Since(startTime).Seconds()),
				ErrorMessage: &msg,
			})
		}
	}()

	opts, err := s.buildOptions(ctx)
	if err != nil {
		msg := err.Error()
		s.logger.Error("scheduled run failed", "log_id", logID, "error", err)
		s.finalize(ctx, logID, domain.RunLogUpdate{
			Status:       domain.RunFailed,
			EndTime:      time.Now(),
			Duration:     int(time.Since(startTime).Seconds()),
			ErrorMessage: &msg,
		})
		return
	}

	s.events.Log(events.TypeInfo, fmt.Sprintf("scheduled run: crawling %d accounts: %s",
		len(names), strings.Join(names, ", ")))

	results := s.engine.ScrapeAccounts(ctx, names, opts)
	s.events.Complete(results)

	var successCount, failCount, totalArticles int
	for _, r := range results {
		if r.Success {
			successCount++
		} else {
			failCount++
		}
		totalArticles += r.ArticleCount
	}

	s.finalize(ctx, logID, domain.RunLogUpdate{
		Status:        domain.RunCompleted,
		EndTime:       time.Now(),
		Duration:      int(time.Since(startTime).Seconds()),
		SuccessCount:  successCount,
		FailCount:     failCount,
		TotalArticles: totalArticles,
	})

	s.events.Log(events.TypeSuccess, fmt.Sprintf("scheduled run finished: %d/%d accounts succeeded, %d new articles",
		successCount, len(results), totalArticles))
}

func (s *Scheduler) finalize(ctx context.Context, logID string, upd domain.RunLogUpdate) {
	if err := s.runLogs.Update(ctx, logID, upd); err != nil {
		s.logger.Error("failed to finalize run log", "log_id", logID, "error", err)
	}
}

// buildOptions derives crawl options for scheduled runs from the "scraper"
// and "scraperDefaults" config records.
func (s *Scheduler) buildOptions(ctx context.Context) (domain.Options, error) {
	opts := domain.Options{
		MaxPages:       20,
		IncludeContent: true,
	}

	if raw, err := s.configs.Get(ctx, ConfigKeyScraper); err != nil {
		return opts, fmt.Errorf("load scraper config: %w", err)
	} else if raw != nil {
		var settings domain.ScraperSettings
		if err := json.Unmarshal(raw, &settings); err != nil {
			return opts, fmt.Errorf("decode scraper config: %w", err)
		}
		if settings.MaxPages > 0 {
			opts.MaxPages = settings.MaxPages
		}
	}

	raw, err := s.configs.Get(ctx, ConfigKeyScraperDefaults)
	if err != nil {
		return opts, fmt.Errorf("load scraper defaults: %w", err)
	}

	defaults := domain.ScrapeDefaults{RangeType: "days"}
	if raw != nil {
		if err := json.Unmarshal(raw, &defaults); err != nil {
			return opts, fmt.Errorf("decode scraper defaults: %w", err)
		}
	}

	switch defaults.RangeType {
	case "count":
		opts.Limit = defaults.Count
		if opts.Limit <= 0 {
			opts.Limit = 100
		}
	case "all":
		// No recency or quantity bound.
	default:
		opts.Days = defaults.Days
		if opts.Days <= 0 {
			opts.Days = 30
		}
	}

	return opts, nil
}
