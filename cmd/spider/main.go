package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/xiaofeiwuuu/wechat-spider/internal/config"
	"github.com/xiaofeiwuuu/wechat-spider/internal/converter"
	"github.com/xiaofeiwuuu/wechat-spider/internal/domain"
	"github.com/xiaofeiwuuu/wechat-spider/internal/events"
	"github.com/xiaofeiwuuu/wechat-spider/internal/publisher"
	"github.com/xiaofeiwuuu/wechat-spider/internal/scheduler"
	"github.com/xiaofeiwuuu/wechat-spider/internal/scraper"
	"github.com/xiaofeiwuuu/wechat-spider/internal/storage/postgres"
	"github.com/xiaofeiwuuu/wechat-spider/internal/wechat"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	accounts := flag.String("accounts", "", "comma-separated account names for a one-shot crawl (daemon mode when empty)")
	days := flag.Int("days", 0, "one-shot: only articles from the last N days")
	limit := flag.Int("limit", 0, "one-shot: stop after N new articles")
	metadataOnly := flag.Bool("metadata-only", false, "one-shot: skip content fetching, store listing metadata only")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	listeners := events.Multi{events.NewLoggerListener(logger)}

	var articlePublisher scraper.ArticlePublisher
	if cfg.RabbitMQ.Enabled {
		rabbitMQ, err := publisher.NewRabbitMQ(cfg.RabbitMQ, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		defer rabbitMQ.Close()
		articlePublisher = rabbitMQ
		listeners = append(listeners, rabbitMQ)
	}

	accountStore := postgres.NewAccountStore(db)
	articleStore := postgres.NewArticleStore(db)
	sessionStore := postgres.NewSessionStore(db)
	configStore := postgres.NewConfigStore(db)
	runLogStore := postgres.NewRunLogStore(db)
	txManager := postgres.NewTransactionManager(db)

	client := wechat.New(wechat.Config{
		SearchURL:         cfg.WeChat.SearchURL,
		ListURL:           cfg.WeChat.ListURL,
		Timeout:           cfg.WeChat.Timeout,
		RequestsPerSecond: cfg.WeChat.RequestsPerSecond,
		MaxAttempts:       cfg.WeChat.Retry.MaxAttempts,
		InitialBackoff:    cfg.WeChat.Retry.InitialBackoff,
		MaxBackoff:        cfg.WeChat.Retry.MaxBackoff,
	}, logger)

	engine := scraper.NewService(
		client,
		converter.New(),
		accountStore,
		articleStore,
		sessionStore,
		txManager,
		articlePublisher,
		listeners,
		logger,
		cfg.Scraper,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *accounts != "" {
		runOnce(ctx, engine, articleStore, logger, *accounts, domain.Options{
			MaxPages:       cfg.Scraper.MaxPages,
			IncludeContent: !*metadataOnly,
			Days:           *days,
			Limit:          *limit,
		})
		return
	}

	sched := scheduler.New(engine, runLogStore, configStore, listeners, logger, cfg.Scraper.CountdownSeconds)

	if err := sched.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)

	sched.Stop()
	engine.Stop()
	cancel()
}

// runOnce crawls the given accounts immediately and exits. A failed account
// makes the process exit non-zero so cron jobs notice.
func runOnce(ctx context.Context, engine *scraper.Service, articles *postgres.ArticleStore, logger *slog.Logger, accounts string, opts domain.Options) {
	var names []string
	for _, name := range strings.Split(accounts, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		logger.Error("no account names given")
		os.Exit(1)
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("stopping crawl")
		engine.Stop()
	}()

	start := time.Now()
	results := engine.ScrapeAccounts(ctx, names, opts)

	saved, err := articles.CountSince(ctx, start)
	if err != nil {
		logger.Warn("failed to count saved articles", "error", err)
	}

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	logger.Info("crawl summary", "accounts", len(results), "failed", failed, "articles_saved", saved)
	if failed > 0 {
		os.Exit(1)
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
