package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xiaofeiwuuu/wechat-spider/internal/config"
	"github.com/xiaofeiwuuu/wechat-spider/internal/domain"
	"github.com/xiaofeiwuuu/wechat-spider/internal/events"
	"github.com/xiaofeiwuuu/wechat-spider/internal/wechat"
)

// Service is the crawl engine. It harvests one account at a time, one page at
// a time, one item at a time; the only shared state is the stop signal.
type Service struct {
	source    Source
	converter Converter
	accounts  AccountStore
	articles  ArticleStore
	sessions  SessionStore
	txManager TransactionManager
	publisher ArticlePublisher
	events    events.Listener
	logger    *slog.Logger
	cfg       config.ScraperConfig

	mu      sync.Mutex
	stopCh  chan struct{}
	stopped bool
}

func NewService(
	source Source,
	conv Converter,
	accounts AccountStore,
	articles ArticleStore,
	sessions SessionStore,
	txManager TransactionManager,
	publisher ArticlePublisher,
	listener events.Listener,
	logger *slog.Logger,
	cfg config.ScraperConfig,
) *Service {
	if listener == nil {
		listener = events.Nop{}
	}
	return &Service{
		source:    source,
		converter: conv,
		accounts:  accounts,
		articles:  articles,
		sessions:  sessions,
		txManager: txManager,
		publisher: publisher,
		events:    listener,
		logger:    logger.With("component", "scraper"),
		cfg:       cfg,
		stopCh:    make(chan struct{}),
	}
}

// Stop requests cooperative cancellation of the in-flight harvest. Idempotent;
// has no effect on an already-finished batch.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.stopCh)
	}
}

func (s *Service) resetStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = false
	s.stopCh = make(chan struct{})
}

func (s *Service) stopSignal() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCh
}

func (s *Service) stopRequested() bool {
	select {
	case <-s.stopSignal():
		return true
	default:
		return false
	}
}

// wait sleeps for d unless the stop signal or the context fires first.
// Returns false when the wait was interrupted.
func (s *Service) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-s.stopSignal():
		return false
	case <-timer.C:
		return true
	}
}

// stagedArticle is a listing entry confirmed new and selected for persisting.
type stagedArticle struct {
	title       string
	url         string
	publishTime time.Time
}

// ScrapeAccounts harvests the named accounts strictly sequentially, clearing
// the stop flag first. One account's failure never aborts the batch; an
// observed stop request ends the remaining loop.
func (s *Service) ScrapeAccounts(ctx context.Context, accountNames []string, opts domain.Options) []domain.Outcome {
	s.resetStop()
	s.logger.Info("starting batch crawl", "accounts", len(accountNames))

	results := make([]domain.Outcome, 0, len(accountNames))

	for i, name := range accountNames {
		if s.stopRequested() {
			s.events.Log(events.TypeWarning, "crawl stopped by user")
			break
		}

		s.events.Progress(i, len(accountNames))
		results = append(results, s.ScrapeAccount(ctx, name, opts))
		s.events.Progress(i+1, len(accountNames))
	}

	s.logger.Info("batch crawl finished", "results", len(results))
	return results
}

// ScrapeAccount harvests a single account: resolve, paginate, filter, dedupe,
// fetch, convert, persist. Faults are converted into a failed Outcome; a stop
// request ends the harvest early with a successful Outcome covering what was
// saved so far.
func (s *Service) ScrapeAccount(ctx context.Context, accountName string, opts domain.Options) (outcome domain.Outcome) {
	outcome = domain.Outcome{Name: accountName}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("harvest panic", "account", accountName, "panic", r)
			outcome.Success = false
			outcome.Error = fmt.Sprintf("harvest panic: %v", r)
		}
	}()

	if opts.MaxPages <= 0 {
		opts.MaxPages = 20
	}

	s.events.Log(events.TypeInfo, fmt.Sprintf("crawling account: %s", accountName))

	saved, err := s.harvest(ctx, accountName, opts)
	outcome.ArticleCount = saved
	if err != nil {
		s.events.Log(events.TypeError, fmt.Sprintf("crawl failed for %s: %v", accountName, err))
		s.logger.Error("harvest failed", "account", accountName, "error", err)
		outcome.Success = false
		outcome.Error = err.Error()
		return outcome
	}

	s.events.Log(events.TypeSuccess, fmt.Sprintf("crawl finished for %s, saved %d articles", accountName, saved))
	outcome.Success = true
	return outcome
}

func (s *Service) harvest(ctx context.Context, accountName string, opts domain.Options) (int, error) {
	session, err := s.requireSession(ctx)
	if err != nil {
		return 0, err
	}

	result, err := s.resolveAccount(ctx, session, accountName)
	if err != nil {
		return 0, err
	}
	s.events.Log(events.TypeSuccess, fmt.Sprintf("resolved account: %s", result.Nickname))

	accountID, err := s.ensureAccount(ctx, result.Nickname)
	if err != nil {
		return 0, fmt.Errorf("ensure account row: %w", err)
	}

	staged, err := s.collectNewItems(ctx, session, result.FakeID, opts)
	if err != nil {
		return 0, err
	}

	s.events.Log(events.TypeSuccess, fmt.Sprintf("%d new articles found", len(staged)))
	if len(staged) == 0 {
		return 0, nil
	}

	if opts.IncludeContent {
		return s.persistWithContent(ctx, session, accountID, staged)
	}
	return s.persistMetadataOnly(ctx, accountID, staged)
}

func (s *Service) requireSession(ctx context.Context) (*domain.Session, error) {
	session, err := s.sessions.GetActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return nil, ErrNoSession
	}
	if session.Expired(time.Now()) {
		return nil, ErrSessionExpired
	}
	return session, nil
}

// resolveAccount maps a configured display name to the platform identifier.
// On ambiguous search results the first hit wins; the search is best-effort,
// not an exact match.
func (s *Service) resolveAccount(ctx context.Context, session *domain.Session, accountName string) (wechat.AccountResult, error) {
	results, err := s.source.SearchAccounts(ctx, session.Token, session.Cookie, accountName)
	if err != nil {
		return wechat.AccountResult{}, fmt.Errorf("search account: %w", err)
	}
	if len(results) == 0 {
		return wechat.AccountResult{}, fmt.Errorf("%w: %s", ErrAccountNotFound, accountName)
	}
	return results[0], nil
}

func (s *Service) ensureAccount(ctx context.Context, name string) (int64, error) {
	account, err := s.accounts.GetByNamePlatform(ctx, name, domain.PlatformWeChat)
	if err != nil {
		return 0, err
	}
	if account != nil {
		return account.ID, nil
	}

	id, err := s.accounts.Create(ctx, &domain.Account{
		Name:     name,
		Platform: domain.PlatformWeChat,
	})
	if err != nil {
		return 0, err
	}
	s.events.Log(events.TypeInfo, fmt.Sprintf("account saved: %s", name))
	return id, nil
}

// collectNewItems pages through the account's listing, newest first, staging
// items that are not yet stored. The recency cutoff terminates pagination;
// the dedup check only skips the single item.
func (s *Service) collectNewItems(ctx context.Context, session *domain.Session, fakeID string, opts domain.Options) ([]stagedArticle, error) {
	var cutoff time.Time
	if opts.Days > 0 {
		cutoff = time.Now().AddDate(0, 0, -opts.Days)
		s.events.Log(events.TypeInfo, fmt.Sprintf("fetching articles from the last %d days", opts.Days))
	}
	if opts.Limit > 0 {
		s.events.Log(events.TypeInfo, fmt.Sprintf("limiting to %d articles", opts.Limit))
	}

	s.events.Log(events.TypeInfo, fmt.Sprintf("fetching article list (up to %d pages)", opts.MaxPages))

	var staged []stagedArticle

	for page := 0; page < opts.MaxPages; page++ {
		if s.stopRequested() {
			s.events.Log(events.TypeWarning, "crawl stopped by user")
			break
		}

		items, err := s.source.ListArticles(ctx, session.Token, session.Cookie, fakeID, page*wechat.PageSize)
		if err != nil {
			s.logger.Warn("listing page failed", "page", page, "error", err)
			items = nil
		}

		if len(items) == 0 {
			if page == 0 {
				s.events.Log(events.TypeError, "no article data returned for this account")
				s.events.Log(events.TypeWarning, "possible causes: account never published, session expired, or the platform is rate limiting")
				s.events.Log(events.TypeInfo, "sign in again and retry; if it persists, wait an hour before the next attempt")
				return nil, ErrEmptyFirstPage
			}
			s.events.Log(events.TypeInfo, "no more articles")
			break
		}

		s.events.Log(events.TypeInfo, fmt.Sprintf("page %d/%d: %d articles", page+1, opts.MaxPages, len(items)))

		stopPaging := false
		for _, item := range items {
			if s.stopRequested() {
				stopPaging = true
				break
			}

			publishTime := time.Unix(item.UpdateTime, 0)
			if !cutoff.IsZero() && !publishTime.After(cutoff) {
				s.events.Log(events.TypeInfo, "article older than the requested range, stopping")
				stopPaging = true
				break
			}

			exists, err := s.articles.ExistsByURL(ctx, item.Link)
			if err != nil {
				return nil, fmt.Errorf("check article existence: %w", err)
			}
			if exists {
				s.events.Log(events.TypeInfo, fmt.Sprintf("already stored, skipping: %s", item.Title))
				continue
			}

			staged = append(staged, stagedArticle{
				title:       item.Title,
				url:         item.Link,
				publishTime: publishTime,
			})

			if opts.Limit > 0 && len(staged) >= opts.Limit {
				s.events.Log(events.TypeInfo, fmt.Sprintf("reached limit of %d articles, stopping", opts.Limit))
				stopPaging = true
				break
			}
		}

		if stopPaging {
			break
		}

		if page < opts.MaxPages-1 {
			s.wait(ctx, s.cfg.PageDelay)
		}
	}

	return staged, nil
}

// persistWithContent fetches, converts and stores each staged item
// sequentially. A failed fetch skips the item; a failed conversion falls back
// to the raw markup.
func (s *Service) persistWithContent(ctx context.Context, session *domain.Session, accountID int64, staged []stagedArticle) (int, error) {
	s.events.Log(events.TypeInfo, "fetching article content")

	saved := 0
	for i, item := range staged {
		if s.stopRequested() {
			s.events.Log(events.TypeWarning, "crawl stopped by user")
			break
		}

		s.events.Progress(i+1, len(staged))
		s.events.Log(events.TypeInfo, fmt.Sprintf("[%d/%d] %s", i+1, len(staged), item.title))

		html, err := s.source.FetchArticle(ctx, session.Cookie, item.url)
		if err != nil || html == "" {
			s.events.Log(events.TypeError, fmt.Sprintf("failed to fetch article content: %s", item.title))
			s.logger.Warn("article fetch failed", "url", item.url, "error", err)
			continue
		}

		content := html
		if doc, err := s.converter.Convert(html); err == nil {
			content = doc.Markdown
		} else {
			s.logger.Warn("conversion failed, storing raw markup", "url", item.url, "error", err)
		}

		article := &domain.Article{
			AccountID:   accountID,
			Title:       item.title,
			URL:         item.url,
			PublishTime: item.publishTime,
			Content:     content,
		}
		id, err := s.articles.Create(ctx, article)
		if err != nil {
			s.events.Log(events.TypeError, fmt.Sprintf("failed to save article: %s", item.title))
			s.logger.Error("article insert failed", "url", item.url, "error", err)
			continue
		}
		article.ID = id
		saved++
		s.events.Log(events.TypeSuccess, "saved")

		if s.publisher != nil {
			if err := s.publisher.PublishArticle(ctx, article); err != nil {
				s.logger.Warn("article publish failed", "url", item.url, "error", err)
			}
		}

		if i < len(staged)-1 {
			s.wait(ctx, s.cfg.ItemDelay)
		}
	}

	return saved, nil
}

// persistMetadataOnly stores all staged items with empty content in a single
// transaction.
func (s *Service) persistMetadataOnly(ctx context.Context, accountID int64, staged []stagedArticle) (int, error) {
	s.events.Log(events.TypeInfo, "saving article metadata")

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		for _, item := range staged {
			_, err := s.articles.Create(txCtx, &domain.Article{
				AccountID:   accountID,
				Title:       item.title,
				URL:         item.url,
				PublishTime: item.publishTime,
			})
			if err != nil {
				return fmt.Errorf("save article %s: %w", item.url, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return len(staged), nil
}
