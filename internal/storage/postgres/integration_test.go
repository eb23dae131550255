//go:build integration

package postgres

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xiaofeiwuuu/wechat-spider/internal/domain"
	"github.com/xiaofeiwuuu/wechat-spider/testdata/utils"
)

type PostgresIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *postgres.PostgresContainer
	db        *sqlx.DB
}

func (s *PostgresIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	migrationsPath, err := filepath.Abs("../../../migrations")
	s.Require().NoError(err)

	container, err := postgres.Run(s.ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.WithInitScripts(
			filepath.Join(migrationsPath, "001_init.up.sql"),
		),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	db, err := sqlx.Connect("postgres", connStr)
	s.Require().NoError(err)
	s.db = db
}

func (s *PostgresIntegrationSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresIntegrationSuite) SetupTest() {
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM articles")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM accounts")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM sessions")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM config")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM run_logs")
}

func TestPostgresIntegrationSuite(t *testing.T) {
	suite.Run(t, new(PostgresIntegrationSuite))
}

func (s *PostgresIntegrationSuite) createAccount(name string) int64 {
	store := NewAccountStore(s.db)
	id, err := store.Create(s.ctx, &domain.Account{Name: name, Platform: domain.PlatformWeChat})
	s.Require().NoError(err)
	return id
}

func (s *PostgresIntegrationSuite) TestAccountStore_GetMissingReturnsNil() {
	store := NewAccountStore(s.db)

	account, err := store.GetByNamePlatform(s.ctx, "nobody", domain.PlatformWeChat)
	s.NoError(err)
	s.Nil(account)
}

func (s *PostgresIntegrationSuite) TestAccountStore_CreateAndGet() {
	store := NewAccountStore(s.db)

	id, err := store.Create(s.ctx, &domain.Account{Name: "tech daily", Platform: domain.PlatformWeChat})
	s.NoError(err)
	s.Greater(id, int64(0))

	account, err := store.GetByNamePlatform(s.ctx, "tech daily", domain.PlatformWeChat)
	s.NoError(err)
	s.Require().NotNil(account)
	s.Equal(id, account.ID)
	s.Equal("tech daily", account.Name)
	s.Equal(domain.PlatformWeChat, account.Platform)
}

func (s *PostgresIntegrationSuite) TestAccountStore_CreateIsIdempotent() {
	store := NewAccountStore(s.db)

	id1, err := store.Create(s.ctx, &domain.Account{Name: "tech daily", Platform: domain.PlatformWeChat})
	s.NoError(err)

	id2, err := store.Create(s.ctx, &domain.Account{Name: "tech daily", Platform: domain.PlatformWeChat})
	s.NoError(err)
	s.Equal(id1, id2)

	var count int
	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM accounts")
	s.NoError(err)
	s.Equal(1, count)
}

func (s *PostgresIntegrationSuite) TestArticleStore_CreateAndExists() {
	accountID := s.createAccount("acc")
	store := NewArticleStore(s.db)
	now := time.Now().Truncate(time.Microsecond)

	exists, err := store.ExistsByURL(s.ctx, "https://mp.weixin.qq.com/s/abc")
	s.NoError(err)
	s.False(exists)

	id, err := store.Create(s.ctx, &domain.Article{
		AccountID:   accountID,
		Title:       "Test Article",
		URL:         "https://mp.weixin.qq.com/s/abc",
		PublishTime: now,
		Content:     "# Test",
	})
	s.NoError(err)
	s.Greater(id, int64(0))

	exists, err = store.ExistsByURL(s.ctx, "https://mp.weixin.qq.com/s/abc")
	s.NoError(err)
	s.True(exists)
}

func (s *PostgresIntegrationSuite) TestArticleStore_DuplicateURLRejected() {
	accountID := s.createAccount("acc")
	store := NewArticleStore(s.db)
	now := time.Now().Truncate(time.Microsecond)

	article := &domain.Article{
		AccountID:   accountID,
		Title:       "First",
		URL:         "https://mp.weixin.qq.com/s/dup",
		PublishTime: now,
	}
	_, err := store.Create(s.ctx, article)
	s.NoError(err)

	article.Title = "Second"
	_, err = store.Create(s.ctx, article)
	s.Error(err)
}

func (s *PostgresIntegrationSuite) TestArticleStore_CountSince() {
	accountID := s.createAccount("acc")
	store := NewArticleStore(s.db)
	now := time.Now().Truncate(time.Microsecond)

	for i, url := range []string{
		"https://mp.weixin.qq.com/s/one",
		"https://mp.weixin.qq.com/s/two",
	} {
		_, err := store.Create(s.ctx, &domain.Article{
			AccountID:   accountID,
			Title:       "Article",
			URL:         url,
			PublishTime: now.Add(time.Duration(i) * time.Minute),
		})
		s.NoError(err)
	}

	count, err := store.CountSince(s.ctx, now.Add(-time.Hour))
	s.NoError(err)
	s.Equal(2, count)

	count, err = store.CountSince(s.ctx, now.Add(time.Hour))
	s.NoError(err)
	s.Equal(0, count)
}

func (s *PostgresIntegrationSuite) TestSessionStore_NoActiveSession() {
	store := NewSessionStore(s.db)

	session, err := store.GetActive(s.ctx)
	s.NoError(err)
	s.Nil(session)
}

func (s *PostgresIntegrationSuite) TestSessionStore_GetActivePicksNewest() {
	store := NewSessionStore(s.db)
	expiry := time.Now().Add(24 * time.Hour)

	_, err := s.db.ExecContext(s.ctx, `
		INSERT INTO sessions (uin, nickname, token, cookie, is_active, expires_at, created_at)
		VALUES
			('uin-old', 'old', 'tok-old', 'cookie-old', TRUE, $1, NOW() - INTERVAL '1 hour'),
			('uin-new', 'new', 'tok-new', 'cookie-new', TRUE, $1, NOW()),
			('uin-off', 'off', 'tok-off', 'cookie-off', FALSE, $1, NOW())
	`, expiry)
	s.Require().NoError(err)

	session, err := store.GetActive(s.ctx)
	s.NoError(err)
	s.Require().NotNil(session)
	s.Equal("uin-new", session.UIN)
	s.Equal("tok-new", session.Token)
	s.False(session.Expired(time.Now()))
}

func (s *PostgresIntegrationSuite) TestConfigStore_GetMissingReturnsNil() {
	store := NewConfigStore(s.db)

	value, err := store.Get(s.ctx, "scheduler")
	s.NoError(err)
	s.Nil(value)
}

func (s *PostgresIntegrationSuite) TestConfigStore_SetAndGet() {
	store := NewConfigStore(s.db)

	err := store.Set(s.ctx, "scheduler", []byte(`{"enabled":true,"mode":"interval"}`))
	s.NoError(err)

	value, err := store.Get(s.ctx, "scheduler")
	s.NoError(err)
	s.JSONEq(`{"enabled":true,"mode":"interval"}`, string(value))
}

func (s *PostgresIntegrationSuite) TestConfigStore_SetReplacesValue() {
	store := NewConfigStore(s.db)

	s.NoError(store.Set(s.ctx, "scraperDefaults", []byte(`{"rangeType":"days","days":30}`)))
	s.NoError(store.Set(s.ctx, "scraperDefaults", []byte(`{"rangeType":"count","count":100}`)))

	value, err := store.Get(s.ctx, "scraperDefaults")
	s.NoError(err)
	s.JSONEq(`{"rangeType":"count","count":100}`, string(value))
}

func (s *PostgresIntegrationSuite) TestRunLogStore_CreateStartsPending() {
	store := NewRunLogStore(s.db)

	id, err := store.Create(s.ctx, []string{"a", "b"})
	s.NoError(err)
	s.NotEmpty(id)

	log, err := store.Get(s.ctx, id)
	s.NoError(err)
	s.Require().NotNil(log)
	s.Equal(domain.RunPending, log.Status)
	s.Equal(2, log.AccountCount)
	s.Equal([]string{"a", "b"}, log.AccountNames)
	s.Nil(log.EndTime)
}

func (s *PostgresIntegrationSuite) TestRunLogStore_UpdateToTerminalState() {
	store := NewRunLogStore(s.db)

	id, err := store.Create(s.ctx, []string{"a"})
	s.Require().NoError(err)

	end := time.Now().Truncate(time.Microsecond)
	err = store.Update(s.ctx, id, domain.RunLogUpdate{
		Status:        domain.RunCompleted,
		EndTime:       end,
		Duration:      42,
		SuccessCount:  1,
		FailCount:     0,
		TotalArticles: 5,
	})
	s.NoError(err)

	log, err := store.Get(s.ctx, id)
	s.NoError(err)
	s.Require().NotNil(log)
	s.Equal(domain.RunCompleted, log.Status)
	s.Equal(42, log.Duration)
	s.Equal(1, log.SuccessCount)
	s.Equal(5, log.TotalArticles)
	s.Require().NotNil(log.EndTime)
	s.WithinDuration(end, *log.EndTime, time.Second)
}

func (s *PostgresIntegrationSuite) TestRunLogStore_UpdateWithErrorMessage() {
	store := NewRunLogStore(s.db)

	id, err := store.Create(s.ctx, []string{"a"})
	s.Require().NoError(err)

	err = store.Update(s.ctx, id, domain.RunLogUpdate{
		Status:       domain.RunCancelled,
		EndTime:      time.Now(),
		ErrorMessage: utils.Ptr("previous run still active, skipped"),
	})
	s.NoError(err)

	log, err := store.Get(s.ctx, id)
	s.NoError(err)
	s.Require().NotNil(log.ErrorMessage)
	s.Contains(*log.ErrorMessage, "still active")
}

func (s *PostgresIntegrationSuite) TestRunLogStore_ListNewestFirst() {
	store := NewRunLogStore(s.db)

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := store.Create(s.ctx, []string{"a"})
		s.Require().NoError(err)
		ids = append(ids, id)
		// Separate start times so ordering is deterministic.
		_, err = s.db.ExecContext(s.ctx,
			"UPDATE run_logs SET start_time = NOW() - make_interval(mins => $2) WHERE id = $1",
			id, 3-i)
		s.Require().NoError(err)
	}

	logs, err := store.List(s.ctx, 2, 0)
	s.NoError(err)
	s.Require().Len(logs, 2)
	s.Equal(ids[2], logs[0].ID)
	s.Equal(ids[1], logs[1].ID)

	logs, err = store.List(s.ctx, 2, 2)
	s.NoError(err)
	s.Require().Len(logs, 1)
	s.Equal(ids[0], logs[0].ID)
}

func (s *PostgresIntegrationSuite) TestRunLogStore_CountByStatus() {
	store := NewRunLogStore(s.db)

	id1, err := store.Create(s.ctx, []string{"a"})
	s.Require().NoError(err)
	_, err = store.Create(s.ctx, []string{"b"})
	s.Require().NoError(err)

	s.NoError(store.Update(s.ctx, id1, domain.RunLogUpdate{
		Status:  domain.RunCompleted,
		EndTime: time.Now(),
	}))

	total, err := store.Count(s.ctx, "")
	s.NoError(err)
	s.Equal(2, total)

	completed, err := store.Count(s.ctx, domain.RunCompleted)
	s.NoError(err)
	s.Equal(1, completed)

	pending, err := store.Count(s.ctx, domain.RunPending)
	s.NoError(err)
	s.Equal(1, pending)
}

func (s *PostgresIntegrationSuite) TestRunLogStore_Stats() {
	store := NewRunLogStore(s.db)

	finalize := func(status domain.RunStatus) {
		id, err := store.Create(s.ctx, []string{"a"})
		s.Require().NoError(err)
		s.Require().NoError(store.Update(s.ctx, id, domain.RunLogUpdate{
			Status:  status,
			EndTime: time.Now(),
		}))
	}

	finalize(domain.RunCompleted)
	finalize(domain.RunCompleted)
	finalize(domain.RunFailed)

	stats, err := store.Stats(s.ctx)
	s.NoError(err)
	s.Equal(3, stats.TotalTasks)
	s.Equal(2, stats.CompletedTasks)
	s.Equal(1, stats.FailedTasks)
	s.Equal(0, stats.CancelledTasks)
	s.Equal("66.67", stats.SuccessRate)
}

func (s *PostgresIntegrationSuite) TestRunLogStore_StatsEmptyHistory() {
	store := NewRunLogStore(s.db)

	stats, err := store.Stats(s.ctx)
	s.NoError(err)
	s.Equal(0, stats.TotalTasks)
	s.Equal("0", stats.SuccessRate)
}

func (s *PostgresIntegrationSuite) TestTransaction_Commit() {
	tm := NewTransactionManager(s.db)
	articleStore := NewArticleStore(s.db)
	accountID := s.createAccount("acc")
	now := time.Now().Truncate(time.Microsecond)

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		_, err := articleStore.Create(ctx, &domain.Article{
			AccountID:   accountID,
			Title:       "Transaction Article",
			URL:         "https://mp.weixin.qq.com/s/tx",
			PublishTime: now,
		})
		return err
	})
	s.NoError(err)

	exists, err := articleStore.ExistsByURL(s.ctx, "https://mp.weixin.qq.com/s/tx")
	s.NoError(err)
	s.True(exists)
}

func (s *PostgresIntegrationSuite) TestTransaction_Rollback() {
	tm := NewTransactionManager(s.db)
	articleStore := NewArticleStore(s.db)
	accountID := s.createAccount("acc")
	now := time.Now().Truncate(time.Microsecond)

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		_, err := articleStore.Create(ctx, &domain.Article{
			AccountID:   accountID,
			Title:       "Should Rollback",
			URL:         "https://mp.weixin.qq.com/s/rollback",
			PublishTime: now,
		})
		if err != nil {
			return err
		}
		return context.Canceled
	})
	s.Error(err)

	exists, err := articleStore.ExistsByURL(s.ctx, "https://mp.weixin.qq.com/s/rollback")
	s.NoError(err)
	s.False(exists)
}
