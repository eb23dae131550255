package scheduler

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"github.com/xiaofeiwuuu/wechat-spider/internal/domain"
)

// CrawlEngine is the harvest pipeline the scheduler triggers. Stop sets the
// engine's cooperative cancellation flag.
type CrawlEngine interface {
	ScrapeAccounts(ctx context.Context, accountNames []string, opts domain.Options) []domain.Outcome
	Stop()
}

type RunLogStore interface {
	Create(ctx context.Context, accountNames []string) (string, error)
	Update(ctx context.Context, id string, upd domain.RunLogUpdate) error
	List(ctx context.Context, limit, offset int) ([]domain.RunLog, error)
	Stats(ctx context.Context) (*domain.RunStats, error)
}

type ConfigStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
}
