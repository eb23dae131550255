package scraper

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"github.com/xiaofeiwuuu/wechat-spider/internal/converter"
	"github.com/xiaofeiwuuu/wechat-spider/internal/domain"
	"github.com/xiaofeiwuuu/wechat-spider/internal/wechat"
)

type AccountStore interface {
	GetByNamePlatform(ctx context.Context, name, platform string) (*domain.Account, error)
	Create(ctx context.Context, account *domain.Account) (int64, error)
}

type ArticleStore interface {
	ExistsByURL(ctx context.Context, url string) (bool, error)
	Create(ctx context.Context, article *domain.Article) (int64, error)
}

type SessionStore interface {
	GetActive(ctx context.Context) (*domain.Session, error)
}

// Source is the content platform client: search accounts, list a listing
// page, fetch one article's raw body.
type Source interface {
	SearchAccounts(ctx context.Context, token, cookie, query string) ([]wechat.AccountResult, error)
	ListArticles(ctx context.Context, token, cookie, fakeID string, begin int) ([]wechat.ListItem, error)
	FetchArticle(ctx context.Context, cookie, url string) (string, error)
}

// Converter renders raw article markup into the portable document form.
type Converter interface {
	Convert(html string) (*converter.Document, error)
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// ArticlePublisher forwards persisted articles to the external queue.
// Optional; a nil publisher disables forwarding.
type ArticlePublisher interface {
	PublishArticle(ctx context.Context, article *domain.Article) error
}
