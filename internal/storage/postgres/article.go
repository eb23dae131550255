package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/xiaofeiwuuu/wechat-spider/internal/domain"
)

type ArticleStore struct {
	db *sqlx.DB
}

func NewArticleStore(db *sqlx.DB) *ArticleStore {
	return &ArticleStore{db: db}
}

// ExistsByURL reports whether an article with the given URL has already been
// persisted. URL is the sole de-duplication key.
func (s *ArticleStore) ExistsByURL(ctx context.Context, url string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM articles WHERE url = $1)`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &exists, query, url)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// Create inserts a new article row and returns its id. Runs inside the
// context transaction when one is present.
func (s *ArticleStore) Create(ctx context.Context, article *domain.Article) (int64, error) {
	query := `
		INSERT INTO articles (account_id, title, url, publish_time, content)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	var id int64
	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		article.AccountID,
		article.Title,
		article.URL,
		article.PublishTime,
		article.Content,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// CountSince counts articles persisted after the given instant.
func (s *ArticleStore) CountSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM articles WHERE created_at >= $1`

	err := s.db.GetContext(ctx, &count, query, since)
	if err != nil {
		return 0, err
	}
	return count, nil
}
