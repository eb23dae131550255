package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/xiaofeiwuuu/wechat-spider/internal/domain"
)

type AccountStore struct {
	db *sqlx.DB
}

func NewAccountStore(db *sqlx.DB) *AccountStore {
	return &AccountStore{db: db}
}

// GetByNamePlatform returns the account for (name, platform), or nil when no
// such account exists.
func (s *AccountStore) GetByNamePlatform(ctx context.Context, name, platform string) (*domain.Account, error) {
	var account domain.Account
	query := `
		SELECT id, name, platform, created_at
		FROM accounts
		WHERE name = $1 AND platform = $2`

	err := s.db.GetContext(ctx, &account, query, name, platform)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// Create inserts a new account row and returns its id.
func (s *AccountStore) Create(ctx context.Context, account *domain.Account) (int64, error) {
	query := `
		INSERT INTO accounts (name, platform)
		VALUES ($1, $2)
		ON CONFLICT (name, platform) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`

	var id int64
	err := s.db.QueryRowContext(ctx, query, account.Name, account.Platform).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}
