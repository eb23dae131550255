package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// ConfigStore is a JSON key-value store for runtime-mutable settings
// (scheduler, scraper, scraperDefaults, storage).
type ConfigStore struct {
	db *sqlx.DB
}

func NewConfigStore(db *sqlx.DB) *ConfigStore {
	return &ConfigStore{db: db}
}

// Get returns the raw JSON value for a key, or nil when the key is absent.
func (s *ConfigStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value string
	query := `SELECT value FROM config WHERE key = $1`

	err := s.db.GetContext(ctx, &value, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(value), nil
}

// Set stores the JSON value for a key, replacing any previous value.
func (s *ConfigStore) Set(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO config (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = NOW()`

	_, err := s.db.ExecContext(ctx, query, key, string(value))
	return err
}
