package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/xiaofeiwuuu/wechat-spider/internal/domain"
)

type SessionStore struct {
	db *sqlx.DB
}

func NewSessionStore(db *sqlx.DB) *SessionStore {
	return &SessionStore{db: db}
}

// GetActive returns the currently active session, or nil when nobody is
// signed in. Expiry is the caller's concern; the row is returned as stored.
func (s *SessionStore) GetActive(ctx context.Context) (*domain.Session, error) {
	var session domain.Session
	query := `
		SELECT id, uin, nickname, token, cookie, is_active, expires_at, created_at
		FROM sessions
		WHERE is_active = TRUE
		ORDER BY created_at DESC
		LIMIT 1`

	err := s.db.GetContext(ctx, &session, query)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}
