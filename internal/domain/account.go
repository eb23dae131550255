package domain

import "time"

// PlatformWeChat is the only platform this spider currently harvests.
const PlatformWeChat = "wechat"

// Account is a tracked content publisher, unique on (name, platform).
type Account struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	Platform  string    `db:"platform"`
	CreatedAt time.Time `db:"created_at"`
}

// Article is one persisted content item, deduplicated by URL.
type Article struct {
	ID          int64     `db:"id"`
	AccountID   int64     `db:"account_id"`
	Title       string    `db:"title"`
	URL         string    `db:"url"`
	PublishTime time.Time `db:"publish_time"`
	Content     string    `db:"content"`
	CreatedAt   time.Time `db:"created_at"`
}

// Session holds the platform credentials produced by the external login flow.
// The spider only reads sessions; it never creates or refreshes them.
type Session struct {
	ID        int64     `db:"id"`
	UIN       string    `db:"uin"`
	Nickname  string    `db:"nickname"`
	Token     string    `db:"token"`
	Cookie    string    `db:"cookie"`
	IsActive  bool      `db:"is_active"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}

// Expired reports whether the session credentials are past their expiry.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
