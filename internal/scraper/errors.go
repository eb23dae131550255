package scraper

import "errors"

// Per-account failure modes. Each fails that account's harvest only; the
// batch loop is never aborted by them.
var (
	ErrNoSession       = errors.New("no active session, sign in first")
	ErrSessionExpired  = errors.New("session expired, sign in again")
	ErrAccountNotFound = errors.New("account not found")
	ErrEmptyFirstPage  = errors.New("no articles returned on first page")
)
