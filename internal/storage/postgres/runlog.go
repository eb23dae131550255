package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/xiaofeiwuuu/wechat-spider/internal/domain"
)

type RunLogStore struct {
	db *sqlx.DB
}

func NewRunLogStore(db *sqlx.DB) *RunLogStore {
	return &RunLogStore{db: db}
}

type runLogRow struct {
	ID            string     `db:"id"`
	StartTime     time.Time  `db:"start_time"`
	EndTime       *time.Time `db:"end_time"`
	Status        string     `db:"status"`
	AccountCount  int        `db:"account_count"`
	AccountNames  string     `db:"account_names"`
	SuccessCount  int        `db:"success_count"`
	FailCount     int        `db:"fail_count"`
	TotalArticles int        `db:"total_articles"`
	ErrorMessage  *string    `db:"error_message"`
	Duration      int        `db:"duration"`
	CreatedAt     time.Time  `db:"created_at"`
}

func (r runLogRow) toDomain() (domain.RunLog, error) {
	var names []string
	if r.AccountNames != "" {
		if err := json.Unmarshal([]byte(r.AccountNames), &names); err != nil {
			return domain.RunLog{}, fmt.Errorf("decode account names: %w", err)
		}
	}
	return domain.RunLog{
		ID:            r.ID,
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		Status:        domain.RunStatus(r.Status),
		AccountCount:  r.AccountCount,
		AccountNames:  names,
		SuccessCount:  r.SuccessCount,
		FailCount:     r.FailCount,
		TotalArticles: r.TotalArticles,
		ErrorMessage:  r.ErrorMessage,
		Duration:      r.Duration,
		CreatedAt:     r.CreatedAt,
	}, nil
}

// Create inserts a new pending run log and returns its id.
func (s *RunLogStore) Create(ctx context.Context, accountNames []string) (string, error) {
	names, err := json.Marshal(accountNames)
	if err != nil {
		return "", fmt.Errorf("encode account names: %w", err)
	}

	id := uuid.NewString()
	query := `
		INSERT INTO run_logs (id, status, account_count, account_names)
		VALUES ($1, $2, $3, $4)`

	_, err = s.db.ExecContext(ctx, query, id, domain.RunPending, len(accountNames), string(names))
	if err != nil {
		return "", err
	}
	return id, nil
}

// Update transitions a run log to a terminal state.
func (s *RunLogStore) Update(ctx context.Context, id string, upd domain.RunLogUpdate) error {
	query := `
		UPDATE run_logs SET
			status = $2,
			end_time = $3,
			duration = $4,
			success_count = $5,
			fail_count = $6,
			total_articles = $7,
			error_message = $8
		WHERE id = $1`

	_, err := s.db.ExecContext(ctx, query,
		id,
		upd.Status,
		upd.EndTime,
		upd.Duration,
		upd.SuccessCount,
		upd.FailCount,
		upd.TotalArticles,
		upd.ErrorMessage,
	)
	return err
}

// Get returns one run log by id, or nil when absent.
func (s *RunLogStore) Get(ctx context.Context, id string) (*domain.RunLog, error) {
	var row runLogRow
	query := `
		SELECT id, start_time, end_time, status, account_count, account_names,
			success_count, fail_count, total_articles, error_message, duration, created_at
		FROM run_logs
		WHERE id = $1`

	err := s.db.GetContext(ctx, &row, query, id)
	if err != nil {
		return nil, err
	}
	log, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// List returns run logs ordered by start time descending.
func (s *RunLogStore) List(ctx context.Context, limit, offset int) ([]domain.RunLog, error) {
	var rows []runLogRow
	query := `
		SELECT id, start_time, end_time, status, account_count, account_names,
			success_count, fail_count, total_articles, error_message, duration, created_at
		FROM run_logs
		ORDER BY start_time DESC
		LIMIT $1 OFFSET $2`

	if err := s.db.SelectContext(ctx, &rows, query, limit, offset); err != nil {
		return nil, err
	}

	logs := make([]domain.RunLog, 0, len(rows))
	for _, row := range rows {
		log, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, nil
}

// Count counts run logs, optionally filtered by status ("" counts all).
func (s *RunLogStore) Count(ctx context.Context, status domain.RunStatus) (int, error) {
	var count int
	if status == "" {
		err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM run_logs`)
		return count, err
	}
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM run_logs WHERE status = $1`, status)
	return count, err
}

// Stats aggregates run-log history.
func (s *RunLogStore) Stats(ctx context.Context) (*domain.RunStats, error) {
	var counts struct {
		Total     int `db:"total"`
		Completed int `db:"completed"`
		Failed    int `db:"failed"`
		Cancelled int `db:"cancelled"`
	}
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'completed') AS completed,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed,
			COUNT(*) FILTER (WHERE status = 'cancelled') AS cancelled
		FROM run_logs`

	if err := s.db.GetContext(ctx, &counts, query); err != nil {
		return nil, err
	}

	return &domain.RunStats{
		TotalTasks:     counts.Total,
		CompletedTasks: counts.Completed,
		FailedTasks:    counts.Failed,
		CancelledTasks: counts.Cancelled,
		SuccessRate:    domain.ComputeSuccessRate(counts.Completed, counts.Total),
	}, nil
}
