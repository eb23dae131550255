package domain

import (
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of a scheduled run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// RunLog is one durable record of a scheduled execution. It is created in
// pending state when the countdown begins and transitions exactly once to a
// terminal state.
type RunLog struct {
	ID            string     `db:"id"`
	StartTime     time.Time  `db:"start_time"`
	EndTime       *time.Time `db:"end_time"`
	Status        RunStatus  `db:"status"`
	AccountCount  int        `db:"account_count"`
	AccountNames  []string   `db:"-"`
	SuccessCount  int        `db:"success_count"`
	FailCount     int        `db:"fail_count"`
	TotalArticles int        `db:"total_articles"`
	ErrorMessage  *string    `db:"error_message"`
	Duration      int        `db:"duration"`
	CreatedAt     time.Time  `db:"created_at"`
}

// RunLogUpdate is the field set applied when a run reaches a terminal state.
type RunLogUpdate struct {
	Status        RunStatus
	EndTime       time.Time
	Duration      int
	SuccessCount  int
	FailCount     int
	TotalArticles int
	ErrorMessage  *string
}

// RunStats aggregates run-log history for the dashboard.
type RunStats struct {
	TotalTasks     int    `json:"totalTasks"`
	CompletedTasks int    `json:"completedTasks"`
	FailedTasks    int    `json:"failedTasks"`
	CancelledTasks int    `json:"cancelledTasks"`
	SuccessRate    string `json:"successRate"`
}

// ComputeSuccessRate returns completed/total*100 with two decimals, "0" when
// no runs have been recorded yet.
func ComputeSuccessRate(completed, total int) string {
	if total == 0 {
		return "0"
	}
	return fmt.Sprintf("%.2f", float64(completed)/float64(total)*100)
}
