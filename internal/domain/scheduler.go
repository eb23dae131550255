package domain

// Scheduler timing modes.
const (
	ModeInterval = "interval"
	ModeFixed    = "fixed"
)

// Interval units and fixed-mode frequencies.
const (
	UnitMinutes = "minutes"
	UnitHours   = "hours"
	UnitDays    = "days"

	FrequencyDaily  = "daily"
	FrequencyWeekly = "weekly"
)

// SchedulerConfig is the "scheduler" config record, stored as JSON in the
// config table and read-only to the scheduler.
type SchedulerConfig struct {
	Enabled       bool     `json:"enabled"`
	Mode          string   `json:"mode"`
	IntervalValue int      `json:"intervalValue"`
	IntervalUnit  string   `json:"intervalUnit"`
	Frequency     string   `json:"frequency"`
	Time          string   `json:"time"` // "HH:MM"
	WeekDays      []int    `json:"weekDays"`
	SkipIfRunning bool     `json:"skipIfRunning"`
	AccountNames  []string `json:"accountNames"`
}
