package domain

// Options bounds a single harvest invocation. Days and Limit are mutually
// exclusive; when both are zero the harvest is bounded only by MaxPages.
type Options struct {
	MaxPages       int
	IncludeContent bool
	Days           int
	Limit          int
}

// Outcome is the per-account result of a harvest.
type Outcome struct {
	Name         string `json:"name"`
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
	ArticleCount int    `json:"articleCount"`
}

// ScrapeDefaults is the "scraperDefaults" config record: the range applied to
// scheduled runs. RangeType selects which bound is active.
type ScrapeDefaults struct {
	RangeType string `json:"rangeType"` // "days", "count" or "all"
	Days      int    `json:"days"`
	Count     int    `json:"count"`
}

// ScraperSettings is the "scraper" config record.
type ScraperSettings struct {
	MaxPages int `json:"maxPages"`
}
