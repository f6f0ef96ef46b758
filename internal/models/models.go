package models

import "time"

// NotMeasured marks a phase timing that was never reached during a check.
const NotMeasured int64 = -1

// WatchItem represents a URL registered for periodic checking.
type WatchItem struct {
	ID              int64      `json:"id"`
	URL             string     `json:"url"`
	IntervalSeconds int        `json:"interval_seconds"`
	ContentPattern  *string    `json:"content_pattern"` // Pointer to allow for null when no pattern is set
	Enabled         bool       `json:"enabled"`
	LastStart       *time.Time `json:"last_start"` // nil until the first check ran
	LastEnd         *time.Time `json:"last_end"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Interval returns the item's check cadence as a duration.
func (w WatchItem) Interval() time.Duration {
	return time.Duration(w.IntervalSeconds) * time.Second
}

// DueAt reports when the item should be checked next.
// Items that never ran are due at the zero time, i.e. immediately.
func (w WatchItem) DueAt() time.Time {
	if w.LastStart == nil {
		return time.Time{}
	}
	return w.LastStart.Add(w.Interval())
}

// DueItem is a watch item selected by the scheduler for the upcoming tick.
type DueItem struct {
	ID             int64
	URL            string
	ContentPattern *string
	RunAt          *time.Time // nil for items that never ran
}

// CheckResult stores the outcome of a single probe.
type CheckResult struct {
	ConnectionMS int64   `json:"connection_ms"`
	TTFBMS       int64   `json:"ttfb_ms"`
	ResponseMS   int64   `json:"response_ms"`
	StatusCode   *int    `json:"status_code"`   // Pointer to allow for null on transport errors
	ContentMatch *bool   `json:"content_match"` // nil when no pattern was checked
	ErrorMessage *string `json:"error_message"` // Pointer to allow for null on success
}

// NewCheckResult returns a result with every phase marked as not measured.
func NewCheckResult() CheckResult {
	return CheckResult{
		ConnectionMS: NotMeasured,
		TTFBMS:       NotMeasured,
		ResponseMS:   NotMeasured,
	}
}

// Failed reports whether the check recorded an error.
func (r CheckResult) Failed() bool {
	return r.ErrorMessage != nil
}

// CheckLogEntry is one persisted check result for a watch item.
type CheckLogEntry struct {
	ID          int64     `json:"id"`
	WatchItemID int64     `json:"watch_id"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	CheckResult
}
