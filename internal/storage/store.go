package storage

import (
	"context"
	"errors"
	"time"

	"urlwatch/internal/models"
)

var (
	// ErrNotFound is returned when a requested resource is not found
	ErrNotFound = errors.New("not found")
	// ErrNothingToUpdate is returned when an update carries no changes
	ErrNothingToUpdate = errors.New("nothing to update")
)

// WatchItemUpdate lists the fields to change on a watch item. Nil fields are left untouched.
type WatchItemUpdate struct {
	Enabled         *bool
	IntervalSeconds *int
	ContentPattern  *string
	ClearPattern    bool // sets the content pattern to null, wins over ContentPattern
}

// Empty reports whether the update carries no changes.
func (u WatchItemUpdate) Empty() bool {
	return u.Enabled == nil && u.IntervalSeconds == nil && u.ContentPattern == nil && !u.ClearPattern
}

// DefaultCheckLogLimit is used when ListCheckLogParams.Limit is not positive.
const DefaultCheckLogLimit = 100

// ListCheckLogParams contains parameters for listing the check log of a watch item
type ListCheckLogParams struct {
	WatchItemID int64
	Since       *time.Time
	Limit       int
}

// CheckStore is the store surface consumed by the scheduler.
type CheckStore interface {
	// FetchDue returns enabled items that never ran or become due before now+window,
	// never-run items first, then ordered by their target run time.
	FetchDue(ctx context.Context, now time.Time, window time.Duration) ([]models.DueItem, error)
	// RecordCheck appends a check log entry and updates the item's last_start/last_end.
	RecordCheck(ctx context.Context, itemID int64, start, end time.Time, result models.CheckResult) error
}

// WatchStore defines record management and inspection of watch items and their check log
type WatchStore interface {
	CreateWatchItem(ctx context.Context, item *models.WatchItem) (*models.WatchItem, error)
	GetWatchItem(ctx context.Context, id int64) (*models.WatchItem, error)
	ListWatchItems(ctx context.Context) ([]models.WatchItem, error)
	UpdateWatchItem(ctx context.Context, id int64, upd WatchItemUpdate) (*models.WatchItem, error)
	DeleteWatchItem(ctx context.Context, id int64) error

	ListCheckLog(ctx context.Context, params ListCheckLogParams) ([]models.CheckLogEntry, error)
}

// Storer is implemented by every storage backend.
type Storer interface {
	CheckStore
	WatchStore

	Ping(ctx context.Context) error
	Close() error
}

// IsDue reports whether an item that last started at lastStart falls into the
// scheduling window ending at now+window.
func IsDue(lastStart *time.Time, interval time.Duration, now time.Time, window time.Duration) bool {
	if lastStart == nil {
		return true
	}
	return lastStart.Before(now.Add(window).Add(-interval))
}
