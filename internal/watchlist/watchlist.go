// Package watchlist manages watch items on behalf of the CLI and the API,
// validating input before it reaches the store.
package watchlist

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"urlwatch/internal/models"
	"urlwatch/internal/storage"
	"urlwatch/internal/urlutil"
)

const (
	// MaxIntervalSeconds is the longest cadence a watch item may have.
	MaxIntervalSeconds = 300
	// MaxCheckLogLimit caps how many check log entries one call returns.
	MaxCheckLogLimit = 1000
)

// ValidationError lists the invalid fields of a request and why they are invalid.
type ValidationError struct {
	Problems map[string]string
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Problems))
	for field := range e.Problems {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var b strings.Builder
	b.WriteString("invalid watch item:")
	for _, field := range fields {
		fmt.Fprintf(&b, " %s: %s;", field, e.Problems[field])
	}
	return strings.TrimSuffix(b.String(), ";")
}

func (e *ValidationError) Is(other error) bool {
	_, ok := other.(*ValidationError)
	return ok
}

// NewItem is the input for Add. An empty ContentPattern means no content check.
type NewItem struct {
	URL             string
	IntervalSeconds int
	ContentPattern  string
}

// Update is the input for Service.Update. Nil fields are left untouched.
type Update struct {
	Enabled         *bool
	IntervalSeconds *int
	ContentPattern  *string
	RemovePattern   bool
}

// Service provides validated access to watch items.
type Service struct {
	store       storage.WatchStore
	minInterval int
}

// NewService creates a Service. minInterval is the shortest allowed item interval in seconds.
func NewService(store storage.WatchStore, minInterval int) *Service {
	if minInterval < 1 {
		minInterval = 1
	}
	return &Service{store: store, minInterval: minInterval}
}

// MinInterval returns the shortest allowed item interval in seconds.
func (s *Service) MinInterval() int { return s.minInterval }

// Add validates and stores a new, enabled watch item.
func (s *Service) Add(ctx context.Context, in NewItem) (*models.WatchItem, error) {
	problems := map[string]string{}

	normalized, err := urlutil.Normalize(in.URL)
	if err != nil {
		problems["url"] = err.Error()
	}
	if p := s.checkInterval(in.IntervalSeconds); p != "" {
		problems["interval"] = p
	}

	item := &models.WatchItem{URL: normalized, IntervalSeconds: in.IntervalSeconds, Enabled: true}
	if pattern := strings.TrimSpace(in.ContentPattern); pattern != "" {
		if err := ValidatePattern(pattern); err != nil {
			problems["content_pattern"] = err.Error()
		}
		item.ContentPattern = &pattern
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	created, err := s.store.CreateWatchItem(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("failed to add watch item: %w", err)
	}
	return created, nil
}

// Update validates and applies changes to a watch item. An update without
// changes returns storage.ErrNothingToUpdate.
func (s *Service) Update(ctx context.Context, id int64, upd Update) (*models.WatchItem, error) {
	problems := map[string]string{}
	change := storage.WatchItemUpdate{
		Enabled:      upd.Enabled,
		ClearPattern: upd.RemovePattern,
	}

	if upd.IntervalSeconds != nil {
		if p := s.checkInterval(*upd.IntervalSeconds); p != "" {
			problems["interval"] = p
		}
		change.IntervalSeconds = upd.IntervalSeconds
	}

	if upd.ContentPattern != nil {
		pattern := strings.TrimSpace(*upd.ContentPattern)
		switch {
		case upd.RemovePattern:
			problems["content_pattern"] = "cannot set and remove the pattern at once"
		case pattern == "":
			problems["content_pattern"] = "must not be empty, remove it instead"
		default:
			if err := ValidatePattern(pattern); err != nil {
				problems["content_pattern"] = err.Error()
			}
			change.ContentPattern = &pattern
		}
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	if change.Empty() {
		return nil, storage.ErrNothingToUpdate
	}

	item, err := s.store.UpdateWatchItem(ctx, id, change)
	if err != nil {
		return nil, fmt.Errorf("failed to update watch item %d: %w", id, err)
	}
	return item, nil
}

// Remove deletes a watch item and its check log.
func (s *Service) Remove(ctx context.Context, id int64) error {
	if err := s.store.DeleteWatchItem(ctx, id); err != nil {
		return fmt.Errorf("failed to remove watch item %d: %w", id, err)
	}
	return nil
}

// Get returns one watch item.
func (s *Service) Get(ctx context.Context, id int64) (*models.WatchItem, error) {
	item, err := s.store.GetWatchItem(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get watch item %d: %w", id, err)
	}
	return item, nil
}

// List returns every watch item ordered by id.
func (s *Service) List(ctx context.Context) ([]models.WatchItem, error) {
	items, err := s.store.ListWatchItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list watch items: %w", err)
	}
	return items, nil
}

// Checks returns the newest check log entries of a watch item, started after
// since when given. limit is clamped to [1, MaxCheckLogLimit]; zero selects the default.
func (s *Service) Checks(ctx context.Context, id int64, limit int, since *time.Time) ([]models.CheckLogEntry, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	switch {
	case limit <= 0:
		limit = storage.DefaultCheckLogLimit
	case limit > MaxCheckLogLimit:
		limit = MaxCheckLogLimit
	}

	entries, err := s.store.ListCheckLog(ctx, storage.ListCheckLogParams{WatchItemID: id, Since: since, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to list checks of watch item %d: %w", id, err)
	}
	return entries, nil
}

func (s *Service) checkInterval(seconds int) string {
	if seconds < s.minInterval || seconds > MaxIntervalSeconds {
		return fmt.Sprintf("must be between %d and %d seconds", s.minInterval, MaxIntervalSeconds)
	}
	return ""
}

// ValidatePattern reports whether pattern compiles the way probes compile it.
func ValidatePattern(pattern string) error {
	if _, err := regexp.Compile("(?ms)" + pattern); err != nil {
		return fmt.Errorf("invalid regular expression: %w", err)
	}
	return nil
}
