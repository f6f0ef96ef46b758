// Package memory provides an in-memory implementation of storage.Storer.
//
// It backs the "memory" database driver and the scheduler, API and watchlist
// tests. Data does not survive a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"urlwatch/internal/models"
	"urlwatch/internal/storage"
)

// MemoryStore implements storage.Storer in process memory.
//
// MemoryStore is safe for concurrent use. Returned values are copies;
// modifying them does not affect the store.
type MemoryStore struct {
	mu     sync.RWMutex
	items  map[int64]models.WatchItem
	log    map[int64][]models.CheckLogEntry
	nextID int64
	nextLg int64
	writes int
}

// New creates an empty MemoryStore.
func New() *MemoryStore {
	return &MemoryStore{
		items: make(map[int64]models.WatchItem),
		log:   make(map[int64][]models.CheckLogEntry),
	}
}

// Ping implements storage.Storer. It never fails.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close implements storage.Storer.
func (s *MemoryStore) Close() error { return nil }

// Writes returns how many check results were recorded so far.
func (s *MemoryStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// CreateWatchItem implements storage.WatchStore.
func (s *MemoryStore) CreateWatchItem(ctx context.Context, item *models.WatchItem) (*models.WatchItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	created := cloneItem(*item)
	created.ID = s.nextID
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}
	s.items[created.ID] = created

	out := cloneItem(created)
	return &out, nil
}

// GetWatchItem implements storage.WatchStore.
func (s *MemoryStore) GetWatchItem(ctx context.Context, id int64) (*models.WatchItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := cloneItem(item)
	return &out, nil
}

// ListWatchItems implements storage.WatchStore.
func (s *MemoryStore) ListWatchItems(ctx context.Context) ([]models.WatchItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]models.WatchItem, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, cloneItem(item))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

// UpdateWatchItem implements storage.WatchStore.
func (s *MemoryStore) UpdateWatchItem(ctx context.Context, id int64, upd storage.WatchItemUpdate) (*models.WatchItem, error) {
	if upd.Empty() {
		return nil, storage.ErrNothingToUpdate
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if upd.Enabled != nil {
		item.Enabled = *upd.Enabled
	}
	if upd.IntervalSeconds != nil {
		item.IntervalSeconds = *upd.IntervalSeconds
	}
	switch {
	case upd.ClearPattern:
		item.ContentPattern = nil
	case upd.ContentPattern != nil:
		p := *upd.ContentPattern
		item.ContentPattern = &p
	}
	s.items[id] = item

	out := cloneItem(item)
	return &out, nil
}

// DeleteWatchItem implements storage.WatchStore. The item's check log goes with it.
func (s *MemoryStore) DeleteWatchItem(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.items, id)
	delete(s.log, id)
	return nil
}

// ListCheckLog implements storage.WatchStore.
func (s *MemoryStore) ListCheckLog(ctx context.Context, params storage.ListCheckLogParams) ([]models.CheckLogEntry, error) {
	if params.Limit <= 0 {
		params.Limit = storage.DefaultCheckLogLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.log[params.WatchItemID]
	var out []models.CheckLogEntry
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if params.Since != nil && !e.Start.After(*params.Since) {
			continue
		}
		out = append(out, e)
		if len(out) == params.Limit {
			break
		}
	}
	return out, nil
}

// FetchDue implements storage.CheckStore.
func (s *MemoryStore) FetchDue(ctx context.Context, now time.Time, window time.Duration) ([]models.DueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []models.DueItem
	for _, item := range s.items {
		if !item.Enabled || !storage.IsDue(item.LastStart, item.Interval(), now, window) {
			continue
		}
		d := models.DueItem{ID: item.ID, URL: item.URL}
		if item.ContentPattern != nil {
			p := *item.ContentPattern
			d.ContentPattern = &p
		}
		if item.LastStart != nil {
			runAt := item.DueAt()
			d.RunAt = &runAt
		}
		due = append(due, d)
	}

	sort.Slice(due, func(i, j int) bool {
		a, b := due[i], due[j]
		switch {
		case a.RunAt == nil && b.RunAt == nil:
			return a.ID < b.ID
		case a.RunAt == nil:
			return true
		case b.RunAt == nil:
			return false
		case a.RunAt.Equal(*b.RunAt):
			return a.ID < b.ID
		default:
			return a.RunAt.Before(*b.RunAt)
		}
	})
	return due, nil
}

// RecordCheck implements storage.CheckStore.
func (s *MemoryStore) RecordCheck(ctx context.Context, itemID int64, start, end time.Time, result models.CheckResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return storage.ErrNotFound
	}

	s.nextLg++
	s.log[itemID] = append(s.log[itemID], models.CheckLogEntry{
		ID:          s.nextLg,
		WatchItemID: itemID,
		Start:       start,
		End:         end,
		CheckResult: result,
	})
	s.writes++

	item.LastStart = &start
	item.LastEnd = &end
	s.items[itemID] = item
	return nil
}

func cloneItem(item models.WatchItem) models.WatchItem {
	if item.ContentPattern != nil {
		p := *item.ContentPattern
		item.ContentPattern = &p
	}
	if item.LastStart != nil {
		t := *item.LastStart
		item.LastStart = &t
	}
	if item.LastEnd != nil {
		t := *item.LastEnd
		item.LastEnd = &t
	}
	return item
}
