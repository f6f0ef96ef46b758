// Package storagetest holds the behaviour every storage.Storer backend must share.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"urlwatch/internal/models"
	"urlwatch/internal/storage"
)

// Run exercises a fresh, empty store returned by newStore.
func Run(t *testing.T, newStore func(t *testing.T) storage.Storer) {
	t.Run("create and retrieve watch item", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		pattern := "ok"
		created, err := store.CreateWatchItem(ctx, &models.WatchItem{
			URL:             "https://example.com/health",
			IntervalSeconds: 30,
			ContentPattern:  &pattern,
			Enabled:         true,
		})
		if err != nil {
			t.Fatalf("failed to create watch item: %v", err)
		}
		if created.ID == 0 {
			t.Fatal("expected a store assigned id")
		}

		got, err := store.GetWatchItem(ctx, created.ID)
		if err != nil {
			t.Fatalf("failed to get watch item: %v", err)
		}
		if got.URL != "https://example.com/health" || got.IntervalSeconds != 30 || !got.Enabled {
			t.Errorf("unexpected watch item: %+v", got)
		}
		if got.ContentPattern == nil || *got.ContentPattern != "ok" {
			t.Errorf("expected content pattern ok, got %v", got.ContentPattern)
		}
		if got.LastStart != nil || got.LastEnd != nil {
			t.Error("expected new watch item to never have run")
		}
	})

	t.Run("missing watch item", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		if _, err := store.GetWatchItem(ctx, 4242); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound from get, got %v", err)
		}
		if err := store.DeleteWatchItem(ctx, 4242); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound from delete, got %v", err)
		}
		enabled := false
		if _, err := store.UpdateWatchItem(ctx, 4242, storage.WatchItemUpdate{Enabled: &enabled}); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound from update, got %v", err)
		}
	})

	t.Run("update watch item", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		item := mustCreate(t, store, "https://example.com", 10, true)

		if _, err := store.UpdateWatchItem(ctx, item.ID, storage.WatchItemUpdate{}); !errors.Is(err, storage.ErrNothingToUpdate) {
			t.Errorf("expected ErrNothingToUpdate, got %v", err)
		}

		enabled := false
		interval := 60
		pattern := "Request fulfilled"
		updated, err := store.UpdateWatchItem(ctx, item.ID, storage.WatchItemUpdate{
			Enabled:         &enabled,
			IntervalSeconds: &interval,
			ContentPattern:  &pattern,
		})
		if err != nil {
			t.Fatalf("failed to update watch item: %v", err)
		}
		if updated.Enabled || updated.IntervalSeconds != 60 {
			t.Errorf("update not applied: %+v", updated)
		}
		if updated.ContentPattern == nil || *updated.ContentPattern != pattern {
			t.Errorf("expected pattern %q, got %v", pattern, updated.ContentPattern)
		}

		cleared, err := store.UpdateWatchItem(ctx, item.ID, storage.WatchItemUpdate{ClearPattern: true})
		if err != nil {
			t.Fatalf("failed to clear pattern: %v", err)
		}
		if cleared.ContentPattern != nil {
			t.Errorf("expected pattern to be cleared, got %q", *cleared.ContentPattern)
		}
	})

	t.Run("list and delete watch items", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		first := mustCreate(t, store, "https://a.example.com", 10, true)
		second := mustCreate(t, store, "https://b.example.com", 10, true)

		items, err := store.ListWatchItems(ctx)
		if err != nil {
			t.Fatalf("failed to list watch items: %v", err)
		}
		if len(items) != 2 || items[0].ID != first.ID || items[1].ID != second.ID {
			t.Fatalf("expected items ordered by id, got %+v", items)
		}

		if err := store.DeleteWatchItem(ctx, first.ID); err != nil {
			t.Fatalf("failed to delete watch item: %v", err)
		}
		items, _ = store.ListWatchItems(ctx)
		if len(items) != 1 || items[0].ID != second.ID {
			t.Errorf("expected only the second item to remain, got %+v", items)
		}
	})

	t.Run("fetch due orders never run first", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Millisecond)
		window := 10 * time.Second

		late := mustCreate(t, store, "https://late.example.com", 30, true)
		early := mustCreate(t, store, "https://early.example.com", 30, true)
		fresh := mustCreate(t, store, "https://fresh.example.com", 30, true)
		notYet := mustCreate(t, store, "https://notyet.example.com", 30, true)
		disabled := mustCreate(t, store, "https://disabled.example.com", 30, false)

		// due 5s from now, inside the window
		mustRecord(t, store, late.ID, now.Add(-25*time.Second))
		// overdue by 10s
		mustRecord(t, store, early.ID, now.Add(-40*time.Second))
		// due 20s from now, outside the window
		mustRecord(t, store, notYet.ID, now.Add(-10*time.Second))

		due, err := store.FetchDue(ctx, now, window)
		if err != nil {
			t.Fatalf("failed to fetch due items: %v", err)
		}

		var ids []int64
		for _, d := range due {
			ids = append(ids, d.ID)
		}
		want := []int64{fresh.ID, early.ID, late.ID}
		if len(ids) != len(want) {
			t.Fatalf("expected due ids %v, got %v", want, ids)
		}
		for i := range want {
			if ids[i] != want[i] {
				t.Fatalf("expected due ids %v, got %v", want, ids)
			}
		}
		for _, d := range due {
			if d.ID == disabled.ID {
				t.Error("disabled item must never be due")
			}
		}

		if due[0].RunAt != nil {
			t.Error("never run item must not carry a run time")
		}
		wantRunAt := now.Add(5 * time.Second)
		if due[2].RunAt == nil || !due[2].RunAt.Equal(wantRunAt) {
			t.Errorf("expected run at %v, got %v", wantRunAt, due[2].RunAt)
		}
	})

	t.Run("fetch due with nothing due", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		item := mustCreate(t, store, "https://example.com", 60, true)
		mustRecord(t, store, item.ID, now)

		due, err := store.FetchDue(ctx, now, time.Second)
		if err != nil {
			t.Fatalf("failed to fetch due items: %v", err)
		}
		if len(due) != 0 {
			t.Errorf("expected no due items, got %+v", due)
		}
	})

	t.Run("record check appends log and updates item", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		item := mustCreate(t, store, "https://example.com", 10, true)

		start := time.Now().UTC().Truncate(time.Millisecond)
		end := start.Add(120 * time.Millisecond)
		code := 200
		match := true
		ok := models.CheckResult{ConnectionMS: 10, TTFBMS: 20, ResponseMS: 120, StatusCode: &code, ContentMatch: &match}
		if err := store.RecordCheck(ctx, item.ID, start, end, ok); err != nil {
			t.Fatalf("failed to record check: %v", err)
		}

		msg := "connection refused"
		failed := models.NewCheckResult()
		failed.ErrorMessage = &msg
		if err := store.RecordCheck(ctx, item.ID, end.Add(time.Second), end.Add(2*time.Second), failed); err != nil {
			t.Fatalf("failed to record failed check: %v", err)
		}

		got, err := store.GetWatchItem(ctx, item.ID)
		if err != nil {
			t.Fatalf("failed to get watch item: %v", err)
		}
		if got.LastStart == nil || !got.LastStart.Equal(end.Add(time.Second)) {
			t.Errorf("expected last_start %v, got %v", end.Add(time.Second), got.LastStart)
		}
		if got.LastEnd == nil || !got.LastEnd.Equal(end.Add(2*time.Second)) {
			t.Errorf("expected last_end %v, got %v", end.Add(2*time.Second), got.LastEnd)
		}

		entries, err := store.ListCheckLog(ctx, storage.ListCheckLogParams{WatchItemID: item.ID, Limit: 10})
		if err != nil {
			t.Fatalf("failed to list check log: %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("expected 2 check log entries, got %d", len(entries))
		}
		newest, oldest := entries[0], entries[1]
		if newest.StatusCode != nil || newest.ErrorMessage == nil || *newest.ErrorMessage != msg {
			t.Errorf("unexpected failed entry: %+v", newest)
		}
		if newest.ConnectionMS != models.NotMeasured || newest.ResponseMS != models.NotMeasured {
			t.Errorf("expected unmeasured phases on failed entry, got %+v", newest)
		}
		if oldest.StatusCode == nil || *oldest.StatusCode != 200 || oldest.ResponseMS != 120 {
			t.Errorf("unexpected successful entry: %+v", oldest)
		}
		if oldest.ContentMatch == nil || !*oldest.ContentMatch {
			t.Errorf("expected content match true, got %v", oldest.ContentMatch)
		}
		if !oldest.Start.Equal(start) || !oldest.End.Equal(end) {
			t.Errorf("expected start/end %v/%v, got %v/%v", start, end, oldest.Start, oldest.End)
		}

		since := start
		recent, err := store.ListCheckLog(ctx, storage.ListCheckLogParams{WatchItemID: item.ID, Since: &since, Limit: 10})
		if err != nil {
			t.Fatalf("failed to list check log since: %v", err)
		}
		if len(recent) != 1 {
			t.Errorf("expected 1 entry after %v, got %d", since, len(recent))
		}
	})

	t.Run("record check for unknown item", func(t *testing.T) {
		store := newStore(t)
		now := time.Now()
		if err := store.RecordCheck(context.Background(), 4242, now, now, models.NewCheckResult()); err == nil {
			t.Error("expected an error recording a check for an unknown item")
		}
	})
}

func mustCreate(t *testing.T, store storage.Storer, url string, interval int, enabled bool) *models.WatchItem {
	t.Helper()
	item, err := store.CreateWatchItem(context.Background(), &models.WatchItem{URL: url, IntervalSeconds: interval, Enabled: enabled})
	if err != nil {
		t.Fatalf("failed to create watch item %s: %v", url, err)
	}
	return item
}

func mustRecord(t *testing.T, store storage.Storer, id int64, start time.Time) {
	t.Helper()
	code := 200
	result := models.CheckResult{ConnectionMS: 1, TTFBMS: 2, ResponseMS: 3, StatusCode: &code}
	if err := store.RecordCheck(context.Background(), id, start, start.Add(3*time.Millisecond), result); err != nil {
		t.Fatalf("failed to record check for %d: %v", id, err)
	}
}
