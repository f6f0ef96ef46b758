package memory

import (
	"context"
	"testing"
	"time"

	"urlwatch/internal/models"
	"urlwatch/internal/storage"
	"urlwatch/internal/storage/storagetest"
)

func TestMemoryStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storer { return New() })
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := New()
	ctx := context.Background()

	pattern := "ok"
	item, err := store.CreateWatchItem(ctx, &models.WatchItem{URL: "https://example.com", IntervalSeconds: 5, ContentPattern: &pattern, Enabled: true})
	if err != nil {
		t.Fatalf("failed to create watch item: %v", err)
	}
	*item.ContentPattern = "mutated"
	item.Enabled = false

	got, _ := store.GetWatchItem(ctx, item.ID)
	if *got.ContentPattern != "ok" || !got.Enabled {
		t.Errorf("store state leaked through returned value: %+v", got)
	}
}

func TestMemoryStore_Writes(t *testing.T) {
	store := New()
	ctx := context.Background()
	item, _ := store.CreateWatchItem(ctx, &models.WatchItem{URL: "https://example.com", IntervalSeconds: 5, Enabled: true})

	now := time.Now()
	for i := 0; i < 3; i++ {
		if err := store.RecordCheck(ctx, item.ID, now, now, models.NewCheckResult()); err != nil {
			t.Fatalf("failed to record check: %v", err)
		}
	}
	if store.Writes() != 3 {
		t.Errorf("expected 3 writes, got %d", store.Writes())
	}

	if err := store.DeleteWatchItem(ctx, item.ID); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	entries, _ := store.ListCheckLog(ctx, storage.ListCheckLogParams{WatchItemID: item.ID})
	if len(entries) != 0 {
		t.Errorf("expected check log to be removed with its item, got %d entries", len(entries))
	}
}
