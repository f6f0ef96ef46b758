package checker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"urlwatch/internal/models"
	"urlwatch/internal/storage/memory"
)

// stubProber answers instantly unless fn is set.
type stubProber struct {
	mu    sync.Mutex
	calls map[string][]time.Time
	fn    func(url string)
}

func newStubProber() *stubProber {
	return &stubProber{calls: make(map[string][]time.Time)}
}

func (p *stubProber) Probe(ctx context.Context, url string, pattern *string) models.CheckResult {
	p.mu.Lock()
	p.calls[url] = append(p.calls[url], time.Now())
	fn := p.fn
	p.mu.Unlock()

	if fn != nil {
		fn(url)
	}
	code := 200
	return models.CheckResult{ConnectionMS: 1, TTFBMS: 1, ResponseMS: 1, StatusCode: &code}
}

func (p *stubProber) count(url string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls[url])
}

func (p *stubProber) first(url string) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[url][0]
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func addItem(t *testing.T, store *memory.MemoryStore, url string, interval int) *models.WatchItem {
	t.Helper()
	item, err := store.CreateWatchItem(context.Background(), &models.WatchItem{URL: url, IntervalSeconds: interval, Enabled: true})
	if err != nil {
		t.Fatalf("failed to create watch item: %v", err)
	}
	return item
}

func TestTick_NothingDue(t *testing.T) {
	store := memory.New()
	prober := newStubProber()
	c := New(store, prober, Options{Interval: time.Second, MaxConcurrency: 2}, discardLogger())
	defer c.Stop()

	for i := 0; i < 2; i++ {
		n, err := c.Tick(context.Background(), time.Now())
		if err != nil {
			t.Fatalf("tick failed: %v", err)
		}
		if n != 0 {
			t.Errorf("expected no dispatched checks, got %d", n)
		}
	}
	if store.Writes() != 0 {
		t.Errorf("expected no writes, got %d", store.Writes())
	}
}

func TestRun_ChecksAtItemIntervals(t *testing.T) {
	if testing.Short() {
		t.Skip("runs for several seconds")
	}

	store := memory.New()
	one := addItem(t, store, "https://one.example.com", 1)
	two := addItem(t, store, "https://two.example.com", 2)
	three := addItem(t, store, "https://three.example.com", 3)

	prober := newStubProber()
	c := New(store, prober, Options{Interval: time.Second, MaxConcurrency: 4}, discardLogger())
	defer c.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second+250*time.Millisecond)
	defer cancel()
	if err := c.Run(ctx); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	for _, tc := range []struct {
		item *models.WatchItem
		min  int
	}{
		{one, 5},
		{two, 2},
		{three, 1},
	} {
		if got := prober.count(tc.item.URL); got < tc.min {
			t.Errorf("%s: expected at least %d checks, got %d", tc.item.URL, tc.min, got)
		}
		item, err := store.GetWatchItem(context.Background(), tc.item.ID)
		if err != nil {
			t.Fatalf("failed to get watch item: %v", err)
		}
		if item.LastStart == nil || item.LastEnd == nil {
			t.Errorf("%s: expected last_start and last_end to be set", tc.item.URL)
		}
	}
}

func TestTick_AlignsToRunAt(t *testing.T) {
	store := memory.New()
	item := addItem(t, store, "https://example.com", 2)

	// next run 300ms from now, inside a one second window
	lastStart := time.Now().Add(-1700 * time.Millisecond)
	if err := store.RecordCheck(context.Background(), item.ID, lastStart, lastStart, models.NewCheckResult()); err != nil {
		t.Fatalf("failed to seed check: %v", err)
	}
	runAt := lastStart.Add(2 * time.Second)

	prober := newStubProber()
	c := New(store, prober, Options{Interval: time.Second, MaxConcurrency: 1}, discardLogger())
	defer c.Stop()

	n, err := c.Tick(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one dispatched check, got %d", n)
	}
	c.tasks.Wait()

	if prober.count(item.URL) != 1 {
		t.Fatalf("expected one probe, got %d", prober.count(item.URL))
	}
	if probedAt := prober.first(item.URL); probedAt.Before(runAt) {
		t.Errorf("probe started %v before its run time", runAt.Sub(probedAt))
	}
}

func TestTick_RespectsConcurrencyLimit(t *testing.T) {
	store := memory.New()
	for _, u := range []string{"a", "b", "c", "d", "e", "f"} {
		addItem(t, store, "https://"+u+".example.com", 10)
	}

	var running, peak atomic.Int64
	prober := newStubProber()
	prober.fn = func(string) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		running.Add(-1)
	}

	c := New(store, prober, Options{Interval: time.Second, MaxConcurrency: 2}, discardLogger())
	defer c.Stop()

	n, err := c.Tick(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if n != 6 {
		t.Errorf("expected 6 dispatched checks, got %d", n)
	}
	c.tasks.Wait()

	if peak.Load() > 2 {
		t.Errorf("expected at most 2 concurrent checks, saw %d", peak.Load())
	}
	if store.Writes() != 6 {
		t.Errorf("expected 6 writes, got %d", store.Writes())
	}
	if c.limiter.InUse() != 0 {
		t.Errorf("expected every slot released, %d still held", c.limiter.InUse())
	}
}

func TestTick_SkipsItemStillInFlight(t *testing.T) {
	store := memory.New()
	item := addItem(t, store, "https://slow.example.com", 1)

	release := make(chan struct{})
	prober := newStubProber()
	prober.fn = func(string) { <-release }

	c := New(store, prober, Options{Interval: time.Second, MaxConcurrency: 4}, discardLogger())
	defer c.Stop()

	if n, _ := c.Tick(context.Background(), time.Now()); n != 1 {
		t.Fatalf("expected first tick to dispatch, got %d", n)
	}
	if n, _ := c.Tick(context.Background(), time.Now()); n != 0 {
		t.Errorf("expected second tick to skip the running item, got %d", n)
	}

	close(release)
	c.tasks.Wait()
	if prober.count(item.URL) != 1 {
		t.Errorf("expected exactly one probe, got %d", prober.count(item.URL))
	}
}

// failingStore rejects writes for one item and can fail every fetch.
type failingStore struct {
	*memory.MemoryStore
	failRecord int64
	fetchErr   error
	fetchDelay time.Duration
}

func (s *failingStore) FetchDue(ctx context.Context, now time.Time, window time.Duration) ([]models.DueItem, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	time.Sleep(s.fetchDelay)
	return s.MemoryStore.FetchDue(ctx, now, window)
}

func (s *failingStore) RecordCheck(ctx context.Context, itemID int64, start, end time.Time, result models.CheckResult) error {
	if itemID == s.failRecord {
		return errors.New("disk full")
	}
	return s.MemoryStore.RecordCheck(ctx, itemID, start, end, result)
}

func TestTick_IsolatesFailures(t *testing.T) {
	mem := memory.New()
	badWrite := addItem(t, mem, "https://badwrite.example.com", 10)
	panics := addItem(t, mem, "https://panic.example.com", 10)
	healthy := addItem(t, mem, "https://healthy.example.com", 10)
	store := &failingStore{MemoryStore: mem, failRecord: badWrite.ID}

	prober := newStubProber()
	prober.fn = func(url string) {
		if url == panics.URL {
			panic("probe exploded")
		}
	}

	var (
		mu     sync.Mutex
		failed = map[int64]*TaskError{}
	)
	c := New(store, prober, Options{
		Interval:       time.Second,
		MaxConcurrency: 1,
		OnTaskError: func(e *TaskError) {
			mu.Lock()
			defer mu.Unlock()
			failed[e.WatchID] = e
		},
	}, discardLogger())

	if _, err := c.Tick(context.Background(), time.Now()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	c.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(failed) != 2 {
		t.Fatalf("expected 2 failed tasks, got %d", len(failed))
	}
	if e := failed[badWrite.ID]; e == nil || !strings.Contains(e.Error(), "disk full") {
		t.Errorf("expected the write failure to be reported, got %+v", e)
	}
	if e := failed[panics.ID]; e == nil || len(e.Stack) == 0 {
		t.Errorf("expected the panic to be reported with a stack, got %+v", e)
	}

	got, _ := mem.GetWatchItem(context.Background(), healthy.ID)
	if got.LastStart == nil {
		t.Error("expected the healthy item to be recorded")
	}
	stale, _ := mem.GetWatchItem(context.Background(), badWrite.ID)
	if stale.LastStart != nil {
		t.Error("expected the failed write to leave last_start untouched")
	}
	if c.limiter.InUse() != 0 {
		t.Errorf("expected every slot released, %d still held", c.limiter.InUse())
	}
}

func TestRun_FetchErrorIsFatal(t *testing.T) {
	dbErr := errors.New("connection reset")
	store := &failingStore{MemoryStore: memory.New(), fetchErr: dbErr}
	c := New(store, newStubProber(), Options{Interval: time.Second, MaxConcurrency: 1}, discardLogger())
	defer c.Stop()

	err := c.Run(context.Background())
	if !errors.Is(err, dbErr) {
		t.Fatalf("expected the fetch error, got %v", err)
	}
	if !strings.Contains(err.Error(), "fetch due watch items") {
		t.Errorf("expected wrapped error, got %v", err)
	}
}

func TestStart_ReportsFatalError(t *testing.T) {
	store := &failingStore{MemoryStore: memory.New(), fetchErr: errors.New("gone")}
	c := New(store, newStubProber(), Options{Interval: time.Second, MaxConcurrency: 1}, discardLogger())

	c.Start(context.Background())
	select {
	case err := <-c.Err():
		if err == nil {
			t.Error("expected a non-nil error")
		}
	case <-time.After(time.Second):
		t.Fatal("expected the loop to fail")
	}
	c.Stop()
}

func TestStartStop(t *testing.T) {
	store := memory.New()
	item := addItem(t, store, "https://example.com", 1)
	prober := newStubProber()

	c := New(store, prober, Options{Interval: 50 * time.Millisecond, MaxConcurrency: 1}, discardLogger())
	c.Start(context.Background())

	deadline := time.Now().Add(time.Second)
	for prober.count(item.URL) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	c.Stop()

	if prober.count(item.URL) == 0 {
		t.Fatal("expected the item to be checked after start")
	}
	select {
	case err := <-c.Err():
		t.Errorf("expected no error after a clean stop, got %v", err)
	default:
	}
}

func TestRun_LogsOverrun(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	store := &failingStore{MemoryStore: memory.New(), fetchDelay: 80 * time.Millisecond}
	c := New(store, newStubProber(), Options{Interval: 50 * time.Millisecond, MaxConcurrency: 1}, logger)
	defer c.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	if err := c.Run(ctx); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "tick overran interval") || !strings.Contains(out, "overrun=") {
		t.Errorf("expected an overrun warning, got %q", out)
	}
}
