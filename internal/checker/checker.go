package checker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"urlwatch/internal/models"
	"urlwatch/internal/storage"
)

// Options configures a Checker.
type Options struct {
	// Interval is the tick length and the look-ahead window of each due query.
	Interval time.Duration
	// MaxConcurrency bounds the number of checks in flight.
	MaxConcurrency int
	// OnTaskError receives failed check tasks. Nil logs them.
	OnTaskError ErrorHandler
}

// Checker is responsible for periodically scheduling URL checks.
type Checker struct {
	store    storage.CheckStore
	prober   Prober
	interval time.Duration
	limiter  *Limiter
	tasks    *Supervisor
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
	errc   chan error
}

// New creates a new Checker.
func New(store storage.CheckStore, prober Prober, opts Options, logger *slog.Logger) *Checker {
	return &Checker{
		store:    store,
		prober:   prober,
		interval: opts.Interval,
		limiter:  NewLimiter(opts.MaxConcurrency),
		tasks:    NewSupervisor(logger, opts.OnTaskError),
		logger:   logger,
		errc:     make(chan error, 1),
	}
}

// Start runs the scheduling loop in the background until Stop is called or
// the loop fails. A failure is delivered on Err.
func (c *Checker) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		if err := c.Run(ctx); err != nil {
			c.errc <- err
		}
	}()
}

// Stop cancels the loop and waits for every running check to finish.
func (c *Checker) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	c.tasks.Close()
	c.logger.Info("scheduler stopped")
}

// Err reports the error that ended a loop started with Start.
func (c *Checker) Err() <-chan error {
	return c.errc
}

// Run ticks until ctx is cancelled, in which case it returns nil, or until the
// store fails to deliver due items. It returns once the checks it started are done.
func (c *Checker) Run(ctx context.Context) error {
	c.logger.Info("starting scheduler", "interval", c.interval, "max_concurrency", c.limiter.Size())
	defer c.tasks.Wait()

	for {
		tickStart := time.Now()
		if _, err := c.Tick(ctx, tickStart); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		elapsed := time.Since(tickStart)
		if elapsed > c.interval {
			c.logger.Warn("tick overran interval",
				"overrun", elapsed-c.interval,
				"elapsed", elapsed,
				"interval", c.interval,
			)
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		timer := time.NewTimer(c.interval - elapsed)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Tick fetches the items due before tickStart+interval and starts a check for
// each, in due order. It blocks while every concurrency slot is taken.
func (c *Checker) Tick(ctx context.Context, tickStart time.Time) (int, error) {
	due, err := c.store.FetchDue(ctx, tickStart, c.interval)
	if err != nil {
		return 0, fmt.Errorf("fetch due watch items: %w", err)
	}

	dispatched := 0
	for _, item := range due {
		if c.tasks.InFlight(item.ID) {
			c.logger.Debug("previous check still running, skipping", "watch_id", item.ID, "url", item.URL)
			continue
		}
		if err := c.limiter.Acquire(ctx); err != nil {
			return dispatched, err
		}

		item := item
		started := c.tasks.Go(ctx, item.ID, item.URL, func(ctx context.Context) error {
			defer c.limiter.Release()
			return c.execute(ctx, item)
		})
		if !started {
			c.limiter.Release()
			continue
		}
		dispatched++
	}

	if len(due) > 0 {
		c.logger.Debug("dispatched checks", "due", len(due), "dispatched", dispatched)
	}
	return dispatched, nil
}

// execute waits for the item's run time, probes it and records the result.
func (c *Checker) execute(ctx context.Context, item models.DueItem) error {
	if item.RunAt != nil {
		if wait := time.Until(*item.RunAt); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
		}
	}

	// a started check is always recorded, even during shutdown
	ctx = context.WithoutCancel(ctx)

	start := time.Now()
	result := c.prober.Probe(ctx, item.URL, item.ContentPattern)
	end := time.Now()

	if err := c.store.RecordCheck(ctx, item.ID, start, end, result); err != nil {
		return fmt.Errorf("record check: %w", err)
	}

	attrs := []any{"watch_id", item.ID, "url", item.URL, "response_ms", result.ResponseMS}
	if result.StatusCode != nil {
		attrs = append(attrs, "status", *result.StatusCode)
	}
	if result.ErrorMessage != nil {
		attrs = append(attrs, "error", *result.ErrorMessage)
	}
	c.logger.Debug("check recorded", attrs...)
	return nil
}
