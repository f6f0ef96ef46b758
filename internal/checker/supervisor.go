package checker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
)

// TaskError describes a check task that returned an error or panicked.
type TaskError struct {
	WatchID       int64
	URL           string
	CorrelationID string
	Err           error
	// Stack is set when the task panicked.
	Stack []byte
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("watch item %d (%s): %v (correlation_id: %s)", e.WatchID, e.URL, e.Err, e.CorrelationID)
}

func (e *TaskError) Unwrap() error { return e.Err }

// ErrorHandler receives failed tasks, one at a time.
type ErrorHandler func(*TaskError)

// Supervisor runs one task per watch item and keeps failures from escaping it.
type Supervisor struct {
	logger  *slog.Logger
	handler ErrorHandler

	mu       sync.Mutex
	inFlight map[int64]struct{}
	closed   bool
	wg       sync.WaitGroup

	errs      chan *TaskError
	drained   chan struct{}
	closeOnce sync.Once
}

// NewSupervisor creates a Supervisor. A nil handler logs failures at error level.
func NewSupervisor(logger *slog.Logger, handler ErrorHandler) *Supervisor {
	s := &Supervisor{
		logger:   logger,
		handler:  handler,
		inFlight: make(map[int64]struct{}),
		errs:     make(chan *TaskError, 64),
		drained:  make(chan struct{}),
	}
	if s.handler == nil {
		s.handler = s.logTaskError
	}
	go s.drain()
	return s
}

// Go starts fn for the given watch item. It returns false, without starting
// anything, when a task for the item is still running or the supervisor is closed.
func (s *Supervisor) Go(ctx context.Context, watchID int64, url string, fn func(ctx context.Context) error) bool {
	s.mu.Lock()
	if _, busy := s.inFlight[watchID]; busy || s.closed {
		s.mu.Unlock()
		return false
	}
	s.inFlight[watchID] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(ctx, watchID, url, fn)
	return true
}

func (s *Supervisor) run(ctx context.Context, watchID int64, url string, fn func(ctx context.Context) error) {
	defer s.wg.Done()
	defer s.remove(watchID)
	defer func() {
		if r := recover(); r != nil {
			s.errs <- &TaskError{
				WatchID:       watchID,
				URL:           url,
				CorrelationID: uuid.NewString(),
				Err:           fmt.Errorf("panic: %v", r),
				Stack:         debug.Stack(),
			}
		}
	}()

	if err := fn(ctx); err != nil {
		s.errs <- &TaskError{
			WatchID:       watchID,
			URL:           url,
			CorrelationID: uuid.NewString(),
			Err:           err,
		}
	}
}

func (s *Supervisor) remove(watchID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, watchID)
}

// InFlight reports whether a task for the watch item is running.
func (s *Supervisor) InFlight(watchID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[watchID]
	return ok
}

// Len returns the number of running tasks.
func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// Wait blocks until no task is running.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Close refuses new tasks, waits for running ones and returns once every
// reported failure went through the handler.
func (s *Supervisor) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.wg.Wait()
		close(s.errs)
		<-s.drained
	})
}

func (s *Supervisor) drain() {
	defer close(s.drained)
	for taskErr := range s.errs {
		s.handler(taskErr)
	}
}

func (s *Supervisor) logTaskError(e *TaskError) {
	attrs := []any{
		"watch_id", e.WatchID,
		"url", e.URL,
		"correlation_id", e.CorrelationID,
		"err", e.Err,
	}
	if e.Stack != nil {
		attrs = append(attrs, "stack", string(e.Stack))
	}
	s.logger.Error("background task failed", attrs...)
}
