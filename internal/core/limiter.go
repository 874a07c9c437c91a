package core

// limiter.go serializes import runs.
//
// Dealer and vehicle resolution is read-then-write without row locks, so two
// concurrent runs could both miss a lookup and create duplicates. Runs take a
// slot from ImportLimiter before touching the store; with the default of one
// slot this makes the importer the sole writer. When all slots are taken a
// caller waits up to maxWait and then gets ErrImportInProgress.

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrImportInProgress is returned when every import slot stays occupied for
// the whole wait period.
var ErrImportInProgress = errors.New("import in progress, try again later")

// DefaultMaxConcurrentImports keeps a single writer.
const DefaultMaxConcurrentImports = 1

// DefaultImportWait is how long to wait for a slot before rejecting.
const DefaultImportWait = 30 * time.Second

// ActiveImport describes a run holding a slot. BytesRead and Progress are
// filled in by ImportLimiter.Active from the run's feed reader.
type ActiveImport struct {
	ID        uuid.UUID `json:"id"`
	Source    string    `json:"source"`
	StartedAt time.Time `json:"started_at"`
	BytesRead int64     `json:"bytes_read"`
	// Progress is the percentage of the feed read, 0 when its size is unknown.
	Progress int `json:"progress"`

	feed *FeedReader
}

// ImportLimiter is a semaphore over import runs that remembers who holds each slot.
type ImportLimiter struct {
	slots   chan struct{}
	maxWait time.Duration

	mu     sync.Mutex
	active map[uuid.UUID]ActiveImport
}

// NewImportLimiter creates a limiter allowing maxConcurrent simultaneous runs.
func NewImportLimiter(maxConcurrent int, maxWait time.Duration) *ImportLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentImports
	}
	if maxWait <= 0 {
		maxWait = DefaultImportWait
	}
	return &ImportLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
		active:  make(map[uuid.UUID]ActiveImport),
	}
}

// Acquire waits for a slot for run. The returned release func must be called
// when the run ends; calling it more than once is harmless.
func (l *ImportLimiter) Acquire(ctx context.Context, run ActiveImport) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.slots <- struct{}{}:
		return l.register(run), nil
	case <-waitCtx.Done():
		// Distinguish caller cancellation from our own timeout
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrImportInProgress
	}
}

func (l *ImportLimiter) register(run ActiveImport) func() {
	l.mu.Lock()
	l.active[run.ID] = run
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.active, run.ID)
			l.mu.Unlock()
			<-l.slots
		})
	}
}

// Active returns the runs currently holding slots, oldest first.
func (l *ImportLimiter) Active() []ActiveImport {
	l.mu.Lock()
	runs := make([]ActiveImport, 0, len(l.active))
	for _, run := range l.active {
		if run.feed != nil {
			run.BytesRead = run.feed.BytesRead()
			run.Progress = run.feed.Progress()
		}
		runs = append(runs, run)
	}
	l.mu.Unlock()

	slices.SortFunc(runs, func(a, b ActiveImport) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	return runs
}

// ActiveCount returns the number of runs holding slots.
func (l *ImportLimiter) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

// WaitForDrain blocks until no run holds a slot or ctx is done.
// Used during shutdown so a run is not cut between batch flushes.
func (l *ImportLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
