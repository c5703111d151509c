package queue

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// Tracker keeps the aggregate state of every batch. Implementations must
// make Begin and Record atomic with respect to concurrent workers.
type Tracker interface {
	Create(ctx context.Context, batch model.BatchResult) error
	// Begin marks the batch started. first is true for exactly one caller;
	// cancelled reports whether remaining tasks must be skipped.
	Begin(ctx context.Context, batchID string) (first, cancelled bool, err error)
	// Record stores the outcome of task index (nil failure means success).
	// A repeated index is ignored. completed is true for exactly one call:
	// the one that made the batch finished.
	Record(ctx context.Context, batchID string, index int, failure *model.TaskFailure) (result model.BatchResult, completed bool, err error)
	Cancel(ctx context.Context, batchID string) error
	Get(ctx context.Context, batchID string) (model.BatchResult, error)
	Delete(ctx context.Context, batchID string) error
}

type memoryBatch struct {
	result    model.BatchResult
	done      map[int]struct{}
	started   bool
	finalized bool
}

// MemoryTracker is a Tracker for a single process.
type MemoryTracker struct {
	mu      sync.Mutex
	batches map[string]*memoryBatch
	now     func() time.Time
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{batches: make(map[string]*memoryBatch), now: time.Now}
}

func (t *MemoryTracker) Create(_ context.Context, batch model.BatchResult) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	batch.Failures = nil
	t.batches[batch.BatchID] = &memoryBatch{result: batch, done: make(map[int]struct{})}
	return nil
}

func (t *MemoryTracker) Begin(_ context.Context, batchID string) (bool, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.batches[batchID]
	if !ok {
		return false, false, appErrors.ErrBatchNotFound
	}
	first := !b.started
	b.started = true
	return first, b.result.Cancelled, nil
}

func (t *MemoryTracker) Record(_ context.Context, batchID string, index int, failure *model.TaskFailure) (model.BatchResult, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.batches[batchID]
	if !ok {
		return model.BatchResult{}, false, appErrors.ErrBatchNotFound
	}
	if _, seen := b.done[index]; seen {
		return snapshot(b.result), false, nil
	}
	b.done[index] = struct{}{}

	b.result.ProcessedJobs++
	if failure != nil {
		b.result.FailedJobs++
		b.result.Failures = append(b.result.Failures, *failure)
		if !b.result.AllowFailures {
			b.result.Cancelled = true
		}
	}

	completed := false
	if b.result.Finished() && !b.finalized {
		b.finalized = true
		now := t.now()
		b.result.FinishedAt = &now
		completed = true
	}
	return snapshot(b.result), completed, nil
}

func (t *MemoryTracker) Cancel(_ context.Context, batchID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.batches[batchID]
	if !ok {
		return appErrors.ErrBatchNotFound
	}
	b.result.Cancelled = true
	return nil
}

func (t *MemoryTracker) Get(_ context.Context, batchID string) (model.BatchResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.batches[batchID]
	if !ok {
		return model.BatchResult{}, appErrors.ErrBatchNotFound
	}
	return snapshot(b.result), nil
}

func (t *MemoryTracker) Delete(_ context.Context, batchID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.batches, batchID)
	return nil
}

// snapshot copies r with its failures ordered by task index.
func snapshot(r model.BatchResult) model.BatchResult {
	if r.Failures != nil {
		r.Failures = append([]model.TaskFailure(nil), r.Failures...)
		slices.SortFunc(r.Failures, func(a, b model.TaskFailure) int { return cmp.Compare(a.Index, b.Index) })
	}
	return r
}

var _ Tracker = (*MemoryTracker)(nil)
