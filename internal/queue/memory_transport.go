package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// MemoryTransport is an in-process transport. Delays are served by timers,
// deliveries by a fixed pool of worker goroutines.
type MemoryTransport struct {
	mu      sync.Mutex
	timers  map[*time.Timer]struct{}
	pending sync.WaitGroup
	closed  bool

	tasks   chan model.SendTask
	done    chan struct{}
	once    sync.Once
	workers int
	logger  *zap.Logger
}

// NewMemoryTransport creates a transport served by the given number of workers
func NewMemoryTransport(workers int, logger *zap.Logger) *MemoryTransport {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryTransport{
		timers:  make(map[*time.Timer]struct{}),
		tasks:   make(chan model.SendTask),
		done:    make(chan struct{}),
		workers: workers,
		logger:  logger,
	}
}

// Publish schedules the task for delivery after task.Delay
func (q *MemoryTransport) Publish(ctx context.Context, task model.SendTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}

	delay := task.Delay
	if delay < 0 {
		delay = 0
	}

	q.pending.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		defer q.pending.Done()

		q.mu.Lock()
		delete(q.timers, timer)
		q.mu.Unlock()

		select {
		case q.tasks <- task:
		case <-q.done:
		}
	})
	q.timers[timer] = struct{}{}
	return nil
}

// Consume runs the worker pool until ctx is done or the transport is closed
func (q *MemoryTransport) Consume(ctx context.Context, fn DeliveryFunc) error {
	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.done:
					return
				case task := <-q.tasks:
					if err := fn(ctx, task); err != nil {
						// Nothing to redeliver from in process; the tracker
						// still expects the task, so surface it loudly.
						q.logger.Error("task delivery failed",
							zap.String("batch_id", task.BatchID),
							zap.Int("index", task.Index),
							zap.Error(err))
					}
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Close stops pending timers and releases consumers. Tasks that were not
// yet delivered are dropped.
func (q *MemoryTransport) Close() error {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		for t := range q.timers {
			if t.Stop() {
				q.pending.Done()
			}
			delete(q.timers, t)
		}
		q.mu.Unlock()

		close(q.done)
		q.pending.Wait()
	})
	return nil
}

var _ Transport = (*MemoryTransport)(nil)
