package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("write queue closed")

// Job is one unit of background work.
type Job func(ctx context.Context) error

type task struct {
	name string
	run  Job
	done chan struct{}
}

// Queue runs jobs one at a time, in submission order, on a single
// goroutine. Enqueue blocks while the buffer is full.
type Queue struct {
	ch     chan task
	wg     sync.WaitGroup
	once   sync.Once
	mu     sync.RWMutex
	closed bool

	logger    *zap.Logger
	onFailure func(name string, err error)
	failures  atomic.Int64
	processed atomic.Int64

	errMu    sync.Mutex
	firstErr error
}

// NewQueue starts the writer goroutine. onFailure may be nil.
func NewQueue(size int, logger *zap.Logger, onFailure func(name string, err error)) *Queue {
	if size <= 0 {
		size = 1024
	}
	q := &Queue{
		ch:        make(chan task, size),
		logger:    logger,
		onFailure: onFailure,
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.loop()
	}()
	return q
}

func (q *Queue) loop() {
	ctx := context.Background()
	for t := range q.ch {
		if t.run != nil {
			if err := t.run(ctx); err != nil {
				q.failures.Add(1)
				q.recordErr(t.name, err)
				q.logger.Error("background write failed", zap.String("job", t.name), zap.Error(err))
				if q.onFailure != nil {
					q.onFailure(t.name, err)
				}
			}
			q.processed.Add(1)
		}
		if t.done != nil {
			close(t.done)
		}
	}
}

func (q *Queue) recordErr(name string, err error) {
	q.errMu.Lock()
	if q.firstErr == nil {
		q.firstErr = fmt.Errorf("%s: %w", name, err)
	}
	q.errMu.Unlock()
}

func (q *Queue) takeErr() error {
	q.errMu.Lock()
	defer q.errMu.Unlock()
	err := q.firstErr
	q.firstErr = nil
	return err
}

// Enqueue submits a job.
func (q *Queue) Enqueue(name string, job Job) error {
	return q.submit(task{name: name, run: job})
}

func (q *Queue) submit(t task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.ch <- t
	return nil
}

// Flush waits until every job submitted before the call has run and
// returns the first job error since the previous Flush.
func (q *Queue) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if err := q.submit(task{name: "flush", done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return q.takeErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (q *Queue) Close() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.ch)
		q.mu.Unlock()
		q.wg.Wait()
	})
}

// Failures returns how many jobs returned an error.
func (q *Queue) Failures() int64 { return q.failures.Load() }

// Processed returns how many jobs ran.
func (q *Queue) Processed() int64 { return q.processed.Load() }
