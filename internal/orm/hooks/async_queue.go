package hooks

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	errQueueNotStarted = errors.New("queue not started")
	errQueueShutdown   = errors.New("queue shutdown")
	errQueueFull       = errors.New("queue full")
)

// defaultQueueSize is the number of tasks waiting for a worker before
// Enqueue rejects new ones
const defaultQueueSize = 100

// AsyncTask represents a task to be executed asynchronously
type AsyncTask struct {
	Name string
	Fn   func(ctx context.Context) error
}

// AsyncQueue runs tasks on a fixed pool of workers
type AsyncQueue struct {
	tasks       chan AsyncTask
	workerCount int
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	shutdown    bool
	mu          sync.RWMutex
	logger      *zap.Logger
}

// NewAsyncQueue creates a queue with workerCount workers (4 when not positive)
func NewAsyncQueue(workerCount int, logger *zap.Logger) *AsyncQueue {
	return newAsyncQueue(workerCount, defaultQueueSize, logger)
}

func newAsyncQueue(workerCount, size int, logger *zap.Logger) *AsyncQueue {
	if workerCount <= 0 {
		workerCount = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &AsyncQueue{
		tasks:       make(chan AsyncTask, size),
		workerCount: workerCount,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
	}
}

// Start starts the worker pool
func (q *AsyncQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return
	}
	for i := 0; i < q.workerCount; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.started = true
}

func (q *AsyncQueue) worker(id int) {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case task, ok := <-q.tasks:
			if !ok {
				return
			}
			q.run(id, task)
		}
	}
}

func (q *AsyncQueue) run(id int, task AsyncTask) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("async task panicked",
				zap.Int("worker", id), zap.String("task", task.Name), zap.Any("panic", r))
		}
	}()

	if err := task.Fn(q.ctx); err != nil {
		q.logger.Warn("async task failed",
			zap.Int("worker", id), zap.String("task", task.Name), zap.Error(err))
	}
}

// Enqueue adds a task to the queue without waiting. It fails when the queue
// is full so that callers never stall behind slow tasks.
func (q *AsyncQueue) Enqueue(task AsyncTask) error {
	// the read lock keeps Shutdown from closing the channel mid-send
	q.mu.RLock()
	defer q.mu.RUnlock()

	if !q.started {
		return errQueueNotStarted
	}
	if q.shutdown {
		return errQueueShutdown
	}

	select {
	case q.tasks <- task:
		return nil
	case <-q.ctx.Done():
		return errQueueShutdown
	default:
		return errQueueFull
	}
}

// Shutdown stops accepting tasks and waits for queued ones to finish
func (q *AsyncQueue) Shutdown() {
	q.mu.Lock()
	if !q.started || q.shutdown {
		q.mu.Unlock()
		return
	}
	q.shutdown = true
	close(q.tasks)
	q.mu.Unlock()

	q.wg.Wait()
}

// Stop cancels running tasks and returns without draining the queue
func (q *AsyncQueue) Stop() {
	q.cancel()
	q.wg.Wait()
}
