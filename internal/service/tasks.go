package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"dispatch/internal/logger"
	"dispatch/internal/observability"
)

const taskTimeout = 30 * time.Second

// Task is a unit of background work.
type Task struct {
	Name string
	Key  string
	Run  func(ctx context.Context) error
}

// TaskSubmitter accepts background work.
type TaskSubmitter interface {
	Submit(task Task)
}

// TaskQueueConfig tunes the queue. Zero values use the defaults.
type TaskQueueConfig struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	Backoff     time.Duration
}

// TaskQueue runs tasks on a fixed pool of workers. Tasks failing with
// ErrUpstreamUnavailable are retried with exponential backoff; other errors
// are logged and the task is dropped.
type TaskQueue struct {
	tasks       chan Task
	workers     int
	maxAttempts int
	backoff     time.Duration
	log         logger.ILogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewTaskQueue creates a new TaskQueue. Call Start to begin processing.
func NewTaskQueue(cfg TaskQueueConfig, log logger.ILogger) *TaskQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &TaskQueue{
		tasks:       make(chan Task, cfg.QueueSize),
		workers:     cfg.Workers,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the workers.
func (q *TaskQueue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
}

// Submit enqueues a task without blocking. The task is dropped when the
// queue is full or closed.
func (q *TaskQueue) Submit(task Task) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.log.Warning("task queue closed, dropping task", logger.String("task", task.Name), logger.String("key", task.Key))
		observability.TaskFailuresTotal.Inc()
		return
	}

	select {
	case q.tasks <- task:
	default:
		q.log.Error("task queue full, dropping task", logger.String("task", task.Name), logger.String("key", task.Key))
		observability.TaskFailuresTotal.Inc()
	}
}

// Close stops accepting tasks, runs what is queued and waits for the
// workers. Pending retry delays are cut short once ctx is done.
func (q *TaskQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

func (q *TaskQueue) worker() {
	defer q.wg.Done()
	for task := range q.tasks {
		q.run(task)
	}
}

func (q *TaskQueue) run(task Task) {
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(q.ctx, taskTimeout)
		err := task.Run(ctx)
		cancel()
		if err == nil {
			return
		}

		if !errors.Is(err, ErrUpstreamUnavailable) || attempt >= q.maxAttempts {
			q.log.Error("task failed",
				logger.String("task", task.Name),
				logger.String("key", task.Key),
				logger.Int("attempt", attempt),
				logger.Error(err))
			observability.TaskFailuresTotal.Inc()
			return
		}

		delay := q.backoff << (attempt - 1)
		q.log.Warning("task failed, retrying",
			logger.String("task", task.Name),
			logger.String("key", task.Key),
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Error(err))
		observability.TaskRetriesTotal.Inc()

		select {
		case <-time.After(delay):
		case <-q.ctx.Done():
			return
		}
	}
}
