// Package worker executes queued tasks and records their final status.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go-computetask/events"
	"go-computetask/model"
	"go-computetask/queue"
	"go-computetask/store"
)

const (
	defaultMaxRetries = 3
	dequeueTimeout    = 2 * time.Second
)

// Queue is the part of queue.Redis the pool consumes.
type Queue interface {
	Enqueue(ctx context.Context, job queue.Job) error
	Dequeue(ctx context.Context, blockFor time.Duration) (*queue.Job, error)
}

// Executor runs a task. A returned error marks the task failed.
type Executor func(ctx context.Context, rec store.Record) error

// ErrSimulatedFailure is returned by Simulate for tasks configured to fail.
var ErrSimulatedFailure = errors.New("simulated failure")

// Simulate is the default executor: tasks whose config sets "fail": true
// fail, every other task finishes.
func Simulate(ctx context.Context, rec store.Record) error {
	if fail, _ := rec.Task().Config["fail"].(bool); fail {
		return ErrSimulatedFailure
	}
	return nil
}

type Pool struct {
	store      store.Store
	queue      Queue
	events     events.Publisher
	execute    Executor
	logger     *slog.Logger
	maxRetries int
	retryDelay func(attempt int) time.Duration
}

type Option func(*Pool)

func WithExecutor(execute Executor) Option {
	return func(p *Pool) {
		p.execute = execute
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// WithRetryDelay overrides the delay before a job that hit a store error is
// re-enqueued.
func WithRetryDelay(delay func(attempt int) time.Duration) Option {
	return func(p *Pool) {
		p.retryDelay = delay
	}
}

func New(st store.Store, q Queue, pub events.Publisher, opts ...Option) *Pool {
	p := &Pool{
		store:      st,
		queue:      q,
		events:     pub,
		execute:    Simulate,
		logger:     slog.Default(),
		maxRetries: defaultMaxRetries,
		retryDelay: func(attempt int) time.Duration {
			return time.Second * time.Duration(1<<attempt)
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.events == nil {
		p.events = events.Nop{}
	}
	return p
}

// Start launches workerCount workers that run until ctx is cancelled.
func (p *Pool) Start(ctx context.Context, workerCount int, wg *sync.WaitGroup) {
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			logger := p.logger.With("worker", id)
			for {
				select {
				case <-ctx.Done():
					logger.Info("Worker shutting down")
					return
				default:
				}

				job, err := p.queue.Dequeue(ctx, dequeueTimeout)
				if err != nil {
					if ctx.Err() == nil {
						logger.Error("Dequeue failed", "error", err)
						time.Sleep(100 * time.Millisecond)
					}
					continue
				}
				if job == nil {
					continue
				}

				if err := p.process(ctx, job); err != nil {
					p.retry(ctx, logger, job, err)
					continue
				}
				logger.Debug("Processed task", "uid", job.UID)
			}
		}(i + 1)
	}
}

func (p *Pool) retry(ctx context.Context, logger *slog.Logger, job *queue.Job, cause error) {
	if job.Attempt < p.maxRetries {
		next := queue.Job{UID: job.UID, Attempt: job.Attempt + 1}
		delay := p.retryDelay(next.Attempt)
		logger.Warn("Retrying task", "uid", job.UID, "attempt", next.Attempt, "delay", delay, "error", cause)

		retryCtx := context.WithoutCancel(ctx)
		time.AfterFunc(delay, func() {
			if err := p.queue.Enqueue(retryCtx, next); err != nil {
				logger.Error("Failed to re-enqueue task", "uid", job.UID, "error", err)
			}
		})
		return
	}

	logger.Error("Task failed after retries", "uid", job.UID, "retries", job.Attempt, "error", cause)
	if _, err := p.store.SetStatus(ctx, job.UID, model.StatusFailed); err != nil {
		logger.Error("Failed to mark task failed", "uid", job.UID, "error", err)
		return
	}
	p.publish(ctx, events.StatusEvent{UID: job.UID, Status: model.StatusFailed, Error: cause.Error()})
}

// process runs one job. Only store failures are returned; execution failures
// are recorded on the task.
func (p *Pool) process(ctx context.Context, job *queue.Job) error {
	rec, err := p.store.Get(ctx, job.UID)
	if errors.Is(err, store.ErrNotFound) {
		p.logger.Warn("Dropping job for unknown task", "uid", job.UID)
		return nil
	}
	if err != nil {
		return err
	}
	// a retried job may find the task still marked running by its earlier attempt
	resumable := job.Attempt > 0 && rec.Status() == model.StatusRunning
	if rec.Status() != model.StatusPending && !resumable {
		p.logger.Debug("Skipping task that is not pending", "uid", job.UID, "status", rec.Status())
		return nil
	}

	rec, err = p.store.TransitionStatus(ctx, job.UID, rec.Status(), model.StatusRunning)
	if errors.Is(err, store.ErrStatusChanged) {
		p.logger.Debug("Task changed before it started", "uid", job.UID, "error", err)
		return nil
	}
	if err != nil {
		return err
	}
	p.publish(ctx, events.StatusEvent{UID: job.UID, Status: model.StatusRunning})

	start := time.Now()
	execErr := p.execute(ctx, rec)
	duration := time.Since(start).Seconds()

	event := events.StatusEvent{UID: job.UID, Status: model.StatusFinished, Duration: duration}
	if execErr != nil {
		event.Status = model.StatusFailed
		event.Error = execErr.Error()
	}
	// a stop request during execution wins
	_, err = p.store.TransitionStatus(ctx, job.UID, model.StatusRunning, event.Status)
	if errors.Is(err, store.ErrStatusChanged) {
		p.logger.Info("Discarding result of task changed while running", "uid", job.UID, "error", err)
		return nil
	}
	if err != nil {
		return err
	}
	p.publish(ctx, event)
	return nil
}

func (p *Pool) publish(ctx context.Context, event events.StatusEvent) {
	event.Timestamp = time.Now()
	if err := p.events.PublishStatus(ctx, event); err != nil {
		p.logger.Error("Failed to publish status", "uid", event.UID, "error", err)
	}
}
