package queue

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process FIFO queue used when Redis is not configured.
type Memory struct {
	mu     sync.Mutex
	jobs   []Job
	notify chan struct{}
}

func NewMemory() *Memory {
	return &Memory{notify: make(chan struct{}, 1)}
}

func (q *Memory) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()
	q.signal()
	return nil
}

// Dequeue blocks for up to blockFor. It returns nil, nil when nothing arrived.
func (q *Memory) Dequeue(ctx context.Context, blockFor time.Duration) (*Job, error) {
	timer := time.NewTimer(blockFor)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if len(q.jobs) > 0 {
			job := q.jobs[0]
			q.jobs = q.jobs[1:]
			more := len(q.jobs) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return &job, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Remove drops every queued job for uid.
func (q *Memory) Remove(ctx context.Context, uid string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.jobs[:0]
	for _, job := range q.jobs {
		if job.UID != uid {
			kept = append(kept, job)
		}
	}
	q.jobs = kept
	return nil
}

func (q *Memory) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
