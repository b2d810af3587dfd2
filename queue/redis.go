// Package queue is a Redis-list work queue of task executions.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const queueKey = "taskqueue:tasks"

// Job asks a worker to execute the task identified by UID.
type Job struct {
	UID     string `json:"uid"`
	Attempt int    `json:"attempt"`
}

// Redis pushes jobs on the left of a list and pops them from the right.
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis connects to addr and checks the connection.
func NewRedis(ctx context.Context, addr string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &Redis{client: client, key: queueKey}, nil
}

func (q *Redis) Close() error {
	return q.client.Close()
}

func (q *Redis) Enqueue(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, data).Err()
}

// Dequeue blocks for up to blockFor. It returns nil, nil when nothing arrived.
func (q *Redis) Dequeue(ctx context.Context, blockFor time.Duration) (*Job, error) {
	result, err := q.client.BRPop(ctx, blockFor, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP result: %v", result)
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, err
	}

	return &job, nil
}

// Remove drops every queued job for uid.
func (q *Redis) Remove(ctx context.Context, uid string) error {
	entries, err := q.client.LRange(ctx, q.key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to fetch queue entries: %w", err)
	}

	for _, entry := range entries {
		var job Job
		if err := json.Unmarshal([]byte(entry), &job); err != nil {
			continue
		}

		if job.UID == uid {
			if err := q.client.LRem(ctx, q.key, 0, entry).Err(); err != nil {
				return err
			}
		}
	}

	return nil
}
