// Package events publishes task status changes.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectStatus carries StatusEvent payloads.
const SubjectStatus = "task.status"

type StatusEvent struct {
	UID       string    `json:"uid"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Duration  float64   `json:"duration,omitempty"`
	Error     string    `json:"error,omitempty"`
}

type Publisher interface {
	PublishStatus(ctx context.Context, event StatusEvent) error
}

// Nop discards events.
type Nop struct{}

func (Nop) PublishStatus(context.Context, StatusEvent) error { return nil }

// NATS publishes events as JSON on SubjectStatus.
type NATS struct {
	nc *nats.Conn
}

func NewNATS(nc *nats.Conn) *NATS {
	return &NATS{nc: nc}
}

// Connect dials url and returns a publisher owning the connection.
func Connect(url string) (*NATS, error) {
	nc, err := nats.Connect(url, nats.Name("taskd"))
	if err != nil {
		return nil, err
	}
	return NewNATS(nc), nil
}

func (p *NATS) PublishStatus(ctx context.Context, event StatusEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.nc.Publish(SubjectStatus, data)
}

// Close flushes pending messages and closes the connection.
func (p *NATS) Close() error {
	return p.nc.Drain()
}
