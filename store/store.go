// Package store persists task documents for the task service.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"time"

	"go-computetask/model"
)

// ErrNotFound is returned when no task has the requested UID.
var ErrNotFound = errors.New("task not found")

// ErrStatusChanged is returned by TransitionStatus when the task is no longer
// in the expected status.
var ErrStatusChanged = errors.New("task status changed")

// Record is a stored task. Doc holds every field except the UID, status
// included.
type Record struct {
	UID       string
	Doc       map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Status returns the status stored in the document.
func (r Record) Status() string {
	s, _ := r.Doc["status"].(string)
	return s
}

// Task converts the record into its wire representation.
func (r Record) Task() model.Task {
	task := model.Task{UID: r.UID, Status: r.Status()}
	task.Name, _ = r.Doc["name"].(string)
	task.Config, _ = r.Doc["config"].(map[string]any)
	return task
}

// Store is the persistence interface for tasks.
type Store interface {
	Create(ctx context.Context, uid string, doc map[string]any) (Record, error)
	Get(ctx context.Context, uid string) (Record, error)
	// Find returns every record whose document contains query, with the
	// semantics of the Postgres jsonb @> operator.
	Find(ctx context.Context, query map[string]any) ([]Record, error)
	// Patch shallow-merges params into the document.
	Patch(ctx context.Context, uid string, params map[string]any) (Record, error)
	SetStatus(ctx context.Context, uid string, status string) (Record, error)
	// TransitionStatus sets the status to "to" only if it is currently
	// "from", and returns ErrStatusChanged otherwise.
	TransitionStatus(ctx context.Context, uid, from, to string) (Record, error)
}

// normalize round-trips v through JSON so that numbers, nested maps and
// slices compare the way Postgres compares jsonb values.
func normalize(v map[string]any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// contains reports whether doc contains query: objects match when every query
// key is contained in the doc value, arrays when every query element is
// contained in some doc element, scalars when equal.
func contains(doc, query any) bool {
	switch q := query.(type) {
	case map[string]any:
		d, ok := doc.(map[string]any)
		if !ok {
			return false
		}
		for k, qv := range q {
			dv, ok := d[k]
			if !ok || !contains(dv, qv) {
				return false
			}
		}
		return true
	case []any:
		d, ok := doc.([]any)
		if !ok {
			return false
		}
		for _, qv := range q {
			found := false
			for _, dv := range d {
				if contains(dv, qv) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(doc, query)
	}
}
