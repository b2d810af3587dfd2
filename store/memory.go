package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store used when no database is configured.
type Memory struct {
	mu    sync.RWMutex
	tasks map[string]*Record
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		tasks: make(map[string]*Record),
		now:   time.Now,
	}
}

func (m *Memory) Create(ctx context.Context, uid string, doc map[string]any) (Record, error) {
	normalized, err := normalize(doc)
	if err != nil {
		return Record{}, fmt.Errorf("encode task: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tasks[uid]; exists {
		return Record{}, fmt.Errorf("task %s already exists", uid)
	}
	now := m.now()
	rec := &Record{UID: uid, Doc: normalized, CreatedAt: now, UpdatedAt: now}
	m.tasks[uid] = rec
	return copyRecord(rec), nil
}

func (m *Memory) Get(ctx context.Context, uid string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.tasks[uid]
	if !ok {
		return Record{}, ErrNotFound
	}
	return copyRecord(rec), nil
}

func (m *Memory) Find(ctx context.Context, query map[string]any) ([]Record, error) {
	normalized, err := normalize(query)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	records := []Record{}
	for _, rec := range m.tasks {
		if contains(rec.Doc, normalized) {
			records = append(records, copyRecord(rec))
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

func (m *Memory) Patch(ctx context.Context, uid string, params map[string]any) (Record, error) {
	normalized, err := normalize(params)
	if err != nil {
		return Record{}, fmt.Errorf("encode patch: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.tasks[uid]
	if !ok {
		return Record{}, ErrNotFound
	}
	for k, v := range normalized {
		rec.Doc[k] = v
	}
	rec.UpdatedAt = m.now()
	return copyRecord(rec), nil
}

func (m *Memory) SetStatus(ctx context.Context, uid string, status string) (Record, error) {
	return m.Patch(ctx, uid, map[string]any{"status": status})
}

func (m *Memory) TransitionStatus(ctx context.Context, uid, from, to string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.tasks[uid]
	if !ok {
		return Record{}, ErrNotFound
	}
	if rec.Status() != from {
		return Record{}, fmt.Errorf("%w: %s is %s, not %s", ErrStatusChanged, uid, rec.Status(), from)
	}
	rec.Doc["status"] = to
	rec.UpdatedAt = m.now()
	return copyRecord(rec), nil
}

// copyRecord detaches the top level of the document from the stored one.
// Nested values are never mutated in place, only replaced.
func copyRecord(rec *Record) Record {
	out := *rec
	out.Doc = make(map[string]any, len(rec.Doc))
	for k, v := range rec.Doc {
		out.Doc[k] = v
	}
	return out
}
