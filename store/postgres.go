package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		uid        TEXT PRIMARY KEY,
		doc        JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS tasks_doc_idx ON tasks USING GIN (doc jsonb_path_ops)`,
}

// Postgres stores tasks as jsonb documents.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate creates the tasks table if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (p *Postgres) Create(ctx context.Context, uid string, doc map[string]any) (Record, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return Record{}, fmt.Errorf("encode task: %w", err)
	}

	row := p.pool.QueryRow(ctx, `
		INSERT INTO tasks (uid, doc)
		VALUES ($1, $2::jsonb)
		RETURNING uid, doc, created_at, updated_at`,
		uid, string(data),
	)
	return scanRecord(row)
}

func (p *Postgres) Get(ctx context.Context, uid string) (Record, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT uid, doc, created_at, updated_at
		FROM tasks WHERE uid = $1`, uid)
	return scanRecord(row)
}

func (p *Postgres) Find(ctx context.Context, query map[string]any) ([]Record, error) {
	data, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	rows, err := p.pool.Query(ctx, `
		SELECT uid, doc, created_at, updated_at
		FROM tasks WHERE doc @> $1::jsonb
		ORDER BY created_at`, string(data))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (p *Postgres) Patch(ctx context.Context, uid string, params map[string]any) (Record, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return Record{}, fmt.Errorf("encode patch: %w", err)
	}

	row := p.pool.QueryRow(ctx, `
		UPDATE tasks SET doc = doc || $2::jsonb, updated_at = CURRENT_TIMESTAMP
		WHERE uid = $1
		RETURNING uid, doc, created_at, updated_at`,
		uid, string(data),
	)
	return scanRecord(row)
}

func (p *Postgres) SetStatus(ctx context.Context, uid string, status string) (Record, error) {
	row := p.pool.QueryRow(ctx, `
		UPDATE tasks SET doc = doc || jsonb_build_object('status', $2::text), updated_at = CURRENT_TIMESTAMP
		WHERE uid = $1
		RETURNING uid, doc, created_at, updated_at`,
		uid, status,
	)
	return scanRecord(row)
}

func (p *Postgres) TransitionStatus(ctx context.Context, uid, from, to string) (Record, error) {
	row := p.pool.QueryRow(ctx, `
		UPDATE tasks SET doc = doc || jsonb_build_object('status', $3::text), updated_at = CURRENT_TIMESTAMP
		WHERE uid = $1 AND doc->>'status' = $2
		RETURNING uid, doc, created_at, updated_at`,
		uid, from, to,
	)
	rec, err := scanRecord(row)
	if !errors.Is(err, ErrNotFound) {
		return rec, err
	}
	// no row updated: tell a missing task from one in another status
	current, err := p.Get(ctx, uid)
	if err != nil {
		return Record{}, err
	}
	return Record{}, fmt.Errorf("%w: %s is %s, not %s", ErrStatusChanged, uid, current.Status(), from)
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.UID, &rec.Doc, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}
