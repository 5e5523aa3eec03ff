package runtime

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/seagent/internal/config"
	"github.com/fyrsmithlabs/seagent/internal/store"
)

// SQLRepository persists runtime records in SQLite. Records are stored as
// JSON documents next to the columns they are looked up by.
type SQLRepository struct {
	db *sql.DB
}

// NewSQLRepository opens the database at path and runs migrations.
func NewSQLRepository(path string) (*SQLRepository, error) {
	db, err := store.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	r := &SQLRepository{db: db}
	if err := r.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("runtime: migration: %w", err)
	}
	return r, nil
}

func (r *SQLRepository) migrate() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS assistants (
			assistant_id TEXT PRIMARY KEY,
			graph_id     TEXT NOT NULL,
			config       TEXT NOT NULL,
			version      INTEGER NOT NULL,
			metadata     TEXT NOT NULL,
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS threads (
			thread_id TEXT PRIMARY KEY,
			body      TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS runs (
			thread_id TEXT NOT NULL,
			run_id    TEXT NOT NULL,
			status    TEXT NOT NULL,
			body      TEXT NOT NULL,
			PRIMARY KEY (thread_id, run_id)
		);

		CREATE INDEX IF NOT EXISTS runs_status ON runs (status);
	`)
	return err
}

// Close closes the database.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func (r *SQLRepository) GetAssistant(ctx context.Context, id string) (*Assistant, error) {
	var (
		a                    Assistant
		rawConfig, metadata  string
		createdAt, updatedAt string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT assistant_id, graph_id, config, version, metadata, created_at, updated_at
		FROM assistants WHERE assistant_id = ?`, id).
		Scan(&a.ID, &a.GraphID, &rawConfig, &a.Version, &metadata, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("assistant", id)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(rawConfig), &a.raw); err != nil {
		return nil, fmt.Errorf("decoding config of %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(metadata), &a.Metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata of %s: %w", id, err)
	}
	cfg, err := config.DecodeAssistantConfig(a.GraphID, a.raw)
	if err != nil {
		return nil, fmt.Errorf("assistant %s: %w", id, err)
	}
	a.Config = cfg
	if a.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("decoding created_at of %s: %w", id, err)
	}
	if a.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("decoding updated_at of %s: %w", id, err)
	}
	return &a, nil
}

func (r *SQLRepository) PutAssistant(ctx context.Context, a Assistant) error {
	rawConfig, err := json.Marshal(a.raw)
	if err != nil {
		return err
	}
	metadata, err := json.Marshal(a.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO assistants (assistant_id, graph_id, config, version, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (assistant_id) DO UPDATE SET
			graph_id = excluded.graph_id,
			config = excluded.config,
			version = excluded.version,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		a.ID, a.GraphID, string(rawConfig), a.Version, string(metadata),
		a.CreatedAt.UTC().Format(time.RFC3339Nano), a.UpdatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (r *SQLRepository) DeleteAssistant(ctx context.Context, id string) error {
	return r.deleteOne(ctx, "assistant", id, `DELETE FROM assistants WHERE assistant_id = ?`, id)
}

func (r *SQLRepository) GetThread(ctx context.Context, id string) (*Thread, error) {
	var body string
	err := r.db.QueryRowContext(ctx, `SELECT body FROM threads WHERE thread_id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("thread", id)
	}
	if err != nil {
		return nil, err
	}
	var t Thread
	if err := json.Unmarshal([]byte(body), &t); err != nil {
		return nil, fmt.Errorf("decoding thread %s: %w", id, err)
	}
	return &t, nil
}

func (r *SQLRepository) PutThread(ctx context.Context, t Thread) error {
	body, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO threads (thread_id, body) VALUES (?, ?)
		ON CONFLICT (thread_id) DO UPDATE SET body = excluded.body`, t.ID, string(body))
	return err
}

func (r *SQLRepository) DeleteThread(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE thread_id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("thread", id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE thread_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SQLRepository) GetRun(ctx context.Context, threadID, runID string) (*Run, error) {
	var body string
	err := r.db.QueryRowContext(ctx,
		`SELECT body FROM runs WHERE thread_id = ? AND run_id = ?`, threadID, runID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("run", runID)
	}
	if err != nil {
		return nil, err
	}
	return decodeRun(body)
}

func (r *SQLRepository) PutRun(ctx context.Context, run Run) error {
	body, err := json.Marshal(run)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO runs (thread_id, run_id, status, body) VALUES (?, ?, ?, ?)
		ON CONFLICT (thread_id, run_id) DO UPDATE SET
			status = excluded.status,
			body = excluded.body`,
		run.ThreadID, run.ID, string(run.Status), string(body))
	return err
}

// ListRuns orders by rowid, which upserts keep, so the order is creation
// order.
func (r *SQLRepository) ListRuns(ctx context.Context, threadID string) ([]Run, error) {
	return r.queryRuns(ctx, `SELECT body FROM runs WHERE thread_id = ? ORDER BY rowid`, threadID)
}

func (r *SQLRepository) DeleteRun(ctx context.Context, threadID, runID string) error {
	return r.deleteOne(ctx, "run", runID,
		`DELETE FROM runs WHERE thread_id = ? AND run_id = ?`, threadID, runID)
}

func (r *SQLRepository) ListUnfinished(ctx context.Context) ([]Run, error) {
	return r.queryRuns(ctx, `SELECT body FROM runs WHERE status NOT IN (?, ?, ?) ORDER BY rowid`,
		string(RunSucceeded), string(RunFailed), string(RunCancelled))
}

func (r *SQLRepository) queryRuns(ctx context.Context, query string, args ...any) ([]Run, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		run, err := decodeRun(body)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

func (r *SQLRepository) deleteOne(ctx context.Context, what, id, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(what, id)
	}
	return nil
}

func decodeRun(body string) (*Run, error) {
	var run Run
	if err := json.Unmarshal([]byte(body), &run); err != nil {
		return nil, fmt.Errorf("decoding run: %w", err)
	}
	return &run, nil
}

var _ Repository = (*SQLRepository)(nil)
