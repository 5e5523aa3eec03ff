package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// OpenSQLite opens a SQLite database with WAL mode and a busy timeout. The
// parent directory is created if needed. ":memory:" is accepted.
func OpenSQLite(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	// One writer; SQLite serializes writes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}
	return db, nil
}

// SQLite is a Store backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens the database at path and runs migrations.
func NewSQLite(path string) (*SQLite, error) {
	db, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migration: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS file_summaries (
			scope        TEXT    NOT NULL,
			file_path    TEXT    NOT NULL,
			summary      TEXT    NOT NULL,
			structures   TEXT    NOT NULL,
			content_hash TEXT    NOT NULL,
			partial      INTEGER NOT NULL DEFAULT 0,
			updated_at   TEXT    NOT NULL,
			PRIMARY KEY (scope, file_path)
		);

		CREATE TABLE IF NOT EXISTS package_summaries (
			scope        TEXT NOT NULL,
			package_name TEXT NOT NULL,
			summary      TEXT NOT NULL,
			contains     TEXT NOT NULL,
			members      TEXT NOT NULL,
			dropped      TEXT NOT NULL,
			updated_at   TEXT NOT NULL,
			PRIMARY KEY (scope, package_name)
		);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(row scanner) (FileSummary, error) {
	var (
		f          FileSummary
		structures string
		partial    int
		updated    string
	)
	if err := row.Scan(&f.FilePath, &f.Summary, &structures, &f.ContentHash, &partial, &updated); err != nil {
		return f, err
	}
	if err := json.Unmarshal([]byte(structures), &f.Structures); err != nil {
		return f, fmt.Errorf("decoding structures of %s: %w", f.FilePath, err)
	}
	f.Partial = partial != 0
	t, err := time.Parse(time.RFC3339Nano, updated)
	if err != nil {
		return f, fmt.Errorf("decoding updated_at of %s: %w", f.FilePath, err)
	}
	f.UpdatedAt = t
	return f, nil
}

func scanPackage(row scanner) (PackageSummary, error) {
	var (
		p                PackageSummary
		members, dropped string
		updated          string
	)
	if err := row.Scan(&p.PackageName, &p.Summary, &p.Contains, &members, &dropped, &updated); err != nil {
		return p, err
	}
	if err := json.Unmarshal([]byte(members), &p.Members); err != nil {
		return p, fmt.Errorf("decoding members of %s: %w", p.PackageName, err)
	}
	if err := json.Unmarshal([]byte(dropped), &p.Dropped); err != nil {
		return p, fmt.Errorf("decoding dropped of %s: %w", p.PackageName, err)
	}
	t, err := time.Parse(time.RFC3339Nano, updated)
	if err != nil {
		return p, fmt.Errorf("decoding updated_at of %s: %w", p.PackageName, err)
	}
	p.UpdatedAt = t
	return p, nil
}

const fileColumns = `file_path, summary, structures, content_hash, partial, updated_at`
const packageColumns = `package_name, summary, contains, members, dropped, updated_at`

func (s *SQLite) GetFile(ctx context.Context, scope, path string) (*FileSummary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM file_summaries WHERE scope = ? AND file_path = ?`, scope, path)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: file %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *SQLite) ListFiles(ctx context.Context, scope string) ([]FileSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM file_summaries WHERE scope = ? ORDER BY file_path`, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FileSummary
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// PutFiles writes the batch in one transaction.
func (s *SQLite) PutFiles(ctx context.Context, scope string, files []FileSummary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO file_summaries (scope, `+fileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (scope, file_path) DO UPDATE SET
			summary = excluded.summary,
			structures = excluded.structures,
			content_hash = excluded.content_hash,
			partial = excluded.partial,
			updated_at = excluded.updated_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range files {
		structures, err := json.Marshal(f.Structures)
		if err != nil {
			return err
		}
		partial := 0
		if f.Partial {
			partial = 1
		}
		if _, err := stmt.ExecContext(ctx, scope, f.FilePath, f.Summary, string(structures),
			f.ContentHash, partial, f.UpdatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("writing %s: %w", f.FilePath, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) DeleteFiles(ctx context.Context, scope string, paths []string) error {
	return s.deleteKeys(ctx, `DELETE FROM file_summaries WHERE scope = ? AND file_path = ?`, scope, paths)
}

func (s *SQLite) GetPackage(ctx context.Context, scope, name string) (*PackageSummary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+packageColumns+` FROM package_summaries WHERE scope = ? AND package_name = ?`, scope, name)
	p, err := scanPackage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: package %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLite) ListPackages(ctx context.Context, scope string) ([]PackageSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+packageColumns+` FROM package_summaries WHERE scope = ? ORDER BY package_name`, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PackageSummary
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLite) PutPackage(ctx context.Context, scope string, pkg PackageSummary) error {
	members, err := json.Marshal(pkg.Members)
	if err != nil {
		return err
	}
	dropped, err := json.Marshal(pkg.Dropped)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO package_summaries (scope, `+packageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (scope, package_name) DO UPDATE SET
			summary = excluded.summary,
			contains = excluded.contains,
			members = excluded.members,
			dropped = excluded.dropped,
			updated_at = excluded.updated_at`,
		scope, pkg.PackageName, pkg.Summary, pkg.Contains, string(members), string(dropped),
		pkg.UpdatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLite) DeletePackages(ctx context.Context, scope string, names []string) error {
	return s.deleteKeys(ctx, `DELETE FROM package_summaries WHERE scope = ? AND package_name = ?`, scope, names)
}

func (s *SQLite) deleteKeys(ctx context.Context, query, scope string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, query, scope, k); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLite) DeleteScope(ctx context.Context, scope string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM file_summaries WHERE scope = ?`, scope); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM package_summaries WHERE scope = ?`, scope); err != nil {
		return err
	}
	return tx.Commit()
}

var _ Store = (*SQLite)(nil)
