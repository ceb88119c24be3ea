package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"jobtracker/internal/models"
)

var _ Store = (*SQLiteStore)(nil)

const sqliteMemoryPath = ":memory:"

// SQLiteStore persists job state in a local SQLite file.
//
// Writes are serialized by a process-local mutex. Several OS processes sharing the
// same file are not coordinated beyond SQLite's own locking and busy timeout.
type SQLiteStore struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
	opts options
}

// SQLitePathFromURL maps sqlite:///path, sqlite://path or a bare path to a file path.
func SQLitePathFromURL(raw string) string {
	switch {
	case raw == "sqlite:///:memory:" || raw == "sqlite://:memory:":
		return sqliteMemoryPath
	case strings.HasPrefix(raw, "sqlite:///"):
		return strings.TrimPrefix(raw, "sqlite:///")
	case strings.HasPrefix(raw, "sqlite://"):
		return strings.TrimPrefix(raw, "sqlite://")
	default:
		return raw
	}
}

// NewSQLiteStore opens (creating when needed) the database at path and applies migrations.
func NewSQLiteStore(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, &InitError{Backend: "sqlite", URL: path, Cause: CauseInvalidURL, Err: errors.New("db path is required")}
	}
	inMemory := path == sqliteMemoryPath
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, &InitError{Backend: "sqlite", URL: path, Cause: CauseUnknown, Err: fmt.Errorf("create db directory: %w", err)}
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, &InitError{Backend: "sqlite", URL: path, Cause: CauseUnknown, Err: fmt.Errorf("open sqlite: %w", err)}
	}
	if inMemory {
		// An in-memory database lives only as long as its connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		// No idle connections: every operation dials a short-lived one.
		db.SetMaxIdleConns(0)
	}

	s := &SQLiteStore{db: db, path: path, opts: buildOptions(opts)}
	if err := runMigrations(ctx, "sqlite", sqliteMigrator{db: db}, s.opts.logger); err != nil {
		_ = db.Close()
		return nil, &InitError{Backend: "sqlite", URL: path, Cause: CauseUnknown, Err: err}
	}
	return s, nil
}

func sqliteDSN(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(30000)"
}

// Path returns the database file backing the store.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// write runs fn in one transaction while holding the process-local write lock.
func (s *SQLiteStore) write(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateJob(ctx context.Context, jobID string, p models.CreateParams) error {
	meta, err := normalize(p.Metadata)
	if err != nil {
		return err
	}
	metaJSON, err := encodeMap(meta)
	if err != nil {
		return err
	}
	now := s.opts.stamp()
	return s.write(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM job_logs WHERE job_id = ?`, jobID); err != nil {
			return fmt.Errorf("clear job log: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO jobs (job_id, status, counters, error, description, metadata, created_at, updated_at, paused)
			VALUES (?, ?, '{}', NULL, ?, ?, ?, ?, 0)
			ON CONFLICT(job_id) DO UPDATE SET
				status = excluded.status,
				counters = excluded.counters,
				error = NULL,
				description = excluded.description,
				metadata = excluded.metadata,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at,
				paused = 0`,
			jobID, string(models.StatusQueued), emptyToNil(p.Description), metaJSON, now, now)
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) AppendLog(ctx context.Context, jobID, message string) error {
	now := s.opts.stamp()
	return s.write(ctx, func(tx *sql.Tx) error {
		if err := touch(ctx, tx, jobID, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO job_logs (job_id, message, created_at) VALUES (?, ?, ?)`,
			jobID, message, now); err != nil {
			return fmt.Errorf("insert log: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM job_logs
			WHERE job_id = ?
			  AND id NOT IN (
				SELECT id FROM job_logs
				WHERE job_id = ?
				ORDER BY id DESC
				LIMIT ?
			  )`, jobID, jobID, s.opts.logLimit); err != nil {
			return fmt.Errorf("trim log: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) UpdateCounters(ctx context.Context, jobID string, values map[string]any) error {
	vals, err := normalize(values)
	if err != nil {
		return err
	}
	return s.write(ctx, func(tx *sql.Tx) error {
		var raw sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT counters FROM jobs WHERE job_id = ?`, jobID).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return unknownJob(jobID)
		}
		if err != nil {
			return fmt.Errorf("read counters: %w", err)
		}
		encoded, err := encodeMap(merge(decodeMap(raw.String), vals))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET counters = ?, updated_at = ? WHERE job_id = ?`,
			encoded, s.opts.stamp(), jobID); err != nil {
			return fmt.Errorf("update counters: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) SetStatus(ctx context.Context, jobID string, status models.Status, errMsg *string) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		now := s.opts.stamp()
		query := `UPDATE jobs SET status = ?, updated_at = ? WHERE job_id = ?`
		args := []any{string(status), now, jobID}
		if errMsg != nil {
			query = `UPDATE jobs SET status = ?, updated_at = ?, error = NULLIF(?, '') WHERE job_id = ?`
			args = []any{string(status), now, *errMsg, jobID}
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		return requireRow(res, jobID)
	})
}

func (s *SQLiteStore) GetStatus(ctx context.Context, jobID string) (models.Snapshot, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Snapshot{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var (
		snap                   models.Snapshot
		status, counters       string
		errMsg, desc, metadata sql.NullString
	)
	err = tx.QueryRowContext(ctx, `
		SELECT job_id, status, counters, error, description, metadata, created_at, updated_at
		FROM jobs WHERE job_id = ?`, jobID).
		Scan(&snap.JobID, &status, &counters, &errMsg, &desc, &metadata, &snap.CreatedAt, &snap.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Snapshot{}, false, nil
	}
	if err != nil {
		return models.Snapshot{}, false, fmt.Errorf("scan job: %w", err)
	}
	snap.Status = models.Status(status)
	snap.Counters = decodeMap(counters)
	snap.Metadata = decodeMap(metadata.String)
	snap.Error = nullString(errMsg)
	snap.Description = nullString(desc)

	rows, err := tx.QueryContext(ctx, `SELECT message FROM job_logs WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return models.Snapshot{}, false, fmt.Errorf("query log: %w", err)
	}
	defer rows.Close()
	snap.Log = []string{}
	for rows.Next() {
		var msg string
		if err := rows.Scan(&msg); err != nil {
			return models.Snapshot{}, false, fmt.Errorf("scan log: %w", err)
		}
		snap.Log = append(snap.Log, msg)
	}
	if err := rows.Err(); err != nil {
		return models.Snapshot{}, false, fmt.Errorf("read log: %w", err)
	}
	return snap, true, nil
}

func (s *SQLiteStore) Pause(ctx context.Context, jobID string) (bool, error) {
	var ok bool
	err := s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE jobs SET paused = 1, status = ?, updated_at = ?
			WHERE job_id = ? AND status NOT IN (?, ?)`,
			string(models.StatusPaused), s.opts.stamp(), jobID,
			string(models.StatusCompleted), string(models.StatusFailed))
		if err != nil {
			return fmt.Errorf("pause job: %w", err)
		}
		n, err := res.RowsAffected()
		ok = n > 0
		return err
	})
	return ok, err
}

func (s *SQLiteStore) Resume(ctx context.Context, jobID string) (bool, error) {
	var ok bool
	err := s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE jobs
			SET paused = 0,
			    updated_at = ?,
			    status = CASE WHEN status = ? THEN ? ELSE status END
			WHERE job_id = ?`,
			s.opts.stamp(), string(models.StatusPaused), string(models.StatusRunning), jobID)
		if err != nil {
			return fmt.Errorf("resume job: %w", err)
		}
		n, err := res.RowsAffected()
		ok = n > 0
		return err
	})
	return ok, err
}

// WaitIfPaused polls the paused column; SQLite has no cross-connection wake-up.
func (s *SQLiteStore) WaitIfPaused(ctx context.Context, jobID string) error {
	return pollUntilClear(ctx, s.opts.pollInterval, func(ctx context.Context) (bool, error) {
		var paused bool
		err := s.db.QueryRowContext(ctx, `SELECT paused FROM jobs WHERE job_id = ?`, jobID).Scan(&paused)
		if errors.Is(err, sql.ErrNoRows) {
			return false, unknownJob(jobID)
		}
		if err != nil {
			return false, fmt.Errorf("read pause flag: %w", err)
		}
		return paused, nil
	})
}

func touch(ctx context.Context, tx *sql.Tx, jobID string, now float64) error {
	res, err := tx.ExecContext(ctx, `UPDATE jobs SET updated_at = ? WHERE job_id = ?`, now, jobID)
	if err != nil {
		return fmt.Errorf("touch job: %w", err)
	}
	return requireRow(res, jobID)
}

func requireRow(res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return unknownJob(jobID)
	}
	return nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

// pollUntilClear calls paused every interval until it reports false, fails, or ctx ends.
func pollUntilClear(ctx context.Context, interval time.Duration, paused func(context.Context) (bool, error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		held, err := paused(ctx)
		if err != nil {
			return err
		}
		if !held {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type sqliteMigrator struct{ db *sql.DB }

func (m sqliteMigrator) applied(ctx context.Context, version int) (bool, error) {
	if _, err := m.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return false, err
	}
	var n int
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (m sqliteMigrator) apply(ctx context.Context, mig migration) error {
	if _, err := m.db.ExecContext(ctx, mig.sql); err != nil {
		return err
	}
	_, err := m.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, mig.version)
	return err
}
