package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobtracker/internal/models"
)

var _ Store = (*PostgresStore)(nil)

// PostgresStore wraps pgxpool for job-state persistence in PostgreSQL. It shares
// the jobs/job_logs layout of the SQLite backend; counters merge atomically in SQL.
type PostgresStore struct {
	pool *pgxpool.Pool
	opts options
}

// NewPostgresStore creates a pooled connection, pings it and applies migrations.
func NewPostgresStore(ctx context.Context, dsn string, opts ...Option) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, &InitError{Backend: "postgres", URL: dsn, Cause: CauseInvalidURL, Err: fmt.Errorf("parse postgres dsn: %w", err)}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, &InitError{Backend: "postgres", URL: dsn, Cause: CauseUnknown, Err: fmt.Errorf("connect postgres: %w", err)}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &InitError{Backend: "postgres", URL: dsn, Cause: classifyPostgresError(err), Err: err}
	}
	s := &PostgresStore{pool: pool, opts: buildOptions(opts)}
	if err := runMigrations(ctx, "postgres", postgresMigrator{pool: pool}, s.opts.logger); err != nil {
		pool.Close()
		return nil, &InitError{Backend: "postgres", URL: dsn, Cause: CauseUnknown, Err: err}
	}
	return s, nil
}

func classifyPostgresError(err error) InitCause {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "28P01", "28000":
			return CauseAuth
		case "3D000":
			return CauseDatabaseIndex
		}
		return CauseUnknown
	}
	return CauseUnreachable
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, jobID string, p models.CreateParams) error {
	meta, err := normalize(p.Metadata)
	if err != nil {
		return err
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	now := s.opts.stamp()
	if _, err := tx.Exec(ctx, `DELETE FROM job_logs WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("clear job log: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO jobs (job_id, status, counters, error, description, metadata, created_at, updated_at, paused)
		VALUES ($1, $2, '{}'::jsonb, NULL, $3, $4, $5, $5, FALSE)
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			counters = EXCLUDED.counters,
			error = NULL,
			description = EXCLUDED.description,
			metadata = EXCLUDED.metadata,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at,
			paused = FALSE
	`, jobID, string(models.StatusQueued), emptyToNil(p.Description), metaJSON, now)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendLog(ctx context.Context, jobID, message string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := s.opts.stamp()
	tag, err := tx.Exec(ctx, `UPDATE jobs SET updated_at = $2 WHERE job_id = $1`, jobID, now)
	if err != nil {
		return fmt.Errorf("touch job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return unknownJob(jobID)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO job_logs (job_id, message, created_at) VALUES ($1, $2, $3)
	`, jobID, message, now); err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM job_logs
		WHERE job_id = $1
		  AND id NOT IN (
			SELECT id FROM job_logs WHERE job_id = $1 ORDER BY id DESC LIMIT $2
		  )
	`, jobID, s.opts.logLimit); err != nil {
		return fmt.Errorf("trim log: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// UpdateCounters merges with the jsonb concatenation operator, so concurrent
// updates to distinct keys do not lose each other.
func (s *PostgresStore) UpdateCounters(ctx context.Context, jobID string, values map[string]any) error {
	vals, err := normalize(values)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(vals)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET counters = counters || $2::jsonb, updated_at = $3 WHERE job_id = $1
	`, jobID, raw, s.opts.stamp())
	if err != nil {
		return fmt.Errorf("update counters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return unknownJob(jobID)
	}
	return nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, jobID string, status models.Status, errMsg *string) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if errMsg == nil {
		tag, err = s.pool.Exec(ctx, `
			UPDATE jobs SET status = $2, updated_at = $3 WHERE job_id = $1
		`, jobID, string(status), s.opts.stamp())
	} else {
		tag, err = s.pool.Exec(ctx, `
			UPDATE jobs SET status = $2, updated_at = $3, error = NULLIF($4, '') WHERE job_id = $1
		`, jobID, string(status), s.opts.stamp(), *errMsg)
	}
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return unknownJob(jobID)
	}
	return nil
}

func (s *PostgresStore) GetStatus(ctx context.Context, jobID string) (models.Snapshot, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return models.Snapshot{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		snap                models.Snapshot
		status              string
		counters, metadata  []byte
		errMsg, description pgtype.Text
	)
	err = tx.QueryRow(ctx, `
		SELECT job_id, status, counters::text, error, description, metadata::text, created_at, updated_at
		FROM jobs WHERE job_id = $1
	`, jobID).Scan(&snap.JobID, &status, &counters, &errMsg, &description, &metadata, &snap.CreatedAt, &snap.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Snapshot{}, false, nil
	}
	if err != nil {
		return models.Snapshot{}, false, fmt.Errorf("scan job: %w", err)
	}
	snap.Status = models.Status(status)
	snap.Counters = decodeMap(string(counters))
	snap.Metadata = decodeMap(string(metadata))
	snap.Error = textPtr(errMsg)
	snap.Description = textPtr(description)

	rows, err := tx.Query(ctx, `SELECT message FROM job_logs WHERE job_id = $1 ORDER BY id`, jobID)
	if err != nil {
		return models.Snapshot{}, false, fmt.Errorf("query log: %w", err)
	}
	log, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return models.Snapshot{}, false, fmt.Errorf("read log: %w", err)
	}
	if log == nil {
		log = []string{}
	}
	snap.Log = log
	return snap, true, nil
}

func (s *PostgresStore) Pause(ctx context.Context, jobID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET paused = TRUE, status = $2, updated_at = $3
		WHERE job_id = $1 AND status NOT IN ($4, $5)
	`, jobID, string(models.StatusPaused), s.opts.stamp(), string(models.StatusCompleted), string(models.StatusFailed))
	if err != nil {
		return false, fmt.Errorf("pause job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) Resume(ctx context.Context, jobID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET paused = FALSE,
		    updated_at = $2,
		    status = CASE WHEN status = $3 THEN $4 ELSE status END
		WHERE job_id = $1
	`, jobID, s.opts.stamp(), string(models.StatusPaused), string(models.StatusRunning))
	if err != nil {
		return false, fmt.Errorf("resume job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) WaitIfPaused(ctx context.Context, jobID string) error {
	return pollUntilClear(ctx, s.opts.pollInterval, func(ctx context.Context) (bool, error) {
		var paused bool
		err := s.pool.QueryRow(ctx, `SELECT paused FROM jobs WHERE job_id = $1`, jobID).Scan(&paused)
		if errors.Is(err, pgx.ErrNoRows) {
			return false, unknownJob(jobID)
		}
		if err != nil {
			return false, fmt.Errorf("read pause flag: %w", err)
		}
		return paused, nil
	})
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

type postgresMigrator struct{ pool *pgxpool.Pool }

func (m postgresMigrator) applied(ctx context.Context, version int) (bool, error) {
	if _, err := m.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		return false, err
	}
	var exists bool
	err := m.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, version).Scan(&exists)
	return exists, err
}

func (m postgresMigrator) apply(ctx context.Context, mig migration) error {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, mig.sql); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, mig.version); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
