package persist

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"convertq/internal/config"
	"convertq/internal/logging"
	"convertq/internal/media"
	"convertq/internal/queue"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current database schema version. Bump this when the
// schema changes; the database is recreated rather than migrated.
const schemaVersion = 1

// snapshotVersion tags saved queue snapshots. A loaded snapshot with a
// different version is discarded wholesale rather than partially migrated.
const snapshotVersion = 1

const outputDirKey = "last_output_dir"

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// ErrLocked indicates another process already holds the queue database.
var ErrLocked = errors.New("queue database is locked by another instance")

// Store persists queue snapshots in a SQLite database guarded by a file
// lock so two processes never share one queue.
type Store struct {
	db        *sql.DB
	path      string
	lock      *flock.Flock
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// Open initializes or connects to the queue database under the state
// directory and acquires the single-instance lock.
func Open(cfg *config.Config, logger *slog.Logger) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	if logger == nil {
		logger = logging.Discard()
	}

	lock := flock.New(filepath.Join(cfg.Paths.StateDir, "convertq.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	dbPath := filepath.Join(cfg.Paths.StateDir, "queue.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			_ = lock.Unlock()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	retention := time.Duration(cfg.Queue.RetentionDays) * 24 * time.Hour
	store := &Store{
		db:        db,
		path:      dbPath,
		lock:      lock,
		retention: retention,
		logger:    logging.WithComponent(logger, "persist"),
		now:       time.Now,
	}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}
	return store, nil
}

// Close releases the database and the single-instance lock.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.lock != nil {
		if err := s.lock.Unlock(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	err = s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		// An old database is abandoned, not migrated. Drop everything and
		// start fresh; the snapshot inside it would be discarded anyway.
		s.logger.Warn("recreating queue database", "found_version", version, "want_version", schemaVersion)
		if err := s.dropSchema(ctx); err != nil {
			return err
		}
		return s.createSchema(ctx)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func (s *Store) dropSchema(ctx context.Context) error {
	for _, table := range []string{"jobs", "snapshot_meta", "kv", "schema_version"} {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("drop table %s: %w", table, err)
		}
	}
	return nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// SaveJobs writes the full queue snapshot, replacing the previous one. Any
// Processing job is coerced to Pending with progress dropped, since an
// in-flight conversion has no meaning across a process boundary.
func (s *Store) SaveJobs(jobs []queue.Job) error {
	ctx := context.Background()
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin save tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, "DELETE FROM jobs"); err != nil {
			return fmt.Errorf("clear jobs: %w", err)
		}
		for _, job := range jobs {
			if job.Status == queue.StatusProcessing {
				job.Status = queue.StatusPending
				job.Progress = nil
			}
			mediaJSON, err := json.Marshal(job.Media)
			if err != nil {
				return fmt.Errorf("marshal media for %s: %w", job.ID, err)
			}
			settingsJSON, err := json.Marshal(job.Settings)
			if err != nil {
				return fmt.Errorf("marshal settings for %s: %w", job.ID, err)
			}
			completedAt := ""
			if !job.CompletedAt.IsZero() {
				completedAt = job.CompletedAt.UTC().Format(time.RFC3339Nano)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO jobs (
                    id, source_path, display_name, media_json, output_format,
                    output_path, settings_json, status, error_message, added_at, completed_at
                ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				job.ID,
				job.SourcePath,
				job.DisplayName,
				string(mediaJSON),
				job.OutputFormat,
				job.OutputPath,
				string(settingsJSON),
				string(job.Status),
				job.ErrorMessage,
				job.AddedAt.UTC().Format(time.RFC3339Nano),
				completedAt,
			); err != nil {
				return fmt.Errorf("insert job %s: %w", job.ID, err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO snapshot_meta (id, version, saved_at) VALUES (1, ?, ?)
             ON CONFLICT(id) DO UPDATE SET version = excluded.version, saved_at = excluded.saved_at`,
			snapshotVersion,
			s.now().UnixMilli(),
		); err != nil {
			return fmt.Errorf("record snapshot meta: %w", err)
		}
		return tx.Commit()
	})
}

// LoadJobs reads the persisted snapshot. It returns no jobs when none was
// saved, when the snapshot version does not match, or when the snapshot is
// older than the retention window; stale queues are abandoned, not resumed.
func (s *Store) LoadJobs() ([]queue.Job, error) {
	ctx := context.Background()

	var (
		version int
		savedAt int64
	)
	err := s.db.QueryRowContext(ctx, "SELECT version, saved_at FROM snapshot_meta WHERE id = 1").Scan(&version, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot meta: %w", err)
	}
	if version != snapshotVersion {
		s.logger.Warn("discarding snapshot", "reason", "version mismatch", "found", version, "want", snapshotVersion)
		return nil, nil
	}
	if s.retention > 0 {
		age := s.now().Sub(time.UnixMilli(savedAt))
		if age > s.retention {
			s.logger.Warn("discarding snapshot", "reason", "stale", "age", age.String())
			return nil, nil
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_path, display_name, media_json, output_format,
                output_path, settings_json, status, error_message, added_at, completed_at
         FROM jobs`)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []queue.Job
	for rows.Next() {
		var (
			job          queue.Job
			mediaJSON    string
			settingsJSON string
			status       string
			addedAt      string
			completedAt  string
		)
		if err := rows.Scan(
			&job.ID,
			&job.SourcePath,
			&job.DisplayName,
			&mediaJSON,
			&job.OutputFormat,
			&job.OutputPath,
			&settingsJSON,
			&status,
			&job.ErrorMessage,
			&addedAt,
			&completedAt,
		); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		parsed, ok := queue.ParseStatus(status)
		if !ok {
			s.logger.Warn("skipping job with unknown status", "job_id", job.ID, "status", status)
			continue
		}
		// Defense in depth: a snapshot written by an older build could
		// still carry Processing.
		if parsed == queue.StatusProcessing {
			parsed = queue.StatusPending
		}
		job.Status = parsed
		if err := json.Unmarshal([]byte(mediaJSON), &job.Media); err != nil {
			job.Media = media.Descriptor{Type: media.TypeUnknown}
		}
		if err := json.Unmarshal([]byte(settingsJSON), &job.Settings); err != nil {
			job.Settings = queue.Settings{}
		}
		if ts, err := time.Parse(time.RFC3339Nano, addedAt); err == nil {
			job.AddedAt = ts
		}
		if completedAt != "" {
			if ts, err := time.Parse(time.RFC3339Nano, completedAt); err == nil {
				job.CompletedAt = ts
			}
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// OutputDir returns the persisted last-used output directory, or empty when
// none was saved.
func (s *Store) OutputDir() (string, error) {
	var value string
	err := s.db.QueryRowContext(context.Background(),
		"SELECT value FROM kv WHERE key = ?", outputDirKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read output dir: %w", err)
	}
	return value, nil
}

// SetOutputDir records the last-used output directory.
func (s *Store) SetOutputDir(dir string) error {
	ctx := context.Background()
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO kv (key, value) VALUES (?, ?)
             ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			outputDirKey, dir)
		return err
	})
}

// ClearOutputDir forgets the persisted output directory.
func (s *Store) ClearOutputDir() error {
	ctx := context.Background()
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", outputDirKey)
		return err
	})
}

var _ queue.Persister = (*Store)(nil)
