package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"facet/internal/config"
)

// Store manages job persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open initializes or connects to the job database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.DataDir, "jobs.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
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
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Insert persists a new job record with its input locators.
func (s *Store) Insert(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	ctx = ensureContext(ctx)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	job.UpdatedAt = time.Now().UTC()
	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO jobs (
            id, owner, status, quality, stage, progress, output_ref, log_ref,
            error_message, created_at, started_at, completed_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.Owner,
		job.Status,
		nullableString(string(job.Quality)),
		nullableString(job.Stage),
		job.Progress,
		nullableString(job.OutputRef),
		nullableString(job.LogRef),
		nullableString(job.ErrorMessage),
		job.CreatedAt.UTC().Format(time.RFC3339Nano),
		nullableTime(job.StartedAt),
		nullableTime(job.CompletedAt),
		job.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	for position, locator := range job.InputRefs {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO job_inputs (job_id, position, locator) VALUES (?, ?, ?)`,
			job.ID, position, locator,
		); err != nil {
			return fmt.Errorf("insert job input: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}

// Update persists changes to an existing job record. Input locators are
// immutable after creation and are not rewritten.
func (s *Store) Update(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE jobs
         SET owner = ?, status = ?, quality = ?, stage = ?, progress = ?,
             output_ref = ?, log_ref = ?, error_message = ?,
             started_at = ?, completed_at = ?, updated_at = ?
         WHERE id = ?`,
		job.Owner,
		job.Status,
		nullableString(string(job.Quality)),
		nullableString(job.Stage),
		job.Progress,
		nullableString(job.OutputRef),
		nullableString(job.LogRef),
		nullableString(job.ErrorMessage),
		nullableTime(job.StartedAt),
		nullableTime(job.CompletedAt),
		job.UpdatedAt.Format(time.RFC3339Nano),
		job.ID,
	); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// GetByID fetches a job by identifier, or nil when absent.
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if err := s.loadInputs(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// List returns jobs filtered by status set (or all jobs when no status is
// provided) ordered by creation time.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	ctx = ensureContext(ctx)

	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, job := range jobs {
		if err := s.loadInputs(ctx, job); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

// Remove deletes a job and its input locators.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// FailInterrupted marks queued, initializing, and running jobs as failed.
// Called once during cold start: in-flight engine processes do not survive
// an orchestrator restart, so those jobs are not resumable.
func (s *Store) FailInterrupted(ctx context.Context, reason string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
         WHERE status IN (?, ?, ?)`,
		StatusFailed,
		reason,
		now,
		now,
		StatusQueued,
		StatusInitializing,
		StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("fail interrupted jobs: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	// Zero rows for every status, so consumers see absent states explicitly.
	stats := make(map[Status]int, len(allStatuses))
	for _, status := range AllStatuses() {
		stats[status] = 0
	}
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func (s *Store) loadInputs(ctx context.Context, job *Job) error {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT locator FROM job_inputs WHERE job_id = ? ORDER BY position`,
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("load job inputs: %w", err)
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var locator string
		if err := rows.Scan(&locator); err != nil {
			return err
		}
		refs = append(refs, locator)
	}
	job.InputRefs = refs
	return rows.Err()
}

const jobColumns = "id, owner, status, quality, stage, progress, output_ref, log_ref, error_message, created_at, started_at, completed_at, updated_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id           string
		owner        string
		statusStr    string
		quality      sql.NullString
		stage        sql.NullString
		progress     int
		outputRef    sql.NullString
		logRef       sql.NullString
		errorMessage sql.NullString
		createdRaw   sql.NullString
		startedRaw   sql.NullString
		completedRaw sql.NullString
		updatedRaw   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&owner,
		&statusStr,
		&quality,
		&stage,
		&progress,
		&outputRef,
		&logRef,
		&errorMessage,
		&createdRaw,
		&startedRaw,
		&completedRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:           id,
		Owner:        owner,
		Status:       Status(statusStr),
		Quality:      Quality(quality.String),
		Stage:        stage.String,
		Progress:     progress,
		OutputRef:    outputRef.String,
		LogRef:       logRef.String,
		ErrorMessage: errorMessage.String,
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	if startedRaw.Valid {
		if started, err := parseTimeString(startedRaw.String); err == nil {
			job.StartedAt = &started
		}
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			job.CompletedAt = &completed
		}
	}
	return job, nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
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

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) execWithoutResultRetry(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
