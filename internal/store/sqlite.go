package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/concord/internal/model"

	_ "modernc.org/sqlite"
)

const memoryDSN = ":memory:"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
    id         TEXT PRIMARY KEY,
    job_type   TEXT NOT NULL,
    status     TEXT NOT NULL,
    error      TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS tasks (
    id          TEXT PRIMARY KEY,
    job_id      TEXT NOT NULL,
    task_id     TEXT NOT NULL,
    task_type   TEXT NOT NULL,
    assignee    TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL,
    payload     BLOB,
    output      BLOB,
    exit_code   INTEGER,
    error       TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER,
    created_at  DATETIME NOT NULL,
    started_at  DATETIME,
    finished_at DATETIME
)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_job_id ON tasks (job_id)`,
	`CREATE TABLE IF NOT EXISTS task_logs (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id    TEXT NOT NULL,
    seq        INTEGER NOT NULL,
    line       TEXT NOT NULL,
    created_at DATETIME NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_task_logs_task_id ON task_logs (task_id, seq)`,
}

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
// ":memory:" gives a private database that lives as long as the store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dataSourceName(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every connection to :memory: opens a fresh database.
	if dbPath == memoryDSN {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// dataSourceName carries the pragmas in the DSN so every pooled connection
// gets them. Transactions begin IMMEDIATE and wait on busy_timeout.
func dataSourceName(dbPath string) string {
	if dbPath == memoryDSN {
		return dbPath
	}
	return "file:" + dbPath + "?" + connPragmas
}

const connPragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateJob inserts a new job record.
func (s *SQLiteStore) CreateJob(ctx context.Context, j *model.Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, job_type, status, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		j.ID, j.Type, j.Status, j.Error, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	j := &model.Job{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, job_type, status, error, created_at, updated_at FROM jobs WHERE id = ?`, id,
	).Scan(&j.ID, &j.Type, &j.Status, &j.Error, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ListJobs returns a page of jobs, newest first, and the total count.
func (s *SQLiteStore) ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, job_type, status, error, created_at, updated_at
		FROM jobs ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		j := &model.Job{}
		if err := rows.Scan(&j.ID, &j.Type, &j.Status, &j.Error, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate jobs: %w", err)
	}

	return jobs, total, nil
}

// UpdateJobStatus moves a job to status, validating the transition against
// the current status inside one transaction. errMsg replaces the stored
// error when non-empty.
func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, id, status, errMsg string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM jobs WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read job status: %w", err)
	}

	if !model.ValidJobTransition(current, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = CASE WHEN ? = '' THEN error ELSE ? END, updated_at = ? WHERE id = ?`,
		status, errMsg, errMsg, time.Now().UTC(), id,
	); err != nil {
		return fmt.Errorf("update job status: %w", err)
	}

	return tx.Commit()
}

// GetJobStats returns job counts by status and type.
func (s *SQLiteStore) GetJobStats(ctx context.Context) (*JobStats, error) {
	stats := &JobStats{
		CountByStatus: make(map[string]int),
		CountByType:   make(map[string]int),
	}

	if err := s.countBy(ctx, "SELECT status, COUNT(*) FROM jobs GROUP BY status", stats.CountByStatus); err != nil {
		return nil, fmt.Errorf("count jobs by status: %w", err)
	}
	if err := s.countBy(ctx, "SELECT job_type, COUNT(*) FROM jobs GROUP BY job_type", stats.CountByType); err != nil {
		return nil, fmt.Errorf("count jobs by type: %w", err)
	}
	for _, n := range stats.CountByStatus {
		stats.Total += n
	}
	return stats, nil
}

func (s *SQLiteStore) countBy(ctx context.Context, query string, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
	}
	return rows.Err()
}

const taskColumns = `id, job_id, task_id, task_type, assignee, status, payload,
	output, exit_code, error, duration_ms, created_at, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*model.TaskRecord, error) {
	r := &model.TaskRecord{}
	var payload []byte
	err := row.Scan(
		&r.ID, &r.JobID, &r.TaskID, &r.TaskType, &r.Assignee, &r.Status, &payload,
		&r.Output, &r.ExitCode, &r.Error, &r.DurationMS, &r.CreatedAt, &r.StartedAt, &r.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		r.Payload = payload
	}
	return r, nil
}

// CreateTask inserts a new task record.
func (s *SQLiteStore) CreateTask(ctx context.Context, r *model.TaskRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.JobID, r.TaskID, r.TaskType, r.Assignee, r.Status, []byte(r.Payload),
		r.Output, r.ExitCode, r.Error, r.DurationMS, r.CreatedAt, r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask retrieves a task record by ID.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*model.TaskRecord, error) {
	r, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return r, nil
}

// ListTasks returns a page of task records, newest first, and the total count.
func (s *SQLiteStore) ListTasks(ctx context.Context, limit, offset int) ([]*model.TaskRecord, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var records []*model.TaskRecord
	for rows.Next() {
		r, err := scanTask(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan task: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate tasks: %w", err)
	}

	return records, total, nil
}

// UpdateTaskStatus validates and applies a status transition. Moving to
// running sets started_at; moving to a terminal status sets finished_at.
func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, id, status string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := checkTaskTransition(ctx, tx, id, status); err != nil {
		return err
	}

	now := time.Now().UTC()
	switch status {
	case model.TaskRunning:
		_, err = tx.ExecContext(ctx, "UPDATE tasks SET status = ?, started_at = ? WHERE id = ?", status, now, id)
	case model.TaskCompleted, model.TaskFailed:
		_, err = tx.ExecContext(ctx, "UPDATE tasks SET status = ?, finished_at = ? WHERE id = ?", status, now, id)
	default:
		_, err = tx.ExecContext(ctx, "UPDATE tasks SET status = ? WHERE id = ?", status, id)
	}
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}

	return tx.Commit()
}

// FinishTask records the terminal state of a task: status, output, exit
// code, error and timings.
func (s *SQLiteStore) FinishTask(ctx context.Context, r *model.TaskRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := checkTaskTransition(ctx, tx, r.ID, r.Status); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = ?, output = ?, exit_code = ?, error = ?, duration_ms = ?,
			started_at = COALESCE(?, started_at), finished_at = ?
		WHERE id = ?`,
		r.Status, r.Output, r.ExitCode, r.Error, r.DurationMS, r.StartedAt, r.FinishedAt, r.ID,
	); err != nil {
		return fmt.Errorf("finish task: %w", err)
	}

	return tx.Commit()
}

func checkTaskTransition(ctx context.Context, tx *sql.Tx, id, status string) error {
	var current string
	err := tx.QueryRowContext(ctx, "SELECT status FROM tasks WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read task status: %w", err)
	}
	if !model.ValidTaskTransition(current, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}
	return nil
}

// GetTaskStats returns task counts by status and type and the average
// duration of finished tasks.
func (s *SQLiteStore) GetTaskStats(ctx context.Context) (*TaskStats, error) {
	stats := &TaskStats{
		CountByStatus: make(map[string]int),
		CountByType:   make(map[string]int),
	}

	if err := s.countBy(ctx, "SELECT status, COUNT(*) FROM tasks GROUP BY status", stats.CountByStatus); err != nil {
		return nil, fmt.Errorf("count tasks by status: %w", err)
	}
	if err := s.countBy(ctx, "SELECT task_type, COUNT(*) FROM tasks GROUP BY task_type", stats.CountByType); err != nil {
		return nil, fmt.Errorf("count tasks by type: %w", err)
	}
	for _, n := range stats.CountByStatus {
		stats.Total += n
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		"SELECT AVG(duration_ms) FROM tasks WHERE duration_ms IS NOT NULL",
	).Scan(&avg); err != nil {
		return nil, fmt.Errorf("average task duration: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}
	return stats, nil
}

// InsertLogLine appends one log line of a task.
func (s *SQLiteStore) InsertLogLine(ctx context.Context, taskID string, seq int, line string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO task_logs (task_id, seq, line, created_at) VALUES (?, ?, ?, ?)",
		taskID, seq, line, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert log line: %w", err)
	}
	return nil
}

// GetLogLines returns every log line of a task in sequence order.
func (s *SQLiteStore) GetLogLines(ctx context.Context, taskID string) ([]model.LogLine, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, task_id, seq, line, created_at FROM task_logs WHERE task_id = ? ORDER BY seq ASC", taskID)
	if err != nil {
		return nil, fmt.Errorf("get log lines: %w", err)
	}
	defer rows.Close()

	var lines []model.LogLine
	for rows.Next() {
		var l model.LogLine
		if err := rows.Scan(&l.ID, &l.TaskID, &l.Seq, &l.Line, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log lines: %w", err)
	}
	return lines, nil
}
