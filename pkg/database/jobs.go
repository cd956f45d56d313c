package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

type Job struct {
	ID        uuid.UUID       `json:"id"`
	Query     string          `json:"query"`
	Status    string          `json:"status"`
	Config    json.RawMessage `json:"config"`
	Plan      *string         `json:"plan,omitempty"`
	Title     *string         `json:"title,omitempty"`
	Report    *string         `json:"report,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *string         `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type LogEntry struct {
	ID        int             `json:"id"`
	JobID     uuid.UUID       `json:"job_id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
}

const jobColumns = `id, query, status, config, plan, title, report, result, error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	job := &Job{}
	err := row.Scan(&job.ID, &job.Query, &job.Status, &job.Config, &job.Plan, &job.Title,
		&job.Report, &job.Result, &job.Error, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// CreateJob inserts a pending job.
func (db *PostgresDB) CreateJob(ctx context.Context, id uuid.UUID, query string, config json.RawMessage) (*Job, error) {
	row := db.Pool.QueryRow(ctx, `
		INSERT INTO research_jobs (id, query, status, config)
		VALUES ($1, $2, 'pending', $3)
		RETURNING `+jobColumns, id, query, config)
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

func (db *PostgresDB) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	job, err := scanJob(db.Pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM research_jobs WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, notFound(err))
	}
	return job, nil
}

// ListJobs returns the most recent jobs first.
func (db *PostgresDB) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM research_jobs
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// SetJobStatus moves a job to status. errMsg is stored when non-empty.
func (db *PostgresDB) SetJobStatus(ctx context.Context, id uuid.UUID, status, errMsg string) error {
	var errArg *string
	if errMsg != "" {
		errArg = &errMsg
	}
	_, err := db.Pool.Exec(ctx,
		`UPDATE research_jobs SET status = $2, error = COALESCE($3::text, error), updated_at = NOW() WHERE id = $1`,
		id, status, errArg)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}

func (db *PostgresDB) SaveJobPlan(ctx context.Context, id uuid.UUID, plan string) error {
	_, err := db.Pool.Exec(ctx, `UPDATE research_jobs SET plan = $2, updated_at = NOW() WHERE id = $1`, id, plan)
	if err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}
	return nil
}

// CompleteJob stores the final report and marks the job completed.
func (db *PostgresDB) CompleteJob(ctx context.Context, id uuid.UUID, title, report string, result json.RawMessage) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE research_jobs
		SET status = 'completed', title = $2, report = $3, result = $4, updated_at = NOW()
		WHERE id = $1`, id, title, report, result)
	if err != nil {
		return fmt.Errorf("failed to save final report: %w", err)
	}
	return nil
}

func (db *PostgresDB) InsertLog(ctx context.Context, entry LogEntry) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO research_logs (job_id, timestamp, level, message, metadata)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.JobID, entry.Timestamp, entry.Level, entry.Message, entry.Metadata)
	return err
}

func (db *PostgresDB) GetJobLogs(ctx context.Context, jobID uuid.UUID) ([]LogEntry, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, job_id, timestamp, level, message, metadata
		FROM research_logs
		WHERE job_id = $1
		ORDER BY id ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	var logs []LogEntry
	for rows.Next() {
		var l LogEntry
		if err := rows.Scan(&l.ID, &l.JobID, &l.Timestamp, &l.Level, &l.Message, &l.Metadata); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
