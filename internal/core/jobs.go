package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// maxJobAttempts is how often a job is retried before it is marked failed for
// good.
const maxJobAttempts = 3

// Job types handled by the worker.
const (
	JobNDRAction = "ndr_action"
)

// Job is one delayed unit of work claimed from the scheduled_jobs table.
type Job struct {
	ID       int             `json:"id"`
	JobType  string          `json:"job_type"`
	Payload  json.RawMessage `json:"payload"`
	DueAt    time.Time       `json:"due_at"`
	Attempts int             `json:"attempts"`
}

// JobService is a minimal database-backed delay queue. Claiming uses
// FOR UPDATE SKIP LOCKED so concurrent workers never double-process a job.
type JobService interface {
	Schedule(ctx context.Context, jobType string, payload any, dueAt time.Time) (int, error)
	ClaimDue(ctx context.Context, limit int) ([]Job, error)
	MarkDone(ctx context.Context, jobID int) error
	// MarkFailed re-queues the job until maxJobAttempts is reached, then parks
	// it as failed.
	MarkFailed(ctx context.Context, jobID int, cause string) error
}

type jobService struct {
	pool *pgxpool.Pool
}

func NewJobService(pool *pgxpool.Pool) JobService {
	return &jobService{pool: pool}
}

func (s *jobService) Schedule(ctx context.Context, jobType string, payload any, dueAt time.Time) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal job payload: %w", err)
	}
	var id int
	err = s.pool.QueryRow(ctx, `
		INSERT INTO scheduled_jobs (job_type, payload, due_at) VALUES ($1, $2, $3) RETURNING id
	`, jobType, body, dueAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("schedule job: %w", err)
	}
	return id, nil
}

func (s *jobService) ClaimDue(ctx context.Context, limit int) ([]Job, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE scheduled_jobs
		SET status = 'running', attempts = attempts + 1, claimed_at = NOW()
		WHERE id IN (
			SELECT id FROM scheduled_jobs
			WHERE status = 'pending' AND due_at <= NOW()
			ORDER BY due_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, job_type, payload, due_at, attempts
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.JobType, &j.Payload, &j.DueAt, &j.Attempts); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *jobService) MarkDone(ctx context.Context, jobID int) error {
	_, err := s.pool.Exec(ctx, `UPDATE scheduled_jobs SET status = 'done' WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("mark job done: %w", err)
	}
	return nil
}

func (s *jobService) MarkFailed(ctx context.Context, jobID int, cause string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scheduled_jobs
		SET status = CASE WHEN attempts >= $2 THEN 'failed' ELSE 'pending' END,
		    last_error = $3
		WHERE id = $1
	`, jobID, maxJobAttempts, cause)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return nil
}
