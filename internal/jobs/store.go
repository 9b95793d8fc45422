// Package jobs records synchronization attempts and drives them to a
// terminal state.
//
// A SyncJob moves pending → in_progress → completed|failed. Transitions
// are enforced in SQL: Start requires pending, Complete requires
// in_progress, Fail accepts pending or in_progress. Terminal rows are
// never updated again; a retry is a new job.
package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonimelisma/tonies-go/internal/apperr"
	"github.com/tonimelisma/tonies-go/internal/store"
)

// Status is a SyncJob state.
type Status string

// Job states.
const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// JobTypeAudioSync is the only job type today.
const JobTypeAudioSync = "audio_sync"

// DefaultListLimit applies when ListJobs is called without a limit.
const DefaultListLimit = 50

// SyncJob is the durable record of one attempt to push content to a device.
type SyncJob struct {
	ID           string
	HouseholdID  string
	DeviceID     string
	ContentID    string
	RequestedBy  string
	Status       Status
	JobType      string
	ErrorMessage *string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// Store persists SyncJobs in the sync_jobs table.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewStore creates a Store sharing db.
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{db: db, logger: logger, nowFunc: time.Now}
}

// Insert records a new pending job.
func (s *Store) Insert(ctx context.Context, job *SyncJob) error {
	job.Status = StatusPending
	job.CreatedAt = s.nowFunc().UTC()

	if job.JobType == "" {
		job.JobType = JobTypeAudioSync
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_jobs (id, household_id, device_id, content_id, requested_by, status, job_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.HouseholdID, job.DeviceID, job.ContentID, job.RequestedBy,
		job.Status, job.JobType, store.Nanos(job.CreatedAt))
	if err != nil {
		return fmt.Errorf("jobs: inserting %s: %w", job.ID, err)
	}

	return nil
}

// Start moves a job from pending to in_progress.
func (s *Store) Start(ctx context.Context, id string) (time.Time, error) {
	now := s.nowFunc().UTC()

	err := s.transition(ctx, "start", id,
		`UPDATE sync_jobs SET status = 'in_progress', started_at = ?
		 WHERE id = ? AND status = 'pending'`,
		store.Nanos(now), id)

	return now, err
}

// Complete moves a job from in_progress to completed.
func (s *Store) Complete(ctx context.Context, id string) (time.Time, error) {
	now := s.nowFunc().UTC()

	err := s.transition(ctx, "complete", id,
		`UPDATE sync_jobs SET status = 'completed', error_message = NULL, completed_at = ?
		 WHERE id = ? AND status = 'in_progress'`,
		store.Nanos(now), id)

	return now, err
}

// Fail moves a pending or in_progress job to failed with msg.
func (s *Store) Fail(ctx context.Context, id, msg string) (time.Time, error) {
	now := s.nowFunc().UTC()

	err := s.transition(ctx, "fail", id,
		`UPDATE sync_jobs SET status = 'failed', error_message = ?, completed_at = ?
		 WHERE id = ? AND status IN ('pending', 'in_progress')`,
		msg, store.Nanos(now), id)

	return now, err
}

func (s *Store) transition(ctx context.Context, op, id, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("jobs: %s %s: %w", op, id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("jobs: %s %s rows affected: %w", op, id, err)
	}

	if rows == 0 {
		return fmt.Errorf("jobs: %s %s: job missing or in the wrong state", op, id)
	}

	return nil
}

// RecoverInterrupted fails every job a previous process left pending or
// in_progress, returning how many were closed.
func (s *Store) RecoverInterrupted(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sync_jobs SET status = 'failed', error_message = ?, completed_at = ?
		 WHERE status IN ('pending', 'in_progress')`,
		"interrupted: process exited before the job finished", store.Nanos(s.nowFunc().UTC()))
	if err != nil {
		return 0, fmt.Errorf("jobs: recovering interrupted jobs: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("jobs: recovering interrupted jobs rows affected: %w", err)
	}

	if n > 0 {
		s.logger.Warn("closed interrupted sync jobs", slog.Int64("count", n))
	}

	return int(n), nil
}

const selectJobCols = `SELECT id, household_id, device_id, content_id, requested_by, status, job_type,
	error_message, created_at, started_at, completed_at FROM sync_jobs `

// Get returns one job.
func (s *Store) Get(ctx context.Context, id string) (*SyncJob, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, selectJobCols+`WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("jobs: %s: %w", id, apperr.ErrNotFound)
	}

	return job, err
}

// List returns jobs most recent first, optionally for one household.
func (s *Store) List(ctx context.Context, householdID string, limit int) ([]SyncJob, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := selectJobCols
	args := []any{}

	if householdID != "" {
		query += `WHERE household_id = ? `
		args = append(args, householdID)
	}

	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query+`ORDER BY created_at DESC, seq DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("jobs: listing: %w", err)
	}
	defer rows.Close()

	var out []SyncJob

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, *job)
	}

	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*SyncJob, error) {
	var (
		job                SyncJob
		status             string
		errMsg             sql.NullString
		created            int64
		started, completed sql.NullInt64
	)

	err := s.Scan(&job.ID, &job.HouseholdID, &job.DeviceID, &job.ContentID, &job.RequestedBy,
		&status, &job.JobType, &errMsg, &created, &started, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	if err != nil {
		return nil, fmt.Errorf("jobs: scanning job: %w", err)
	}

	job.Status = Status(status)
	job.CreatedAt = store.TimeFromNanos(created)
	job.StartedAt = store.TimePtr(started)
	job.CompletedAt = store.TimePtr(completed)

	if errMsg.Valid {
		job.ErrorMessage = &errMsg.String
	}

	return &job, nil
}
