// Package postgres provides the Postgres-backed remote job history.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/creator-suite/internal/suite"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Defaults applied when the config leaves them unset.
const (
	DefaultTable     = "creator_jobs"
	DefaultListLimit = 100
)

// Config controls the Postgres connection pool used for job history rows.
type Config struct {
	DSN             string
	Table           string
	ListLimit       int
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// JobStore records and lists a user's jobs. It serves as both a remote job
// source and the destination for externally saved jobs.
type JobStore struct {
	pool  querier
	table string
	limit int
}

// NewJobStore connects to Postgres using cfg.
func NewJobStore(ctx context.Context, cfg Config) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("remote.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewJobStoreWithPool(pool, cfg.Table, cfg.ListLimit)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(pool querier, table string, limit int) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return &JobStore{pool: pool, table: table, limit: limit}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the history table when missing.
func (s *JobStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	user_id    TEXT NOT NULL,
	job_id     TEXT NOT NULL,
	job_type   TEXT NOT NULL,
	status     TEXT NOT NULL,
	prompt     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	settings   JSONB NOT NULL DEFAULT '{}'::jsonb,
	result     JSONB NOT NULL DEFAULT '{}'::jsonb,
	PRIMARY KEY (user_id, job_id)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// SaveExternalJob upserts job for userID.
func (s *JobStore) SaveExternalJob(ctx context.Context, userID string, job suite.Job) error {
	if userID == "" {
		return suite.ErrNoSession
	}
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	settings, err := marshalObject(job.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	result, err := marshalObject(job.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (user_id, job_id, job_type, status, prompt, created_at, settings, result)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (user_id, job_id) DO UPDATE
SET status = EXCLUDED.status, result = EXCLUDED.result`, s.table)
	args := []any{
		userID,
		job.ID,
		string(job.Type),
		string(job.Status),
		job.Prompt,
		job.Timestamp,
		settings,
		result,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	return nil
}

// ListJobs returns the most recent jobs recorded for userID, newest first.
func (s *JobStore) ListJobs(ctx context.Context, userID string) ([]suite.Job, error) {
	if userID == "" {
		return nil, suite.ErrNoSession
	}
	query := fmt.Sprintf(`
SELECT job_id, job_type, status, prompt, created_at, settings, result
FROM %s
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2`, s.table)
	rows, err := s.pool.Query(ctx, query, userID, s.limit)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []suite.Job
	for rows.Next() {
		var (
			job               suite.Job
			jobType, status   string
			settings, results []byte
		)
		if err := rows.Scan(&job.ID, &jobType, &status, &job.Prompt, &job.Timestamp, &settings, &results); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		job.Type = suite.JobType(jobType)
		if job.Status, err = suite.ParseStatus(status); err != nil {
			job.Status = suite.StatusProcessing
		}
		job.Timestamp = job.Timestamp.UTC()
		if job.Settings, err = unmarshalObject(settings); err != nil {
			return nil, fmt.Errorf("decode settings of %s: %w", job.ID, err)
		}
		if job.Result, err = unmarshalObject(results); err != nil {
			return nil, fmt.Errorf("decode result of %s: %w", job.ID, err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

func marshalObject(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return []byte(`{}`), nil
	}
	return json.Marshal(m)
}

func unmarshalObject(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}
