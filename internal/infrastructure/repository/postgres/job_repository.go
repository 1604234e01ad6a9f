package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/avatarkit/vrmforge/internal/core/domain"
)

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *JobRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082301)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS conversion_jobs (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	base_name TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	status TEXT NOT NULL,
	checkpoint TEXT NOT NULL,
	stages JSONB NOT NULL DEFAULT '[]'::jsonb,
	vrm_filename TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversion_jobs_status ON conversion_jobs(status);
CREATE INDEX IF NOT EXISTS idx_conversion_jobs_expires_at ON conversion_jobs(expires_at);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	stagesJSON, err := json.Marshal(job.Stages)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}
	if job.Stages == nil {
		stagesJSON = []byte("[]")
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO conversion_jobs (
	id, filename, base_name, mime_type, status, checkpoint, stages, vrm_filename, error_message, created_at, updated_at, expires_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`,
		job.ID, job.Filename, job.BaseName, job.MimeType, string(job.Status), string(job.Checkpoint),
		stagesJSON, job.VRMFilename, job.Error, job.CreatedAt, job.UpdatedAt, job.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, filename, base_name, mime_type, status, checkpoint, stages, vrm_filename, error_message, created_at, updated_at, expires_at
FROM conversion_jobs
WHERE id = $1
`, id)

	var job domain.Job
	var stagesRaw []byte
	var status, checkpoint string

	err := row.Scan(
		&job.ID, &job.Filename, &job.BaseName, &job.MimeType, &status, &checkpoint,
		&stagesRaw, &job.VRMFilename, &job.Error, &job.CreatedAt, &job.UpdatedAt, &job.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrJobNotFound, "get job", fmt.Errorf("id %s", id))
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	if err := json.Unmarshal(stagesRaw, &job.Stages); err != nil {
		return nil, fmt.Errorf("unmarshal stages: %w", err)
	}
	job.Status = domain.JobStatus(status)
	job.Checkpoint = domain.Checkpoint(checkpoint)
	return &job, nil
}

func (r *JobRepository) UpdateStatus(ctx context.Context, id string, status domain.JobStatus, errMessage string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE conversion_jobs
SET status = $2, error_message = $3, updated_at = $4
WHERE id = $1
`, id, string(status), errMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return checkFound(res, "update job status", id)
}

func (r *JobRepository) AdvanceCheckpoint(ctx context.Context, id string, cp domain.Checkpoint, result domain.StageResult) error {
	resultJSON, err := json.Marshal([]domain.StageResult{result})
	if err != nil {
		return fmt.Errorf("marshal stage result: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
UPDATE conversion_jobs
SET checkpoint = $2, stages = stages || $3::jsonb, updated_at = $4
WHERE id = $1
`, id, string(cp), resultJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}
	return checkFound(res, "advance checkpoint", id)
}

func (r *JobRepository) SetAvatar(ctx context.Context, id string, vrmFilename string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE conversion_jobs
SET vrm_filename = $2, updated_at = $3
WHERE id = $1
`, id, vrmFilename, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set avatar: %w", err)
	}
	return checkFound(res, "set avatar", id)
}

func (r *JobRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
DELETE FROM conversion_jobs
WHERE expires_at <= $1
`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired rows affected: %w", err)
	}
	return int(n), nil
}

func checkFound(res sql.Result, operation, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if n == 0 {
		return domain.WrapError(domain.ErrJobNotFound, operation, fmt.Errorf("id %s", id))
	}
	return nil
}
