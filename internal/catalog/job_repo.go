package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"customstream/internal/database"
	"customstream/internal/models"
)

// JobRepo persists MirrorJob rows.
type JobRepo struct {
	db *database.DB
}

const jobColumns = `id, product_id, index_url, status, message, progress, image_id, created_at, started_at, finished_at`

// CountActiveByProductID returns how many jobs for product_id are currently
// queued or running, for the intake admission check.
func (r *JobRepo) CountActiveByProductID(ctx context.Context, q Queryer, productID string) (int, error) {
	var count int
	query := q.Rebind(`SELECT COUNT(*) FROM mirror_jobs WHERE product_id = $1 AND status IN ($2, $3)`)
	if err := q.GetContext(ctx, &count, query, productID, models.JobStatusQueued, models.JobStatusRunning); err != nil {
		return 0, fmt.Errorf("count active jobs: %w", err)
	}
	return count, nil
}

// Create inserts a new queued MirrorJob.
func (r *JobRepo) Create(ctx context.Context, q Queryer, productID, indexURL string) (*models.MirrorJob, error) {
	query := q.Rebind(`INSERT INTO mirror_jobs (product_id, index_url, status, message, progress, created_at)
		VALUES ($1, $2, $3, '', 0, now())`)
	_, err := q.ExecContext(ctx, query, productID, indexURL, models.JobStatusQueued)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return r.GetLatestByProductID(ctx, q, productID)
}

// GetLatestByProductID returns the most recently created job for a product,
// used right after Create to recover the assigned id portably across
// drivers.
func (r *JobRepo) GetLatestByProductID(ctx context.Context, q Queryer, productID string) (*models.MirrorJob, error) {
	var job models.MirrorJob
	query := q.Rebind(fmt.Sprintf(`SELECT %s FROM mirror_jobs WHERE product_id = $1 ORDER BY id DESC LIMIT 1`, jobColumns))
	err := q.GetContext(ctx, &job, query, productID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest job by product: %w", err)
	}
	return &job, nil
}

// GetByID returns the MirrorJob with the given id, or nil if not found.
func (r *JobRepo) GetByID(ctx context.Context, q Queryer, id int) (*models.MirrorJob, error) {
	var job models.MirrorJob
	query := q.Rebind(fmt.Sprintf(`SELECT %s FROM mirror_jobs WHERE id = $1`, jobColumns))
	err := q.GetContext(ctx, &job, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job by id: %w", err)
	}
	return &job, nil
}

// List returns every job, newest first, for the admin API.
func (r *JobRepo) List(ctx context.Context, q Queryer) ([]models.MirrorJob, error) {
	var jobs []models.MirrorJob
	query := q.Rebind(fmt.Sprintf(`SELECT %s FROM mirror_jobs ORDER BY created_at DESC`, jobColumns))
	if err := q.SelectContext(ctx, &jobs, query); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// NextQueued returns the oldest queued job, or nil if the queue is empty.
// This is the worker loop's FIFO selection.
func (r *JobRepo) NextQueued(ctx context.Context, q Queryer) (*models.MirrorJob, error) {
	var job models.MirrorJob
	query := q.Rebind(fmt.Sprintf(`SELECT %s FROM mirror_jobs WHERE status = $1 ORDER BY created_at ASC LIMIT 1`, jobColumns))
	err := q.GetContext(ctx, &job, query, models.JobStatusQueued)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get next queued job: %w", err)
	}
	return &job, nil
}

// MarkRunning transitions a job to running with progress=10.
func (r *JobRepo) MarkRunning(ctx context.Context, q Queryer, id int) error {
	query := q.Rebind(`UPDATE mirror_jobs SET status = $1, started_at = now(), progress = 10, message = '' WHERE id = $2`)
	if _, err := q.ExecContext(ctx, query, models.JobStatusRunning, id); err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}
	return nil
}

// MarkCompleted transitions a job to completed, recording the produced
// Image id.
func (r *JobRepo) MarkCompleted(ctx context.Context, q Queryer, id, imageID int) error {
	query := q.Rebind(`UPDATE mirror_jobs SET status = $1, progress = 100, finished_at = now(), image_id = $2 WHERE id = $3`)
	if _, err := q.ExecContext(ctx, query, models.JobStatusCompleted, imageID, id); err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	return nil
}

// MarkFailed transitions a job to failed with a message truncated to 2000
// chars.
func (r *JobRepo) MarkFailed(ctx context.Context, q Queryer, id int, message string) error {
	if len(message) > 2000 {
		message = message[:2000]
	}
	query := q.Rebind(`UPDATE mirror_jobs SET status = $1, finished_at = now(), message = $2 WHERE id = $3`)
	if _, err := q.ExecContext(ctx, query, models.JobStatusFailed, message, id); err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return nil
}

// ResetOrphanedRunning is startup recovery: every job still `running` from
// a prior process is reset to `queued`.
func (r *JobRepo) ResetOrphanedRunning(ctx context.Context, q Queryer) (int, error) {
	query := q.Rebind(`UPDATE mirror_jobs SET status = $1, started_at = NULL, finished_at = NULL, progress = 0,
		message = 'resumed after restart' WHERE status = $2`)
	res, err := q.ExecContext(ctx, query, models.JobStatusQueued, models.JobStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("reset orphaned running jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
