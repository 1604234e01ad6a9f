// Package memory keeps job state in process memory. Suitable for
// single-node deployments and tests; state does not survive a restart.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avatarkit/vrmforge/internal/core/domain"
)

type JobRepository struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

func NewJobRepository() *JobRepository {
	return &JobRepository{jobs: map[string]*domain.Job{}}
}

func (r *JobRepository) Create(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *JobRepository) GetByID(_ context.Context, id string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrJobNotFound, "get job", fmt.Errorf("id %s", id))
	}
	return cloneJob(job), nil
}

func (r *JobRepository) UpdateStatus(_ context.Context, id string, status domain.JobStatus, errMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return domain.WrapError(domain.ErrJobNotFound, "update job status", fmt.Errorf("id %s", id))
	}
	job.Status = status
	job.Error = errMessage
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *JobRepository) AdvanceCheckpoint(_ context.Context, id string, cp domain.Checkpoint, result domain.StageResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return domain.WrapError(domain.ErrJobNotFound, "advance checkpoint", fmt.Errorf("id %s", id))
	}
	job.Checkpoint = cp
	job.Stages = append(job.Stages, result)
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *JobRepository) SetAvatar(_ context.Context, id string, vrmFilename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return domain.WrapError(domain.ErrJobNotFound, "set avatar", fmt.Errorf("id %s", id))
	}
	job.VRMFilename = vrmFilename
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *JobRepository) DeleteExpired(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, job := range r.jobs {
		if job.ExpiresAt.After(cutoff) {
			continue
		}
		delete(r.jobs, id)
		removed++
	}
	return removed, nil
}

func cloneJob(job *domain.Job) *domain.Job {
	c := *job
	c.Stages = append([]domain.StageResult(nil), job.Stages...)
	return &c
}
