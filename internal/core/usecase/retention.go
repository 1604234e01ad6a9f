package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/avatarkit/vrmforge/internal/core/ports"
)

// RetentionJanitor ages out artifacts and job records so the working
// directory does not grow without bound between explicit cleanups.
type RetentionJanitor struct {
	repo     ports.JobRepository
	store    ports.ArtifactStore
	log      *slog.Logger
	ttl      time.Duration
	interval time.Duration
}

func NewRetentionJanitor(
	repo ports.JobRepository,
	store ports.ArtifactStore,
	log *slog.Logger,
	ttl, interval time.Duration,
) *RetentionJanitor {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &RetentionJanitor{repo: repo, store: store, log: log, ttl: ttl, interval: interval}
}

// Run sweeps once immediately, then on the configured interval until the
// context ends. A zero or negative TTL disables retention entirely.
func (j *RetentionJanitor) Run(ctx context.Context) {
	if j.ttl <= 0 {
		j.log.Info("retention disabled, artifacts kept until explicit cleanup")
		return
	}

	// Reclaims whatever a previous process left behind before serving.
	j.Sweep(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep performs one retention pass.
func (j *RetentionJanitor) Sweep(ctx context.Context) {
	artifacts, err := j.store.Sweep(ctx, time.Now().Add(-j.ttl))
	if err != nil {
		j.log.Warn("artifact sweep failed", "error", err)
	}

	jobs, err := j.repo.DeleteExpired(ctx, time.Now())
	if err != nil {
		j.log.Warn("job sweep failed", "error", err)
	}

	if artifacts > 0 || jobs > 0 {
		j.log.Info("retention sweep complete", "artifacts_removed", artifacts, "jobs_removed", jobs)
	}
}
