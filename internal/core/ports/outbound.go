package ports

import (
	"context"
	"io"
	"time"

	"github.com/avatarkit/vrmforge/internal/core/domain"
)

// JobRepository persists and reads conversion job state.
type JobRepository interface {
	Create(ctx context.Context, job *domain.Job) error
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	UpdateStatus(ctx context.Context, id string, status domain.JobStatus, errMessage string) error
	// AdvanceCheckpoint records one completed stage: the new checkpoint plus
	// the stage's tagged result.
	AdvanceCheckpoint(ctx context.Context, id string, cp domain.Checkpoint, res domain.StageResult) error
	SetAvatar(ctx context.Context, id string, vrmFilename string) error
	DeleteExpired(ctx context.Context, cutoff time.Time) (int, error)
}

// ArtifactStore holds every pipeline artifact. Saves must be atomic: a key
// becomes visible only once its contents are fully written.
type ArtifactStore interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Stat reports the artifact's size, or domain.ErrArtifactNotFound.
	Stat(ctx context.Context, key string) (int64, error)
	// Path resolves a key to the on-disk path handed to stage processes.
	Path(key string) string
	// RemoveMatching deletes artifacts matching the given glob patterns and
	// reports how many were removed.
	RemoveMatching(ctx context.Context, patterns []string) (int, error)
	// Sweep deletes artifacts last modified before the cutoff.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// MessageQueue publishes/consumes job submission events.
type MessageQueue interface {
	PublishJobSubmitted(ctx context.Context, jobID string) error
	SubscribeJobSubmitted(ctx context.Context, handler func(context.Context, string) error) error
}

// StageRunner executes one pipeline stage in an isolated process. The
// landmarks path is empty for stages that take no report. A non-nil error
// means the stage's process exited non-zero or could not run at all.
type StageRunner interface {
	Run(ctx context.Context, stage domain.Stage, input, landmarks, output string) error
}
