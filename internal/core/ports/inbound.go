package ports

import (
	"context"
	"io"

	"github.com/avatarkit/vrmforge/internal/core/domain"
)

// Converter is the inbound contract for synchronous avatar conversion: the
// upload runs the full pipeline before the call returns.
type Converter interface {
	Convert(ctx context.Context, filename, mimeType string, body io.Reader) (*domain.Job, error)
}

// JobSubmitter accepts an upload and queues the pipeline for a worker.
type JobSubmitter interface {
	Submit(ctx context.Context, filename, mimeType string, body io.Reader) (*domain.Job, error)
}

// JobReader is the inbound read model for job state.
type JobReader interface {
	GetByID(ctx context.Context, id string) (*domain.Job, error)
}

// JobProcessor is the inbound contract for asynchronous pipeline execution.
type JobProcessor interface {
	ProcessByID(ctx context.Context, jobID string) error
}

// ArtifactCleaner removes every artifact belonging to one conversion.
type ArtifactCleaner interface {
	Cleanup(ctx context.Context, filename string) (int, error)
}
