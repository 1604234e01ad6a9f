package usecase

import (
	"context"
	"fmt"
	"io"

	"github.com/avatarkit/vrmforge/internal/core/domain"
	"github.com/avatarkit/vrmforge/internal/core/ports"
)

// SubmitJobUseCase accepts an upload and hands the pipeline to a worker
// through the message queue. The caller gets the pending job immediately.
type SubmitJobUseCase struct {
	convert *ConvertUseCase
	queue   ports.MessageQueue
}

func NewSubmitJobUseCase(convert *ConvertUseCase, queue ports.MessageQueue) *SubmitJobUseCase {
	return &SubmitJobUseCase{convert: convert, queue: queue}
}

func (uc *SubmitJobUseCase) Submit(ctx context.Context, filename, mimeType string, body io.Reader) (*domain.Job, error) {
	job, err := uc.convert.createJob(ctx, filename, mimeType, body)
	if err != nil {
		return nil, err
	}

	if err := uc.queue.PublishJobSubmitted(ctx, job.ID); err != nil {
		publishErr := fmt.Errorf("publish job submitted: %w", err)
		if failErr := uc.convert.markFailed(ctx, job.ID, publishErr); failErr != nil {
			return nil, fmt.Errorf("%w; mark failed status: %v", publishErr, failErr)
		}
		return nil, publishErr
	}
	return job, nil
}
