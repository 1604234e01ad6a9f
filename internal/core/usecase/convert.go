package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/avatarkit/vrmforge/internal/core/domain"
	"github.com/avatarkit/vrmforge/internal/core/ports"
)

// ConvertUseCase drives the five-stage pipeline over one uploaded model:
// render, vision, rig, face setup, export. Stages run as isolated
// processes; a non-zero exit fails the job with the stage attributed.
type ConvertUseCase struct {
	repo      ports.JobRepository
	store     ports.ArtifactStore
	runner    ports.StageRunner
	log       *slog.Logger
	retention time.Duration
}

func NewConvertUseCase(
	repo ports.JobRepository,
	store ports.ArtifactStore,
	runner ports.StageRunner,
	log *slog.Logger,
	retention time.Duration,
) *ConvertUseCase {
	return &ConvertUseCase{
		repo:      repo,
		store:     store,
		runner:    runner,
		log:       log,
		retention: retention,
	}
}

// Convert ingests the upload and runs the pipeline before returning. The
// returned job reflects final state even when the pipeline failed, so
// callers can surface the failed stage.
func (uc *ConvertUseCase) Convert(ctx context.Context, filename, mimeType string, body io.Reader) (*domain.Job, error) {
	job, err := uc.createJob(ctx, filename, mimeType, body)
	if err != nil {
		return nil, err
	}

	if err := uc.ProcessByID(ctx, job.ID); err != nil {
		if latest, getErr := uc.repo.GetByID(ctx, job.ID); getErr == nil {
			job = latest
		}
		return job, err
	}
	return uc.repo.GetByID(ctx, job.ID)
}

func (uc *ConvertUseCase) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	job, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch job by id: %w", err)
	}
	return job, nil
}

func (uc *ConvertUseCase) ProcessByID(ctx context.Context, jobID string) error {
	if err := uc.markStatus(ctx, jobID, domain.StatusRunning, ""); err != nil {
		return fmt.Errorf("set status=running: %w", err)
	}

	job, err := uc.loadJob(ctx, jobID)
	if err != nil {
		if failErr := uc.markFailed(ctx, jobID, err); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}

	if err := uc.runPipeline(ctx, job); err != nil {
		if failErr := uc.markFailed(ctx, jobID, err); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}

	if err := uc.markStatus(ctx, jobID, domain.StatusSucceeded, ""); err != nil {
		return fmt.Errorf("set status=succeeded: %w", err)
	}
	return nil
}

// createJob stores the upload under a job-unique artifact name and persists
// the pending job row.
func (uc *ConvertUseCase) createJob(ctx context.Context, filename, mimeType string, body io.Reader) (*domain.Job, error) {
	if filename == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "create job", errors.New("empty filename"))
	}

	id := uuid.NewString()
	set := domain.NewArtifactSet(id, filename)
	now := time.Now().UTC()
	job := &domain.Job{
		ID:         id,
		Filename:   filename,
		BaseName:   set.Base,
		MimeType:   mimeType,
		Status:     domain.StatusPending,
		Checkpoint: domain.CheckpointUploaded,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(uc.retention),
	}

	if err := uc.store.Save(ctx, set.Source(), body); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	if err := uc.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job record: %w", err)
	}

	uc.log.Info("job created", "job_id", id, "filename", filename, "base", set.Base)
	return job, nil
}

type stageStep struct {
	stage     domain.Stage
	input     string
	landmarks string
	output    string
	// verify inspects the stage's product and may downgrade the outcome.
	verify func(ctx context.Context) (domain.StageOutcome, string)
}

func (uc *ConvertUseCase) runPipeline(ctx context.Context, job *domain.Job) error {
	set := job.Artifacts()
	source := uc.store.Path(set.Source())
	render := uc.store.Path(set.Render())
	report := uc.store.Path(set.Report())
	rigged := uc.store.Path(set.Rigged())
	faced := uc.store.Path(set.FaceReady())
	avatar := uc.store.Path(set.Avatar())

	steps := []stageStep{
		{stage: domain.StageRender, input: source, output: render},
		{stage: domain.StageVision, input: render, output: report},
		{stage: domain.StageRig, input: source, landmarks: report, output: rigged},
		{stage: domain.StageFace, input: rigged, landmarks: report, output: faced},
		{stage: domain.StageExport, input: faced, output: avatar, verify: uc.exportOutcome(set)},
	}

	for _, step := range steps {
		if err := uc.runStage(ctx, job, step); err != nil {
			return err
		}
	}

	if _, err := uc.store.Stat(ctx, set.Avatar()); err != nil {
		return fmt.Errorf("final avatar check: %w", err)
	}
	if err := uc.repo.SetAvatar(ctx, job.ID, set.Avatar()); err != nil {
		return fmt.Errorf("record avatar filename: %w", err)
	}
	return nil
}

func (uc *ConvertUseCase) runStage(ctx context.Context, job *domain.Job, step stageStep) error {
	uc.log.Info("stage starting", "job_id", job.ID, "stage", step.stage)
	start := time.Now()

	if err := uc.runner.Run(ctx, step.stage, step.input, step.landmarks, step.output); err != nil {
		result := domain.StageResult{
			Stage:    step.stage,
			Outcome:  domain.OutcomeFailed,
			Detail:   err.Error(),
			Duration: time.Since(start),
		}
		// Record the failed attempt without moving the checkpoint.
		if recErr := uc.repo.AdvanceCheckpoint(ctx, job.ID, job.Checkpoint, result); recErr != nil {
			uc.log.Warn("record failed stage", "job_id", job.ID, "error", recErr)
		}
		return &domain.StageError{Stage: step.stage, Err: err}
	}

	outcome, detail := domain.OutcomeOK, ""
	if step.verify != nil {
		outcome, detail = step.verify(ctx)
	}
	result := domain.StageResult{
		Stage:    step.stage,
		Outcome:  outcome,
		Detail:   detail,
		Duration: time.Since(start),
	}

	checkpoint := step.stage.Checkpoint()
	if err := uc.repo.AdvanceCheckpoint(ctx, job.ID, checkpoint, result); err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}
	job.Checkpoint = checkpoint
	job.Stages = append(job.Stages, result)

	uc.log.Info("stage complete",
		"job_id", job.ID,
		"stage", step.stage,
		"outcome", outcome,
		"duration", result.Duration,
	)
	return nil
}

// exportOutcome downgrades the export result when the exporter fell back to
// re-exporting the scene: the fallback's product is byte-identical to its
// input, while an authored avatar always differs.
func (uc *ConvertUseCase) exportOutcome(set domain.ArtifactSet) func(ctx context.Context) (domain.StageOutcome, string) {
	return func(ctx context.Context) (domain.StageOutcome, string) {
		inSize, inErr := uc.store.Stat(ctx, set.FaceReady())
		outSize, outErr := uc.store.Stat(ctx, set.Avatar())
		if inErr != nil || outErr != nil {
			return domain.OutcomeOK, ""
		}
		if inSize == outSize {
			return domain.OutcomeDegraded, "scene re-exported without avatar metadata"
		}
		return domain.OutcomeOK, ""
	}
}

func (uc *ConvertUseCase) loadJob(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := uc.repo.GetByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("fetch job by id: %w", err)
	}
	return job, nil
}

func (uc *ConvertUseCase) markStatus(ctx context.Context, jobID string, status domain.JobStatus, errMessage string) error {
	return uc.repo.UpdateStatus(ctx, jobID, status, errMessage)
}

func (uc *ConvertUseCase) markFailed(ctx context.Context, jobID string, processErr error) error {
	if processErr == nil {
		return nil
	}
	return uc.markStatus(ctx, jobID, domain.StatusFailed, processErr.Error())
}
