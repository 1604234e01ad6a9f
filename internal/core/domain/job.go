package domain

import "time"

type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
)

// Checkpoint is the last pipeline state a job has reached.
type Checkpoint string

const (
	CheckpointUploaded  Checkpoint = "uploaded"
	CheckpointRendered  Checkpoint = "rendered"
	CheckpointAnalyzed  Checkpoint = "analyzed"
	CheckpointRigged    Checkpoint = "rigged"
	CheckpointFaceReady Checkpoint = "face_ready"
	CheckpointExported  Checkpoint = "exported"
)

type Stage string

const (
	StageRender Stage = "render"
	StageVision Stage = "vision"
	StageRig    Stage = "rig"
	StageFace   Stage = "face"
	StageExport Stage = "export"
)

// Stages in pipeline order.
var Stages = []Stage{StageRender, StageVision, StageRig, StageFace, StageExport}

// checkpoints reached after each stage completes.
var stageCheckpoints = map[Stage]Checkpoint{
	StageRender: CheckpointRendered,
	StageVision: CheckpointAnalyzed,
	StageRig:    CheckpointRigged,
	StageFace:   CheckpointFaceReady,
	StageExport: CheckpointExported,
}

func (s Stage) Checkpoint() Checkpoint {
	return stageCheckpoints[s]
}

type StageOutcome string

const (
	OutcomeOK       StageOutcome = "ok"
	OutcomeDegraded StageOutcome = "degraded"
	OutcomeFailed   StageOutcome = "failed"
)

// StageResult records one stage run inside a job.
type StageResult struct {
	Stage    Stage         `json:"stage"`
	Outcome  StageOutcome  `json:"outcome"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

type Job struct {
	ID          string        `json:"id"`
	Filename    string        `json:"filename"`
	BaseName    string        `json:"base_name"`
	MimeType    string        `json:"mime_type"`
	Status      JobStatus     `json:"status"`
	Checkpoint  Checkpoint    `json:"checkpoint"`
	Stages      []StageResult `json:"stages,omitempty"`
	VRMFilename string        `json:"vrm_filename,omitempty"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
}
