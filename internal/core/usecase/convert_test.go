package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/avatarkit/vrmforge/internal/core/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type statusCall struct {
	status domain.JobStatus
	errMsg string
}

type jobRepoFake struct {
	jobs          map[string]*domain.Job
	statusCalls   []statusCall
	createErr     error
	failStatusErr error
	deleteExpired int
}

func newJobRepoFake() *jobRepoFake {
	return &jobRepoFake{jobs: map[string]*domain.Job{}}
}

func (f *jobRepoFake) Create(_ context.Context, job *domain.Job) error {
	if f.createErr != nil {
		return f.createErr
	}
	c := *job
	f.jobs[job.ID] = &c
	return nil
}

func (f *jobRepoFake) GetByID(_ context.Context, id string) (*domain.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrJobNotFound, "get job", fmt.Errorf("id %s", id))
	}
	c := *job
	c.Stages = append([]domain.StageResult(nil), job.Stages...)
	return &c, nil
}

func (f *jobRepoFake) UpdateStatus(_ context.Context, id string, status domain.JobStatus, errMessage string) error {
	f.statusCalls = append(f.statusCalls, statusCall{status: status, errMsg: errMessage})
	if status == domain.StatusFailed && f.failStatusErr != nil {
		return f.failStatusErr
	}
	if job, ok := f.jobs[id]; ok {
		job.Status = status
		job.Error = errMessage
	}
	return nil
}

func (f *jobRepoFake) AdvanceCheckpoint(_ context.Context, id string, cp domain.Checkpoint, result domain.StageResult) error {
	job, ok := f.jobs[id]
	if !ok {
		return domain.WrapError(domain.ErrJobNotFound, "advance checkpoint", fmt.Errorf("id %s", id))
	}
	job.Checkpoint = cp
	job.Stages = append(job.Stages, result)
	return nil
}

func (f *jobRepoFake) SetAvatar(_ context.Context, id string, vrmFilename string) error {
	job, ok := f.jobs[id]
	if !ok {
		return domain.WrapError(domain.ErrJobNotFound, "set avatar", fmt.Errorf("id %s", id))
	}
	job.VRMFilename = vrmFilename
	return nil
}

func (f *jobRepoFake) DeleteExpired(context.Context, time.Time) (int, error) {
	return f.deleteExpired, nil
}

// storeFake resolves keys to themselves so runner "paths" are store keys.
type storeFake struct {
	files      map[string][]byte
	sweepCount int
}

func newStoreFake() *storeFake {
	return &storeFake{files: map[string][]byte{}}
}

func (f *storeFake) Save(_ context.Context, key string, data io.Reader) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.files[key] = b
	return nil
}

func (f *storeFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	b, ok := f.files[key]
	if !ok {
		return nil, domain.WrapError(domain.ErrArtifactNotFound, "open artifact", fmt.Errorf("key %s", key))
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *storeFake) Stat(_ context.Context, key string) (int64, error) {
	b, ok := f.files[key]
	if !ok {
		return 0, domain.WrapError(domain.ErrArtifactNotFound, "stat artifact", fmt.Errorf("key %s", key))
	}
	return int64(len(b)), nil
}

func (f *storeFake) Path(key string) string { return key }

func (f *storeFake) RemoveMatching(_ context.Context, patterns []string) (int, error) {
	removed := 0
	for key := range f.files {
		for _, pattern := range patterns {
			if ok, _ := path.Match(pattern, key); ok {
				delete(f.files, key)
				removed++
				break
			}
		}
	}
	return removed, nil
}

func (f *storeFake) Sweep(context.Context, time.Time) (int, error) {
	f.sweepCount++
	return 2, nil
}

type runnerCall struct {
	stage     domain.Stage
	input     string
	landmarks string
	output    string
}

type runnerFake struct {
	store   *storeFake
	calls   []runnerCall
	failAt  domain.Stage
	failErr error
	outSize map[domain.Stage]int
}

func newRunnerFake(store *storeFake) *runnerFake {
	return &runnerFake{
		store: store,
		outSize: map[domain.Stage]int{
			domain.StageRender: 100,
			domain.StageVision: 60,
			domain.StageRig:    300,
			domain.StageFace:   320,
			domain.StageExport: 400,
		},
	}
}

func (f *runnerFake) Run(_ context.Context, stage domain.Stage, input, landmarks, output string) error {
	f.calls = append(f.calls, runnerCall{stage: stage, input: input, landmarks: landmarks, output: output})
	if stage == f.failAt && f.failErr != nil {
		return f.failErr
	}
	f.store.files[output] = make([]byte, f.outSize[stage])
	return nil
}

func newConvertForTest(repo *jobRepoFake, store *storeFake, runner *runnerFake) *ConvertUseCase {
	return NewConvertUseCase(repo, store, runner, testLogger(), time.Hour)
}

func TestConvertRunsStagesInOrder(t *testing.T) {
	repo := newJobRepoFake()
	store := newStoreFake()
	runner := newRunnerFake(store)
	uc := newConvertForTest(repo, store, runner)

	job, err := uc.Convert(context.Background(), "model.glb", "model/gltf-binary", strings.NewReader("scene"))
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if job.Status != domain.StatusSucceeded {
		t.Fatalf("status = %v, want succeeded", job.Status)
	}
	if job.Checkpoint != domain.CheckpointExported {
		t.Fatalf("checkpoint = %v, want exported", job.Checkpoint)
	}

	if len(runner.calls) != len(domain.Stages) {
		t.Fatalf("stage calls = %d, want %d", len(runner.calls), len(domain.Stages))
	}
	for i, want := range domain.Stages {
		if runner.calls[i].stage != want {
			t.Fatalf("call[%d] = %v, want %v", i, runner.calls[i].stage, want)
		}
	}

	set := job.Artifacts()
	if runner.calls[0].input != set.Source() || runner.calls[0].output != set.Render() {
		t.Fatalf("render wiring = %+v", runner.calls[0])
	}
	if runner.calls[1].input != set.Render() || runner.calls[1].output != set.Report() {
		t.Fatalf("vision wiring = %+v", runner.calls[1])
	}
	if runner.calls[2].input != set.Source() || runner.calls[2].landmarks != set.Report() {
		t.Fatalf("rig wiring = %+v", runner.calls[2])
	}
	if runner.calls[3].input != set.Rigged() || runner.calls[3].landmarks != set.Report() {
		t.Fatalf("face wiring = %+v", runner.calls[3])
	}
	if runner.calls[4].input != set.FaceReady() || runner.calls[4].output != set.Avatar() {
		t.Fatalf("export wiring = %+v", runner.calls[4])
	}

	if job.VRMFilename != set.Avatar() {
		t.Fatalf("vrm filename = %q, want %q", job.VRMFilename, set.Avatar())
	}
	if len(job.Stages) != len(domain.Stages) {
		t.Fatalf("stage results = %d, want %d", len(job.Stages), len(domain.Stages))
	}
	for _, res := range job.Stages {
		if res.Outcome != domain.OutcomeOK {
			t.Fatalf("stage %s outcome = %v", res.Stage, res.Outcome)
		}
	}

	if _, ok := store.files[set.Source()]; !ok {
		t.Fatal("upload not stored under the job-unique source key")
	}
}

func TestConvertStageFailureAttributesStage(t *testing.T) {
	repo := newJobRepoFake()
	store := newStoreFake()
	runner := newRunnerFake(store)
	runner.failAt = domain.StageRig
	runner.failErr = errors.New("stage process: exit status 1: no mesh in scene")
	uc := newConvertForTest(repo, store, runner)

	job, err := uc.Convert(context.Background(), "model.glb", "", strings.NewReader("scene"))
	if err == nil {
		t.Fatal("expected pipeline failure")
	}

	stage, ok := domain.FailedStage(err)
	if !ok || stage != domain.StageRig {
		t.Fatalf("failed stage = %v (ok=%v), want rig", stage, ok)
	}
	if job.Status != domain.StatusFailed {
		t.Fatalf("status = %v, want failed", job.Status)
	}
	if !strings.Contains(job.Error, "stage rig") {
		t.Fatalf("job error %q does not attribute the stage", job.Error)
	}
	if job.Checkpoint != domain.CheckpointAnalyzed {
		t.Fatalf("checkpoint = %v, want analyzed (rig never completed)", job.Checkpoint)
	}

	last := job.Stages[len(job.Stages)-1]
	if last.Stage != domain.StageRig || last.Outcome != domain.OutcomeFailed {
		t.Fatalf("last stage result = %+v", last)
	}
	if len(runner.calls) != 3 {
		t.Fatalf("stages ran = %d, want 3 (stopped at rig)", len(runner.calls))
	}
}

func TestConvertExportFallbackIsDegraded(t *testing.T) {
	repo := newJobRepoFake()
	store := newStoreFake()
	runner := newRunnerFake(store)
	// A fallback export re-emits its input bytes, so sizes match.
	runner.outSize[domain.StageExport] = runner.outSize[domain.StageFace]
	uc := newConvertForTest(repo, store, runner)

	job, err := uc.Convert(context.Background(), "model.glb", "", strings.NewReader("scene"))
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if job.Status != domain.StatusSucceeded {
		t.Fatalf("status = %v, want succeeded", job.Status)
	}

	last := job.Stages[len(job.Stages)-1]
	if last.Stage != domain.StageExport || last.Outcome != domain.OutcomeDegraded {
		t.Fatalf("export result = %+v, want degraded", last)
	}
}

func TestProcessByIDUnknownJob(t *testing.T) {
	repo := newJobRepoFake()
	store := newStoreFake()
	uc := newConvertForTest(repo, store, newRunnerFake(store))

	err := uc.ProcessByID(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error for unknown job")
	}
	if !domain.IsKind(err, domain.ErrJobNotFound) {
		t.Fatalf("error = %v, want ErrJobNotFound kind", err)
	}
}

func TestConvertEmptyFilenameRejected(t *testing.T) {
	repo := newJobRepoFake()
	store := newStoreFake()
	uc := newConvertForTest(repo, store, newRunnerFake(store))

	_, err := uc.Convert(context.Background(), "", "", strings.NewReader("scene"))
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("error = %v, want ErrInvalidInput", err)
	}
}
