package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/avatarkit/vrmforge/internal/config"
	"github.com/avatarkit/vrmforge/internal/core/domain"
	"github.com/avatarkit/vrmforge/internal/core/ports"
	"github.com/avatarkit/vrmforge/internal/core/usecase"
	"github.com/avatarkit/vrmforge/internal/infrastructure/repository/memory"
	"github.com/avatarkit/vrmforge/internal/infrastructure/storage/localfs"
	"github.com/avatarkit/vrmforge/internal/observability/metrics"
)

// scriptedRunner stands in for the stage subprocess launcher. It writes a
// per-stage payload to the output path, or fails at the configured stage.
type scriptedRunner struct {
	failAt  domain.Stage
	failErr error
	calls   []domain.Stage
}

func (r *scriptedRunner) Run(_ context.Context, stage domain.Stage, _, _, output string) error {
	r.calls = append(r.calls, stage)
	if r.failAt == stage {
		return r.failErr
	}
	return os.WriteFile(output, []byte(string(stage)+" artifact bytes"), 0o644)
}

type queueFake struct {
	published []string
	err       error
}

func (q *queueFake) PublishJobSubmitted(_ context.Context, jobID string) error {
	if q.err != nil {
		return q.err
	}
	q.published = append(q.published, jobID)
	return nil
}

func (q *queueFake) SubscribeJobSubmitted(_ context.Context, _ func(context.Context, string) error) error {
	return nil
}

type routerFixture struct {
	router *Router
	runner *scriptedRunner
	queue  *queueFake
	store  ports.ArtifactStore
}

func newFixture(t *testing.T, cfg config.Config, withQueue bool) *routerFixture {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("create artifact store: %v", err)
	}
	repo := memory.NewJobRepository()
	runner := &scriptedRunner{}

	convertUC := usecase.NewConvertUseCase(repo, store, runner, log, time.Hour)
	cleanupUC := usecase.NewCleanupUseCase(store, log)

	var queue *queueFake
	var submitter ports.JobSubmitter
	if withQueue {
		queue = &queueFake{}
		submitter = usecase.NewSubmitJobUseCase(convertUC, queue)
	}

	router := NewRouter(
		convertUC,
		submitter,
		convertUC,
		cleanupUC,
		store,
		metrics.NewHTTPServerMetrics("api"),
		log,
		Options{
			Service:        "api",
			RateLimitRPS:   cfg.APIRateLimitRPS,
			RateLimitBurst: cfg.APIRateLimitBurst,
			MaxInFlight:    cfg.APIMaxInFlight,
			OverloadWait:   time.Duration(cfg.APIOverloadWaitMS) * time.Millisecond,
			MaxUploadBytes: int64(cfg.APIMaxUploadMB) << 20,
		},
	)

	return &routerFixture{router: router, runner: runner, queue: queue, store: store}
}

func newTestHandler(t *testing.T, cfg config.Config) http.Handler {
	t.Helper()
	return newFixture(t, cfg, false).router.Handler()
}

func multipartUpload(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func postUpload(t *testing.T, handler http.Handler, path, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()

	body, contentType := multipartUpload(t, filename, content)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func decodeConversion(t *testing.T, res *httptest.ResponseRecorder) conversionResponse {
	t.Helper()

	var resp conversionResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode conversion response: %v", err)
	}
	if resp.Job == nil {
		t.Fatalf("expected job record in conversion response")
	}
	return resp
}

func decodeJob(t *testing.T, res *httptest.ResponseRecorder) domain.Job {
	t.Helper()

	var job domain.Job
	if err := json.NewDecoder(res.Body).Decode(&job); err != nil {
		t.Fatalf("decode job response: %v", err)
	}
	return job
}

func TestConvertEndpointRunsFullPipeline(t *testing.T) {
	handler := newTestHandler(t, config.Config{})

	res := postUpload(t, handler, "/convert-to-vrm/", "hero.glb", []byte("glb-bytes"))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}

	resp := decodeConversion(t, res)
	if resp.Status != "success" {
		t.Fatalf("expected success status, got %q", resp.Status)
	}
	if resp.DownloadURL != "/download-vrm/"+resp.VRMFilename {
		t.Fatalf("expected download url for %q, got %q", resp.VRMFilename, resp.DownloadURL)
	}

	job := resp.Job
	if job.Status != domain.StatusSucceeded {
		t.Fatalf("expected succeeded job, got %q (%s)", job.Status, job.Error)
	}
	if job.Checkpoint != domain.CheckpointExported {
		t.Fatalf("expected exported checkpoint, got %q", job.Checkpoint)
	}
	if job.VRMFilename == "" {
		t.Fatalf("expected a vrm filename on the finished job")
	}
	if len(job.Stages) != len(domain.Stages) {
		t.Fatalf("expected %d stage results, got %d", len(domain.Stages), len(job.Stages))
	}
	for _, sr := range job.Stages {
		if sr.Outcome != domain.OutcomeOK {
			t.Fatalf("stage %s expected ok outcome, got %q", sr.Stage, sr.Outcome)
		}
	}
}

func TestConvertThenDownloadAndCleanup(t *testing.T) {
	handler := newTestHandler(t, config.Config{})

	res := postUpload(t, handler, "/convert-to-vrm/", "hero.glb", []byte("glb-bytes"))
	if res.Code != http.StatusOK {
		t.Fatalf("convert expected 200, got %d: %s", res.Code, res.Body.String())
	}
	resp := decodeConversion(t, res)

	dlReq := httptest.NewRequest(http.MethodGet, resp.DownloadURL, nil)
	dlRes := httptest.NewRecorder()
	handler.ServeHTTP(dlRes, dlReq)
	if dlRes.Code != http.StatusOK {
		t.Fatalf("download expected 200, got %d: %s", dlRes.Code, dlRes.Body.String())
	}
	if got := dlRes.Header().Get("Content-Type"); got != "model/gltf-binary" {
		t.Fatalf("expected gltf binary content type, got %q", got)
	}
	if got := dlRes.Header().Get("Content-Disposition"); !bytes.Contains([]byte(got), []byte(resp.VRMFilename)) {
		t.Fatalf("expected attachment disposition with filename, got %q", got)
	}
	if dlRes.Body.String() != "export artifact bytes" {
		t.Fatalf("downloaded bytes do not match exported artifact: %q", dlRes.Body.String())
	}

	clReq := httptest.NewRequest(http.MethodDelete, "/cleanup/"+resp.VRMFilename, nil)
	clRes := httptest.NewRecorder()
	handler.ServeHTTP(clRes, clReq)
	if clRes.Code != http.StatusOK {
		t.Fatalf("cleanup expected 200, got %d: %s", clRes.Code, clRes.Body.String())
	}
	var cleanup struct {
		Removed int `json:"removed"`
	}
	if err := json.NewDecoder(clRes.Body).Decode(&cleanup); err != nil {
		t.Fatalf("decode cleanup response: %v", err)
	}
	if cleanup.Removed == 0 {
		t.Fatalf("expected cleanup to remove artifacts")
	}

	goneReq := httptest.NewRequest(http.MethodGet, resp.DownloadURL, nil)
	goneRes := httptest.NewRecorder()
	handler.ServeHTTP(goneRes, goneReq)
	if goneRes.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after cleanup, got %d", goneRes.Code)
	}
}

func TestConvertEndpointRequiresFileField(t *testing.T) {
	handler := newTestHandler(t, config.Config{})

	req := httptest.NewRequest(http.MethodPost, "/convert-to-vrm/", bytes.NewBufferString("not multipart"))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing file field, got %d", res.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp["status"] != "error" || resp["message"] == "" {
		t.Fatalf("expected error envelope, got %v", resp)
	}
}

func TestConvertFailureReportsFailedStage(t *testing.T) {
	fx := newFixture(t, config.Config{}, false)
	fx.runner.failAt = domain.StageRig
	fx.runner.failErr = fmt.Errorf("stage process: exit status 1: no mesh in scene")
	handler := fx.router.Handler()

	res := postUpload(t, handler, "/convert-to-vrm/", "hero.glb", []byte("glb-bytes"))
	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for pipeline failure, got %d: %s", res.Code, res.Body.String())
	}

	var resp map[string]string
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp["stage"] != "rig" {
		t.Fatalf("expected failed stage rig in response, got %q", resp["stage"])
	}
	if resp["status"] != "error" || resp["message"] == "" {
		t.Fatalf("expected error envelope, got %v", resp)
	}
}

func TestGetJobEndpoint(t *testing.T) {
	handler := newTestHandler(t, config.Config{})

	res := postUpload(t, handler, "/convert-to-vrm/", "hero.glb", []byte("glb-bytes"))
	job := decodeConversion(t, res).Job

	getReq := httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID, nil)
	getRes := httptest.NewRecorder()
	handler.ServeHTTP(getRes, getReq)
	if getRes.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", getRes.Code, getRes.Body.String())
	}
	fetched := decodeJob(t, getRes)
	if fetched.ID != job.ID {
		t.Fatalf("expected job %s, got %s", job.ID, fetched.ID)
	}

	missReq := httptest.NewRequest(http.MethodGet, "/jobs/not-a-job", nil)
	missRes := httptest.NewRecorder()
	handler.ServeHTTP(missRes, missReq)
	if missRes.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", missRes.Code)
	}
}

func TestSubmitJobPublishesToQueue(t *testing.T) {
	fx := newFixture(t, config.Config{}, true)
	handler := fx.router.Handler()

	res := postUpload(t, handler, "/jobs", "hero.glb", []byte("glb-bytes"))
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}

	var resp submissionResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode submission response: %v", err)
	}
	if resp.Status != string(domain.StatusPending) {
		t.Fatalf("expected pending job, got %q", resp.Status)
	}
	if resp.StatusURL != "/jobs/"+resp.JobID {
		t.Fatalf("expected status url for %q, got %q", resp.JobID, resp.StatusURL)
	}
	if len(fx.queue.published) != 1 || fx.queue.published[0] != resp.JobID {
		t.Fatalf("expected job %s published once, got %v", resp.JobID, fx.queue.published)
	}
	if len(fx.runner.calls) != 0 {
		t.Fatalf("queued submission must not run the pipeline inline, ran %v", fx.runner.calls)
	}

	getReq := httptest.NewRequest(http.MethodGet, resp.StatusURL, nil)
	getRes := httptest.NewRecorder()
	handler.ServeHTTP(getRes, getReq)
	if getRes.Code != http.StatusOK {
		t.Fatalf("status url expected 200, got %d", getRes.Code)
	}
}

func TestSubmitJobWithoutQueueReturns503(t *testing.T) {
	handler := newTestHandler(t, config.Config{})

	res := postUpload(t, handler, "/jobs", "hero.glb", []byte("glb-bytes"))
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a queue, got %d", res.Code)
	}
}

func TestDownloadRejectsNonVRMExtension(t *testing.T) {
	handler := newTestHandler(t, config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/download-vrm/model.glb", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-vrm download, got %d", res.Code)
	}
}

func TestDownloadMissingAvatarReturns404(t *testing.T) {
	handler := newTestHandler(t, config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/download-vrm/ghost.vrm", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing avatar, got %d", res.Code)
	}
}

func TestCleanupUnknownFamilyRemovesNothing(t *testing.T) {
	handler := newTestHandler(t, config.Config{})

	req := httptest.NewRequest(http.MethodDelete, "/cleanup/ghost.vrm", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 for unknown family, got %d: %s", res.Code, res.Body.String())
	}
	var cleanup struct {
		Removed int `json:"removed"`
	}
	if err := json.NewDecoder(res.Body).Decode(&cleanup); err != nil {
		t.Fatalf("decode cleanup response: %v", err)
	}
	if cleanup.Removed != 0 {
		t.Fatalf("expected zero removals, got %d", cleanup.Removed)
	}
}

func TestRootListsEndpoints(t *testing.T) {
	handler := newTestHandler(t, config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode root response: %v", err)
	}
	if _, ok := resp["endpoints"]; !ok {
		t.Fatalf("expected endpoint listing at root")
	}
	if resp["status"] != "ok" {
		t.Fatalf("expected ok status at root, got %v", resp["status"])
	}
}

func TestRequestIDHeaderIsSet(t *testing.T) {
	handler := newTestHandler(t, config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected generated request id header")
	}

	req2 := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req2.Header.Set("X-Request-Id", "req-42")
	res2 := httptest.NewRecorder()
	handler.ServeHTTP(res2, req2)

	if got := res2.Header().Get("X-Request-Id"); got != "req-42" {
		t.Fatalf("expected propagated request id, got %q", got)
	}
}
