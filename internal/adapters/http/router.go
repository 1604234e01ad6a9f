package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/avatarkit/vrmforge/internal/core/domain"
	"github.com/avatarkit/vrmforge/internal/core/ports"
	"github.com/avatarkit/vrmforge/internal/observability/metrics"
)

const vrmContentType = "model/gltf-binary"

// Options carries the HTTP-surface tuning knobs.
type Options struct {
	Service        string
	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
	OverloadWait   time.Duration
	MaxUploadBytes int64
}

type Router struct {
	converter ports.Converter
	submitter ports.JobSubmitter
	jobs      ports.JobReader
	cleaner   ports.ArtifactCleaner
	store     ports.ArtifactStore
	metrics   *metrics.HTTPServerMetrics
	log       *slog.Logger
	opts      Options
}

// NewRouter wires the conversion endpoints. submitter may be nil when no
// queue is configured; POST /jobs then reports the queue as unavailable.
func NewRouter(
	converter ports.Converter,
	submitter ports.JobSubmitter,
	jobs ports.JobReader,
	cleaner ports.ArtifactCleaner,
	store ports.ArtifactStore,
	m *metrics.HTTPServerMetrics,
	log *slog.Logger,
	opts Options,
) *Router {
	return &Router{
		converter: converter,
		submitter: submitter,
		jobs:      jobs,
		cleaner:   cleaner,
		store:     store,
		metrics:   m,
		log:       log,
		opts:      opts,
	}
}

func (rt *Router) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/", rt.root).Methods(http.MethodGet)
	router.HandleFunc("/healthz", rt.healthz).Methods(http.MethodGet)
	router.HandleFunc("/convert-to-vrm/", rt.convertToVRM).Methods(http.MethodPost)
	router.HandleFunc("/convert-to-vrm", rt.convertToVRM).Methods(http.MethodPost)
	router.HandleFunc("/jobs", rt.submitJob).Methods(http.MethodPost)
	router.HandleFunc("/jobs/{job_id}", rt.getJob).Methods(http.MethodGet)
	router.HandleFunc("/download-vrm/{filename}", rt.downloadVRM).Methods(http.MethodGet)
	router.HandleFunc("/cleanup/{filename}", rt.cleanupArtifacts).Methods(http.MethodDelete)
	if rt.metrics != nil {
		router.Handle("/metrics", rt.metrics.Handler()).Methods(http.MethodGet)
	}

	var handler http.Handler = router
	handler = backpressureMiddleware(handler, rt.opts.MaxInFlight, rt.opts.OverloadWait)
	handler = rateLimitMiddleware(handler, rt.opts.RateLimitRPS, rt.opts.RateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(rt.opts.Service, handler)
	}
	handler = recoverMiddleware(rt.log, handler)
	handler = accessLogMiddleware(rt.log, handler)
	handler = requestIDMiddleware(handler)

	return cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler(handler)
}

func (rt *Router) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": rt.opts.Service,
		"status":  "ok",
		"endpoints": map[string]string{
			"convert":  "POST /convert-to-vrm/",
			"submit":   "POST /jobs",
			"job":      "GET /jobs/{job_id}",
			"download": "GET /download-vrm/{filename}",
			"cleanup":  "DELETE /cleanup/{filename}",
		},
	})
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type conversionResponse struct {
	Status      string      `json:"status"`
	Message     string      `json:"message"`
	VRMFilename string      `json:"vrm_filename"`
	DownloadURL string      `json:"download_url"`
	Job         *domain.Job `json:"job"`
}

type submissionResponse struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	StatusURL string `json:"status_url"`
}

func (rt *Router) convertToVRM(w http.ResponseWriter, r *http.Request) {
	file, header, ok := rt.uploadedFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	if rt.metrics != nil {
		rt.metrics.RecordUpload(rt.opts.Service, header.Size)
	}

	job, err := rt.converter.Convert(r.Context(), header.Filename, header.Header.Get("Content-Type"), file)
	rt.recordConversion("sync", job)
	if err != nil {
		rt.writeError(w, mapErrorToHTTPStatus(err), err)
		return
	}

	writeJSON(w, http.StatusOK, conversionResponse{
		Status:      "success",
		Message:     "conversion complete",
		VRMFilename: job.VRMFilename,
		DownloadURL: "/download-vrm/" + job.VRMFilename,
		Job:         job,
	})
}

func (rt *Router) submitJob(w http.ResponseWriter, r *http.Request) {
	if rt.submitter == nil {
		rt.writeError(w, http.StatusServiceUnavailable, errors.New("job queue is not configured"))
		return
	}

	file, header, ok := rt.uploadedFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	if rt.metrics != nil {
		rt.metrics.RecordUpload(rt.opts.Service, header.Size)
	}

	job, err := rt.submitter.Submit(r.Context(), header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		rt.writeError(w, mapErrorToHTTPStatus(err), err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordConversion(rt.opts.Service, "queued", "accepted")
	}

	writeJSON(w, http.StatusAccepted, submissionResponse{
		JobID:     job.ID,
		Status:    string(job.Status),
		StatusURL: "/jobs/" + job.ID,
	})
}

func (rt *Router) getJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["job_id"]
	if id == "" {
		rt.writeError(w, http.StatusBadRequest, errors.New("job id is required"))
		return
	}

	job, err := rt.jobs.GetByID(r.Context(), id)
	if err != nil {
		rt.writeError(w, mapErrorToHTTPStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (rt *Router) downloadVRM(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]
	if !strings.EqualFold(filepath.Ext(filename), ".vrm") {
		rt.recordDownload("rejected")
		rt.writeError(w, http.StatusBadRequest, errors.New("only .vrm files can be downloaded"))
		return
	}

	size, err := rt.store.Stat(r.Context(), filename)
	if err != nil {
		rt.recordDownload("missing")
		rt.writeError(w, mapErrorToHTTPStatus(err), err)
		return
	}

	reader, err := rt.store.Open(r.Context(), filename)
	if err != nil {
		rt.recordDownload("missing")
		rt.writeError(w, mapErrorToHTTPStatus(err), err)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", vrmContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, reader); err != nil {
		rt.log.Warn("avatar download interrupted", "filename", filename, "error", err)
		return
	}
	rt.recordDownload("ok")
}

func (rt *Router) cleanupArtifacts(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]

	removed, err := rt.cleaner.Cleanup(r.Context(), filename)
	if err != nil {
		rt.writeError(w, mapErrorToHTTPStatus(err), err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordCleanup(rt.opts.Service, removed)
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "removed": removed})
}

// uploadedFile extracts the multipart model upload, enforcing the size cap.
func (rt *Router) uploadedFile(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, bool) {
	if rt.opts.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, rt.opts.MaxUploadBytes)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			rt.writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Errorf("upload exceeds the %d byte limit", tooLarge.Limit))
			return nil, nil, false
		}
		rt.writeError(w, http.StatusBadRequest, errors.New("multipart field 'file' is required"))
		return nil, nil, false
	}

	return file, header, true
}

func (rt *Router) recordConversion(mode string, job *domain.Job) {
	if rt.metrics == nil || job == nil {
		return
	}
	rt.metrics.RecordConversion(rt.opts.Service, mode, string(job.Status))
	for _, res := range job.Stages {
		rt.metrics.RecordStage(rt.opts.Service, string(res.Stage), string(res.Outcome), res.Duration)
	}
}

func (rt *Router) recordDownload(status string) {
	if rt.metrics == nil {
		return
	}
	rt.metrics.RecordDownload(rt.opts.Service, status)
}

// writeError emits the JSON error envelope, tagging the failed pipeline
// stage when the error carries one.
func (rt *Router) writeError(w http.ResponseWriter, status int, err error) {
	payload := map[string]string{
		"status":  "error",
		"message": err.Error(),
	}
	if stage, ok := domain.FailedStage(err); ok {
		payload["stage"] = string(stage)
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
