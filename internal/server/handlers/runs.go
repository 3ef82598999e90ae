package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/cloudres/internal/errors"
	"github.com/3leaps/cloudres/internal/observability"
	"github.com/3leaps/cloudres/pkg/orchestrator"
	"github.com/3leaps/cloudres/pkg/registry"
	"github.com/3leaps/cloudres/pkg/run"
)

// UploadField is the multipart field carrying input files.
const UploadField = "files"

// multipartMemory is held in memory per upload; larger files spill to disk.
const multipartMemory = 32 << 20

// RunService is the orchestrator surface the HTTP API needs.
type RunService interface {
	Upload(ctx context.Context, files []orchestrator.UploadFile) (string, error)
	Submit(ctx context.Context, inputs []string) (string, error)
	Status(ctx context.Context, runID string) (orchestrator.StatusView, error)
	CheckCompletion(ctx context.Context, runID string) (run.Status, error)
	FetchPrimaryResult(ctx context.Context, runID string) (orchestrator.FetchResult, error)
	FetchReport(ctx context.Context, runID string, kind orchestrator.ReportKind) (orchestrator.FetchResult, error)
	Get(ctx context.Context, runID string) (*run.Record, bool, error)
	List(ctx context.Context, opts registry.ListOptions) ([]*run.Record, error)
}

// Runs serves the run endpoints.
type Runs struct {
	svc            RunService
	logger         *zap.Logger
	maxUploadBytes int64
}

// NewRuns returns the run handlers. maxUploadBytes <= 0 disables the cap.
func NewRuns(svc RunService, logger *zap.Logger, maxUploadBytes int64) *Runs {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runs{svc: svc, logger: logger, maxUploadBytes: maxUploadBytes}
}

// SubmitResponse answers upload and submit requests.
type SubmitResponse struct {
	RunID  string     `json:"run_id"`
	Status run.Status `json:"status"`
}

// SubmitRequest is the body of POST /runs.
type SubmitRequest struct {
	Inputs []string `json:"inputs"`
}

// RunListResponse is the body of GET /runs.
type RunListResponse struct {
	Runs  []*run.Record `json:"runs"`
	Count int           `json:"count"`
}

// CompletionResponse is the body of POST /notify_completion.
type CompletionResponse struct {
	RunID  string     `json:"run_id"`
	Status run.Status `json:"status"`
}

// Upload stages multipart files and submits a run.
func (h *Runs) Upload(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		respondWithError(w, r, apperrors.Wrap(err, apperrors.CodeValidation, http.StatusBadRequest, "invalid multipart upload"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File[UploadField]
	files := make([]orchestrator.UploadFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "open uploaded file"))
			return
		}
		defer func() { _ = f.Close() }()
		files = append(files, orchestrator.UploadFile{Name: fh.Filename, Size: fh.Size, Body: f})
	}

	runID, err := h.svc.Upload(r.Context(), files)
	if err != nil {
		h.logger.Warn("upload failed", zap.Error(err))
		respondWithError(w, r, toAppError(err))
		return
	}
	h.logger.Info("upload accepted", zap.String(observability.FieldRunID, runID), zap.Int("files", len(files)))
	writeJSON(w, http.StatusAccepted, SubmitResponse{RunID: runID, Status: run.StatusSubmitted})
}

// Submit registers a run for inputs already in the store.
func (h *Runs) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, r, apperrors.Wrap(err, apperrors.CodeValidation, http.StatusBadRequest, "invalid request body"))
		return
	}
	runID, err := h.svc.Submit(r.Context(), req.Inputs)
	if err != nil {
		respondWithError(w, r, toAppError(err))
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitResponse{RunID: runID, Status: run.StatusSubmitted})
}

// List returns registry records, newest first. Query: status (repeatable or
// comma-separated), limit.
func (h *Runs) List(w http.ResponseWriter, r *http.Request) {
	var opts registry.ListOptions
	for _, raw := range r.URL.Query()["status"] {
		for _, s := range strings.Split(raw, ",") {
			st, err := run.ParseStatus(strings.TrimSpace(s))
			if err != nil {
				respondWithError(w, r, apperrors.Wrap(err, apperrors.CodeValidation, http.StatusBadRequest, "invalid status filter"))
				return
			}
			opts.Statuses = append(opts.Statuses, st)
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondWithError(w, r, apperrors.NewValidationError("limit must be a non-negative integer"))
			return
		}
		opts.Limit = n
	}

	recs, err := h.svc.List(r.Context(), opts)
	if err != nil {
		respondWithError(w, r, toAppError(err))
		return
	}
	if recs == nil {
		recs = []*run.Record{}
	}
	writeJSON(w, http.StatusOK, RunListResponse{Runs: recs, Count: len(recs)})
}

// Get returns one registry record.
func (h *Runs) Get(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	rec, found, err := h.svc.Get(r.Context(), runID)
	if err != nil {
		respondWithError(w, r, toAppError(err))
		return
	}
	if !found {
		respondWithError(w, r, apperrors.NewNotFoundError("run "+runID+" not found"))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Status reports a run's state: GET /status?run_id=.
func (h *Runs) Status(w http.ResponseWriter, r *http.Request) {
	runID, ok := requireRunID(w, r)
	if !ok {
		return
	}
	view, err := h.svc.Status(r.Context(), runID)
	if err != nil {
		respondWithError(w, r, toAppError(err))
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// NotifyCompletion checks the completion marker now:
// POST /notify_completion?run_id=.
func (h *Runs) NotifyCompletion(w http.ResponseWriter, r *http.Request) {
	runID, ok := requireRunID(w, r)
	if !ok {
		return
	}
	st, err := h.svc.CheckCompletion(r.Context(), runID)
	if err != nil {
		respondWithError(w, r, toAppError(err))
		return
	}
	writeJSON(w, http.StatusOK, CompletionResponse{RunID: runID, Status: st})
}

// Results serves the primary result table: 200 with the bytes, 202 while not
// ready, 500 on a retrieval failure.
func (h *Runs) Results(w http.ResponseWriter, r *http.Request) {
	runID, ok := requireRunID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.FetchPrimaryResult(r.Context(), runID)
	h.serveArtifact(w, r, runID, res, err, http.StatusAccepted)
}

// QualityReport serves the aggregated quality report: 200, 404 while not
// ready, 500 on a retrieval failure.
func (h *Runs) QualityReport(w http.ResponseWriter, r *http.Request) {
	h.report(w, r, orchestrator.ReportQuality)
}

// ExecutionReport serves the newest execution report: 200, 404 while not
// ready, 500 on a retrieval failure.
func (h *Runs) ExecutionReport(w http.ResponseWriter, r *http.Request) {
	h.report(w, r, orchestrator.ReportExecution)
}

func (h *Runs) report(w http.ResponseWriter, r *http.Request, kind orchestrator.ReportKind) {
	runID, ok := requireRunID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.FetchReport(r.Context(), runID, kind)
	h.serveArtifact(w, r, runID, res, err, http.StatusNotFound)
}

func (h *Runs) serveArtifact(w http.ResponseWriter, r *http.Request, runID string, res orchestrator.FetchResult, err error, notReadyStatus int) {
	if err != nil {
		h.logger.Warn("artifact fetch failed", zap.String(observability.FieldRunID, runID), zap.Error(err))
		respondWithError(w, r, toAppError(err))
		return
	}
	if res.Outcome != orchestrator.OutcomeReady || res.Artifact == nil {
		w.Header().Set("Content-Type", orchestrator.ContentTypeText)
		w.WriteHeader(notReadyStatus)
		_, _ = w.Write([]byte(notReadyMessage(res)))
		return
	}
	w.Header().Set("Content-Type", res.Artifact.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Artifact.Body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Artifact.Body)
}

func notReadyMessage(res orchestrator.FetchResult) string {
	if res.Reason != "" {
		return "not ready: " + res.Reason
	}
	return "not ready"
}

func requireRunID(w http.ResponseWriter, r *http.Request) (string, bool) {
	runID := strings.TrimSpace(r.URL.Query().Get("run_id"))
	if runID == "" {
		respondWithError(w, r, apperrors.NewValidationError("run_id query parameter is required"))
		return "", false
	}
	return runID, true
}
