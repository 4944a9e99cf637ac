package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/tagsentry/tagsentry/internal/engine"
	"github.com/tagsentry/tagsentry/internal/model"
	"github.com/tagsentry/tagsentry/internal/storage"
)

// Verifier runs one verification. Satisfied by *engine.Engine.
type Verifier interface {
	Verify(ctx context.Context, req engine.Request) (*model.HealthReport, error)
}

// ReportStore is the slice of the archive the handlers need.
type ReportStore interface {
	SaveReport(ctx context.Context, id uuid.UUID, url, status string, createdAt time.Time, report any) error
	GetReport(ctx context.Context, id uuid.UUID) (json.RawMessage, error)
	ListReports(ctx context.Context, url string, limit int) ([]storage.ReportSummary, error)
}

// HandlersDeps holds dependencies for creating Handlers.
type HandlersDeps struct {
	Verifier Verifier
	Store    ReportStore
	Logger   *slog.Logger
	Version  string

	// MaxConcurrentRuns bounds simultaneous verifications; requests over
	// the limit get 503 instead of queueing behind a browser.
	MaxConcurrentRuns   int
	VerifyTimeout       time.Duration
	MaxRequestBodyBytes int64
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	verifier Verifier
	store    ReportStore
	logger   *slog.Logger
	version  string

	runSem        *semaphore.Weighted
	verifyTimeout time.Duration
	maxBodyBytes  int64
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	runs := deps.MaxConcurrentRuns
	if runs <= 0 {
		runs = 1
	}
	return &Handlers{
		verifier:      deps.Verifier,
		store:         deps.Store,
		logger:        deps.Logger,
		version:       deps.Version,
		runSem:        semaphore.NewWeighted(int64(runs)),
		verifyTimeout: deps.VerifyTimeout,
		maxBodyBytes:  deps.MaxRequestBodyBytes,
	}
}

// HandleVerify runs a verification synchronously and returns the report.
// POST /v1/verify
func (h *Handlers) HandleVerify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	var req engine.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.URL == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "url is required")
		return
	}
	if err := model.ValidateTargetURL(req.URL); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	// A run holds a whole browser; beyond capacity, shed load immediately.
	if !h.runSem.TryAcquire(1) {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeOverCapacity,
			"all verification slots are busy, retry later")
		return
	}
	defer h.runSem.Release(1)

	ctx := r.Context()
	if h.verifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.verifyTimeout)
		defer cancel()
	}

	rep, err := h.verifier.Verify(ctx, req)
	if err != nil {
		// The report still exists and is archived; the status tells the
		// client the run aborted.
		h.logger.Warn("verification aborted", "url", req.URL, "error", err)
	}
	h.archive(r.Context(), rep)

	writeJSON(w, r, http.StatusOK, rep)
}

// archive persists a finished report. Archive failures are logged, not
// surfaced: the caller already has the report in hand.
func (h *Handlers) archive(ctx context.Context, rep *model.HealthReport) {
	if h.store == nil || rep == nil {
		return
	}
	err := h.store.SaveReport(ctx, rep.ID, rep.URL, string(rep.OverallStatus), rep.Timestamp, rep)
	if err != nil {
		h.logger.Error("report archive failed", "report_id", rep.ID, "error", err)
	}
}

// HandleListReports lists archived report summaries, newest first.
// GET /v1/reports?url=…&limit=…
func (h *Handlers) HandleListReports(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	reports, err := h.store.ListReports(r.Context(), r.URL.Query().Get("url"), limit)
	if err != nil {
		h.logger.Error("list reports failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to list reports")
		return
	}
	if reports == nil {
		reports = []storage.ReportSummary{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(model.ListResponse{
		Data:  reports,
		Total: len(reports),
		Meta: model.ResponseMeta{
			RequestID: RequestIDFromContext(r.Context()),
			Timestamp: time.Now().UTC(),
		},
	})
}

// HandleGetReport returns one archived report in full.
// GET /v1/reports/{report_id}
func (h *Handlers) HandleGetReport(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("report_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "report_id must be a UUID")
		return
	}

	raw, err := h.store.GetReport(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "report not found")
		return
	}
	if err != nil {
		h.logger.Error("get report failed", "report_id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to load report")
		return
	}

	writeJSON(w, r, http.StatusOK, raw)
}

// HandleHealth reports process liveness.
// GET /healthz
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}
