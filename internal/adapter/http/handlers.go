package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Strob0t/OpsPilot/internal/domain/decision"
	"github.com/Strob0t/OpsPilot/internal/domain/pipeline"
	"github.com/Strob0t/OpsPilot/internal/logger"
	"github.com/Strob0t/OpsPilot/internal/middleware"
	"github.com/Strob0t/OpsPilot/internal/service"
)

const defaultCancelTimeout = 10 * time.Second

// Pipelines is the pipeline surface the handlers drive.
type Pipelines interface {
	Submit(ctx context.Context, req service.SubmitRequest) (string, error)
	SubmitParameters(ctx context.Context, cid string, values map[string]string) (*decision.Decision, error)
	ConfirmExecution(ctx context.Context, cid string) (*decision.Decision, error)
	Cancel(ctx context.Context, cid string) error
	Status(ctx context.Context, cid string) (*pipeline.Record, error)
	Resume(ctx context.Context, cid string) error
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Pipelines     Pipelines
	WS            http.Handler // notification socket, optional
	Checks        map[string]HealthCheck
	BodyLimit     int64
	CancelTimeout time.Duration
	Version       string
}

type utteranceRequest struct {
	Utterance     string         `json:"utterance"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	TargetID      string         `json:"target_id,omitempty"`
	TargetOS      string         `json:"target_os,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
}

type pipelineRef struct {
	CorrelationID string `json:"correlation_id"`
	Status        string `json:"status,omitempty"`
}

// SubmitUtterance handles POST /api/v1/conversations/{id}/utterances.
// The correlation id comes from the body or the X-Correlation-ID header and
// is generated when both are empty.
func (h *Handlers) SubmitUtterance(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[utteranceRequest](w, r, h.BodyLimit, false)
	if !ok {
		return
	}
	ctx := r.Context()
	cid := req.CorrelationID
	if cid == "" {
		cid = logger.CorrelationID(ctx)
	}

	cid, err := h.Pipelines.Submit(ctx, service.SubmitRequest{
		ConversationID: urlParam(r, "id"),
		CorrelationID:  cid,
		TenantID:       middleware.TenantIDFromContext(ctx),
		TargetID:       req.TargetID,
		TargetOS:       req.TargetOS,
		Utterance:      req.Utterance,
		Context:        req.Context,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, pipelineRef{CorrelationID: cid, Status: "accepted"})
}

// SubmitParameters handles POST /api/v1/pipelines/{cid}/parameters.
func (h *Handlers) SubmitParameters(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[struct {
		Values map[string]string `json:"values"`
	}](w, r, h.BodyLimit, false)
	if !ok {
		return
	}
	if len(req.Values) == 0 {
		writeError(w, http.StatusBadRequest, "values is required")
		return
	}
	d, err := h.Pipelines.SubmitParameters(r.Context(), urlParam(r, "cid"), req.Values)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ConfirmExecution handles POST /api/v1/pipelines/{cid}/confirm.
func (h *Handlers) ConfirmExecution(w http.ResponseWriter, r *http.Request) {
	d, err := h.Pipelines.ConfirmExecution(r.Context(), urlParam(r, "cid"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// CancelPipeline handles DELETE /api/v1/pipelines/{cid}. It waits up to
// CancelTimeout for the pipeline to record its cancellation and answers 202
// when the wait runs out first.
func (h *Handlers) CancelPipeline(w http.ResponseWriter, r *http.Request) {
	timeout := h.CancelTimeout
	if timeout <= 0 {
		timeout = defaultCancelTimeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	cid := urlParam(r, "cid")
	err := h.Pipelines.Cancel(ctx, cid)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusAccepted, pipelineRef{CorrelationID: cid, Status: "cancelling"})
	default:
		writeDomainError(w, r, err)
	}
}

// GetPipeline handles GET /api/v1/pipelines/{cid}.
func (h *Handlers) GetPipeline(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Pipelines.Status(r.Context(), urlParam(r, "cid"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ResumePipeline handles POST /api/v1/pipelines/{cid}/resume.
func (h *Handlers) ResumePipeline(w http.ResponseWriter, r *http.Request) {
	cid := urlParam(r, "cid")
	if err := h.Pipelines.Resume(r.Context(), cid); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, pipelineRef{CorrelationID: cid, Status: "resumed"})
}

// Health handles GET /health. Any failing check turns the answer into 503.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	type healthStatus struct {
		Status  string            `json:"status"`
		Version string            `json:"version,omitempty"`
		Checks  map[string]string `json:"checks,omitempty"`
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := healthStatus{Status: "ok", Version: h.Version, Checks: make(map[string]string, len(h.Checks))}
	code := http.StatusOK
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			status.Checks[name] = strings.TrimSpace(err.Error())
			status.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		status.Checks[name] = "ok"
	}
	writeJSON(w, code, status)
}
