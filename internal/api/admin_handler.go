package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/topicq/internal/api/shared"
	"github.com/phrazzld/topicq/internal/domain"
	"github.com/phrazzld/topicq/internal/queue"
	"github.com/phrazzld/topicq/internal/recovery"
	"github.com/phrazzld/topicq/internal/report"
)

// CompensationSweeper runs one compensation sweep restricted to organizations.
type CompensationSweeper interface {
	SweepOrganizations(ctx context.Context, organizations []string) (queue.Stats, error)
}

// RecoverySweeper runs one execution-timeout recovery sweep.
type RecoverySweeper interface {
	Sweep(ctx context.Context) (recovery.Stats, error)
}

// MessageService enqueues and reads queued messages.
type MessageService interface {
	Enqueue(ctx context.Context, msg domain.NewMessage) (*domain.QueuedMessage, error)
	Get(ctx context.Context, id int64) (*domain.QueuedMessage, error)
}

// AdminHandler serves the /admin routes.
type AdminHandler struct {
	compensation CompensationSweeper
	recovery     RecoverySweeper
	messages     MessageService
	logger       *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(
	compensation CompensationSweeper,
	recovery RecoverySweeper,
	messages MessageService,
	logger *slog.Logger,
) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{
		compensation: compensation,
		recovery:     recovery,
		messages:     messages,
		logger:       logger.With(slog.String("component", "admin_handler")),
	}
}

// RunCompensationSweeps handles POST /admin/compensation/sweeps.
func (h *AdminHandler) RunCompensationSweeps(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeSweepRequest(w, r)
	if !ok {
		return
	}

	h.runSweeps(w, r, req, func(ctx context.Context) (report.Iteration, error) {
		stats, err := h.compensation.SweepOrganizations(ctx, req.Organizations)
		return report.Iteration{
			Processed: stats.Processed,
			Success:   stats.Success,
			Failed:    stats.Failed,
			Skipped:   stats.Skipped,
			Reclaimed: stats.Reclaimed,
			Duration:  stats.Duration,
		}, err
	})
}

// RunRecoverySweeps handles POST /admin/recovery/sweeps. Organizations are
// not applicable to recovery and are rejected.
func (h *AdminHandler) RunRecoverySweeps(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeSweepRequest(w, r)
	if !ok {
		return
	}
	if len(req.Organizations) > 0 {
		shared.RespondWithError(w, r, http.StatusBadRequest, "organizations are not supported for recovery sweeps")
		return
	}

	h.runSweeps(w, r, req, func(ctx context.Context) (report.Iteration, error) {
		stats, err := h.recovery.Sweep(ctx)
		return report.Iteration{
			Processed: stats.Scanned,
			Success:   stats.Reclaimed,
			Skipped:   stats.Skipped,
			Reclaimed: stats.Reclaimed,
			Duration:  stats.Duration,
		}, err
	})
}

// EnqueueMessage handles POST /admin/messages.
func (h *AdminHandler) EnqueueMessage(w http.ResponseWriter, r *http.Request) {
	var req EnqueueMessageRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request data", err)
		return
	}

	msg, err := h.messages.Enqueue(r.Context(), req.toNewMessage())
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "message enqueued via admin API",
		slog.Int64("message_id", msg.ID),
		slog.String("topic_id", msg.TopicID),
		slog.String("trace_id", shared.GetTraceID(r.Context())))
	shared.RespondWithJSON(w, r, http.StatusCreated, msg)
}

// GetMessage handles GET /admin/messages/{id}.
func (h *AdminHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid message ID")
		return
	}

	msg, err := h.messages.Get(r.Context(), id)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, msg)
}

func (h *AdminHandler) decodeSweepRequest(w http.ResponseWriter, r *http.Request) (SweepRequest, bool) {
	var req SweepRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return req, false
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request data", err)
		return req, false
	}
	if req.Loops == 0 {
		req.Loops = 1
	}
	return req, true
}

func (h *AdminHandler) runSweeps(w http.ResponseWriter, r *http.Request, req SweepRequest, run report.RunFunc) {
	interval := time.Duration(req.IntervalMS) * time.Millisecond
	iterations, err := report.RunLoops(r.Context(), req.Loops, interval, run)
	if err != nil && !errors.Is(err, context.Canceled) {
		h.respondWithServiceError(w, r, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, SweepResponse{
		Iterations: iterations,
		Summary:    report.Summarize(iterations),
	})
}

func (h *AdminHandler) respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
}
