package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/cmms-omnibot/internal/events"
	"github.com/wolfman30/cmms-omnibot/internal/workflow"
	"github.com/wolfman30/cmms-omnibot/pkg/logging"
)

// workflowEventSource namespaces correlation ids in the processed events table.
const workflowEventSource = "workflow"

// WorkflowHandler serves the workflow completion callback and run lookups.
type WorkflowHandler struct {
	deduper   events.Deduper
	deliverer workflow.Deliverer
	runs      workflow.RunStore
	logger    *logging.Logger
}

// NewWorkflowHandler wires the callback. runs may be nil, in which case run
// lookups answer 404.
func NewWorkflowHandler(deduper events.Deduper, deliverer workflow.Deliverer, runs workflow.RunStore, logger *logging.Logger) (*WorkflowHandler, error) {
	if deduper == nil {
		return nil, errors.New("handlers: deduper is required")
	}
	if deliverer == nil {
		return nil, errors.New("handlers: deliverer is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WorkflowHandler{deduper: deduper, deliverer: deliverer, runs: runs, logger: logger}, nil
}

// HandleCallback is POST /api/bot/webhook. A correlation id is delivered at
// most once; repeats are acknowledged without sending anything.
func (h *WorkflowHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	var res workflow.Result
	if err := decodeJSON(w, r, &res); err != nil {
		jsonError(w, "JSON inválido", http.StatusBadRequest)
		return
	}
	res.CorrelationID = strings.TrimSpace(res.CorrelationID)
	res.UserID = strings.TrimSpace(res.UserID)
	if res.CorrelationID == "" || res.UserID == "" || strings.TrimSpace(res.Message) == "" {
		jsonError(w, "Faltan parámetros: correlation_id, user_id, message", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	done, err := h.deduper.AlreadyProcessed(ctx, workflowEventSource, res.CorrelationID)
	if err != nil {
		h.logger.Error("workflow callback dedupe check failed", "correlation_id", res.CorrelationID, "error", err)
		jsonError(w, "Error interno", http.StatusInternalServerError)
		return
	}
	if done {
		h.logger.Info("duplicate workflow callback ignored", "correlation_id", res.CorrelationID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	if err := h.deliverer.Deliver(ctx, res); err != nil {
		h.logger.Error("workflow callback delivery failed",
			"correlation_id", res.CorrelationID,
			"user_id", res.UserID,
			"channel", res.Channel,
			"error", err,
		)
		jsonError(w, "Error al entregar la respuesta: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.markProcessed(ctx, res.CorrelationID)
	h.logger.Info("workflow callback delivered",
		"correlation_id", res.CorrelationID,
		"workflow_id", res.WorkflowID,
		"user_id", res.UserID,
		"channel", res.Channel,
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *WorkflowHandler) markProcessed(ctx context.Context, correlationID string) {
	first, err := h.deduper.MarkProcessed(ctx, workflowEventSource, correlationID)
	switch {
	case err != nil:
		h.logger.Warn("failed to record workflow callback", "correlation_id", correlationID, "error", err)
	case !first:
		h.logger.Warn("workflow callback delivered concurrently", "correlation_id", correlationID)
	}
}

// HandleGetRun is GET /api/bot/workflows/{correlationID}.
func (h *WorkflowHandler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	correlationID := strings.TrimSpace(chi.URLParam(r, "correlationID"))
	if correlationID == "" {
		jsonError(w, "correlation_id requerido", http.StatusBadRequest)
		return
	}
	if h.runs == nil {
		jsonError(w, "Ejecución no encontrada", http.StatusNotFound)
		return
	}

	run, err := h.runs.GetRun(r.Context(), correlationID)
	switch {
	case errors.Is(err, workflow.ErrRunNotFound):
		jsonError(w, "Ejecución no encontrada", http.StatusNotFound)
		return
	case err != nil:
		h.logger.Error("workflow run lookup failed", "correlation_id", correlationID, "error", err)
		jsonError(w, "Error interno", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
