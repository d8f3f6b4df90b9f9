package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/wolfman30/cmms-omnibot/internal/notify"
	"github.com/wolfman30/cmms-omnibot/pkg/logging"
)

// Notifier sends a message through a named notification service.
type Notifier interface {
	Send(ctx context.Context, service, userID, message string) error
}

// NotifyHandler serves POST /api/notify.
type NotifyHandler struct {
	notifier Notifier
	logger   *logging.Logger
}

type notifyRequest struct {
	ServiceName string `json:"service_name"`
	UserID      string `json:"user_id"`
	Message     string `json:"message"`
}

// NewNotifyHandler wires the notify endpoint.
func NewNotifyHandler(notifier Notifier, logger *logging.Logger) (*NotifyHandler, error) {
	if notifier == nil {
		return nil, errors.New("handlers: notifier is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &NotifyHandler{notifier: notifier, logger: logger}, nil
}

// Handle sends one notification.
func (h *NotifyHandler) Handle(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, "JSON inválido", http.StatusBadRequest)
		return
	}
	req.ServiceName = strings.TrimSpace(req.ServiceName)
	req.UserID = strings.TrimSpace(req.UserID)
	if req.ServiceName == "" || req.UserID == "" || strings.TrimSpace(req.Message) == "" {
		jsonError(w, "Faltan parámetros: service_name, user_id, message", http.StatusBadRequest)
		return
	}

	err := h.notifier.Send(r.Context(), req.ServiceName, req.UserID, req.Message)
	switch {
	case errors.Is(err, notify.ErrUnknownService):
		jsonError(w, fmt.Sprintf("Servicio de notificación desconocido: %s", req.ServiceName), http.StatusBadRequest)
		return
	case err != nil:
		h.logger.Error("notification failed", "service", req.ServiceName, "user_id", req.UserID, "error", err)
		jsonError(w, fmt.Sprintf("Error al enviar la notificación: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": fmt.Sprintf("Notificación enviada a %s a través de %s.", req.UserID, req.ServiceName),
	})
}
