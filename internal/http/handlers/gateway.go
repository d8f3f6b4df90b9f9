package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/cmms-omnibot/internal/conversation"
	"github.com/wolfman30/cmms-omnibot/pkg/logging"
)

// ChannelGateway labels requests arriving through the API gateway.
const ChannelGateway = "gateway"

// Engine is the part of the conversation engine the gateway needs.
type Engine interface {
	Handle(ctx context.Context, req conversation.Request) conversation.Reply
}

// GatewayHandler serves POST /api/bot/message.
type GatewayHandler struct {
	engine Engine
	logger *logging.Logger
}

type gatewayRequest struct {
	Message string `json:"message"`
	UserID  string `json:"user_id"`
}

type gatewayResponse struct {
	Response      string `json:"response"`
	Timestamp     string `json:"timestamp"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// NewGatewayHandler wires the gateway to an engine, normally one in delegate
// mode.
func NewGatewayHandler(engine Engine, logger *logging.Logger) (*GatewayHandler, error) {
	if engine == nil {
		return nil, errors.New("handlers: gateway engine is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &GatewayHandler{engine: engine, logger: logger}, nil
}

// HandleMessage runs one gateway message. A missing user id gets a fresh
// web_user_<uuid> so anonymous callers never share a session.
func (h *GatewayHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req gatewayRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, "JSON inválido", http.StatusBadRequest)
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		jsonError(w, "Mensaje vacío", http.StatusBadRequest)
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = "web_user_" + uuid.NewString()
	}

	reply := h.engine.Handle(r.Context(), conversation.Request{
		UserID:  userID,
		Channel: ChannelGateway,
		Message: message,
	})
	h.logger.Info("gateway message handled",
		"user_id", userID,
		"intent", reply.Intent,
		"state", reply.State,
		"correlation_id", reply.CorrelationID,
	)

	writeJSON(w, http.StatusOK, gatewayResponse{
		Response:      reply.Text,
		Timestamp:     time.Now().Format(time.RFC3339),
		CorrelationID: reply.CorrelationID,
	})
}
