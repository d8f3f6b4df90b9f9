// Package webchat serves the browser chat widget over HTTP and WebSocket and
// keeps per-user transcripts.
package webchat

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/cmms-omnibot/internal/conversation"
	"github.com/wolfman30/cmms-omnibot/pkg/logging"
)

const (
	// ChannelWebChat labels requests from the chat widget.
	ChannelWebChat = "webchat"

	defaultChatUser = "web_user"
	historyLimit    = 50
	maxHistoryLimit = 100
	maxChatBody     = 1 << 20

	errEmptyMessage = "Mensaje vacío"
	errInvalidJSON  = "JSON inválido"
)

// Engine is the part of the conversation engine the chat needs.
type Engine interface {
	Handle(ctx context.Context, req conversation.Request) conversation.Reply
}

// LatencyObserver records request handling time per channel.
type LatencyObserver interface {
	ObserveWebhookLatency(channel string, seconds float64)
}

// Handler manages web chat connections and messages.
type Handler struct {
	engine     Engine
	transcript TranscriptStore
	metrics    LatencyObserver
	logger     *logging.Logger

	mu    sync.RWMutex
	conns map[string]*wsConn // user id -> active connection
}

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(msg OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return websocket.JSON.Send(c.conn, msg)
}

// ChatRequest is the POST /chat body.
type ChatRequest struct {
	Message string `json:"message"`
	UserID  string `json:"user_id"`
}

// ChatResponse is the POST /chat reply.
type ChatResponse struct {
	Response  string `json:"response"`
	Timestamp string `json:"timestamp"`
}

// InboundMessage is what the widget sends over the socket.
type InboundMessage struct {
	Type string `json:"type"` // "message", "ping"
	Text string `json:"text"`
}

// OutboundMessage is what we send to the widget.
type OutboundMessage struct {
	Type      string           `json:"type"` // "message", "typing", "history", "session", "pong", "error"
	Text      string           `json:"text,omitempty"`
	Role      string           `json:"role,omitempty"`
	UserID    string           `json:"user_id,omitempty"`
	Timestamp string           `json:"timestamp,omitempty"`
	Messages  []HistoryMessage `json:"messages,omitempty"`
}

// HistoryMessage is a transcript line as the widget renders it.
type HistoryMessage struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// NewHandler creates a web chat handler. transcript and metrics may be nil.
func NewHandler(engine Engine, transcript TranscriptStore, metrics LatencyObserver, logger *logging.Logger) (*Handler, error) {
	if engine == nil {
		return nil, errors.New("webchat: engine is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		engine:     engine,
		transcript: transcript,
		metrics:    metrics,
		logger:     logger,
		conns:      make(map[string]*wsConn),
	}, nil
}

// generateUserID creates a random widget user identifier.
func generateUserID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return defaultChatUser + "_" + uuid.NewString()
	}
	return defaultChatUser + "_" + hex.EncodeToString(b)
}

// HandleChat is POST /chat.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer h.observeLatency(start)

	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errInvalidJSON})
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errEmptyMessage})
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = defaultChatUser
	}

	reply := h.process(r.Context(), userID, message)
	writeJSON(w, http.StatusOK, ChatResponse{
		Response:  reply.Text,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// HandleWebSocket upgrades to WebSocket and handles real-time messaging.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, r)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWS(conn *websocket.Conn, r *http.Request) {
	ctx := r.Context()
	conn.MaxPayloadBytes = maxChatBody
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		userID = generateUserID()
	}

	wsc := &wsConn{conn: conn}
	_ = wsc.send(OutboundMessage{Type: "session", UserID: userID})
	if history := h.history(ctx, userID, historyLimit); len(history) > 0 {
		_ = wsc.send(OutboundMessage{Type: "history", Messages: history})
	}

	h.mu.Lock()
	h.conns[userID] = wsc
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		if h.conns[userID] == wsc {
			delete(h.conns, userID)
		}
		h.mu.Unlock()
	}()

	h.logger.Info("webchat: connection opened", "user_id", userID)

	for {
		var msg InboundMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			h.logger.Debug("webchat: connection closed", "user_id", userID, "error", err)
			return
		}

		switch {
		case msg.Type == "ping":
			_ = wsc.send(OutboundMessage{Type: "pong"})
		case msg.Type == "message" && strings.TrimSpace(msg.Text) != "":
			start := time.Now()
			_ = wsc.send(OutboundMessage{Type: "typing"})
			reply := h.process(ctx, userID, strings.TrimSpace(msg.Text))
			_ = wsc.send(OutboundMessage{
				Type:      "message",
				Role:      "assistant",
				Text:      reply.Text,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
			h.observeLatency(start)
		}
	}
}

// process runs one message through the engine and records both sides.
func (h *Handler) process(ctx context.Context, userID, text string) conversation.Reply {
	h.record(ctx, userID, Message{Role: "user", Body: text, Kind: "webchat_inbound"})

	reply := h.engine.Handle(ctx, conversation.Request{
		UserID:  userID,
		Channel: ChannelWebChat,
		Message: text,
	})

	h.record(ctx, userID, Message{Role: "assistant", Body: reply.Text, Kind: "webchat_reply"})
	h.logger.Info("webchat message handled",
		"user_id", userID,
		"intent", reply.Intent,
		"state", reply.State,
		"correlation_id", reply.CorrelationID,
	)
	return reply
}

func (h *Handler) record(ctx context.Context, userID string, msg Message) {
	if h.transcript == nil {
		return
	}
	if err := h.transcript.Append(ctx, userID, msg); err != nil {
		h.logger.Warn("webchat: failed to append transcript", "user_id", userID, "error", err)
	}
}

// Push sends msg to the user's open socket and reports whether one existed.
func (h *Handler) Push(userID string, msg OutboundMessage) bool {
	h.mu.RLock()
	wsc, ok := h.conns[userID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	if err := wsc.send(msg); err != nil {
		h.logger.Warn("webchat: push failed", "user_id", userID, "error", err)
		return false
	}
	return true
}

// HandleHistory is GET /chat/history?user_id=...&limit=...
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		userID = defaultChatUser
	}
	limit := int64(maxHistoryLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 && n < maxHistoryLimit {
			limit = n
		}
	}

	if h.transcript == nil {
		writeJSON(w, http.StatusOK, map[string]any{"messages": []HistoryMessage{}})
		return
	}
	msgs, err := h.transcript.List(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("webchat: failed to load history", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "No se pudo cargar el historial"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": toHistory(msgs)})
}

func (h *Handler) history(ctx context.Context, userID string, limit int64) []HistoryMessage {
	if h.transcript == nil {
		return nil
	}
	msgs, err := h.transcript.List(ctx, userID, limit)
	if err != nil {
		h.logger.Warn("webchat: failed to load history", "user_id", userID, "error", err)
		return nil
	}
	return toHistory(msgs)
}

func toHistory(msgs []Message) []HistoryMessage {
	history := make([]HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, HistoryMessage{
			Role:      m.Role,
			Text:      m.Body,
			Timestamp: m.Timestamp.Format(time.RFC3339),
		})
	}
	return history
}

func (h *Handler) observeLatency(start time.Time) {
	if h.metrics != nil {
		h.metrics.ObserveWebhookLatency(ChannelWebChat, time.Since(start).Seconds())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
