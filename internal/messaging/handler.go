// Package messaging adapts the Twilio WhatsApp channel to the conversation
// engine and sends outbound messages through the Twilio REST API.
package messaging

import (
	"context"
	"encoding/xml"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/cmms-omnibot/internal/conversation"
	"github.com/wolfman30/cmms-omnibot/pkg/logging"
)

// ChannelWhatsApp labels requests arriving through Twilio WhatsApp.
const ChannelWhatsApp = "whatsapp"

var twilioTracer = otel.Tracer("cmms.internal.messaging.twilio")

// Engine is the part of the conversation engine the webhook needs.
type Engine interface {
	Handle(ctx context.Context, req conversation.Request) conversation.Reply
}

// LatencyObserver records webhook handling time per channel.
type LatencyObserver interface {
	ObserveWebhookLatency(channel string, seconds float64)
}

// Handler serves the Twilio WhatsApp webhook.
type Handler struct {
	webhookSecret string
	engine        Engine
	metrics       LatencyObserver
	logger        *logging.Logger
}

// NewHandler creates a WhatsApp webhook handler. An empty webhookSecret
// disables signature validation. metrics may be nil.
func NewHandler(webhookSecret string, engine Engine, metrics LatencyObserver, logger *logging.Logger) (*Handler, error) {
	if engine == nil {
		return nil, errors.New("messaging: engine is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		webhookSecret: webhookSecret,
		engine:        engine,
		metrics:       metrics,
		logger:        logger,
	}, nil
}

// WhatsAppWebhook handles POST /whatsapp and answers with TwiML.
func (h *Handler) WhatsAppWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		if h.metrics != nil {
			h.metrics.ObserveWebhookLatency(ChannelWhatsApp, time.Since(start).Seconds())
		}
	}()

	ctx, span := twilioTracer.Start(r.Context(), "messaging.twilio.webhook")
	defer span.End()

	if h.webhookSecret != "" {
		if !ValidateTwilioSignature(r, h.webhookSecret, buildAbsoluteURL(r)) {
			h.logger.Warn("invalid twilio signature")
			span.RecordError(errors.New("invalid twilio signature"))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	webhook, err := ParseTwilioWebhook(r)
	if err != nil {
		h.logger.Error("failed to parse twilio webhook", "error", err)
		span.RecordError(err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	userID := webhook.From
	if userID == "" {
		userID = "unknown"
	}
	span.SetAttributes(
		attribute.String("cmms.twilio.message_sid", webhook.MessageSid),
		attribute.String("cmms.user_id", userID),
	)

	reply := h.engine.Handle(ctx, conversation.Request{
		UserID:  userID,
		Channel: ChannelWhatsApp,
		Message: webhook.Body,
	})
	span.SetAttributes(
		attribute.String("cmms.intent", string(reply.Intent)),
		attribute.String("cmms.state", string(reply.State)),
	)

	h.logger.Info("whatsapp message handled",
		"user_id", userID,
		"message_sid", webhook.MessageSid,
		"intent", reply.Intent,
		"state", reply.State,
		"correlation_id", reply.CorrelationID,
	)

	writeTwiML(w, reply.Text)
}

// writeTwiML writes a single-message TwiML response with the text escaped.
func writeTwiML(w http.ResponseWriter, text string) {
	var body strings.Builder
	body.WriteString(`<?xml version="1.0" encoding="UTF-8"?><Response><Message>`)
	_ = xml.EscapeText(&body, []byte(text))
	body.WriteString(`</Message></Response>`)

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body.String()))
}
