package webchat

import (
	"context"
	"time"

	"github.com/wolfman30/cmms-omnibot/pkg/logging"
)

// Sender delivers out-of-band notifications to web chat users. The message is
// always appended to the transcript and pushed when a socket is open, so a
// user who reconnects later still sees it in their history.
type Sender struct {
	handler *Handler
	logger  *logging.Logger
}

// NewSender creates a webchat notification sender.
func NewSender(handler *Handler, logger *logging.Logger) *Sender {
	if logger == nil {
		logger = logging.Default()
	}
	return &Sender{handler: handler, logger: logger}
}

// Send records message for userID and pushes it to any open connection.
func (s *Sender) Send(ctx context.Context, userID, message string) error {
	if s.handler.transcript != nil {
		if err := s.handler.transcript.Append(ctx, userID, Message{
			Role: "assistant",
			Body: message,
			Kind: "webchat_notification",
		}); err != nil {
			return err
		}
	}

	pushed := s.handler.Push(userID, OutboundMessage{
		Type:      "message",
		Role:      "assistant",
		Text:      message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	s.logger.Info("webchat: notification delivered", "user_id", userID, "pushed", pushed, "length", len(message))
	return nil
}
