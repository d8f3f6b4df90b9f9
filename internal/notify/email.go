package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sendgrid/rest"
	"github.com/wolfman30/cmms-omnibot/pkg/logging"
)

const (
	defaultFromName     = "Somacor CMMS"
	defaultEmailSubject = "Notificación del sistema de mantenimiento"
)

// EmailSender sends one composed email. SendGrid, SES and the stub all
// implement it.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage represents an email to be sent.
type EmailMessage struct {
	To      string
	ToName  string
	Subject string
	Body    string
	HTML    string
}

type sendgridAPI interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridSender sends emails via SendGrid API.
type SendGridSender struct {
	client    sendgridAPI
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// SendGridConfig holds configuration for SendGrid.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// NewSendGridSender returns nil when no API key is configured so callers can
// fall through to the next provider.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	return &SendGridSender{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

// Send sends an email via SendGrid.
func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s.client == nil {
		return errors.New("notify: sendgrid client not configured")
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(msg.ToName, msg.To)
	html := msg.HTML
	if html == "" {
		html = msg.Body
	}
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.Body, html)

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		s.logger.Error("sendgrid send failed", "error", err, "to", msg.To)
		return fmt.Errorf("notify: sendgrid send failed: %w", err)
	}
	if response.StatusCode >= 400 {
		s.logger.Error("sendgrid returned error status", "status", response.StatusCode, "to", msg.To)
		return fmt.Errorf("notify: sendgrid returned status %d", response.StatusCode)
	}

	s.logger.Info("email sent via sendgrid", "to", msg.To, "status", response.StatusCode)
	return nil
}

// StubEmailSender logs instead of sending.
type StubEmailSender struct {
	logger *logging.Logger
}

// NewStubEmailSender creates a stub email sender.
func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

// Send logs the email but doesn't actually send it.
func (s *StubEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	s.logger.Info("stub email sender: would send email", "to", msg.To, "subject", msg.Subject)
	return nil
}

// SelectEmailSender picks SendGrid, then SES, then the stub.
func SelectEmailSender(sg *SendGridSender, ses *SESSender, logger *logging.Logger) EmailSender {
	switch {
	case sg != nil:
		return sg
	case ses != nil:
		return ses
	default:
		return NewStubEmailSender(logger)
	}
}

// EmailChannel exposes an EmailSender as the "email" service. The user id is
// the recipient address.
type EmailChannel struct {
	sender  EmailSender
	subject string
}

// NewEmailChannel wraps sender. An empty subject uses the default.
func NewEmailChannel(sender EmailSender, subject string) *EmailChannel {
	if strings.TrimSpace(subject) == "" {
		subject = defaultEmailSubject
	}
	return &EmailChannel{sender: sender, subject: subject}
}

// Send emails message to the address in userID.
func (c *EmailChannel) Send(ctx context.Context, userID, message string) error {
	to := strings.TrimSpace(userID)
	if !strings.Contains(to, "@") {
		return fmt.Errorf("notify: %q is not an email address", userID)
	}
	return c.sender.Send(ctx, EmailMessage{
		To:      to,
		Subject: c.subject,
		Body:    message,
	})
}
