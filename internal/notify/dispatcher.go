// Package notify delivers out-of-band messages to users through named
// services such as whatsapp, sms, email and webchat.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/wolfman30/cmms-omnibot/pkg/logging"
)

var (
	// ErrUnknownService is returned when no sender is registered under a name.
	ErrUnknownService = errors.New("notify: unknown service")
	// ErrDeliveryFailed wraps every sender error.
	ErrDeliveryFailed = errors.New("notify: delivery failed")
)

// Sender delivers one message to one user on a single service.
type Sender interface {
	Send(ctx context.Context, userID, message string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, userID, message string) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, userID, message string) error {
	return f(ctx, userID, message)
}

// Observer records delivery outcomes.
type Observer interface {
	ObserveNotification(service string, ok bool)
}

// Dispatcher routes messages to registered senders by service name.
type Dispatcher struct {
	mu       sync.RWMutex
	senders  map[string]Sender
	observer Observer
	logger   *logging.Logger
}

// NewDispatcher returns an empty dispatcher. observer may be nil.
func NewDispatcher(observer Observer, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		senders:  make(map[string]Sender),
		observer: observer,
		logger:   logger,
	}
}

// Register binds a sender to a service name, replacing any previous one.
func (d *Dispatcher) Register(service string, sender Sender) {
	service = normalizeService(service)
	if service == "" || sender == nil {
		return
	}
	d.mu.Lock()
	d.senders[service] = sender
	d.mu.Unlock()
}

// Services lists the registered service names in sorted order.
func (d *Dispatcher) Services() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.senders))
	for name := range d.senders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Send delivers message to userID through the named service.
func (d *Dispatcher) Send(ctx context.Context, service, userID, message string) error {
	service = normalizeService(service)
	d.mu.RLock()
	sender, ok := d.senders[service]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownService, service)
	}

	if err := sender.Send(ctx, userID, message); err != nil {
		d.observe(service, false)
		d.logger.Error("notification delivery failed", "service", service, "user_id", userID, "error", err)
		return fmt.Errorf("%w: %s: %w", ErrDeliveryFailed, service, err)
	}
	d.observe(service, true)
	d.logger.Info("notification delivered", "service", service, "user_id", userID)
	return nil
}

func (d *Dispatcher) observe(service string, ok bool) {
	if d.observer != nil {
		d.observer.ObserveNotification(service, ok)
	}
}

func normalizeService(service string) string {
	return strings.ToLower(strings.TrimSpace(service))
}

// LogSender only logs. It backs the "log" service and stands in for
// unconfigured providers during local runs.
type LogSender struct {
	service string
	logger  *logging.Logger
}

// NewLogSender returns a sender that logs under the given service label.
func NewLogSender(service string, logger *logging.Logger) *LogSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSender{service: service, logger: logger}
}

// Send logs the message.
func (s *LogSender) Send(ctx context.Context, userID, message string) error {
	s.logger.Info("log sender: would deliver notification", "service", s.service, "user_id", userID, "length", len(message))
	return nil
}
