package notify

import (
	"context"
	"errors"
	"strings"

	"github.com/wolfman30/cmms-omnibot/internal/workflow"
)

// ServiceForChannel maps the channel a request arrived on to the notification
// service that reaches the same user. Gateway users are web users.
func ServiceForChannel(channel string) string {
	switch strings.ToLower(strings.TrimSpace(channel)) {
	case "whatsapp":
		return "whatsapp"
	case "sms":
		return "sms"
	case "email":
		return "email"
	case "webchat", "gateway", "":
		return "webchat"
	default:
		return strings.ToLower(strings.TrimSpace(channel))
	}
}

// WorkflowDeliverer hands finished workflow replies to the dispatcher. It is
// the in-process counterpart of workflow.CallbackClient.
type WorkflowDeliverer struct {
	dispatcher *Dispatcher
}

// NewWorkflowDeliverer wraps dispatcher.
func NewWorkflowDeliverer(dispatcher *Dispatcher) (*WorkflowDeliverer, error) {
	if dispatcher == nil {
		return nil, errors.New("notify: dispatcher is required")
	}
	return &WorkflowDeliverer{dispatcher: dispatcher}, nil
}

// Deliver sends res.Message to res.UserID on the service for res.Channel.
func (d *WorkflowDeliverer) Deliver(ctx context.Context, res workflow.Result) error {
	return d.dispatcher.Send(ctx, ServiceForChannel(res.Channel), res.UserID, res.Message)
}

var _ workflow.Deliverer = (*WorkflowDeliverer)(nil)
