package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/cmms-omnibot/internal/session"
	"github.com/wolfman30/cmms-omnibot/internal/workflow"
	"github.com/wolfman30/cmms-omnibot/pkg/logging"
)

// Mode selects how top-level complex intents are answered.
type Mode string

const (
	// ModeInline drives every flow through the state machine.
	ModeInline Mode = "inline"
	// ModeDelegate hands fresh complex requests to the workflow runner.
	ModeDelegate Mode = "delegate"
)

// ParseMode accepts inline or delegate, case-insensitively.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeInline:
		return ModeInline, nil
	case ModeDelegate:
		return ModeDelegate, nil
	}
	return "", fmt.Errorf("conversation: unknown dispatch mode %q", raw)
}

const (
	WorkflowReportFault    = "report_fault_workflow"
	WorkflowQueryOTStatus  = "query_ot_status_workflow"
	WorkflowListEquipments = "list_equipments_workflow"
	WorkflowDefault        = "process_user_message"

	correlationPrefix     = "manual__"
	defaultTriggerTimeout = 3 * time.Second
)

var delegatedWorkflows = map[Intent]string{
	IntentStartFaultReport: WorkflowReportFault,
	IntentQueryWorkOrder:   WorkflowQueryOTStatus,
	IntentListEquipment:    WorkflowListEquipments,
}

// WorkflowFor returns the workflow id that handles intent.
func WorkflowFor(intent Intent) string {
	if id, ok := delegatedWorkflows[intent]; ok {
		return id
	}
	return WorkflowDefault
}

// Dispatcher decides between answering inline and delegating, and performs
// the delegation.
type Dispatcher struct {
	mode     Mode
	trigger  workflow.Triggerer
	timeout  time.Duration
	observer Observer
	logger   *logging.Logger
	tracer   trace.Tracer
	newID    func() string
	now      func() time.Time
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTriggerTimeout bounds each trigger call.
func WithTriggerTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.timeout = d
		}
	}
}

// WithDispatchObserver records trigger outcomes.
func WithDispatchObserver(observer Observer) DispatcherOption {
	return func(disp *Dispatcher) {
		if observer != nil {
			disp.observer = observer
		}
	}
}

// NewDispatcher builds a dispatcher. A triggerer is required in delegate mode.
func NewDispatcher(mode Mode, trigger workflow.Triggerer, logger *logging.Logger, opts ...DispatcherOption) (*Dispatcher, error) {
	if mode != ModeInline && mode != ModeDelegate {
		return nil, fmt.Errorf("conversation: unknown dispatch mode %q", mode)
	}
	if mode == ModeDelegate && trigger == nil {
		return nil, errors.New("conversation: delegate mode requires a workflow trigger")
	}
	if logger == nil {
		logger = logging.Default()
	}
	d := &Dispatcher{
		mode:     mode,
		trigger:  trigger,
		timeout:  defaultTriggerTimeout,
		observer: nopObserver{},
		logger:   logger,
		tracer:   otel.Tracer("cmms.internal.conversation.dispatcher"),
		newID:    func() string { return correlationPrefix + uuid.NewString() },
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Mode reports the configured dispatch mode.
func (d *Dispatcher) Mode() Mode {
	return d.mode
}

// ShouldDelegate is true for complex intents arriving on an idle session
// when the dispatcher runs in delegate mode. Once a flow has started the
// state machine drives it inline.
func (d *Dispatcher) ShouldDelegate(intent Intent, state session.State) bool {
	if d == nil || d.mode != ModeDelegate || state != session.StateIdle {
		return false
	}
	_, ok := delegatedWorkflows[intent]
	return ok
}

// Delegate triggers the workflow for intent and returns the acknowledgement
// text with the minted correlation id. A failed trigger is logged and counted;
// the user still gets the acknowledgement.
func (d *Dispatcher) Delegate(ctx context.Context, req Request, sess *session.Session, intent Intent) (string, string) {
	rec := workflow.Record{
		WorkflowID:    WorkflowFor(intent),
		CorrelationID: d.newID(),
		Payload: workflow.Payload{
			UserID:      req.UserID,
			Channel:     req.Channel,
			Message:     req.Message,
			Session:     sess.Clone(),
			RequestedAt: d.now(),
		},
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	ctx, span := d.tracer.Start(ctx, "workflow.trigger", trace.WithAttributes(
		attribute.String("workflow.id", rec.WorkflowID),
		attribute.String("workflow.correlation_id", rec.CorrelationID),
	))
	defer span.End()

	status := "accepted"
	if err := d.trigger.Trigger(ctx, rec); err != nil {
		status = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, "trigger failed")
		d.logger.Error("workflow trigger failed",
			"workflow_id", rec.WorkflowID,
			"correlation_id", rec.CorrelationID,
			"user_id", req.UserID,
			"error", err,
		)
	} else {
		d.logger.Info("workflow triggered",
			"workflow_id", rec.WorkflowID,
			"correlation_id", rec.CorrelationID,
			"user_id", req.UserID,
		)
	}
	d.observer.ObserveWorkflowTrigger(rec.WorkflowID, status)
	return ProcessingReply(intent), rec.CorrelationID
}
