package conversation

import (
	"context"
	"strings"

	"github.com/wolfman30/cmms-omnibot/internal/cmms"
	"github.com/wolfman30/cmms-omnibot/internal/session"
	"github.com/wolfman30/cmms-omnibot/pkg/logging"
)

// minDescriptionLength is the shortest fault description accepted.
const minDescriptionLength = 10

// RecordClient is the slice of the maintenance backend the machine needs.
type RecordClient interface {
	ListEquipment(ctx context.Context) ([]cmms.Equipment, error)
	FindEquipment(ctx context.Context, term string) (*cmms.Equipment, error)
	GetWorkOrder(ctx context.Context, number string) (*cmms.WorkOrder, error)
	SubmitFaultReport(ctx context.Context, equipmentID int, description, priority string) (*cmms.WorkOrder, error)
}

// Outcome is the result of a single transition.
type Outcome struct {
	Session *session.Session
	Reply   string
	// Submitted is set once a fault report reached the backend, whatever the result.
	Submitted bool
}

// Machine advances a session through the fault report and OT query flows.
type Machine struct {
	records RecordClient
	logger  *logging.Logger
}

// NewMachine wires a machine to the record client.
func NewMachine(records RecordClient, logger *logging.Logger) *Machine {
	if logger == nil {
		logger = logging.Default()
	}
	return &Machine{records: records, logger: logger}
}

// Step applies intent to a copy of sess and returns the next session and reply.
// The input session is never modified.
func (m *Machine) Step(ctx context.Context, sess *session.Session, intent Intent, message string) Outcome {
	next := sess.Clone()

	if intent.IsControl() {
		next.Reset()
		return Outcome{Session: next, Reply: replyCancelled}
	}

	switch next.State {
	case session.StateAwaitingEquipment:
		return m.onEquipment(ctx, next, message)
	case session.StateAwaitingDescription:
		return m.onDescription(next, message)
	case session.StateAwaitingPriority:
		return m.onPriority(next, message)
	case session.StateConfirmingReport:
		return m.onConfirmation(ctx, next, intent)
	case session.StateQueryingOT:
		return m.onOrderNumber(ctx, next, message)
	default:
		next.State = session.StateIdle
		return m.onIdle(ctx, next, intent, message)
	}
}

func (m *Machine) onIdle(ctx context.Context, next *session.Session, intent Intent, message string) Outcome {
	switch intent {
	case IntentGreeting:
		return Outcome{Session: next, Reply: replyGreeting}
	case IntentHelpRequest:
		return Outcome{Session: next, Reply: replyHelp}
	case IntentStartFaultReport:
		next.Draft = session.Draft{}
		next.State = session.StateAwaitingEquipment
		return Outcome{Session: next, Reply: replyEquipmentPrompt}
	case IntentQueryWorkOrder:
		number, ok := ExtractOrderNumber(message)
		if !ok {
			next.State = session.StateQueryingOT
			return Outcome{Session: next, Reply: replyOrderPrompt}
		}
		reply, _ := m.lookupOrder(ctx, number)
		return Outcome{Session: next, Reply: reply}
	case IntentListEquipment:
		equipment, err := m.records.ListEquipment(ctx)
		if err != nil {
			m.logger.Warn("equipment list failed", "user_id", next.UserID, "error", err)
			return Outcome{Session: next, Reply: replyBackendUnavailable}
		}
		if len(equipment) == 0 {
			return Outcome{Session: next, Reply: replyNoEquipment}
		}
		return Outcome{Session: next, Reply: formatEquipmentList(equipment)}
	default:
		return Outcome{Session: next, Reply: replyFallback}
	}
}

func (m *Machine) onEquipment(ctx context.Context, next *session.Session, message string) Outcome {
	found, err := m.records.FindEquipment(ctx, message)
	if err != nil {
		m.logger.Warn("equipment lookup failed", "user_id", next.UserID, "error", err)
		return Outcome{Session: next, Reply: replyBackendUnavailable}
	}
	if found == nil {
		return Outcome{Session: next, Reply: replyEquipmentNotFound(message)}
	}
	next.Draft.Equipment = &session.EquipmentRef{
		ID:   found.ID,
		Name: found.Name,
		Code: found.Code.String(),
	}
	next.State = session.StateAwaitingDescription
	return Outcome{Session: next, Reply: replyEquipmentSelected(found.Name)}
}

func (m *Machine) onDescription(next *session.Session, message string) Outcome {
	description := strings.TrimSpace(message)
	if len([]rune(description)) < minDescriptionLength {
		return Outcome{Session: next, Reply: replyDescriptionTooShort}
	}
	next.Draft.Description = description
	next.State = session.StateAwaitingPriority
	return Outcome{Session: next, Reply: replyPriorityMenu}
}

func (m *Machine) onPriority(next *session.Session, message string) Outcome {
	priority, ok := session.ParsePriority(message)
	if !ok {
		return Outcome{Session: next, Reply: replyInvalidPriority}
	}
	next.Draft.Priority = priority
	next.State = session.StateConfirmingReport
	return Outcome{Session: next, Reply: replySummary(next.Draft)}
}

func (m *Machine) onConfirmation(ctx context.Context, next *session.Session, intent Intent) Outcome {
	switch intent {
	case IntentConfirmReport:
	case IntentCancelReport:
		next.Reset()
		return Outcome{Session: next, Reply: replyReportCancelled}
	default:
		return Outcome{Session: next, Reply: replyConfirmPrompt}
	}

	draft := next.Draft
	next.Reset()
	if draft.Equipment == nil {
		// A confirmation without equipment can only come from a corrupted draft.
		return Outcome{Session: next, Reply: replyReportFailed(nil)}
	}

	order, err := m.records.SubmitFaultReport(ctx, draft.Equipment.ID, draft.Description, draft.Priority.Label())
	if err != nil {
		m.logger.Error("fault report submission failed",
			"user_id", next.UserID,
			"equipment_id", draft.Equipment.ID,
			"error", err,
		)
		return Outcome{Session: next, Reply: replyReportFailed(err), Submitted: true}
	}

	number := ""
	if order != nil {
		number = order.Number
	}
	m.logger.Info("fault report created", "user_id", next.UserID, "work_order", number)
	return Outcome{Session: next, Reply: replyReportCreated(number, draft), Submitted: true}
}

func (m *Machine) onOrderNumber(ctx context.Context, next *session.Session, message string) Outcome {
	number, ok := ExtractOrderNumber(message)
	if !ok {
		return Outcome{Session: next, Reply: replyOrderBadFormat}
	}
	reply, resolved := m.lookupOrder(ctx, number)
	if !resolved {
		return Outcome{Session: next, Reply: reply}
	}
	next.Reset()
	return Outcome{Session: next, Reply: reply}
}

// lookupOrder resolves an OT number. resolved is false only when the backend
// could not answer.
func (m *Machine) lookupOrder(ctx context.Context, number string) (reply string, resolved bool) {
	order, err := m.records.GetWorkOrder(ctx, number)
	if err != nil {
		m.logger.Warn("work order lookup failed", "work_order", number, "error", err)
		return replyBackendUnavailable, false
	}
	if order == nil {
		return replyOrderNotFound(number), true
	}
	return formatWorkOrder(order) + "\n" + replyAnotherOrder, true
}
