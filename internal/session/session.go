package session

import (
	"strings"
	"time"
)

// State is the conversation step a user is currently in.
type State string

const (
	StateIdle                State = "idle"
	StateAwaitingEquipment   State = "awaiting_equipment"
	StateAwaitingDescription State = "awaiting_description"
	StateAwaitingPriority    State = "awaiting_priority"
	StateConfirmingReport    State = "confirming_report"
	StateQueryingOT          State = "querying_ot"
)

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateIdle, StateAwaitingEquipment, StateAwaitingDescription,
		StateAwaitingPriority, StateConfirmingReport, StateQueryingOT:
		return true
	}
	return false
}

// Priority is the urgency attached to a fault report. It is forwarded to the
// backend as an opaque label and never compared numerically.
type Priority string

const (
	PriorityNone     Priority = ""
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

var priorityLabels = map[Priority]string{
	PriorityLow:      "Baja",
	PriorityMedium:   "Media",
	PriorityHigh:     "Alta",
	PriorityCritical: "Crítica",
}

var priorityInputs = map[string]Priority{
	"baja":    PriorityLow,
	"1":       PriorityLow,
	"media":   PriorityMedium,
	"2":       PriorityMedium,
	"alta":    PriorityHigh,
	"3":       PriorityHigh,
	"critica": PriorityCritical,
	"crítica": PriorityCritical,
	"4":       PriorityCritical,
}

// Label returns the label the maintenance backend expects.
func (p Priority) Label() string {
	return priorityLabels[p]
}

// ParsePriority maps user input (word or 1-4 shorthand) to a Priority.
func ParsePriority(text string) (Priority, bool) {
	p, ok := priorityInputs[strings.ToLower(strings.TrimSpace(text))]
	return p, ok
}

// EquipmentRef is the resolved identity of a catalog entry.
type EquipmentRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

// Draft accumulates fault report fields until the user confirms or cancels.
type Draft struct {
	Equipment   *EquipmentRef `json:"equipment,omitempty"`
	Description string        `json:"description,omitempty"`
	Priority    Priority      `json:"priority,omitempty"`
}

// Empty reports whether no field has been collected yet.
func (d Draft) Empty() bool {
	return d.Equipment == nil && d.Description == "" && d.Priority == PriorityNone
}

// Session is the persisted conversation state of one user identity.
type Session struct {
	UserID    string    `json:"user_id"`
	State     State     `json:"state"`
	Draft     Draft     `json:"draft"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns a fresh idle session for userID.
func New(userID string) *Session {
	return &Session{
		UserID:    userID,
		State:     StateIdle,
		UpdatedAt: time.Now().UTC(),
	}
}

// Clone returns a deep copy so callers can mutate without aliasing the draft.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.Draft.Equipment != nil {
		eq := *s.Draft.Equipment
		out.Draft.Equipment = &eq
	}
	return &out
}

// Active reports whether the session is mid-flow, which is what idle expiry
// looks for.
func (s *Session) Active() bool {
	return s.State != StateIdle || !s.Draft.Empty()
}

// Reset moves the session back to idle and drops the draft. Version is kept so
// the next save still compares against what was loaded.
func (s *Session) Reset() {
	s.State = StateIdle
	s.Draft = Draft{}
}
