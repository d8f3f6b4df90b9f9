package conversation

import (
	"regexp"
	"strings"

	"github.com/wolfman30/cmms-omnibot/internal/session"
)

// Intent is the symbolic reading of one user message.
type Intent string

const (
	IntentGreeting           Intent = "greeting"
	IntentHelpRequest        Intent = "help_request"
	IntentStartFaultReport   Intent = "start_fault_report"
	IntentProvideEquipment   Intent = "provide_equipment"
	IntentProvideDescription Intent = "provide_description"
	IntentProvidePriority    Intent = "provide_priority"
	IntentConfirmReport      Intent = "confirm_report"
	IntentCancelReport       Intent = "cancel_report"
	IntentQueryWorkOrder     Intent = "query_work_order"
	IntentListEquipment      Intent = "list_equipment"
	IntentUnknown            Intent = "unknown"
	IntentCancel             Intent = "cancel"
	IntentReset              Intent = "reset"
)

// IsControl reports whether the intent pre-empts every state.
func (i Intent) IsControl() bool {
	return i == IntentCancel || i == IntentReset
}

var orderNumberPattern = regexp.MustCompile(`(?i)OT-[\w-]+`)

var controlWords = map[string]Intent{
	"cancelar":  IntentCancel,
	"salir":     IntentCancel,
	"reiniciar": IntentReset,
}

var (
	affirmativeWords = wordSet("si", "sí", "yes", "confirmar", "ok")
	negativeWords    = wordSet("no")
)

// keywordRule matches when all of AllOf and at least one of AnyOf (if set)
// appear in the lowercased message.
type keywordRule struct {
	Intent Intent
	AllOf  []string
	AnyOf  []string
}

func (r keywordRule) matches(text string) bool {
	for _, kw := range r.AllOf {
		if !strings.Contains(text, kw) {
			return false
		}
	}
	if len(r.AnyOf) == 0 {
		return len(r.AllOf) > 0
	}
	for _, kw := range r.AnyOf {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// idleRules is evaluated top to bottom; the first match wins.
var idleRules = []keywordRule{
	{Intent: IntentStartFaultReport, AllOf: []string{"reportar", "falla"}},
	{Intent: IntentQueryWorkOrder, AnyOf: []string{"estado", "consultar"}},
	{Intent: IntentListEquipment, AnyOf: []string{"equipos", "listar"}},
	{Intent: IntentHelpRequest, AnyOf: []string{"ayuda", "help", "?"}},
	{Intent: IntentGreeting, AnyOf: []string{"hola", "buenos", "buenas"}},
}

// slotIntents maps each in-flow state to the intent its next message fills.
var slotIntents = map[session.State]Intent{
	session.StateAwaitingEquipment:   IntentProvideEquipment,
	session.StateAwaitingDescription: IntentProvideDescription,
	session.StateAwaitingPriority:    IntentProvidePriority,
	session.StateQueryingOT:          IntentQueryWorkOrder,
}

// Classify maps a message and the current state to an intent. It is pure.
func Classify(message string, state session.State) Intent {
	text := normalize(message)

	if intent, ok := controlWords[text]; ok {
		return intent
	}

	switch state {
	case session.StateIdle:
		for _, rule := range idleRules {
			if rule.matches(text) {
				return rule.Intent
			}
		}
		return IntentUnknown
	case session.StateConfirmingReport:
		if _, ok := affirmativeWords[text]; ok {
			return IntentConfirmReport
		}
		if _, ok := negativeWords[text]; ok {
			return IntentCancelReport
		}
		return IntentUnknown
	}

	if intent, ok := slotIntents[state]; ok {
		return intent
	}
	return IntentUnknown
}

// ExtractOrderNumber returns the first work order token (OT-...) in message.
func ExtractOrderNumber(message string) (string, bool) {
	match := orderNumberPattern.FindString(message)
	return match, match != ""
}

func normalize(message string) string {
	return strings.ToLower(strings.TrimSpace(message))
}

func wordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
