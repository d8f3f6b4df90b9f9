package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wolfman30/cmms-omnibot/internal/session"
)

func TestClassifyIdleRuleOrder(t *testing.T) {
	cases := []struct {
		message string
		want    Intent
	}{
		{"hola", IntentGreeting},
		{"Buenos días", IntentGreeting},
		{"ayuda", IntentHelpRequest},
		{"¿qué puedes hacer?", IntentHelpRequest},
		{"reportar falla", IntentStartFaultReport},
		{"Quiero REPORTAR una FALLA", IntentStartFaultReport},
		{"estado OT-CORR-123", IntentQueryWorkOrder},
		{"consultar", IntentQueryWorkOrder},
		{"listar equipos", IntentListEquipment},
		// fault keywords win over the list keywords
		{"reportar falla en equipos", IntentStartFaultReport},
		// order keywords win over help
		{"estado?", IntentQueryWorkOrder},
		// list wins over greeting
		{"hola, equipos", IntentListEquipment},
		{"reportar", IntentUnknown},
		{"buen día", IntentUnknown},
		{"", IntentUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.message, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.message, session.StateIdle))
		})
	}
}

func TestClassifyControlWordsPreemptEveryState(t *testing.T) {
	states := []session.State{
		session.StateIdle,
		session.StateAwaitingEquipment,
		session.StateAwaitingDescription,
		session.StateAwaitingPriority,
		session.StateConfirmingReport,
		session.StateQueryingOT,
	}
	for _, st := range states {
		assert.Equal(t, IntentCancel, Classify("cancelar", st), st)
		assert.Equal(t, IntentCancel, Classify("  SALIR ", st), st)
		assert.Equal(t, IntentReset, Classify("reiniciar", st), st)
	}
}

func TestClassifyInsideFlowUsesSlot(t *testing.T) {
	assert.Equal(t, IntentProvideEquipment, Classify("hola", session.StateAwaitingEquipment))
	assert.Equal(t, IntentProvideDescription, Classify("reportar falla", session.StateAwaitingDescription))
	assert.Equal(t, IntentProvidePriority, Classify("ayuda", session.StateAwaitingPriority))
	assert.Equal(t, IntentQueryWorkOrder, Classify("equipos", session.StateQueryingOT))
}

func TestClassifyConfirmation(t *testing.T) {
	for _, yes := range []string{"si", "Sí", "yes", "confirmar", "OK"} {
		assert.Equal(t, IntentConfirmReport, Classify(yes, session.StateConfirmingReport), yes)
	}
	assert.Equal(t, IntentCancelReport, Classify("No", session.StateConfirmingReport))
	assert.Equal(t, IntentUnknown, Classify("quizás", session.StateConfirmingReport))
	assert.Equal(t, IntentUnknown, Classify("si claro", session.StateConfirmingReport))
}

func TestClassifyIsPure(t *testing.T) {
	for _, msg := range []string{"hola", "reportar falla", "estado OT-1", "xyz"} {
		for _, st := range []session.State{session.StateIdle, session.StateConfirmingReport} {
			assert.Equal(t, Classify(msg, st), Classify(msg, st))
		}
	}
}

func TestExtractOrderNumber(t *testing.T) {
	got, ok := ExtractOrderNumber("estado de la ot-corr-123 por favor")
	assert.True(t, ok)
	assert.Equal(t, "ot-corr-123", got)

	got, ok = ExtractOrderNumber("OT-PREV-456, OT-CORR-1")
	assert.True(t, ok)
	assert.Equal(t, "OT-PREV-456", got)

	_, ok = ExtractOrderNumber("la orden 123")
	assert.False(t, ok)
}
