package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/cmms-omnibot/internal/session"
	"github.com/wolfman30/cmms-omnibot/pkg/logging"
)

func TestParseMode(t *testing.T) {
	mode, err := ParseMode(" Delegate ")
	require.NoError(t, err)
	assert.Equal(t, ModeDelegate, mode)

	mode, err = ParseMode("inline")
	require.NoError(t, err)
	assert.Equal(t, ModeInline, mode)

	_, err = ParseMode("async")
	assert.Error(t, err)
}

func TestNewDispatcherRequiresTriggerForDelegate(t *testing.T) {
	_, err := NewDispatcher(ModeDelegate, nil, nil)
	assert.Error(t, err)

	_, err = NewDispatcher(Mode("sometimes"), &fakeTrigger{}, nil)
	assert.Error(t, err)

	d, err := NewDispatcher(ModeInline, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, ModeInline, d.Mode())
}

func TestShouldDelegate(t *testing.T) {
	inline, err := NewDispatcher(ModeInline, nil, logging.Default())
	require.NoError(t, err)
	delegate, err := NewDispatcher(ModeDelegate, &fakeTrigger{}, logging.Default())
	require.NoError(t, err)

	for _, intent := range []Intent{IntentStartFaultReport, IntentQueryWorkOrder, IntentListEquipment} {
		assert.True(t, delegate.ShouldDelegate(intent, session.StateIdle), intent)
		assert.False(t, inline.ShouldDelegate(intent, session.StateIdle), intent)
	}
	for _, intent := range []Intent{IntentGreeting, IntentHelpRequest, IntentUnknown, IntentCancel} {
		assert.False(t, delegate.ShouldDelegate(intent, session.StateIdle), intent)
	}
	assert.False(t, delegate.ShouldDelegate(IntentQueryWorkOrder, session.StateQueryingOT))
	assert.False(t, delegate.ShouldDelegate(IntentProvideEquipment, session.StateAwaitingEquipment))

	var nilDispatcher *Dispatcher
	assert.False(t, nilDispatcher.ShouldDelegate(IntentListEquipment, session.StateIdle))
}

func TestWorkflowFor(t *testing.T) {
	assert.Equal(t, "report_fault_workflow", WorkflowFor(IntentStartFaultReport))
	assert.Equal(t, "query_ot_status_workflow", WorkflowFor(IntentQueryWorkOrder))
	assert.Equal(t, "list_equipments_workflow", WorkflowFor(IntentListEquipment))
	assert.Equal(t, "process_user_message", WorkflowFor(IntentGreeting))
}

func TestDelegateBuildsRecord(t *testing.T) {
	trigger := &fakeTrigger{}
	observer := newCountingObserver()
	d, err := NewDispatcher(ModeDelegate, trigger, logging.Default(), WithDispatchObserver(observer))
	require.NoError(t, err)

	sess := session.New("web_user_1")
	req := Request{UserID: "web_user_1", Channel: "gateway", Message: "reportar falla"}
	text, correlationID := d.Delegate(context.Background(), req, sess, IntentStartFaultReport)

	assert.Equal(t, "Iniciando el proceso de reporte de falla...", text)
	assert.True(t, strings.HasPrefix(correlationID, "manual__"))

	records := trigger.triggered()
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, WorkflowReportFault, rec.WorkflowID)
	assert.Equal(t, correlationID, rec.CorrelationID)
	assert.Equal(t, "reportar falla", rec.Payload.Message)
	assert.Equal(t, "gateway", rec.Payload.Channel)
	require.NotNil(t, rec.Payload.Session)
	assert.NotSame(t, sess, rec.Payload.Session)
	assert.False(t, rec.Payload.RequestedAt.IsZero())
	assert.Equal(t, 1, observer.triggers[WorkflowReportFault+"/accepted"])

	_, second := d.Delegate(context.Background(), req, sess, IntentStartFaultReport)
	assert.NotEqual(t, correlationID, second)
}

func TestDelegateFailureStillAcknowledges(t *testing.T) {
	trigger := &fakeTrigger{err: errors.New("airflow down")}
	observer := newCountingObserver()
	d, err := NewDispatcher(ModeDelegate, trigger, logging.Default(), WithDispatchObserver(observer))
	require.NoError(t, err)

	text, correlationID := d.Delegate(context.Background(), Request{UserID: "u"}, session.New("u"), IntentListEquipment)
	assert.Equal(t, "Obteniendo la lista de equipos...", text)
	assert.NotEmpty(t, correlationID)
	assert.Equal(t, 1, observer.triggers[WorkflowListEquipments+"/failed"])
}

func TestProcessingReply(t *testing.T) {
	assert.Equal(t, "Consultando la orden de trabajo...", ProcessingReply(IntentQueryWorkOrder))
	assert.Equal(t, "Procesando tu solicitud...", ProcessingReply(IntentUnknown))
}
