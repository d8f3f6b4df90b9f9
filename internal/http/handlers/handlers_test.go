package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/cmms-omnibot/internal/conversation"
	"github.com/wolfman30/cmms-omnibot/internal/events"
	"github.com/wolfman30/cmms-omnibot/internal/notify"
	"github.com/wolfman30/cmms-omnibot/internal/workflow"
	"github.com/wolfman30/cmms-omnibot/pkg/logging"
)

type stubEngine struct {
	mu    sync.Mutex
	reqs  []conversation.Request
	reply conversation.Reply
}

func (s *stubEngine) Handle(ctx context.Context, req conversation.Request) conversation.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	return s.reply
}

type recordingDeliverer struct {
	mu      sync.Mutex
	results []workflow.Result
	err     error
}

func (d *recordingDeliverer) Deliver(ctx context.Context, res workflow.Result) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.results = append(d.results, res)
	return nil
}

func postJSON(handler http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestJSONError(t *testing.T) {
	rec := httptest.NewRecorder()
	jsonError(rec, "oops", http.StatusTeapot)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "oops", decodeBody(t, rec)["error"])
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	Health("Somacor CMMS Bot")(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "Somacor CMMS Bot", body["service"])
	_, err := time.Parse(time.RFC3339, body["timestamp"])
	assert.NoError(t, err)
}

func TestGateway_HandleMessage(t *testing.T) {
	engine := &stubEngine{reply: conversation.Reply{
		Text:          "📋 Consultando lista de equipos...",
		Intent:        conversation.IntentListEquipment,
		CorrelationID: "manual__abc",
	}}
	h, err := NewGatewayHandler(engine, logging.New("error"))
	require.NoError(t, err)

	rec := postJSON(h.HandleMessage, "/api/bot/message", `{"message":" listar equipos ","user_id":"u-7"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "📋 Consultando lista de equipos...", body["response"])
	assert.Equal(t, "manual__abc", body["correlation_id"])
	assert.NotEmpty(t, body["timestamp"])

	require.Len(t, engine.reqs, 1)
	assert.Equal(t, conversation.Request{UserID: "u-7", Channel: ChannelGateway, Message: "listar equipos"}, engine.reqs[0])
}

func TestGateway_AnonymousUsersGetDistinctIDs(t *testing.T) {
	engine := &stubEngine{reply: conversation.Reply{Text: "hola"}}
	h, err := NewGatewayHandler(engine, logging.New("error"))
	require.NoError(t, err)

	postJSON(h.HandleMessage, "/api/bot/message", `{"message":"hola"}`)
	postJSON(h.HandleMessage, "/api/bot/message", `{"message":"hola"}`)

	require.Len(t, engine.reqs, 2)
	assert.True(t, strings.HasPrefix(engine.reqs[0].UserID, "web_user_"))
	assert.NotEqual(t, engine.reqs[0].UserID, engine.reqs[1].UserID)
}

func TestGateway_EmptyMessage(t *testing.T) {
	engine := &stubEngine{}
	h, err := NewGatewayHandler(engine, nil)
	require.NoError(t, err)

	rec := postJSON(h.HandleMessage, "/api/bot/message", `{"message":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Mensaje vacío"}`, rec.Body.String())
	assert.Empty(t, engine.reqs)

	rec = postJSON(h.HandleMessage, "/api/bot/message", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func newWorkflowHandler(t *testing.T, deliverer workflow.Deliverer, runs workflow.RunStore) (*WorkflowHandler, *events.MemoryProcessedStore) {
	t.Helper()
	deduper := events.NewMemoryProcessedStore()
	h, err := NewWorkflowHandler(deduper, deliverer, runs, logging.New("error"))
	require.NoError(t, err)
	return h, deduper
}

const callbackBody = `{"correlation_id":"manual__abc","workflow_id":"list_equipments_workflow","user_id":"web_user_1","channel":"gateway","message":"📋 Equipos"}`

func TestWorkflowCallback_DeliversOnce(t *testing.T) {
	deliverer := &recordingDeliverer{}
	h, deduper := newWorkflowHandler(t, deliverer, nil)

	first := postJSON(h.HandleCallback, "/api/bot/webhook", callbackBody)
	require.Equal(t, http.StatusOK, first.Code)
	assert.JSONEq(t, `{"status":"ok"}`, first.Body.String())

	second := postJSON(h.HandleCallback, "/api/bot/webhook", callbackBody)
	require.Equal(t, http.StatusOK, second.Code)

	require.Len(t, deliverer.results, 1)
	assert.Equal(t, "web_user_1", deliverer.results[0].UserID)
	assert.Equal(t, "gateway", deliverer.results[0].Channel)

	done, err := deduper.AlreadyProcessed(context.Background(), "workflow", "manual__abc")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestWorkflowCallback_DeliveryFailureAllowsRetry(t *testing.T) {
	deliverer := &recordingDeliverer{err: errors.New("socket closed")}
	h, deduper := newWorkflowHandler(t, deliverer, nil)

	rec := postJSON(h.HandleCallback, "/api/bot/webhook", callbackBody)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	done, err := deduper.AlreadyProcessed(context.Background(), "workflow", "manual__abc")
	require.NoError(t, err)
	assert.False(t, done)

	deliverer.err = nil
	rec = postJSON(h.HandleCallback, "/api/bot/webhook", callbackBody)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, deliverer.results, 1)
}

func TestWorkflowCallback_MissingFields(t *testing.T) {
	deliverer := &recordingDeliverer{}
	h, _ := newWorkflowHandler(t, deliverer, nil)

	rec := postJSON(h.HandleCallback, "/api/bot/webhook", `{"correlation_id":"manual__abc","message":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, deliverer.results)
}

func getRun(h *WorkflowHandler, id string) *httptest.ResponseRecorder {
	router := chi.NewRouter()
	router.Get("/api/bot/workflows/{correlationID}", h.HandleGetRun)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/bot/workflows/"+id, nil))
	return rec
}

func TestWorkflowGetRun(t *testing.T) {
	runs := workflow.NewMemoryRunStore()
	ctx := context.Background()
	require.NoError(t, runs.Claim(ctx, workflow.Record{
		WorkflowID:    "list_equipments_workflow",
		CorrelationID: "manual__abc",
		Payload:       workflow.Payload{UserID: "web_user_1", Channel: "gateway", Message: "listar equipos"},
	}))
	require.NoError(t, runs.MarkCompleted(ctx, "manual__abc", "📋 Equipos"))
	h, _ := newWorkflowHandler(t, &recordingDeliverer{}, runs)

	rec := getRun(h, "manual__abc")
	require.Equal(t, http.StatusOK, rec.Code)
	var run workflow.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, workflow.RunStatusCompleted, run.Status)
	assert.Equal(t, "📋 Equipos", run.Reply)

	assert.Equal(t, http.StatusNotFound, getRun(h, "manual__missing").Code)
}

func TestWorkflowGetRun_NoStore(t *testing.T) {
	h, _ := newWorkflowHandler(t, &recordingDeliverer{}, nil)
	assert.Equal(t, http.StatusNotFound, getRun(h, "manual__abc").Code)
}

func TestNewWorkflowHandler_Validation(t *testing.T) {
	_, err := NewWorkflowHandler(nil, &recordingDeliverer{}, nil, nil)
	assert.Error(t, err)
	_, err = NewWorkflowHandler(events.NewMemoryProcessedStore(), nil, nil, nil)
	assert.Error(t, err)
}

func newNotifyHandler(t *testing.T, sender notify.Sender) *NotifyHandler {
	t.Helper()
	d := notify.NewDispatcher(nil, logging.New("error"))
	d.Register("whatsapp", sender)
	h, err := NewNotifyHandler(d, logging.New("error"))
	require.NoError(t, err)
	return h
}

func TestNotify_Success(t *testing.T) {
	var got string
	h := newNotifyHandler(t, notify.SenderFunc(func(ctx context.Context, userID, message string) error {
		got = userID + ":" + message
		return nil
	}))

	rec := postJSON(h.Handle, "/api/notify", `{"service_name":"whatsapp","user_id":"+56911111111","message":"OT lista"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "Notificación enviada a +56911111111 a través de whatsapp.", body["message"])
	assert.Equal(t, "+56911111111:OT lista", got)
}

func TestNotify_MissingParams(t *testing.T) {
	h := newNotifyHandler(t, notify.NewLogSender("whatsapp", nil))

	rec := postJSON(h.Handle, "/api/notify", `{"service_name":"whatsapp","user_id":"u1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Faltan parámetros: service_name, user_id, message", decodeBody(t, rec)["error"])
}

func TestNotify_UnknownService(t *testing.T) {
	h := newNotifyHandler(t, notify.NewLogSender("whatsapp", nil))

	rec := postJSON(h.Handle, "/api/notify", `{"service_name":"telegram","user_id":"u1","message":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "telegram")
}

func TestNotify_DeliveryFailure(t *testing.T) {
	h := newNotifyHandler(t, notify.SenderFunc(func(ctx context.Context, userID, message string) error {
		return errors.New("twilio down")
	}))

	rec := postJSON(h.Handle, "/api/notify", `{"service_name":"whatsapp","user_id":"u1","message":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "Error al enviar la notificación")
}
