package webchat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/cmms-omnibot/internal/conversation"
	"github.com/wolfman30/cmms-omnibot/pkg/logging"
)

// echoEngine answers with a fixed prefix and records requests.
type echoEngine struct {
	mu   sync.Mutex
	reqs []conversation.Request
}

func (e *echoEngine) Handle(ctx context.Context, req conversation.Request) conversation.Reply {
	e.mu.Lock()
	e.reqs = append(e.reqs, req)
	e.mu.Unlock()
	return conversation.Reply{Text: "eco: " + req.Message, Intent: conversation.IntentUnknown}
}

func (e *echoEngine) requests() []conversation.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]conversation.Request{}, e.reqs...)
}

func newTestHandler(t *testing.T, transcript TranscriptStore) (*Handler, *echoEngine) {
	t.Helper()
	engine := &echoEngine{}
	h, err := NewHandler(engine, transcript, nil, logging.New("error"))
	require.NoError(t, err)
	return h, engine
}

func postChat(h *Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.HandleChat(w, req)
	return w
}

func TestGenerateUserID(t *testing.T) {
	a, b := generateUserID(), generateUserID()
	assert.True(t, strings.HasPrefix(a, "web_user_"))
	assert.NotEqual(t, a, b)
}

func TestHandleChat(t *testing.T) {
	transcript := NewMemoryTranscriptStore()
	h, engine := newTestHandler(t, transcript)

	w := postChat(h, `{"message":"  hola ","user_id":"tecnico-7"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "eco: hola", resp.Response)
	_, err := time.Parse(time.RFC3339, resp.Timestamp)
	assert.NoError(t, err)

	reqs := engine.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, conversation.Request{UserID: "tecnico-7", Channel: ChannelWebChat, Message: "hola"}, reqs[0])

	msgs, err := transcript.List(context.Background(), "tecnico-7", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "hola", msgs[0].Body)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "eco: hola", msgs[1].Body)
}

func TestHandleChat_DefaultUser(t *testing.T) {
	h, engine := newTestHandler(t, nil)

	w := postChat(h, `{"message":"ayuda"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, engine.requests(), 1)
	assert.Equal(t, "web_user", engine.requests()[0].UserID)
}

func TestHandleChat_EmptyMessage(t *testing.T) {
	h, engine := newTestHandler(t, nil)

	w := postChat(h, `{"message":"   ","user_id":"u1"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Mensaje vacío"}`, w.Body.String())
	assert.Empty(t, engine.requests())
}

func TestHandleChat_InvalidJSON(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	w := postChat(h, `{"message":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleChat_OversizedBody(t *testing.T) {
	h, engine := newTestHandler(t, nil)

	body := `{"message":"` + strings.Repeat("a", maxChatBody) + `"}`
	w := postChat(h, body)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"JSON inválido"}`, w.Body.String())
	assert.Empty(t, engine.requests())
}

func TestHandleHistory(t *testing.T) {
	transcript := NewMemoryTranscriptStore()
	ctx := context.Background()
	require.NoError(t, transcript.Append(ctx, "u1", Message{Role: "user", Body: "hola"}))
	require.NoError(t, transcript.Append(ctx, "u1", Message{Role: "assistant", Body: "¡Hola!"}))
	require.NoError(t, transcript.Append(ctx, "u2", Message{Role: "user", Body: "otro"}))
	h, _ := newTestHandler(t, transcript)

	req := httptest.NewRequest(http.MethodGet, "/chat/history?user_id=u1", nil)
	w := httptest.NewRecorder()
	h.HandleHistory(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Messages []HistoryMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "user", resp.Messages[0].Role)
	assert.Equal(t, "¡Hola!", resp.Messages[1].Text)
}

func TestHandleHistory_Limit(t *testing.T) {
	transcript := NewMemoryTranscriptStore()
	for _, body := range []string{"a", "b", "c"} {
		require.NoError(t, transcript.Append(context.Background(), "u1", Message{Role: "user", Body: body}))
	}
	h, _ := newTestHandler(t, transcript)

	w := httptest.NewRecorder()
	h.HandleHistory(w, httptest.NewRequest(http.MethodGet, "/chat/history?user_id=u1&limit=2", nil))

	var resp struct {
		Messages []HistoryMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "b", resp.Messages[0].Text)
}

func TestHandleHistory_NoTranscriptStore(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	w := httptest.NewRecorder()
	h.HandleHistory(w, httptest.NewRequest(http.MethodGet, "/chat/history?user_id=u1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"messages":[]}`, w.Body.String())
}

func TestNewHandler_RequiresEngine(t *testing.T) {
	_, err := NewHandler(nil, nil, nil, nil)
	assert.Error(t, err)
}

func dialChat(t *testing.T, h *Handler, userID string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?user_id=" + userID
	conn, err := websocket.Dial(url, "", "http://localhost/")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func receive(t *testing.T, conn *websocket.Conn) OutboundMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg OutboundMessage
	require.NoError(t, websocket.JSON.Receive(conn, &msg))
	return msg
}

func TestWebSocket_MessageRoundTrip(t *testing.T) {
	transcript := NewMemoryTranscriptStore()
	require.NoError(t, transcript.Append(context.Background(), "ws-user", Message{Role: "assistant", Body: "anterior"}))
	h, engine := newTestHandler(t, transcript)
	conn := dialChat(t, h, "ws-user")

	session := receive(t, conn)
	assert.Equal(t, "session", session.Type)
	assert.Equal(t, "ws-user", session.UserID)

	history := receive(t, conn)
	assert.Equal(t, "history", history.Type)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "anterior", history.Messages[0].Text)

	require.NoError(t, websocket.JSON.Send(conn, InboundMessage{Type: "ping"}))
	assert.Equal(t, "pong", receive(t, conn).Type)

	require.NoError(t, websocket.JSON.Send(conn, InboundMessage{Type: "message", Text: "listar equipos"}))
	assert.Equal(t, "typing", receive(t, conn).Type)
	reply := receive(t, conn)
	assert.Equal(t, "message", reply.Type)
	assert.Equal(t, "assistant", reply.Role)
	assert.Equal(t, "eco: listar equipos", reply.Text)

	reqs := engine.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, ChannelWebChat, reqs[0].Channel)
}

func TestSender_PushesToOpenSocket(t *testing.T) {
	transcript := NewMemoryTranscriptStore()
	h, _ := newTestHandler(t, transcript)
	conn := dialChat(t, h, "ws-user")
	assert.Equal(t, "session", receive(t, conn).Type)

	require.Eventually(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		_, ok := h.conns["ws-user"]
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	sender := NewSender(h, nil)
	require.NoError(t, sender.Send(context.Background(), "ws-user", "✅ OT-2024-001 completada"))

	pushed := receive(t, conn)
	assert.Equal(t, "message", pushed.Type)
	assert.Equal(t, "✅ OT-2024-001 completada", pushed.Text)

	msgs, err := transcript.List(context.Background(), "ws-user", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "webchat_notification", msgs[0].Kind)
}

func TestSender_OfflineUserKeepsTranscript(t *testing.T) {
	transcript := NewMemoryTranscriptStore()
	h, _ := newTestHandler(t, transcript)

	require.NoError(t, NewSender(h, nil).Send(context.Background(), "offline", "hola"))
	msgs, err := transcript.List(context.Background(), "offline", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hola", msgs[0].Body)
}
