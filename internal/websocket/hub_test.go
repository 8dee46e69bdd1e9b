package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"huggingheart/backend/internal/auth/jwt"
	"huggingheart/backend/internal/chat"
	"huggingheart/backend/internal/config"
	"huggingheart/backend/internal/domain"
	"huggingheart/backend/internal/monitoring"
	"huggingheart/backend/internal/ratelimit"
	"huggingheart/backend/internal/registry"
	"huggingheart/backend/internal/storage/memory"
)

const testSecret = "test-secret-key-for-development-32-chars-long-at-least"

var (
	alice = domain.Identity{ID: "1", DisplayName: "Alice"}
	bob   = domain.Identity{ID: "2", DisplayName: "Bob"}
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	hub    *Hub
	store  *memory.Store
	tokens *jwt.Manager
	server *httptest.Server
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func testConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		MaxConnections:  100,
		ConnectRate:     1000,
		EventsPerSecond: 1000,
		EventBurst:      1000,
		SendBuffer:      64,
		PongWait:        10 * time.Second,
		WriteWait:       time.Second,
		MaxFrameBytes:   64 * 1024,
	}
}

func newTestEnv(t *testing.T, wsCfg config.WebSocketConfig) *testEnv {
	t.Helper()

	log := zap.NewNop()
	metrics := monitoring.NewMetricsWithRegistry(prometheus.NewRegistry())
	reg := registry.New(log)
	store := memory.NewStore()
	tokens := jwt.NewManager(testSecret, "", time.Hour)

	hub := NewHub(HubDependencies{
		Registry:  reg,
		Relay:     chat.NewRelay(reg, store, nil, chat.RelayConfig{MaxMessageLength: 100, PersistTimeout: time.Second}, metrics, log),
		Typing:    chat.NewBroadcaster(reg, metrics, log),
		Verifier:  tokens,
		Admission: ratelimit.NewConnectionLimiter(wsCfg.MaxConnections, wsCfg.ConnectRate),
		Config:    wsCfg,
		Metrics:   metrics,
		Logger:    log,
	})

	router := gin.New()
	router.GET("/ws", HandleWebSocket(hub))
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testEnv{hub: hub, store: store, tokens: tokens, server: server}
}

func (e *testEnv) url(token string) string {
	u := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
	if token != "" {
		u += "?token=" + token
	}
	return u
}

// dial 建立连接并等待服务端完成注册
func (e *testEnv) dial(t *testing.T, identity domain.Identity) *websocket.Conn {
	t.Helper()

	before := e.hub.registry.Stats()

	token := ""
	if !identity.IsZero() {
		var err error
		token, err = e.tokens.Issue(identity)
		require.NoError(t, err)
	}

	conn, resp, err := websocket.DefaultDialer.Dial(e.url(token), nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		stats := e.hub.registry.Stats()
		if stats.Connections <= before.Connections {
			return false
		}
		return identity.IsZero() || stats.Authenticated > before.Authenticated
	}, 2*time.Second, 10*time.Millisecond)

	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"event": event, "data": data}))
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func readError(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	f := read(t, conn)
	require.Equal(t, "error", f.Event)
	var payload domain.ErrorPayload
	require.NoError(t, json.Unmarshal(f.Data, &payload))
	return payload.Message
}

func TestHub_SendMessage_FanOutAndAck(t *testing.T) {
	env := newTestEnv(t, testConfig())

	sender := env.dial(t, alice)
	bobPhone := env.dial(t, bob)
	bobLaptop := env.dial(t, bob)

	send(t, sender, "send_message", map[string]interface{}{"receiver_id": 2, "message": "hi"})

	for _, conn := range []*websocket.Conn{bobPhone, bobLaptop} {
		f := read(t, conn)
		require.Equal(t, "receive_message", f.Event)

		var payload domain.ReceiveMessagePayload
		require.NoError(t, json.Unmarshal(f.Data, &payload))
		assert.Equal(t, "1", payload.SenderID)
		assert.Equal(t, "Alice", payload.SenderName)
		assert.Equal(t, "2", payload.ReceiverID)
		assert.Equal(t, "hi", payload.Message)
		assert.NotEmpty(t, payload.ID)
	}

	ack := read(t, sender)
	require.Equal(t, "message_sent", ack.Event)

	var sent domain.MessageSentPayload
	require.NoError(t, json.Unmarshal(ack.Data, &sent))
	assert.Equal(t, "hi", sent.Message)

	stored := env.store.ListMessages("1", "2")
	require.Len(t, stored, 1)
	assert.Equal(t, sent.ID, stored[0].ID)
}

func TestHub_BearerHeaderAuthenticates(t *testing.T) {
	env := newTestEnv(t, testConfig())

	token, err := env.tokens.Issue(alice)
	require.NoError(t, err)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := websocket.DefaultDialer.Dial(env.url(""), header)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	require.Eventually(t, func() bool {
		return len(env.hub.registry.MailboxOf("1")) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_UnauthenticatedConnection(t *testing.T) {
	env := newTestEnv(t, testConfig())

	anonymous := env.dial(t, domain.Identity{})

	send(t, anonymous, "send_message", map[string]interface{}{"receiver_id": "2", "message": "hi"})
	assert.Equal(t, domain.MsgAuthRequired, readError(t, anonymous))
	assert.Zero(t, env.store.Count())

	stats := env.hub.registry.Stats()
	assert.Equal(t, 1, stats.Connections)
	assert.Zero(t, stats.Authenticated)
}

func TestHub_InvalidTokenConnectsUnauthenticated(t *testing.T) {
	env := newTestEnv(t, testConfig())

	conn, resp, err := websocket.DefaultDialer.Dial(env.url("not-a-token"), nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	send(t, conn, "send_message", map[string]interface{}{"receiver_id": "2", "message": "hi"})
	assert.Equal(t, domain.MsgAuthRequired, readError(t, conn))
}

func TestHub_ValidationErrors(t *testing.T) {
	env := newTestEnv(t, testConfig())
	sender := env.dial(t, alice)

	send(t, sender, "send_message", map[string]interface{}{"receiver_id": "2", "message": ""})
	assert.Equal(t, domain.MsgMessageRequired, readError(t, sender))

	send(t, sender, "send_message", nil)
	assert.Equal(t, domain.MsgMessageRequired, readError(t, sender))

	send(t, sender, "send_message", map[string]interface{}{"receiver_id": "2", "message": strings.Repeat("x", 101)})
	assert.Equal(t, domain.MsgMessageTooLong, readError(t, sender))

	assert.Zero(t, env.store.Count())
}

func TestHub_MalformedFrames(t *testing.T) {
	env := newTestEnv(t, testConfig())
	conn := env.dial(t, alice)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, domain.MsgInvalidPayload, readError(t, conn))

	send(t, conn, "send_message", "a string")
	assert.Equal(t, domain.MsgInvalidPayload, readError(t, conn))

	send(t, conn, "join_room", map[string]string{"room": "x"})
	assert.Equal(t, domain.MsgUnknownEvent, readError(t, conn))

	// 连接仍然可用
	assert.Equal(t, 1, env.hub.registry.Stats().Connections)
}

func TestHub_TypingExcludesSenderConnection(t *testing.T) {
	env := newTestEnv(t, testConfig())

	aliceFirst := env.dial(t, alice)
	aliceSecond := env.dial(t, alice)
	bobConn := env.dial(t, bob)

	// 自己给自己发送输入状态：只有另一个连接收到
	send(t, aliceFirst, "typing", map[string]interface{}{"receiver_id": "1", "is_typing": true})
	f := read(t, aliceSecond)
	require.Equal(t, "user_typing", f.Event)

	var payload domain.UserTypingPayload
	require.NoError(t, json.Unmarshal(f.Data, &payload))
	assert.Equal(t, "1", payload.UserID)
	assert.Equal(t, "Alice", payload.UserName)
	assert.True(t, payload.IsTyping)

	// 事件在同一连接上按顺序处理：若 typing 投递给了发送连接，它会排在 message_sent 之前
	send(t, aliceFirst, "send_message", map[string]interface{}{"receiver_id": "2", "message": "hello"})
	assert.Equal(t, "message_sent", read(t, aliceFirst).Event)
	assert.Equal(t, "receive_message", read(t, bobConn).Event)
}

func TestHub_DisconnectEventUnbinds(t *testing.T) {
	env := newTestEnv(t, testConfig())
	conn := env.dial(t, alice)

	send(t, conn, "disconnect", nil)

	require.Eventually(t, func() bool {
		return env.hub.registry.Stats().Connections == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, env.hub.registry.MailboxOf("1"))
	assert.Zero(t, env.hub.admission.Current())
}

func TestHub_ClientCloseUnbinds(t *testing.T) {
	env := newTestEnv(t, testConfig())
	conn := env.dial(t, alice)
	other := env.dial(t, alice)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return len(env.hub.registry.MailboxOf("1")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// 剩余连接不受影响
	send(t, other, "send_message", map[string]interface{}{"receiver_id": "2", "message": "still here"})
	assert.Equal(t, "message_sent", read(t, other).Event)
}

func TestHub_InboundRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.EventsPerSecond = 0.001
	cfg.EventBurst = 1
	env := newTestEnv(t, cfg)
	conn := env.dial(t, alice)

	send(t, conn, "typing", map[string]interface{}{"receiver_id": "2", "is_typing": true})
	send(t, conn, "typing", map[string]interface{}{"receiver_id": "2", "is_typing": false})

	assert.Equal(t, domain.MsgTooManyRequests, readError(t, conn))
}

func TestHub_DisconnectWhileRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.EventsPerSecond = 0.001
	cfg.EventBurst = 1
	env := newTestEnv(t, cfg)
	conn := env.dial(t, alice)

	send(t, conn, "typing", map[string]interface{}{"receiver_id": "2", "is_typing": true})
	send(t, conn, "typing", map[string]interface{}{"receiver_id": "2", "is_typing": false})
	require.Equal(t, domain.MsgTooManyRequests, readError(t, conn))

	send(t, conn, "disconnect", nil)

	require.Eventually(t, func() bool {
		return env.hub.registry.Stats().Connections == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, env.hub.registry.MailboxOf("1"))
}

func TestHub_MalformedFramesCountAgainstRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.EventsPerSecond = 0.001
	cfg.EventBurst = 1
	env := newTestEnv(t, cfg)
	conn := env.dial(t, alice)

	for i := 0; i < 3; i++ {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	}

	assert.Equal(t, domain.MsgInvalidPayload, readError(t, conn))
	assert.Equal(t, domain.MsgTooManyRequests, readError(t, conn))
	assert.Equal(t, domain.MsgTooManyRequests, readError(t, conn))
}

func TestHub_AdmissionLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 1
	env := newTestEnv(t, cfg)

	env.dial(t, alice)

	_, resp, err := websocket.DefaultDialer.Dial(env.url(""), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHub_RunShutdownClosesConnections(t *testing.T) {
	env := newTestEnv(t, testConfig())
	conn := env.dial(t, alice)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		env.hub.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)

	require.Eventually(t, func() bool {
		return env.hub.admission.Current() == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, env.hub.registry.Stats().Connections)
}

func TestUpgraderFactory_CheckOrigin(t *testing.T) {
	restricted := upgraderFactory([]string{"https://app.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, restricted.CheckOrigin(req), "missing origin allowed")

	req.Header.Set("Origin", "https://app.example.com")
	assert.True(t, restricted.CheckOrigin(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, restricted.CheckOrigin(req))

	open := upgraderFactory([]string{"*"})
	assert.True(t, open.CheckOrigin(req))
}
