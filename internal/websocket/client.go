package websocket

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"huggingheart/backend/internal/domain"
	"huggingheart/backend/internal/logger"
)

// outboundMessage 出站帧
type outboundMessage struct {
	Event domain.EventName `json:"event"`
	Data  interface{}      `json:"data"`
}

// inboundMessage 入站帧
type inboundMessage struct {
	Event domain.EventName `json:"event"`
	Data  json.RawMessage  `json:"data"`
}

// Client 代表一个WebSocket客户端连接
type Client struct {
	id      string
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	state   atomic.Int32
	log     *zap.Logger

	mu     sync.Mutex // 保护 send 的关闭
	closed bool

	terminateOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	id := uuid.NewString()
	return &Client{
		id:      id,
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, hub.cfg.SendBuffer),
		limiter: rate.NewLimiter(rate.Limit(hub.cfg.EventsPerSecond), hub.cfg.EventBurst),
		log:     hub.log.With(logger.ConnID(id)),
	}
}

// ID 返回连接ID
func (c *Client) ID() string {
	return c.id
}

// State 返回当前生命周期状态
func (c *Client) State() domain.ConnState {
	return domain.ConnState(c.state.Load())
}

// transition 按状态机迁移，非法迁移返回 false
func (c *Client) transition(next domain.ConnState) bool {
	for {
		current := domain.ConnState(c.state.Load())
		if !current.CanTransition(next) {
			return false
		}
		if c.state.CompareAndSwap(int32(current), int32(next)) {
			return true
		}
	}
}

// Enqueue 非阻塞地把事件放入发送队列
func (c *Client) Enqueue(ev domain.Event) bool {
	data, err := json.Marshal(outboundMessage{Event: ev.Name, Data: ev.Payload})
	if err != nil {
		c.log.Error("failed to marshal event", zap.String("event", string(ev.Name)), zap.Error(err))
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		// 客户端阻塞，丢弃
		return false
	}
}

// Close 关闭发送队列，writePump 随后发送关闭帧并退出
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// terminate 连接终止的唯一出口，保证注销恰好执行一次
func (c *Client) terminate() {
	c.terminateOnce.Do(func() {
		c.transition(domain.ConnStateClosed)
		c.hub.registry.Unbind(c.id)
		c.conn.Close()
		c.hub.admission.Release()
		c.hub.refreshStats()
		c.log.Info("client disconnected")
	})
}

// readPump 处理客户端消息
//
// 每个连接的事件在此协程中逐个同步处理，同一连接的发送顺序与接收顺序一致。
func (c *Client) readPump() {
	defer c.terminate()

	c.conn.SetReadLimit(c.hub.cfg.MaxFrameBytes)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Warn("websocket error", zap.Error(err))
			}
			return
		}

		if !c.handleMessage(data) {
			return
		}
	}
}

// writePump 发送消息给客户端
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理一条入站帧，返回 false 表示客户端请求断开
func (c *Client) handleMessage(data []byte) bool {
	var msg inboundMessage
	parseErr := json.Unmarshal(data, &msg)

	// 断开请求不计入限流
	if parseErr == nil && msg.Event == domain.EventDisconnect {
		c.hub.metrics.RecordInboundEvent(string(msg.Event))
		c.log.Debug("client requested disconnect")
		return false
	}

	// 无法解析的帧同样消耗令牌
	if !c.limiter.Allow() {
		c.reply(domain.MsgTooManyRequests)
		return true
	}

	if parseErr != nil || msg.Event == "" {
		c.reply(domain.MsgInvalidPayload)
		return true
	}

	switch msg.Event {
	case domain.EventSendMessage:
		c.hub.metrics.RecordInboundEvent(string(msg.Event))
		var req domain.SendMessageRequest
		if !c.decode(msg.Data, &req) {
			return true
		}
		c.hub.relay.HandleSend(c.hub.sendCtx, c.id, req.ReceiverID.String(), req.Message)

	case domain.EventTyping:
		c.hub.metrics.RecordInboundEvent(string(msg.Event))
		var req domain.TypingRequest
		if !c.decode(msg.Data, &req) {
			return true
		}
		c.hub.typing.HandleTyping(c.id, req.ReceiverID.String(), req.IsTyping)

	default:
		c.hub.metrics.RecordInboundEvent("unknown")
		c.reply(domain.MsgUnknownEvent)
	}

	return true
}

// decode 解析事件数据，缺省的 data 视为空对象
func (c *Client) decode(raw json.RawMessage, v interface{}) bool {
	if len(raw) == 0 || string(raw) == "null" {
		return true
	}
	if err := json.Unmarshal(raw, v); err != nil {
		c.reply(domain.MsgInvalidPayload)
		return false
	}
	return true
}

// reply 向本连接发送错误事件
func (c *Client) reply(msg string) {
	c.hub.registry.Deliver(c.id, domain.NewErrorEvent(msg))
}
