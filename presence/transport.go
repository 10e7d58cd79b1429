package presence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait    = 5 * time.Second
	maxFrameSize = 1 << 20 // 1MB
	sendQueueLen = 16
)

// wsConn 一条已建立的连接：独立写协程，写队列满则丢弃（最新状态会覆盖未送达的旧状态）
type wsConn struct {
	ws      *websocket.Conn
	send    chan []byte
	done    chan struct{}
	closeMu sync.Once
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{
		ws:   ws,
		send: make(chan []byte, sendQueueLen),
		done: make(chan struct{}),
	}
}

// Enqueue 将要发送的消息压入队列（非阻塞，满则丢弃）
func (c *wsConn) Enqueue(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// Close 关闭底层连接，结束读写协程
func (c *wsConn) Close() {
	c.closeMu.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// writePump 独立协程，负责从 send 队列写出到 WS，并定期发送 ping
func (c *wsConn) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.Close()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				Log.Debugw("write failed", "err", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				Log.Debugw("ping failed", "err", err)
				return
			}
		}
	}
}

// readPump 读取服务端帧，解析为事件后交给 handler；畸形帧记录后丢弃
func (c *wsConn) readPump(pongWait time.Duration, handler func(Event), metrics *Metrics) error {
	defer c.Close()
	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		ev, err := DecodeEvent(payload)
		if err != nil {
			metrics.IncMalformed()
			Log.Warnw("dropping malformed frame", "err", err, "size", len(payload))
			continue
		}
		if handler != nil {
			handler(ev)
		}
	}
}

// Session 一条逻辑连接：断线后固定延迟重连，无退避、无上限
type Session struct {
	url            string
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	pingInterval   time.Duration
	metrics        *Metrics

	mu        sync.Mutex
	conn      *wsConn
	connected atomic.Bool

	onEvent   func(Event)
	onConnect func()
}

// SessionOption 会话选项
type SessionOption func(*Session)

func WithReconnectDelay(d time.Duration) SessionOption {
	return func(s *Session) { s.reconnectDelay = d }
}

func WithPingInterval(d time.Duration) SessionOption {
	return func(s *Session) { s.pingInterval = d }
}

func WithSessionMetrics(m *Metrics) SessionOption {
	return func(s *Session) { s.metrics = m }
}

func WithDialer(d *websocket.Dialer) SessionOption {
	return func(s *Session) { s.dialer = d }
}

func NewSession(url string, opts ...SessionOption) *Session {
	s := &Session{
		url:            url,
		dialer:         websocket.DefaultDialer,
		reconnectDelay: time.Second,
		pingInterval:   25 * time.Second,
		metrics:        &Metrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnEvent 注册唯一的入站事件接收者；须在 Run 之前调用
func (s *Session) OnEvent(h func(Event)) {
	s.onEvent = h
}

// OnConnect 每次（重新）建立连接后调用；须在 Run 之前调用
func (s *Session) OnConnect(fn func()) {
	s.onConnect = fn
}

// Connected 连接状态标志，供发布逻辑判断
func (s *Session) Connected() bool {
	return s.connected.Load()
}

// Send 已连接时入队发送，否则静默丢弃
func (s *Session) Send(b []byte) bool {
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c == nil || !c.Enqueue(b) {
		s.metrics.IncDroppedOutbound()
		return false
	}
	return true
}

// Run 连接并在断线后按固定延迟重连，直到 ctx 取消
func (s *Session) Run(ctx context.Context) error {
	for {
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		Log.Warnw("connection lost, reconnecting", "url", s.url, "err", err, "delay", s.reconnectDelay)

		timer := time.NewTimer(s.reconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Session) runOnce(ctx context.Context) error {
	ws, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	c := newWSConn(ws)

	s.mu.Lock()
	s.conn = c
	s.mu.Unlock()
	s.connected.Store(true)
	s.metrics.IncReconnects()
	Log.Infow("connected", "url", s.url)

	defer func() {
		s.connected.Store(false)
		s.mu.Lock()
		if s.conn == c {
			s.conn = nil
		}
		s.mu.Unlock()
		c.Close()
	}()

	go c.writePump(s.pingInterval)
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()

	if s.onConnect != nil {
		s.onConnect()
	}
	return c.readPump(2*s.pingInterval, s.onEvent, s.metrics)
}
