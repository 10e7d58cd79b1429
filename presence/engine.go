package presence

import (
	"context"
	"sync"
	"time"
)

const (
	inboxSize = 256
	cmdsSize  = 64
)

// Engine 客户端核心：所有状态只在 Run 的单个循环中修改
//
// 入站事件与用户命令通过通道进入循环，定时器驱动渲染帧、发布提示、视口上报与过期清扫。
// HandleEvent / PublishHint / Frame 等同步方法不加锁，只能在循环内（或 Run 之前）调用。
type Engine struct {
	cfg      Config
	ident    *IdentityStore
	table    *Table
	anim     *Scheduler
	sweeper  *Sweeper
	throttle *Throttle
	chat     *Chat
	chatLog  ChatLog
	metrics  *Metrics
	sender   Sender
	now      func() time.Time

	ctx     context.Context
	inbox   chan Event
	cmds    chan func()
	stopped chan struct{}

	frameMu   sync.RWMutex
	lastFrame Frame

	// OnFrame 每个渲染帧计算完成后调用（在引擎循环中）
	OnFrame func(Frame)
}

// EngineOption 引擎选项
type EngineOption func(*Engine)

// WithClock 替换时间源，便于测试
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func WithChatLog(l ChatLog) EngineOption {
	return func(e *Engine) { e.chatLog = l }
}

func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine 组装引擎；sender 通常是 *Session
func NewEngine(cfg Config, ident *IdentityStore, sender Sender, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		cfg:     cfg,
		ident:   ident,
		anim:    NewScheduler(cfg.Animation),
		chat:    NewChat(cfg.Chat),
		chatLog: &MemoryChatLog{},
		metrics: &Metrics{},
		sender:  sender,
		now:     time.Now,
		ctx:     context.Background(),
		inbox:   make(chan Event, inboxSize),
		cmds:    make(chan func(), cmdsSize),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	th, err := NewThrottle(cfg.Publish.MinInterval, cfg.Publish.MaxInterval, SenderFunc(e.sendState))
	if err != nil {
		return nil, err
	}
	e.throttle = th

	e.table = NewTable(ident.ID(), e.anim)
	e.table.OnEvict = func(id string) {
		e.metrics.IncEvictions()
		Log.Debugw("entity evicted", "id", id)
	}
	e.table.PutLocal(ident.Entity())
	e.sweeper = NewSweeper(e.table, cfg.Expiry.Timeout)
	return e, nil
}

func (e *Engine) Table() *Table { return e.table }
func (e *Engine) Identity() *IdentityStore { return e.ident }
func (e *Engine) Scheduler() *Scheduler { return e.anim }
func (e *Engine) Metrics() *Metrics { return e.metrics }
func (e *Engine) Throttle() *Throttle { return e.throttle }

// Attach 把会话的回调接到引擎循环上；须在 Session.Run 之前调用
func (e *Engine) Attach(s *Session) {
	s.OnEvent(func(ev Event) { e.Deliver(ev) })
	s.OnConnect(func() { e.Submit(e.handleConnect) })
}

// Deliver 入站事件进入循环；队列满时阻塞，引擎停止后返回 false
func (e *Engine) Deliver(ev Event) bool {
	select {
	case <-e.stopped:
		return false
	default:
	}
	select {
	case e.inbox <- ev:
		return true
	case <-e.stopped:
		return false
	}
}

// Submit 在引擎循环中执行 fn；引擎停止后返回 false
func (e *Engine) Submit(fn func()) bool {
	select {
	case <-e.stopped:
		return false
	default:
	}
	select {
	case e.cmds <- fn:
		return true
	case <-e.stopped:
		return false
	}
}

// Run 引擎主循环，直到 ctx 取消
func (e *Engine) Run(ctx context.Context) error {
	e.ctx = ctx
	defer close(e.stopped)

	frameTicker := time.NewTicker(e.cfg.Animation.FrameInterval)
	defer frameTicker.Stop()
	hintTicker := time.NewTicker(e.cfg.Publish.HintInterval)
	defer hintTicker.Stop()
	viewportTicker := time.NewTicker(e.cfg.Viewport.Interval)
	defer viewportTicker.Stop()
	sweepTicker := time.NewTicker(e.cfg.Expiry.SweepInterval)
	defer sweepTicker.Stop()

	Log.Infow("engine started", "id", e.ident.ID())
	for {
		select {
		case <-ctx.Done():
			e.flushIdentity(context.Background())
			Log.Infow("engine stopped", "id", e.ident.ID())
			return ctx.Err()
		case ev := <-e.inbox:
			e.HandleEvent(ev, e.now())
		case fn := <-e.cmds:
			fn()
		case <-frameTicker.C:
			e.Frame(e.now())
		case <-hintTicker.C:
			e.PublishHint(e.now())
		case <-viewportTicker.C:
			e.SendViewport()
		case <-sweepTicker.C:
			e.Sweep(e.now())
		}
	}
}

// HandleEvent 将一个入站事件应用到实体表（单一入口）
func (e *Engine) HandleEvent(ev Event, now time.Time) {
	e.metrics.IncApplied()
	switch ev := ev.(type) {
	case UpdateEvent:
		for _, st := range ev.Entities {
			if !e.table.ApplyUpdate(st.ID, st.Position, st.Attrs, now) {
				e.metrics.IncIgnored()
			}
		}
	case ProximityEvent:
		if !e.table.ApplyProximity(ev.ID, ev.Near, now) {
			e.metrics.IncIgnored()
		}
	case ContainmentEvent:
		if ev.ID == "" || ev.ID == e.table.LocalID() {
			e.applyLocalContainment(ev, now)
			return
		}
		if !e.table.ApplyContainment(ev.ID, ev.Inside, ev.Region, now) {
			e.metrics.IncIgnored()
		}
	case MessageEvent:
		entry := NewChatEntry(ev.From, ev.Text, now)
		if err := e.chatLog.Append(e.ctx, entry); err != nil {
			Log.Warnw("chat log append failed", "err", err)
		}
		Log.Infow("message", "from", ev.From.ID, "name", ev.From.Attrs.Name, "text", ev.Text)
	case DeleteEvent:
		if !e.table.ApplyDelete(ev.ID, now) {
			e.metrics.IncIgnored()
		}
	case IdentityEvent:
		e.applyIdentity(ev.ID, now)
	default:
		Log.Warnw("unhandled event", "type", ev.EventType())
	}
}

func (e *Engine) applyLocalContainment(ev ContainmentEvent, now time.Time) {
	if !e.ident.SetContainment(ev.Inside, ev.Region) {
		return
	}
	e.table.PutLocal(e.ident.Entity())

	text := "left " + ev.Region
	if ev.Inside {
		text = "entered " + ev.Region
	}
	if ev.Region == "" {
		text = "left region"
		if ev.Inside {
			text = "entered region"
		}
	}
	if err := e.chatLog.Append(e.ctx, NewNotice(e.ident.ID(), text, now)); err != nil {
		Log.Warnw("chat log append failed", "err", err)
	}
	Log.Infow("containment changed", "inside", ev.Inside, "region", ev.Region)
}

func (e *Engine) applyIdentity(id string, now time.Time) {
	old := e.ident.ID()
	if !e.ident.Reassign(id) {
		return
	}
	e.table.RekeyLocal(id)
	e.table.PutLocal(e.ident.Entity())
	e.throttle.Reset()
	e.PublishHint(now)
	Log.Infow("server assigned id", "old", old, "new", id)
}

// handleConnect 每次连接建立：请求 id，并立即发布完整状态与视口
func (e *Engine) handleConnect() {
	now := e.now()
	e.throttle.Reset()
	if b, err := Encode(IDRequest{}); err == nil {
		e.sender.Send(b)
	}
	e.PublishHint(now)
	e.SendViewport()
}

func (e *Engine) sendState(b []byte) bool {
	return e.sender.Send(b)
}

// online 断线期间不编码、不发送；不报告连接状态的 sender 视为始终在线
func (e *Engine) online() bool {
	if c, ok := e.sender.(connectivity); ok {
		return c.Connected()
	}
	return true
}

// PublishHint "可能该发了"的提示；是否发送由节流器决定
func (e *Engine) PublishHint(now time.Time) bool {
	if !e.online() {
		return false
	}
	payload, err := Encode(StateMessage{Feature: e.ident.Feature()})
	if err != nil {
		Log.Errorw("encode local state failed", "err", err)
		return false
	}
	if !e.throttle.Publish(now, payload) {
		return false
	}
	e.metrics.IncPublishes()
	return true
}

// SendViewport 上报当前可见区域
func (e *Engine) SendViewport() bool {
	if !e.online() {
		return false
	}
	b, err := Encode(ViewportMessage{Bounds: e.ident.Viewport()})
	if err != nil {
		Log.Errorw("encode viewport failed", "err", err)
		return false
	}
	if !e.sender.Send(b) {
		return false
	}
	e.metrics.IncViewports()
	return true
}

// Sweep 过期清扫，顺带保存有变化的本地身份
func (e *Engine) Sweep(now time.Time) SweepStats {
	stats := e.sweeper.Sweep(now)
	e.metrics.AddExpired(stats.Expiring)
	if stats.Expiring > 0 || stats.Removed > 0 || stats.Unlinked > 0 {
		Log.Debugw("sweep", "expiring", stats.Expiring, "removed", stats.Removed, "unlinked", stats.Unlinked)
	}
	e.flushIdentity(e.ctx)
	return stats
}

func (e *Engine) flushIdentity(ctx context.Context) {
	if !e.ident.Dirty() {
		return
	}
	if err := e.ident.Flush(ctx); err != nil {
		Log.Warnw("saving identity failed", "err", err)
	}
}

// Frame 计算 now 时刻的渲染帧：隐藏的实体被过滤，本地实体单独给出
func (e *Engine) Frame(now time.Time) Frame {
	start := time.Now()
	f := e.anim.Tick(now)

	visible := f.Sprites[:0]
	for _, sp := range f.Sprites {
		if e.ident.IsHidden(sp.ID) {
			continue
		}
		visible = append(visible, sp)
	}
	f.Sprites = visible
	f.Local = &Sprite{
		ID:       e.ident.ID(),
		Position: e.ident.cur.Position,
		Opacity:  1,
		Scale:    1,
		Attrs:    e.ident.Attributes(),
	}

	e.frameMu.Lock()
	e.lastFrame = f
	e.frameMu.Unlock()
	e.metrics.AddFrame(time.Since(start).Nanoseconds())

	if e.OnFrame != nil {
		e.OnFrame(f)
	}
	return f
}

// LastFrame 最近一帧，可在任意协程读取
func (e *Engine) LastFrame() Frame {
	e.frameMu.RLock()
	defer e.frameMu.RUnlock()
	return e.lastFrame
}

// MoveTo 本地实体移动；只更新状态并给出发布提示
func (e *Engine) MoveTo(p LngLat) {
	e.ident.MoveTo(p)
	e.table.PutLocal(e.ident.Entity())
	e.PublishHint(e.now())
}

// Rename 修改显示名
func (e *Engine) Rename(name string) {
	e.ident.Rename(name)
	e.table.PutLocal(e.ident.Entity())
	e.PublishHint(e.now())
}

// SetViewport 地图视图变化，立即上报新的可见区域
func (e *Engine) SetViewport(center LngLat, zoom float64) {
	e.ident.SetViewport(center, zoom)
	e.PublishHint(e.now())
	e.SendViewport()
}

// Say 发送聊天文本；未连接、空文本或超出速率时返回 false
func (e *Engine) Say(text string) bool {
	if !e.online() {
		return false
	}
	text, ok := e.chat.Prepare(text, e.now())
	if !ok {
		return false
	}
	b, err := Encode(ChatMessage{Feature: e.ident.Feature(), Text: text})
	if err != nil {
		Log.Errorw("encode chat failed", "err", err)
		return false
	}
	if !e.sender.Send(b) {
		return false
	}
	e.metrics.IncChatSent()
	return true
}

// Hide 本地隐藏某个实体（不影响实体表）
func (e *Engine) Hide(id string) {
	if id == e.ident.ID() {
		return
	}
	e.ident.Hide(id)
}

func (e *Engine) Unhide(id string) {
	e.ident.Unhide(id)
}
