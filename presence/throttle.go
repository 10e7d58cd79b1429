package presence

import (
	"bytes"
	"time"
)

// Sender 发送一个文本帧；未连接时返回 false
type Sender interface {
	Send(b []byte) bool
}

// connectivity 可选：能报告连接状态的 Sender（如 *Session）
type connectivity interface {
	Connected() bool
}

// SenderFunc 函数适配 Sender
type SenderFunc func(b []byte) bool

func (f SenderFunc) Send(b []byte) bool { return f(b) }

// Throttle 本地状态发布节流：
//   - 距上次成功发送 >= max：无条件发送（保活）
//   - 距上次成功发送 >= min 且内容变化：发送
//   - 否则不发
type Throttle struct {
	minInterval time.Duration
	maxInterval time.Duration
	sender      Sender

	sent        bool
	lastPayload []byte
	lastSent    time.Time
}

// NewThrottle min >= max 属于配置错误
func NewThrottle(minInterval, maxInterval time.Duration, sender Sender) (*Throttle, error) {
	if minInterval <= 0 || minInterval >= maxInterval {
		return nil, configError("throttle window inverted: min=%s max=%s", minInterval, maxInterval)
	}
	return &Throttle{minInterval: minInterval, maxInterval: maxInterval, sender: sender}, nil
}

// Publish 是"可能该发了"的提示，是否发送由节流器决定；返回是否实际发送成功
func (t *Throttle) Publish(now time.Time, payload []byte) bool {
	if !t.due(now, payload) {
		return false
	}
	if !t.sender.Send(payload) {
		return false
	}
	t.sent = true
	t.lastSent = now
	t.lastPayload = append(t.lastPayload[:0], payload...)
	return true
}

func (t *Throttle) due(now time.Time, payload []byte) bool {
	if !t.sent {
		return true
	}
	elapsed := now.Sub(t.lastSent)
	if elapsed >= t.maxInterval {
		return true
	}
	return elapsed >= t.minInterval && !bytes.Equal(payload, t.lastPayload)
}

// Reset 忘记上次发布记录；重连后下一次提示立即发布
func (t *Throttle) Reset() {
	t.sent = false
	t.lastPayload = t.lastPayload[:0]
	t.lastSent = time.Time{}
}

// LastSent 上次成功发送的时间
func (t *Throttle) LastSent() (time.Time, bool) {
	return t.lastSent, t.sent
}
