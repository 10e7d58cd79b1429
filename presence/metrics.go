package presence

import (
	"sync/atomic"
)

// Metrics 记录引擎运行期的关键指标（用于监控与调试）
type Metrics struct {
	FrameCount       int64 // 渲染帧数
	TotalFrameNs     int64 // 帧计算累计耗时（纳秒）
	EventsApplied    int64 // 已处理的入站事件
	MalformedFrames  int64 // 解析失败被丢弃的入站帧
	IgnoredRefs      int64 // 引用未知实体而被忽略的事件
	Publishes        int64 // 本地状态成功发布次数
	ViewportsSent    int64 // 视口消息发送次数
	Evictions        int64 // 淡出完成后移出实体表的记录
	Expired          int64 // 被清扫标记为 expiring 的记录
	Reconnects       int64 // 建立连接的次数（含首次）
	DroppedOutbound  int64 // 因未连接或写队列满被丢弃的出站帧
	ChatMessagesSent int64
}

func (m *Metrics) IncApplied()         { atomic.AddInt64(&m.EventsApplied, 1) }
func (m *Metrics) IncMalformed()       { atomic.AddInt64(&m.MalformedFrames, 1) }
func (m *Metrics) IncIgnored()         { atomic.AddInt64(&m.IgnoredRefs, 1) }
func (m *Metrics) IncPublishes()       { atomic.AddInt64(&m.Publishes, 1) }
func (m *Metrics) IncViewports()       { atomic.AddInt64(&m.ViewportsSent, 1) }
func (m *Metrics) IncEvictions()       { atomic.AddInt64(&m.Evictions, 1) }
func (m *Metrics) AddExpired(n int)    { atomic.AddInt64(&m.Expired, int64(n)) }
func (m *Metrics) IncReconnects()      { atomic.AddInt64(&m.Reconnects, 1) }
func (m *Metrics) IncDroppedOutbound() { atomic.AddInt64(&m.DroppedOutbound, 1) }
func (m *Metrics) IncChatSent()        { atomic.AddInt64(&m.ChatMessagesSent, 1) }
func (m *Metrics) AddFrame(ns int64) {
	atomic.AddInt64(&m.FrameCount, 1)
	atomic.AddInt64(&m.TotalFrameNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	frames := atomic.LoadInt64(&m.FrameCount)
	total := atomic.LoadInt64(&m.TotalFrameNs)
	var avgMs float64
	if frames > 0 {
		avgMs = float64(total) / float64(frames) / 1e6
	}
	return map[string]any{
		"frame_count":        frames,
		"avg_frame_ms":       avgMs,
		"events_applied":     atomic.LoadInt64(&m.EventsApplied),
		"malformed_frames":   atomic.LoadInt64(&m.MalformedFrames),
		"ignored_refs":       atomic.LoadInt64(&m.IgnoredRefs),
		"publishes":          atomic.LoadInt64(&m.Publishes),
		"viewports_sent":     atomic.LoadInt64(&m.ViewportsSent),
		"evictions":          atomic.LoadInt64(&m.Evictions),
		"expired":            atomic.LoadInt64(&m.Expired),
		"reconnects":         atomic.LoadInt64(&m.Reconnects),
		"dropped_outbound":   atomic.LoadInt64(&m.DroppedOutbound),
		"chat_messages_sent": atomic.LoadInt64(&m.ChatMessagesSent),
	}
}
