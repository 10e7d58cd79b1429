package presence

import (
	"encoding/json"
	"sync"
	"time"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// at 距 epoch 的毫秒偏移
func at(ms int) time.Time {
	return epoch.Add(time.Duration(ms) * time.Millisecond)
}

// recordSender 记录所有发出的帧；down 为 true 时模拟断线
type recordSender struct {
	mu       sync.Mutex
	down     bool
	attempts int
	frames   [][]byte
}

func (s *recordSender) Send(b []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.down {
		return false
	}
	s.frames = append(s.frames, append([]byte(nil), b...))
	return true
}

func (s *recordSender) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.down
}

func (s *recordSender) sendAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *recordSender) setDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

func (s *recordSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// types 每个已发送帧的 type 字段
func (s *recordSender) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.frames))
	for _, f := range s.frames {
		var head struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(f, &head)
		out = append(out, head.Type)
	}
	return out
}

func (s *recordSender) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = nil
}

func testAnimationConfig() AnimationConfig {
	return DefaultConfig().Animation
}
