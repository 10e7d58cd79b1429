package presence

import (
	"sort"
	"time"
)

// Sprite 一帧中某个实体的可见状态，供渲染层使用
type Sprite struct {
	ID       string
	Position LngLat
	Opacity  float64 // [0,1]
	Scale    float64 // 出现动画的过冲值，其余时间为 1
	Link     float64 // 连线不透明度 [0,1]
	Attrs    Attributes
	Moving   bool
	Leaving  bool
}

// Frame 某一时刻的完整快照
type Frame struct {
	At      time.Time
	Local   *Sprite
	Sprites []Sprite
}

// slot 每个实体的动画槽位；同类过渡只保留最新一个
type slot struct {
	pos      posTween
	opacity  tween
	entering bool
	link     tween
	attrs    Attributes
	leaving  bool
	onGone   func()
}

// Scheduler 动画调度器：按实体 id 索引的槽位表，Tick 只依赖传入的时间
type Scheduler struct {
	cfg   AnimationConfig
	stale float64
	slots map[string]*slot
}

func NewScheduler(cfg AnimationConfig) *Scheduler {
	return &Scheduler{
		cfg:   cfg,
		stale: cfg.StaleOpacity,
		slots: make(map[string]*slot),
	}
}

// Appear 新实体淡入；已有槽位（包括正在淡出的）被整体替换
func (s *Scheduler) Appear(id string, at LngLat, attrs Attributes, now time.Time) {
	s.slots[id] = &slot{
		pos:      posTween{from: at, to: at},
		opacity:  tween{from: 0, to: 1, start: now, dur: s.cfg.EntryDuration, ease: EaseOutBack},
		entering: true,
		link:     settled(0),
		attrs:    attrs,
	}
}

// Move 从当前显示位置（可能在途中）线性移动到新目标
func (s *Scheduler) Move(id string, to LngLat, now time.Time) {
	sl, ok := s.slots[id]
	if !ok || sl.leaving {
		return
	}
	cur, _ := sl.pos.at(now)
	sl.pos = posTween{from: cur, to: to, start: now, dur: s.cfg.MoveDuration}
}

// Restyle 更新展示属性，无过渡
func (s *Scheduler) Restyle(id string, attrs Attributes) {
	if sl, ok := s.slots[id]; ok && !sl.leaving {
		sl.attrs = attrs
	}
}

// Link 连线淡入(near)/淡出(far)，与位置过渡互不影响
func (s *Scheduler) Link(id string, near bool, now time.Time) {
	sl, ok := s.slots[id]
	if !ok || sl.leaving {
		return
	}
	target := 0.0
	if near {
		target = 1
	}
	cur, _ := sl.link.at(now)
	sl.link = tween{from: cur, to: target, start: now, dur: s.cfg.LinkDuration, ease: EaseInOutQuad}
}

// Dim 过期中的实体变暗
func (s *Scheduler) Dim(id string, now time.Time) {
	s.fadeTo(id, s.stale, now)
}

// Revive 过期中的实体收到更新后恢复
func (s *Scheduler) Revive(id string, now time.Time) {
	s.fadeTo(id, 1, now)
}

func (s *Scheduler) fadeTo(id string, target float64, now time.Time) {
	sl, ok := s.slots[id]
	if !ok || sl.leaving {
		return
	}
	cur, _ := sl.opacity.at(now)
	sl.entering = false
	sl.opacity = tween{from: clamp01(cur), to: target, start: now, dur: s.cfg.LinkDuration, ease: EaseInOutQuad}
}

// Vanish 淡出；取消进行中的出现与移动过渡，淡出完成后由 Tick 调用 done 并释放槽位
func (s *Scheduler) Vanish(id string, now time.Time, done func()) {
	sl, ok := s.slots[id]
	if !ok {
		if done != nil {
			done()
		}
		return
	}
	if sl.leaving {
		return
	}
	curPos, _ := sl.pos.at(now)
	curOpacity, _ := sl.opacity.at(now)
	curLink, _ := sl.link.at(now)

	sl.pos = posTween{from: curPos, to: curPos}
	sl.entering = false
	sl.opacity = tween{from: clamp01(curOpacity), to: 0, start: now, dur: s.cfg.ExitDuration, ease: EaseInOutQuad}
	sl.link = tween{from: curLink, to: 0, start: now, dur: s.cfg.ExitDuration, ease: EaseInOutQuad}
	sl.leaving = true
	sl.onGone = done
}

// Forget 立即释放槽位，不触发回调
func (s *Scheduler) Forget(id string) {
	delete(s.slots, id)
}

// Len 当前槽位数
func (s *Scheduler) Len() int {
	return len(s.slots)
}

// Sprite 单个实体在 now 时刻的状态
func (s *Scheduler) Sprite(id string, now time.Time) (Sprite, bool) {
	sl, ok := s.slots[id]
	if !ok {
		return Sprite{}, false
	}
	sp, _ := sl.sample(id, now)
	return sp, true
}

func (sl *slot) sample(id string, now time.Time) (Sprite, bool) {
	pos, posDone := sl.pos.at(now)
	op, opDone := sl.opacity.at(now)
	link, _ := sl.link.at(now)

	scale := 1.0
	if sl.entering && !opDone {
		scale = op
	}
	return Sprite{
		ID:       id,
		Position: pos,
		Opacity:  clamp01(op),
		Scale:    scale,
		Link:     clamp01(link),
		Attrs:    sl.attrs,
		Moving:   !posDone,
		Leaving:  sl.leaving,
	}, sl.leaving && opDone
}

// Tick 计算 now 时刻的帧；淡出完成的槽位在此释放并回调（回调在遍历结束后执行）
func (s *Scheduler) Tick(now time.Time) Frame {
	frame := Frame{At: now, Sprites: make([]Sprite, 0, len(s.slots))}
	var gone []func()
	for id, sl := range s.slots {
		sp, finished := sl.sample(id, now)
		if finished {
			delete(s.slots, id)
			if sl.onGone != nil {
				gone = append(gone, sl.onGone)
			}
			continue
		}
		frame.Sprites = append(frame.Sprites, sp)
	}
	sort.Slice(frame.Sprites, func(i, j int) bool { return frame.Sprites[i].ID < frame.Sprites[j].ID })
	for _, fn := range gone {
		fn()
	}
	return frame
}
