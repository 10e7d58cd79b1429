package presence

import (
	"math"
	"time"
)

// Easing 把进度 t ∈ [0,1] 映射为插值比例
type Easing func(t float64) float64

func Linear(t float64) float64 { return t }

// EaseOutBack 末尾略微过冲再回落，用于实体出现时的"弹出"效果
func EaseOutBack(t float64) float64 {
	const c1 = 1.70158
	const c3 = c1 + 1
	return 1 + c3*math.Pow(t-1, 3) + c1*math.Pow(t-1, 2)
}

func EaseInOutQuad(t float64) float64 {
	if t < 0.5 {
		return 2 * t * t
	}
	return 1 - math.Pow(-2*t+2, 2)/2
}

// tween 一段标量过渡；纯函数：只依赖 (经过时间, 起点, 终点, 曲线)
type tween struct {
	from  float64
	to    float64
	start time.Time
	dur   time.Duration
	ease  Easing
}

// settled 已经静止在 v 的过渡
func settled(v float64) tween {
	return tween{from: v, to: v}
}

func (tw tween) at(now time.Time) (v float64, done bool) {
	if tw.dur <= 0 || !now.Before(tw.start.Add(tw.dur)) {
		return tw.to, true
	}
	t := float64(now.Sub(tw.start)) / float64(tw.dur)
	if t < 0 {
		t = 0
	}
	ease := tw.ease
	if ease == nil {
		ease = Linear
	}
	return tw.from + (tw.to-tw.from)*ease(t), false
}

// posTween 位置的线性过渡
type posTween struct {
	from  LngLat
	to    LngLat
	start time.Time
	dur   time.Duration
}

func (pt posTween) at(now time.Time) (LngLat, bool) {
	if pt.dur <= 0 || !now.Before(pt.start.Add(pt.dur)) {
		return pt.to, true
	}
	t := float64(now.Sub(pt.start)) / float64(pt.dur)
	if t < 0 {
		t = 0
	}
	return pt.from.Lerp(pt.to, t), false
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
