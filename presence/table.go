package presence

import (
	"sort"
	"time"
)

// Lifecycle 实体生命周期，只能向前：active → expiring → removed；expiring 收到更新回到 active
type Lifecycle int

const (
	Active Lifecycle = iota
	Expiring
	Removed
)

func (l Lifecycle) String() string {
	switch l {
	case Active:
		return "active"
	case Expiring:
		return "expiring"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Proximity 本地实体与某实体的远近关系（由服务端计算）
type Proximity int

const (
	Far Proximity = iota
	Near
)

func (p Proximity) String() string {
	if p == Near {
		return "near"
	}
	return "far"
}

// Entity 实体表中的持久记录；动画状态不在这里
type Entity struct {
	ID             string
	Position       LngLat
	Attrs          Attributes
	LastSeen       time.Time
	Proximity      Proximity
	ProximitySince time.Time

	// 包含关系与远近关系是两个独立维度
	Inside           bool
	Region           string
	ContainmentSince time.Time

	State Lifecycle

	gen uint64
}

// Animator 实体表在状态变化时通知动画层
type Animator interface {
	Appear(id string, at LngLat, attrs Attributes, now time.Time)
	Move(id string, to LngLat, now time.Time)
	Restyle(id string, attrs Attributes)
	Link(id string, near bool, now time.Time)
	Dim(id string, now time.Time)
	Revive(id string, now time.Time)
	Vanish(id string, now time.Time, done func())
	Forget(id string)
}

// Table 远端实体 id → 记录；每次调用结束后都处于一致状态
type Table struct {
	localID string
	records map[string]*Entity
	anim    Animator
	gen     uint64

	// OnEvict 在淡出完成、记录真正移出表时调用
	OnEvict func(id string)
}

func NewTable(localID string, anim Animator) *Table {
	return &Table{
		localID: localID,
		records: make(map[string]*Entity),
		anim:    anim,
	}
}

// LocalID 本地实体 id
func (t *Table) LocalID() string {
	return t.localID
}

// PutLocal 写入本地实体记录；只应由本地身份存储驱动
func (t *Table) PutLocal(e Entity) {
	e.ID = t.localID
	e.State = Active
	cur, ok := t.records[t.localID]
	if ok {
		e.gen = cur.gen
	} else {
		t.gen++
		e.gen = t.gen
	}
	t.records[t.localID] = &e
}

// RekeyLocal 服务端重新分配本地 id；若新 id 已被远端记录占用，则该远端记录被替换
func (t *Table) RekeyLocal(id string) {
	if id == "" || id == t.localID {
		return
	}
	rec, ok := t.records[t.localID]
	delete(t.records, t.localID)
	t.localID = id
	if other, exists := t.records[id]; exists {
		if other.State != Removed {
			Log.Debugw("local id collides with remote record, dropping remote", "id", id)
		}
		t.anim.Forget(id)
	}
	delete(t.records, id)
	if ok {
		rec.ID = id
		t.records[id] = rec
	}
}

// ApplyUpdate 未知 id 创建记录并淡入；已知 id 更新位置/属性/lastSeen
func (t *Table) ApplyUpdate(id string, pos LngLat, attrs Attributes, now time.Time) bool {
	if id == "" {
		return false
	}
	if id == t.localID {
		Log.Debugw("ignoring inbound update for local entity", "id", id)
		return false
	}

	rec, ok := t.records[id]
	if !ok || rec.State == Removed {
		t.gen++
		t.records[id] = &Entity{
			ID:             id,
			Position:       pos,
			Attrs:          attrs,
			LastSeen:       now,
			Proximity:      Far,
			ProximitySince: now,
			State:          Active,
			gen:            t.gen,
		}
		t.anim.Appear(id, pos, attrs, now)
		return true
	}

	rec.LastSeen = now
	if rec.State == Expiring {
		rec.State = Active
		t.anim.Revive(id, now)
	}
	if rec.Position != pos {
		rec.Position = pos
		t.anim.Move(id, pos, now)
	}
	if !rec.Attrs.Equal(attrs) {
		rec.Attrs = attrs
		t.anim.Restyle(id, attrs)
	}
	return true
}

// ApplyProximity 未知 id 忽略；重复的 near 会刷新 ProximitySince
func (t *Table) ApplyProximity(id string, near bool, now time.Time) bool {
	rec, ok := t.remote(id)
	if !ok {
		Log.Debugw("proximity for unknown entity ignored", "id", id, "near", near)
		return false
	}
	if near {
		if rec.Proximity == Near {
			rec.ProximitySince = now
			return true
		}
		rec.Proximity = Near
		rec.ProximitySince = now
		t.anim.Link(id, true, now)
		return true
	}
	if rec.Proximity == Far {
		return true
	}
	rec.Proximity = Far
	rec.ProximitySince = now
	t.anim.Link(id, false, now)
	return true
}

// ApplyContainment 实体与静态区域的包含关系
func (t *Table) ApplyContainment(id string, inside bool, region string, now time.Time) bool {
	rec, ok := t.remote(id)
	if !ok {
		Log.Debugw("containment for unknown entity ignored", "id", id, "inside", inside)
		return false
	}
	if rec.Inside == inside && rec.Region == region {
		return true
	}
	rec.Inside = inside
	rec.Region = region
	rec.ContainmentSince = now
	return true
}

// ApplyDelete 标记 removed 并淡出；淡出完成后才从表中移除
func (t *Table) ApplyDelete(id string, now time.Time) bool {
	rec, ok := t.remote(id)
	if !ok {
		return false
	}
	t.remove(rec, now)
	return true
}

// remote 返回未移除的远端记录
func (t *Table) remote(id string) (*Entity, bool) {
	if id == "" || id == t.localID {
		return nil, false
	}
	rec, ok := t.records[id]
	if !ok || rec.State == Removed {
		return nil, false
	}
	return rec, true
}

func (t *Table) remove(rec *Entity, now time.Time) {
	rec.State = Removed
	id, gen := rec.ID, rec.gen
	t.anim.Vanish(id, now, func() { t.evict(id, gen) })
}

// evict 只移除同一代的记录：淡出期间同 id 重新出现的新记录不受影响
func (t *Table) evict(id string, gen uint64) {
	rec, ok := t.records[id]
	if !ok || rec.gen != gen || rec.State != Removed {
		return
	}
	delete(t.records, id)
	if t.OnEvict != nil {
		t.OnEvict(id)
	}
}

// Get 返回记录副本
func (t *Table) Get(id string) (Entity, bool) {
	rec, ok := t.records[id]
	if !ok {
		return Entity{}, false
	}
	return *rec, true
}

// Len 表中记录数（包括本地实体与淡出中的记录）
func (t *Table) Len() int {
	return len(t.records)
}

// Entities 按 id 排序的记录副本
func (t *Table) Entities() []Entity {
	out := make([]Entity, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
