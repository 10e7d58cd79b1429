package presence

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	defaultZoom   = 14
	maxNameLength = 28
)

// Identity 本地实体及视图状态，会话内持久化
type Identity struct {
	ID       string   `yaml:"id" json:"id"`
	Color    string   `yaml:"color" json:"color"`
	Name     string   `yaml:"name,omitempty" json:"name,omitempty"`
	Position LngLat   `yaml:"position" json:"position"`
	Center   LngLat   `yaml:"center" json:"center"`
	Zoom     float64  `yaml:"zoom" json:"zoom"`
	Hidden   []string `yaml:"hidden,omitempty" json:"hidden,omitempty"`
}

// NewRandomIdentity 随机 id、随机浅色、区域内随机位置
func NewRandomIdentity(region Bounds, rnd *rand.Rand) Identity {
	var b [12]byte
	rnd.Read(b[:])
	pos := region.RandomPoint(rnd)
	return Identity{
		ID: hex.EncodeToString(b[:]),
		Color: fmt.Sprintf("rgba(%d,%d,%d,1.0)",
			128+rnd.Intn(128), 128+rnd.Intn(128), 128+rnd.Intn(128)),
		Position: pos,
		Center:   pos,
		Zoom:     defaultZoom,
	}
}

// IdentityStore 唯一允许产生本地实体状态的组件
type IdentityStore struct {
	store  SessionStore
	key    string
	meters float64

	cur    Identity
	hidden map[string]struct{}
	dirty  bool

	// 本地实体与静态区域的包含关系，不持久化
	inside bool
	region string
}

// OpenIdentity 恢复会话身份；不存在时生成新身份并立即保存
func OpenIdentity(ctx context.Context, store SessionStore, key string, origin OriginConfig, viewportMeters float64, rnd *rand.Rand) (*IdentityStore, bool, error) {
	s := &IdentityStore{store: store, key: key, meters: viewportMeters, hidden: make(map[string]struct{})}

	id, err := store.Load(ctx, key)
	switch {
	case err == nil:
		s.cur = id
		for _, h := range id.Hidden {
			s.hidden[h] = struct{}{}
		}
		s.cur.Hidden = nil
		return s, true, nil
	case errors.Is(err, ErrIdentityNotFound):
		s.cur = NewRandomIdentity(origin.Region(), rnd)
		if err := s.Flush(ctx); err != nil {
			return nil, false, err
		}
		return s, false, nil
	default:
		return nil, false, err
	}
}

// Identity 当前身份副本（Hidden 已排序）
func (s *IdentityStore) Identity() Identity {
	id := s.cur
	id.Hidden = s.hiddenList()
	return id
}

func (s *IdentityStore) ID() string {
	return s.cur.ID
}

func (s *IdentityStore) Attributes() Attributes {
	return Attributes{Color: s.cur.Color, Name: s.cur.Name}
}

// Entity 本地实体记录，写入实体表
func (s *IdentityStore) Entity() Entity {
	return Entity{
		ID:       s.cur.ID,
		Position: s.cur.Position,
		Attrs:    s.Attributes(),
		Inside:   s.inside,
		Region:   s.region,
		State:    Active,
	}
}

// Feature 完整本地状态（位置、属性、视图），节流器发布的单元
func (s *IdentityStore) Feature() Feature {
	f := NewFeature(s.cur.ID, s.cur.Position, s.Attributes())
	center := s.cur.Center
	zoom := s.cur.Zoom
	f.Properties.Center = &center
	f.Properties.Zoom = &zoom
	return f
}

// Viewport 当前可见区域
func (s *IdentityStore) Viewport() Bounds {
	return ViewportAround(s.cur.Center, s.meters)
}

// MoveTo 本地位置变化
func (s *IdentityStore) MoveTo(p LngLat) {
	if s.cur.Position == p {
		return
	}
	s.cur.Position = p
	s.dirty = true
}

// Rename 名字去除首尾空白，最长 28 个字符
func (s *IdentityStore) Rename(name string) {
	name = strings.TrimSpace(name)
	for utf8.RuneCountInString(name) > maxNameLength {
		_, size := utf8.DecodeLastRuneInString(name)
		name = name[:len(name)-size]
	}
	if s.cur.Name == name {
		return
	}
	s.cur.Name = name
	s.dirty = true
}

// SetViewport 地图中心与缩放
func (s *IdentityStore) SetViewport(center LngLat, zoom float64) {
	if s.cur.Center == center && s.cur.Zoom == zoom {
		return
	}
	s.cur.Center = center
	s.cur.Zoom = zoom
	s.dirty = true
}

// Reassign 采用服务端分配的 id
func (s *IdentityStore) Reassign(id string) bool {
	if id == "" || id == s.cur.ID {
		return false
	}
	s.cur.ID = id
	s.dirty = true
	return true
}

// SetContainment 本地实体进入/离开区域；返回是否发生变化
func (s *IdentityStore) SetContainment(inside bool, region string) bool {
	if s.inside == inside && s.region == region {
		return false
	}
	s.inside = inside
	s.region = region
	return true
}

// Hide 本地隐藏某个远端实体
func (s *IdentityStore) Hide(id string) {
	if _, ok := s.hidden[id]; ok || id == "" {
		return
	}
	s.hidden[id] = struct{}{}
	s.dirty = true
}

func (s *IdentityStore) Unhide(id string) {
	if _, ok := s.hidden[id]; !ok {
		return
	}
	delete(s.hidden, id)
	s.dirty = true
}

func (s *IdentityStore) IsHidden(id string) bool {
	_, ok := s.hidden[id]
	return ok
}

func (s *IdentityStore) hiddenList() []string {
	if len(s.hidden) == 0 {
		return nil
	}
	out := make([]string, 0, len(s.hidden))
	for id := range s.hidden {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Dirty 自上次保存以来是否有变化
func (s *IdentityStore) Dirty() bool {
	return s.dirty
}

// Flush 保存到会话存储
func (s *IdentityStore) Flush(ctx context.Context) error {
	if err := s.store.Save(ctx, s.key, s.Identity()); err != nil {
		return err
	}
	s.dirty = false
	return nil
}
