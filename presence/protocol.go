package presence

import (
	"bytes"
	"encoding/json"
	"reflect"
)

// 入站事件类型（服务端 → 客户端）
const (
	TypeUpdate  = "Update"
	TypeNearby  = "Nearby"
	TypeFaraway = "Faraway"
	TypeInside  = "Inside"
	TypeOutside = "Outside"
	TypeMessage = "Message"
	TypeDelete  = "Delete"
	TypeID      = "ID"
)

// 出站消息类型（客户端 → 服务端）；Message 与 ID 与入站同名
const (
	TypeFeature  = "Feature"
	TypeViewport = "Viewport"
)

// Attributes 实体的展示属性，核心逻辑不解释其内容
type Attributes struct {
	Color string
	Name  string
	Extra map[string]any
}

// Equal 判断两组属性是否相同（nil 与空 Extra 视为相同）
func (a Attributes) Equal(b Attributes) bool {
	if a.Color != b.Color || a.Name != b.Name {
		return false
	}
	if len(a.Extra) == 0 && len(b.Extra) == 0 {
		return true
	}
	return reflect.DeepEqual(a.Extra, b.Extra)
}

// Geometry GeoJSON Point
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// Properties GeoJSON properties；未知字段保存在 Extra 中原样往返
type Properties struct {
	ID     string
	Color  string
	Name   string
	Center *LngLat
	Zoom   *float64
	Extra  map[string]any
}

func (p Properties) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(p.Extra)+5)
	for k, v := range p.Extra {
		m[k] = v
	}
	if p.ID != "" {
		m["id"] = p.ID
	}
	if p.Color != "" {
		m["color"] = p.Color
	}
	if p.Name != "" {
		m["name"] = p.Name
	}
	if p.Center != nil {
		m["center"] = [2]float64{p.Center.Lng, p.Center.Lat}
	}
	if p.Zoom != nil {
		m["zoom"] = *p.Zoom
	}
	return json.Marshal(m)
}

func (p *Properties) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*p = Properties{}
	for k, v := range raw {
		switch k {
		case "id":
			if err := json.Unmarshal(v, &p.ID); err != nil {
				return err
			}
		case "color":
			if err := json.Unmarshal(v, &p.Color); err != nil {
				return err
			}
		case "name":
			if err := json.Unmarshal(v, &p.Name); err != nil {
				return err
			}
		case "center":
			var c [2]float64
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			p.Center = &LngLat{Lng: c[0], Lat: c[1]}
		case "zoom":
			var z float64
			if err := json.Unmarshal(v, &z); err != nil {
				return err
			}
			p.Zoom = &z
		default:
			var x any
			if err := json.Unmarshal(v, &x); err != nil {
				return err
			}
			if p.Extra == nil {
				p.Extra = make(map[string]any)
			}
			p.Extra[k] = x
		}
	}
	return nil
}

// Feature GeoJSON 点要素，是实体状态在线路上的表示
type Feature struct {
	Type       string     `json:"type"`
	ID         string     `json:"id,omitempty"`
	Geometry   Geometry   `json:"geometry"`
	Properties Properties `json:"properties"`
}

// NewFeature 构造点要素
func NewFeature(id string, pos LngLat, attrs Attributes) Feature {
	return Feature{
		Type: TypeFeature,
		ID:   id,
		Geometry: Geometry{
			Type:        "Point",
			Coordinates: []float64{pos.Lng, pos.Lat},
		},
		Properties: Properties{
			ID:    id,
			Color: attrs.Color,
			Name:  attrs.Name,
			Extra: attrs.Extra,
		},
	}
}

// EntityID 要素 id：优先取顶层 id，其次 properties.id
func (f Feature) EntityID() string {
	if f.ID != "" {
		return f.ID
	}
	return f.Properties.ID
}

// Position 要素坐标
func (f Feature) Position() (LngLat, bool) {
	if len(f.Geometry.Coordinates) < 2 {
		return LngLat{}, false
	}
	return LngLat{Lng: f.Geometry.Coordinates[0], Lat: f.Geometry.Coordinates[1]}, true
}

// Attributes 要素的展示属性
func (f Feature) Attributes() Attributes {
	return Attributes{Color: f.Properties.Color, Name: f.Properties.Name, Extra: f.Properties.Extra}
}

// EntityState 一个实体的 (id, 位置, 属性) 三元组
type EntityState struct {
	ID       string
	Position LngLat
	Attrs    Attributes
}

// Event 入站事件的封闭联合类型
type Event interface {
	EventType() string
}

// UpdateEvent 一个或多个实体的状态
type UpdateEvent struct {
	Entities []EntityState
}

// ProximityEvent Nearby/Faraway：本地实体与另一实体的远近变化
type ProximityEvent struct {
	ID   string
	Near bool
}

// ContainmentEvent Inside/Outside：实体与静态区域的包含关系；ID 为空表示本地实体
type ContainmentEvent struct {
	ID     string
	Inside bool
	Region string
}

// MessageEvent 聊天文本
type MessageEvent struct {
	From EntityState
	Text string
}

// DeleteEvent 显式删除
type DeleteEvent struct {
	ID string
}

// IdentityEvent 服务端分配给本地实体的 id
type IdentityEvent struct {
	ID string
}

func (UpdateEvent) EventType() string   { return TypeUpdate }
func (IdentityEvent) EventType() string { return TypeID }
func (DeleteEvent) EventType() string   { return TypeDelete }
func (MessageEvent) EventType() string  { return TypeMessage }

func (e ProximityEvent) EventType() string {
	if e.Near {
		return TypeNearby
	}
	return TypeFaraway
}

func (e ContainmentEvent) EventType() string {
	if e.Inside {
		return TypeInside
	}
	return TypeOutside
}

// inboundFrame 入站文本帧的线路结构
type inboundFrame struct {
	Type     string          `json:"type"`
	Features []Feature       `json:"features"`
	Feature  *Feature        `json:"feature"`
	ID       string          `json:"id"`
	Text     string          `json:"text"`
	Region   json.RawMessage `json:"region"`
}

// DecodeEvent 解析一个入站帧；未知类型或缺字段都视为畸形帧
func DecodeEvent(b []byte) (Event, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, frameError("", "empty frame")
	}
	var f inboundFrame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, frameError("", "invalid json: %v", err)
	}

	switch f.Type {
	case TypeUpdate:
		ev := UpdateEvent{Entities: make([]EntityState, 0, len(f.Features))}
		for _, feat := range f.Features {
			st, err := entityState(f.Type, feat)
			if err != nil {
				return nil, err
			}
			ev.Entities = append(ev.Entities, st)
		}
		return ev, nil
	case TypeNearby, TypeFaraway:
		if f.Feature == nil || f.Feature.EntityID() == "" {
			return nil, frameError(f.Type, "missing feature id")
		}
		return ProximityEvent{ID: f.Feature.EntityID(), Near: f.Type == TypeNearby}, nil
	case TypeInside, TypeOutside:
		ev := ContainmentEvent{Inside: f.Type == TypeInside, Region: regionName(f.Region)}
		if f.Feature != nil {
			ev.ID = f.Feature.EntityID()
		}
		return ev, nil
	case TypeMessage:
		if f.Feature == nil {
			return nil, frameError(f.Type, "missing feature")
		}
		st, err := entityState(f.Type, *f.Feature)
		if err != nil {
			return nil, err
		}
		return MessageEvent{From: st, Text: f.Text}, nil
	case TypeDelete:
		if f.ID == "" {
			return nil, frameError(f.Type, "missing id")
		}
		return DeleteEvent{ID: f.ID}, nil
	case TypeID:
		if f.ID == "" {
			return nil, frameError(f.Type, "missing id")
		}
		return IdentityEvent{ID: f.ID}, nil
	default:
		return nil, frameError(f.Type, "unknown event type %q", f.Type)
	}
}

func entityState(kind string, f Feature) (EntityState, error) {
	id := f.EntityID()
	if id == "" {
		return EntityState{}, frameError(kind, "feature without id")
	}
	pos, ok := f.Position()
	if !ok {
		return EntityState{}, frameError(kind, "feature %s without point coordinates", id)
	}
	return EntityState{ID: id, Position: pos, Attrs: f.Attributes()}, nil
}

// regionName 区域可以是字符串名，也可以是带 properties.name 的多边形要素
func regionName(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return name
	}
	var region struct {
		ID         string         `json:"id"`
		Properties map[string]any `json:"properties"`
	}
	if err := json.Unmarshal(raw, &region); err != nil {
		return ""
	}
	if n, ok := region.Properties["name"].(string); ok && n != "" {
		return n
	}
	return region.ID
}

// Outbound 出站消息的封闭联合类型
type Outbound interface {
	outbound()
}

// StateMessage 本地实体完整状态（由节流器发布）
type StateMessage struct {
	Feature Feature
}

// ViewportMessage 当前可见区域
type ViewportMessage struct {
	Bounds Bounds
}

// ChatMessage 用户提交的聊天文本
type ChatMessage struct {
	Feature Feature
	Text    string
}

// IDRequest 连接建立后向服务端请求 id
type IDRequest struct{}

func (StateMessage) outbound()    {}
func (ViewportMessage) outbound() {}
func (ChatMessage) outbound()     {}
func (IDRequest) outbound()       {}

type wireLatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type wireBounds struct {
	SW wireLatLng `json:"_sw"`
	NE wireLatLng `json:"_ne"`
}

// Encode 将出站消息序列化为文本帧
func Encode(msg Outbound) ([]byte, error) {
	switch m := msg.(type) {
	case StateMessage:
		return json.Marshal(m.Feature)
	case ViewportMessage:
		return json.Marshal(struct {
			Type   string     `json:"type"`
			Bounds wireBounds `json:"bounds"`
		}{
			Type: TypeViewport,
			Bounds: wireBounds{
				SW: wireLatLng{Lat: m.Bounds.SW.Lat, Lng: m.Bounds.SW.Lng},
				NE: wireLatLng{Lat: m.Bounds.NE.Lat, Lng: m.Bounds.NE.Lng},
			},
		})
	case ChatMessage:
		return json.Marshal(struct {
			Type    string  `json:"type"`
			Feature Feature `json:"feature"`
			Text    string  `json:"text"`
		}{Type: TypeMessage, Feature: m.Feature, Text: m.Text})
	case IDRequest:
		return []byte(`{"type":"ID"}`), nil
	default:
		return nil, frameError("", "unknown outbound message %T", msg)
	}
}
