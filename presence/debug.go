package presence

import (
	"encoding/json"
	"net/http"
)

// DebugHandler 只读调试接口
// GET /metrics  运行指标
// GET /frame    最近一帧（实体位置、不透明度、连线）
// GET /healthz  连接状态
func DebugHandler(e *Engine, s *Session) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"id":      e.LastFrame().localID(),
			"metrics": e.Metrics().Snapshot(),
		}
		writeJSON(w, payload)
	})
	mux.HandleFunc("/frame", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, frameView(e.LastFrame()))
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if s != nil && !s.Connected() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("disconnected"))
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (f Frame) localID() string {
	if f.Local == nil {
		return ""
	}
	return f.Local.ID
}

type spriteView struct {
	ID      string  `json:"id"`
	Lng     float64 `json:"lng"`
	Lat     float64 `json:"lat"`
	Opacity float64 `json:"opacity"`
	Scale   float64 `json:"scale"`
	Link    float64 `json:"link"`
	Color   string  `json:"color,omitempty"`
	Name    string  `json:"name,omitempty"`
	Moving  bool    `json:"moving,omitempty"`
	Leaving bool    `json:"leaving,omitempty"`
}

func toSpriteView(sp Sprite) spriteView {
	return spriteView{
		ID:      sp.ID,
		Lng:     sp.Position.Lng,
		Lat:     sp.Position.Lat,
		Opacity: sp.Opacity,
		Scale:   sp.Scale,
		Link:    sp.Link,
		Color:   sp.Attrs.Color,
		Name:    sp.Attrs.Name,
		Moving:  sp.Moving,
		Leaving: sp.Leaving,
	}
}

func frameView(f Frame) map[string]any {
	sprites := make([]spriteView, 0, len(f.Sprites))
	for _, sp := range f.Sprites {
		sprites = append(sprites, toSpriteView(sp))
	}
	out := map[string]any{
		"at":      f.At,
		"sprites": sprites,
	}
	if f.Local != nil {
		out["local"] = toSpriteView(*f.Local)
	}
	return out
}
