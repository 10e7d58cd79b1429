package presence

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebugHandler(t *testing.T) {
	f := newEngineFixture(t)
	f.eng.HandleEvent(remoteUpdate("a", ptA), at(0))
	f.eng.Frame(at(700))
	h := DebugHandler(f.eng, NewSession("ws://127.0.0.1:1/ws"))

	t.Run("frame", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/frame", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Sprites []spriteView `json:"sprites"`
			Local   spriteView   `json:"local"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Sprites, 1)
		assert.Equal(t, "a", body.Sprites[0].ID)
		assert.Equal(t, "red", body.Sprites[0].Color)
		assert.Equal(t, f.eng.Identity().ID(), body.Local.ID)
	})

	t.Run("metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, f.eng.Identity().ID(), body["id"])
		metrics := body["metrics"].(map[string]any)
		assert.Equal(t, float64(1), metrics["events_applied"])
		assert.Equal(t, float64(1), metrics["frame_count"])
	})

	t.Run("healthz reports disconnected session", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
