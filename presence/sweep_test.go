package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 10 * time.Second

func TestSweeper_TwoStageExpiry(t *testing.T) {
	tbl, anim := newTestTable()
	sw := NewSweeper(tbl, testTimeout)
	tbl.ApplyUpdate("a", ptA, Attributes{}, at(0))

	stats := sw.Sweep(at(10_000))
	assert.Zero(t, stats.Expiring, "exactly timeout is not yet stale")

	stats = sw.Sweep(at(10_500))
	assert.Equal(t, 1, stats.Expiring)
	rec, _ := tbl.Get("a")
	assert.Equal(t, Expiring, rec.State)

	sp, _ := anim.Sprite("a", at(11_000))
	assert.InDelta(t, testAnimationConfig().StaleOpacity, sp.Opacity, 1e-9)

	stats = sw.Sweep(at(15_000))
	assert.Zero(t, stats.Removed)

	stats = sw.Sweep(at(20_500))
	assert.Equal(t, 1, stats.Removed)
	rec, _ = tbl.Get("a")
	assert.Equal(t, Removed, rec.State)

	anim.Tick(at(21_100))
	_, ok := tbl.Get("a")
	assert.False(t, ok)
}

func TestSweeper_UpdateRevivesExpiring(t *testing.T) {
	tbl, anim := newTestTable()
	sw := NewSweeper(tbl, testTimeout)
	tbl.ApplyUpdate("a", ptA, Attributes{}, at(0))
	sw.Sweep(at(11_000))

	tbl.ApplyUpdate("a", ptA, Attributes{}, at(12_000))
	rec, _ := tbl.Get("a")
	assert.Equal(t, Active, rec.State)
	sp, _ := anim.Sprite("a", at(12_500))
	assert.InDelta(t, 1, sp.Opacity, 1e-9)

	stats := sw.Sweep(at(21_000))
	assert.Zero(t, stats.Removed)
	assert.Zero(t, stats.Expiring)
}

func TestSweeper_ForcesStaleNearToFar(t *testing.T) {
	tbl, anim := newTestTable()
	sw := NewSweeper(tbl, testTimeout)
	tbl.ApplyUpdate("a", ptA, Attributes{}, at(0))
	tbl.ApplyProximity("a", true, at(0))

	// 仍在更新但 Faraway 丢失
	tbl.ApplyUpdate("a", ptB, Attributes{}, at(9_000))
	stats := sw.Sweep(at(10_500))
	assert.Equal(t, 1, stats.Unlinked)
	assert.Zero(t, stats.Expiring)

	rec, _ := tbl.Get("a")
	assert.Equal(t, Far, rec.Proximity)
	sp, _ := anim.Sprite("a", at(11_000))
	assert.InDelta(t, 0, sp.Link, 1e-9)
}

func TestSweeper_RenewedNearSurvives(t *testing.T) {
	tbl, _ := newTestTable()
	sw := NewSweeper(tbl, testTimeout)
	tbl.ApplyUpdate("a", ptA, Attributes{}, at(0))
	tbl.ApplyProximity("a", true, at(0))
	tbl.ApplyProximity("a", true, at(8_000))
	tbl.ApplyUpdate("a", ptA, Attributes{}, at(8_000))

	stats := sw.Sweep(at(10_500))
	assert.Zero(t, stats.Unlinked)
	rec, _ := tbl.Get("a")
	assert.Equal(t, Near, rec.Proximity)
}

func TestSweeper_SkipsLocal(t *testing.T) {
	tbl, _ := newTestTable()
	sw := NewSweeper(tbl, testTimeout)
	tbl.PutLocal(Entity{Position: ptA, LastSeen: at(0)})

	stats := sw.Sweep(at(60_000))
	assert.Equal(t, SweepStats{}, stats)
	rec, ok := tbl.Get("local")
	require.True(t, ok)
	assert.Equal(t, Active, rec.State)
}
