package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTable() (*Table, *Scheduler) {
	s := NewScheduler(testAnimationConfig())
	return NewTable("local", s), s
}

func TestTable_UpdateCreatesAndFadesIn(t *testing.T) {
	tbl, anim := newTestTable()

	require.True(t, tbl.ApplyUpdate("a", ptA, Attributes{Color: "blue"}, at(0)))
	rec, ok := tbl.Get("a")
	require.True(t, ok)
	assert.Equal(t, Active, rec.State)
	assert.Equal(t, Far, rec.Proximity)
	assert.Equal(t, at(0), rec.LastSeen)

	sp, ok := anim.Sprite("a", at(0))
	require.True(t, ok)
	assert.InDelta(t, 0, sp.Opacity, 1e-9)
}

func TestTable_LastWriteWins(t *testing.T) {
	tbl, _ := newTestTable()

	tbl.ApplyUpdate("a", ptA, Attributes{Name: "one"}, at(0))
	tbl.ApplyUpdate("a", ptB, Attributes{Name: "two"}, at(100))
	tbl.ApplyUpdate("a", ptC, Attributes{Name: "three"}, at(200))

	rec, _ := tbl.Get("a")
	assert.Equal(t, ptC, rec.Position)
	assert.Equal(t, "three", rec.Attrs.Name)
	assert.Equal(t, at(200), rec.LastSeen)
}

func TestTable_RepeatedUpdateDoesNotRestartAnimation(t *testing.T) {
	tbl, anim := newTestTable()

	tbl.ApplyUpdate("a", ptA, Attributes{}, at(0))
	tbl.ApplyUpdate("a", ptB, Attributes{}, at(1000))
	before, _ := anim.Sprite("a", at(1050))

	// 相同状态再次到达：只刷新 lastSeen，不重启过渡
	tbl.ApplyUpdate("a", ptB, Attributes{}, at(1050))
	after, _ := anim.Sprite("a", at(1050))
	assert.Equal(t, before, after)

	rec, _ := tbl.Get("a")
	assert.Equal(t, at(1050), rec.LastSeen)
}

func TestTable_IgnoresLocalID(t *testing.T) {
	tbl, anim := newTestTable()
	tbl.PutLocal(Entity{Position: ptA})

	assert.False(t, tbl.ApplyUpdate("local", ptB, Attributes{}, at(0)))
	rec, ok := tbl.Get("local")
	require.True(t, ok)
	assert.Equal(t, ptA, rec.Position)
	assert.Zero(t, anim.Len())

	assert.False(t, tbl.ApplyProximity("local", true, at(0)))
	assert.False(t, tbl.ApplyDelete("local", at(0)))
}

func TestTable_UnknownReferencesAreNoOps(t *testing.T) {
	tbl, _ := newTestTable()

	assert.False(t, tbl.ApplyProximity("ghost", true, at(0)))
	assert.False(t, tbl.ApplyContainment("ghost", true, "park", at(0)))
	assert.False(t, tbl.ApplyDelete("ghost", at(0)))
	assert.Zero(t, tbl.Len())
}

func TestTable_Proximity(t *testing.T) {
	tbl, anim := newTestTable()
	tbl.ApplyUpdate("a", ptA, Attributes{}, at(0))

	require.True(t, tbl.ApplyProximity("a", true, at(1000)))
	rec, _ := tbl.Get("a")
	assert.Equal(t, Near, rec.Proximity)
	sp, _ := anim.Sprite("a", at(1300))
	assert.InDelta(t, 1, sp.Link, 1e-9)

	// 重复的 Nearby 刷新时间戳
	tbl.ApplyProximity("a", true, at(2000))
	rec, _ = tbl.Get("a")
	assert.Equal(t, at(2000), rec.ProximitySince)

	tbl.ApplyProximity("a", false, at(3000))
	rec, _ = tbl.Get("a")
	assert.Equal(t, Far, rec.Proximity)
	sp, _ = anim.Sprite("a", at(3300))
	assert.InDelta(t, 0, sp.Link, 1e-9)
}

func TestTable_ContainmentIndependentOfProximity(t *testing.T) {
	tbl, _ := newTestTable()
	tbl.ApplyUpdate("a", ptA, Attributes{}, at(0))
	tbl.ApplyProximity("a", true, at(0))

	require.True(t, tbl.ApplyContainment("a", true, "park", at(100)))
	rec, _ := tbl.Get("a")
	assert.True(t, rec.Inside)
	assert.Equal(t, "park", rec.Region)
	assert.Equal(t, Near, rec.Proximity)

	tbl.ApplyProximity("a", false, at(200))
	rec, _ = tbl.Get("a")
	assert.True(t, rec.Inside)
}

func TestTable_DeleteEvictsAfterFade(t *testing.T) {
	tbl, anim := newTestTable()
	var evicted []string
	tbl.OnEvict = func(id string) { evicted = append(evicted, id) }

	tbl.ApplyUpdate("a", ptA, Attributes{}, at(0))
	require.True(t, tbl.ApplyDelete("a", at(1000)))

	rec, ok := tbl.Get("a")
	require.True(t, ok, "record stays until the fade-out completes")
	assert.Equal(t, Removed, rec.State)

	anim.Tick(at(1200))
	assert.Equal(t, 1, tbl.Len())

	anim.Tick(at(1500))
	_, ok = tbl.Get("a")
	assert.False(t, ok)
	assert.Equal(t, []string{"a"}, evicted)
}

func TestTable_UpdateDuringFadeOutCreatesFreshRecord(t *testing.T) {
	tbl, anim := newTestTable()
	var evicted []string
	tbl.OnEvict = func(id string) { evicted = append(evicted, id) }

	tbl.ApplyUpdate("a", ptA, Attributes{Name: "old"}, at(0))
	tbl.ApplyDelete("a", at(1000))
	require.True(t, tbl.ApplyUpdate("a", ptB, Attributes{Name: "new"}, at(1100)))

	rec, _ := tbl.Get("a")
	assert.Equal(t, Active, rec.State)
	assert.Equal(t, "new", rec.Attrs.Name)

	anim.Tick(at(3000))
	rec, ok := tbl.Get("a")
	require.True(t, ok)
	assert.Equal(t, Active, rec.State)
	assert.Empty(t, evicted)
}

func TestTable_StaleEvictionIgnoresNewGeneration(t *testing.T) {
	tbl, _ := newTestTable()
	tbl.ApplyUpdate("a", ptA, Attributes{}, at(0))
	old, _ := tbl.Get("a")
	tbl.ApplyDelete("a", at(100))
	tbl.ApplyUpdate("a", ptB, Attributes{}, at(200))

	tbl.evict("a", old.gen)
	_, ok := tbl.Get("a")
	assert.True(t, ok)
}

func TestTable_RekeyLocal(t *testing.T) {
	tbl, anim := newTestTable()
	tbl.PutLocal(Entity{Position: ptA})
	tbl.ApplyUpdate("server-id", ptB, Attributes{}, at(0))

	tbl.RekeyLocal("server-id")
	assert.Equal(t, "server-id", tbl.LocalID())
	rec, ok := tbl.Get("server-id")
	require.True(t, ok)
	assert.Equal(t, ptA, rec.Position)
	_, ok = tbl.Get("local")
	assert.False(t, ok)
	assert.Zero(t, anim.Len(), "colliding remote slot is released")

	assert.False(t, tbl.ApplyUpdate("server-id", ptC, Attributes{}, at(10)))
}

func TestTable_EntitiesSorted(t *testing.T) {
	tbl, _ := newTestTable()
	for _, id := range []string{"c", "a", "b"} {
		tbl.ApplyUpdate(id, ptA, Attributes{}, at(0))
	}
	ents := tbl.Entities()
	require.Len(t, ents, 3)
	assert.Equal(t, "a", ents[0].ID)
	assert.Equal(t, "c", ents[2].ID)
}
