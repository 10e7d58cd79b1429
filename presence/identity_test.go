package presence

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hexID = regexp.MustCompile(`^[0-9a-f]{24}$`)

func testOrigin() OriginConfig {
	return DefaultConfig().Origin
}

func TestNewRandomIdentity(t *testing.T) {
	region := testOrigin().Region()
	id := NewRandomIdentity(region, rand.New(rand.NewSource(7)))

	assert.Regexp(t, hexID, id.ID)
	assert.True(t, region.Contains(id.Position))
	assert.Equal(t, id.Position, id.Center)
	assert.True(t, strings.HasPrefix(id.Color, "rgba("))
	assert.Equal(t, float64(defaultZoom), id.Zoom)
}

func TestOpenIdentity_GeneratesAndRestores(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first, restored, err := OpenIdentity(ctx, store, "s1", testOrigin(), 4000, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.False(t, restored)

	first.Rename("  Ann  ")
	first.Hide("zzz")
	require.True(t, first.Dirty())
	require.NoError(t, first.Flush(ctx))
	assert.False(t, first.Dirty())

	second, restored, err := OpenIdentity(ctx, store, "s1", testOrigin(), 4000, rand.New(rand.NewSource(2)))
	require.NoError(t, err)
	assert.True(t, restored)
	assert.Equal(t, first.ID(), second.ID())
	assert.Equal(t, "Ann", second.Attributes().Name)
	assert.True(t, second.IsHidden("zzz"))
}

func TestIdentityStore_Rename(t *testing.T) {
	s, _, err := OpenIdentity(context.Background(), NewMemoryStore(), "k", testOrigin(), 4000, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	s.Rename(strings.Repeat("é", 40))
	assert.Equal(t, strings.Repeat("é", maxNameLength), s.Attributes().Name)
}

func TestIdentityStore_FeatureCarriesView(t *testing.T) {
	s, _, err := OpenIdentity(context.Background(), NewMemoryStore(), "k", testOrigin(), 4000, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	center := LngLat{Lng: 1, Lat: 2}
	s.SetViewport(center, 16)
	f := s.Feature()
	require.NotNil(t, f.Properties.Center)
	require.NotNil(t, f.Properties.Zoom)
	assert.Equal(t, center, *f.Properties.Center)
	assert.Equal(t, 16.0, *f.Properties.Zoom)
	assert.True(t, s.Viewport().Contains(center))
}

func TestIdentityStore_Reassign(t *testing.T) {
	s, _, err := OpenIdentity(context.Background(), NewMemoryStore(), "k", testOrigin(), 4000, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	assert.False(t, s.Reassign(""))
	assert.False(t, s.Reassign(s.ID()))
	assert.True(t, s.Reassign("server-assigned"))
	assert.Equal(t, "server-assigned", s.ID())
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "session")
	fs := NewFileStore(dir)

	_, err := fs.Load(ctx, "missing")
	assert.True(t, errors.Is(err, ErrIdentityNotFound))

	want := Identity{
		ID:       "0123456789abcdef01234567",
		Color:    "rgba(200,150,180,1.0)",
		Name:     "Ann",
		Position: LngLat{Lng: -104.99, Lat: 39.74},
		Center:   LngLat{Lng: -104.98, Lat: 39.75},
		Zoom:     15,
		Hidden:   []string{"a", "b"},
	}
	require.NoError(t, fs.Save(ctx, "s1", want))

	got, err := fs.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = os.Stat(filepath.Join(dir, "s1.yaml.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("id: [unterminated"), 0o644))

	_, err := NewFileStore(dir).Load(context.Background(), "bad")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrIdentityNotFound))
}

func TestFileStore_RecordWithoutIDIsNotFound(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blank.yaml"), []byte("color: c\nzoom: 14\n"), 0o644))

	_, err := NewFileStore(dir).Load(context.Background(), "blank")
	assert.True(t, errors.Is(err, ErrIdentityNotFound))

	_, err = loaded(Identity{Color: "c"})
	assert.True(t, errors.Is(err, ErrIdentityNotFound))
}

func TestOpenSessionStore_Backends(t *testing.T) {
	ctx := context.Background()

	st, closeFn, err := OpenSessionStore(ctx, SessionConfig{Backend: "memory"})
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &MemoryStore{}, st)

	st, closeFn2, err := OpenSessionStore(ctx, SessionConfig{Backend: "file", Dir: t.TempDir()})
	require.NoError(t, err)
	defer closeFn2()
	assert.IsType(t, &FileStore{}, st)
}

func TestRedisStore_RoundTrip(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL environment variable not set, skipping Redis integration tests")
	}
	ctx := context.Background()
	rs, err := NewRedisStore(ctx, redisURL, time.Minute)
	require.NoError(t, err)
	defer rs.Close()

	key := "test-" + time.Now().Format("150405.000000")
	_, err = rs.Load(ctx, key)
	assert.True(t, errors.Is(err, ErrIdentityNotFound))

	want := Identity{ID: "0123456789abcdef01234567", Color: "c", Zoom: 14, Hidden: []string{"x"}}
	require.NoError(t, rs.Save(ctx, key, want))
	got, err := rs.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	blank := key + "-blank"
	require.NoError(t, rs.client.Set(ctx, sessionKeyPrefix+blank, `{"color":"c","zoom":14}`, time.Minute).Err())
	_, err = rs.Load(ctx, blank)
	assert.True(t, errors.Is(err, ErrIdentityNotFound))
}
