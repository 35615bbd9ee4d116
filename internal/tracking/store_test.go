package tracking

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, KeySessionID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, KeySessionID, "first"))
	require.NoError(t, s.Set(ctx, KeySessionID, "second"))
	v, ok, err := s.Get(ctx, KeySessionID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "second", v)

	require.NoError(t, s.Remove(ctx, KeySessionID))
	require.NoError(t, s.Remove(ctx, KeySessionID))
	_, ok, err = s.Get(ctx, KeySessionID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	exerciseStore(t, mustFileStore(t, filepath.Join(t.TempDir(), "state.json")))
}

func mustFileStore(t *testing.T, path string) *FileStore {
	t.Helper()
	s, err := OpenFileStore(path)
	require.NoError(t, err)
	return s
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	s := mustFileStore(t, path)
	require.NoError(t, s.Set(ctx, KeySessionID, "abc"))
	require.NoError(t, s.Set(ctx, KeyWatchSessionID, "w-1"))
	require.NoError(t, s.Remove(ctx, KeyWatchSessionID))

	reopened := mustFileStore(t, path)
	v, ok, _ := reopened.Get(ctx, KeySessionID)
	assert.True(t, ok)
	assert.Equal(t, "abc", v)
	_, ok, _ = reopened.Get(ctx, KeyWatchSessionID)
	assert.False(t, ok)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := OpenFileStore(path)
	assert.Error(t, err)
}

func TestFileStore_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	s := mustFileStore(t, path)
	_, ok, _ := s.Get(context.Background(), KeyAuth)
	assert.False(t, ok)
}

func newMiniredisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore(t *testing.T) {
	_, client := newMiniredisClient(t)
	exerciseStore(t, NewRedisStore(client, "player-1"))
}

func TestRedisStore_Prefix(t *testing.T) {
	mr, client := newMiniredisClient(t)
	ctx := context.Background()

	a := NewRedisStore(client, "player-a")
	b := NewRedisStore(client, "player-b")
	require.NoError(t, a.Set(ctx, KeySessionID, "A"))
	require.NoError(t, b.Set(ctx, KeySessionID, "B"))

	got, err := mr.Get("player-a:sessionId")
	require.NoError(t, err)
	assert.Equal(t, "A", got)

	v, ok, err := b.Get(ctx, KeySessionID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "B", v)
}

func TestRedisStore_Unreachable(t *testing.T) {
	mr, client := newMiniredisClient(t)
	mr.Close()

	_, _, err := NewRedisStore(client, "").Get(context.Background(), KeyAuth)
	assert.Error(t, err)
}
