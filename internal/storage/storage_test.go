package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(client, "test"), mr
}

func backends(t *testing.T) map[string]Store {
	r, _ := setupTestRedis(t)

	sq, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })

	return map[string]Store{
		"memory": NewMemory(),
		"redis":  r,
		"sqlite": sq,
	}
}

func TestStore_SetGetRemove(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, found, err := s.Get(ctx, "token")
			require.NoError(t, err)
			assert.False(t, found)

			require.NoError(t, s.Set(ctx, "token", "abc"))
			v, found, err := s.Get(ctx, "token")
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "abc", v)

			require.NoError(t, s.Set(ctx, "token", "def"))
			v, _, err = s.Get(ctx, "token")
			require.NoError(t, err)
			assert.Equal(t, "def", v)

			require.NoError(t, s.Remove(ctx, "token"))
			_, found, err = s.Get(ctx, "token")
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestStore_RemoveMissingKey(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, s.Remove(context.Background(), "nonexistent"))
		})
	}
}

func TestStore_EmptyValueIsFound(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Set(ctx, "user", ""))
			v, found, err := s.Get(ctx, "user")
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "", v)
		})
	}
}

func TestRedis_KeyPrefix(t *testing.T) {
	r, mr := setupTestRedis(t)
	require.NoError(t, r.Set(context.Background(), "token", "abc"))

	assert.True(t, mr.Exists("test:token"))
	got, err := mr.Get("test:token")
	require.NoError(t, err)
	assert.Equal(t, "abc", got)
	assert.Equal(t, "test:token", r.key("token"))
}

func TestRedis_NoExpiry(t *testing.T) {
	r, mr := setupTestRedis(t)
	require.NoError(t, r.Set(context.Background(), "token", "abc"))
	assert.Zero(t, mr.TTL("test:token"))
}

func TestRedis_ServerDown(t *testing.T) {
	r, mr := setupTestRedis(t)
	mr.Close()

	_, _, err := r.Get(context.Background(), "token")
	require.ErrorContains(t, err, "redis get failed")
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	first, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "token", "abc"))
	require.NoError(t, first.Close())

	second, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer second.Close()

	v, found, err := second.Get(ctx, "token")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "abc", v)
}

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	s, err := Open(ctx, Options{})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = Open(ctx, Options{Backend: BackendRedis, RedisAddr: mr.Addr()})
	require.NoError(t, err)
	assert.IsType(t, &Redis{}, s)
	require.NoError(t, s.Close())

	s, err = Open(ctx, Options{Backend: BackendSQLite, SQLitePath: ":memory:"})
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, Options{Backend: "etcd"})
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestDialRedis_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := DialRedis(context.Background(), addr, "", 0, "")
	require.ErrorContains(t, err, "redis ping failed")
}
