package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

func TestCaches(t *testing.T) {
	factories := map[string]func(t *testing.T) store{
		"memory": func(t *testing.T) store {
			c := NewMemoryCache(zap.NewNop(), time.Minute)
			t.Cleanup(c.Stop)
			return c
		},
		"redis": func(t *testing.T) store {
			mr := miniredis.RunT(t)
			c, err := NewRedisCache(context.Background(), mr.Addr(), "", 0, zap.NewNop())
			require.NoError(t, err)
			t.Cleanup(c.Stop)
			return c
		},
	}

	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := factory(t)

			_, err := c.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, c.Set(ctx, "deny:tenant:1:domain:spam.example", "1", time.Hour))
			require.NoError(t, c.Set(ctx, "deny:global:domain:spam.example", "1", time.Hour))

			v, err := c.Get(ctx, "deny:tenant:1:domain:spam.example")
			require.NoError(t, err)
			assert.Equal(t, "1", v)

			require.NoError(t, c.Delete(ctx, "deny:tenant:1:domain:spam.example", "deny:global:domain:spam.example"))
			_, err = c.Get(ctx, "deny:global:domain:spam.example")
			assert.ErrorIs(t, err, ErrNotFound)

			assert.NoError(t, c.Delete(ctx))
		})
	}
}

func TestRedisCacheTTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(ctx, mr.Addr(), "", 0, zap.NewNop())
	require.NoError(t, err)
	defer c.Stop()

	require.NoError(t, c.Set(ctx, "allow:tenant:1:email:a@b.example", "1", time.Hour))
	assert.Equal(t, time.Hour, mr.TTL("allow:tenant:1:email:a@b.example"))

	mr.FastForward(2 * time.Hour)
	_, err = c.Get(ctx, "allow:tenant:1:email:a@b.example")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewRedisCacheUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisCache(context.Background(), addr, "", 0, zap.NewNop())
	assert.Error(t, err)
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(zap.NewNop(), 0)
	defer c.Stop()

	require.NoError(t, c.Set(ctx, "gone", "1", -time.Second))
	require.NoError(t, c.Set(ctx, "kept", "1", time.Hour))

	_, err := c.Get(ctx, "gone")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []string{"kept"}, c.Keys())

	ttl, ok := c.TTL("kept")
	assert.True(t, ok)
	assert.InDelta(t, time.Hour.Seconds(), ttl.Seconds(), 5)

	require.NoError(t, c.Cleanup(ctx))
	_, ok = c.TTL("gone")
	assert.False(t, ok)
}
