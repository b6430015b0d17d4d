package factory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mikey/mailguard/internal/adapters/cache"
	"github.com/mikey/mailguard/internal/config"
	"github.com/mikey/mailguard/internal/core"
	"github.com/mikey/mailguard/internal/textutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(settings map[string]any) *config.Config {
	v := config.NewEmptyViper()
	for k, val := range settings {
		v.Set(k, val)
	}
	return config.NewFromViper(v)
}

func TestCreateStores(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		stores, err := NewStoreFactory(testConfig(map[string]any{"store.type": "memory"}), zap.NewNop()).CreateStores()
		require.NoError(t, err)
		assert.NoError(t, stores.Ping(ctx))
		assert.NoError(t, stores.Close())
	})

	t.Run("sqlite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "mailguard.db")
		stores, err := NewStoreFactory(testConfig(map[string]any{
			"store.type":        "sqlite",
			"store.sqlite_path": path,
		}), zap.NewNop()).CreateStores()
		require.NoError(t, err)
		defer stores.Close()

		assert.NoError(t, stores.Ping(ctx))
		_, err = stores.Trust.Upsert(ctx, &core.TrustEntry{
			List: core.DenyList, TenantID: 1, Type: core.EntryDomain, Value: "spam.example", Source: core.SourceManual,
		})
		assert.NoError(t, err)
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := NewStoreFactory(testConfig(map[string]any{"store.type": "postgres"}), zap.NewNop()).CreateStores()
		assert.ErrorContains(t, err, "unsupported store type")
	})
}

func TestCreateCacheStore(t *testing.T) {
	backend, err := NewCacheFactory(testConfig(map[string]any{"cache.type": "memory"}), zap.NewNop()).
		CreateCacheStore(context.Background())
	require.NoError(t, err)
	defer backend.Stop()
	assert.IsType(t, &cache.MemoryCache{}, backend)

	_, err = NewCacheFactory(testConfig(map[string]any{"cache.type": "memcached"}), zap.NewNop()).
		CreateCacheStore(context.Background())
	assert.ErrorContains(t, err, "unsupported cache type")
}

func TestCreateClassifier(t *testing.T) {
	newFactory := func(settings map[string]any) *ClassifierFactory {
		logger := zap.NewNop()
		return NewClassifierFactory(testConfig(settings), logger, textutil.NewTextProcessor(logger))
	}

	c, err := newFactory(nil).CreateClassifier(context.Background())
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = newFactory(map[string]any{"classifier.provider": "openai", "openai.api_key": "sk-test"}).
		CreateClassifier(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, c)

	_, err = newFactory(map[string]any{"classifier.provider": "openai"}).CreateClassifier(context.Background())
	assert.ErrorContains(t, err, "api_key")

	_, err = newFactory(map[string]any{"classifier.provider": "watson"}).CreateClassifier(context.Background())
	assert.ErrorContains(t, err, "unsupported classifier provider")
}

func TestCreateRelay(t *testing.T) {
	r, err := NewRelayFactory(testConfig(nil), zap.NewNop()).CreateRelay()
	require.NoError(t, err)
	assert.NotNil(t, r)

	_, err = NewRelayFactory(testConfig(map[string]any{"relay.timeout": "later"}), zap.NewNop()).CreateRelay()
	assert.Error(t, err)
}
