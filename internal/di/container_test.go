package di

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mikey/mailguard/internal/adapters/cache"
	"github.com/mikey/mailguard/internal/cachesync"
	"github.com/mikey/mailguard/internal/factory"
	"github.com/mikey/mailguard/internal/httpapi"
	"github.com/mikey/mailguard/internal/quarantine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "mailguard.yaml")
	body := "store:\n" +
		"  type: sqlite\n" +
		"  sqlite_path: " + filepath.Join(dir, "mailguard.db") + "\n" +
		"cache:\n" +
		"  type: memory\n" +
		"logging:\n" +
		"  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestBuildContainer(t *testing.T) {
	container, err := BuildContainer(writeConfig(t))
	require.NoError(t, err)

	err = container.Invoke(func(srv *httpapi.Server, dispatcher *cachesync.Dispatcher, backend factory.CacheBackend, stores *factory.Stores) {
		assert.NotNil(t, srv)
		assert.IsType(t, &cache.MemoryCache{}, backend)
		assert.NoError(t, stores.Ping(context.Background()))

		dispatcher.Stop()
		backend.Stop()
		assert.NoError(t, stores.Close())
	})
	require.NoError(t, err)
}

func TestBuildCLIContainer(t *testing.T) {
	container, err := BuildCLIContainer(&CLIFlags{ConfigFile: writeConfig(t)})
	require.NoError(t, err)

	err = container.Invoke(func(manager *quarantine.Manager, dispatcher *cachesync.Dispatcher, stores *factory.Stores) {
		_, err := manager.Classify(context.Background(), "any")
		assert.ErrorIs(t, err, quarantine.ErrNoClassifier)

		dispatcher.Stop()
		assert.NoError(t, stores.Close())
	})
	require.NoError(t, err)
}
