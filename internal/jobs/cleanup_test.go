package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mikey/mailguard/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDeny struct {
	calls   atomic.Int32
	cutoff  time.Time
	minHits int64
}

func (f *fakeDeny) PurgeStaleDenies(_ context.Context, cutoff time.Time, minHits int64) ([]*core.TrustEntry, error) {
	f.calls.Add(1)
	f.cutoff, f.minHits = cutoff, minHits
	return []*core.TrustEntry{{ID: 1, List: core.DenyList}}, nil
}

type fakeQuarantine struct {
	calls atomic.Int32
}

func (f *fakeQuarantine) PurgeExpired(context.Context) (int64, error) {
	f.calls.Add(1)
	return 2, nil
}

func TestPurgeDenyCutoff(t *testing.T) {
	deny := &fakeDeny{}
	c := NewCleaner(deny, &fakeQuarantine{}, Config{}, zap.NewNop())
	now := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	purged, err := c.PurgeDeny(context.Background())
	require.NoError(t, err)
	assert.Len(t, purged, 1)
	assert.Equal(t, now.Add(-30*24*time.Hour), deny.cutoff)
	assert.Equal(t, int64(3), deny.minHits)
}

func TestPurgeQuarantine(t *testing.T) {
	q := &fakeQuarantine{}
	c := NewCleaner(&fakeDeny{}, q, Config{}, zap.NewNop())

	n, err := c.PurgeQuarantine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, int32(1), q.calls.Load())
}

func TestScheduledJobs(t *testing.T) {
	deny, q := &fakeDeny{}, &fakeQuarantine{}
	c := NewCleaner(deny, q, Config{
		DenyInterval:       10 * time.Millisecond,
		QuarantineInterval: 10 * time.Millisecond,
	}, zap.NewNop())

	c.Start()
	assert.Eventually(t, func() bool {
		return deny.calls.Load() >= 2 && q.calls.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	c.Stop()
	after := deny.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, deny.calls.Load(), "no purge runs after Stop")
	c.Stop()
}

func TestZeroIntervalDisablesTicker(t *testing.T) {
	deny := &fakeDeny{}
	c := NewCleaner(deny, &fakeQuarantine{}, Config{}, zap.NewNop())

	c.Start()
	time.Sleep(20 * time.Millisecond)
	c.Stop()
	assert.Zero(t, deny.calls.Load())
}
