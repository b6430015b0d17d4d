package quarantine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mikey/mailguard/internal/adapters/cache"
	"github.com/mikey/mailguard/internal/adapters/store"
	"github.com/mikey/mailguard/internal/cachesync"
	"github.com/mikey/mailguard/internal/core"
	"github.com/mikey/mailguard/internal/escalation"
	"github.com/mikey/mailguard/internal/trustlist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRelay struct {
	mu        sync.Mutex
	failFrom  map[string]bool
	delivered []*core.Envelope
}

func (r *fakeRelay) Deliver(ctx context.Context, env *core.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failFrom[env.From] {
		return errors.New("451 try again later")
	}
	r.delivered = append(r.delivered, env)
	return nil
}

func (r *fakeRelay) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.delivered)
}

// stallingRelay never answers and returns once the delivery context ends
type stallingRelay struct {
	calls int32
}

func (r *stallingRelay) Deliver(ctx context.Context, env *core.Envelope) error {
	atomic.AddInt32(&r.calls, 1)
	<-ctx.Done()
	return ctx.Err()
}

type fakeClassifier struct {
	cls *core.Classification
}

func (c *fakeClassifier) Classify(ctx context.Context, email *core.Email) (*core.Classification, error) {
	return c.cls, nil
}

type fixture struct {
	manager    *Manager
	repo       *store.MemoryStore
	relay      *fakeRelay
	trust      *trustlist.Service
	dispatcher *cachesync.Dispatcher
	tenant     *core.Tenant
}

func newFixture(t *testing.T, classifier core.Classifier) *fixture {
	repo := store.NewMemoryStore()
	tenant, err := repo.AddTenant(context.Background(), "acme", "acme.example")
	require.NoError(t, err)

	c := cache.NewMemoryCache(zap.NewNop(), 0)
	projector := cachesync.NewProjector(c, repo, cachesync.Options{}, zap.NewNop())
	dispatcher := cachesync.NewDispatcher(2, 64, time.Second, nil)
	t.Cleanup(func() {
		dispatcher.Stop()
		c.Stop()
	})

	trust := trustlist.NewService(repo, projector, dispatcher, zap.NewNop())
	engine := escalation.NewEngine(trust, repo, repo, escalation.Config{AutoDenyScore: 15}, zap.NewNop())
	relay := &fakeRelay{failFrom: map[string]bool{"bounce@flaky.example": true}}

	return &fixture{
		manager:    NewManager(store.NewMemoryQuarantine(), trust, repo, relay, classifier, engine, Config{RelayTimeout: time.Second}, zap.NewNop()),
		repo:       repo,
		relay:      relay,
		trust:      trust,
		dispatcher: dispatcher,
		tenant:     tenant,
	}
}

func rawMessage(from, subject string) string {
	return fmt.Sprintf("From: Sender <%s>\r\nTo: user@acme.example\r\nSubject: %s\r\nMessage-Id: <%s@mx.example>\r\n"+
		"Content-Type: text/plain\r\n\r\nHello there\r\n", from, subject, subject)
}

func (f *fixture) ingest(t *testing.T, from string) *core.QuarantinedMessage {
	t.Helper()
	msg, err := f.manager.Ingest(context.Background(), &IngestRequest{
		Raw:       rawMessage(from, "offer"),
		Reason:    "spam score 9",
		SpamScore: 9,
	})
	require.NoError(t, err)
	return msg
}

func (f *fixture) listed(t *testing.T, list core.ListKind, value string) bool {
	t.Helper()
	found, err := f.trust.Exists(context.Background(), list, trustlist.Key{TenantID: f.tenant.ID, Type: core.EntryEmail, Value: value})
	require.NoError(t, err)
	return found
}

func TestIngest(t *testing.T) {
	f := newFixture(t, nil)

	msg := f.ingest(t, "Promo@Shop.example")
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, f.tenant.ID, msg.TenantID)
	assert.Equal(t, "promo@shop.example", msg.FromAddress)
	assert.Equal(t, "user@acme.example", msg.ToAddress)
	assert.Equal(t, "offer", msg.Subject)
	assert.Equal(t, "offer@mx.example", msg.MessageID)
	assert.Equal(t, core.StatusQuarantined, msg.Status)
	assert.Equal(t, []string{"offer"}, msg.Headers["Subject"])
	assert.Equal(t, 30*24*time.Hour, msg.ExpiresAt.Sub(msg.CreatedAt))

	_, err := f.manager.Ingest(context.Background(), &IngestRequest{Raw: rawMessage("a@b.example", "x"), To: []string{"someone@unknown.example"}})
	var nerr *core.NotFoundError
	assert.ErrorAs(t, err, &nerr)

	_, err = f.manager.Ingest(context.Background(), &IngestRequest{})
	var verr *core.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestReleaseStateMachine(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	msg := f.ingest(t, "promo@shop.example")

	released, err := f.manager.Release(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusReleased, released.Status)
	assert.NotNil(t, released.ReleasedAt)
	assert.Equal(t, 1, f.relay.count())
	assert.Equal(t, []string{"user@acme.example"}, f.relay.delivered[0].To)

	_, err = f.manager.Release(ctx, msg.ID)
	var cerr *core.ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 1, f.relay.count(), "terminal message must not be delivered again")

	for _, op := range []func(context.Context, string) (*core.QuarantinedMessage, error){
		f.manager.Reject, f.manager.Delete, f.manager.Approve,
	} {
		_, err := op(ctx, msg.ID)
		assert.ErrorIs(t, err, core.ErrConflict)
	}

	_, err = f.manager.Release(ctx, "missing")
	var nerr *core.NotFoundError
	assert.ErrorAs(t, err, &nerr)
}

func TestReleaseDeliveryFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	msg := f.ingest(t, "bounce@flaky.example")

	_, err := f.manager.Release(ctx, msg.ID)
	var derr *core.DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.Contains(t, err.Error(), "remains quarantined")

	got, err := f.manager.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusQuarantined, got.Status)
	assert.Nil(t, got.ReleasedAt)
}

func TestApprove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.trust.Upsert(ctx, core.DenyList, trustlist.Key{TenantID: f.tenant.ID, Type: core.EntryEmail, Value: "friend@partner.example"}, "", core.SourceAutoRspamd)
	require.NoError(t, err)

	first := f.ingest(t, "friend@partner.example")
	second := f.ingest(t, "friend@partner.example")

	_, err = f.manager.Approve(ctx, first.ID)
	require.NoError(t, err)
	_, err = f.manager.Approve(ctx, second.ID)
	require.NoError(t, err)

	assert.True(t, f.listed(t, core.AllowList, "friend@partner.example"))
	assert.False(t, f.listed(t, core.DenyList, "friend@partner.example"))

	entry, err := f.repo.Get(ctx, core.AllowList, f.tenant.ID, core.EntryEmail, "friend@partner.example")
	require.NoError(t, err)
	assert.Equal(t, int64(2), entry.HitCount, "repeated approvals increment instead of duplicating")
	assert.Equal(t, "Approved from quarantine", entry.Comment)
}

func TestApproveDeliveryFailureListsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	msg := f.ingest(t, "bounce@flaky.example")

	_, err := f.manager.Approve(ctx, msg.ID)
	var derr *core.DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.False(t, f.listed(t, core.AllowList, "bounce@flaky.example"))

	got, err := f.manager.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusQuarantined, got.Status)
}

func TestDeliveryTimeoutKeepsMessageQuarantined(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	relay := &stallingRelay{}
	manager := NewManager(store.NewMemoryQuarantine(), f.trust, f.repo, relay, nil, nil,
		Config{RelayTimeout: 50 * time.Millisecond}, zap.NewNop())

	for name, op := range map[string]func(context.Context, string) (*core.QuarantinedMessage, error){
		"release": manager.Release,
		"approve": manager.Approve,
	} {
		t.Run(name, func(t *testing.T) {
			msg, err := manager.Ingest(ctx, &IngestRequest{Raw: rawMessage("slow@relay.example", name), Reason: "spam score 9", SpamScore: 9})
			require.NoError(t, err)

			start := time.Now()
			_, err = op(ctx, msg.ID)
			var derr *core.DeliveryError
			require.ErrorAs(t, err, &derr)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
			assert.Less(t, time.Since(start), 5*time.Second)

			got, err := manager.Get(ctx, msg.ID)
			require.NoError(t, err)
			assert.Equal(t, core.StatusQuarantined, got.Status)
			assert.Nil(t, got.ReleasedAt)
			assert.False(t, f.listed(t, core.AllowList, "slow@relay.example"))
		})
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&relay.calls))
}

func TestReject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.trust.Add(ctx, core.AllowList, trustlist.Key{TenantID: f.tenant.ID, Type: core.EntryEmail, Value: "bounce@flaky.example"}, "")
	require.NoError(t, err)

	// Reject never delivers, so a broken relay does not matter
	msg := f.ingest(t, "bounce@flaky.example")
	reported, err := f.manager.Reject(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusReported, reported.Status)
	assert.NotNil(t, reported.DeletedAt)
	assert.Zero(t, f.relay.count())

	assert.True(t, f.listed(t, core.DenyList, "bounce@flaky.example"))
	assert.False(t, f.listed(t, core.AllowList, "bounce@flaky.example"))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	msg := f.ingest(t, "promo@shop.example")

	deleted, err := f.manager.Delete(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusDeleted, deleted.Status)
	assert.False(t, f.listed(t, core.DenyList, "promo@shop.example"))
	assert.False(t, f.listed(t, core.AllowList, "promo@shop.example"))

	_, err = f.manager.Delete(ctx, msg.ID)
	assert.ErrorIs(t, err, core.ErrConflict)
}

func TestBulkReleasePartialFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	a := f.ingest(t, "a@shop.example")
	b := f.ingest(t, "bounce@flaky.example")
	c := f.ingest(t, "c@shop.example")

	result, err := f.manager.BulkRelease(ctx, []string{a.ID, b.ID, c.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 1, result.ErrorCount)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, b.ID, result.Errors[0].ID)

	for id, want := range map[string]core.QuarantineStatus{
		a.ID: core.StatusReleased,
		b.ID: core.StatusQuarantined,
		c.ID: core.StatusReleased,
	} {
		got, err := f.manager.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status)
	}

	_, err = f.manager.BulkRelease(ctx, nil)
	var verr *core.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestPreviewSanitizesHTML(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	raw := "From: a@shop.example\r\nTo: user@acme.example\r\nSubject: html\r\nMIME-Version: 1.0\r\n" +
		"Content-Type: multipart/alternative; boundary=\"b1\"\r\n\r\n" +
		"--b1\r\nContent-Type: text/plain\r\n\r\nplain part\r\n" +
		"--b1\r\nContent-Type: text/html\r\n\r\n<p onclick=\"steal()\">hi</p><script>alert(1)</script>\r\n" +
		"--b1--\r\n"
	msg, err := f.manager.Ingest(ctx, &IngestRequest{Raw: raw})
	require.NoError(t, err)

	p, err := f.manager.Preview(ctx, msg.ID)
	require.NoError(t, err)
	assert.Contains(t, p.Text, "plain part")
	assert.Contains(t, p.HTML, "hi")
	assert.NotContains(t, p.HTML, "script")
	assert.NotContains(t, p.HTML, "onclick")
}

func TestClassify(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, nil)
	msg := f.ingest(t, "a@phish.example")
	_, err := f.manager.Classify(ctx, msg.ID)
	assert.ErrorIs(t, err, ErrNoClassifier)

	f = newFixture(t, &fakeClassifier{cls: &core.Classification{Label: "phishing", Confidence: 0.92}})
	msg = f.ingest(t, "a@phish.example")
	result, err := f.manager.Classify(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, escalation.ActionBlacklisted, result.Decision.Action)
	assert.Equal(t, "phish.example", result.Decision.Value)

	got, err := f.manager.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusQuarantined, got.Status)
}

func TestPurgeExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	msg := f.ingest(t, "a@shop.example")

	n, err := f.manager.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.manager.now = func() time.Time { return time.Now().UTC().Add(31 * 24 * time.Hour) }
	n, err = f.manager.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = f.manager.Get(ctx, msg.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}
