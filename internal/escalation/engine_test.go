package escalation

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mikey/mailguard/internal/adapters/cache"
	"github.com/mikey/mailguard/internal/adapters/store"
	"github.com/mikey/mailguard/internal/cachesync"
	"github.com/mikey/mailguard/internal/core"
	"github.com/mikey/mailguard/internal/trustlist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	engine     *Engine
	repo       *store.MemoryStore
	cache      *cache.MemoryCache
	dispatcher *cachesync.Dispatcher
	tenant     *core.Tenant
}

func newFixture(t *testing.T, cfg Config) *fixture {
	repo := store.NewMemoryStore()
	tenant, err := repo.AddTenant(context.Background(), "tenant1", "tenant1.com")
	require.NoError(t, err)

	c := cache.NewMemoryCache(zap.NewNop(), 0)
	projector := cachesync.NewProjector(c, repo, cachesync.Options{TTL: time.Hour}, zap.NewNop())
	dispatcher := cachesync.NewDispatcher(2, 64, time.Second, cachesync.LogErrors(zap.NewNop()))
	t.Cleanup(func() {
		dispatcher.Stop()
		c.Stop()
	})

	trust := trustlist.NewService(repo, projector, dispatcher, zap.NewNop())
	return &fixture{
		engine:     NewEngine(trust, repo, repo, cfg, zap.NewNop()),
		repo:       repo,
		cache:      c,
		dispatcher: dispatcher,
		tenant:     tenant,
	}
}

func defaultConfig() Config {
	return Config{
		AutoDenyScore:           15,
		AIConfidenceThreshold:   0.7,
		RepeatOffenderThreshold: 5,
		VirusSymbols:            []string{"VIRUS", "MALWARE", "CLAM_"},
	}
}

func confidence(c float64) *float64 { return &c }

func TestConcreteScoreScenario(t *testing.T) {
	cfg := defaultConfig()
	cfg.AutoDenyScore = 20
	f := newFixture(t, cfg)
	ctx := context.Background()

	verdict := &Verdict{
		Sender:          "x@evil.com",
		SenderDomain:    "evil.com",
		Score:           25,
		Action:          "reject",
		Symbols:         []string{},
		RecipientDomain: "tenant1.com",
	}

	d, err := f.engine.Evaluate(ctx, verdict)
	require.NoError(t, err)
	assert.Equal(t, ActionBlacklisted, d.Action)
	assert.Equal(t, core.EntryDomain, d.Type)
	assert.Equal(t, "evil.com", d.Value)
	assert.Equal(t, "High spam score (25)", d.Reason)
	assert.Equal(t, core.SourceAutoRspamd, d.Source)
	assert.Equal(t, int64(1), d.Entry.HitCount)

	d, err = f.engine.Evaluate(ctx, verdict)
	require.NoError(t, err)
	assert.Equal(t, int64(2), d.Entry.HitCount)

	entries, total, err := f.repo.List(ctx, core.TrustQuery{List: core.DenyList, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, int64(2), entries[0].HitCount)

	// The out-of-band tenant resync leaves the entry projected
	f.dispatcher.Wait()
	v, err := f.cache.Get(ctx, "deny:global:domain:evil.com")
	require.NoError(t, err)
	assert.Equal(t, "1", v)
}

func TestPrecedence(t *testing.T) {
	base := Verdict{
		Sender:          "Boss <ceo@phish.example>",
		SenderDomain:    "phish.example",
		IP:              "203.0.113.9",
		Action:          "reject",
		RecipientDomain: "tenant1.com",
	}

	tests := []struct {
		name   string
		modify func(v *Verdict)
		typ    core.EntryType
		value  string
		source core.Source
		reason string
	}{
		{
			name: "virus beats phishing and score",
			modify: func(v *Verdict) {
				v.Symbols = []string{"BAYES_SPAM", "CLAM_VIRUS_FAIL"}
				v.AILabel = "phishing"
				v.AIConfidence = confidence(0.99)
				v.Score = 50
			},
			typ: core.EntryIP, value: "203.0.113.9", source: core.SourceAutoVirus, reason: "virus detected",
		},
		{
			name: "phishing beats score",
			modify: func(v *Verdict) {
				v.AILabel = "Phishing"
				v.AIConfidence = confidence(0.83)
				v.Score = 50
			},
			typ: core.EntryDomain, value: "phish.example", source: core.SourceAutoAI, reason: "AI phishing detection (83% confidence)",
		},
		{
			name: "low phishing confidence falls through to score",
			modify: func(v *Verdict) {
				v.AILabel = "phishing"
				v.AIConfidence = confidence(0.5)
				v.Score = 15.5
			},
			typ: core.EntryDomain, value: "phish.example", source: core.SourceAutoRspamd, reason: "High spam score (15.5)",
		},
		{
			name: "virus without a client ip falls through",
			modify: func(v *Verdict) {
				v.IP = ""
				v.Symbols = []string{"MALWARE_ATTACHMENT"}
				v.Score = 30
			},
			typ: core.EntryDomain, value: "phish.example", source: core.SourceAutoRspamd, reason: "High spam score (30)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, defaultConfig())
			v := base
			tt.modify(&v)

			d, err := f.engine.Evaluate(context.Background(), &v)
			require.NoError(t, err)
			assert.Equal(t, ActionBlacklisted, d.Action)
			assert.Equal(t, tt.typ, d.Type)
			assert.Equal(t, tt.value, d.Value)
			assert.Equal(t, tt.source, d.Source)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, f.tenant.ID, d.TenantID)
		})
	}
}

func TestRepeatOffender(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	v := &Verdict{Sender: "X@Evil.com", Score: 3, Action: "reject", RecipientDomain: "tenant1.com"}

	for i := 1; i <= 4; i++ {
		d, err := f.engine.Evaluate(ctx, v)
		require.NoError(t, err)
		assert.Equal(t, ActionTracked, d.Action, "rejection %d", i)
		assert.Equal(t, "x@evil.com", d.Value)
	}

	d, err := f.engine.Evaluate(ctx, v)
	require.NoError(t, err)
	assert.Equal(t, ActionBlacklisted, d.Action)
	assert.Equal(t, core.EntryEmail, d.Type)
	assert.Equal(t, "x@evil.com", d.Value)
	assert.Equal(t, "repeat offender (5 rejections)", d.Reason)
	assert.Equal(t, core.SourceAutoRspamd, d.Source)
}

func TestSkipped(t *testing.T) {
	tests := []struct {
		name    string
		verdict Verdict
	}{
		{"not rejected", Verdict{Sender: "x@evil.com", Score: 40, Action: "add header", RecipientDomain: "tenant1.com"}},
		{"unknown tenant", Verdict{Sender: "x@evil.com", Score: 40, Action: "reject", RecipientDomain: "nobody.example"}},
		{"nothing to track", Verdict{Score: 1, Action: "reject", RecipientDomain: "tenant1.com"}},
		{"not rejected without recipient domain", Verdict{Sender: "x@evil.com", Score: 40, Action: "no action"}},
		{"oversized sender", Verdict{Sender: strings.Repeat("a", 250) + "@evil.com", Score: 1, Action: "reject", RecipientDomain: "tenant1.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, defaultConfig())
			d, err := f.engine.Evaluate(context.Background(), &tt.verdict)
			require.NoError(t, err)
			assert.Equal(t, ActionSkipped, d.Action)
			assert.NotEmpty(t, d.Reason)

			_, total, err := f.repo.List(context.Background(), core.TrustQuery{List: core.DenyList, Limit: 10})
			require.NoError(t, err)
			assert.Zero(t, total)
		})
	}
}

func TestInactiveTenantIsSkipped(t *testing.T) {
	f := newFixture(t, defaultConfig())
	require.NoError(t, f.repo.SetTenantActive(context.Background(), f.tenant.ID, false))

	d, err := f.engine.Evaluate(context.Background(), &Verdict{Sender: "x@evil.com", Score: 40, Action: "reject", RecipientDomain: "tenant1.com"})
	require.NoError(t, err)
	assert.Equal(t, ActionSkipped, d.Action)
}

func TestTenantFallback(t *testing.T) {
	cfg := defaultConfig()
	cfg.TenantFallback = true
	f := newFixture(t, cfg)

	d, err := f.engine.Evaluate(context.Background(), &Verdict{
		Sender: "x@evil.com", Score: 40, Action: "reject", RecipientDomain: "unknown.example",
	})
	require.NoError(t, err)
	assert.Equal(t, ActionBlacklisted, d.Action)
	assert.Equal(t, f.tenant.ID, d.TenantID)
}

func TestValidation(t *testing.T) {
	f := newFixture(t, defaultConfig())

	tests := []struct {
		name    string
		verdict Verdict
		field   string
	}{
		{"missing action", Verdict{RecipientDomain: "tenant1.com"}, "action"},
		{"missing recipient domain", Verdict{Action: "reject"}, "recipient_domain"},
		{"confidence out of range", Verdict{Action: "reject", RecipientDomain: "tenant1.com", AIConfidence: confidence(1.5)}, "ai_confidence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Evaluate(context.Background(), &tt.verdict)
			var verr *core.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestEvaluateClassification(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	d, err := f.engine.EvaluateClassification(ctx, f.tenant.ID, "a@legit.example", &core.Classification{Label: "ham", Confidence: 0.95})
	require.NoError(t, err)
	assert.Equal(t, ActionSkipped, d.Action)

	d, err = f.engine.EvaluateClassification(ctx, f.tenant.ID, "a@phish.example", &core.Classification{Label: "phishing", Confidence: 0.6})
	require.NoError(t, err)
	assert.Equal(t, ActionSkipped, d.Action)

	d, err = f.engine.EvaluateClassification(ctx, f.tenant.ID, "a@phish.example", &core.Classification{Label: "phishing", Confidence: 0.9})
	require.NoError(t, err)
	assert.Equal(t, ActionBlacklisted, d.Action)
	assert.Equal(t, "phish.example", d.Value)
	assert.Equal(t, "AI phishing detection (90% confidence)", d.Reason)
	assert.Equal(t, core.SourceAutoAI, d.Source)
}
