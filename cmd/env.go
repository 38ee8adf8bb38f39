package main

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-enricher/internal/config"
	"github.com/sells-group/lead-enricher/internal/discovery"
	"github.com/sells-group/lead-enricher/internal/enrich"
	"github.com/sells-group/lead-enricher/internal/guard"
	"github.com/sells-group/lead-enricher/internal/insight"
	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/internal/monitoring"
	"github.com/sells-group/lead-enricher/internal/resilience"
	"github.com/sells-group/lead-enricher/internal/retry"
	"github.com/sells-group/lead-enricher/internal/store"
	"github.com/sells-group/lead-enricher/pkg/anthropic"
	"github.com/sells-group/lead-enricher/pkg/identity"
	"github.com/sells-group/lead-enricher/pkg/namesearch"
	"github.com/sells-group/lead-enricher/pkg/phonelookup"
	"github.com/sells-group/lead-enricher/pkg/salesforce"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "leads.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initSalesforce returns nil when no client ID is configured; enrichment then
// runs without publishing.
func initSalesforce() (*salesforce.Publisher, error) {
	if cfg.Salesforce.ClientID == "" {
		zap.L().Warn("LEADS_SALESFORCE_CLIENT_ID not set, crm publishing disabled")
		return nil, nil
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	client, err := salesforce.Connect(salesforce.Config{
		LoginURL:   cfg.Salesforce.LoginURL,
		Username:   cfg.Salesforce.Username,
		ClientID:   cfg.Salesforce.ClientID,
		PrivateKey: string(pemData),
		RateLimit:  cfg.Salesforce.RateLimit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}
	return salesforce.NewPublisher(client, cfg.Salesforce.NoteTitle), nil
}

// enrichEnv holds everything the serve, enrich and retry commands share.
type enrichEnv struct {
	Store        store.Store
	Breakers     *resilience.Breakers
	Guard        *guard.Guard
	Metrics      *monitoring.Metrics
	Alerter      *monitoring.Alerter
	Chain        *discovery.Chain
	Effects      *enrich.Runner
	Orchestrator *enrich.Orchestrator
	Scheduler    *retry.Scheduler
}

// Close drains side effects and releases the store.
func (e *enrichEnv) Close() {
	e.Effects.Close()
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates the config for mode and wires the enrichment core.
// Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*enrichEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env, err := buildEnv(st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return env, nil
}

func buildEnv(st store.Store) (*enrichEnv, error) {
	rc := cfg.Resilience
	breakers := resilience.NewBreakers(resilience.BreakerFromConfig(rc.FailureThreshold, rc.ResetTimeoutSecs))
	pg := &discovery.Guard{
		Breakers: breakers,
		Retry:    resilience.RetryFromConfig(rc.MaxAttempts, rc.InitialBackoffMs, rc.MaxBackoffMs),
	}

	metrics := monitoring.NewMetrics()
	alerter := monitoring.NewAlerter(cfg.Monitoring).WithMetrics(metrics)

	identityClient := identity.NewClient(cfg.Identity.Key, identity.WithBaseURL(cfg.Identity.BaseURL))
	var nameClient namesearch.Client
	if cfg.NameSearch.BaseURL != "" {
		nameClient = namesearch.NewClient(cfg.NameSearch.BaseURL, cfg.NameSearch.Key,
			namesearch.WithIndexes(cfg.NameSearch.PersonsIndex, cfg.NameSearch.CompaniesIndex))
	}

	chain, err := buildChain(pg, identityClient, nameClient, metrics)
	if err != nil {
		return nil, err
	}

	crm, err := initSalesforce()
	if err != nil {
		return nil, err
	}

	ec := cfg.Enrich
	g := guard.New(time.Duration(ec.LockTTLSecs)*time.Second, time.Duration(ec.CooldownMins)*time.Minute)
	metrics.RegisterLocksHeld(g.Held)

	runner := enrich.NewRunner(ec.SideEffectWorkers, ec.SideEffectWorkers*16, 2*time.Minute)
	effects := []enrich.SideEffect{enrich.AlertEffect(alerter)}
	opts := []enrich.Option{
		enrich.WithProfileTimeout(ec.ProfileTimeout()),
		enrich.WithPublishTimeout(time.Duration(ec.PublishTimeoutSecs) * time.Second),
		enrich.WithMetrics(metrics),
	}

	// A nil *Publisher must not become a non-nil interface.
	var publisher enrich.Publisher
	if crm != nil {
		publisher = crm
		if ec.Insight && cfg.Anthropic.Key != "" {
			gen := insight.NewGenerator(anthropic.NewClient(cfg.Anthropic.Key, cfg.Anthropic.BaseURL),
				cfg.Anthropic.Model, cfg.Anthropic.MaxTokens)
			effects = append(effects, insight.InsightEffect(gen, crm))
		}
		if ec.NetworkAnalysis && nameClient != nil {
			effects = append(effects, insight.NetworkEffect(nameClient, crm, 50))
		}
	}
	opts = append(opts, enrich.WithSideEffects(runner, effects...))

	orch := enrich.New(st, chain, identityClient, publisher, g, opts...)

	schedule, err := cfg.Retry.Schedule()
	if err != nil {
		return nil, eris.Wrap(err, "retry schedule")
	}
	sched := retry.NewScheduler(st, orch,
		retry.Policy{MaxRetries: cfg.Retry.MaxRetries, Schedule: schedule},
		retry.WithBatchSize(cfg.Retry.BatchSize),
		retry.WithConcurrency(cfg.Retry.Concurrency),
		retry.WithInterval(time.Duration(cfg.Retry.IntervalSecs)*time.Second),
		retry.WithMetrics(metrics),
		retry.WithFailureHook(func(ctx context.Context, lead model.Lead, reason string) {
			if err := alerter.Notify(ctx, monitoring.LeadFailed(lead.ID, lead.RetryCount+1, reason)); err != nil {
				zap.L().Warn("lead failed alert not sent", zap.String("lead_id", lead.ID), zap.Error(err))
			}
		}),
	)

	zap.L().Info("enrichment core ready",
		zap.Strings("tiers", chain.Tiers()),
		zap.Int("side_effects", len(effects)),
		zap.Bool("crm", crm != nil),
	)

	return &enrichEnv{
		Store:        st,
		Breakers:     breakers,
		Guard:        g,
		Metrics:      metrics,
		Alerter:      alerter,
		Chain:        chain,
		Effects:      runner,
		Orchestrator: orch,
		Scheduler:    sched,
	}, nil
}

// buildChain registers every configured provider and orders them by the
// chain file, or the built-in order when none is set. Tiers whose provider is
// not configured are left out.
func buildChain(pg *discovery.Guard, idc identity.Client, nc namesearch.Client, m *monitoring.Metrics) (*discovery.Chain, error) {
	dc := cfg.Discovery
	reg := discovery.NewRegistry()
	reg.Register(discovery.NewIdentityProvider(idc, pg))
	if nc != nil {
		reg.Register(discovery.NewNameSearchProvider(nc, pg, cfg.NameSearch.Limit))
	}
	for name, pc := range map[string]config.PhoneConfig{
		discovery.ProviderPhoneA: cfg.PhoneA,
		discovery.ProviderPhoneB: cfg.PhoneB,
	} {
		if pc.BaseURL == "" {
			continue
		}
		c := phonelookup.NewClient(name, pc.BaseURL, pc.Key, phonelookup.WithRateLimit(pc.RateLimit))
		reg.Register(discovery.NewPhoneProvider(name, c, pg))
	}

	chainCfg := discovery.DefaultChainConfig(dc.MinNameLength)
	if dc.ChainPath != "" {
		loaded, err := discovery.LoadChainConfig(dc.ChainPath)
		if err != nil {
			return nil, err
		}
		chainCfg = loaded
	}

	kept := chainCfg.Tiers[:0:0]
	for _, tc := range chainCfg.Tiers {
		if reg.Get(tc.Provider) == nil && isKnownProvider(tc.Provider) {
			zap.L().Info("discovery tier not configured, skipping", zap.String("provider", tc.Provider))
			continue
		}
		kept = append(kept, tc)
	}
	chainCfg.Tiers = kept

	tiers, err := chainCfg.Build(reg)
	if err != nil {
		return nil, err
	}

	threshold := dc.NameThreshold
	if chainCfg.Threshold > 0 {
		threshold = chainCfg.Threshold
	}
	return discovery.NewChain(tiers,
		discovery.WithThreshold(threshold),
		discovery.WithProviderTimeout(time.Duration(dc.ProviderTimeoutSecs)*time.Second),
		discovery.WithObserver(m.ProviderObserver()),
	), nil
}

func isKnownProvider(name string) bool {
	switch name {
	case discovery.ProviderIdentity, discovery.ProviderNameSearch, discovery.ProviderPhoneA, discovery.ProviderPhoneB:
		return true
	}
	return false
}
