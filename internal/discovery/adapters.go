package discovery

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/internal/resilience"
	"github.com/sells-group/lead-enricher/pkg/identity"
	"github.com/sells-group/lead-enricher/pkg/namesearch"
	"github.com/sells-group/lead-enricher/pkg/phonelookup"
)

// Guard wraps provider calls with a breaker and inline retry.
type Guard struct {
	Breakers *resilience.Breakers
	Retry    resilience.RetryConfig
}

func guarded[T any](ctx context.Context, g *Guard, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	if g == nil || g.Breakers == nil {
		return fn(ctx)
	}
	cfg := g.Retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger(name, "lookup")
	}
	return resilience.Guarded(ctx, g.Breakers.Get(name), cfg, fn)
}

// classify turns a client error into a failed Result.
func classify(name string, err error) Result {
	if eris.Is(err, context.DeadlineExceeded) {
		return Result{Kind: Timeout, Err: eris.Wrapf(err, "discovery: %s", name)}
	}
	return Result{Kind: Unavailable, Err: eris.Wrapf(ErrUnavailable, "%s: %v", name, err)}
}

// IdentityProvider adapts the tier-1 identity client: phone to candidates.
type IdentityProvider struct {
	client identity.Client
	guard  *Guard
}

// NewIdentityProvider creates the identity tier.
func NewIdentityProvider(c identity.Client, g *Guard) *IdentityProvider {
	return &IdentityProvider{client: c, guard: g}
}

// Name implements Provider.
func (p *IdentityProvider) Name() string { return ProviderIdentity }

// Supports implements Provider.
func (p *IdentityProvider) Supports(q Query) bool { return digits(q.Phone) != "" }

// Lookup implements Provider.
func (p *IdentityProvider) Lookup(ctx context.Context, q Query) Result {
	people, err := guarded(ctx, p.guard, ProviderIdentity, func(ctx context.Context) ([]identity.Person, error) {
		return p.client.FetchByPhone(ctx, digits(q.Phone))
	})
	if err != nil {
		return classify(ProviderIdentity, err)
	}
	cands := make([]model.Candidate, 0, len(people))
	for _, person := range people {
		cands = append(cands, model.Candidate{TaxID: person.TaxID, Name: person.Name})
	}
	return Found(cands...)
}

// NameSearchProvider adapts the name search index: name to candidates.
type NameSearchProvider struct {
	client namesearch.Client
	guard  *Guard
	limit  int
}

// NewNameSearchProvider creates the name search tier. limit caps the hits
// scored per lookup.
func NewNameSearchProvider(c namesearch.Client, g *Guard, limit int) *NameSearchProvider {
	if limit <= 0 {
		limit = 10
	}
	return &NameSearchProvider{client: c, guard: g, limit: limit}
}

// Name implements Provider.
func (p *NameSearchProvider) Name() string { return ProviderNameSearch }

// Supports implements Provider.
func (p *NameSearchProvider) Supports(q Query) bool { return strings.TrimSpace(q.Name) != "" }

// Lookup implements Provider.
func (p *NameSearchProvider) Lookup(ctx context.Context, q Query) Result {
	hits, err := guarded(ctx, p.guard, ProviderNameSearch, func(ctx context.Context) ([]namesearch.Person, error) {
		return p.client.SearchByName(ctx, q.Name, p.limit)
	})
	if err != nil {
		return classify(ProviderNameSearch, err)
	}
	cands := make([]model.Candidate, 0, len(hits))
	for _, h := range hits {
		cands = append(cands, model.Candidate{TaxID: h.TaxID, Name: h.Name})
	}
	return Found(cands...)
}

// PhoneProvider adapts a secondary phone lookup vendor.
type PhoneProvider struct {
	name   string
	client phonelookup.Client
	guard  *Guard
}

// NewPhoneProvider creates a secondary phone tier registered under name.
func NewPhoneProvider(name string, c phonelookup.Client, g *Guard) *PhoneProvider {
	return &PhoneProvider{name: name, client: c, guard: g}
}

// Name implements Provider.
func (p *PhoneProvider) Name() string { return p.name }

// Supports implements Provider.
func (p *PhoneProvider) Supports(q Query) bool { return digits(q.Phone) != "" }

// Lookup implements Provider.
func (p *PhoneProvider) Lookup(ctx context.Context, q Query) Result {
	m, err := guarded(ctx, p.guard, p.name, func(ctx context.Context) (*phonelookup.Match, error) {
		return p.client.FindByPhone(ctx, digits(q.Phone))
	})
	if err != nil {
		return classify(p.name, err)
	}
	if m == nil {
		return Missing()
	}
	return Found(model.Candidate{TaxID: m.TaxID, Name: m.Name})
}

// digits keeps only 0-9 from a phone number.
func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
