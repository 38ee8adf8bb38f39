package discovery

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-enricher/internal/match"
	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/internal/taxid"
)

// VerifyMode controls when a tier's candidates must pass the name matcher.
type VerifyMode string

const (
	// VerifyNever accepts the first valid candidate as is.
	VerifyNever VerifyMode = "never"
	// VerifyAlways scores every candidate against the lead name.
	VerifyAlways VerifyMode = "always"
	// VerifyAmbiguous scores only when more than one distinct identifier
	// came back.
	VerifyAmbiguous VerifyMode = "ambiguous"
)

// Tier is one position in the chain.
type Tier struct {
	Provider      Provider
	Verify        VerifyMode
	MinNameLength int           // skip the tier when the lead name is shorter
	Timeout       time.Duration // zero uses the chain default
}

// DiscoveryResult is the verified identifier a chain pass settled on.
type DiscoveryResult struct {
	TaxID          string   `json:"tax_id"`
	Tier           int      `json:"tier"` // 1-based chain position
	Source         string   `json:"source"`
	CandidateNames []string `json:"candidate_names,omitempty"`
	Confidence     float64  `json:"confidence"`
	NameVerified   bool     `json:"name_verified"`
}

// Observer receives one call per provider attempt.
type Observer func(provider string, tier int, kind Kind, elapsed time.Duration)

// Chain tries its tiers in order and stops at the first accepted candidate.
type Chain struct {
	tiers     []Tier
	threshold float64
	timeout   time.Duration
	observe   Observer
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithThreshold sets the minimum name score for verified tiers.
func WithThreshold(t float64) ChainOption {
	return func(c *Chain) {
		if t > 0 {
			c.threshold = t
		}
	}
}

// WithProviderTimeout sets the default per-provider deadline.
func WithProviderTimeout(d time.Duration) ChainOption {
	return func(c *Chain) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithObserver registers a callback for every provider attempt.
func WithObserver(o Observer) ChainOption {
	return func(c *Chain) {
		c.observe = o
	}
}

// NewChain builds a chain over tiers in the given order.
func NewChain(tiers []Tier, opts ...ChainOption) *Chain {
	c := &Chain{
		tiers:     tiers,
		threshold: match.DefaultThreshold,
		timeout:   10 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Tiers returns the provider names in chain order.
func (c *Chain) Tiers() []string {
	names := make([]string, len(c.tiers))
	for i, t := range c.tiers {
		names[i] = t.Provider.Name()
	}
	return names
}

// Resolve runs one pass over the chain. It returns nil, nil when every tier
// is exhausted without an accepted candidate. Provider failures are logged
// and skipped; the only error returned is cancellation of ctx.
func (c *Chain) Resolve(ctx context.Context, q Query) (*DiscoveryResult, error) {
	q.Name = strings.TrimSpace(q.Name)

	for i, tier := range c.tiers {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "discovery: resolve")
		}

		pos := i + 1
		name := tier.Provider.Name()
		log := zap.L().With(zap.String("provider", name), zap.Int("tier", pos))

		if !tier.Provider.Supports(q) || utf8.RuneCountInString(q.Name) < tier.MinNameLength {
			log.Debug("discovery: tier skipped, input missing")
			continue
		}

		res, elapsed := c.lookup(ctx, tier, q)
		if c.observe != nil {
			c.observe(name, pos, res.Kind, elapsed)
		}

		switch res.Kind {
		case Unavailable, Timeout:
			log.Warn("discovery: provider failed, continuing",
				zap.Stringer("kind", res.Kind),
				zap.Duration("elapsed", elapsed),
				zap.Error(res.Err),
			)
			continue
		case NotFound:
			log.Debug("discovery: no match")
			continue
		}

		if dr := c.accept(tier, pos, q, res.Candidates, log); dr != nil {
			log.Info("discovery: identifier resolved",
				zap.String("identifier", taxid.Mask(dr.TaxID)),
				zap.Float64("confidence", dr.Confidence),
				zap.Bool("name_verified", dr.NameVerified),
			)
			return dr, nil
		}
	}
	return nil, nil
}

func (c *Chain) lookup(ctx context.Context, tier Tier, q Query) (Result, time.Duration) {
	timeout := tier.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res := tier.Provider.Lookup(pctx, q)
	elapsed := time.Since(start)

	if res.Kind != Matched && res.Kind != Timeout && eris.Is(pctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		res = Result{Kind: Timeout, Err: pctx.Err()}
	}
	return res, elapsed
}

// accept normalizes and validates candidates, then applies the tier's name
// verification. Invalid identifiers are dropped as if never returned.
func (c *Chain) accept(tier Tier, pos int, q Query, cands []model.Candidate, log *zap.Logger) *DiscoveryResult {
	valid := make([]match.Candidate, 0, len(cands))
	seen := make(map[string]bool, len(cands))
	names := make([]string, 0, len(cands))
	for _, cand := range cands {
		id, err := taxid.NormalizeValid(cand.TaxID)
		if err != nil {
			log.Debug("discovery: candidate discarded", zap.String("identifier", taxid.Mask(cand.TaxID)), zap.Error(err))
			continue
		}
		valid = append(valid, match.Candidate{ID: id, Name: cand.Name})
		if cand.Name != "" {
			names = append(names, cand.Name)
		}
		seen[id] = true
	}
	if len(valid) == 0 {
		log.Debug("discovery: no valid candidates")
		return nil
	}

	verify := tier.Verify == VerifyAlways || (tier.Verify == VerifyAmbiguous && len(seen) > 1)
	if !verify {
		return &DiscoveryResult{
			TaxID:          valid[0].ID,
			Tier:           pos,
			Source:         tier.Provider.Name(),
			CandidateNames: names,
			Confidence:     1,
		}
	}

	if q.Name == "" {
		log.Debug("discovery: verification needed but lead has no name")
		return nil
	}
	best, ok := match.Best(valid, q.Name)
	if !ok || best.Score < c.threshold {
		log.Debug("discovery: name below threshold", zap.Float64("score", best.Score), zap.Float64("threshold", c.threshold))
		return nil
	}
	return &DiscoveryResult{
		TaxID:          best.ID,
		Tier:           pos,
		Source:         tier.Provider.Name(),
		CandidateNames: names,
		Confidence:     best.Score,
		NameVerified:   true,
	}
}
