// Package discovery resolves a lead's tax identifier by walking an ordered
// chain of identity providers.
package discovery

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-enricher/internal/model"
)

// ErrUnavailable marks a provider transport or service failure. The chain
// skips the provider and continues.
var ErrUnavailable = eris.New("discovery: provider unavailable")

// Query carries the lead-supplied inputs a provider may search by.
type Query struct {
	Phone string
	Email string
	Name  string
}

// Kind tags the outcome of one provider lookup.
type Kind int

const (
	// NotFound means the provider ran and had nothing.
	NotFound Kind = iota
	// Matched means the provider returned at least one candidate.
	Matched
	// Unavailable means the provider failed or its circuit is open.
	Unavailable
	// Timeout means the provider did not answer within its deadline.
	Timeout
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Matched:
		return "matched"
	case Unavailable:
		return "unavailable"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Result is the tagged outcome of a lookup. Candidates is set only for
// Matched; Err only for Unavailable and Timeout.
type Result struct {
	Kind       Kind
	Candidates []model.Candidate
	Err        error
}

// Found builds a Matched result, or NotFound when cands is empty.
func Found(cands ...model.Candidate) Result {
	if len(cands) == 0 {
		return Result{Kind: NotFound}
	}
	return Result{Kind: Matched, Candidates: cands}
}

// Missing builds a NotFound result.
func Missing() Result { return Result{Kind: NotFound} }

// Failed classifies err into Timeout or Unavailable.
func Failed(err error) Result {
	if eris.Is(err, context.DeadlineExceeded) {
		return Result{Kind: Timeout, Err: err}
	}
	return Result{Kind: Unavailable, Err: err}
}

// Provider is one tier of the discovery chain.
type Provider interface {
	// Name identifies the provider in config, logs and metrics.
	Name() string
	// Supports reports whether q carries the input this provider needs.
	Supports(q Query) bool
	// Lookup searches for candidates. It never panics on provider failure;
	// failures come back as Unavailable or Timeout.
	Lookup(ctx context.Context, q Query) Result
}

// Registry holds the providers available to build a chain from.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds p, replacing any provider with the same name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the named provider or nil.
func (r *Registry) Get(name string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[name]
}

// List returns registered provider names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
