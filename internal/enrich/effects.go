package enrich

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-enricher/internal/discovery"
	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/internal/monitoring"
)

// Enriched is what a completed pass hands to its side effects.
type Enriched struct {
	Lead      model.Lead
	PartyID   string
	CRMRef    string
	Profile   model.Profile
	Discovery discovery.DiscoveryResult
}

// SideEffect is a detached follow-up to a completed enrichment. Its error is
// logged and never reaches the lead.
type SideEffect struct {
	Name string
	Run  func(ctx context.Context, e Enriched) error
}

// AlertEffect sends a high-value alert when the profile clears the
// alerter's thresholds.
func AlertEffect(a *monitoring.Alerter) SideEffect {
	return SideEffect{
		Name: "alert",
		Run: func(ctx context.Context, e Enriched) error {
			alert := a.EvaluateProfile(e.Lead.ID, &e.Profile)
			if alert == nil {
				return nil
			}
			return a.Notify(ctx, *alert)
		},
	}
}

type task struct {
	name string
	fn   func(ctx context.Context) error
}

// Runner executes side effects on a fixed pool of workers.
type Runner struct {
	tasks   chan task
	timeout time.Duration
	g       errgroup.Group

	mu     sync.RWMutex
	closed bool
}

// NewRunner starts workers draining a queue of the given size. Each task
// runs under its own timeout.
func NewRunner(workers, queue int, timeout time.Duration) *Runner {
	if workers <= 0 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	r := &Runner{
		tasks:   make(chan task, queue),
		timeout: timeout,
	}
	for range workers {
		r.g.Go(func() error {
			for t := range r.tasks {
				r.run(t)
			}
			return nil
		})
	}
	return r
}

// Submit queues fn. It returns false when the runner is closed or the queue
// is full; the task is dropped in both cases.
func (r *Runner) Submit(name string, fn func(ctx context.Context) error) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	select {
	case r.tasks <- task{name: name, fn: fn}:
		return true
	default:
		zap.L().Warn("enrich: side effect queue full, dropping", zap.String("effect", name))
		return false
	}
}

// Close stops accepting tasks and waits for queued ones to finish.
func (r *Runner) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.tasks)
	}
	r.mu.Unlock()
	_ = r.g.Wait()
}

func (r *Runner) run(t task) {
	ctx := context.Background()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	log := zap.L().With(zap.String("effect", t.name))
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("enrich: side effect panicked", zap.String("panic", fmt.Sprint(rec)))
		}
	}()
	if err := t.fn(ctx); err != nil {
		log.Warn("enrich: side effect failed", zap.Error(err))
		return
	}
	log.Debug("enrich: side effect done")
}
