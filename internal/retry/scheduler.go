// Package retry re-runs leads left partial or unenriched, spacing attempts
// by a backoff table and forcing them to failed once attempts run out.
package retry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/internal/monitoring"
	"github.com/sells-group/lead-enricher/internal/resilience"
	"github.com/sells-group/lead-enricher/internal/store"
)

// ErrMaxRetriesExceeded reports that a failed attempt used up the lead's
// retries and the lead was forced to failed.
var ErrMaxRetriesExceeded = eris.New("retry: max retries exceeded")

// Policy bounds automatic attempts.
type Policy struct {
	MaxRetries int
	Schedule   resilience.Schedule
}

// Eligible reports whether lead may be retried at now.
func (p Policy) Eligible(lead model.Lead, now time.Time) bool {
	return lead.Status.Retryable() &&
		lead.RetryCount < p.MaxRetries &&
		p.Schedule.Due(lead.LastRetryAt, lead.RetryCount, now)
}

// BackoffFor returns the wait required after retryCount attempts.
func (p Policy) BackoffFor(retryCount int) time.Duration {
	return p.Schedule.Delay(retryCount)
}

// Processor runs one enrichment pass.
type Processor interface {
	Process(ctx context.Context, leadID string) model.Outcome
}

// FailureHook is told about each lead forced to failed.
type FailureHook func(ctx context.Context, lead model.Lead, reason string)

// Report summarizes one batch.
type Report struct {
	Selected  int `json:"selected"`
	Recovered int `json:"recovered"`
	Requeued  int `json:"requeued"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Scheduler selects due leads and re-runs them through the orchestrator.
type Scheduler struct {
	store       store.Store
	proc        Processor
	policy      Policy
	batchSize   int
	concurrency int
	interval    time.Duration
	now         func() time.Time
	onFailed    FailureHook
	metrics     *monitoring.Metrics
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithBatchSize caps the leads taken per run.
func WithBatchSize(n int) Option { return func(s *Scheduler) { s.batchSize = n } }

// WithConcurrency caps parallel passes per run.
func WithConcurrency(n int) Option { return func(s *Scheduler) { s.concurrency = n } }

// WithInterval sets the period of Run.
func WithInterval(d time.Duration) Option { return func(s *Scheduler) { s.interval = d } }

// WithNow replaces the clock.
func WithNow(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// WithFailureHook registers fn for leads forced to failed.
func WithFailureHook(fn FailureHook) Option { return func(s *Scheduler) { s.onFailed = fn } }

// WithMetrics counts attempts on m.
func WithMetrics(m *monitoring.Metrics) Option { return func(s *Scheduler) { s.metrics = m } }

// NewScheduler creates a Scheduler.
func NewScheduler(st store.Store, proc Processor, policy Policy, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:       st,
		proc:        proc,
		policy:      policy,
		batchSize:   50,
		concurrency: 5,
		interval:    5 * time.Minute,
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.concurrency <= 0 {
		s.concurrency = 1
	}
	return s
}

// RunOnce retries every due lead, up to the batch size.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	now := s.now().UTC()
	leads, err := s.store.SelectRetryable(ctx, store.RetryFilter{
		MaxRetries: s.policy.MaxRetries,
		Schedule:   s.policy.Schedule,
		Now:        now,
		Limit:      s.batchSize,
	})
	if err != nil {
		return Report{}, eris.Wrap(err, "retry: select retryable")
	}

	rep := Report{Selected: len(leads)}
	if len(leads) == 0 {
		zap.L().Debug("retry: nothing due")
		return rep, nil
	}

	var recovered, requeued, failed, skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, lead := range leads {
		if !s.policy.Eligible(lead, now) {
			skipped.Add(1)
			continue
		}
		g.Go(func() error {
			switch s.attempt(gctx, lead) {
			case resultRecovered:
				recovered.Add(1)
			case resultRequeued:
				requeued.Add(1)
			case resultFailed:
				failed.Add(1)
			default:
				skipped.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rep, eris.Wrap(err, "retry: batch")
	}

	rep.Recovered = int(recovered.Load())
	rep.Requeued = int(requeued.Load())
	rep.Failed = int(failed.Load())
	rep.Skipped = int(skipped.Load())
	zap.L().Info("retry: batch complete",
		zap.Int("selected", rep.Selected),
		zap.Int("recovered", rep.Recovered),
		zap.Int("requeued", rep.Requeued),
		zap.Int("failed", rep.Failed),
		zap.Int("skipped", rep.Skipped),
	)
	return rep, nil
}

type result string

const (
	resultRecovered result = "recovered"
	resultRequeued  result = "requeued"
	resultFailed    result = "failed"
	resultSkipped   result = "skipped"
	resultError     result = "error"
)

func (s *Scheduler) attempt(ctx context.Context, lead model.Lead) (r result) {
	defer func() { s.metrics.RetryAttempt(string(r)) }()
	log := zap.L().With(zap.String("lead_id", lead.ID), zap.Int("retry_count", lead.RetryCount))

	out := s.proc.Process(ctx, lead.ID)
	if out.Busy {
		log.Debug("retry: lead busy, skipping")
		return resultSkipped
	}
	if out.Success && !out.Status.Retryable() {
		log.Info("retry: lead recovered", zap.String("status", string(out.Status)))
		return resultRecovered
	}

	err := s.RecordFailure(ctx, lead, out.Message)
	switch {
	case eris.Is(err, ErrMaxRetriesExceeded):
		log.Warn("retry: lead failed permanently", zap.String("reason", out.Message))
		if s.onFailed != nil {
			s.onFailed(ctx, lead, out.Message)
		}
		return resultFailed
	case err != nil:
		log.Error("retry: record failure", zap.Error(err))
		return resultError
	}
	log.Info("retry: attempt failed, requeued",
		zap.String("status", string(out.Status)),
		zap.Duration("next_backoff", s.policy.BackoffFor(lead.RetryCount+1)),
	)
	return resultRequeued
}

// RecordFailure counts a failed attempt against lead, whose RetryCount is
// the value before the attempt. When the attempt used the last retry the
// lead is forced to failed and the returned error wraps
// ErrMaxRetriesExceeded.
func (s *Scheduler) RecordFailure(ctx context.Context, lead model.Lead, reason string) error {
	if reason == "" {
		reason = "retry attempt failed"
	}
	next := lead.RetryCount + 1
	if next >= s.policy.MaxRetries {
		if err := s.store.MarkFailed(ctx, lead.ID, reason); err != nil {
			return eris.Wrapf(err, "retry: mark failed %s", lead.ID)
		}
		return eris.Wrapf(ErrMaxRetriesExceeded, "lead %s after %d attempts", lead.ID, next)
	}
	if err := s.store.IncrementRetryCount(ctx, lead.ID, reason); err != nil {
		return eris.Wrapf(err, "retry: increment %s", lead.ID)
	}
	return nil
}

// Run retries due leads immediately and then every interval until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	log := zap.L().With(zap.String("component", "retry.scheduler"))
	log.Info("starting retry scheduler",
		zap.Duration("interval", interval),
		zap.Int("max_retries", s.policy.MaxRetries),
		zap.Strings("backoff", s.policy.Schedule.Strings()),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.Error("retry: run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			log.Info("retry scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}
