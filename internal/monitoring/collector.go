package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-enricher/internal/model"
)

// MetricsSnapshot holds a point-in-time view of enrichment health.
type MetricsSnapshot struct {
	Counts map[model.LeadStatus]int `json:"counts"`

	Total      int     `json:"total"`
	Completed  int     `json:"completed"`
	Partial    int     `json:"partial"`
	Basic      int     `json:"basic"`
	Unenriched int     `json:"unenriched"`
	Failed     int     `json:"failed"`
	Backlog    int     `json:"backlog"` // pending plus retryable
	FailRate   float64 `json:"fail_rate"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Finished counts leads that left the pipeline with some verdict.
func (s *MetricsSnapshot) Finished() int {
	return s.Completed + s.Partial + s.Basic + s.Unenriched + s.Failed
}

// StatusCounter is the slice of the store the collector needs.
type StatusCounter interface {
	CountLeadsByStatus(ctx context.Context, since time.Time) (map[model.LeadStatus]int, error)
}

// Collector gathers lead status counts from the store.
type Collector struct {
	store   StatusCounter
	metrics *Metrics
	now     func() time.Time
}

// NewCollector creates a new metrics collector. m may be nil.
func NewCollector(st StatusCounter, m *Metrics) *Collector {
	return &Collector{store: st, metrics: m, now: time.Now}
}

// Collect gathers a snapshot of lead statuses updated within the lookback
// window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	counts, err := c.store.CountLeadsByStatus(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count leads")
	}
	if counts == nil {
		counts = map[model.LeadStatus]int{}
	}
	snap.Counts = counts

	for status, n := range counts {
		snap.Total += n
		switch status {
		case model.LeadStatusCompleted:
			snap.Completed = n
		case model.LeadStatusPartial:
			snap.Partial = n
		case model.LeadStatusBasic:
			snap.Basic = n
		case model.LeadStatusUnenriched:
			snap.Unenriched = n
		case model.LeadStatusFailed:
			snap.Failed = n
		}
	}
	snap.Backlog = counts[model.LeadStatusPending] + snap.Partial + snap.Unenriched

	if finished := snap.Finished(); finished > 0 {
		snap.FailRate = float64(snap.Failed) / float64(finished)
	}

	c.metrics.SetStatusCounts(counts)
	return snap, nil
}
