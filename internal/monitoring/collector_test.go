package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-enricher/internal/model"
)

// mockCounter implements StatusCounter for testing.
type mockCounter struct {
	counts map[model.LeadStatus]int
	err    error
	since  time.Time
}

func (m *mockCounter) CountLeadsByStatus(_ context.Context, since time.Time) (map[model.LeadStatus]int, error) {
	m.since = since
	return m.counts, m.err
}

func TestCollector_Collect(t *testing.T) {
	st := &mockCounter{counts: map[model.LeadStatus]int{
		model.LeadStatusPending:    4,
		model.LeadStatusProcessing: 1,
		model.LeadStatusCompleted:  10,
		model.LeadStatusPartial:    2,
		model.LeadStatusBasic:      3,
		model.LeadStatusUnenriched: 3,
		model.LeadStatusFailed:     2,
	}}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMetrics()
	c := NewCollector(st, m)
	c.now = func() time.Time { return now }

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, now.Add(-24*time.Hour), st.since)
	assert.Equal(t, 25, snap.Total)
	assert.Equal(t, 10, snap.Completed)
	assert.Equal(t, 2, snap.Failed)
	assert.Equal(t, 20, snap.Finished())
	assert.Equal(t, 9, snap.Backlog)
	assert.InDelta(t, 0.1, snap.FailRate, 1e-9)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, float64(10), testutil.ToFloat64(m.leadsByStatus.WithLabelValues("completed")))
}

func TestCollector_Empty(t *testing.T) {
	c := NewCollector(&mockCounter{}, nil)

	snap, err := c.Collect(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, snap.Total)
	assert.Zero(t, snap.FailRate)
	assert.NotNil(t, snap.Counts)
}

func TestCollector_StoreError(t *testing.T) {
	c := NewCollector(&mockCounter{err: errors.New("db down")}, nil)

	_, err := c.Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: count leads")
}
