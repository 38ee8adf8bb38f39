package retry

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/internal/monitoring"
	"github.com/sells-group/lead-enricher/internal/resilience"
	"github.com/sells-group/lead-enricher/internal/store"
)

type fakeProcessor struct {
	mu       sync.Mutex
	outcomes map[string]model.Outcome
	calls    []string
}

func (f *fakeProcessor) Process(_ context.Context, leadID string) model.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, leadID)
	if out, ok := f.outcomes[leadID]; ok {
		return out
	}
	return model.Outcome{LeadID: leadID, Success: true, Status: model.LeadStatusUnenriched, Message: "no identifier found"}
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "retry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func seed(t *testing.T, st store.Store, ext string, status model.LeadStatus, retries int) *model.Lead {
	t.Helper()
	ctx := context.Background()
	lead, err := st.CreateLead(ctx, &model.Lead{ExternalID: ext, Name: "Lead " + ext, Phone: "11999887766"})
	require.NoError(t, err)
	require.NoError(t, st.UpdateLeadStatus(ctx, lead.ID, model.StatusUpdate{Status: status}))
	for range retries {
		require.NoError(t, st.IncrementRetryCount(ctx, lead.ID, "earlier failure"))
	}
	lead, err = st.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	return lead
}

func defaultPolicy() Policy {
	return Policy{MaxRetries: 3, Schedule: resilience.DefaultSchedule}
}

func TestPolicy_Eligible(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time { v := now.Add(-d); return &v }
	p := defaultPolicy()

	tests := []struct {
		name string
		lead model.Lead
		want bool
	}{
		{"partial never retried", model.Lead{Status: model.LeadStatusPartial}, true},
		{"unenriched never retried", model.Lead{Status: model.LeadStatusUnenriched}, true},
		{"basic is not retried", model.Lead{Status: model.LeadStatusBasic}, false},
		{"pending is not retried", model.Lead{Status: model.LeadStatusPending}, false},
		{"completed is not retried", model.Lead{Status: model.LeadStatusCompleted}, false},
		{"failed is not retried", model.Lead{Status: model.LeadStatusFailed}, false},
		{"at max retries", model.Lead{Status: model.LeadStatusPartial, RetryCount: 3}, false},
		{"backoff not elapsed", model.Lead{Status: model.LeadStatusPartial, RetryCount: 1, LastRetryAt: at(time.Hour - time.Second)}, false},
		{"backoff elapsed exactly", model.Lead{Status: model.LeadStatusPartial, RetryCount: 1, LastRetryAt: at(time.Hour)}, true},
		{"first interval", model.Lead{Status: model.LeadStatusUnenriched, RetryCount: 0, LastRetryAt: at(15 * time.Minute)}, true},
		{"last interval repeats", model.Lead{Status: model.LeadStatusUnenriched, RetryCount: 2, LastRetryAt: at(5 * time.Hour)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Eligible(tt.lead, now))
		})
	}
}

func TestPolicy_BackoffFor(t *testing.T) {
	p := defaultPolicy()
	assert.Equal(t, 15*time.Minute, p.BackoffFor(0))
	assert.Equal(t, time.Hour, p.BackoffFor(1))
	assert.Equal(t, 6*time.Hour, p.BackoffFor(2))
	assert.Equal(t, 6*time.Hour, p.BackoffFor(9))
}

func TestRecordFailure_Requeues(t *testing.T) {
	st := newTestStore(t)
	lead := seed(t, st, "evt-1", model.LeadStatusPartial, 1)
	s := NewScheduler(st, &fakeProcessor{}, defaultPolicy())

	require.NoError(t, s.RecordFailure(context.Background(), *lead, "profile timed out"))

	got, err := st.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusPartial, got.Status)
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, "profile timed out", got.LastError)
	assert.NotNil(t, got.LastRetryAt)
}

func TestRecordFailure_LastRetryForcesFailed(t *testing.T) {
	st := newTestStore(t)
	lead := seed(t, st, "evt-1", model.LeadStatusPartial, 2)
	s := NewScheduler(st, &fakeProcessor{}, defaultPolicy())

	err := s.RecordFailure(context.Background(), *lead, "profile timed out")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)

	got, err := st.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
}

func TestRecordFailure_UnknownLead(t *testing.T) {
	st := newTestStore(t)
	s := NewScheduler(st, &fakeProcessor{}, defaultPolicy())

	err := s.RecordFailure(context.Background(), model.Lead{ID: "missing"}, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunOnce(t *testing.T) {
	st := newTestStore(t)
	recovering := seed(t, st, "evt-a", model.LeadStatusPartial, 0)
	exhausted := seed(t, st, "evt-b", model.LeadStatusUnenriched, 2)
	stillMissing := seed(t, st, "evt-c", model.LeadStatusUnenriched, 0)
	seed(t, st, "evt-d", model.LeadStatusBasic, 0)
	seed(t, st, "evt-e", model.LeadStatusCompleted, 0)

	proc := &fakeProcessor{outcomes: map[string]model.Outcome{
		recovering.ID: {LeadID: recovering.ID, Success: true, Status: model.LeadStatusCompleted},
		exhausted.ID:  {LeadID: exhausted.ID, Success: true, Status: model.LeadStatusUnenriched, Message: "no identifier found"},
	}}

	var hookMu sync.Mutex
	var failedIDs []string
	m := monitoring.NewMetrics()
	s := NewScheduler(st, proc, defaultPolicy(),
		WithNow(func() time.Time { return time.Now().Add(7 * time.Hour) }),
		WithConcurrency(2),
		WithMetrics(m),
		WithFailureHook(func(_ context.Context, lead model.Lead, reason string) {
			hookMu.Lock()
			defer hookMu.Unlock()
			failedIDs = append(failedIDs, lead.ID)
			assert.Equal(t, "no identifier found", reason)
		}),
	)

	rep, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Selected: 3, Recovered: 1, Requeued: 1, Failed: 1}, rep)
	assert.ElementsMatch(t, []string{recovering.ID, exhausted.ID, stillMissing.ID}, proc.calls)
	assert.Equal(t, []string{exhausted.ID}, failedIDs)

	got, err := st.GetLead(context.Background(), exhausted.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusFailed, got.Status)

	got, err = st.GetLead(context.Background(), stillMissing.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RetryCount)

	got, err = st.GetLead(context.Background(), recovering.ID)
	require.NoError(t, err)
	assert.Zero(t, got.RetryCount)
}

func TestRunOnce_BackoffNotElapsed(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, "evt-a", model.LeadStatusPartial, 1)

	proc := &fakeProcessor{}
	s := NewScheduler(st, proc, defaultPolicy())

	rep, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.Selected)
	assert.Empty(t, proc.calls)
}

func TestRunOnce_BusyLeadIsNotCounted(t *testing.T) {
	st := newTestStore(t)
	lead := seed(t, st, "evt-a", model.LeadStatusPartial, 0)

	proc := &fakeProcessor{outcomes: map[string]model.Outcome{
		lead.ID: {LeadID: lead.ID, Busy: true, Message: "locked elsewhere"},
	}}
	s := NewScheduler(st, proc, defaultPolicy())

	rep, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Skipped)

	got, err := st.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Zero(t, got.RetryCount)
}

func TestRunOnce_BatchSize(t *testing.T) {
	st := newTestStore(t)
	for _, ext := range []string{"a", "b", "c"} {
		seed(t, st, ext, model.LeadStatusUnenriched, 0)
	}
	proc := &fakeProcessor{}
	s := NewScheduler(st, proc, defaultPolicy(), WithBatchSize(2))

	rep, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Selected)
	assert.Len(t, proc.calls, 2)
}

func TestRunOnce_SelectError(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Close())
	s := NewScheduler(st, &fakeProcessor{}, defaultPolicy())

	_, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry: select retryable")
}

func TestRun_StopsOnCancel(t *testing.T) {
	st := newTestStore(t)
	s := NewScheduler(st, &fakeProcessor{}, defaultPolicy(), WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Scheduler.Run did not stop after context cancellation")
	}
}
