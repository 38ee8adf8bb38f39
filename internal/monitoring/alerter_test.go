package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-enricher/internal/config"
	"github.com/sells-group/lead-enricher/internal/model"
)

func ptr(v float64) *float64 { return &v }

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		BacklogThreshold:     100,
	})

	snap := &MetricsSnapshot{
		Completed:     95,
		Failed:        5,
		FailRate:      0.05,
		Backlog:       20,
		LookbackHours: 24,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_FailureRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.10})

	snap := &MetricsSnapshot{
		Completed:     12,
		Failed:        8,
		FailRate:      0.4,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
	assert.Contains(t, alerts[0].Message, "8 failed / 20 finished")
}

func TestAlerter_Evaluate_Backlog(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{BacklogThreshold: 50})

	alerts := a.Evaluate(&MetricsSnapshot{Backlog: 75, LookbackHours: 24})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertBacklog, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "75 leads")
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		BacklogThreshold:     10,
	})

	snap := &MetricsSnapshot{
		Completed:     10,
		Failed:        10,
		FailRate:      0.5,
		Backlog:       30,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	assert.Len(t, alerts, 2)

	types := make(map[AlertType]bool)
	for _, a := range alerts {
		types[a.Type] = true
	}
	assert.True(t, types[AlertFailureRate])
	assert.True(t, types[AlertBacklog])
}

func TestAlerter_Evaluate_MinimumFinishedRequired(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.10})

	// Only 3 finished leads, below the minimum for a failure rate alert.
	snap := &MetricsSnapshot{
		Completed:     1,
		Failed:        2,
		FailRate:      0.666,
		LookbackHours: 24,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_ZeroThresholdsDisabled(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})

	snap := &MetricsSnapshot{
		Completed: 1,
		Failed:    99,
		FailRate:  0.99,
		Backlog:   5000,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_EvaluateProfile(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		IncomeThreshold:   20000,
		NetWorthThreshold: 1000000,
	})

	tests := []struct {
		name    string
		profile *model.Profile
		want    bool
	}{
		{"nil profile", nil, false},
		{"no financials", &model.Profile{TaxID: "12345678909"}, false},
		{"income below", &model.Profile{TaxID: "12345678909", Income: ptr(5000)}, false},
		{"income at threshold", &model.Profile{TaxID: "12345678909", Income: ptr(20000)}, true},
		{"net worth above", &model.Profile{TaxID: "12345678909", NetWorth: ptr(2500000)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alert := a.EvaluateProfile("lead-1", tt.profile)
			if !tt.want {
				assert.Nil(t, alert)
				return
			}
			require.NotNil(t, alert)
			assert.Equal(t, AlertHighValueProfile, alert.Type)
			assert.Equal(t, "lead-1", alert.Details["lead_id"])
			assert.NotContains(t, alert.Details["identifier"], "123456789")
		})
	}
}

func TestAlerter_EvaluateProfile_NoThresholds(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	assert.Nil(t, a.EvaluateProfile("lead-1", &model.Profile{Income: ptr(1e9)}))
}

func TestLeadFailed(t *testing.T) {
	alert := LeadFailed("lead-9", 3, "discovery found nothing")
	assert.Equal(t, AlertLeadFailed, alert.Type)
	assert.Contains(t, alert.Message, "lead-9")
	assert.Contains(t, alert.Message, "3 retries")
	assert.Equal(t, 3, alert.Details["retries"])
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	m := NewMetrics()
	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL}).WithMetrics(m)

	alerts := []Alert{
		{Type: AlertFailureRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertLeadFailed, Severity: "medium", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.alerts.WithLabelValues(string(AlertLeadFailed))))
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{WebhookURL: ""})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertFailureRate, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{WebhookURL: "http://example.com"})

	sent := a.SendAlerts(context.Background(), nil)
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertFailureRate, Message: "test"}})
	assert.Equal(t, 0, sent)
}

func TestAlerter_Notify(t *testing.T) {
	var got Alert
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	require.NoError(t, a.Notify(context.Background(), LeadFailed("lead-2", 3, "boom")))
	assert.Equal(t, AlertLeadFailed, got.Type)
}

func TestAlerter_Notify_Error(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	err := a.Notify(context.Background(), LeadFailed("lead-2", 3, "boom"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestAlerter_Notify_NoURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	assert.NoError(t, a.Notify(context.Background(), LeadFailed("lead-2", 3, "boom")))
}
