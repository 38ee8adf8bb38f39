package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-enricher/internal/config"
	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/internal/taxid"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureRate      AlertType = "enrichment_failure_rate"
	AlertBacklog          AlertType = "enrichment_backlog"
	AlertHighValueProfile AlertType = "high_value_profile"
	AlertLeadFailed       AlertType = "lead_failed"
)

// minFinished is the number of finished leads required before the failure
// rate is judged.
const minFinished = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates snapshots and profiles against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg     config.MonitoringConfig
	client  *http.Client
	metrics *Metrics
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// WithMetrics makes the alerter count delivered alerts.
func (a *Alerter) WithMetrics(m *Metrics) *Alerter {
	a.metrics = m
	return a
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.Finished()
	if a.cfg.FailureRateThreshold > 0 && finished >= minFinished && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Enrichment failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.Failed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.Failed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.BacklogThreshold > 0 && snap.Backlog > a.cfg.BacklogThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d leads awaiting enrichment exceeds threshold %d",
				snap.Backlog, a.cfg.BacklogThreshold,
			),
			Details: map[string]any{
				"backlog":   snap.Backlog,
				"threshold": a.cfg.BacklogThreshold,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// EvaluateProfile returns a high-value alert when the profile's income or
// net worth reaches a configured threshold, or nil.
func (a *Alerter) EvaluateProfile(leadID string, p *model.Profile) *Alert {
	if p == nil {
		return nil
	}
	incomeHit := a.cfg.IncomeThreshold > 0 && p.Income != nil && *p.Income >= a.cfg.IncomeThreshold
	worthHit := a.cfg.NetWorthThreshold > 0 && p.NetWorth != nil && *p.NetWorth >= a.cfg.NetWorthThreshold
	if !incomeHit && !worthHit {
		return nil
	}

	details := map[string]any{
		"lead_id":    leadID,
		"identifier": taxid.Mask(p.TaxID),
	}
	if p.Income != nil {
		details["income"] = *p.Income
	}
	if p.NetWorth != nil {
		details["net_worth"] = *p.NetWorth
	}
	return &Alert{
		Type:      AlertHighValueProfile,
		Severity:  "info",
		Message:   fmt.Sprintf("High-value lead %s enriched (%s)", leadID, p.Name),
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
}

// LeadFailed builds the alert raised when a lead exhausts its retries.
func LeadFailed(leadID string, retries int, reason string) Alert {
	return Alert{
		Type:     AlertLeadFailed,
		Severity: "medium",
		Message:  fmt.Sprintf("Lead %s failed after %d retries: %s", leadID, retries, reason),
		Details: map[string]any{
			"lead_id": leadID,
			"retries": retries,
		},
		Timestamp: time.Now().UTC(),
	}
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		a.metrics.AlertSent(alert.Type)
		sent++
	}
	return sent
}

// Notify sends a single alert, returning an error when it was not delivered.
func (a *Alerter) Notify(ctx context.Context, alert Alert) error {
	if a.cfg.WebhookURL == "" {
		return nil
	}
	if err := a.sendWebhook(ctx, alert); err != nil {
		return err
	}
	a.metrics.AlertSent(alert.Type)
	return nil
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
