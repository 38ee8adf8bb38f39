// Package intake admits inbound lead webhooks exactly once per external id.
package intake

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/internal/monitoring"
	"github.com/sells-group/lead-enricher/internal/store"
)

// Admission is the result of accepting one delivery.
type Admission struct {
	Admitted bool
	Lead     *model.Lead // set only when admitted
}

// Intake records webhook deliveries and creates their leads.
type Intake struct {
	store   store.Store
	metrics *monitoring.Metrics
}

// New creates an Intake. m may be nil.
func New(st store.Store, m *monitoring.Metrics) *Intake {
	return &Intake{store: st, metrics: m}
}

// Admit records the delivery externalID. It returns false without side
// effects when the id was seen before; true authorizes exactly one
// enrichment pass.
func (in *Intake) Admit(ctx context.Context, externalID, source, eventType string, payload []byte) (bool, error) {
	existing, err := in.store.GetWebhookEvent(ctx, externalID)
	if err != nil {
		return false, eris.Wrap(err, "intake: lookup event")
	}
	if existing != nil {
		in.metrics.IntakeEvent("duplicate")
		return false, nil
	}

	created, err := in.store.CreateWebhookEvent(ctx, &model.WebhookEvent{
		ExternalID: externalID,
		Source:     source,
		EventType:  eventType,
		Payload:    payload,
		Status:     model.WebhookStatusPending,
	})
	if err != nil {
		return false, eris.Wrap(err, "intake: record event")
	}
	if !created {
		// Lost the race to a concurrent delivery.
		in.metrics.IntakeEvent("duplicate")
		return false, nil
	}
	in.metrics.IntakeEvent("admitted")
	return true, nil
}

// Accept parses body, admits it and creates the lead. Invalid payloads
// return an error wrapping ErrInvalidPayload and are not recorded.
func (in *Intake) Accept(ctx context.Context, source string, body []byte) (*Admission, error) {
	p, err := ParseLeadPayload(body)
	if err != nil {
		in.metrics.IntakeEvent("rejected")
		return nil, err
	}
	if p.Source == "" {
		p.Source = source
	}
	log := zap.L().With(zap.String("external_id", p.ExternalID))

	ok, err := in.Admit(ctx, p.ExternalID, p.Source, p.EventType, body)
	if err != nil {
		return nil, err
	}
	if !ok {
		return in.redeliver(ctx, p, log)
	}

	lead, err := in.store.CreateLead(ctx, p.Lead())
	if err != nil {
		if uerr := in.store.UpdateWebhookEvent(ctx, p.ExternalID, model.WebhookStatusFailed, err.Error()); uerr != nil {
			log.Warn("intake: record event failure", zap.Error(uerr))
		}
		return nil, eris.Wrap(err, "intake: create lead")
	}
	log.Info("intake: lead admitted", zap.String("lead_id", lead.ID))
	return &Admission{Admitted: true, Lead: lead}, nil
}

// redeliver handles a delivery whose id was already recorded. A prior
// delivery that failed before its lead was stored is admitted again;
// anything else is a duplicate.
func (in *Intake) redeliver(ctx context.Context, p *LeadPayload, log *zap.Logger) (*Admission, error) {
	ev, err := in.store.GetWebhookEvent(ctx, p.ExternalID)
	if err != nil {
		return nil, eris.Wrap(err, "intake: lookup event")
	}
	if ev == nil || ev.Status != model.WebhookStatusFailed {
		log.Info("intake: duplicate delivery ignored")
		return &Admission{}, nil
	}
	existing, err := in.store.FindLeadByExternalID(ctx, p.ExternalID)
	if err != nil {
		return nil, eris.Wrap(err, "intake: lookup lead")
	}
	if existing != nil {
		log.Info("intake: duplicate delivery ignored")
		return &Admission{}, nil
	}

	// CreateLead returns the stored row on conflict; a foreign id means a
	// concurrent redelivery got there first.
	want := p.Lead()
	want.ID = uuid.New().String()
	lead, err := in.store.CreateLead(ctx, want)
	if err != nil {
		return nil, eris.Wrap(err, "intake: create lead")
	}
	if lead.ID != want.ID {
		log.Info("intake: duplicate delivery ignored")
		return &Admission{}, nil
	}
	if err := in.store.UpdateWebhookEvent(ctx, p.ExternalID, model.WebhookStatusPending, ""); err != nil {
		log.Warn("intake: reopen event", zap.Error(err))
	}
	in.metrics.IntakeEvent("recovered")
	log.Info("intake: lead admitted on redelivery", zap.String("lead_id", lead.ID))
	return &Admission{Admitted: true, Lead: lead}, nil
}

// Complete records the outcome of the admitted pass on the delivery's audit
// record. It never affects future admission.
func (in *Intake) Complete(ctx context.Context, externalID string, out model.Outcome) error {
	status := model.WebhookStatusProcessed
	msg := ""
	if !out.Success {
		status = model.WebhookStatusFailed
		msg = out.Message
	}
	if err := in.store.UpdateWebhookEvent(ctx, externalID, status, msg); err != nil {
		return eris.Wrap(err, "intake: complete event")
	}
	return nil
}
