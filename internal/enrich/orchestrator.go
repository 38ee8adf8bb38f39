// Package enrich runs one enrichment pass per lead: discovery, profile
// fetch, persistence, CRM publish and detached side effects.
package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-enricher/internal/discovery"
	"github.com/sells-group/lead-enricher/internal/guard"
	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/internal/monitoring"
	"github.com/sells-group/lead-enricher/internal/store"
	"github.com/sells-group/lead-enricher/internal/taxid"
)

// ErrAlreadyProcessing is reported when another pass holds the lead's lock.
var ErrAlreadyProcessing = eris.New("enrich: lead is already being processed")

// profileSource tags contacts and addresses written from the profile.
const profileSource = "identity"

// Resolver finds a lead's verified identifier.
type Resolver interface {
	Resolve(ctx context.Context, q discovery.Query) (*discovery.DiscoveryResult, error)
}

// Orchestrator drives a lead through the enrichment state machine.
type Orchestrator struct {
	store    store.Store
	chain    Resolver
	profiles ProfileSource
	crm      Publisher
	guard    *guard.Guard

	profileTimeout time.Duration
	publishTimeout time.Duration
	runner         *Runner
	effects        []SideEffect
	metrics        *monitoring.Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithProfileTimeout bounds the profile fetch.
func WithProfileTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.profileTimeout = d }
}

// WithPublishTimeout bounds each CRM call.
func WithPublishTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.publishTimeout = d }
}

// WithSideEffects runs effects on r after each completed pass.
func WithSideEffects(r *Runner, effects ...SideEffect) Option {
	return func(o *Orchestrator) {
		o.runner = r
		o.effects = append(o.effects, effects...)
	}
}

// WithMetrics records outcomes on m.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator. crm may be nil, which disables publishing.
func New(st store.Store, chain Resolver, profiles ProfileSource, crm Publisher, g *guard.Guard, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:          st,
		chain:          chain,
		profiles:       profiles,
		crm:            crm,
		guard:          g,
		profileTimeout: 15 * time.Second,
		publishTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process runs one enrichment pass for leadID and always returns a definite
// outcome. The per-lead lock is released on every path.
func (o *Orchestrator) Process(ctx context.Context, leadID string) (out model.Outcome) {
	log := zap.L().With(zap.String("lead_id", leadID))

	tok, ok := o.guard.TryAcquire(leadID)
	if !ok {
		log.Info("enrich: lead already being processed")
		return model.Outcome{LeadID: leadID, Busy: true, Message: ErrAlreadyProcessing.Error()}
	}
	defer o.guard.Release(leadID, tok)

	lead, err := o.store.GetLead(ctx, leadID)
	if err != nil {
		log.Error("enrich: load lead", zap.Error(err))
		return model.Outcome{LeadID: leadID, Message: err.Error()}
	}
	if lead.Status.Terminal() {
		return model.Outcome{
			LeadID:  leadID,
			Status:  lead.Status,
			Message: fmt.Sprintf("lead is %s", lead.Status),
		}
	}

	start := time.Now()
	prior := lead.Status
	defer func() {
		if rec := recover(); rec != nil {
			out = o.fail(ctx, lead, prior, eris.Errorf("enrich: panic: %v", rec))
		}
		o.metrics.ObserveOutcome(out.Status, time.Since(start))
	}()

	out, err = o.run(ctx, lead, log)
	if err != nil {
		return o.fail(ctx, lead, prior, err)
	}
	return out
}

func (o *Orchestrator) run(ctx context.Context, lead *model.Lead, log *zap.Logger) (model.Outcome, error) {
	if err := o.setStatus(ctx, lead.ID, model.StatusUpdate{Status: model.LeadStatusProcessing}); err != nil {
		return model.Outcome{}, err
	}

	res, err := o.chain.Resolve(ctx, discovery.Query{Phone: lead.Phone, Email: lead.Email, Name: lead.Name})
	if err != nil {
		return model.Outcome{}, eris.Wrap(err, "enrich: discovery")
	}
	if res == nil {
		ref := o.publish(ctx, lead, "", unenrichedNote(lead))
		upd := model.StatusUpdate{Status: model.LeadStatusUnenriched, CRMRef: ref, Error: "no identifier found"}
		if err := o.setStatus(ctx, lead.ID, upd); err != nil {
			return model.Outcome{}, err
		}
		log.Info("enrich: no identifier found")
		return o.outcome(lead.ID, model.LeadStatusUnenriched, "no identifier found"), nil
	}

	log = log.With(zap.String("identifier", taxid.Mask(res.TaxID)), zap.String("source", res.Source))

	if o.guard.IsCoolingDown(res.TaxID) {
		return o.skipCoolingDown(ctx, lead, res, log)
	}

	profile, err := FetchProfile(ctx, o.profiles, res.TaxID, o.profileTimeout)
	switch {
	case err != nil:
		return o.finishPartial(ctx, lead, res, err, log)
	case profile == nil:
		return o.finishBasic(ctx, lead, res, log)
	default:
		return o.finishCompleted(ctx, lead, res, profile, log)
	}
}

// skipCoolingDown publishes nothing. A lead already carrying a status keeps
// it; a fresh lead would otherwise sit in pending forever, so it is linked to
// the identifier's party and closed as basic.
func (o *Orchestrator) skipCoolingDown(ctx context.Context, lead *model.Lead, res *discovery.DiscoveryResult, log *zap.Logger) (model.Outcome, error) {
	log.Info("enrich: identifier recently enriched, skipping")
	if lead.Status != model.LeadStatusPending && lead.Status != model.LeadStatusProcessing {
		if err := o.setStatus(ctx, lead.ID, model.StatusUpdate{Status: lead.Status}); err != nil {
			return model.Outcome{}, err
		}
		return o.outcome(lead.ID, lead.Status, "identifier recently enriched"), nil
	}

	partyID, err := o.store.UpsertParty(ctx, &model.Party{TaxID: res.TaxID})
	if err != nil {
		return model.Outcome{}, eris.Wrap(err, "enrich: upsert party")
	}
	upd := model.StatusUpdate{Status: model.LeadStatusBasic, PartyID: partyID}
	if err := o.setStatus(ctx, lead.ID, upd); err != nil {
		return model.Outcome{}, err
	}
	return o.outcome(lead.ID, model.LeadStatusBasic, "identifier recently enriched"), nil
}

func (o *Orchestrator) finishPartial(ctx context.Context, lead *model.Lead, res *discovery.DiscoveryResult, cause error, log *zap.Logger) (model.Outcome, error) {
	partyID, err := o.store.UpsertParty(ctx, &model.Party{TaxID: res.TaxID})
	if err != nil {
		return model.Outcome{}, eris.Wrap(err, "enrich: upsert party")
	}
	ref := o.publish(ctx, lead, res.TaxID, partialNote(lead, res, cause))
	upd := model.StatusUpdate{Status: model.LeadStatusPartial, PartyID: partyID, CRMRef: ref, Error: cause.Error()}
	if err := o.setStatus(ctx, lead.ID, upd); err != nil {
		return model.Outcome{}, err
	}
	log.Warn("enrich: profile unavailable", zap.Error(cause))
	return o.outcome(lead.ID, model.LeadStatusPartial, "identifier verified; profile unavailable"), nil
}

func (o *Orchestrator) finishBasic(ctx context.Context, lead *model.Lead, res *discovery.DiscoveryResult, log *zap.Logger) (model.Outcome, error) {
	partyID, err := o.store.UpsertParty(ctx, &model.Party{TaxID: res.TaxID})
	if err != nil {
		return model.Outcome{}, eris.Wrap(err, "enrich: upsert party")
	}
	ref := o.publish(ctx, lead, res.TaxID, basicNote(lead, res))
	upd := model.StatusUpdate{Status: model.LeadStatusBasic, PartyID: partyID, CRMRef: ref}
	if err := o.setStatus(ctx, lead.ID, upd); err != nil {
		return model.Outcome{}, err
	}
	log.Info("enrich: provider has no profile")
	return o.outcome(lead.ID, model.LeadStatusBasic, "identifier verified; no profile data"), nil
}

func (o *Orchestrator) finishCompleted(ctx context.Context, lead *model.Lead, res *discovery.DiscoveryResult, p *model.Profile, log *zap.Logger) (model.Outcome, error) {
	party := p.Party()
	partyID, err := o.store.UpsertParty(ctx, &party)
	if err != nil {
		return model.Outcome{}, eris.Wrap(err, "enrich: upsert party")
	}
	for _, c := range p.Contacts(partyID, profileSource) {
		if err := o.store.UpsertContact(ctx, &c); err != nil {
			return model.Outcome{}, eris.Wrap(err, "enrich: upsert contact")
		}
	}
	for _, a := range p.Addresses {
		a.PartyID = partyID
		a.Source = profileSource
		if err := o.store.UpsertAddress(ctx, &a); err != nil {
			return model.Outcome{}, eris.Wrap(err, "enrich: upsert address")
		}
	}

	ref := o.publish(ctx, lead, res.TaxID, enrichedNote(lead, res, p))
	upd := model.StatusUpdate{Status: model.LeadStatusCompleted, PartyID: partyID, CRMRef: ref}
	if err := o.setStatus(ctx, lead.ID, upd); err != nil {
		return model.Outcome{}, err
	}
	o.guard.MarkCooldown(res.TaxID)

	e := Enriched{Lead: *lead, PartyID: partyID, CRMRef: ref, Profile: *p, Discovery: *res}
	if ref != "" {
		e.Lead.CRMRef = ref
	}
	o.dispatch(e)

	log.Info("enrich: lead enriched",
		zap.String("party_id", partyID),
		zap.Int("tier", res.Tier),
		zap.Float64("confidence", res.Confidence),
	)
	return o.outcome(lead.ID, model.LeadStatusCompleted, "lead enriched"), nil
}

// dispatch hands e to every side effect without waiting.
func (o *Orchestrator) dispatch(e Enriched) {
	if o.runner == nil {
		return
	}
	for _, eff := range o.effects {
		o.runner.Submit(eff.Name, func(ctx context.Context) error {
			return eff.Run(ctx, e)
		})
	}
}

// fail records err on the lead and moves it off processing. A lead that had
// not been attempted yet becomes unenriched so the retry scheduler sees it.
func (o *Orchestrator) fail(ctx context.Context, lead *model.Lead, prior model.LeadStatus, err error) model.Outcome {
	status := prior
	if status == model.LeadStatusPending || status == model.LeadStatusProcessing {
		status = model.LeadStatusUnenriched
	}
	zap.L().Error("enrich: pass failed",
		zap.String("lead_id", lead.ID),
		zap.String("status", string(status)),
		zap.Error(err),
	)
	upd := model.StatusUpdate{Status: status, Error: err.Error()}
	if uerr := o.store.UpdateLeadStatus(context.WithoutCancel(ctx), lead.ID, upd); uerr != nil {
		zap.L().Error("enrich: record failure", zap.String("lead_id", lead.ID), zap.Error(uerr))
	}
	return model.Outcome{LeadID: lead.ID, Status: status, Message: err.Error()}
}

func (o *Orchestrator) setStatus(ctx context.Context, id string, upd model.StatusUpdate) error {
	if err := o.store.UpdateLeadStatus(ctx, id, upd); err != nil {
		return eris.Wrapf(err, "enrich: set status %s", upd.Status)
	}
	return nil
}

func (o *Orchestrator) outcome(id string, status model.LeadStatus, msg string) model.Outcome {
	return model.Outcome{LeadID: id, Success: true, Status: status, Message: msg}
}
