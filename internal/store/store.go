// Package store persists leads, enriched parties and webhook idempotency
// records. Postgres is the system of record; SQLite serves local runs and
// tests.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/internal/resilience"
)

// ErrNotFound is returned when a lead addressed by id does not exist.
var ErrNotFound = eris.New("store: not found")

// RetryFilter selects leads for another automatic pass.
type RetryFilter struct {
	MaxRetries int
	Schedule   resilience.Schedule
	Now        time.Time // zero means time.Now()
	Limit      int       // zero means no limit
}

// Store defines the persistence interface for the enrichment pipeline.
type Store interface {
	// Leads
	CreateLead(ctx context.Context, lead *model.Lead) (*model.Lead, error)
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	FindLeadByExternalID(ctx context.Context, externalID string) (*model.Lead, error)
	UpdateLeadStatus(ctx context.Context, id string, upd model.StatusUpdate) error
	IncrementRetryCount(ctx context.Context, id string, errMsg string) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	SelectRetryable(ctx context.Context, f RetryFilter) ([]model.Lead, error)
	CountLeadsByStatus(ctx context.Context, since time.Time) (map[model.LeadStatus]int, error)

	// Parties
	UpsertParty(ctx context.Context, p *model.Party) (string, error)
	GetPartyByTaxID(ctx context.Context, taxID string) (*model.Party, error)
	UpsertContact(ctx context.Context, c *model.Contact) error
	UpsertAddress(ctx context.Context, a *model.Address) error
	ListContacts(ctx context.Context, partyID string) ([]model.Contact, error)
	ListAddresses(ctx context.Context, partyID string) ([]model.Address, error)

	// Webhook idempotency
	CreateWebhookEvent(ctx context.Context, ev *model.WebhookEvent) (bool, error)
	GetWebhookEvent(ctx context.Context, externalID string) (*model.WebhookEvent, error)
	UpdateWebhookEvent(ctx context.Context, externalID string, status model.WebhookStatus, errMsg string) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// filterDue keeps leads whose backoff interval has elapsed, oldest attempt
// first, up to f.Limit.
func filterDue(leads []model.Lead, f RetryFilter) []model.Lead {
	now := f.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	out := make([]model.Lead, 0, len(leads))
	for _, l := range leads {
		if !f.Schedule.Due(l.LastRetryAt, l.RetryCount, now) {
			continue
		}
		out = append(out, l)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// enrichedStatus reports whether reaching s stamps enriched_at.
func enrichedStatus(s model.LeadStatus) bool {
	return s == model.LeadStatusCompleted || s == model.LeadStatusPartial || s == model.LeadStatusBasic
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
