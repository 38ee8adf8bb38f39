package salesforce

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Publisher posts enrichment results to Salesforce. Messages become Notes on
// an existing record; new records are Leads.
type Publisher struct {
	client Client
	title  string
}

// NewPublisher returns a Publisher writing notes under the given title.
func NewPublisher(c Client, title string) *Publisher {
	return &Publisher{client: c, title: title}
}

// CreateMessage appends text to the existing record externalID.
func (p *Publisher) CreateMessage(ctx context.Context, externalID, text string) error {
	_, err := CreateNote(ctx, p.client, externalID, p.noteTitle(text), text)
	return err
}

// CreateLead creates a Lead and returns its Salesforce ID. When a Lead
// already carries in.TaxID, the description is noted on it instead and its ID
// is returned.
func (p *Publisher) CreateLead(ctx context.Context, in LeadInput) (string, error) {
	if in.TaxID != "" {
		existing, err := FindLeadByTaxID(ctx, p.client, in.TaxID)
		switch {
		case err != nil:
			zap.L().Warn("sf: lookup by tax id failed, creating lead", zap.Error(err))
		case existing != nil:
			if in.Description != "" {
				if err := p.CreateMessage(ctx, existing.ID, in.Description); err != nil {
					return "", err
				}
			}
			return existing.ID, nil
		}
	}
	return CreateLead(ctx, p.client, in)
}

// StampTaxID records the verified identifier on the existing Lead ref.
func (p *Publisher) StampTaxID(ctx context.Context, ref, taxID string) error {
	return UpdateLeadTaxID(ctx, p.client, ref, taxID)
}

func (p *Publisher) noteTitle(text string) string {
	if p.title != "" {
		return p.title
	}
	first, _, _ := strings.Cut(text, "\n")
	return first
}
