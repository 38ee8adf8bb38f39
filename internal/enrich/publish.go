package enrich

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/lead-enricher/internal/discovery"
	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/internal/taxid"
	"github.com/sells-group/lead-enricher/pkg/salesforce"
)

// Publisher is the CRM side of the pipeline.
type Publisher interface {
	CreateMessage(ctx context.Context, externalID, text string) error
	CreateLead(ctx context.Context, in salesforce.LeadInput) (string, error)
}

// TaxIDStamper is implemented by publishers that can record the verified
// identifier on an existing CRM record.
type TaxIDStamper interface {
	StampTaxID(ctx context.Context, ref, taxID string) error
}

// publish appends text to the lead's CRM record, creating a CRM lead when
// there is no record to append to or the append fails. It returns the CRM
// reference the text landed on, or "" when publishing failed.
func (o *Orchestrator) publish(ctx context.Context, lead *model.Lead, verifiedID, text string) string {
	if o.crm == nil {
		return ""
	}
	log := zap.L().With(zap.String("lead_id", lead.ID))
	if o.publishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.publishTimeout)
		defer cancel()
	}

	// Deliveries from the CRM itself carry the record id as their external
	// id; other event ids cannot parent a note.
	ref := lead.CRMRef
	if ref == "" && salesforce.IsRecordID(lead.ExternalID) {
		ref = lead.ExternalID
	}
	if ref != "" {
		err := o.crm.CreateMessage(ctx, ref, text)
		if err == nil {
			o.stamp(ctx, ref, verifiedID, log)
			return ref
		}
		log.Warn("enrich: crm message failed, creating lead", zap.String("crm_ref", ref), zap.Error(err))
	}

	id, err := o.crm.CreateLead(ctx, salesforce.LeadInput{
		Name:        lead.Name,
		Phone:       lead.Phone,
		Email:       lead.Email,
		Source:      lead.Source,
		TaxID:       verifiedID,
		Description: text,
	})
	if err != nil {
		log.Error("enrich: crm publish failed", zap.Error(err))
		return ""
	}
	return id
}

func (o *Orchestrator) stamp(ctx context.Context, ref, verifiedID string, log *zap.Logger) {
	st, ok := o.crm.(TaxIDStamper)
	if !ok || verifiedID == "" {
		return
	}
	if err := st.StampTaxID(ctx, ref, verifiedID); err != nil {
		log.Warn("enrich: stamp identifier on crm record", zap.String("crm_ref", ref), zap.Error(err))
	}
}

func leadFields(b *strings.Builder, lead *model.Lead) {
	fmt.Fprintf(b, "Name: %s\n", lead.Name)
	if lead.Phone != "" {
		fmt.Fprintf(b, "Phone: %s\n", lead.Phone)
	}
	if lead.Email != "" {
		fmt.Fprintf(b, "Email: %s\n", lead.Email)
	}
	if lead.Source != "" {
		fmt.Fprintf(b, "Source: %s\n", lead.Source)
	}
	if lead.Campaign != "" {
		fmt.Fprintf(b, "Campaign: %s\n", lead.Campaign)
	}
}

func discoveryLine(b *strings.Builder, res *discovery.DiscoveryResult) {
	fmt.Fprintf(b, "CPF: %s (tier %d, %s, confidence %.2f)\n",
		taxid.Format(res.TaxID), res.Tier, res.Source, res.Confidence)
}

// unenrichedNote is the minimal note for a lead no provider could identify.
func unenrichedNote(lead *model.Lead) string {
	var b strings.Builder
	b.WriteString("Enrichment: no identifier found\n")
	leadFields(&b, lead)
	return b.String()
}

// partialNote carries the verified identifier when the profile timed out.
func partialNote(lead *model.Lead, res *discovery.DiscoveryResult, cause error) string {
	var b strings.Builder
	b.WriteString("Enrichment: partial\n")
	leadFields(&b, lead)
	discoveryLine(&b, res)
	fmt.Fprintf(&b, "Profile unavailable: %v\n", cause)
	return b.String()
}

// basicNote is lead-supplied fields plus the verified identifier.
func basicNote(lead *model.Lead, res *discovery.DiscoveryResult) string {
	var b strings.Builder
	b.WriteString("Enrichment: basic\n")
	leadFields(&b, lead)
	discoveryLine(&b, res)
	b.WriteString("Provider has no profile data for this identifier.\n")
	return b.String()
}

// enrichedNote renders the full profile.
func enrichedNote(lead *model.Lead, res *discovery.DiscoveryResult, p *model.Profile) string {
	var b strings.Builder
	b.WriteString("Enrichment: completed\n")
	fmt.Fprintf(&b, "Name: %s\n", firstNonEmpty(p.Name, lead.Name))
	discoveryLine(&b, res)
	if p.BirthDate != nil {
		fmt.Fprintf(&b, "Birth date: %s\n", p.BirthDate.Format("02/01/2006"))
	}
	if p.Gender != "" {
		fmt.Fprintf(&b, "Gender: %s\n", p.Gender)
	}
	if p.MotherName != "" {
		fmt.Fprintf(&b, "Mother: %s\n", p.MotherName)
	}
	if p.Occupation != "" {
		fmt.Fprintf(&b, "Occupation: %s\n", p.Occupation)
	}
	if p.Education != "" {
		fmt.Fprintf(&b, "Education: %s\n", p.Education)
	}
	if p.MaritalStatus != "" {
		fmt.Fprintf(&b, "Marital status: %s\n", p.MaritalStatus)
	}
	if p.Income != nil {
		fmt.Fprintf(&b, "Income: R$ %.2f\n", *p.Income)
	}
	if p.NetWorth != nil {
		fmt.Fprintf(&b, "Net worth: R$ %.2f\n", *p.NetWorth)
	}
	if len(p.Phones) > 0 {
		fmt.Fprintf(&b, "Phones: %s\n", strings.Join(p.Phones, ", "))
	}
	if len(p.Emails) > 0 {
		fmt.Fprintf(&b, "Emails: %s\n", strings.Join(p.Emails, ", "))
	}
	for _, a := range p.Addresses {
		fmt.Fprintf(&b, "Address: %s\n", formatAddress(a))
	}
	return b.String()
}

func formatAddress(a model.Address) string {
	parts := make([]string, 0, 6)
	street := strings.TrimSpace(a.Street + " " + a.Number)
	for _, s := range []string{street, a.Complement, a.District, a.City, a.State, a.PostalCode} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
