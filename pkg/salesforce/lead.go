package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// TaxIDField is the custom Lead field holding the verified identifier.
const TaxIDField = "CPF__c"

// defaultCompany fills the required Lead.Company field for individuals.
const defaultCompany = "Pessoa Fisica"

// Lead represents a Salesforce Lead record.
type Lead struct {
	ID         string `json:"Id" salesforce:"Id"`
	FirstName  string `json:"FirstName" salesforce:"FirstName"`
	LastName   string `json:"LastName" salesforce:"LastName"`
	Company    string `json:"Company" salesforce:"Company"`
	Phone      string `json:"Phone" salesforce:"Phone"`
	Email      string `json:"Email" salesforce:"Email"`
	LeadSource string `json:"LeadSource" salesforce:"LeadSource"`
	TaxID      string `json:"CPF__c" salesforce:"CPF__c"`
}

// leadFields are the SOQL fields selected for Lead queries.
var leadFields = []string{"Id", "FirstName", "LastName", "Company", "Phone", "Email", "LeadSource", TaxIDField}

// LeadInput is what the enricher knows when it creates a Lead.
type LeadInput struct {
	Name        string
	Phone       string
	Email       string
	Source      string
	TaxID       string
	Description string
}

// IsRecordID reports whether s has the shape of a Salesforce record id:
// 15 or 18 alphanumeric characters.
func IsRecordID(s string) bool {
	if len(s) != 15 && len(s) != 18 {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

// SplitName splits a full name into first and last parts. Salesforce
// requires LastName, so a single-word name becomes the last name.
func SplitName(full string) (first, last string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return "", parts[0]
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// CreateLead creates a new Lead record and returns the new Salesforce ID.
func CreateLead(ctx context.Context, c Client, in LeadInput) (string, error) {
	first, last := SplitName(in.Name)
	if last == "" {
		last = in.Phone
	}
	if last == "" {
		last = in.Email
	}
	if last == "" {
		return "", eris.New("sf: lead LastName is required")
	}

	fields := map[string]any{
		"LastName": last,
		"Company":  defaultCompany,
	}
	if first != "" {
		fields["FirstName"] = first
	}
	if in.Phone != "" {
		fields["Phone"] = in.Phone
	}
	if in.Email != "" {
		fields["Email"] = in.Email
	}
	if in.Source != "" {
		fields["LeadSource"] = in.Source
	}
	if in.TaxID != "" {
		fields[TaxIDField] = in.TaxID
	}
	if in.Description != "" {
		fields["Description"] = in.Description
	}

	id, err := c.Create(ctx, "Lead", fields)
	if err != nil {
		return "", eris.Wrap(err, "sf: create lead")
	}
	return id, nil
}

// FindLeadByTaxID returns the Lead carrying the identifier, or nil.
func FindLeadByTaxID(ctx context.Context, c Client, taxID string) (*Lead, error) {
	soql := fmt.Sprintf(
		"SELECT %s FROM Lead WHERE %s = '%s' ORDER BY CreatedDate DESC LIMIT 1",
		strings.Join(leadFields, ", "),
		TaxIDField,
		escapeSoql(taxID),
	)

	var leads []Lead
	if err := c.Query(ctx, soql, &leads); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find lead by tax id %s", taxID))
	}
	if len(leads) == 0 {
		return nil, nil
	}
	return &leads[0], nil
}

// UpdateLeadTaxID stamps the verified identifier on an existing Lead.
func UpdateLeadTaxID(ctx context.Context, c Client, leadID, taxID string) error {
	if leadID == "" {
		return eris.New("sf: lead id is required")
	}
	if err := c.Update(ctx, "Lead", leadID, map[string]any{TaxIDField: taxID}); err != nil {
		return eris.Wrap(err, fmt.Sprintf("sf: update lead %s", leadID))
	}
	return nil
}

// escapeSoql escapes single quotes in SOQL string literals to prevent injection.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
