package model

import "time"

// Party is the canonical enriched identity of a natural person, unique by
// TaxID.
type Party struct {
	ID            string     `json:"id"`
	TaxID         string     `json:"tax_id"`
	Name          string     `json:"name,omitempty"`
	BirthDate     *time.Time `json:"birth_date,omitempty"`
	Gender        string     `json:"gender,omitempty"`
	MotherName    string     `json:"mother_name,omitempty"`
	Income        *float64   `json:"income,omitempty"`
	NetWorth      *float64   `json:"net_worth,omitempty"`
	Occupation    string     `json:"occupation,omitempty"`
	Education     string     `json:"education,omitempty"`
	MaritalStatus string     `json:"marital_status,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ContactKind distinguishes phone from email contacts.
type ContactKind string

const (
	ContactPhone ContactKind = "phone"
	ContactEmail ContactKind = "email"
)

// Contact is a phone or email belonging to a party. (PartyID, Kind, Value)
// is unique.
type Contact struct {
	ID      string      `json:"id"`
	PartyID string      `json:"party_id"`
	Kind    ContactKind `json:"kind"`
	Value   string      `json:"value"`
	Source  string      `json:"source,omitempty"`
}

// Address is a residence of a party. Duplicates are allowed.
type Address struct {
	ID         string `json:"id"`
	PartyID    string `json:"party_id"`
	Street     string `json:"street,omitempty"`
	Number     string `json:"number,omitempty"`
	Complement string `json:"complement,omitempty"`
	District   string `json:"district,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Source     string `json:"source,omitempty"`
}

// Candidate is an identifier a discovery provider proposed for a lead.
type Candidate struct {
	TaxID string `json:"tax_id"`
	Name  string `json:"name,omitempty"`
}

// Profile is the full enrichment payload for a verified identifier.
type Profile struct {
	TaxID         string     `json:"tax_id"`
	Name          string     `json:"name,omitempty"`
	BirthDate     *time.Time `json:"birth_date,omitempty"`
	Gender        string     `json:"gender,omitempty"`
	MotherName    string     `json:"mother_name,omitempty"`
	Income        *float64   `json:"income,omitempty"`
	NetWorth      *float64   `json:"net_worth,omitempty"`
	Occupation    string     `json:"occupation,omitempty"`
	Education     string     `json:"education,omitempty"`
	MaritalStatus string     `json:"marital_status,omitempty"`
	Phones        []string   `json:"phones,omitempty"`
	Emails        []string   `json:"emails,omitempty"`
	Addresses     []Address  `json:"addresses,omitempty"`
}

// Party returns the demographic and financial portion of the profile.
func (p *Profile) Party() Party {
	return Party{
		TaxID:         p.TaxID,
		Name:          p.Name,
		BirthDate:     p.BirthDate,
		Gender:        p.Gender,
		MotherName:    p.MotherName,
		Income:        p.Income,
		NetWorth:      p.NetWorth,
		Occupation:    p.Occupation,
		Education:     p.Education,
		MaritalStatus: p.MaritalStatus,
	}
}

// Contacts flattens the profile's phones and emails into contact records.
// Blank values are skipped.
func (p *Profile) Contacts(partyID, source string) []Contact {
	out := make([]Contact, 0, len(p.Phones)+len(p.Emails))
	for _, v := range p.Phones {
		if v == "" {
			continue
		}
		out = append(out, Contact{PartyID: partyID, Kind: ContactPhone, Value: v, Source: source})
	}
	for _, v := range p.Emails {
		if v == "" {
			continue
		}
		out = append(out, Contact{PartyID: partyID, Kind: ContactEmail, Value: v, Source: source})
	}
	return out
}
