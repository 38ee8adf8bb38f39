package intake

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-enricher/internal/model"
)

// ErrInvalidPayload marks a delivery that cannot become a lead.
var ErrInvalidPayload = eris.New("intake: invalid payload")

// LeadPayload is the inbound lead webhook body. Either external_id or id
// names the delivery.
type LeadPayload struct {
	ExternalID string         `json:"external_id"`
	ID         string         `json:"id"`
	EventType  string         `json:"event_type"`
	Name       string         `json:"name"`
	Phone      string         `json:"phone"`
	Email      string         `json:"email"`
	Source     string         `json:"source"`
	Campaign   string         `json:"campaign"`
	Metadata   map[string]any `json:"metadata"`
}

// ParseLeadPayload decodes and normalizes a webhook body. A payload needs an
// external id and at least a name or a phone.
func ParseLeadPayload(body []byte) (*LeadPayload, error) {
	var p LeadPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, eris.Wrapf(ErrInvalidPayload, "decode: %v", err)
	}
	if p.ExternalID == "" {
		p.ExternalID = p.ID
	}
	p.ExternalID = strings.TrimSpace(p.ExternalID)
	p.Name = strings.Join(strings.Fields(p.Name), " ")
	p.Phone = NormalizePhone(p.Phone)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	p.Source = strings.TrimSpace(p.Source)
	p.Campaign = strings.TrimSpace(p.Campaign)
	if p.EventType == "" {
		p.EventType = "lead.created"
	}

	if p.ExternalID == "" {
		return nil, eris.Wrap(ErrInvalidPayload, "missing external_id")
	}
	if p.Name == "" && p.Phone == "" {
		return nil, eris.Wrap(ErrInvalidPayload, "need a name or a phone")
	}
	return &p, nil
}

// Lead builds the lead record the payload describes.
func (p *LeadPayload) Lead() *model.Lead {
	return &model.Lead{
		ExternalID: p.ExternalID,
		Name:       p.Name,
		Phone:      p.Phone,
		Email:      p.Email,
		Source:     p.Source,
		Campaign:   p.Campaign,
		Metadata:   p.Metadata,
		Status:     model.LeadStatusPending,
	}
}

// NormalizePhone keeps digits and drops a leading Brazil country code.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	d := b.String()
	if (len(d) == 12 || len(d) == 13) && strings.HasPrefix(d, "55") {
		d = d[2:]
	}
	return d
}
