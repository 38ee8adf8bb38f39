package intake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLeadPayload(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
		check   func(t *testing.T, p *LeadPayload)
	}{
		{
			name: "full payload",
			body: body,
			check: func(t *testing.T, p *LeadPayload) {
				assert.Equal(t, "evt-1", p.ExternalID)
				assert.Equal(t, "11999887766", p.Phone)
				assert.Equal(t, "lead.created", p.EventType)
				assert.Equal(t, "spring", p.Campaign)
			},
		},
		{
			name: "id fallback",
			body: `{"id":" evt-2 ","phone":"11 3333-4444","event_type":"form.submitted"}`,
			check: func(t *testing.T, p *LeadPayload) {
				assert.Equal(t, "evt-2", p.ExternalID)
				assert.Equal(t, "1133334444", p.Phone)
				assert.Equal(t, "form.submitted", p.EventType)
			},
		},
		{
			name: "metadata kept",
			body: `{"external_id":"evt-3","name":"Ana","metadata":{"utm_source":"ads"}}`,
			check: func(t *testing.T, p *LeadPayload) {
				assert.Equal(t, "ads", p.Metadata["utm_source"])
				lead := p.Lead()
				assert.Equal(t, "Ana", lead.Name)
				assert.Equal(t, "ads", lead.Metadata["utm_source"])
			},
		},
		{name: "not json", body: `name=ana`, wantErr: true},
		{name: "missing id", body: `{"name":"Ana"}`, wantErr: true},
		{name: "no name or phone", body: `{"external_id":"evt-4","email":"a@b.c"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseLeadPayload([]byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidPayload)
				return
			}
			require.NoError(t, err)
			tt.check(t, p)
		})
	}
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "11999887766", NormalizePhone("+55 11 99988-7766"))
	assert.Equal(t, "1133334444", NormalizePhone("551133334444"))
	assert.Equal(t, "11999887766", NormalizePhone("(11) 99988-7766"))
	assert.Equal(t, "", NormalizePhone("n/a"))
}
