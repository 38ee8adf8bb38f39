// Package insight holds the detached follow-ups run after a completed
// enrichment: a short sales insight from Claude and a company network
// summary, each appended to the lead's CRM record as a note.
package insight

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-enricher/internal/enrich"
	"github.com/sells-group/lead-enricher/pkg/anthropic"
)

// Noter appends a note to an existing CRM record.
type Noter interface {
	CreateMessage(ctx context.Context, externalID, text string) error
}

const systemPrompt = `You are a sales analyst at a Brazilian financial services firm. ` +
	`Given facts about an inbound lead, write exactly three short bullet points in Portuguese ` +
	`that help a salesperson open the conversation: likely needs, buying power, and one concrete ` +
	`talking point. Start each bullet with "- ". Do not repeat identifiers or invent facts.`

// Generator produces sales insights with Claude.
type Generator struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewGenerator creates a Generator.
func NewGenerator(c anthropic.Client, model string, maxTokens int64) *Generator {
	if maxTokens <= 0 {
		maxTokens = 400
	}
	return &Generator{client: c, model: model, maxTokens: maxTokens}
}

// Generate returns the bullet list for e.
func (g *Generator) Generate(ctx context.Context, e enrich.Enriched) (string, error) {
	resp, err := g.client.Complete(ctx, anthropic.Prompt{
		Model:     g.model,
		MaxTokens: g.maxTokens,
		System:    systemPrompt,
		CacheTTL:  "1h",
		User:      facts(e),
	})
	if err != nil {
		return "", eris.Wrap(err, "insight: create message")
	}
	resp.Usage.LogCost(g.model, "lead_insight")
	if resp.Truncated {
		zap.L().Warn("insight: response hit max tokens", zap.String("lead_id", e.Lead.ID))
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", eris.New("insight: empty response")
	}
	return text, nil
}

// facts renders the profile without identifiers.
func facts(e enrich.Enriched) string {
	p := e.Profile
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", firstNonEmpty(p.Name, e.Lead.Name))
	if p.BirthDate != nil {
		fmt.Fprintf(&b, "Age: %d\n", age(*p.BirthDate, time.Now()))
	}
	for _, kv := range [][2]string{
		{"Gender", p.Gender},
		{"Occupation", p.Occupation},
		{"Education", p.Education},
		{"Marital status", p.MaritalStatus},
		{"Lead source", e.Lead.Source},
		{"Campaign", e.Lead.Campaign},
	} {
		if kv[1] != "" {
			fmt.Fprintf(&b, "%s: %s\n", kv[0], kv[1])
		}
	}
	if p.Income != nil {
		fmt.Fprintf(&b, "Monthly income: R$ %.0f\n", *p.Income)
	}
	if p.NetWorth != nil {
		fmt.Fprintf(&b, "Net worth: R$ %.0f\n", *p.NetWorth)
	}
	if len(p.Addresses) > 0 {
		a := p.Addresses[0]
		fmt.Fprintf(&b, "City: %s/%s\n", a.City, a.State)
	}
	return b.String()
}

func age(born, now time.Time) int {
	years := now.Year() - born.Year()
	if now.Month() < born.Month() || (now.Month() == born.Month() && now.Day() < born.Day()) {
		years--
	}
	return years
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// InsightEffect generates an insight and notes it on the lead's CRM record.
func InsightEffect(g *Generator, crm Noter) enrich.SideEffect {
	return enrich.SideEffect{
		Name: "insight",
		Run: func(ctx context.Context, e enrich.Enriched) error {
			if e.CRMRef == "" {
				zap.L().Debug("insight: no crm record, skipping", zap.String("lead_id", e.Lead.ID))
				return nil
			}
			text, err := g.Generate(ctx, e)
			if err != nil {
				return err
			}
			if err := crm.CreateMessage(ctx, e.CRMRef, "Sales insight\n"+text); err != nil {
				return eris.Wrap(err, "insight: publish note")
			}
			return nil
		},
	}
}
