package insight

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-enricher/internal/enrich"
	"github.com/sells-group/lead-enricher/internal/taxid"
	"github.com/sells-group/lead-enricher/pkg/namesearch"
)

// topN caps each ranked list in the network note.
const topN = 10

// CompanyLink is one company the person is a partner in.
type CompanyLink struct {
	CNPJ          string   `json:"cnpj"`
	Name          string   `json:"name"`
	State         string   `json:"state,omitempty"`
	Status        string   `json:"status,omitempty"`
	Capital       float64  `json:"capital"`
	Partners      int      `json:"partners"`
	Qualification string   `json:"qualification,omitempty"`
	Share         *float64 `json:"share,omitempty"`
}

// CoPartner is another partner found in the person's companies.
type CoPartner struct {
	TaxID  string `json:"tax_id"`
	Name   string `json:"name"`
	Shared int    `json:"shared"`
}

// Network is the company network around one person.
type Network struct {
	TaxID        string        `json:"tax_id"`
	Companies    []CompanyLink `json:"companies"`
	CoPartners   []CoPartner   `json:"co_partners"`
	TotalCapital float64       `json:"total_capital"`
}

// BuildNetwork links taxID to the companies that list it and ranks the other
// partners by how many of those companies they share.
func BuildNetwork(taxID string, companies []namesearch.Company) *Network {
	n := &Network{TaxID: taxID}
	seen := make(map[string]bool)
	co := make(map[string]*CoPartner)

	for _, c := range companies {
		if c.CNPJ == "" || seen[c.CNPJ] {
			continue
		}
		seen[c.CNPJ] = true

		link := CompanyLink{
			CNPJ:     c.CNPJ,
			Name:     firstNonEmpty(c.TradeName, c.LegalName),
			State:    c.State,
			Status:   c.Status,
			Capital:  c.ShareCapital,
			Partners: len(c.Partners),
		}
		for _, p := range c.Partners {
			id, err := taxid.Normalize(p.TaxID)
			if err != nil {
				continue
			}
			if id == taxID {
				link.Qualification = p.Qualification
				link.Share = p.Share
				continue
			}
			cp, ok := co[id]
			if !ok {
				cp = &CoPartner{TaxID: id, Name: p.Name}
				co[id] = cp
			}
			cp.Shared++
		}
		n.Companies = append(n.Companies, link)
		n.TotalCapital += c.ShareCapital
	}

	sort.SliceStable(n.Companies, func(i, j int) bool {
		return n.Companies[i].Capital > n.Companies[j].Capital
	})
	for _, cp := range co {
		n.CoPartners = append(n.CoPartners, *cp)
	}
	sort.Slice(n.CoPartners, func(i, j int) bool {
		if n.CoPartners[i].Shared != n.CoPartners[j].Shared {
			return n.CoPartners[i].Shared > n.CoPartners[j].Shared
		}
		return n.CoPartners[i].Name < n.CoPartners[j].Name
	})
	return n
}

// Summary renders the network as a CRM note.
func (n *Network) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Company network: %d companies, total share capital R$ %.2f\n",
		len(n.Companies), n.TotalCapital)
	for i, c := range n.Companies {
		if i == topN {
			fmt.Fprintf(&b, "... and %d more\n", len(n.Companies)-topN)
			break
		}
		fmt.Fprintf(&b, "- %s (%s) R$ %.2f", c.Name, c.CNPJ, c.Capital)
		if c.Qualification != "" {
			fmt.Fprintf(&b, ", %s", c.Qualification)
		}
		if c.Share != nil {
			fmt.Fprintf(&b, ", %.1f%%", *c.Share)
		}
		if c.Status != "" {
			fmt.Fprintf(&b, " [%s]", c.Status)
		}
		b.WriteString("\n")
	}
	if len(n.CoPartners) > 0 {
		b.WriteString("Frequent co-partners:\n")
		for i, cp := range n.CoPartners {
			if i == topN {
				break
			}
			fmt.Fprintf(&b, "- %s, %d shared\n", cp.Name, cp.Shared)
		}
	}
	return b.String()
}

// NetworkEffect looks up the person's companies and notes the network on
// the lead's CRM record. No companies means no note.
func NetworkEffect(ns namesearch.Client, crm Noter, limit int) enrich.SideEffect {
	if limit <= 0 {
		limit = 50
	}
	return enrich.SideEffect{
		Name: "network",
		Run: func(ctx context.Context, e enrich.Enriched) error {
			log := zap.L().With(zap.String("lead_id", e.Lead.ID))
			if e.CRMRef == "" {
				log.Debug("insight: no crm record, skipping network")
				return nil
			}
			companies, err := ns.CompaniesByPartner(ctx, e.Profile.TaxID, limit)
			if err != nil {
				return eris.Wrap(err, "insight: companies by partner")
			}
			n := BuildNetwork(e.Profile.TaxID, companies)
			if len(n.Companies) == 0 {
				log.Debug("insight: no companies for partner")
				return nil
			}
			if err := crm.CreateMessage(ctx, e.CRMRef, n.Summary()); err != nil {
				return eris.Wrap(err, "insight: publish network note")
			}
			log.Info("insight: network noted", zap.Int("companies", len(n.Companies)))
			return nil
		},
	}
}
