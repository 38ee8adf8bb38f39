package enrich

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/pkg/identity"
)

// ErrProfileTimeout marks a profile fetch that did not answer within its
// deadline. It is distinct from a provider that answered with no data.
var ErrProfileTimeout = eris.New("enrich: profile fetch timed out")

// ProfileSource fetches full profiles by verified identifier.
type ProfileSource interface {
	FetchByTaxID(ctx context.Context, taxID string) (*identity.Profile, error)
}

type fetched struct {
	profile *identity.Profile
	err     error
}

// FetchProfile fetches the profile for taxID, bounded by timeout. It returns
// (nil, nil) when the provider has no data and an error wrapping
// ErrProfileTimeout when the deadline passes first, even if the source
// ignores its context.
func FetchProfile(ctx context.Context, src ProfileSource, taxID string, timeout time.Duration) (*model.Profile, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ch := make(chan fetched, 1)
	go func() {
		p, err := src.FetchByTaxID(ctx, taxID)
		ch <- fetched{profile: p, err: err}
	}()

	var r fetched
	select {
	case <-ctx.Done():
		if eris.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, eris.Wrapf(ErrProfileTimeout, "after %s", timeout)
		}
		return nil, eris.Wrap(ctx.Err(), "enrich: fetch profile")
	case r = <-ch:
	}

	if r.err != nil {
		if eris.Is(r.err, context.DeadlineExceeded) {
			return nil, eris.Wrapf(ErrProfileTimeout, "after %s", timeout)
		}
		return nil, eris.Wrap(r.err, "enrich: fetch profile")
	}
	if r.profile == nil {
		return nil, nil
	}
	p := ToProfile(r.profile, taxID)
	return &p, nil
}

var birthDateLayouts = []string{"2006-01-02", "02/01/2006", time.RFC3339}

// ToProfile converts a provider record. The profile is keyed by the verified
// taxID the caller asked for, not by whatever formatting the provider used.
func ToProfile(src *identity.Profile, taxID string) model.Profile {
	p := model.Profile{
		TaxID:         taxID,
		Name:          strings.TrimSpace(src.Name),
		Gender:        strings.TrimSpace(src.Gender),
		MotherName:    strings.TrimSpace(src.MotherName),
		Income:        src.Income,
		NetWorth:      src.NetWorth,
		Occupation:    strings.TrimSpace(src.Occupation),
		Education:     strings.TrimSpace(src.Education),
		MaritalStatus: strings.TrimSpace(src.MaritalStatus),
	}
	if bd := strings.TrimSpace(src.BirthDate); bd != "" {
		for _, layout := range birthDateLayouts {
			if t, err := time.Parse(layout, bd); err == nil {
				t = t.UTC()
				p.BirthDate = &t
				break
			}
		}
	}

	seen := make(map[string]bool)
	for _, ph := range src.Phones {
		d := digits(ph.Number)
		if d == "" || seen["p"+d] {
			continue
		}
		seen["p"+d] = true
		p.Phones = append(p.Phones, d)
	}
	for _, em := range src.Emails {
		e := strings.ToLower(strings.TrimSpace(em.Address))
		if e == "" || seen["e"+e] {
			continue
		}
		seen["e"+e] = true
		p.Emails = append(p.Emails, e)
	}
	for _, a := range src.Addresses {
		p.Addresses = append(p.Addresses, model.Address{
			Street:     strings.TrimSpace(a.Street),
			Number:     strings.TrimSpace(a.Number),
			Complement: strings.TrimSpace(a.Complement),
			District:   strings.TrimSpace(a.District),
			City:       strings.TrimSpace(a.City),
			State:      strings.ToUpper(strings.TrimSpace(a.State)),
			PostalCode: digits(a.PostalCode),
		})
	}
	return p
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
