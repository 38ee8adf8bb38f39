package enrich

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-enricher/internal/discovery"
	"github.com/sells-group/lead-enricher/internal/guard"
	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/internal/store"
	"github.com/sells-group/lead-enricher/pkg/identity"
	"github.com/sells-group/lead-enricher/pkg/salesforce"
)

// --- Resolver fake ---

type fakeResolver struct {
	res   *discovery.DiscoveryResult
	err   error
	calls atomic.Int32
	fn    func(ctx context.Context, q discovery.Query) (*discovery.DiscoveryResult, error)
}

func (f *fakeResolver) Resolve(ctx context.Context, q discovery.Query) (*discovery.DiscoveryResult, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx, q)
	}
	return f.res, f.err
}

// --- Profile source fake ---

type profileFunc func(ctx context.Context, taxID string) (*identity.Profile, error)

func (f profileFunc) FetchByTaxID(ctx context.Context, taxID string) (*identity.Profile, error) {
	return f(ctx, taxID)
}

func staticProfile(p *identity.Profile) profileFunc {
	return func(context.Context, string) (*identity.Profile, error) { return p, nil }
}

// blockingProfile ignores its context and answers only when release closes.
func blockingProfile(release <-chan struct{}) profileFunc {
	return func(context.Context, string) (*identity.Profile, error) {
		<-release
		return nil, nil
	}
}

// --- Publisher mock ---

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) CreateMessage(ctx context.Context, externalID, text string) error {
	args := m.Called(ctx, externalID, text)
	return args.Error(0)
}

func (m *mockPublisher) CreateLead(ctx context.Context, in salesforce.LeadInput) (string, error) {
	args := m.Called(ctx, in)
	return args.String(0), args.Error(1)
}

// --- Helpers ---

const (
	testTaxID = "12345678909"
	testPhone = "11999887766"
	testCRMID = "00Q5g000004XyZaEAK"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "enrich.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func seedLead(t *testing.T, st store.Store) *model.Lead {
	t.Helper()
	lead, err := st.CreateLead(context.Background(), &model.Lead{
		ExternalID: testCRMID,
		Name:       "Maria Silva",
		Phone:      testPhone,
		Source:     "landing",
	})
	require.NoError(t, err)
	return lead
}

func newGuard() *guard.Guard {
	return guard.New(time.Minute, 10*time.Minute)
}

func tier1Match() *discovery.DiscoveryResult {
	return &discovery.DiscoveryResult{
		TaxID:          testTaxID,
		Tier:           1,
		Source:         discovery.ProviderIdentity,
		CandidateNames: []string{"Maria Silva"},
		Confidence:     1,
	}
}

func fullProfile() *identity.Profile {
	income := 25000.0
	return &identity.Profile{
		TaxID:      "123.456.789-09",
		Name:       "MARIA SILVA",
		BirthDate:  "1985-04-12",
		Gender:     "F",
		MotherName: "ANA SILVA",
		Income:     &income,
		Occupation: "Engenheira",
		Phones:     []identity.Phone{{Number: "(11) 99988-7766"}, {Number: "11999887766"}},
		Emails:     []identity.Email{{Address: " Maria@Example.com "}},
		Addresses: []identity.Address{{
			Street: "Rua das Flores", Number: "10", City: "Sao Paulo", State: "sp", PostalCode: "01234-567",
		}},
	}
}

// stampingPublisher also records the verified identifier on the record.
type stampingPublisher struct {
	mockPublisher
}

func (m *stampingPublisher) StampTaxID(ctx context.Context, ref, taxID string) error {
	return m.Called(ctx, ref, taxID).Error(0)
}
