package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/lead-enricher/pkg/identity"
	"github.com/sells-group/lead-enricher/pkg/namesearch"
	"github.com/sells-group/lead-enricher/pkg/phonelookup"
)

// stubProvider returns a scripted Result and records calls.
type stubProvider struct {
	name     string
	supports func(Query) bool
	result   Result
	delay    time.Duration

	mu    sync.Mutex
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Supports(q Query) bool {
	if s.supports == nil {
		return true
	}
	return s.supports(q)
}

func (s *stubProvider) Lookup(ctx context.Context, _ Query) Result {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return Failed(ctx.Err())
		case <-time.After(s.delay):
		}
	}
	return s.result
}

func (s *stubProvider) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type mockIdentity struct{ mock.Mock }

func (m *mockIdentity) FetchByPhone(ctx context.Context, phone string) ([]identity.Person, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]identity.Person), args.Error(1)
}

func (m *mockIdentity) FetchByTaxID(ctx context.Context, taxID string) (*identity.Profile, error) {
	args := m.Called(ctx, taxID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Profile), args.Error(1)
}

type mockNameSearch struct{ mock.Mock }

func (m *mockNameSearch) SearchByName(ctx context.Context, name string, limit int) ([]namesearch.Person, error) {
	args := m.Called(ctx, name, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]namesearch.Person), args.Error(1)
}

func (m *mockNameSearch) CompaniesByPartner(ctx context.Context, taxID string, limit int) ([]namesearch.Company, error) {
	args := m.Called(ctx, taxID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]namesearch.Company), args.Error(1)
}

type mockPhone struct {
	mock.Mock
	name string
}

func (m *mockPhone) Name() string { return m.name }

func (m *mockPhone) FindByPhone(ctx context.Context, phone string) (*phonelookup.Match, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*phonelookup.Match), args.Error(1)
}
