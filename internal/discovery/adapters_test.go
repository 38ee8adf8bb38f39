package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/internal/resilience"
	"github.com/sells-group/lead-enricher/pkg/identity"
	"github.com/sells-group/lead-enricher/pkg/namesearch"
	"github.com/sells-group/lead-enricher/pkg/phonelookup"
)

func testGuard(threshold int) *Guard {
	return &Guard{
		Breakers: resilience.NewBreakers(resilience.BreakerConfig{FailureThreshold: threshold, ResetTimeout: time.Hour}),
		Retry:    resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	}
}

func TestIdentityProvider_Lookup(t *testing.T) {
	m := &mockIdentity{}
	m.On("FetchByPhone", mock.Anything, "11999887766").Return([]identity.Person{
		{TaxID: "123.456.789-09", Name: "Maria Silva"},
	}, nil)

	p := NewIdentityProvider(m, nil)
	assert.Equal(t, ProviderIdentity, p.Name())
	assert.True(t, p.Supports(Query{Phone: "(11) 99988-7766"}))
	assert.False(t, p.Supports(Query{Name: "Maria"}))

	res := p.Lookup(context.Background(), Query{Phone: "(11) 99988-7766"})
	assert.Equal(t, Matched, res.Kind)
	assert.Equal(t, []model.Candidate{{TaxID: "123.456.789-09", Name: "Maria Silva"}}, res.Candidates)
	m.AssertExpectations(t)
}

func TestIdentityProvider_EmptyIsNotFound(t *testing.T) {
	m := &mockIdentity{}
	m.On("FetchByPhone", mock.Anything, "11999887766").Return(nil, nil)

	res := NewIdentityProvider(m, nil).Lookup(context.Background(), maria)
	assert.Equal(t, NotFound, res.Kind)
}

func TestIdentityProvider_TransientRetriedThenUnavailable(t *testing.T) {
	m := &mockIdentity{}
	m.On("FetchByPhone", mock.Anything, "11999887766").
		Return(nil, resilience.NewTransientError(errors.New("busy"), 503)).Twice()

	res := NewIdentityProvider(m, testGuard(10)).Lookup(context.Background(), maria)
	assert.Equal(t, Unavailable, res.Kind)
	assert.ErrorIs(t, res.Err, ErrUnavailable)
	m.AssertNumberOfCalls(t, "FetchByPhone", 2)
}

func TestIdentityProvider_OpenCircuit(t *testing.T) {
	m := &mockIdentity{}
	m.On("FetchByPhone", mock.Anything, "11999887766").Return(nil, errors.New("bad gateway")).Once()

	p := NewIdentityProvider(m, testGuard(1))
	assert.Equal(t, Unavailable, p.Lookup(context.Background(), maria).Kind)

	res := p.Lookup(context.Background(), maria)
	assert.Equal(t, Unavailable, res.Kind)
	assert.ErrorContains(t, res.Err, "circuit open")
	m.AssertNumberOfCalls(t, "FetchByPhone", 1)
}

func TestIdentityProvider_Deadline(t *testing.T) {
	m := &mockIdentity{}
	m.On("FetchByPhone", mock.Anything, "11999887766").Return(nil, context.DeadlineExceeded)

	res := NewIdentityProvider(m, nil).Lookup(context.Background(), maria)
	assert.Equal(t, Timeout, res.Kind)
}

func TestNameSearchProvider_Lookup(t *testing.T) {
	m := &mockNameSearch{}
	m.On("SearchByName", mock.Anything, "Maria Silva", 10).Return([]namesearch.Person{
		{TaxID: "12345678909", Name: "MARIA DA SILVA"},
		{TaxID: "52998224725", Name: "MARIA SILVEIRA"},
	}, nil)

	p := NewNameSearchProvider(m, nil, 0)
	assert.False(t, p.Supports(Query{Phone: "1"}))
	assert.True(t, p.Supports(maria))

	res := p.Lookup(context.Background(), maria)
	require.Equal(t, Matched, res.Kind)
	assert.Len(t, res.Candidates, 2)
	m.AssertExpectations(t)
}

func TestPhoneProvider_Lookup(t *testing.T) {
	m := &mockPhone{name: "vendor"}
	m.On("FindByPhone", mock.Anything, "11999887766").Return(&phonelookup.Match{TaxID: "12345678909", Name: "Maria"}, nil).Once()
	m.On("FindByPhone", mock.Anything, "11000000000").Return(nil, nil).Once()
	m.On("FindByPhone", mock.Anything, "11111111111").Return(nil, phonelookup.ErrUnavailable).Once()

	p := NewPhoneProvider(ProviderPhoneA, m, nil)
	assert.Equal(t, ProviderPhoneA, p.Name())

	res := p.Lookup(context.Background(), Query{Phone: "11999887766"})
	assert.Equal(t, Matched, res.Kind)
	assert.Equal(t, "12345678909", res.Candidates[0].TaxID)

	assert.Equal(t, NotFound, p.Lookup(context.Background(), Query{Phone: "11000000000"}).Kind)
	assert.Equal(t, Unavailable, p.Lookup(context.Background(), Query{Phone: "11111111111"}).Kind)
	m.AssertExpectations(t)
}

func TestChain_WithAdapters(t *testing.T) {
	id := &mockIdentity{}
	id.On("FetchByPhone", mock.Anything, "11999887766").Return(nil, errors.New("down"))
	ns := &mockNameSearch{}
	ns.On("SearchByName", mock.Anything, "Maria Silva", 10).Return([]namesearch.Person{{TaxID: "12345678901", Name: "Maria Silva"}}, nil)
	pa := &mockPhone{name: "a"}
	pa.On("FindByPhone", mock.Anything, "11999887766").Return(nil, phonelookup.ErrUnavailable)
	pb := &mockPhone{name: "b"}
	pb.On("FindByPhone", mock.Anything, "11999887766").Return(&phonelookup.Match{TaxID: "00012345678909", Name: "Maria Silva"}, nil)

	reg := NewRegistry()
	reg.Register(NewIdentityProvider(id, nil))
	reg.Register(NewNameSearchProvider(ns, nil, 10))
	reg.Register(NewPhoneProvider(ProviderPhoneA, pa, nil))
	reg.Register(NewPhoneProvider(ProviderPhoneB, pb, nil))

	tiers, err := DefaultChainConfig(5).Build(reg)
	require.NoError(t, err)

	dr, err := NewChain(tiers).Resolve(context.Background(), maria)
	require.NoError(t, err)
	require.NotNil(t, dr)
	assert.Equal(t, ProviderPhoneB, dr.Source)
	assert.Equal(t, 4, dr.Tier)
	assert.Equal(t, "12345678909", dr.TaxID)
}
