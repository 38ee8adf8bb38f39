package insight

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/lead-enricher/pkg/anthropic"
	"github.com/sells-group/lead-enricher/pkg/namesearch"
)

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) Complete(ctx context.Context, p anthropic.Prompt) (*anthropic.Completion, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.Completion), args.Error(1)
}

type mockNameSearch struct {
	mock.Mock
}

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

type mockNoter struct {
	mock.Mock
}

func (m *mockNoter) CreateMessage(ctx context.Context, externalID, text string) error {
	return m.Called(ctx, externalID, text).Error(0)
}

func textResponse(text string) *anthropic.Completion {
	return &anthropic.Completion{
		Text:  text,
		Usage: anthropic.Usage{Input: 120, Output: 60},
	}
}
