package salesforce

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitName(t *testing.T) {
	tests := []struct {
		in          string
		first, last string
	}{
		{"", "", ""},
		{"Silva", "", "Silva"},
		{"Maria Silva", "Maria", "Silva"},
		{"  Maria  da   Silva ", "Maria", "da Silva"},
	}
	for _, tt := range tests {
		first, last := SplitName(tt.in)
		assert.Equal(t, tt.first, first, tt.in)
		assert.Equal(t, tt.last, last, tt.in)
	}
}

func TestIsRecordID(t *testing.T) {
	assert.True(t, IsRecordID("00Q5g000004XyZa"))
	assert.True(t, IsRecordID("00Q5g000004XyZaEAK"))
	assert.False(t, IsRecordID("evt-1"))
	assert.False(t, IsRecordID("00Q5g000004XyZ-EAK"))
	assert.False(t, IsRecordID(""))
}

func TestCreateLead(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var capturedObject string
		var capturedFields map[string]any
		mc := &mockClient{
			createFn: func(_ context.Context, sObject string, record map[string]any) (string, error) {
				capturedObject = sObject
				capturedFields = record
				return "00QNEW", nil
			},
		}

		id, err := CreateLead(context.Background(), mc, LeadInput{
			Name:   "Maria da Silva",
			Phone:  "11999887766",
			Source: "landing",
			TaxID:  "12345678909",
		})
		require.NoError(t, err)
		assert.Equal(t, "00QNEW", id)
		assert.Equal(t, "Lead", capturedObject)
		assert.Equal(t, "Maria", capturedFields["FirstName"])
		assert.Equal(t, "da Silva", capturedFields["LastName"])
		assert.Equal(t, defaultCompany, capturedFields["Company"])
		assert.Equal(t, "12345678909", capturedFields[TaxIDField])
		assert.NotContains(t, capturedFields, "Email")
	})

	t.Run("falls back to phone for last name", func(t *testing.T) {
		var capturedFields map[string]any
		mc := &mockClient{
			createFn: func(_ context.Context, _ string, record map[string]any) (string, error) {
				capturedFields = record
				return "00Q1", nil
			},
		}
		_, err := CreateLead(context.Background(), mc, LeadInput{Phone: "11999887766"})
		require.NoError(t, err)
		assert.Equal(t, "11999887766", capturedFields["LastName"])
		assert.NotContains(t, capturedFields, "FirstName")
	})

	t.Run("nothing to name the lead", func(t *testing.T) {
		_, err := CreateLead(context.Background(), &mockClient{}, LeadInput{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "LastName is required")
	})

	t.Run("propagates error", func(t *testing.T) {
		mc := &mockClient{
			createFn: func(_ context.Context, _ string, _ map[string]any) (string, error) {
				return "", errors.New("api error")
			},
		}
		_, err := CreateLead(context.Background(), mc, LeadInput{Name: "Test"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "create lead")
	})
}

func TestFindLeadByTaxID(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		var capturedSOQL string
		mc := &mockClient{
			queryFn: func(_ context.Context, soql string, out any) error {
				capturedSOQL = soql
				leads := out.(*[]Lead)
				*leads = []Lead{{ID: "00Qxx", LastName: "Silva", TaxID: "12345678909"}}
				return nil
			},
		}
		l, err := FindLeadByTaxID(context.Background(), mc, "12345678909")
		require.NoError(t, err)
		require.NotNil(t, l)
		assert.Equal(t, "00Qxx", l.ID)
		assert.Contains(t, capturedSOQL, "CPF__c = '12345678909'")
	})

	t.Run("not found", func(t *testing.T) {
		l, err := FindLeadByTaxID(context.Background(), &mockClient{}, "12345678909")
		require.NoError(t, err)
		assert.Nil(t, l)
	})

	t.Run("injection escaped", func(t *testing.T) {
		var capturedSOQL string
		mc := &mockClient{
			queryFn: func(_ context.Context, soql string, _ any) error {
				capturedSOQL = soql
				return nil
			},
		}
		_, _ = FindLeadByTaxID(context.Background(), mc, "1' OR Id != '")
		assert.Contains(t, capturedSOQL, "1\\' OR Id != \\'")
	})

	t.Run("error", func(t *testing.T) {
		mc := &mockClient{
			queryFn: func(_ context.Context, _ string, _ any) error { return errors.New("timeout") },
		}
		_, err := FindLeadByTaxID(context.Background(), mc, "12345678909")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "find lead by tax id")
	})
}

func TestUpdateLeadTaxID(t *testing.T) {
	var gotID string
	var gotFields map[string]any
	mc := &mockClient{
		updateFn: func(_ context.Context, sObject, id string, fields map[string]any) error {
			assert.Equal(t, "Lead", sObject)
			gotID, gotFields = id, fields
			return nil
		},
	}
	require.NoError(t, UpdateLeadTaxID(context.Background(), mc, "00Qxx", "12345678909"))
	assert.Equal(t, "00Qxx", gotID)
	assert.Equal(t, "12345678909", gotFields[TaxIDField])

	err := UpdateLeadTaxID(context.Background(), mc, "", "12345678909")
	assert.Error(t, err)
}
