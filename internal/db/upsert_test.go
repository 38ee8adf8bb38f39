package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertSQL_NoColumns(t *testing.T) {
	_, err := UpsertSQL(UpsertConfig{
		Table:        "parties",
		ConflictKeys: []string{"tax_id"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestUpsertSQL_NoConflictKeys(t *testing.T) {
	_, err := UpsertSQL(UpsertConfig{
		Table:   "parties",
		Columns: []string{"id", "tax_id"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestUpsertSQL_UpdateAllNonConflict(t *testing.T) {
	sql, err := UpsertSQL(UpsertConfig{
		Table:        "parties",
		Columns:      []string{"id", "tax_id", "name"},
		ConflictKeys: []string{"tax_id"},
		Returning:    []string{"id"},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "parties" ("id", "tax_id", "name") VALUES ($1, $2, $3) ON CONFLICT ("tax_id") DO UPDATE SET "id" = EXCLUDED."id", "name" = EXCLUDED."name" RETURNING "id"`,
		sql)
}

func TestUpsertSQL_Coalesce(t *testing.T) {
	sql, err := UpsertSQL(UpsertConfig{
		Table:        "public.parties",
		Columns:      []string{"tax_id", "name"},
		ConflictKeys: []string{"tax_id"},
		Coalesce:     true,
	})
	require.NoError(t, err)
	assert.Contains(t, sql, `"name" = COALESCE(EXCLUDED."name", "public"."parties"."name")`)
}

func TestUpsertSQL_DoNothing(t *testing.T) {
	sql, err := UpsertSQL(UpsertConfig{
		Table:        "contacts",
		Columns:      []string{"id", "party_id", "kind", "value"},
		ConflictKeys: []string{"party_id", "kind", "value"},
		DoNothing:    true,
	})
	require.NoError(t, err)
	assert.Contains(t, sql, `ON CONFLICT ("party_id", "kind", "value") DO NOTHING`)
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"public.parties", `"public"."parties"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeTable(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"id", "name", "value"})
	assert.Equal(t, `"id", "name", "value"`, result)
}
