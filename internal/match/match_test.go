package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFold(t *testing.T) {
	assert.Equal(t, "joao conceicao", Fold("João Conceição"))
	assert.Equal(t, "maria", Fold("MARIA"))
}

func TestScore(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		supplied  string
		min, max  float64
	}{
		{"identical", "Maria Silva", "Maria Silva", 1, 1},
		{"case and accents", "MARIA SÍLVA", "maria silva", 1, 1},
		{"extra surname with connective", "Maria da Silva Santos", "Maria Silva", 0.7, 0.8},
		{"different person", "Jose Pereira", "Maria Silva", 0, 0},
		{"shared surname only", "Ana Silva", "Maria Silva", 0.3, 0.34},
		{"empty candidate", "", "Maria Silva", 0, 0},
		{"only connectives", "de da", "Maria", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.candidate, tt.supplied)
			assert.GreaterOrEqual(t, got, tt.min)
			assert.LessOrEqual(t, got, tt.max)
		})
	}
}

func TestScore_ThresholdBoundary(t *testing.T) {
	assert.GreaterOrEqual(t, Score("Maria da Silva Santos", "Maria Silva"), DefaultThreshold)
	assert.Less(t, Score("Maria Aparecida Souza Lima", "Maria Silva"), DefaultThreshold)
}

func TestBest(t *testing.T) {
	cands := []Candidate{
		{ID: "a", Name: "Jose Pereira"},
		{ID: "b", Name: "Maria Silva"},
		{ID: "c", Name: "Maria da Silva"},
	}
	best, ok := Best(cands, "Maria Silva")
	assert.True(t, ok)
	assert.Equal(t, "b", best.ID, "tie keeps earlier candidate")
	assert.Equal(t, 1.0, best.Score)

	_, ok = Best(nil, "Maria Silva")
	assert.False(t, ok)
}
