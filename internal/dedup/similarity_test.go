package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	t.Run("identical vectors", func(t *testing.T) {
		cos, err := CosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3})
		require.NoError(t, err)
		assert.InDelta(t, 1.0, cos, 1e-9)
	})

	t.Run("orthogonal vectors", func(t *testing.T) {
		cos, err := CosineSimilarity([]float32{1, 0}, []float32{0, 1})
		require.NoError(t, err)
		assert.InDelta(t, 0.0, cos, 1e-9)
	})

	t.Run("opposite vectors", func(t *testing.T) {
		cos, err := CosineSimilarity([]float32{1, 0}, []float32{-1, 0})
		require.NoError(t, err)
		assert.InDelta(t, -1.0, cos, 1e-9)
	})

	t.Run("zero vector scores zero", func(t *testing.T) {
		cos, err := CosineSimilarity([]float32{0, 0}, []float32{1, 1})
		require.NoError(t, err)
		assert.Equal(t, 0.0, cos)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3})
		assert.Error(t, err)
	})
}

func TestKeywordOverlap(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []string
		expected float64
	}{
		{"identical", []string{"coca", "cola"}, []string{"coca", "cola"}, 1.0},
		{"disjoint", []string{"coca", "cola"}, []string{"red", "bull"}, 0.0},
		{"scaled by smaller set", []string{"coca", "cola", "zero", "330ml"}, []string{"coca", "cola"}, 1.0},
		{"partial", []string{"coca", "cola", "zero"}, []string{"coca", "cola", "light"}, 2.0 / 3.0},
		{"empty a", nil, []string{"cola"}, 0.0},
		{"empty b", []string{"cola"}, nil, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, KeywordOverlap(tt.a, tt.b), 1e-9)
		})
	}
}

func TestHybridScore(t *testing.T) {
	// 0.7 * cos + 0.3 * overlap with both terms in range.
	assert.InDelta(t, 0.86, HybridScore(0.8, 1.0, 0.7, 0.3), 1e-9)
	assert.InDelta(t, 1.0, HybridScore(1.0, 1.0, 0.7, 0.3), 1e-9)
	assert.InDelta(t, 0.0, HybridScore(0.0, 0.0, 0.7, 0.3), 1e-9)

	// Negative cosine clamps to zero rather than dragging the score down.
	assert.InDelta(t, 0.3, HybridScore(-0.5, 1.0, 0.7, 0.3), 1e-9)

	// Cosine above one (float drift) clamps to one.
	assert.InDelta(t, 0.7, HybridScore(1.0001, 0.0, 0.7, 0.3), 1e-9)
}
