package dedup

import (
	"math"

	"github.com/rotisserie/eris"
)

// CosineSimilarity computes the cosine of the angle between two vectors.
// The natural range is [-1, 1]; HybridScore clamps negatives before weighting.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, eris.Errorf("dedup: vector sizes do not match (%d vs %d)", len(a), len(b))
	}

	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}

	if magA == 0 || magB == 0 {
		return 0, nil
	}

	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), nil
}

// KeywordOverlap scores the shared-token count of two token sets, scaled to
// [0, 1] by the size of the smaller set. Empty input on either side scores 0.
func KeywordOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}

	shared := 0
	for _, t := range b {
		if _, ok := set[t]; ok {
			shared++
		}
	}

	shorter := len(a)
	if len(b) < shorter {
		shorter = len(b)
	}
	return float64(shared) / float64(shorter)
}

// HybridScore combines clamped cosine similarity with keyword overlap.
// With weights summing to 1 and both inputs in [0, 1], the score is in [0, 1].
func HybridScore(cosine, overlap, vectorWeight, keywordWeight float64) float64 {
	if cosine < 0 {
		cosine = 0
	}
	if cosine > 1 {
		cosine = 1
	}
	return vectorWeight*cosine + keywordWeight*overlap
}
