package dedup

import "context"

// Embedder converts description text into fixed-width embedding vectors.
// Implementations accept up to 250 texts per call and return one vector per
// input, in order. Errors are classified by the resilience package: transient
// failures are retried by callers, permanent ones are not.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// PairVerdict is the outcome of a pairwise cross-encoder check.
type PairVerdict struct {
	Match      bool
	Confidence float64
	Rationale  string
}

// PairwiseClassifier scores two descriptions jointly, checking the supplied
// differentiating attributes (flavor, size, pack quantity).
type PairwiseClassifier interface {
	Classify(ctx context.Context, textA, textB string, attributes []string) (*PairVerdict, error)
}

// GroupVerdict is the outcome of a whole-group adjudication.
type GroupVerdict struct {
	Merge     bool
	Rationale string
}

// GroupClassifier adjudicates whether every member of a candidate cluster
// denotes the same item, under the supplied constraints.
type GroupClassifier interface {
	Adjudicate(ctx context.Context, members []string, constraints string) (*GroupVerdict, error)
}
