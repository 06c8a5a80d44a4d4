package model

import "strings"

// MatchType records which resolution step established a record's current group
// membership (or cleared it).
type MatchType string

const (
	MatchExactItemCode   MatchType = "exact_item_code"
	MatchExactBarcode    MatchType = "exact_barcode"
	MatchFuzzyHybrid     MatchType = "fuzzy_hybrid"
	MatchRerankVerified  MatchType = "rerank_verified"
	MatchRerankDiscarded MatchType = "rerank_discarded"
	MatchLLMMatched      MatchType = "llm_matched"
	MatchLLMDiscarded    MatchType = "llm_discarded"
	MatchUnresolved      MatchType = "unresolved"
)

// IsValid reports whether mt is one of the known match types.
func (mt MatchType) IsValid() bool {
	switch mt {
	case MatchExactItemCode, MatchExactBarcode, MatchFuzzyHybrid,
		MatchRerankVerified, MatchRerankDiscarded,
		MatchLLMMatched, MatchLLMDiscarded, MatchUnresolved:
		return true
	}
	return false
}

// Record is one catalog row flowing through the resolution pipeline.
// Identifiers and descriptions are immutable after ingest; group state is
// mutated only through the group registry.
type Record struct {
	ID             string `json:"record_id"`
	ItemCode       string `json:"item_code,omitempty"`
	Barcode        string `json:"barcode,omitempty"`
	Description    string `json:"description"`
	DescriptionExt string `json:"description_extended,omitempty"`

	// Derived fields, populated during a run.
	NormalizedDescription string    `json:"normalized_description,omitempty"`
	Embedding             []float32 `json:"-"`

	// Resolution output.
	GroupID        int64     `json:"group_id,omitempty"`
	MatchType      MatchType `json:"match_type"`
	Confidence     float64   `json:"confidence"`
	ReviewRequired bool      `json:"review_required"`

	// ResolveFailed marks records whose provider calls exhausted retries.
	ResolveFailed bool `json:"resolve_failed,omitempty"`
}

// EmbeddingText returns the raw text submitted to the embedding provider:
// the primary description, with the extended description appended when present.
func (r *Record) EmbeddingText() string {
	if r.DescriptionExt == "" {
		return r.Description
	}
	return strings.TrimSpace(r.Description + " " + r.DescriptionExt)
}

// Grouped reports whether the record currently belongs to a cluster.
func (r *Record) Grouped() bool {
	return r.GroupID != 0
}

// ClearGroup removes the record's cluster membership without touching the
// audit fields (match type and confidence are owned by the steps).
func (r *Record) ClearGroup() {
	r.GroupID = 0
}
