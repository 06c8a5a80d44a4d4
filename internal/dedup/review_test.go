package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-dedup/internal/model"
)

func TestReviewFlagsLowConfidence(t *testing.T) {
	low := rec("low", "", "", "item a")
	lowPartner := rec("low2", "", "", "item a variant")
	high := rec("high", "", "", "item b")
	highPartner := rec("high2", "", "", "item b variant")
	boundary := rec("edge", "", "", "item c")
	boundaryPartner := rec("edge2", "", "", "item c variant")

	reg := NewRegistry()
	fuzzyGroup(t, reg, 0.75, low, lowPartner)
	fuzzyGroup(t, reg, 0.95, high, highPartner)
	fuzzyGroup(t, reg, 0.8, boundary, boundaryPartner)

	records := []*model.Record{low, lowPartner, high, highPartner, boundary, boundaryPartner}
	stats := ReviewStep(records, reg, 0.8)

	assert.Equal(t, 2, stats.Flagged)
	assert.True(t, low.ReviewRequired)
	assert.True(t, lowPartner.ReviewRequired)
	assert.False(t, high.ReviewRequired)
	assert.False(t, boundary.ReviewRequired, "confidence exactly at the threshold is not flagged")
}

func TestReviewFlagsResolveFailures(t *testing.T) {
	failed := rec("failed", "", "", "item a")
	failed.ResolveFailed = true
	clean := rec("clean", "", "", "item b")

	stats := ReviewStep([]*model.Record{failed, clean}, NewRegistry(), 0.8)

	assert.Equal(t, 1, stats.Flagged)
	assert.True(t, failed.ReviewRequired, "failed records are flagged even when ungrouped")
	assert.False(t, clean.ReviewRequired)
}

func TestReviewClearsOrphans(t *testing.T) {
	// A group reduced to one member: the survivor is reset and the group
	// discarded so no singleton cluster reaches the output.
	survivor := &model.Record{ID: "a", Description: "x", GroupID: 5, MatchType: model.MatchFuzzyHybrid, Confidence: 0.91}
	reg := NewRegistryFromRecords([]*model.Record{survivor}, nil)

	stats := ReviewStep([]*model.Record{survivor}, reg, 0.8)

	assert.Equal(t, 1, stats.OrphansCleared)
	assert.False(t, survivor.Grouped())
	assert.Equal(t, model.MatchUnresolved, survivor.MatchType)
	assert.Equal(t, 0.0, survivor.Confidence)

	status, ok := reg.Status(int64(5))
	require.True(t, ok)
	assert.Equal(t, model.GroupDiscarded, status)
}

func TestReviewSyncsStaleGroupID(t *testing.T) {
	a := rec("a", "", "", "item a")
	b := rec("b", "", "", "item b")
	reg := NewRegistry()
	fuzzyGroup(t, reg, 0.95, a, b)

	// A record pointing at a group the registry no longer associates it with.
	stale := rec("stale", "", "", "item c")
	stale.GroupID = 999
	stale.MatchType = model.MatchFuzzyHybrid
	stale.Confidence = 0.92

	stats := ReviewStep([]*model.Record{a, b, stale}, reg, 0.8)

	assert.Equal(t, 1, stats.OrphansCleared)
	assert.False(t, stale.Grouped())
	assert.Equal(t, model.MatchUnresolved, stale.MatchType)

	// The intact group is untouched.
	assert.True(t, a.Grouped())
	assert.Equal(t, a.GroupID, b.GroupID)
}
