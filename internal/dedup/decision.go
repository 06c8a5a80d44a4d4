package dedup

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-dedup/internal/model"
)

// ApplyReviewDecision applies a human verdict on a flagged group through the
// same registry semantics as automated decisions. A discard clears group_id
// for every member, leaving no trace beyond the audit match type; a merge
// verifies the group as-is and lifts the review flag.
func ApplyReviewDecision(records []*model.Record, groupID int64, decision model.ReviewDecision) error {
	reg := NewRegistryFromRecords(records, nil)

	byID := make(map[string]*model.Record, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	members := reg.Members(groupID)
	if len(members) == 0 {
		return eris.Wrapf(ErrGroupNotFound, "review decision for group %d", groupID)
	}

	switch decision {
	case model.ReviewDiscard:
		if err := reg.Discard(groupID); err != nil {
			return err
		}
		for _, id := range members {
			r := byID[id]
			r.ClearGroup()
			r.MatchType = model.MatchUnresolved
			r.Confidence = 0
			r.ReviewRequired = false
		}
	case model.ReviewMerge:
		if err := reg.Verify(groupID); err != nil {
			return err
		}
		// The step that formed the group keeps the audit trail; a human
		// confirmation only settles the review flag.
		for _, id := range members {
			byID[id].ReviewRequired = false
		}
	default:
		return eris.Errorf("dedup: unknown review decision %q", decision)
	}

	return nil
}
