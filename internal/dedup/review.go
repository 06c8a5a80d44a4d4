package dedup

import (
	"go.uber.org/zap"

	"github.com/sells-group/catalog-dedup/internal/model"
)

// ReviewStats summarizes the final flagging and cleanup pass.
type ReviewStats struct {
	Flagged        int
	OrphansCleared int
}

// ReviewStep runs the two whole-collection passes that close a run.
//
// Pass 1 flags for manual review every record whose cluster membership was
// established below the review threshold, and every record whose provider
// calls failed, regardless of which step produced the outcome.
//
// Pass 2 enforces the orphan invariant: any group left with fewer than two
// members has its id cleared from the survivor and the record reset to
// unresolved, and any record still pointing at a discarded or vanished group
// is likewise reset.
func ReviewStep(records []*model.Record, reg *Registry, reviewThreshold float64) *ReviewStats {
	stats := &ReviewStats{}

	for _, g := range reg.Groups() {
		if g.Size() >= 2 {
			continue
		}
		if err := reg.Discard(g.ID); err != nil {
			// Already discarded groups are filtered out of Groups; a failure
			// here means registry state corruption, which the records sync
			// below still papers over for output consistency.
			zap.L().Error("dedup: orphan discard failed", zap.Int64("group_id", g.ID), zap.Error(err))
		}
	}

	for _, r := range records {
		if r.Grouped() {
			gid, ok := reg.GroupOf(r.ID)
			if !ok || gid != r.GroupID {
				r.ClearGroup()
				r.MatchType = model.MatchUnresolved
				r.Confidence = 0
				stats.OrphansCleared++
			}
		}

		if (r.Grouped() && r.Confidence < reviewThreshold) || r.ResolveFailed {
			r.ReviewRequired = true
			stats.Flagged++
		}
	}

	zap.L().Info("dedup: review flagging complete",
		zap.Int("flagged", stats.Flagged),
		zap.Int("orphans_cleared", stats.OrphansCleared),
	)
	return stats
}
