package dedup

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/catalog-dedup/internal/config"
	"github.com/sells-group/catalog-dedup/internal/model"
	"github.com/sells-group/catalog-dedup/internal/resilience"
)

// mergeConstraints is the standing instruction for whole-group adjudication.
const mergeConstraints = "Never merge different varieties of the same brand. " +
	"Items differing in flavor, scent, size, volume, or pack quantity are different products."

// MergeStats summarizes the merge-resolution pass.
type MergeStats struct {
	GroupsChecked   int
	GroupsConfirmed int
	GroupsDiscarded int
	GroupsFailed    int
}

// MergeResolveStep adjudicates every group still provisional after reranking
// as a whole. A confirmed merge verifies the group and stamps every member
// llm_matched; a rejected merge discards the group outright, clearing every
// member (a partial merge is never left standing). Adjudication failures
// after retries also discard, leaving the members unresolved rather than
// carrying an unchecked cluster into the output.
func MergeResolveStep(ctx context.Context, byID map[string]*model.Record, reg *Registry, cls GroupClassifier, cfg config.DedupConfig) (*MergeStats, error) {
	stats := &MergeStats{}

	retryCfg := resilience.RetryConfig{
		MaxAttempts: cfg.MaxRetries,
		OnRetry:     resilience.RetryLogger("classifier", "adjudicate_group"),
	}

	for _, g := range reg.Groups() {
		if g.Status != model.GroupProvisional || g.Size() < 2 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.GroupsChecked++

		texts := make([]string, len(g.MemberIDs))
		for i, id := range g.MemberIDs {
			texts[i] = byID[id].EmbeddingText()
		}

		verdict, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*GroupVerdict, error) {
			return cls.Adjudicate(ctx, texts, mergeConstraints)
		})
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			zap.L().Warn("dedup: group adjudication failed",
				zap.Int64("group_id", g.ID),
				zap.Int("members", g.Size()),
				zap.Error(err),
			)
			if derr := reg.Discard(g.ID); derr != nil {
				return stats, derr
			}
			for _, id := range g.MemberIDs {
				byID[id].ClearGroup()
				byID[id].MatchType = model.MatchUnresolved
				byID[id].ResolveFailed = true
			}
			stats.GroupsFailed++
			continue
		}

		if verdict.Merge {
			if err := reg.Verify(g.ID); err != nil {
				return stats, err
			}
			for _, id := range g.MemberIDs {
				byID[id].MatchType = model.MatchLLMMatched
			}
			stats.GroupsConfirmed++
		} else {
			if err := reg.Discard(g.ID); err != nil {
				return stats, err
			}
			for _, id := range g.MemberIDs {
				byID[id].ClearGroup()
				byID[id].MatchType = model.MatchLLMDiscarded
			}
			stats.GroupsDiscarded++
		}
	}

	zap.L().Info("dedup: merge resolution complete",
		zap.Int("groups_checked", stats.GroupsChecked),
		zap.Int("groups_confirmed", stats.GroupsConfirmed),
		zap.Int("groups_discarded", stats.GroupsDiscarded),
		zap.Int("groups_failed", stats.GroupsFailed),
	)
	return stats, nil
}
