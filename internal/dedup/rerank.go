package dedup

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/catalog-dedup/internal/config"
	"github.com/sells-group/catalog-dedup/internal/model"
	"github.com/sells-group/catalog-dedup/internal/resilience"
)

// RerankStats summarizes the cross-encoder pass.
type RerankStats struct {
	PairsChecked   int
	PairsVerified  int
	PairsDiscarded int
	PairsFailed    int
	GroupsRebuilt  int
}

// relation is one accepted pair inside a provisional group, tracked through
// cross-encoder verification.
type relation struct {
	pair     ScoredPair
	verified bool
	dropped  bool
}

// RerankStep sends every accepted fuzzy pair below the rerank threshold to
// the pairwise classifier and retracts the relations it rejects. Groups are
// rebuilt from the surviving relations: members left without any relation are
// ungrouped with match_type rerank_discarded, and groups whose every relation
// was explicitly verified become verified. Classifier failures after retries
// retract the relation rather than aborting the run.
func RerankStep(ctx context.Context, byID map[string]*model.Record, reg *Registry, pairs []ScoredPair, cls PairwiseClassifier, attributes []string, cfg config.DedupConfig) (*RerankStats, error) {
	stats := &RerankStats{}

	// Relations per group id, in the deterministic order fuzzy produced them.
	byGroup := make(map[int64][]*relation)
	for _, p := range pairs {
		gid, ok := reg.GroupOf(p.A)
		if !ok {
			continue
		}
		byGroup[gid] = append(byGroup[gid], &relation{pair: p})
	}

	retryCfg := resilience.RetryConfig{
		MaxAttempts: cfg.MaxRetries,
		OnRetry:     resilience.RetryLogger("classifier", "classify_pair"),
	}

	gids := make([]int64, 0, len(byGroup))
	for gid := range byGroup {
		gids = append(gids, gid)
	}
	sort.Slice(gids, func(i, j int) bool { return gids[i] < gids[j] })

	for _, gid := range gids {
		relations := byGroup[gid]
		changed := false
		allVerified := true

		for _, rel := range relations {
			if rel.pair.Score >= cfg.RerankThreshold {
				// Confident accepts skip the cross-encoder.
				allVerified = false
				continue
			}
			if err := ctx.Err(); err != nil {
				return stats, err
			}

			a, b := byID[rel.pair.A], byID[rel.pair.B]
			stats.PairsChecked++

			verdict, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*PairVerdict, error) {
				return cls.Classify(ctx, a.EmbeddingText(), b.EmbeddingText(), attributes)
			})
			if err != nil {
				if ctx.Err() != nil {
					return stats, ctx.Err()
				}
				zap.L().Warn("dedup: pair classification failed",
					zap.String("record_a", a.ID),
					zap.String("record_b", b.ID),
					zap.Error(err),
				)
				rel.dropped = true
				changed = true
				allVerified = false
				a.ResolveFailed = true
				b.ResolveFailed = true
				stats.PairsFailed++
				continue
			}

			if verdict.Match {
				rel.verified = true
				stats.PairsVerified++
				for _, r := range [2]*model.Record{a, b} {
					r.MatchType = model.MatchRerankVerified
					if verdict.Confidence > r.Confidence {
						r.Confidence = verdict.Confidence
					}
				}
			} else {
				rel.dropped = true
				changed = true
				allVerified = false
				stats.PairsDiscarded++
			}
		}

		if !changed {
			if allVerified && len(relations) > 0 {
				if err := reg.Verify(gid); err != nil {
					return stats, err
				}
			}
			continue
		}

		if err := rebuildGroup(reg, byID, gid, relations); err != nil {
			return stats, err
		}
		stats.GroupsRebuilt++
	}

	zap.L().Info("dedup: rerank complete",
		zap.Int("pairs_checked", stats.PairsChecked),
		zap.Int("pairs_verified", stats.PairsVerified),
		zap.Int("pairs_discarded", stats.PairsDiscarded),
		zap.Int("pairs_failed", stats.PairsFailed),
		zap.Int("groups_rebuilt", stats.GroupsRebuilt),
	)
	return stats, nil
}

// rebuildGroup discards the old group and re-forms connected components from
// the relations that survived retraction. Members left without any surviving
// relation stay ungrouped: rerank_discarded when the classifier rejected
// their relation, unresolved when the classifier itself failed.
func rebuildGroup(reg *Registry, byID map[string]*model.Record, gid int64, relations []*relation) error {
	members := reg.Members(gid)
	if err := reg.Discard(gid); err != nil {
		return err
	}
	for _, id := range members {
		byID[id].ClearGroup()
	}

	// Union-find over surviving relations.
	parent := make(map[string]string, len(members))
	var find func(string) string
	find = func(x string) string {
		if parent[x] == x {
			return x
		}
		parent[x] = find(parent[x])
		return parent[x]
	}
	for _, id := range members {
		parent[id] = id
	}
	for _, rel := range relations {
		if rel.dropped {
			continue
		}
		ra, rb := find(rel.pair.A), find(rel.pair.B)
		if ra != rb {
			parent[ra] = rb
		}
	}

	components := make(map[string][]string)
	for _, id := range members {
		root := find(id)
		components[root] = append(components[root], id)
	}

	roots := make([]string, 0, len(components))
	for root := range components {
		roots = append(roots, root)
	}
	sort.Strings(roots)

	for _, root := range roots {
		comp := components[root]
		sort.Strings(comp)

		if len(comp) < 2 {
			r := byID[comp[0]]
			if r.ResolveFailed {
				r.MatchType = model.MatchUnresolved
				r.Confidence = 0
			} else {
				r.MatchType = model.MatchRerankDiscarded
			}
			continue
		}

		newGid, err := reg.CreateGroup(comp)
		if err != nil {
			return err
		}
		for _, id := range comp {
			byID[id].GroupID = newGid
		}
		if componentVerified(comp, relations) {
			if err := reg.Verify(newGid); err != nil {
				return err
			}
		}
	}

	return nil
}

// componentVerified reports whether every surviving relation inside the
// component was explicitly verified by the classifier.
func componentVerified(comp []string, relations []*relation) bool {
	in := make(map[string]struct{}, len(comp))
	for _, id := range comp {
		in[id] = struct{}{}
	}

	saw := false
	for _, rel := range relations {
		if rel.dropped {
			continue
		}
		if _, ok := in[rel.pair.A]; !ok {
			continue
		}
		if !rel.verified {
			return false
		}
		saw = true
	}
	return saw
}
