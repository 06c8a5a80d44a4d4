package dedup

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/catalog-dedup/internal/config"
	"github.com/sells-group/catalog-dedup/internal/model"
	"github.com/sells-group/catalog-dedup/internal/resilience"
)

// candidateGate widens the cosine pre-filter below the accept threshold so
// pairs that would clear the hybrid score on keyword overlap are not pruned
// before the overlap is computed.
const candidateGate = 0.15

// ScoredPair is an accepted candidate duplicate relation. A is always the
// lexically smaller record id.
type ScoredPair struct {
	A     string
	B     string
	Score float64
}

// FuzzyResult carries the accepted pair relations forward to the reranker.
type FuzzyResult struct {
	Pairs       []ScoredPair
	Scored      int
	EmbedFailed int
}

// FuzzyMatchStep embeds every still-unresolved record's description, scores
// candidate pairs with the hybrid cosine/keyword formula, and unions pairs at
// or above the accept threshold into provisional groups.
//
// Embedding batches and similarity chunks run on parallel workers; all
// registry mutation is funneled through a single applier goroutine so the
// registry sees one writer. The resulting clustering is independent of
// scheduling order: membership depends only on the set of accepted pairs, and
// per-record confidence is the maximum accepted score.
func FuzzyMatchStep(ctx context.Context, records []*model.Record, reg *Registry, embedder Embedder, cfg config.DedupConfig) (*FuzzyResult, error) {
	result := &FuzzyResult{}

	var unresolved []*model.Record
	for _, r := range records {
		if r.Grouped() || r.ResolveFailed {
			continue
		}
		if r.EmbeddingText() == "" {
			// Permanently unembeddable input. No retry.
			r.MatchType = model.MatchUnresolved
			r.ResolveFailed = true
			result.EmbedFailed++
			continue
		}
		unresolved = append(unresolved, r)
	}
	if len(unresolved) < 2 {
		return result, nil
	}

	if err := embedRecords(ctx, unresolved, embedder, cfg, result); err != nil {
		return nil, err
	}

	// Only records that actually got a vector participate in scoring.
	var items []*model.Record
	for _, r := range unresolved {
		if len(r.Embedding) > 0 {
			items = append(items, r)
		}
	}
	if len(items) < 2 {
		return result, nil
	}

	tokens := make([][]string, len(items))
	for i, r := range items {
		tokens[i] = Tokens(r.NormalizedDescription)
	}

	pairs, scored, err := scorePairs(ctx, items, tokens, cfg)
	if err != nil {
		return nil, err
	}
	result.Scored = scored

	// Single-writer application of match decisions.
	index := byID(items)
	for _, p := range pairs {
		if err := applyPair(reg, p, index); err != nil {
			return nil, err
		}
		result.Pairs = append(result.Pairs, p)
	}

	sort.Slice(result.Pairs, func(i, j int) bool {
		if result.Pairs[i].A != result.Pairs[j].A {
			return result.Pairs[i].A < result.Pairs[j].A
		}
		return result.Pairs[i].B < result.Pairs[j].B
	})

	zap.L().Info("dedup: fuzzy match complete",
		zap.Int("candidates", len(items)),
		zap.Int("pairs_scored", result.Scored),
		zap.Int("pairs_accepted", len(result.Pairs)),
		zap.Int("embed_failed", result.EmbedFailed),
	)
	return result, nil
}

// embedRecords fills missing embedding vectors in provider-sized batches.
// A batch that exhausts retries marks its records failed-to-resolve instead
// of aborting the run.
func embedRecords(ctx context.Context, records []*model.Record, embedder Embedder, cfg config.DedupConfig, result *FuzzyResult) error {
	var missing []*model.Record
	for _, r := range records {
		if len(r.Embedding) == 0 {
			missing = append(missing, r)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.WorkerCount)

	retryCfg := resilience.RetryConfig{
		MaxAttempts: cfg.MaxRetries,
		OnRetry:     resilience.RetryLogger("vertex", "embed"),
	}

	var failed []*model.Record
	var mu sync.Mutex
	for start := 0; start < len(missing); start += cfg.EmbedBatchSize {
		end := start + cfg.EmbedBatchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]

		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, r := range batch {
				texts[i] = r.EmbeddingText()
			}

			vectors, err := resilience.DoVal(gctx, retryCfg, func(ctx context.Context) ([][]float32, error) {
				return embedder.Embed(ctx, texts)
			})
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				zap.L().Warn("dedup: embedding batch failed",
					zap.Int("batch_size", len(batch)),
					zap.Error(err),
				)
				mu.Lock()
				failed = append(failed, batch...)
				mu.Unlock()
				return nil
			}
			if len(vectors) != len(batch) {
				return eris.Errorf("dedup: embedder returned %d vectors for %d inputs", len(vectors), len(batch))
			}
			for i, r := range batch {
				r.Embedding = vectors[i]
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	for _, r := range failed {
		r.MatchType = model.MatchUnresolved
		r.ResolveFailed = true
	}
	result.EmbedFailed += len(failed)

	return nil
}

// scorePairs computes hybrid scores chunk-by-chunk. Each worker owns a chunk
// of rows compared against all later rows, bounding memory to one chunk of
// similarities instead of a full n-by-n matrix.
func scorePairs(ctx context.Context, items []*model.Record, tokens [][]string, cfg config.DedupConfig) ([]ScoredPair, int, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.WorkerCount)

	type chunkResult struct {
		start  int
		pairs  []ScoredPair
		scored int
	}
	results := make(chan chunkResult, (len(items)/cfg.ChunkSize)+1)

	cosGate := cfg.AcceptThreshold - candidateGate

	for start := 0; start < len(items); start += cfg.ChunkSize {
		end := start + cfg.ChunkSize
		if end > len(items) {
			end = len(items)
		}
		chunkStart, chunkEnd := start, end

		g.Go(func() error {
			cr := chunkResult{start: chunkStart}
			for i := chunkStart; i < chunkEnd; i++ {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				for j := i + 1; j < len(items); j++ {
					cos, err := CosineSimilarity(items[i].Embedding, items[j].Embedding)
					if err != nil {
						return err
					}
					if cos < cosGate {
						continue
					}

					overlap := KeywordOverlap(tokens[i], tokens[j])
					score := HybridScore(cos, overlap, cfg.VectorWeight, cfg.KeywordWeight)
					cr.scored++
					if score >= cfg.AcceptThreshold {
						a, b := items[i].ID, items[j].ID
						if b < a {
							a, b = b, a
						}
						cr.pairs = append(cr.pairs, ScoredPair{A: a, B: b, Score: score})
					}
				}
			}
			results <- cr
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	close(results)

	var all []ScoredPair
	scored := 0
	for cr := range results {
		all = append(all, cr.pairs...)
		scored += cr.scored
	}

	// Deterministic application order regardless of worker scheduling.
	sort.Slice(all, func(i, j int) bool {
		if all[i].A != all[j].A {
			return all[i].A < all[j].A
		}
		return all[i].B < all[j].B
	})

	return all, scored, nil
}

// applyPair unions an accepted pair into the registry and stamps both records.
func applyPair(reg *Registry, p ScoredPair, records map[string]*model.Record) error {
	gidA, okA := reg.GroupOf(p.A)
	gidB, okB := reg.GroupOf(p.B)

	switch {
	case !okA && !okB:
		if _, err := reg.CreateGroup([]string{p.A, p.B}); err != nil {
			return err
		}
	case okA && !okB:
		if err := reg.AddMember(gidA, p.B); err != nil {
			return err
		}
	case !okA && okB:
		if err := reg.AddMember(gidB, p.A); err != nil {
			return err
		}
	case gidA != gidB:
		if _, err := reg.Merge(gidA, gidB); err != nil {
			return err
		}
	}

	for _, id := range [2]string{p.A, p.B} {
		r := records[id]
		gid, _ := reg.GroupOf(id)
		r.GroupID = gid
		r.MatchType = model.MatchFuzzyHybrid
		if p.Score > r.Confidence {
			r.Confidence = p.Score
		}
	}

	// Merges can move earlier members into the surviving group id.
	for _, id := range reg.Members(records[p.A].GroupID) {
		records[id].GroupID = records[p.A].GroupID
	}

	return nil
}

func byID(records []*model.Record) map[string]*model.Record {
	m := make(map[string]*model.Record, len(records))
	for _, r := range records {
		m[r.ID] = r
	}
	return m
}
