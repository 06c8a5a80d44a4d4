package dedup

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-dedup/internal/config"
	"github.com/sells-group/catalog-dedup/internal/model"
	"github.com/sells-group/catalog-dedup/internal/store"
)

// Pipeline runs the cascading resolution over one source table.
type Pipeline struct {
	cfg        *config.Config
	store      store.Store
	embedder   Embedder
	pairwise   PairwiseClassifier
	groups     GroupClassifier
	attributes []string
}

// New creates a pipeline with all dependencies.
func New(cfg *config.Config, st store.Store, embedder Embedder, pairwise PairwiseClassifier, groups GroupClassifier, attributes []string) *Pipeline {
	if len(attributes) == 0 {
		attributes = DefaultAttributes
	}
	return &Pipeline{
		cfg:        cfg,
		store:      st,
		embedder:   embedder,
		pairwise:   pairwise,
		groups:     groups,
		attributes: attributes,
	}
}

// ValidateRecords performs the pre-flight input check. It fails when record
// ids are missing or duplicated, or when no record carries anything to match
// on (neither identifier nor description).
func ValidateRecords(records []*model.Record) error {
	if len(records) == 0 {
		return eris.New("dedup: source table has no records")
	}

	seen := make(map[string]struct{}, len(records))
	matchable := false
	for _, r := range records {
		if r.ID == "" {
			return eris.New("dedup: record with empty record_id")
		}
		if _, dup := seen[r.ID]; dup {
			return eris.Errorf("dedup: duplicate record_id %s", r.ID)
		}
		seen[r.ID] = struct{}{}
		if r.ItemCode != "" || r.Barcode != "" || r.Description != "" {
			matchable = true
		}
	}
	if !matchable {
		return eris.New("dedup: no record has an identifier or description column")
	}

	return nil
}

// Run executes the full cascade for a source table and persists the results.
// Provider failures are contained per item; invariant violations abort the
// run. The run is cancelable between steps.
func (p *Pipeline) Run(ctx context.Context, sourceTable string) (*model.RunResult, error) {
	log := zap.L().With(zap.String("source_table", sourceTable))
	log.Info("dedup: starting run")

	records, err := p.store.ListRecords(ctx, sourceTable)
	if err != nil {
		return nil, eris.Wrap(err, "dedup: load records")
	}
	if err := ValidateRecords(records); err != nil {
		return nil, err
	}

	run, err := p.store.CreateRun(ctx, sourceTable)
	if err != nil {
		return nil, eris.Wrap(err, "dedup: create run")
	}

	result := &model.RunResult{
		ProcessedCount: len(records),
		OutputTable:    sourceTable + "_dedup",
	}

	setStatus := func(status model.RunStatus) {
		if statusErr := p.store.UpdateRunStatus(ctx, run.ID, status); statusErr != nil {
			log.Warn("dedup: failed to update run status", zap.Error(statusErr))
		}
	}

	trackStep := func(name string, fn func() (map[string]any, error)) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		meta, stepErr := fn()
		sr := model.StepResult{
			Name:     name,
			Duration: time.Since(start).Milliseconds(),
			Metadata: meta,
		}
		if stepErr != nil {
			sr.Error = stepErr.Error()
			log.Error("dedup: step failed",
				zap.String("step", name),
				zap.Int64("duration_ms", sr.Duration),
				zap.Error(stepErr),
			)
		} else {
			log.Info("dedup: step complete",
				zap.String("step", name),
				zap.Int64("duration_ms", sr.Duration),
			)
		}
		result.Steps = append(result.Steps, sr)
		return stepErr
	}

	fail := func(stepErr error) (*model.RunResult, error) {
		result.Error = stepErr.Error()
		setStatus(model.RunStatusFailed)
		if saveErr := p.store.UpdateRunResult(ctx, run.ID, result); saveErr != nil {
			log.Warn("dedup: failed to save failed run result", zap.Error(saveErr))
		}
		return result, stepErr
	}

	reg := NewRegistry()
	index := byID(records)

	// Every record starts unresolved; steps upgrade from there.
	for _, r := range records {
		r.MatchType = model.MatchUnresolved
		r.NormalizedDescription = Normalize(r.EmbeddingText())
	}

	setStatus(model.RunStatusMatching)
	if err := trackStep("exact_match", func() (map[string]any, error) {
		stats, stepErr := ExactMatchStep(records, reg)
		if stepErr != nil {
			return nil, stepErr
		}
		return map[string]any{
			"item_code_groups": stats.ItemCodeGroups,
			"barcode_groups":   stats.BarcodeGroups,
			"matched":          stats.Matched,
		}, nil
	}); err != nil {
		return fail(err)
	}

	var fuzzy *FuzzyResult
	if err := trackStep("fuzzy_match", func() (map[string]any, error) {
		fr, stepErr := FuzzyMatchStep(ctx, records, reg, p.embedder, p.cfg.Dedup)
		if stepErr != nil {
			return nil, stepErr
		}
		fuzzy = fr
		return map[string]any{
			"pairs_scored":   fr.Scored,
			"pairs_accepted": len(fr.Pairs),
			"embed_failed":   fr.EmbedFailed,
		}, nil
	}); err != nil {
		return fail(err)
	}

	setStatus(model.RunStatusReranking)
	if err := trackStep("rerank", func() (map[string]any, error) {
		stats, stepErr := RerankStep(ctx, index, reg, fuzzy.Pairs, p.pairwise, p.attributes, p.cfg.Dedup)
		if stepErr != nil {
			return nil, stepErr
		}
		return map[string]any{
			"pairs_checked":   stats.PairsChecked,
			"pairs_verified":  stats.PairsVerified,
			"pairs_discarded": stats.PairsDiscarded,
			"groups_rebuilt":  stats.GroupsRebuilt,
		}, nil
	}); err != nil {
		return fail(err)
	}

	setStatus(model.RunStatusResolving)
	if err := trackStep("merge_resolve", func() (map[string]any, error) {
		stats, stepErr := MergeResolveStep(ctx, index, reg, p.groups, p.cfg.Dedup)
		if stepErr != nil {
			return nil, stepErr
		}
		return map[string]any{
			"groups_checked":   stats.GroupsChecked,
			"groups_confirmed": stats.GroupsConfirmed,
			"groups_discarded": stats.GroupsDiscarded,
		}, nil
	}); err != nil {
		return fail(err)
	}

	setStatus(model.RunStatusFlagging)
	if err := trackStep("review_flag", func() (map[string]any, error) {
		stats := ReviewStep(records, reg, p.cfg.Dedup.ReviewThreshold)
		return map[string]any{
			"flagged":         stats.Flagged,
			"orphans_cleared": stats.OrphansCleared,
		}, nil
	}); err != nil {
		return fail(err)
	}

	for _, r := range records {
		if r.ReviewRequired {
			result.ReviewCount++
		}
		if r.ResolveFailed {
			result.FailedCount++
		}
	}
	result.GroupCount = len(reg.Groups())

	if err := p.store.SaveResults(ctx, run.ID, result.OutputTable, records); err != nil {
		return fail(eris.Wrap(err, "dedup: save results"))
	}

	setStatus(model.RunStatusComplete)
	if saveErr := p.store.UpdateRunResult(ctx, run.ID, result); saveErr != nil {
		log.Warn("dedup: failed to save run result", zap.Error(saveErr))
	}

	log.Info("dedup: run complete",
		zap.String("run_id", run.ID),
		zap.Int("processed", result.ProcessedCount),
		zap.Int("groups", result.GroupCount),
		zap.Int("review", result.ReviewCount),
		zap.Int("failed", result.FailedCount),
	)
	return result, nil
}
