package dedup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-dedup/internal/config"
	"github.com/sells-group/catalog-dedup/internal/model"
	"github.com/sells-group/catalog-dedup/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// testDedupConfig returns cascade tunables sized for unit tests: tiny batches
// and chunks to exercise the splitting paths, and a single attempt so failure
// tests do not sit in backoff sleeps.
func testDedupConfig() config.DedupConfig {
	return config.DedupConfig{
		VectorWeight:    0.7,
		KeywordWeight:   0.3,
		AcceptThreshold: 0.90,
		RerankThreshold: 0.95,
		ReviewThreshold: 0.8,
		EmbedBatchSize:  2,
		ChunkSize:       2,
		WorkerCount:     2,
		MaxRetries:      1,
	}
}

// --- Embedder stub ---

// stubEmbedder returns canned vectors keyed by input text. Texts listed in
// failOn fail their whole batch, mirroring a provider-side batch rejection.
type stubEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	failOn  map[string]error
	calls   int
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err, ok := s.failOn[t]; ok {
			return nil, err
		}
		v, ok := s.vectors[t]
		if !ok {
			return nil, fmt.Errorf("no canned vector for %q", t)
		}
		out[i] = v
	}
	return out, nil
}

// --- Classifier mocks ---

type mockPairwise struct {
	mock.Mock
}

func (m *mockPairwise) Classify(ctx context.Context, textA, textB string, attributes []string) (*PairVerdict, error) {
	args := m.Called(ctx, textA, textB, attributes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PairVerdict), args.Error(1)
}

type mockGroups struct {
	mock.Mock
}

func (m *mockGroups) Adjudicate(ctx context.Context, members []string, constraints string) (*GroupVerdict, error) {
	args := m.Called(ctx, members, constraints)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*GroupVerdict), args.Error(1)
}

// --- In-memory store ---

// memStore is an in-memory store.Store for pipeline tests. It records the
// status transitions each run went through.
type memStore struct {
	mu       sync.Mutex
	tables   map[string][]*model.Record
	runs     map[string]*model.Run
	results  map[string][]*model.Record
	outputs  map[string][]*model.Record
	statuses []model.RunStatus

	saveErr error
}

func newMemStore() *memStore {
	return &memStore{
		tables:  make(map[string][]*model.Record),
		runs:    make(map[string]*model.Run),
		results: make(map[string][]*model.Record),
		outputs: make(map[string][]*model.Record),
	}
}

func (s *memStore) ListRecords(_ context.Context, table string) ([]*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, ok := s.tables[table]
	if !ok {
		return nil, fmt.Errorf("table %s not found", table)
	}
	return records, nil
}

func (s *memStore) InsertRecords(_ context.Context, table string, records []*model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[table] = append(s.tables[table], records...)
	return nil
}

func (s *memStore) CreateRun(_ context.Context, sourceTable string) (*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := &model.Run{
		ID:          uuid.New().String(),
		SourceTable: sourceTable,
		Status:      model.RunStatusQueued,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	s.runs[run.ID] = run
	return run, nil
}

func (s *memStore) UpdateRunStatus(_ context.Context, runID string, status model.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return errors.New("run not found")
	}
	run.Status = status
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *memStore) UpdateRunResult(_ context.Context, runID string, result *model.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return errors.New("run not found")
	}
	run.Result = result
	return nil
}

func (s *memStore) GetRun(_ context.Context, runID string) (*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, errors.New("run not found")
	}
	return run, nil
}

func (s *memStore) ListRuns(_ context.Context, filter store.RunFilter) ([]model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Run
	for _, run := range s.runs {
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		if filter.SourceTable != "" && run.SourceTable != filter.SourceTable {
			continue
		}
		out = append(out, *run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) SaveResults(_ context.Context, runID, outputTable string, records []*model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.results[runID] = records
	s.outputs[outputTable] = records
	return nil
}

func (s *memStore) ListResults(_ context.Context, runID string) ([]*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results[runID], nil
}

func (s *memStore) UpdateResults(_ context.Context, runID string, records []*model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID := make(map[string]*model.Record)
	for _, r := range s.results[runID] {
		byID[r.ID] = r
	}
	for _, r := range records {
		existing, ok := byID[r.ID]
		if !ok {
			return errors.New("result not found")
		}
		*existing = *r
	}
	return nil
}

func (s *memStore) ListReviewGroups(_ context.Context, runID string) ([]model.ReviewGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byGroup := make(map[int64][]model.Record)
	for _, r := range s.results[runID] {
		if r.ReviewRequired && r.GroupID != 0 {
			byGroup[r.GroupID] = append(byGroup[r.GroupID], *r)
		}
	}
	var out []model.ReviewGroup
	for gid, members := range byGroup {
		out = append(out, model.ReviewGroup{RunID: runID, GroupID: gid, Members: members})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupID < out[j].GroupID })
	return out, nil
}

func (s *memStore) Migrate(context.Context) error { return nil }

func (s *memStore) Close() error { return nil }

// --- Record helpers ---

func rec(id, itemCode, barcode, desc string) *model.Record {
	r := &model.Record{
		ID:          id,
		ItemCode:    itemCode,
		Barcode:     barcode,
		Description: desc,
		MatchType:   model.MatchUnresolved,
	}
	r.NormalizedDescription = Normalize(r.EmbeddingText())
	return r
}
