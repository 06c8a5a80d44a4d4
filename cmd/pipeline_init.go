package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/catalog-dedup/internal/dedup"
	"github.com/sells-group/catalog-dedup/internal/store"
	anthropicpkg "github.com/sells-group/catalog-dedup/pkg/anthropic"
	"github.com/sells-group/catalog-dedup/pkg/classifier"
	"github.com/sells-group/catalog-dedup/pkg/vertex"
)

// dedupEnv holds the initialized store, clients, and pipeline shared by the
// run/serve commands.
type dedupEnv struct {
	Store    store.Store
	Pipeline *dedup.Pipeline
}

// Close releases resources held by the environment.
func (e *dedupEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "catalog.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initPipeline sets up the store, the embedding and classifier clients, and
// builds the Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*dedupEnv, error) {
	if cfg.Vertex.Key == "" {
		return nil, eris.New("vertex API key is required (DEDUP_VERTEX_KEY)")
	}
	if cfg.Anthropic.Key == "" {
		return nil, eris.New("anthropic API key is required (DEDUP_ANTHROPIC_KEY)")
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	vertexOpts := []vertex.Option{
		vertex.WithMaxBatchSize(cfg.Vertex.MaxBatchSize),
		vertex.WithTimeout(time.Duration(cfg.Vertex.TimeoutSecs) * time.Second),
		vertex.WithEmbeddingDim(cfg.Dedup.EmbeddingDim),
	}
	if cfg.Vertex.BaseURL != "" {
		vertexOpts = append(vertexOpts, vertex.WithBaseURL(cfg.Vertex.BaseURL))
	}
	if cfg.Vertex.RequestsPerSec > 0 {
		vertexOpts = append(vertexOpts, vertex.WithRateLimiter(
			rate.NewLimiter(rate.Limit(cfg.Vertex.RequestsPerSec), 1)))
	}
	embedder := vertex.NewClient(cfg.Vertex.Key, cfg.Vertex.Model, vertexOpts...)

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key,
		anthropicpkg.WithTimeout(time.Duration(cfg.Anthropic.TimeoutSecs)*time.Second))
	cls := classifier.New(anthropicClient, cfg.Anthropic.Model, int64(cfg.Anthropic.MaxTokens))

	attributes := dedup.DefaultAttributes
	if cfg.Dedup.AttributesPath != "" {
		attributes, err = dedup.LoadAttributes(cfg.Dedup.AttributesPath)
		if err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "load attributes")
		}
		zap.L().Info("loaded attribute list",
			zap.String("path", cfg.Dedup.AttributesPath),
			zap.Int("count", len(attributes)),
		)
	}

	return &dedupEnv{
		Store:    st,
		Pipeline: dedup.New(cfg, st, embedder, cls, cls, attributes),
	}, nil
}
