package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/upb/rag-chatbot/config"
	"github.com/upb/rag-chatbot/internal/observability"
	"github.com/upb/rag-chatbot/internal/rag"
	"github.com/upb/rag-chatbot/repositories/postgres"
	"github.com/upb/rag-chatbot/repositories/vectorindex"
	"github.com/upb/rag-chatbot/services/embeddings"
	"github.com/upb/rag-chatbot/services/ingestion"
)

// Ingestion wires the ingestion job to the configured vector store.
type Ingestion struct {
	Config   *config.Config
	Logger   *zap.Logger
	Embedder rag.Embedder
	Service  *ingestion.Service

	store   *vectorindex.Store
	factory *postgres.RepositoryFactory
}

// IndexStats describes the live index generation.
type IndexStats struct {
	Generation  string
	Model       string
	Dimensions  int
	CreatedAt   time.Time
	Chunks      int
	Generations []string // retained sqlite generations, oldest first
}

// NewIngestion builds the ingestion job from cfg.
func NewIngestion(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Ingestion, error) {
	job := &Ingestion{Config: cfg, Logger: logger}

	if err := job.initStore(ctx); err != nil {
		return nil, err
	}

	embedder, err := embeddings.New(cfg.Embeddings, observability.Component(logger, "embeddings"))
	if err != nil {
		job.Close()
		return nil, fmt.Errorf("embedder: %w", err)
	}
	job.Embedder = embedder

	loader := ingestion.NewLoader(cfg.Ingestion.DocsDir, observability.Component(logger, "loader"),
		ingestion.WithWorkers(cfg.Ingestion.Workers))
	splitter := rag.NewRecursiveSplitter(
		rag.WithChunkSize(cfg.Ingestion.ChunkSize),
		rag.WithChunkOverlap(cfg.Ingestion.ChunkOverlap),
	)

	svc, err := ingestion.NewService(loader, splitter, embedder, job.writer(), ingestion.Options{
		BatchSize:   cfg.Ingestion.BatchSize,
		EmbedRate:   cfg.Ingestion.EmbedRate,
		VerifyQuery: cfg.Ingestion.VerifyQuery,
		OpenIndex:   job.openIndex,
	}, observability.Component(logger, "ingestion"))
	if err != nil {
		job.Close()
		return nil, err
	}
	job.Service = svc
	return job, nil
}

func (i *Ingestion) initStore(ctx context.Context) error {
	logger := observability.Component(i.Logger, "vectorindex")

	if i.Config.RAG.VectorStore != config.VectorStorePostgres {
		i.store = vectorindex.NewStore(i.Config.RAG.DBDirectory, logger)
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(*i.Config.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}
	if err := factory.InitSchema(ctx, true); err != nil {
		factory.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	i.factory = factory
	return nil
}

func (i *Ingestion) writer() rag.IndexWriter {
	if i.factory != nil {
		return i.factory.VectorIndex()
	}
	return i.store
}

func (i *Ingestion) openIndex(ctx context.Context) (rag.VectorIndex, error) {
	if i.factory != nil {
		return postgres.OpenVectorIndex(ctx, i.factory.GetDB(), i.Logger)
	}
	return i.store.Load(ctx)
}

// Run executes one ingestion.
func (i *Ingestion) Run(ctx context.Context) (*ingestion.Report, error) {
	return i.Service.Run(ctx)
}

// Stats reports on the live generation. It fails with rag.ErrIndexUnavailable
// when nothing has been ingested yet.
func (i *Ingestion) Stats(ctx context.Context) (*IndexStats, error) {
	index, err := i.openIndex(ctx)
	if err != nil {
		return nil, err
	}

	count, err := index.Count(ctx)
	if err != nil {
		return nil, err
	}
	manifest := index.Manifest()
	stats := &IndexStats{
		Model:      manifest.Model,
		Dimensions: manifest.Dimensions,
		CreatedAt:  manifest.CreatedAt,
		Chunks:     count,
	}
	if g, ok := index.(interface{ Generation() string }); ok {
		stats.Generation = g.Generation()
	}
	if i.store != nil {
		if stats.Generations, err = i.store.Generations(); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

// Close releases the database connection, if any.
func (i *Ingestion) Close() error {
	if i.factory == nil {
		return nil
	}
	err := i.factory.Close()
	i.factory = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
