// Package ingestion rebuilds the vector index from the documents directory.
//
// A run never modifies the live index in place: it builds a complete new
// generation and publishes it with a single pointer swap, so a failed or
// interrupted run leaves the previous generation serving queries.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/upb/rag-chatbot/internal/rag"
)

// DefaultBatchSize is the number of chunks embedded per request.
const DefaultBatchSize = 64

// DefaultVerifyK is the number of chunks requested by the smoke query.
const DefaultVerifyK = 3

// ErrNoDocuments is returned when the documents directory holds nothing to ingest.
var ErrNoDocuments = errors.New("no documents found")

// IndexOpener opens the live index for the post-ingestion smoke query.
type IndexOpener func(ctx context.Context) (rag.VectorIndex, error)

// Options configures a Service.
type Options struct {
	BatchSize int
	// EmbedRate limits embedding batches per second. Zero means unlimited.
	EmbedRate float64

	// VerifyQuery, when set together with OpenIndex, is run against the
	// freshly published index.
	VerifyQuery string
	VerifyK     int
	OpenIndex   IndexOpener
}

// Report summarizes a completed run.
type Report struct {
	Files      int
	Documents  int
	Skipped    []string
	Chunks     int
	Generation string
	Model      string
	Dimensions int
	Duration   time.Duration
	// Verified is the number of chunks returned by the smoke query, or -1
	// when no smoke query ran.
	Verified int
}

// Service runs the ingestion pipeline.
type Service struct {
	loader   *Loader
	splitter *rag.RecursiveSplitter
	embedder rag.Embedder
	writer   rag.IndexWriter
	opts     Options
	limiter  *rate.Limiter
	now      func() time.Time
	logger   *zap.Logger
}

// NewService creates an ingestion service.
func NewService(loader *Loader, splitter *rag.RecursiveSplitter, embedder rag.Embedder, writer rag.IndexWriter, opts Options, logger *zap.Logger) (*Service, error) {
	if loader == nil || splitter == nil || embedder == nil || writer == nil {
		return nil, fmt.Errorf("ingestion requires a loader, splitter, embedder and index writer")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.VerifyK <= 0 {
		opts.VerifyK = DefaultVerifyK
	}

	limit := rate.Inf
	if opts.EmbedRate > 0 && !math.IsInf(opts.EmbedRate, 1) {
		limit = rate.Limit(opts.EmbedRate)
	}

	return &Service{
		loader:   loader,
		splitter: splitter,
		embedder: embedder,
		writer:   writer,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, 1),
		now:      time.Now,
		logger:   logger,
	}, nil
}

// Run loads, splits and embeds every document, then publishes a new index
// generation.
func (s *Service) Run(ctx context.Context) (*Report, error) {
	start := s.now()
	report := &Report{Verified: -1}

	loaded, err := s.loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading documents: %w", err)
	}
	report.Files = loaded.Files
	report.Skipped = loaded.Skipped
	report.Documents = len(loaded.Documents)

	s.logger.Info("documents loaded",
		zap.Int("files", loaded.Files),
		zap.Int("documents", len(loaded.Documents)),
		zap.Int("skipped", len(loaded.Skipped)),
	)
	if len(loaded.Documents) == 0 {
		return nil, ErrNoDocuments
	}

	chunks := s.splitter.SplitDocuments(loaded.Documents)
	if len(chunks) == 0 {
		return nil, ErrNoDocuments
	}
	report.Chunks = len(chunks)
	s.logger.Info("documents split",
		zap.Int("chunks", len(chunks)),
		zap.Int("chunk_size", s.splitter.ChunkSize()),
		zap.Int("chunk_overlap", s.splitter.ChunkOverlap()),
	)

	entries, err := s.embed(ctx, chunks)
	if err != nil {
		return nil, err
	}

	manifest := rag.Manifest{
		Model:      s.embedder.ModelName(),
		Dimensions: s.embedder.Dimensions(),
		CreatedAt:  s.now().UTC(),
	}
	generation, err := s.writer.Replace(ctx, manifest, entries)
	if err != nil {
		return nil, fmt.Errorf("publishing index generation: %w", err)
	}
	report.Generation = generation
	report.Model = manifest.Model
	report.Dimensions = manifest.Dimensions

	if s.opts.VerifyQuery != "" && s.opts.OpenIndex != nil {
		n, err := s.verify(ctx)
		if err != nil {
			// The generation is already live; a failed smoke query only warns.
			s.logger.Warn("verification query failed", zap.String("query", s.opts.VerifyQuery), zap.Error(err))
		} else {
			report.Verified = n
		}
	}

	report.Duration = s.now().Sub(start)
	s.logger.Info("ingestion complete",
		zap.String("generation", generation),
		zap.Int("chunks", report.Chunks),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

func (s *Service) embed(ctx context.Context, chunks []rag.Chunk) ([]rag.Entry, error) {
	entries := make([]rag.Entry, 0, len(chunks))
	batches := (len(chunks) + s.opts.BatchSize - 1) / s.opts.BatchSize

	for b := 0; b < batches; b++ {
		lo := b * s.opts.BatchSize
		hi := min(lo+s.opts.BatchSize, len(chunks))

		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for embedding rate limit: %w", err)
		}

		texts := make([]string, hi-lo)
		for i, c := range chunks[lo:hi] {
			texts[i] = c.Content
		}
		vectors, err := s.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embedding batch %d/%d: %w", b+1, batches, err)
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("embedding batch %d/%d: got %d vectors for %d chunks", b+1, batches, len(vectors), len(texts))
		}

		for i, c := range chunks[lo:hi] {
			entries = append(entries, rag.Entry{Chunk: c, Vector: vectors[i]})
		}
		s.logger.Debug("embedded batch", zap.Int("batch", b+1), zap.Int("of", batches))
	}
	return entries, nil
}

func (s *Service) verify(ctx context.Context) (int, error) {
	index, err := s.opts.OpenIndex(ctx)
	if err != nil {
		return 0, err
	}
	if closer, ok := index.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	retriever, err := rag.NewRetriever(s.embedder, index, rag.WithTopK(s.opts.VerifyK))
	if err != nil {
		return 0, err
	}
	results, err := retriever.Search(ctx, s.opts.VerifyQuery)
	if err != nil {
		return 0, err
	}

	fields := []zap.Field{zap.String("query", s.opts.VerifyQuery), zap.Int("results", len(results))}
	if len(results) > 0 {
		fields = append(fields, zap.String("top_source", results[0].Source()), zap.Float64("top_score", results[0].Score))
	}
	s.logger.Info("verification query", fields...)
	return len(results), nil
}
