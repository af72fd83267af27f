package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultTopK is the number of chunks retrieved per question.
const DefaultTopK = 5

// MetadataSource and MetadataChunkIndex are the metadata keys every chunk carries.
const (
	MetadataSource     = "source"
	MetadataChunkIndex = "chunk_index"
)

var (
	// ErrIndexUnavailable is returned when no index generation has been built.
	ErrIndexUnavailable = errors.New("vector index is not available")

	// ErrModelMismatch is returned when an index was built with a different
	// embedding model or dimension than the one querying it.
	ErrModelMismatch = errors.New("vector index was built with a different embedding model")
)

// Document is a loaded source text with its metadata. Documents are not
// modified after loading.
type Document struct {
	Content  string
	Metadata map[string]any
}

// Source returns the source path recorded in the metadata, if any.
func (d Document) Source() string {
	s, _ := d.Metadata[MetadataSource].(string)
	return s
}

// Chunk is a piece of a Document small enough to embed.
type Chunk struct {
	ID       string
	Content  string
	Metadata map[string]any
	// Index is the position of the chunk within its document.
	Index int
}

// Source returns the source path of the parent document, if any.
func (c Chunk) Source() string {
	s, _ := c.Metadata[MetadataSource].(string)
	return s
}

// ScoredChunk is a retrieved chunk with its similarity to the query.
// Higher scores are more similar.
type ScoredChunk struct {
	Chunk
	Score float64
}

// Entry is a chunk with its embedding, ready to be written to an index.
type Entry struct {
	Chunk
	Vector []float32
}

// Manifest describes an index generation.
type Manifest struct {
	Model      string
	Dimensions int
	CreatedAt  time.Time
}

// NewGenerationID returns a generation id that sorts by creation time.
func NewGenerationID(createdAt time.Time) string {
	return createdAt.UTC().Format("20060102T150405.000000000Z") + "-" + uuid.NewString()[:8]
}

// Compatible reports whether vectors from the given model can query this index.
func (m Manifest) Compatible(model string, dimensions int) error {
	if m.Model != model || m.Dimensions != dimensions {
		return &MismatchError{Index: m, Model: model, Dimensions: dimensions}
	}
	return nil
}

// MismatchError describes an embedding model mismatch.
type MismatchError struct {
	Index      Manifest
	Model      string
	Dimensions int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("index built with %s (%d dims), queried with %s (%d dims)",
		e.Index.Model, e.Index.Dimensions, e.Model, e.Dimensions)
}

func (e *MismatchError) Unwrap() error {
	return ErrModelMismatch
}

// Embedder turns text into vectors. All vectors from one Embedder have the
// same dimension.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	ModelName() string
	Dimensions() int
}

// VectorIndex is a read-only similarity index.
type VectorIndex interface {
	// Search returns up to k chunks ordered by descending score.
	Search(ctx context.Context, vector []float32, k int) ([]ScoredChunk, error)
	Count(ctx context.Context) (int, error)
	Manifest() Manifest
}

// IndexWriter builds index generations.
type IndexWriter interface {
	// Replace builds a complete new generation from entries and makes it the
	// live one atomically. It returns the id of the new generation.
	Replace(ctx context.Context, manifest Manifest, entries []Entry) (string, error)
}
