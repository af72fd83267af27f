package rag

import (
	"context"
	"fmt"
)

// Retriever finds the chunks most similar to a question.
type Retriever struct {
	embedder Embedder
	index    VectorIndex
	topK     int
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithTopK overrides DefaultTopK.
func WithTopK(k int) RetrieverOption {
	return func(r *Retriever) {
		if k > 0 {
			r.topK = k
		}
	}
}

// NewRetriever creates a retriever. It fails with ErrModelMismatch if the
// index was built by a different embedding model.
func NewRetriever(embedder Embedder, index VectorIndex, opts ...RetrieverOption) (*Retriever, error) {
	if embedder == nil || index == nil {
		return nil, fmt.Errorf("retriever requires an embedder and an index")
	}
	if err := index.Manifest().Compatible(embedder.ModelName(), embedder.Dimensions()); err != nil {
		return nil, err
	}

	r := &Retriever{
		embedder: embedder,
		index:    index,
		topK:     DefaultTopK,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// TopK returns the number of chunks returned per search.
func (r *Retriever) TopK() int {
	return r.topK
}

// Search embeds the question and returns up to TopK chunks, most similar first.
func (r *Retriever) Search(ctx context.Context, question string) ([]ScoredChunk, error) {
	return r.SearchK(ctx, question, r.topK)
}

// SearchK is Search with an explicit k. Backend results are reordered by
// descending score and cut to k.
func (r *Retriever) SearchK(ctx context.Context, question string, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		k = r.topK
	}

	vector, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := r.index.Search(ctx, vector, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}

	SortByScore(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}
