package vectorindex

import (
	"container/heap"
	"context"

	"github.com/upb/rag-chatbot/internal/rag"
)

// Snapshot is one generation held in memory. It is never modified after
// loading, so any number of goroutines may search it.
type Snapshot struct {
	generation string
	manifest   rag.Manifest
	chunks     []rag.Chunk
	vectors    [][]float32 // unit length, aligned with chunks
}

var _ rag.VectorIndex = (*Snapshot)(nil)

// Generation returns the generation id.
func (s *Snapshot) Generation() string { return s.generation }

// Manifest returns the generation manifest.
func (s *Snapshot) Manifest() rag.Manifest { return s.manifest }

// Count returns the number of chunks.
func (s *Snapshot) Count(context.Context) (int, error) { return len(s.chunks), nil }

// Search returns the k chunks with the highest cosine similarity. Equal
// scores keep insertion order.
func (s *Snapshot) Search(ctx context.Context, vector []float32, k int) ([]rag.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 || len(s.chunks) == 0 {
		return []rag.ScoredChunk{}, nil
	}

	query := rag.Normalize(append([]float32(nil), vector...))

	h := &topK{}
	for i, v := range s.vectors {
		item := candidate{pos: i, score: dot(query, v)}
		if h.Len() < k {
			heap.Push(h, item)
			continue
		}
		if item.better((*h)[0]) {
			(*h)[0] = item
			heap.Fix(h, 0)
		}
	}

	results := make([]rag.ScoredChunk, h.Len())
	for i := len(results) - 1; i >= 0; i-- {
		c := heap.Pop(h).(candidate)
		results[i] = rag.ScoredChunk{Chunk: s.chunks[c.pos], Score: c.score}
	}
	return results, nil
}

func dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

type candidate struct {
	pos   int
	score float64
}

// better orders by score, then by earlier position.
func (c candidate) better(o candidate) bool {
	if c.score != o.score {
		return c.score > o.score
	}
	return c.pos < o.pos
}

// topK is a min-heap whose root is the worst kept candidate.
type topK []candidate

func (h topK) Len() int            { return len(h) }
func (h topK) Less(i, j int) bool  { return h[j].better(h[i]) }
func (h topK) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *topK) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *topK) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
