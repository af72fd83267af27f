package rag

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 1}, []float32{-1, -1}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"dimension mismatch", []float32{1}, []float32{1, 1}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := Normalize([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)

	var norm float64
	for _, x := range Normalize([]float32{1, 2, 3, 4}) {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1, math.Sqrt(norm), 1e-6)
}

func TestSortByScore_StableTies(t *testing.T) {
	results := []ScoredChunk{
		{Chunk: Chunk{ID: "a"}, Score: 0.5},
		{Chunk: Chunk{ID: "b"}, Score: 0.9},
		{Chunk: Chunk{ID: "c"}, Score: 0.5},
		{Chunk: Chunk{ID: "d"}, Score: 0.9},
	}

	SortByScore(results)

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"b", "d", "a", "c"}, ids)
}

func TestManifest_Compatible(t *testing.T) {
	m := Manifest{Model: "all-MiniLM-L6-v2", Dimensions: 384}

	assert.NoError(t, m.Compatible("all-MiniLM-L6-v2", 384))

	err := m.Compatible("hash-384", 384)
	assert.ErrorIs(t, err, ErrModelMismatch)
	assert.Contains(t, err.Error(), "all-MiniLM-L6-v2")

	assert.ErrorIs(t, m.Compatible("all-MiniLM-L6-v2", 768), ErrModelMismatch)
}

func TestNewGenerationID_SortsByTime(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	first := NewGenerationID(t0)
	second := NewGenerationID(t0.Add(time.Millisecond))

	assert.Less(t, first, second)
	assert.True(t, strings.HasPrefix(first, "20250301T120000.000000000Z-"))
	assert.NotEqual(t, NewGenerationID(t0), NewGenerationID(t0))
}
