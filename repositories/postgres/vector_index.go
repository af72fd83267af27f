package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/upb/rag-chatbot/internal/rag"
	"github.com/upb/rag-chatbot/repositories"
)

// DefaultIndexName is the pointer row used when no name is given
const DefaultIndexName = "default"

// DefaultKeepGenerations is how many generations survive a prune
const DefaultKeepGenerations = 2

// VectorIndex is a pgvector-backed rag.VectorIndex and rag.IndexWriter.
// Generations live side by side in rag_chunks; a single pointer row selects
// the live one and is switched in the same transaction that writes the
// generation, so readers never observe a partial index.
type VectorIndex struct {
	db     *DB
	tm     *TransactionManager
	name   string
	keep   int
	logger *zap.Logger

	mu         sync.RWMutex
	manifest   rag.Manifest
	generation string
}

var (
	_ rag.VectorIndex = (*VectorIndex)(nil)
	_ rag.IndexWriter = (*VectorIndex)(nil)
)

// NewVectorIndex creates an index handle without reading the live generation
func NewVectorIndex(db *DB, logger *zap.Logger) *VectorIndex {
	return &VectorIndex{
		db:     db,
		tm:     NewTransactionManager(db, nil),
		name:   DefaultIndexName,
		keep:   DefaultKeepGenerations,
		logger: logger,
	}
}

// OpenVectorIndex returns an index bound to the live generation. It fails with
// rag.ErrIndexUnavailable when nothing has been ingested yet.
func OpenVectorIndex(ctx context.Context, db *DB, logger *zap.Logger) (*VectorIndex, error) {
	x := NewVectorIndex(db, logger)
	if err := x.Load(ctx); err != nil {
		return nil, err
	}
	return x, nil
}

// Load reads the manifest of the live generation
func (x *VectorIndex) Load(ctx context.Context) error {
	id, m, err := x.readPointer(ctx)
	if err != nil {
		return err
	}

	x.mu.Lock()
	x.generation, x.manifest = id, m
	x.mu.Unlock()
	return nil
}

func (x *VectorIndex) readPointer(ctx context.Context) (string, rag.Manifest, error) {
	query := `
		SELECT g.id, g.model, g.dimensions, g.created_at
		FROM rag_index_pointer p
		JOIN rag_index_generations g ON g.id = p.generation_id
		WHERE p.name = $1
	`

	var id string
	var m rag.Manifest
	err := x.db.QueryRowContext(ctx, query, x.name).Scan(&id, &m.Model, &m.Dimensions, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isUndefinedTable(err) {
			return "", rag.Manifest{}, rag.ErrIndexUnavailable
		}
		return "", rag.Manifest{}, fmt.Errorf("failed to load index manifest: %w", err)
	}
	return id, m, nil
}

// resolve returns the live generation. A generation published since the last
// call is followed only when it was built by the same embedding model;
// otherwise the result is a *rag.MismatchError and nothing is served.
func (x *VectorIndex) resolve(ctx context.Context) (string, error) {
	id, m, err := x.readPointer(ctx)
	if err != nil {
		return "", err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if id == x.generation {
		return id, nil
	}
	if x.generation != "" {
		if err := m.Compatible(x.manifest.Model, x.manifest.Dimensions); err != nil {
			x.logger.Error("refusing index generation built by another embedding model",
				zap.String("generation", id),
				zap.Error(err))
			return "", err
		}
	}

	x.logger.Info("following new index generation",
		zap.String("previous", x.generation),
		zap.String("generation", id))
	x.generation, x.manifest = id, m
	return id, nil
}

// Manifest returns the manifest of the generation loaded last
func (x *VectorIndex) Manifest() rag.Manifest {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.manifest
}

// Generation returns the id of the generation loaded last
func (x *VectorIndex) Generation() string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.generation
}

// Search returns the k chunks of the live generation closest by cosine
// distance. It fails with rag.ErrModelMismatch when the live generation was
// built by a different embedding model than the one this index was opened with.
func (x *VectorIndex) Search(ctx context.Context, vector []float32, k int) ([]rag.ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}

	generation, err := x.resolve(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT c.chunk_id, c.content, c.metadata, c.chunk_index, 1 - (c.embedding <=> $2::vector) AS score
		FROM rag_chunks c
		WHERE c.generation_id = $1
		ORDER BY c.embedding <=> $2::vector, c.position
		LIMIT $3
	`

	rows, err := x.db.QueryContext(ctx, query, generation, pgvector.NewVector(vector), k)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, rag.ErrIndexUnavailable
		}
		return nil, fmt.Errorf("failed to query similar chunks: %w", err)
	}
	defer rows.Close()

	results := make([]rag.ScoredChunk, 0, k)
	for rows.Next() {
		var item rag.ScoredChunk
		var metadata []byte
		if err := rows.Scan(&item.ID, &item.Content, &metadata, &item.Index, &item.Score); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if err := json.Unmarshal(metadata, &item.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode chunk metadata: %w", err)
		}
		if item.Metadata == nil {
			item.Metadata = make(map[string]any, 1)
		}
		item.Metadata[rag.MetadataChunkIndex] = item.Index
		results = append(results, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chunks: %w", err)
	}

	return results, nil
}

// Count returns the number of chunks in the live generation
func (x *VectorIndex) Count(ctx context.Context) (int, error) {
	query := `
		SELECT g.chunk_count
		FROM rag_index_pointer p
		JOIN rag_index_generations g ON g.id = p.generation_id
		WHERE p.name = $1
	`

	var n int
	if err := x.db.QueryRowContext(ctx, query, x.name).Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) || isUndefinedTable(err) {
			return 0, rag.ErrIndexUnavailable
		}
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// Replace writes a complete generation and makes it live in one transaction,
// then prunes generations beyond the newest keep. A failed prune is logged.
func (x *VectorIndex) Replace(ctx context.Context, manifest rag.Manifest, entries []rag.Entry) (string, error) {
	if manifest.CreatedAt.IsZero() {
		manifest.CreatedAt = time.Now().UTC()
	}
	id := rag.NewGenerationID(manifest.CreatedAt)

	err := x.tm.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		exec := GetExecutor(ctx, x.db)

		if _, err := exec.ExecContext(ctx, `
			INSERT INTO rag_index_generations (id, model, dimensions, chunk_count, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, id, manifest.Model, manifest.Dimensions, len(entries), manifest.CreatedAt); err != nil {
			return fmt.Errorf("failed to create generation: %w", err)
		}

		for pos, e := range entries {
			if len(e.Vector) != manifest.Dimensions {
				return fmt.Errorf("entry %d has %d dimensions, expected %d", pos, len(e.Vector), manifest.Dimensions)
			}
			metadata, err := json.Marshal(e.Metadata)
			if err != nil {
				return fmt.Errorf("failed to encode metadata of entry %d: %w", pos, err)
			}
			if _, err := exec.ExecContext(ctx, `
				INSERT INTO rag_chunks (generation_id, position, chunk_id, content, metadata, chunk_index, embedding)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, id, pos, e.ID, e.Content, string(metadata), e.Index, pgvector.NewVector(e.Vector)); err != nil {
				return fmt.Errorf("failed to insert chunk %d: %w", pos, err)
			}
		}

		if _, err := exec.ExecContext(ctx, `
			INSERT INTO rag_index_pointer (name, generation_id, updated_at)
			VALUES ($1, $2, CURRENT_TIMESTAMP)
			ON CONFLICT (name) DO UPDATE SET
				generation_id = EXCLUDED.generation_id,
				updated_at = EXCLUDED.updated_at
		`, x.name, id); err != nil {
			return fmt.Errorf("failed to switch index pointer: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	x.mu.Lock()
	x.generation, x.manifest = id, manifest
	x.mu.Unlock()

	x.logger.Info("index generation published",
		zap.String("generation", id),
		zap.Int("chunks", len(entries)),
		zap.String("model", manifest.Model))

	if err := x.prune(ctx); err != nil {
		x.logger.Warn("failed to prune old index generations", zap.Error(err))
	}
	return id, nil
}

func (x *VectorIndex) prune(ctx context.Context) error {
	_, err := x.db.ExecContext(ctx, `
		DELETE FROM rag_index_generations
		WHERE id NOT IN (SELECT generation_id FROM rag_index_pointer)
		AND id NOT IN (
			SELECT id FROM rag_index_generations ORDER BY created_at DESC LIMIT $1
		)
	`, x.keep)
	return err
}
