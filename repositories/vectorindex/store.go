// Package vectorindex stores index generations as SQLite files and serves
// similarity search from an in-memory snapshot of the live generation.
//
// Layout under the index directory:
//
//	CURRENT                      id of the live generation
//	generations/<id>/index.db    one SQLite database per generation
//
// A generation is written completely before CURRENT is replaced by rename,
// so a reader resolving CURRENT always finds a finished generation.
package vectorindex

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/upb/rag-chatbot/internal/rag"
)

const (
	currentFile    = "CURRENT"
	generationsDir = "generations"
	databaseFile   = "index.db"

	// DefaultKeep is how many generations survive a prune, the live one included.
	DefaultKeep = 2
)

const schema = `
	CREATE TABLE manifest (
		model TEXT NOT NULL,
		dimensions INTEGER NOT NULL,
		chunk_count INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE chunks (
		position INTEGER PRIMARY KEY,
		chunk_id TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		embedding BLOB NOT NULL
	);
`

// Store manages the generations under one directory.
type Store struct {
	dir    string
	keep   int
	logger *zap.Logger
}

var _ rag.IndexWriter = (*Store)(nil)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithKeep sets how many generations are kept after a successful Replace.
func WithKeep(n int) StoreOption {
	return func(s *Store) {
		if n >= 1 {
			s.keep = n
		}
	}
}

// NewStore creates a store rooted at dir. The directory is created on first write.
func NewStore(dir string, logger *zap.Logger, opts ...StoreOption) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{dir: dir, keep: DefaultKeep, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the index directory.
func (s *Store) Dir() string { return s.dir }

// Current returns the id of the live generation, or rag.ErrIndexUnavailable.
func (s *Store) Current() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, currentFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", rag.ErrIndexUnavailable
		}
		return "", fmt.Errorf("reading index pointer: %w", err)
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", rag.ErrIndexUnavailable
	}
	return id, nil
}

// Generations lists generation ids, oldest first.
func (s *Store) Generations() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, generationsDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing generations: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) generationPath(id string) string {
	return filepath.Join(s.dir, generationsDir, id, databaseFile)
}

// Replace writes entries into a new generation, then publishes it by
// atomically replacing CURRENT. On any error before the rename the previous
// generation stays live and the partial generation is removed.
func (s *Store) Replace(ctx context.Context, manifest rag.Manifest, entries []rag.Entry) (string, error) {
	if manifest.CreatedAt.IsZero() {
		manifest.CreatedAt = time.Now().UTC()
	}
	id := rag.NewGenerationID(manifest.CreatedAt)
	genDir := filepath.Join(s.dir, generationsDir, id)

	if err := os.MkdirAll(genDir, 0o755); err != nil {
		return "", fmt.Errorf("creating generation directory: %w", err)
	}

	if err := s.write(ctx, filepath.Join(genDir, databaseFile), manifest, entries); err != nil {
		_ = os.RemoveAll(genDir)
		return "", err
	}

	if err := s.publish(id); err != nil {
		_ = os.RemoveAll(genDir)
		return "", err
	}

	s.logger.Info("index generation published",
		zap.String("generation", id),
		zap.Int("chunks", len(entries)),
		zap.String("model", manifest.Model))

	if err := s.prune(id); err != nil {
		s.logger.Warn("failed to prune old index generations", zap.Error(err))
	}
	return id, nil
}

func (s *Store) write(ctx context.Context, path string, manifest rag.Manifest, entries []rag.Entry) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("opening generation database: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating generation schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO manifest (model, dimensions, chunk_count, created_at) VALUES (?, ?, ?, ?)`,
		manifest.Model, manifest.Dimensions, len(entries), manifest.CreatedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (position, chunk_id, content, metadata, chunk_index, embedding) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	for pos, e := range entries {
		if len(e.Vector) != manifest.Dimensions {
			return fmt.Errorf("entry %d has %d dimensions, expected %d", pos, len(e.Vector), manifest.Dimensions)
		}
		metadata, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("encoding metadata of entry %d: %w", pos, err)
		}
		if _, err := stmt.ExecContext(ctx, pos, e.ID, e.Content, string(metadata), e.Index, float32SliceToBytes(e.Vector)); err != nil {
			return fmt.Errorf("inserting chunk %d: %w", pos, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing generation: %w", err)
	}
	return nil
}

// publish points CURRENT at id via write-to-temp and rename.
func (s *Store) publish(id string) error {
	tmp := filepath.Join(s.dir, currentFile+".tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("writing index pointer: %w", err)
	}
	if _, err := f.WriteString(id + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("writing index pointer: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing index pointer: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing index pointer: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, currentFile)); err != nil {
		return fmt.Errorf("publishing index pointer: %w", err)
	}
	return nil
}

// prune removes all but the newest keep generations, never the live one.
// Removal errors are collected; the remaining generations stay usable.
func (s *Store) prune(live string) error {
	ids, err := s.Generations()
	if err != nil {
		return err
	}

	var errs []error
	for i := 0; i < len(ids)-s.keep; i++ {
		if ids[i] == live {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.dir, generationsDir, ids[i])); err != nil {
			errs = append(errs, fmt.Errorf("removing generation %s: %w", ids[i], err))
		}
	}
	return errors.Join(errs...)
}

// Load reads the live generation into an immutable snapshot.
func (s *Store) Load(ctx context.Context) (*Snapshot, error) {
	id, err := s.Current()
	if err != nil {
		return nil, err
	}
	return s.LoadGeneration(ctx, id)
}

// LoadGeneration reads the given generation into an immutable snapshot.
func (s *Store) LoadGeneration(ctx context.Context, id string) (*Snapshot, error) {
	path := s.generationPath(id)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("generation %s: %w", id, rag.ErrIndexUnavailable)
		}
		return nil, fmt.Errorf("generation %s: %w", id, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening generation %s: %w", id, err)
	}
	defer db.Close()

	snap := &Snapshot{generation: id}
	var created string
	if err := db.QueryRowContext(ctx,
		`SELECT model, dimensions, created_at FROM manifest LIMIT 1`,
	).Scan(&snap.manifest.Model, &snap.manifest.Dimensions, &created); err != nil {
		return nil, fmt.Errorf("reading manifest of generation %s: %w", id, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		snap.manifest.CreatedAt = t
	}

	rows, err := db.QueryContext(ctx,
		`SELECT chunk_id, content, metadata, chunk_index, embedding FROM chunks ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("reading chunks of generation %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var c rag.Chunk
		var metadata string
		var blob []byte
		if err := rows.Scan(&c.ID, &c.Content, &metadata, &c.Index, &blob); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		if err := json.Unmarshal([]byte(metadata), &c.Metadata); err != nil {
			return nil, fmt.Errorf("decoding chunk metadata: %w", err)
		}
		if c.Metadata == nil {
			c.Metadata = make(map[string]any, 1)
		}
		c.Metadata[rag.MetadataChunkIndex] = c.Index

		vec := bytesToFloat32Slice(blob)
		if len(vec) != snap.manifest.Dimensions {
			return nil, fmt.Errorf("chunk %s has %d dimensions, manifest says %d", c.ID, len(vec), snap.manifest.Dimensions)
		}
		snap.chunks = append(snap.chunks, c)
		snap.vectors = append(snap.vectors, rag.Normalize(vec))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}

	return snap, nil
}

// float32SliceToBytes encodes a vector as little-endian float32s.
func float32SliceToBytes(floats []float32) []byte {
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice decodes a vector written by float32SliceToBytes.
func bytesToFloat32Slice(data []byte) []float32 {
	if len(data)%4 != 0 {
		return nil
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
