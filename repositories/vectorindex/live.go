package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/upb/rag-chatbot/internal/rag"
)

// reloadDebounce coalesces the burst of events a single publish produces.
const reloadDebounce = 100 * time.Millisecond

// Live serves searches from the current snapshot and swaps in a new one when
// the store publishes another generation. Reads take no locks; a search runs
// entirely against whichever snapshot it started with.
type Live struct {
	store   *Store
	current atomic.Pointer[Snapshot]
	logger  *zap.Logger

	// reloadMu serializes reloads; searches never take it.
	reloadMu sync.Mutex

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

var _ rag.VectorIndex = (*Live)(nil)

// Open loads the live generation of store. It returns rag.ErrIndexUnavailable
// when nothing has been ingested.
func Open(ctx context.Context, store *Store, logger *zap.Logger) (*Live, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	snap, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}

	l := &Live{store: store, logger: logger}
	l.current.Store(snap)

	logger.Info("vector index loaded",
		zap.String("generation", snap.Generation()),
		zap.String("model", snap.Manifest().Model),
		zap.Int("chunks", len(snap.chunks)))
	return l, nil
}

// Snapshot returns the snapshot searches currently use.
func (l *Live) Snapshot() *Snapshot { return l.current.Load() }

// Generation returns the id of the live generation.
func (l *Live) Generation() string { return l.current.Load().Generation() }

// Manifest returns the manifest of the live generation.
func (l *Live) Manifest() rag.Manifest { return l.current.Load().Manifest() }

// Count returns the number of chunks in the live generation.
func (l *Live) Count(ctx context.Context) (int, error) {
	return l.current.Load().Count(ctx)
}

// Search searches the live generation.
func (l *Live) Search(ctx context.Context, vector []float32, k int) ([]rag.ScoredChunk, error) {
	return l.current.Load().Search(ctx, vector, k)
}

// Reload swaps in the generation CURRENT points at. A generation built with a
// different embedding model or dimension is refused and the old one stays live.
func (l *Live) Reload(ctx context.Context) (bool, error) {
	l.reloadMu.Lock()
	defer l.reloadMu.Unlock()

	id, err := l.store.Current()
	if err != nil {
		return false, err
	}
	old := l.current.Load()
	if id == old.Generation() {
		return false, nil
	}

	snap, err := l.store.LoadGeneration(ctx, id)
	if err != nil {
		return false, err
	}
	m := old.Manifest()
	if err := snap.Manifest().Compatible(m.Model, m.Dimensions); err != nil {
		return false, fmt.Errorf("refusing generation %s: %w", id, err)
	}

	l.current.Store(snap)
	l.logger.Info("vector index reloaded",
		zap.String("previous", old.Generation()),
		zap.String("generation", id),
		zap.Int("chunks", len(snap.chunks)))
	return true, nil
}

// Watch reloads the index whenever CURRENT changes, until ctx is done or
// Close is called.
func (l *Live) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating index watcher: %w", err)
	}
	if err := watcher.Add(l.store.Dir()); err != nil {
		watcher.Close()
		return fmt.Errorf("watching index directory: %w", err)
	}

	l.watcher = watcher
	l.done = make(chan struct{})
	l.wg.Add(1)
	go l.watchLoop(ctx)
	return nil
}

func (l *Live) watchLoop(ctx context.Context) {
	defer l.wg.Done()

	pointer := filepath.Join(l.store.Dir(), currentFile)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != pointer || !event.Has(fsnotify.Create|fsnotify.Write|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("index watcher error", zap.Error(err))
		case <-fire:
			fire = nil
			if _, err := l.Reload(ctx); err != nil {
				level := l.logger.Error
				if errors.Is(err, rag.ErrIndexUnavailable) {
					level = l.logger.Warn
				}
				level("failed to reload vector index", zap.Error(err))
			}
		}
	}
}

// Close stops the watcher, if any.
func (l *Live) Close() error {
	if l.watcher == nil {
		return nil
	}
	close(l.done)
	err := l.watcher.Close()
	l.wg.Wait()
	l.watcher = nil
	return err
}
