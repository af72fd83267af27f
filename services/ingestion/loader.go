package ingestion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/upb/rag-chatbot/internal/rag"
)

// DefaultExtensions are the file types ingested by default.
var DefaultExtensions = []string{".md", ".mdx", ".txt", ".pdf"}

// errEmptyDocument marks a file with no extractable text.
var errEmptyDocument = errors.New("document has no text")

// LoadResult is the outcome of walking the documents directory.
type LoadResult struct {
	Documents []rag.Document
	Files     int // files with a supported extension
	Skipped   []string
}

// Loader reads documents from a directory tree in parallel.
type Loader struct {
	root       string
	extensions map[string]bool
	workers    int
	logger     *zap.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithExtensions restricts loading to the given extensions (with the dot).
func WithExtensions(exts ...string) LoaderOption {
	return func(l *Loader) {
		if len(exts) == 0 {
			return
		}
		l.extensions = make(map[string]bool, len(exts))
		for _, e := range exts {
			l.extensions[strings.ToLower(e)] = true
		}
	}
}

// WithWorkers sets how many files are read concurrently.
func WithWorkers(n int) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.workers = n
		}
	}
}

// NewLoader creates a loader for root.
func NewLoader(root string, logger *zap.Logger, opts ...LoaderOption) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loader{root: root, workers: runtime.NumCPU(), logger: logger}
	WithExtensions(DefaultExtensions...)(l)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load walks root and reads every supported file. Files that cannot be read
// or contain no text are skipped with a warning. Documents are returned in
// path order regardless of which worker read them.
func (l *Loader) Load(ctx context.Context) (*LoadResult, error) {
	var paths []string
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == l.root {
				return err
			}
			l.logger.Warn("skipping unreadable path", zap.String("path", path), zap.Error(err))
			return nil
		}
		if d.IsDir() {
			if path != l.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if l.extensions[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", l.root, err)
	}
	sort.Strings(paths)

	docs := make([]*rag.Document, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)

	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			doc, err := l.loadFile(path)
			if err != nil {
				l.logger.Warn("skipping document", zap.String("path", path), zap.Error(err))
				return nil
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &LoadResult{Files: len(paths)}
	for i, doc := range docs {
		if doc == nil {
			result.Skipped = append(result.Skipped, paths[i])
			continue
		}
		result.Documents = append(result.Documents, *doc)
	}
	return result, nil
}

func (l *Loader) loadFile(path string) (*rag.Document, error) {
	var text string
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		text, err = readPDF(path)
	default:
		text, err = readText(path)
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, errEmptyDocument
	}

	return &rag.Document{
		Content: text,
		Metadata: map[string]any{
			rag.MetadataSource: filepath.ToSlash(path),
		},
	}, nil
}

func readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("file is not valid UTF-8")
	}
	return strings.ReplaceAll(string(data), "\r\n", "\n"), nil
}

func readPDF(path string) (text string, err error) {
	// The PDF reader panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return buf.String(), nil
}
