package rag

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// DefaultSeparators split on markdown headings first, then paragraphs, lines,
// words and finally single characters.
var DefaultSeparators = []string{"\n## ", "\n### ", "\n#### ", "\n\n", "\n", " ", ""}

// SplitterOption configures a RecursiveSplitter.
type SplitterOption func(*RecursiveSplitter)

// WithChunkSize sets the maximum chunk length in characters.
func WithChunkSize(size int) SplitterOption {
	return func(s *RecursiveSplitter) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

// WithChunkOverlap sets how many trailing characters of a chunk may be
// repeated at the start of the next one.
func WithChunkOverlap(overlap int) SplitterOption {
	return func(s *RecursiveSplitter) {
		if overlap >= 0 {
			s.chunkOverlap = overlap
		}
	}
}

// WithSeparators sets the separators, most specific first. An empty string
// separator means character-level splitting.
func WithSeparators(separators []string) SplitterOption {
	return func(s *RecursiveSplitter) {
		if len(separators) > 0 {
			s.separators = append([]string(nil), separators...)
		}
	}
}

// RecursiveSplitter splits text on the first separator present, recursing
// into pieces that are still too long with the remaining separators, then
// merges small neighbouring pieces back into chunks of at most chunkSize
// characters. Lengths are counted in runes.
type RecursiveSplitter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// NewRecursiveSplitter creates a splitter. An overlap that is not smaller than
// the chunk size is reduced to a quarter of it.
func NewRecursiveSplitter(opts ...SplitterOption) *RecursiveSplitter {
	s := &RecursiveSplitter{
		chunkSize:    DefaultChunkSize,
		chunkOverlap: DefaultChunkOverlap,
		separators:   DefaultSeparators,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.chunkOverlap >= s.chunkSize {
		s.chunkOverlap = s.chunkSize / 4
	}
	return s
}

// ChunkSize returns the configured maximum chunk length.
func (s *RecursiveSplitter) ChunkSize() int { return s.chunkSize }

// ChunkOverlap returns the configured overlap.
func (s *RecursiveSplitter) ChunkOverlap() int { return s.chunkOverlap }

// SplitDocuments splits every document into chunks. Each chunk carries a copy
// of its document's metadata plus its chunk_index, and a deterministic ID
// derived from the document source and chunk position.
func (s *RecursiveSplitter) SplitDocuments(docs []Document) []Chunk {
	chunks := make([]Chunk, 0, len(docs))
	for docIdx, doc := range docs {
		key := doc.Source()
		if key == "" {
			key = fmt.Sprintf("document-%d", docIdx)
		}
		for i, text := range s.SplitText(doc.Content) {
			meta := make(map[string]any, len(doc.Metadata)+1)
			for k, v := range doc.Metadata {
				meta[k] = v
			}
			meta[MetadataChunkIndex] = i

			chunks = append(chunks, Chunk{
				ID:       uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s#%d", key, i))).String(),
				Content:  text,
				Metadata: meta,
				Index:    i,
			})
		}
	}
	return chunks
}

// SplitText splits a single text. Empty or whitespace-only text yields no chunks.
func (s *RecursiveSplitter) SplitText(text string) []string {
	return s.split(text, s.separators)
}

func (s *RecursiveSplitter) split(text string, separators []string) []string {
	var final []string

	// Pick the first separator that occurs in the text.
	separator := separators[len(separators)-1]
	var rest []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var good []string
	for _, piece := range splitKeepingSeparator(text, separator) {
		if runeLen(piece) < s.chunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			final = append(final, s.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			// Nothing left to split with.
			if trimmed := strings.TrimSpace(piece); trimmed != "" {
				final = append(final, trimmed)
			}
			continue
		}
		final = append(final, s.split(piece, rest)...)
	}
	if len(good) > 0 {
		final = append(final, s.merge(good)...)
	}
	return final
}

// merge joins pieces into chunks no longer than chunkSize, starting each new
// chunk with up to chunkOverlap characters from the end of the previous one.
func (s *RecursiveSplitter) merge(pieces []string) []string {
	var docs []string
	var current []string
	total := 0

	for _, piece := range pieces {
		n := runeLen(piece)
		if total+n > s.chunkSize && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
				docs = append(docs, doc)
			}
			for len(current) > 0 && (total > s.chunkOverlap || total+n > s.chunkSize) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += n
	}

	if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

// splitKeepingSeparator splits text on sep, keeping the separator at the
// start of the piece that follows it. An empty separator splits into runes.
func splitKeepingSeparator(text, sep string) []string {
	if sep == "" {
		pieces := make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
		return pieces
	}

	parts := strings.Split(text, sep)
	pieces := make([]string, 0, len(parts))
	if parts[0] != "" {
		pieces = append(pieces, parts[0])
	}
	for _, p := range parts[1:] {
		pieces = append(pieces, sep+p)
	}
	return pieces
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
