// Package chunk splits document content into ordered, overlapping chunks
// with stable identities.
//
// The splitter is recursive over a precedence list of separators
// (paragraph boundary, line boundary, sentence boundary) and falls back
// to hard cuts at the size bound. It is deterministic for a given
// (content, size, overlap), which is what makes chunk-level diffing
// possible: the chunk at a given index only changes hash when its
// content actually changed.
package chunk

import (
	"strings"
	"unicode/utf8"

	"github.com/kbvault/kbvault/internal/errors"
	"github.com/kbvault/kbvault/internal/hash"
)

// Size bounds accepted from callers, in tokens.
const (
	MinChunkSize = 128
	MaxChunkSize = 2048
	MaxOverlap   = 256

	// charsPerToken approximates tokens from rune count: 4 chars = 1 token.
	charsPerToken = 4
)

// Chunk is one independently-addressable slice of a document.
type Chunk struct {
	// Index is 0-based and contiguous within a single version.
	Index int
	// Content is the chunk text.
	Content string
	// HashContent is the content fingerprint of this chunk alone.
	HashContent string
}

// Splitter splits content into chunks of approximately Size tokens with
// Overlap tokens carried over between adjacent chunks.
type Splitter struct {
	Size    int
	Overlap int
}

// NewSplitter validates the chunking options and returns a splitter.
func NewSplitter(size, overlap int) (*Splitter, error) {
	if size < MinChunkSize || size > MaxChunkSize {
		return nil, errors.InvalidInputf("chunk_size %d outside [%d, %d]", size, MinChunkSize, MaxChunkSize)
	}
	if overlap < 0 || overlap > MaxOverlap {
		return nil, errors.InvalidInputf("chunk_overlap %d outside [0, %d]", overlap, MaxOverlap)
	}
	if overlap >= size {
		return nil, errors.InvalidInputf("chunk_overlap %d must be smaller than chunk_size %d", overlap, size)
	}
	return &Splitter{Size: size, Overlap: overlap}, nil
}

// separators in precedence order: paragraph, line, sentence.
var separators = []string{"\n\n", "\n", ". "}

// Split splits content into ordered chunks. Empty or whitespace-only
// content yields no chunks.
func (s *Splitter) Split(content string) []Chunk {
	text := strings.TrimSpace(content)
	if text == "" {
		return nil
	}

	pieces := s.split(text, separators)

	chunks := make([]Chunk, 0, len(pieces))
	for _, piece := range pieces {
		trimmed := strings.TrimSpace(piece)
		if trimmed == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			Index:       len(chunks),
			Content:     trimmed,
			HashContent: hash.Content([]byte(trimmed)),
		})
	}
	return chunks
}

// tokens approximates the token count of a string.
func (s *Splitter) tokens(text string) int {
	runes := utf8.RuneCountInString(text)
	return (runes + charsPerToken - 1) / charsPerToken
}

// split recursively breaks text at the first separator that applies,
// merging parts back into windows of at most Size tokens.
func (s *Splitter) split(text string, seps []string) []string {
	if s.tokens(text) <= s.Size {
		return []string{text}
	}
	if len(seps) == 0 {
		return s.hardCut(text)
	}

	parts := splitKeep(text, seps[0])
	if len(parts) == 1 {
		return s.split(text, seps[1:])
	}

	var out []string
	var window []string
	winTokens := 0
	fresh := false

	flush := func() {
		if !fresh {
			return
		}
		merged := strings.Join(window, "")
		if strings.TrimSpace(merged) != "" {
			out = append(out, merged)
		}
		fresh = false

		// Retain the tail of the window as overlap for the next chunk.
		if s.Overlap <= 0 {
			window = nil
			winTokens = 0
			return
		}
		var keep []string
		kept := 0
		for i := len(window) - 1; i >= 0; i-- {
			t := s.tokens(window[i])
			if kept+t > s.Overlap {
				break
			}
			keep = append([]string{window[i]}, keep...)
			kept += t
		}
		window = keep
		winTokens = kept
	}

	for _, part := range parts {
		pt := s.tokens(part)

		// An oversized part is split at the next separator level on its
		// own; the current window flushes first to preserve ordering.
		if pt > s.Size {
			flush()
			window = nil
			winTokens = 0
			out = append(out, s.split(part, seps[1:])...)
			continue
		}

		if winTokens+pt > s.Size && winTokens > 0 {
			flush()
		}
		window = append(window, part)
		winTokens += pt
		fresh = true
	}
	flush()

	return out
}

// hardCut slices text at the size bound with overlap, on rune boundaries.
func (s *Splitter) hardCut(text string) []string {
	runes := []rune(text)
	maxChars := s.Size * charsPerToken
	step := (s.Size - s.Overlap) * charsPerToken
	if step <= 0 {
		step = maxChars
	}

	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + maxChars
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
		if end >= len(runes) {
			break
		}
	}
	return out
}

// splitKeep splits text on sep, keeping the separator attached to the
// preceding part so that joining the parts reproduces the input.
func splitKeep(text, sep string) []string {
	raw := strings.Split(text, sep)
	if len(raw) == 1 {
		return raw
	}
	parts := make([]string, 0, len(raw))
	for i, p := range raw {
		if i < len(raw)-1 {
			p += sep
		}
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
