// Package chunker splits document text into overlapping fixed-size windows.
package chunker

import (
	"iter"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/ragpipe/internal/rag"
)

const (
	DefaultSize    = 500
	DefaultOverlap = 50
)

// Chunker is a sliding window over the runes of a text. Windows are
// [start, start+Size) and consecutive windows start Size-Overlap apart.
// A Chunker holds no mutable state and may be shared.
type Chunker struct {
	size    int
	overlap int
}

// New returns a Chunker. Overlap must be in [0, size); anything else is a
// configuration error since the window would never advance.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, rag.Configf(rag.StageChunking, "chunk size must be positive, got %d", size)
	}
	if overlap < 0 {
		return nil, rag.Configf(rag.StageChunking, "chunk overlap must not be negative, got %d", overlap)
	}
	if overlap >= size {
		return nil, rag.Configf(rag.StageChunking, "chunk overlap %d must be smaller than chunk size %d", overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Default returns a 500/50 Chunker.
func Default() *Chunker {
	return &Chunker{size: DefaultSize, overlap: DefaultOverlap}
}

// Size returns the window length in runes.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the number of runes shared by consecutive windows.
func (c *Chunker) Overlap() int { return c.overlap }

// Split returns the trimmed, non-empty windows of text. The sequence is
// lazy and may be ranged over any number of times.
func (c *Chunker) Split(text string) iter.Seq[string] {
	step := c.size - c.overlap
	return func(yield func(string) bool) {
		if text == "" {
			return
		}
		var runes []rune
		if utf8.RuneCountInString(text) != len(text) {
			runes = []rune(text)
		}
		n := len(text)
		if runes != nil {
			n = len(runes)
		}

		for start := 0; start < n; start += step {
			end := min(start+c.size, n)
			var window string
			if runes != nil {
				window = string(runes[start:end])
			} else {
				window = text[start:end]
			}
			if chunk := strings.TrimSpace(window); chunk != "" {
				if !yield(chunk) {
					return
				}
			}
		}
	}
}

// Chunks splits text and labels each window with source and a per-source
// index starting at zero.
func (c *Chunker) Chunks(source, text string) []rag.Chunk {
	var out []rag.Chunk
	for chunk := range c.Split(text) {
		out = append(out, rag.Chunk{Text: chunk, Source: source, Index: len(out)})
	}
	return out
}
