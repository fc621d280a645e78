// Package textsplit breaks long text into bounded chunks at sentence boundaries.
package textsplit

import (
	"errors"
	"iter"
	"strings"
	"unicode/utf8"
)

// DefaultBoundaries are the sentence terminators recognized when no override is supplied.
const DefaultBoundaries = "。！？.!?"

// ErrInvalidLength is returned when a chunk length of zero or less is requested.
var ErrInvalidLength = errors.New("textsplit: max length must be > 0")

type options struct {
	boundaries string
}

// Option customizes splitting.
type Option func(*options)

// WithBoundaries overrides the set of runes treated as sentence terminators.
func WithBoundaries(set string) Option {
	return func(o *options) {
		if set != "" {
			o.boundaries = set
		}
	}
}

// Split lazily yields chunks of at most maxLength runes. Each chunk ends at the
// last boundary rune inside the window; when the window has none the chunk is
// cut at exactly maxLength. Concatenating the chunks returns text unchanged.
// It panics when maxLength <= 0; use SplitAll for an error instead.
func Split(text string, maxLength int, opts ...Option) iter.Seq[string] {
	if maxLength <= 0 {
		panic(ErrInvalidLength)
	}
	cfg := options{boundaries: DefaultBoundaries}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(yield func(string) bool) {
		rest := text
		for rest != "" {
			cut := nextCut(rest, maxLength, cfg.boundaries)
			if !yield(rest[:cut]) {
				return
			}
			rest = rest[cut:]
		}
	}
}

// SplitAll collects Split into a slice.
func SplitAll(text string, maxLength int, opts ...Option) ([]string, error) {
	if maxLength <= 0 {
		return nil, ErrInvalidLength
	}
	var chunks []string
	for chunk := range Split(text, maxLength, opts...) {
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// nextCut returns the byte offset that ends the next chunk of s.
func nextCut(s string, maxLength int, boundaries string) int {
	lastBoundary := -1
	runes := 0
	for i, r := range s {
		if runes == maxLength {
			if lastBoundary > 0 {
				return lastBoundary
			}
			return i
		}
		runes++
		if strings.ContainsRune(boundaries, r) {
			lastBoundary = i + utf8.RuneLen(r)
		}
	}
	return len(s)
}
