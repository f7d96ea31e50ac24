// Package chunker splits long text into size-bounded pieces at natural
// boundaries so each piece fits a messaging provider's per-message limit.
package chunker

import (
	"strings"
	"unicode"
)

// Options controls how Split looks for cut points.
type Options struct {
	// Limit is the maximum chunk length in runes.
	Limit int

	// MinFraction rejects boundaries that fall within the first
	// MinFraction*Limit runes of the remaining text, which would otherwise
	// produce tiny leading chunks.
	MinFraction float64

	// Sentences enables the sentence and word boundary fallbacks before a
	// hard cut.
	Sentences bool
}

var (
	sepParagraph = []rune("\n\n")
	sepLine      = []rune("\n")
	sepSentence  = []rune(". ")
	sepSpace     = []rune(" ")
)

// Split slices text into chunks of at most opt.Limit runes. Text that already
// fits is returned as a single chunk. Otherwise slices are taken greedily from
// the front at the last paragraph break, then line break, then (when enabled)
// sentence end or space, falling back to a hard cut at the limit. Slices are
// trimmed and empty slices dropped.
func Split(text string, opt Options) []string {
	r := []rune(text)
	if opt.Limit <= 0 || len(r) <= opt.Limit {
		return []string{text}
	}

	minCut := int(float64(opt.Limit) * opt.MinFraction)
	if minCut < 1 {
		minCut = 1
	}

	var chunks []string
	for len(r) > 0 {
		if len(r) <= opt.Limit {
			chunks = appendTrimmed(chunks, r)
			break
		}

		cut := cutPoint(r, opt, minCut)
		chunks = appendTrimmed(chunks, r[:cut])
		r = trimLeftSpace(r[cut:])
	}
	return chunks
}

func cutPoint(r []rune, opt Options, minCut int) int {
	limit := opt.Limit
	if i := lastIndex(r, sepParagraph, limit); i >= minCut {
		return i
	}
	if i := lastIndex(r, sepLine, limit); i >= minCut {
		return i
	}
	if opt.Sentences {
		// Keep the period with the sentence it ends.
		if i := lastIndex(r, sepSentence, limit-1); i >= 0 && i+1 >= minCut {
			return i + 1
		}
		if i := lastIndex(r, sepSpace, limit); i >= minCut {
			return i
		}
	}
	return limit
}

// lastIndex returns the largest i <= maxStart at which sep occurs in r, or -1.
func lastIndex(r, sep []rune, maxStart int) int {
	if maxStart > len(r)-len(sep) {
		maxStart = len(r) - len(sep)
	}
	for i := maxStart; i >= 0; i-- {
		if runesHavePrefix(r[i:], sep) {
			return i
		}
	}
	return -1
}

func runesHavePrefix(r, prefix []rune) bool {
	if len(r) < len(prefix) {
		return false
	}
	for i := range prefix {
		if r[i] != prefix[i] {
			return false
		}
	}
	return true
}

func trimLeftSpace(r []rune) []rune {
	i := 0
	for i < len(r) && unicode.IsSpace(r[i]) {
		i++
	}
	return r[i:]
}

func appendTrimmed(chunks []string, r []rune) []string {
	s := strings.TrimSpace(string(r))
	if s == "" {
		return chunks
	}
	return append(chunks, s)
}
