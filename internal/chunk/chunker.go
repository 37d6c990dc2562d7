// Package chunk splits documents into bounded, offset-tracked chunks.
package chunk

import (
	"iter"

	"github.com/sells-group/annotate-cli/internal/model"
)

// DefaultMaxChars is used when a Chunker has no positive MaxChars.
const DefaultMaxChars = 4000

// Chunker splits text on paragraph, line and sentence boundaries, falling
// back to a hard cut when no boundary exists inside the tolerance window.
// A document of n runes always yields ceil(n/MaxChars) chunks; boundaries
// that would force an extra chunk are not used.
type Chunker struct {
	// MaxChars is the maximum chunk length in runes.
	MaxChars int
	// Tolerance is how far back from MaxChars a boundary may be searched.
	// Zero means MaxChars/10.
	Tolerance int
}

// New returns a Chunker with the given limits.
func New(maxChars, tolerance int) *Chunker {
	return &Chunker{MaxChars: maxChars, Tolerance: tolerance}
}

func (c *Chunker) limits() (maxChars, tolerance int) {
	maxChars = c.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	tolerance = c.Tolerance
	if tolerance <= 0 {
		tolerance = maxChars / 10
	}
	if tolerance >= maxChars {
		tolerance = maxChars - 1
	}
	return maxChars, tolerance
}

// Split returns a lazy sequence of chunks. Every range over the sequence
// walks the text from the start, so it can be consumed more than once.
// Boundary characters stay with the preceding chunk, which keeps
// chunk[i+1].Start == chunk[i].End() and lets the texts concatenate back to
// the original document.
func (c *Chunker) Split(text string) iter.Seq[model.Chunk] {
	maxChars, tolerance := c.limits()
	return func(yield func(model.Chunk) bool) {
		runes := []rune(text)
		start := 0
		for index := 0; start < len(runes); index++ {
			end := len(runes)
			if end-start > maxChars {
				need := (end - start + maxChars - 1) / maxChars
				floor := max(start+maxChars-tolerance, end-(need-1)*maxChars, start+1)
				end = cutPoint(runes, floor, start+maxChars)
			}
			if !yield(model.Chunk{Index: index, Text: string(runes[start:end]), Start: start}) {
				return
			}
			start = end
		}
	}
}

// Collect materializes the chunks of text.
func (c *Chunker) Collect(text string) []model.Chunk {
	var out []model.Chunk
	for ch := range c.Split(text) {
		out = append(out, ch)
	}
	return out
}

// boundary ranks, best first.
const (
	rankParagraph = iota
	rankLine
	rankSentence
	rankClause
	rankNone
)

// cutPoint returns the exclusive end of a chunk: the best-ranked boundary in
// [floor, limit], preferring the latest position within a rank, or limit.
func cutPoint(runes []rune, floor, limit int) int {
	bestRank, bestEnd := rankNone, limit
	for end := limit; end >= floor; end-- {
		r := boundaryRank(runes, end)
		if r < bestRank {
			bestRank, bestEnd = r, end
			if r == rankParagraph {
				break
			}
		}
	}
	return bestEnd
}

// boundaryRank classifies the position just after runes[end-1].
func boundaryRank(runes []rune, end int) int {
	prev := runes[end-1]
	switch {
	case prev == '\n' && end >= 2 && runes[end-2] == '\n':
		return rankParagraph
	case prev == '\n':
		return rankLine
	case isSentenceEnd(prev):
		return rankSentence
	case prev == ' ' && end >= 2 && isASCIIStop(runes[end-2]):
		return rankSentence
	case isClauseEnd(prev):
		return rankClause
	}
	return rankNone
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '。', '！', '？', '；', '…':
		return true
	}
	return false
}

func isASCIIStop(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == ';'
}

func isClauseEnd(r rune) bool {
	switch r {
	case '，', '、', '：', ',':
		return true
	}
	return false
}
