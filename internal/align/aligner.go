// Package align anchors entity candidates to exact rune offsets in the
// source document.
package align

import (
	"slices"

	"go.uber.org/zap"
	"golang.org/x/text/width"

	"github.com/sells-group/annotate-cli/internal/model"
)

// Options control alignment behavior.
type Options struct {
	// FoldWidth retries a failed exact search after folding full-width and
	// half-width forms. Folding is rune-for-rune so offsets stay valid.
	FoldWidth bool
}

// Aligner resolves the candidates of one chunk. It is not safe for
// concurrent use; create one per chunk.
type Aligner struct {
	doc    []rune
	folded []rune
	chunk  model.Chunk
	end    int
	opts   Options
	// anchor is the document offset where the next search begins.
	anchor  int
	claimed map[span]bool
}

// span is a claimed occurrence. Claims ignore the label, so one occurrence
// resolves at most one candidate.
type span struct{ start, end int }

// New creates an aligner for chunk over the document runes. doc must be
// the untouched document text.
func New(doc []rune, chunk model.Chunk, opts Options) *Aligner {
	end := min(chunk.End(), len(doc))
	start := min(max(chunk.Start, 0), end)
	return &Aligner{
		doc:     doc,
		chunk:   chunk,
		end:     end,
		opts:    opts,
		anchor:  start,
		claimed: make(map[span]bool),
	}
}

// Resolve anchors candidates in order. Candidates that cannot be located are
// dropped and counted in failures.
func (a *Aligner) Resolve(candidates []model.Candidate) (resolved []model.ResolvedEntity, failures int) {
	for _, c := range candidates {
		mention := []rune(c.Mention)
		if len(mention) == 0 {
			failures++
			continue
		}

		start, ok := a.verifyClaim(c, mention)
		if !ok {
			start, ok = a.search(mention, a.doc)
		}
		if !ok && a.opts.FoldWidth {
			start, ok = a.search(foldRunes(mention), a.foldedDoc())
		}
		if !ok {
			failures++
			zap.L().Debug("align: mention not found",
				zap.Int("chunk", a.chunk.Index),
				zap.String("mention", c.Mention),
				zap.String("label", c.Label),
			)
			continue
		}

		end := start + len(mention)
		e := model.ResolvedEntity{
			Start:      start,
			End:        end,
			Label:      c.Label,
			Text:       string(a.doc[start:end]),
			ChunkIndex: c.ChunkIndex,
		}
		if c.Confidence != nil {
			e.Confidence = *c.Confidence
			e.Reported = true
		}
		a.claimed[span{start, end}] = true
		a.anchor = end
		resolved = append(resolved, e)
	}
	return resolved, failures
}

// verifyClaim trusts the model's chunk-local offsets only when they point at
// the exact mention and that occurrence is still unclaimed.
func (a *Aligner) verifyClaim(c model.Candidate, mention []rune) (int, bool) {
	if !c.HasClaim() {
		return 0, false
	}
	start := a.chunk.Start + *c.ClaimedStart
	end := a.chunk.Start + *c.ClaimedEnd
	if end > a.end || end-start != len(mention) {
		return 0, false
	}
	if !slices.Equal(a.doc[start:end], mention) {
		return 0, false
	}
	if a.claimed[span{start, end}] {
		return 0, false
	}
	return start, true
}

// search picks the first unclaimed occurrence at or after the anchor, or
// failing that the unclaimed occurrence closest before it.
func (a *Aligner) search(mention, hay []rune) (int, bool) {
	best := -1
	for _, pos := range occurrences(hay[:a.end], mention, a.chunk.Start) {
		if a.claimed[span{pos, pos + len(mention)}] {
			continue
		}
		if pos >= a.anchor {
			return pos, true
		}
		best = pos
	}
	return best, best >= 0
}

func (a *Aligner) foldedDoc() []rune {
	if a.folded == nil {
		a.folded = foldRunes(a.doc)
	}
	return a.folded
}

// occurrences returns every start offset of needle in hay at or after from,
// including overlapping ones.
func occurrences(hay, needle []rune, from int) []int {
	var out []int
	for i := from; i+len(needle) <= len(hay); i++ {
		if hay[i] == needle[0] && slices.Equal(hay[i:i+len(needle)], needle) {
			out = append(out, i)
		}
	}
	return out
}

// foldRunes maps full-width and half-width variants to their narrow form.
// Runes whose fold is not a single rune are kept as is.
func foldRunes(in []rune) []rune {
	out := make([]rune, len(in))
	for i, r := range in {
		out[i] = r
		p := width.LookupRune(r)
		if f := p.Narrow(); f != 0 {
			out[i] = f
		}
	}
	return out
}
