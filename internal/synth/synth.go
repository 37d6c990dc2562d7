// Package synth merges resolved entities into the final annotation result.
package synth

import (
	"cmp"
	"math"
	"slices"

	"github.com/sells-group/annotate-cli/internal/model"
	"github.com/sells-group/annotate-cli/internal/taxonomy"
)

// Default scoring parameters.
const (
	DefaultConfidence = 0.8
	DefaultBoost      = 0.1
	DefaultPenalty    = 0.2
)

// Options tune per-entity scoring.
type Options struct {
	DefaultConfidence float64
	Boost             float64
	Penalty           float64
}

// DefaultOptions returns the standard scoring parameters.
func DefaultOptions() Options {
	return Options{
		DefaultConfidence: DefaultConfidence,
		Boost:             DefaultBoost,
		Penalty:           DefaultPenalty,
	}
}

type indexed struct {
	model.ResolvedEntity
	order int
}

// Synthesize deduplicates, resolves overlaps, scores and orders entities.
// Applying it to its own output returns an equal result.
func Synthesize(entities []model.ResolvedEntity, tax *taxonomy.Taxonomy, modelVersion string, opts Options) *model.AnnotationResult {
	kept := resolveOverlaps(dedupe(entities))

	out := make([]model.ResolvedEntity, 0, len(kept))
	total := 0.0
	for _, e := range kept {
		e.Score = score(e, tax, opts)
		total += e.Score
		out = append(out, e)
	}
	slices.SortStableFunc(out, func(a, b model.ResolvedEntity) int {
		return cmp.Or(
			cmp.Compare(a.Start, b.Start),
			cmp.Compare(a.End, b.End),
			cmp.Compare(a.Label, b.Label),
		)
	})

	var agg float64
	if len(out) > 0 {
		agg = round(total / float64(len(out)))
	}
	return model.NewAnnotationResult(out, modelVersion, agg)
}

// dedupe drops exact (start, end, label) repeats; the first occurrence wins.
func dedupe(entities []model.ResolvedEntity) []indexed {
	seen := make(map[model.SpanKey]bool, len(entities))
	out := make([]indexed, 0, len(entities))
	for i, e := range entities {
		if e.Start >= e.End || seen[e.Key()] {
			continue
		}
		seen[e.Key()] = true
		out = append(out, indexed{ResolvedEntity: e, order: i})
	}
	return out
}

// resolveOverlaps keeps a non-overlapping subset. Longer spans win, then
// earlier chunks, earlier starts and finally input order.
func resolveOverlaps(entities []indexed) []model.ResolvedEntity {
	ranked := slices.Clone(entities)
	slices.SortFunc(ranked, func(a, b indexed) int {
		return cmp.Or(
			cmp.Compare(b.Len(), a.Len()),
			cmp.Compare(a.ChunkIndex, b.ChunkIndex),
			cmp.Compare(a.Start, b.Start),
			cmp.Compare(a.order, b.order),
		)
	})

	var kept []model.ResolvedEntity
	for _, cand := range ranked {
		if slices.ContainsFunc(kept, cand.Overlaps) {
			continue
		}
		kept = append(kept, cand.ResolvedEntity)
	}
	return kept
}

// score derives an entity score from its base confidence, whether the
// label is known and whether one of the label's patterns matches the text.
func score(e model.ResolvedEntity, tax *taxonomy.Taxonomy, opts Options) float64 {
	base := opts.DefaultConfidence
	if e.Reported {
		base = e.Confidence
	}

	known := tax != nil && tax.Has(e.Label)
	matched := known && tax.Matches(e.Label, e.Text)
	switch {
	case known && matched:
		base = math.Min(1, base+opts.Boost)
	case !known && !matched:
		base = math.Max(0, base-opts.Penalty)
	}
	return round(base)
}

// round trims float noise so scores compare and serialize stably.
func round(f float64) float64 {
	return math.Round(f*1e6) / 1e6
}
