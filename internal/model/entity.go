package model

import (
	"encoding/json"
	"slices"
)

// Candidate is an entity mention proposed by the model before its position
// in the document has been verified. Offsets are chunk-local and untrusted.
type Candidate struct {
	Mention      string   `json:"mention"`
	Label        string   `json:"label"`
	ClaimedStart *int     `json:"claimed_start,omitempty"`
	ClaimedEnd   *int     `json:"claimed_end,omitempty"`
	Confidence   *float64 `json:"confidence,omitempty"`
	ChunkIndex   int      `json:"chunk_index"`
}

// HasClaim reports whether the model supplied a usable offset pair.
func (c Candidate) HasClaim() bool {
	return c.ClaimedStart != nil && c.ClaimedEnd != nil && *c.ClaimedStart >= 0 && *c.ClaimedEnd > *c.ClaimedStart
}

// ResolvedEntity is a candidate whose span in the document has been verified.
// Start and End are half-open rune offsets in document coordinates.
type ResolvedEntity struct {
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Label      string  `json:"label"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	// Reported is true when Confidence came from the model.
	Reported bool `json:"reported,omitempty"`
	// Score is the synthesized per-entity score; zero until synthesis.
	Score      float64 `json:"score"`
	ChunkIndex int     `json:"chunk_index"`
}

// Len returns the span length in runes.
func (e ResolvedEntity) Len() int {
	return e.End - e.Start
}

// Key identifies an entity for deduplication.
func (e ResolvedEntity) Key() SpanKey {
	return SpanKey{Start: e.Start, End: e.End, Label: e.Label}
}

// Overlaps reports whether the two spans share at least one character.
func (e ResolvedEntity) Overlaps(o ResolvedEntity) bool {
	return e.Start < o.End && o.Start < e.End
}

// SpanKey is the (start, end, label) identity of an entity.
type SpanKey struct {
	Start int
	End   int
	Label string
}

// AnnotationResult is the final, immutable entity list for one document.
type AnnotationResult struct {
	entities     []ResolvedEntity
	modelVersion string
	score        float64
}

// NewAnnotationResult copies entities so later mutation of the caller's
// slice cannot leak into the result.
func NewAnnotationResult(entities []ResolvedEntity, modelVersion string, score float64) *AnnotationResult {
	return &AnnotationResult{
		entities:     slices.Clone(entities),
		modelVersion: modelVersion,
		score:        score,
	}
}

// Entities returns a copy of the ordered entity list.
func (r *AnnotationResult) Entities() []ResolvedEntity {
	if r == nil {
		return nil
	}
	return slices.Clone(r.entities)
}

// Len returns the number of entities.
func (r *AnnotationResult) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entities)
}

// ModelVersion returns the model version string recorded for the result.
func (r *AnnotationResult) ModelVersion() string {
	if r == nil {
		return ""
	}
	return r.modelVersion
}

// Score returns the aggregate confidence.
func (r *AnnotationResult) Score() float64 {
	if r == nil {
		return 0
	}
	return r.score
}

type annotationResultJSON struct {
	Entities     []ResolvedEntity `json:"entities"`
	ModelVersion string           `json:"model_version"`
	Score        float64          `json:"score"`
}

// MarshalJSON implements json.Marshaler.
func (r *AnnotationResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(annotationResultJSON{
		Entities:     r.entities,
		ModelVersion: r.modelVersion,
		Score:        r.score,
	})
}

// UnmarshalJSON implements json.Unmarshaler. Only used when reading stored runs.
func (r *AnnotationResult) UnmarshalJSON(data []byte) error {
	var aux annotationResultJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.entities = aux.Entities
	r.modelVersion = aux.ModelVersion
	r.score = aux.Score
	return nil
}
