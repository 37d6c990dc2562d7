package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestCandidate_HasClaim(t *testing.T) {
	tests := []struct {
		name  string
		start *int
		end   *int
		want  bool
	}{
		{"both set", intPtr(0), intPtr(2), true},
		{"missing end", intPtr(0), nil, false},
		{"missing start", nil, intPtr(2), false},
		{"negative start", intPtr(-1), intPtr(2), false},
		{"empty span", intPtr(3), intPtr(3), false},
		{"reversed", intPtr(4), intPtr(2), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Candidate{Mention: "长江", ClaimedStart: tt.start, ClaimedEnd: tt.end}
			assert.Equal(t, tt.want, c.HasClaim())
		})
	}
}

func TestResolvedEntity_Overlaps(t *testing.T) {
	a := ResolvedEntity{Start: 0, End: 4}
	assert.True(t, a.Overlaps(ResolvedEntity{Start: 3, End: 6}))
	assert.True(t, a.Overlaps(ResolvedEntity{Start: 1, End: 2}))
	assert.False(t, a.Overlaps(ResolvedEntity{Start: 4, End: 6}), "adjacent spans do not overlap")
	assert.Equal(t, 4, a.Len())
	assert.Equal(t, SpanKey{Start: 0, End: 4, Label: "RIVER"}, ResolvedEntity{Start: 0, End: 4, Label: "RIVER"}.Key())
}

func TestAnnotationResult_Immutable(t *testing.T) {
	in := []ResolvedEntity{{Start: 0, End: 2, Label: "RIVER", Text: "长江"}}
	r := NewAnnotationResult(in, "m1", 0.8)

	in[0].Label = "CHANGED"
	got := r.Entities()
	assert.Equal(t, "RIVER", got[0].Label)

	got[0].Label = "CHANGED"
	assert.Equal(t, "RIVER", r.Entities()[0].Label)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, "m1", r.ModelVersion())
	assert.InDelta(t, 0.8, r.Score(), 1e-9)
}

func TestAnnotationResult_NilSafe(t *testing.T) {
	var r *AnnotationResult
	assert.Nil(t, r.Entities())
	assert.Zero(t, r.Len())
	assert.Empty(t, r.ModelVersion())
	assert.Zero(t, r.Score())
}

func TestExtraction_JSONRoundTrip(t *testing.T) {
	diag := NewDiagnostics()
	diag.Record(ErrKindAlignmentFailure, 2)
	ext := &Extraction{
		DocumentID: "d1",
		Taxonomy:   "flood",
		State:      StateDone,
		Result: NewAnnotationResult([]ResolvedEntity{
			{Start: 3, End: 5, Label: "RIVER", Text: "长江", Confidence: 0.9, Score: 0.9},
		}, "m1", 0.9),
		Diagnostics: diag,
	}

	data, err := json.Marshal(ext)
	require.NoError(t, err)

	var back Extraction
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, ext.Result.Entities(), back.Result.Entities())
	assert.Equal(t, "m1", back.Result.ModelVersion())
	assert.Equal(t, 2, back.Diagnostics.Count(ErrKindAlignmentFailure))
}

func TestDiagnostics_RecordAndDropped(t *testing.T) {
	d := NewDiagnostics()
	d.Record(ErrKindUnknownLabel, 1)
	d.Record(ErrKindParseFailure, 0)
	d.Merge(map[ErrorKind]int{
		ErrKindAlignmentFailure: 2,
		ErrKindMalformedItem:    1,
		ErrKindEntityLimit:      3,
		ErrKindParseFailure:     1,
	})

	assert.Equal(t, 7, d.Dropped())
	assert.Equal(t, 1, d.Count(ErrKindParseFailure))
	assert.Zero(t, d.Count(ErrKindTransport))
}

func TestState_Terminal(t *testing.T) {
	assert.True(t, StateDone.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateAligning.Terminal())
}

func TestChunkAndUsage(t *testing.T) {
	c := Chunk{Text: "长江水位", Start: 10}
	assert.Equal(t, 4, c.Len())
	assert.Equal(t, 14, c.End())

	u := TokenUsage{InputTokens: 10, Cost: 0.5}
	u.Add(TokenUsage{InputTokens: 5, OutputTokens: 3, CacheReadTokens: 2, Cost: 0.25})
	assert.Equal(t, TokenUsage{InputTokens: 15, OutputTokens: 3, CacheReadTokens: 2, Cost: 0.75}, u)
}
