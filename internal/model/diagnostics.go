package model

import "time"

// ErrorKind classifies a non-fatal condition recorded during extraction.
type ErrorKind string

const (
	ErrKindParseFailure     ErrorKind = "parse_failure"
	ErrKindUnknownLabel     ErrorKind = "unknown_label"
	ErrKindAlignmentFailure ErrorKind = "alignment_failure"
	ErrKindMalformedItem    ErrorKind = "malformed_item"
	ErrKindEntityLimit      ErrorKind = "entity_limit"
	ErrKindTransport        ErrorKind = "transport_error"
	ErrKindBudgetExceeded   ErrorKind = "budget_exceeded"
)

// State is a step of the per-document extraction state machine.
type State string

const (
	StatePending      State = "pending"
	StateChunking     State = "chunking"
	StateExtracting   State = "extracting"
	StateAligning     State = "aligning"
	StateSynthesizing State = "synthesizing"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Diagnostics aggregates soft errors and accounting for one document.
type Diagnostics struct {
	Counts          map[ErrorKind]int `json:"counts"`
	Strategies      map[string]int    `json:"strategies,omitempty"`
	ChunksTotal     int               `json:"chunks_total"`
	ChunksCompleted int               `json:"chunks_completed"`
	Attempts        int               `json:"attempts"`
	Candidates      int               `json:"candidates"`
	Resolved        int               `json:"resolved"`
	Usage           TokenUsage        `json:"usage"`
	Elapsed         time.Duration     `json:"elapsed"`
}

// NewDiagnostics returns an empty Diagnostics ready for counting.
func NewDiagnostics() *Diagnostics {
	return &Diagnostics{
		Counts:     make(map[ErrorKind]int),
		Strategies: make(map[string]int),
	}
}

// Record increments the counter for kind by n.
func (d *Diagnostics) Record(kind ErrorKind, n int) {
	if n <= 0 {
		return
	}
	d.Counts[kind] += n
}

// Count returns the recorded count for kind.
func (d *Diagnostics) Count(kind ErrorKind) int {
	return d.Counts[kind]
}

// Merge adds the counters of other into d.
func (d *Diagnostics) Merge(other map[ErrorKind]int) {
	for k, v := range other {
		d.Record(k, v)
	}
}

// Dropped returns the total number of candidates dropped for any reason.
func (d *Diagnostics) Dropped() int {
	return d.Counts[ErrKindUnknownLabel] + d.Counts[ErrKindAlignmentFailure] +
		d.Counts[ErrKindMalformedItem] + d.Counts[ErrKindEntityLimit]
}

// Extraction is everything an extraction call hands back: the (possibly
// partial) result, the diagnostics and the terminal state.
type Extraction struct {
	DocumentID  string            `json:"document_id"`
	Taxonomy    string            `json:"taxonomy"`
	State       State             `json:"state"`
	Partial     bool              `json:"partial"`
	Result      *AnnotationResult `json:"result"`
	Diagnostics *Diagnostics      `json:"diagnostics"`
}
