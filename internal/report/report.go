// Package report collects batch outcomes and exports them as an xlsx
// workbook or as JSON Lines predictions.
package report

import (
	"encoding/json"
	"io"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/annotate-cli/internal/model"
	"github.com/sells-group/annotate-cli/internal/synth"
)

// Entry is the outcome of one document.
type Entry struct {
	DocumentID string
	RunID      string
	Extraction *model.Extraction
	Err        error
}

// Status returns the run status the entry maps to.
func (e Entry) Status() model.RunStatus {
	switch {
	case e.Err != nil:
		return model.RunStatusFailed
	case e.Extraction != nil && e.Extraction.Partial:
		return model.RunStatusPartial
	}
	return model.RunStatusComplete
}

// Entities returns the number of resolved entities, zero without a result.
func (e Entry) Entities() int {
	if e.Extraction == nil {
		return 0
	}
	return e.Extraction.Result.Len()
}

// Totals summarizes a batch.
type Totals struct {
	Documents int
	Complete  int
	Partial   int
	Failed    int
	Entities  int
	Attempts  int
	Usage     model.TokenUsage
}

// Report is safe for concurrent Add calls.
type Report struct {
	mu      sync.Mutex
	entries []Entry
}

// New creates an empty Report.
func New() *Report {
	return &Report{}
}

// Add records the outcome of one document.
func (r *Report) Add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

// Entries returns the recorded entries ordered by document id.
func (r *Report) Entries() []Entry {
	r.mu.Lock()
	out := slices.Clone(r.entries)
	r.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out
}

// Totals aggregates counts across all entries.
func (r *Report) Totals() Totals {
	var t Totals
	for _, e := range r.Entries() {
		t.Documents++
		switch e.Status() {
		case model.RunStatusFailed:
			t.Failed++
		case model.RunStatusPartial:
			t.Partial++
		default:
			t.Complete++
		}
		t.Entities += e.Entities()
		if e.Extraction == nil {
			continue
		}
		if d := e.Extraction.Diagnostics; d != nil {
			t.Attempts += d.Attempts
			t.Usage.Add(d.Usage)
		}
	}
	return t
}

var summaryHeader = []string{
	"document_id", "run_id", "taxonomy", "status", "state", "entities",
	"chunks_total", "chunks_completed", "attempts", "dropped",
	"parse_failures", "alignment_failures", "input_tokens", "output_tokens",
	"cost_usd", "elapsed_ms", "strategies", "error",
}

var entityHeader = []string{
	"document_id", "start", "end", "label", "text", "confidence", "score", "chunk",
}

// WriteXLSX writes a workbook with a Summary sheet (one row per document)
// and an Entities sheet (one row per resolved entity).
func (r *Report) WriteXLSX(w io.Writer) error {
	f, err := r.workbook()
	if err != nil {
		return err
	}
	return eris.Wrap(f.Write(w), "report: write xlsx")
}

// SaveXLSX writes the workbook to path.
func (r *Report) SaveXLSX(path string) error {
	f, err := r.workbook()
	if err != nil {
		return err
	}
	return eris.Wrapf(f.Save(path), "report: save %s", path)
}

func (r *Report) workbook() (*xlsx.File, error) {
	f := xlsx.NewFile()
	summary, err := f.AddSheet("Summary")
	if err != nil {
		return nil, eris.Wrap(err, "report: add summary sheet")
	}
	entities, err := f.AddSheet("Entities")
	if err != nil {
		return nil, eris.Wrap(err, "report: add entities sheet")
	}

	addStrings(summary.AddRow(), summaryHeader...)
	addStrings(entities.AddRow(), entityHeader...)

	for _, e := range r.Entries() {
		writeSummaryRow(summary.AddRow(), e)
		if e.Extraction == nil {
			continue
		}
		for _, ent := range e.Extraction.Result.Entities() {
			row := entities.AddRow()
			addStrings(row, e.DocumentID)
			addInts(row, ent.Start, ent.End)
			addStrings(row, ent.Label, ent.Text)
			row.AddCell().SetFloat(ent.Confidence)
			row.AddCell().SetFloat(ent.Score)
			row.AddCell().SetInt(ent.ChunkIndex)
		}
	}
	return f, nil
}

func writeSummaryRow(row *xlsx.Row, e Entry) {
	ext := e.Extraction
	if ext == nil {
		ext = &model.Extraction{DocumentID: e.DocumentID}
	}
	d := ext.Diagnostics
	if d == nil {
		d = model.NewDiagnostics()
	}
	errMsg := ""
	if e.Err != nil {
		errMsg = e.Err.Error()
	}

	addStrings(row, e.DocumentID, e.RunID, ext.Taxonomy, string(e.Status()), string(ext.State))
	addInts(row,
		ext.Result.Len(), d.ChunksTotal, d.ChunksCompleted, d.Attempts, d.Dropped(),
		d.Count(model.ErrKindParseFailure), d.Count(model.ErrKindAlignmentFailure),
		d.Usage.InputTokens, d.Usage.OutputTokens,
	)
	row.AddCell().SetFloat(d.Usage.Cost)
	row.AddCell().SetInt64(d.Elapsed.Milliseconds())
	addStrings(row, formatStrategies(d.Strategies), errMsg)
}

func formatStrategies(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+strconv.Itoa(m[k]))
	}
	return strings.Join(parts, " ")
}

func addStrings(row *xlsx.Row, vals ...string) {
	for _, v := range vals {
		row.AddCell().SetString(v)
	}
}

func addInts(row *xlsx.Row, vals ...int) {
	for _, v := range vals {
		row.AddCell().SetInt(v)
	}
}

// Task is one Label Studio import line: the source text plus its
// prediction.
type Task struct {
	Data        TaskData           `json:"data"`
	Predictions []synth.Prediction `json:"predictions"`
}

// TaskData is the task payload.
type TaskData struct {
	Text     string `json:"text"`
	Document string `json:"document_id"`
}

// WriteJSONL writes one task per successful document, in document id order.
// texts maps document ids to their text; failed documents are skipped.
func (r *Report) WriteJSONL(w io.Writer, texts map[string]string, opts synth.PlatformOptions) (int, error) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	n := 0
	for _, e := range r.Entries() {
		if e.Extraction == nil || e.Extraction.Result == nil {
			continue
		}
		task := Task{
			Data:        TaskData{Text: texts[e.DocumentID], Document: e.DocumentID},
			Predictions: []synth.Prediction{synth.Render(e.Extraction.Result, opts)},
		}
		if err := enc.Encode(task); err != nil {
			return n, eris.Wrapf(err, "report: encode task %s", e.DocumentID)
		}
		n++
	}
	return n, nil
}
