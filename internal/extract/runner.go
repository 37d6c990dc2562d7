package extract

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/annotate-cli/internal/model"
	"github.com/sells-group/annotate-cli/internal/resilience"
)

// RunStore is the persistence the Runner needs.
type RunStore interface {
	CreateRun(ctx context.Context, doc model.Document) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, status model.RunStatus, result *model.Extraction, errMsg string) error
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
}

// Runner wraps an Extractor with run tracking: each document gets a run
// row whose status follows the extraction, and failed documents land in the
// dead-letter queue.
type Runner struct {
	extractor     *Extractor
	store         RunStore
	dlqMaxRetries int
	dlqBackoff    time.Duration

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewRunner creates a Runner. dlqMaxRetries bounds later retries of failed
// documents.
func NewRunner(ex *Extractor, st RunStore, dlqMaxRetries int) *Runner {
	return &Runner{
		extractor:     ex,
		store:         st,
		dlqMaxRetries: dlqMaxRetries,
		dlqBackoff:    time.Minute,
		nowFunc:       time.Now,
	}
}

// Run extracts doc and persists the outcome. The returned run carries the
// extraction, which may be partial. The error is the extraction error, if
// any; store failures after the run row exists are logged, not returned.
// Failed documents are added to the dead-letter queue.
func (r *Runner) Run(ctx context.Context, doc model.Document) (*model.Run, error) {
	run, ext, err := r.execute(ctx, doc)
	if run == nil || err == nil {
		return run, err
	}

	state := model.StatePending
	if ext != nil {
		state = lastState(ext)
	}
	entry := resilience.NewDLQEntry(uuid.New().String(), doc, err, state, r.dlqMaxRetries, r.dlqBackoff, r.nowFunc())
	log := zap.L().With(zap.String("run_id", run.ID), zap.String("document", doc.ID))
	if qErr := r.store.EnqueueDLQ(context.WithoutCancel(ctx), entry); qErr != nil {
		log.Error("extract: failed to enqueue dlq entry", zap.Error(qErr))
	} else {
		log.Warn("extract: document sent to dead letter queue",
			zap.String("error_type", entry.ErrorType),
			zap.Error(err),
		)
	}
	return run, err
}

// execute runs one tracked extraction without touching the dead-letter
// queue. run is nil only when the run row could not be created.
func (r *Runner) execute(ctx context.Context, doc model.Document) (*model.Run, *model.Extraction, error) {
	run, err := r.store.CreateRun(ctx, doc)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "extract: create run for %s", doc.ID)
	}
	log := zap.L().With(zap.String("run_id", run.ID), zap.String("document", doc.ID))

	lastStatus := run.Status
	observe := func(_ string, s model.State, _ int) {
		status, ok := runStatusFor(s)
		if !ok || status == lastStatus {
			return
		}
		lastStatus = status
		if err := r.store.UpdateRunStatus(ctx, run.ID, status); err != nil {
			log.Warn("extract: failed to update run status", zap.String("status", string(status)), zap.Error(err))
		}
	}

	ext, extractErr := r.extractor.ExtractObserved(ctx, doc, observe)

	status := finalStatus(ext, extractErr)
	errMsg := ""
	if extractErr != nil {
		errMsg = extractErr.Error()
	}
	// The caller's ctx may already be cancelled; the final write still
	// has to land.
	if err := r.store.UpdateRunResult(context.WithoutCancel(ctx), run.ID, status, ext, errMsg); err != nil {
		log.Error("extract: failed to save run result", zap.Error(err))
	}

	run.Status = status
	run.Result = ext
	run.Error = errMsg
	run.UpdatedAt = r.nowFunc().UTC()
	if ext != nil {
		run.Taxonomy = ext.Taxonomy
	}
	return run, ext, extractErr
}

func runStatusFor(s model.State) (model.RunStatus, bool) {
	switch s {
	case model.StateChunking:
		return model.RunStatusChunking, true
	case model.StateExtracting, model.StateAligning:
		return model.RunStatusExtracting, true
	case model.StateSynthesizing:
		return model.RunStatusSynthesizing, true
	}
	return "", false
}

func finalStatus(ext *model.Extraction, err error) model.RunStatus {
	switch {
	case err != nil:
		return model.RunStatusFailed
	case ext != nil && ext.Partial:
		return model.RunStatusPartial
	}
	return model.RunStatusComplete
}

// lastState reports where a failed extraction stopped. Extractions end in
// a terminal state, so the chunk progress decides between chunking and
// extracting.
func lastState(ext *model.Extraction) model.State {
	if ext.Diagnostics != nil && ext.Diagnostics.ChunksTotal > 0 {
		return model.StateExtracting
	}
	return model.StateChunking
}
