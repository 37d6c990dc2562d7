// Package extract drives one document through chunking, LLM extraction,
// alignment and synthesis under a retry policy and a time budget.
package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/annotate-cli/internal/align"
	"github.com/sells-group/annotate-cli/internal/chunk"
	"github.com/sells-group/annotate-cli/internal/interpret"
	"github.com/sells-group/annotate-cli/internal/model"
	"github.com/sells-group/annotate-cli/internal/prompt"
	"github.com/sells-group/annotate-cli/internal/provider"
	"github.com/sells-group/annotate-cli/internal/resilience"
	"github.com/sells-group/annotate-cli/internal/synth"
	"github.com/sells-group/annotate-cli/internal/taxonomy"
)

// ErrTransport matches errors from chunks whose provider calls kept failing.
var ErrTransport = eris.New("extract: transport failure")

// TransportError reports a chunk that exhausted its transport retries.
type TransportError struct {
	Chunk    int
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("extract: chunk %d failed after %d attempts: %v", e.Chunk, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrTransport) true.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// Extractor runs documents against one provider. It holds no per-document
// state and is safe for concurrent use.
type Extractor struct {
	provider provider.Provider
	catalog  *taxonomy.Catalog
	taxonomy string
	opts     Options
	chunker  *chunk.Chunker

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// New creates an Extractor. defaultTaxonomy is used for documents that do
// not name one.
func New(p provider.Provider, catalog *taxonomy.Catalog, defaultTaxonomy string, opts Options) *Extractor {
	return &Extractor{
		provider: p,
		catalog:  catalog,
		taxonomy: defaultTaxonomy,
		opts:     opts,
		chunker:  chunk.New(opts.MaxChunkChars, opts.ChunkTolerance),
		nowFunc:  time.Now,
	}
}

// docRun is the state of one Extract call.
type docRun struct {
	doc          model.Document
	tax          *taxonomy.Taxonomy
	interp       *interpret.Interpreter
	runes        []rune
	diag         *model.Diagnostics
	ext          *model.Extraction
	modelVersion string
	log          *zap.Logger
	onState      StateFunc
}

// Extract annotates doc. It always returns the extraction reached so far.
// A budget overrun yields a partial result and no error; a transport
// failure without ContinueOnError yields a partial result and an error
// matching ErrTransport. Only an unknown taxonomy returns a nil extraction.
func (e *Extractor) Extract(ctx context.Context, doc model.Document) (*model.Extraction, error) {
	return e.ExtractObserved(ctx, doc, e.opts.OnState)
}

// ExtractObserved is Extract with a per-call state observer in place of
// Options.OnState.
func (e *Extractor) ExtractObserved(ctx context.Context, doc model.Document, onState StateFunc) (*model.Extraction, error) {
	start := e.nowFunc()
	taxName := doc.Taxonomy
	if taxName == "" {
		taxName = e.taxonomy
	}
	tax, err := e.catalog.Get(taxName)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: document %s", doc.ID)
	}

	r := &docRun{
		doc:     doc,
		tax:     tax,
		interp:  interpret.New(tax, e.opts.MaxEntitiesPerChunk),
		runes:   []rune(doc.Text),
		diag:    model.NewDiagnostics(),
		log:     zap.L().With(zap.String("document", doc.ID), zap.String("taxonomy", tax.Name())),
		onState: onState,
	}
	r.ext = &model.Extraction{
		DocumentID:  doc.ID,
		Taxonomy:    tax.Name(),
		State:       model.StatePending,
		Diagnostics: r.diag,
	}

	budget := e.opts.DocumentBudget
	if doc.Budget > 0 {
		budget = doc.Budget
	}
	docCtx := ctx
	if budget > 0 {
		var cancel context.CancelFunc
		docCtx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	e.transition(r, model.StateChunking, -1)
	chunks := e.chunker.Collect(doc.Text)
	r.diag.ChunksTotal = len(chunks)

	var resolved []model.ResolvedEntity
	var fatal error
	budgetHit := false

	for _, ch := range chunks {
		if (budget > 0 && e.nowFunc().Sub(start) >= budget) || (docCtx.Err() != nil && ctx.Err() == nil) {
			budgetHit = true
			break
		}
		if ctx.Err() != nil {
			fatal = eris.Wrap(ctx.Err(), "extract: cancelled")
			break
		}

		e.transition(r, model.StateExtracting, ch.Index)
		out, err := e.extractChunk(docCtx, r, ch)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				fatal = eris.Wrap(ctx.Err(), "extract: cancelled")
			case docCtx.Err() != nil:
				budgetHit = true
			case e.opts.ContinueOnError:
				r.diag.Record(model.ErrKindTransport, 1)
				r.log.Warn("extract: skipping chunk after transport failure", zap.Int("chunk", ch.Index), zap.Error(err))
				continue
			default:
				r.diag.Record(model.ErrKindTransport, 1)
				fatal = err
			}
			break
		}

		r.diag.Strategies[string(out.Strategy)]++
		r.diag.Merge(out.Dropped)
		if out.Err != nil {
			r.diag.Record(model.ErrKindParseFailure, 1)
		}
		r.diag.Candidates += len(out.Candidates)

		e.transition(r, model.StateAligning, ch.Index)
		entities, failures := align.New(r.runes, ch, align.Options{FoldWidth: e.opts.FoldWidth}).Resolve(out.Candidates)
		r.diag.Record(model.ErrKindAlignmentFailure, failures)
		resolved = append(resolved, entities...)
		r.diag.ChunksCompleted++
	}

	if budgetHit {
		r.diag.Record(model.ErrKindBudgetExceeded, 1)
		r.log.Warn("extract: document budget exceeded",
			zap.Duration("budget", budget),
			zap.Int("chunks_completed", r.diag.ChunksCompleted),
			zap.Int("chunks_total", r.diag.ChunksTotal),
		)
	}

	e.transition(r, model.StateSynthesizing, -1)
	r.ext.Result = synth.Synthesize(resolved, tax, r.version(e.provider.Name(), e.opts.Prompt.Model), e.opts.Synth)
	r.ext.Partial = r.diag.ChunksCompleted < r.diag.ChunksTotal
	r.diag.Resolved = r.ext.Result.Len()
	r.diag.Elapsed = e.nowFunc().Sub(start)

	final := model.StateDone
	if fatal != nil || budgetHit {
		final = model.StateFailed
	}
	e.transition(r, final, -1)

	r.log.Info("extract: document complete",
		zap.String("state", string(final)),
		zap.Bool("partial", r.ext.Partial),
		zap.Int("entities", r.diag.Resolved),
		zap.Int("chunks", r.diag.ChunksTotal),
		zap.Int("attempts", r.diag.Attempts),
		zap.Int("dropped", r.diag.Dropped()),
		zap.Float64("cost_usd", r.diag.Usage.Cost),
		zap.Int64("duration_ms", r.diag.Elapsed.Milliseconds()),
	)
	return r.ext, fatal
}

// extractChunk prompts, calls the provider and interprets the response,
// retrying transient transport errors and total parse failures. A parse
// failure that survives every attempt is not an error: the outcome carries
// it and the chunk contributes nothing.
func (e *Extractor) extractChunk(ctx context.Context, r *docRun, ch model.Chunk) (interpret.Outcome, error) {
	req := prompt.Build(ch, r.tax, e.opts.Prompt)

	cfg := resilience.FromRetrySettings(e.opts.RetryCount, int(e.opts.RetryBackoff.Milliseconds()))
	cfg.ShouldRetry = func(err error) bool {
		return errors.Is(err, interpret.ErrParseFailure) || resilience.IsTransient(err)
	}
	cfg.OnRetry = resilience.RetryLogger(e.provider.Name(), r.doc.ID, ch.Index)

	attempts := 0
	var last interpret.Outcome
	out, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (interpret.Outcome, error) {
		attempts++
		r.diag.Attempts++
		started := time.Now()

		callCtx := ctx
		if e.opts.ChunkTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, e.opts.ChunkTimeout)
			defer cancel()
		}

		raw, err := e.provider.Complete(callCtx, req)
		if err != nil {
			if callCtx.Err() != nil && ctx.Err() == nil {
				err = resilience.NewTransientError(eris.Wrapf(err, "extract: chunk %d timed out", ch.Index), 0)
			}
			return interpret.Outcome{}, err
		}
		r.diag.Usage.Add(raw.Usage)
		if raw.Model != "" {
			r.modelVersion = raw.Model
		}

		o := r.interp.Interpret(*raw, ch)
		last = o
		r.log.Debug("extract: chunk attempt",
			zap.Int("chunk", ch.Index),
			zap.Int("attempt", attempts),
			zap.String("strategy", string(o.Strategy)),
			zap.String("channel", o.Channel),
			zap.Int("candidates", len(o.Candidates)),
			zap.Bool("truncated", raw.Truncated),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
		return o, o.Err
	})
	if err == nil {
		return out, nil
	}
	if errors.Is(err, interpret.ErrParseFailure) {
		return last, nil
	}
	return interpret.Outcome{}, &TransportError{Chunk: ch.Index, Attempts: attempts, Err: err}
}

func (e *Extractor) transition(r *docRun, s model.State, chunkIndex int) {
	r.ext.State = s
	if r.onState != nil {
		r.onState(r.doc.ID, s, chunkIndex)
	}
}

func (r *docRun) version(providerName, configured string) string {
	switch {
	case r.modelVersion != "":
		return r.modelVersion
	case configured != "":
		return configured
	}
	return providerName
}
