package main

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/annotate-cli/internal/docsource"
	"github.com/sells-group/annotate-cli/internal/model"
	"github.com/sells-group/annotate-cli/internal/report"
)

var (
	batchInput      string
	batchLimit      int
	batchReport     string
	batchOutput     string
	batchIDColumn   string
	batchTextColumn string
	batchSheet      string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Pre-annotate a set of documents concurrently",
	Long:  "Loads documents from a directory, .jsonl/.json, .csv/.tsv or .xlsx file, extracts them concurrently and records every run in the store.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "batch", true)
		if err != nil {
			return err
		}
		defer env.Close()

		docs, err := docsource.Load(ctx, batchInput, docsource.Options{
			Limit:      batchLimit,
			IDColumn:   batchIDColumn,
			TextColumn: batchTextColumn,
			Sheet:      batchSheet,
		})
		if err != nil {
			return eris.Wrap(err, "load documents")
		}

		runner := env.Runner()
		rep, err := processBatch(ctx, docs, cfg.Batch.MaxConcurrentDocuments, runner.Run)
		if err != nil {
			return err
		}
		return writeBatchOutputs(rep, docs, batchReport, batchOutput)
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchInput, "input", "", "directory, .jsonl/.json, .csv/.tsv or .xlsx file of documents")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of documents to process (0 = all)")
	batchCmd.Flags().StringVar(&batchReport, "report", "", "write an xlsx report to this path")
	batchCmd.Flags().StringVar(&batchOutput, "output", "", "write Label Studio tasks with predictions as JSON Lines to this path")
	batchCmd.Flags().StringVar(&batchIDColumn, "id-column", "id", "table column holding the document id")
	batchCmd.Flags().StringVar(&batchTextColumn, "text-column", "text", "table column holding the document text")
	batchCmd.Flags().StringVar(&batchSheet, "sheet", "", "xlsx sheet name (default: first sheet)")
	_ = batchCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(batchCmd)
}

// runFunc is the callback signature for running one tracked extraction.
type runFunc func(ctx context.Context, doc model.Document) (*model.Run, error)

// processBatch runs docs concurrently with at most concurrency in flight.
// Individual failures are recorded in the report and never abort the batch.
func processBatch(ctx context.Context, docs []model.Document, concurrency int, run runFunc) (*report.Report, error) {
	rep := report.New()
	if len(docs) == 0 {
		zap.L().Info("no documents found")
		return rep, nil
	}

	zap.L().Info("processing batch",
		zap.Int("documents", len(docs)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))

	var succeeded, partial, failed atomic.Int64

	for _, doc := range docs {
		g.Go(func() error {
			log := zap.L().With(zap.String("document", doc.ID))

			r, err := run(gctx, doc)
			entry := report.Entry{DocumentID: doc.ID, Err: err}
			if r != nil {
				entry.RunID = r.ID
				entry.Extraction = r.Result
			}
			rep.Add(entry)

			switch entry.Status() {
			case model.RunStatusFailed:
				failed.Add(1)
				log.Error("extraction failed", zap.Error(err))
			case model.RunStatusPartial:
				partial.Add(1)
				log.Warn("extraction partial", zap.Int("entities", entry.Entities()))
			default:
				succeeded.Add(1)
				log.Info("extraction complete", zap.Int("entities", entry.Entities()))
			}
			return nil // don't abort batch on individual failure
		})
	}

	if err := g.Wait(); err != nil {
		return rep, eris.Wrap(err, "batch processing")
	}

	totals := rep.Totals()
	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("partial", partial.Load()),
		zap.Int64("failed", failed.Load()),
		zap.Int("entities", totals.Entities),
		zap.Int("attempts", totals.Attempts),
		zap.Float64("cost_usd", totals.Usage.Cost),
	)
	return rep, nil
}

// writeBatchOutputs writes the optional xlsx report and JSONL tasks.
func writeBatchOutputs(rep *report.Report, docs []model.Document, reportPath, outputPath string) error {
	if reportPath != "" {
		if err := rep.SaveXLSX(reportPath); err != nil {
			return err
		}
		zap.L().Info("report written", zap.String("path", reportPath))
	}
	if outputPath == "" {
		return nil
	}

	texts := make(map[string]string, len(docs))
	for _, d := range docs {
		texts[d.ID] = d.Text
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return eris.Wrapf(err, "create %s", outputPath)
	}
	n, err := rep.WriteJSONL(f, texts, platformOptions(cfg))
	if cerr := f.Close(); err == nil && cerr != nil {
		err = eris.Wrapf(cerr, "close %s", outputPath)
	}
	if err != nil {
		return err
	}
	zap.L().Info("tasks written", zap.String("path", outputPath), zap.Int("tasks", n))
	return nil
}
