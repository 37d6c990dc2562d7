package main

import (
	"encoding/json"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/annotate-cli/internal/docsource"
	"github.com/sells-group/annotate-cli/internal/model"
	"github.com/sells-group/annotate-cli/internal/synth"
)

var (
	extractFile     string
	extractID       string
	extractTaxonomy string
	extractBudget   time.Duration
	extractRaw      bool
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Pre-annotate a single document",
	Long:  "Reads one document from a file, a URL or stdin (--file -) and prints a Label Studio prediction as JSON.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "extract", false)
		if err != nil {
			return err
		}
		defer env.Close()

		doc, err := readDocument(cmd, extractFile)
		if err != nil {
			return err
		}
		if extractID != "" {
			doc.ID = extractID
		}
		if extractTaxonomy != "" {
			doc.Taxonomy = extractTaxonomy
		}
		doc.Budget = extractBudget

		ext, extractErr := env.Extractor.Extract(ctx, doc)
		if ext == nil {
			return extractErr
		}
		if err := writeExtraction(cmd.OutOrStdout(), ext, extractRaw); err != nil {
			return err
		}
		if extractErr != nil {
			zap.L().Error("extraction failed, partial result written",
				zap.String("document", doc.ID),
				zap.Error(extractErr),
			)
		}
		return extractErr
	},
}

func init() {
	extractCmd.Flags().StringVar(&extractFile, "file", "", "document path, http(s) URL, or - for stdin")
	extractCmd.Flags().StringVar(&extractID, "id", "", "document id (default: file name)")
	extractCmd.Flags().StringVar(&extractTaxonomy, "taxonomy", "", "taxonomy name (default from config)")
	extractCmd.Flags().DurationVar(&extractBudget, "budget", 0, "wall-clock budget for the document (default from config)")
	extractCmd.Flags().BoolVar(&extractRaw, "raw", false, "print the full extraction with diagnostics instead of the prediction")
	_ = extractCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(extractCmd)
}

// readDocument loads one document from path, a URL, or stdin when path is
// "-".
func readDocument(cmd *cobra.Command, path string) (model.Document, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return model.Document{}, eris.Wrap(err, "read stdin")
		}
		return model.Document{ID: "stdin", Text: string(data), Source: "stdin"}, nil
	}
	if docsource.IsURL(path) {
		return docsource.NewHTTPSource(docsource.HTTPOptions{}).Fetch(cmd.Context(), path)
	}
	return docsource.LoadFile(path)
}

// writeExtraction prints the prediction, or the whole extraction when raw
// is set.
func writeExtraction(w io.Writer, ext *model.Extraction, raw bool) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if raw {
		return eris.Wrap(enc.Encode(ext), "encode extraction")
	}
	return eris.Wrap(enc.Encode(synth.Render(ext.Result, platformOptions(cfg))), "encode prediction")
}
