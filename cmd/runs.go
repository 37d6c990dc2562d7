package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/annotate-cli/internal/model"
	"github.com/sells-group/annotate-cli/internal/store"
)

// statsWindow bounds how many recent runs `runs stats` aggregates.
const statsWindow = 10000

var (
	runsStatus   string
	runsDocument string
	runsLimit    int
	runsJSON     bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List extraction runs",
	Long:  "Lists stored extraction runs, newest first. Use the show and stats subcommands for details.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRunStore(cmd, func(ctx context.Context, st store.Store) error {
			runs, err := st.ListRuns(ctx, store.RunFilter{
				Status:     model.RunStatus(runsStatus),
				DocumentID: runsDocument,
				Limit:      runsLimit,
			})
			if err != nil {
				return eris.Wrap(err, "runs list")
			}
			if runsJSON {
				return writeRunsJSON(cmd.OutOrStdout(), runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "No runs found.")
				return nil
			}
			formatRunsList(cmd.OutOrStdout(), runs)
			return nil
		})
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print one run with its extraction result as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunStore(cmd, func(ctx context.Context, st store.Store) error {
			run, err := st.GetRun(ctx, args[0])
			if err != nil {
				return eris.Wrapf(err, "runs show %s", args[0])
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			return enc.Encode(run)
		})
	},
}

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize recent runs and the dead-letter queue",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRunStore(cmd, func(ctx context.Context, st store.Store) error {
			runs, err := st.ListRuns(ctx, store.RunFilter{Limit: statsWindow})
			if err != nil {
				return eris.Wrap(err, "runs stats")
			}
			queued, err := st.CountDLQ(ctx)
			if err != nil {
				return eris.Wrap(err, "runs stats: count dlq")
			}
			stats := computeRunStats(runs)
			stats.DeadLettered = queued
			formatRunStats(cmd.OutOrStdout(), stats)
			return nil
		})
	},
}

func init() {
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "filter by run status (queued, extracting, complete, partial, failed, ...)")
	runsCmd.Flags().StringVar(&runsDocument, "document", "", "filter by document id")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 50, "max number of runs to display")
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "print one JSON object per run instead of a table")

	runsCmd.AddCommand(runsShowCmd, runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// withRunStore validates config for the runs commands, opens the store and
// closes it after fn.
func withRunStore(cmd *cobra.Command, fn func(ctx context.Context, st store.Store) error) error {
	if err := cfg.Validate("runs"); err != nil {
		return err
	}
	ctx := cmd.Context()
	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck
	return fn(ctx, st)
}

// runSummary is the per-run line of `runs --json`.
type runSummary struct {
	ID         string          `json:"id"`
	DocumentID string          `json:"document_id"`
	Taxonomy   string          `json:"taxonomy"`
	Status     model.RunStatus `json:"status"`
	Entities   int             `json:"entities"`
	CostUSD    float64         `json:"cost_usd"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	DurationMs int64           `json:"duration_ms"`
}

func summarizeRun(r model.Run) runSummary {
	s := runSummary{
		ID:         r.ID,
		DocumentID: r.DocumentID,
		Taxonomy:   r.Taxonomy,
		Status:     r.Status,
		Error:      r.Error,
		CreatedAt:  r.CreatedAt,
		DurationMs: r.UpdatedAt.Sub(r.CreatedAt).Milliseconds(),
	}
	if r.Result != nil {
		s.Entities = r.Result.Result.Len()
		if r.Result.Diagnostics != nil {
			s.CostUSD = r.Result.Diagnostics.Usage.Cost
		}
	}
	return s
}

func writeRunsJSON(out io.Writer, runs []model.Run) error {
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	for _, r := range runs {
		if err := enc.Encode(summarizeRun(r)); err != nil {
			return eris.Wrap(err, "runs list: encode")
		}
	}
	return nil
}

// runStats aggregates a window of runs.
type runStats struct {
	Total        int
	ByStatus     map[model.RunStatus]int
	ByTaxonomy   map[string]int
	Entities     int
	CostUSD      float64
	AvgDurSecs   float64
	DeadLettered int
}

// Finished reports runs that reached a terminal status.
func (s runStats) Finished() int {
	return s.ByStatus[model.RunStatusComplete] + s.ByStatus[model.RunStatusPartial] + s.ByStatus[model.RunStatusFailed]
}

func computeRunStats(runs []model.Run) runStats {
	s := runStats{
		Total:      len(runs),
		ByStatus:   make(map[model.RunStatus]int),
		ByTaxonomy: make(map[string]int),
	}

	var spent time.Duration
	var timed int
	for _, r := range runs {
		s.ByStatus[r.Status]++
		if r.Taxonomy != "" {
			s.ByTaxonomy[r.Taxonomy]++
		}
		sum := summarizeRun(r)
		s.Entities += sum.Entities
		s.CostUSD += sum.CostUSD
		if r.Status == model.RunStatusComplete || r.Status == model.RunStatusPartial {
			spent += r.UpdatedAt.Sub(r.CreatedAt)
			timed++
		}
	}
	if timed > 0 {
		s.AvgDurSecs = spent.Seconds() / float64(timed)
	}
	return s
}

func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tDOCUMENT\tTAXONOMY\tSTATUS\tENTITIES\tCREATED\tDURATION")
	for _, r := range runs {
		sum := summarizeRun(r)
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			truncateID(sum.ID),
			truncateRunes(sum.DocumentID, 30),
			sum.Taxonomy,
			sum.Status,
			sum.Entities,
			sum.CreatedAt.Format("2006-01-02 15:04"),
			(time.Duration(sum.DurationMs) * time.Millisecond).Round(time.Second),
		)
	}
	_ = w.Flush()
}

func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Finished:\t%d\n", s.Finished())
	for _, status := range slices.Sorted(maps.Keys(s.ByStatus)) {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", status, s.ByStatus[status])
	}
	for _, name := range slices.Sorted(maps.Keys(s.ByTaxonomy)) {
		_, _ = fmt.Fprintf(w, "Taxonomy %s:\t%d\n", name, s.ByTaxonomy[name])
	}
	_, _ = fmt.Fprintf(w, "Entities:\t%d\n", s.Entities)
	_, _ = fmt.Fprintf(w, "Estimated cost:\t$%.4f\n", s.CostUSD)
	_, _ = fmt.Fprintf(w, "Dead-lettered:\t%d\n", s.DeadLettered)
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	_ = w.Flush()
}

// truncateID shortens a UUID to its first block.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// truncateRunes cuts s to at most n runes, marking the cut with "...".
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
