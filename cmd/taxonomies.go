package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/annotate-cli/internal/taxonomy"
)

var taxonomiesCmd = &cobra.Command{
	Use:   "taxonomies [name]",
	Short: "List taxonomies and their labels",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("taxonomies"); err != nil {
			return err
		}
		catalog, err := taxonomy.LoadCatalog(cfg.Taxonomy.Paths...)
		if err != nil {
			return eris.Wrap(err, "load taxonomies")
		}

		names := catalog.Names()
		if len(args) == 1 {
			names = args
		}
		for i, name := range names {
			t, err := catalog.Get(name)
			if err != nil {
				return err
			}
			if i > 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout())
			}
			formatTaxonomy(cmd.OutOrStdout(), t, name == cfg.Taxonomy.Name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(taxonomiesCmd)
}

// formatTaxonomy writes a taxonomy header and a label table to out.
func formatTaxonomy(out io.Writer, t *taxonomy.Taxonomy, isDefault bool) {
	marker := ""
	if isDefault {
		marker = " (default)"
	}
	_, _ = fmt.Fprintf(out, "%s%s: %s\n", t.Name(), marker, t.Description())
	_, _ = fmt.Fprintf(out, "categories: %s\n", strings.Join(t.Categories(), ", "))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "LABEL\tCATEGORY\tPATTERNS\tDESCRIPTION")
	for _, e := range t.Entities() {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", e.Label, e.Category, len(e.Patterns), e.Description)
	}
	_ = w.Flush()
}
