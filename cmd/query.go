package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/catalog-harvester/internal/app"
	"github.com/JakeFAU/catalog-harvester/internal/harvest"
)

func newQueryCmd(r *runner) *cobra.Command {
	var (
		filters []string
		limit   int
		format  string
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Print stored records matching equality filters",
		Example: `  harvester query --filter name=Widget --limit 5
  harvester query --filter url=https://shop.example/product/1 --output yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsed, err := parseFilters(filters)
			if err != nil {
				return err
			}
			if format != "json" && format != "yaml" {
				return fmt.Errorf("unknown output format %q", format)
			}
			a, err := r.loadApp(cmd.Context(), app.PhaseQuery, nil)
			if err != nil {
				return err
			}
			defer closeApp(cmd.Context(), a)

			rows, err := harvest.Query(cmd.Context(), a, parsed, limit)
			if err != nil {
				return err
			}
			if rows == nil {
				rows = []map[string]any{}
			}
			if format == "yaml" {
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				defer func() { _ = enc.Close() }()
				return enc.Encode(rows)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		},
	}
	cmd.Flags().StringArrayVar(&filters, "filter", nil, "column=value equality filter, repeatable")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows, 0 for all")
	cmd.Flags().StringVarP(&format, "output", "o", "json", "json or yaml")
	return cmd
}

func parseFilters(raw []string) (map[string]any, error) {
	out := make(map[string]any, len(raw))
	for _, f := range raw {
		col, val, ok := strings.Cut(f, "=")
		col = strings.TrimSpace(col)
		if !ok || col == "" {
			return nil, fmt.Errorf("filter %q must look like column=value", f)
		}
		out[col] = val
	}
	return out, nil
}
