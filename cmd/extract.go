package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/catalog-harvester/internal/app"
	"github.com/JakeFAU/catalog-harvester/internal/config"
	"github.com/JakeFAU/catalog-harvester/internal/harvest"
)

func newExtractCmd(r *runner) *cobra.Command {
	var (
		list     string
		strategy string
		preset   string
	)
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract records from every URL in the list and upsert them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			a, err := r.loadApp(cmd.Context(), app.PhaseExtract, func(cfg *config.Config) {
				if flags.Changed("list") {
					cfg.URLList.Location = list
				}
				if flags.Changed("strategy") {
					cfg.Extract.Strategy = strategy
				}
				if flags.Changed("schema") {
					cfg.Schema.Preset = preset
				}
			})
			if err != nil {
				return err
			}
			defer closeApp(cmd.Context(), a)

			report, err := harvest.Extract(cmd.Context(), a)
			if report.URLs == 0 && err != nil {
				return err
			}
			cmd.Printf("processed %d/%d urls: %d records stored, %d failures\n",
				report.Processed, report.URLs, report.Summary.Succeeded, report.Summary.Failed)
			return err
		},
	}
	cmd.Flags().StringVar(&list, "list", "", "URL list location (overrides urllist.location)")
	cmd.Flags().StringVar(&strategy, "strategy", "", "css, llm or embedded (overrides extract.strategy)")
	cmd.Flags().StringVar(&preset, "schema", "", "schema preset: product or event (overrides schema.preset)")
	return cmd
}
