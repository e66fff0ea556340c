package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/catalog-harvester/internal/app"
	"github.com/JakeFAU/catalog-harvester/internal/config"
	"github.com/JakeFAU/catalog-harvester/internal/harvest"
)

func newDiscoverCmd(r *runner) *cobra.Command {
	var (
		root     string
		maxDepth int
		maxPages int
		list     string
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Crawl from the root URL and write the matching URLs to the list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			a, err := r.loadApp(cmd.Context(), app.PhaseDiscover, func(cfg *config.Config) {
				if flags.Changed("root") {
					cfg.Crawl.Root = root
				}
				if flags.Changed("max-depth") {
					cfg.Crawl.MaxDepth = maxDepth
				}
				if flags.Changed("max-pages") {
					cfg.Crawl.MaxPages = maxPages
				}
				if flags.Changed("list") {
					cfg.URLList.Location = list
				}
			})
			if err != nil {
				return err
			}
			defer closeApp(cmd.Context(), a)

			report, err := harvest.Discover(cmd.Context(), a)
			if err != nil {
				return err
			}
			cmd.Printf("discovered %d urls (%d pages visited, %d failed) -> %s\n",
				len(report.Result.Discovered), report.Result.Visited, report.Result.Failed, report.ListURI)
			return nil
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "root URL (overrides crawl.root)")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "link depth limit, 0 for unbounded (overrides crawl.max_depth)")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "fetch limit (overrides crawl.max_pages)")
	cmd.Flags().StringVar(&list, "list", "", "URL list location (overrides urllist.location)")
	return cmd
}
