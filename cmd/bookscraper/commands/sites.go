package commands

import (
	"fmt"

	"github.com/maltedev/book-rank-scraper/internal/parser"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sitesCmd)
}

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "Lists the ranking sites and their page counts.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		registry := parser.DefaultRegistry()
		for _, name := range registry.Names() {
			site, err := registry.Get(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-10s %d pages\n", name, len(site.Pages()))
		}
		return nil
	},
}
