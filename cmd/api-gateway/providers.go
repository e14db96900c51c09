package main

import (
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List supported providers and whether credentials are configured",
	RunE:  runProviders,
}

func init() {
	rootCmd.AddCommand(providersCmd)
}

func runProviders(cmd *cobra.Command, args []string) error {
	deps, err := bootstrap(cmd.Context(), "warn")
	if err != nil {
		return err
	}
	defer deps.Close(cmd.Context())

	configured := deps.Credentials.Configured()

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tAUTH\tCONFIGURED\tMODELS")
	for _, d := range deps.Catalog.List() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n",
			d.ID,
			d.DisplayName,
			d.AuthType,
			slices.Contains(configured, d.ID),
			strings.Join(d.Models, ","))
	}
	return tw.Flush()
}
