package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "packctl",
		Short: "Offline tools for the order packing station",
		Long: `packctl slices order pages into label/invoice documents, merges
documents, parses order pages and inspects the SKU master data without
running the server.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(sliceCmd())
	rootCmd.AddCommand(mergeCmd())
	rootCmd.AddCommand(parseCmd())
	rootCmd.AddCommand(skuCmd())
	rootCmd.AddCommand(layoutCmd())
	return rootCmd
}
