package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "expcollect",
	Short: "Build and query collections of microbiome WGS experiment data",
	Long: `expcollect gathers the per-sample outputs of a metagenomic WGS
pipeline (gene abundance, CAG membership, annotation and assembly tables)
into a single portable collection that can be queried as a set of wide
matrices.`,
}

// Execute runs the root command. It is called once, by main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
