// Command workflowctl is a thin cobra harness over the engine library: load
// a workflow file, validate it, or run it against a couple of demo actions.
// It exists to smoke-test the library end to end, not as a product CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "workflowctl",
	Short: "Validate and run declarative workflow definitions",
	Long:  "workflowctl parses, validates, and executes YAML workflow definitions against the engine library.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./workflow.yaml, searched from the working directory)")
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
