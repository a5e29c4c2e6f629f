package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/workflowcore/engine/internal/workflow"
)

var validateCmd = &cobra.Command{
	Use:   "validate <workflow-file>",
	Short: "Validate a workflow definition",
	Long:  "Parse and validate a workflow YAML file, reporting every error and warning the nine validation checks find.",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().String("format", "text", "Output format: text or json")
	validateCmd.Flags().Bool("strict", false, "Promote warnings to errors")
}

func runValidate(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	strict, _ := cmd.Flags().GetBool("strict")
	path := args[0]

	parsed, err := workflow.ParseFile(path)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	result := workflow.Validate(parsed.Workflow, strict)

	if format == "json" {
		output := map[string]any{
			"valid":    result.Valid,
			"errors":   result.Errors,
			"warnings": result.Warnings,
		}
		if result.Valid {
			output["name"] = parsed.Workflow.Name
		}
		enc, _ := json.MarshalIndent(output, "", "  ")
		fmt.Println(string(enc))
		if !result.Valid {
			os.Exit(1)
		}
		return nil
	}

	fmt.Printf("\nValidating: %s\n", path)

	if len(result.Errors) > 0 {
		fmt.Printf("\n%d error(s):\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Printf("  [%s] %s: %s\n", e.Code, e.Path, e.Message)
			if e.Hint != "" {
				fmt.Printf("        hint: %s\n", e.Hint)
			}
		}
	}

	if len(result.Warnings) > 0 {
		fmt.Printf("\n%d warning(s):\n", len(result.Warnings))
		for _, w := range result.Warnings {
			fmt.Printf("  [%s] %s: %s\n", w.Code, w.Path, w.Message)
			if w.Hint != "" {
				fmt.Printf("        hint: %s\n", w.Hint)
			}
		}
	}

	if !result.Valid {
		fmt.Printf("\nvalidation failed with %d error(s)\n", len(result.Errors))
		return fmt.Errorf("validation failed")
	}

	if _, err := workflow.Compile(parsed.Workflow); err != nil {
		return fmt.Errorf("compiling %s: %w", path, err)
	}

	fmt.Printf("\nworkflow is valid\n")
	fmt.Printf("  name: %s\n", parsed.Workflow.Name)
	fmt.Printf("  steps: %d\n", len(parsed.Workflow.Steps))

	return nil
}
