package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	var fix bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Run integrity and diagnostic checks, optionally repairing fixable issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := validationChecker().Run(cmd.Context(), fix)
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(report)
				return nil
			}
			for _, r := range report.Results {
				line := fmt.Sprintf("[%s] %s: %s", r.Severity, r.Check, r.Message)
				if fix && r.Fixable && r.Fixed > 0 {
					line += fmt.Sprintf(" (fixed %d)", r.Fixed)
				}
				fmt.Println(line)
			}
			fmt.Printf("\n%d error(s), %d warning(s)\n", report.Errors, report.Warnings)
			if report.Errors > 0 {
				return fmt.Errorf("validate: %d integrity error(s) found", report.Errors)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&fix, "fix", false, "repair fixable issues")
	return cmd
}
