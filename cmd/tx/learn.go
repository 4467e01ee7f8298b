package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jamesaphoenix/tx/internal/types"
)

func newLearnCmd() *cobra.Command {
	var category string
	var keywords []string

	cmd := &cobra.Command{
		Use:   "learn <content>",
		Short: "Record a manual learning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l := &types.Learning{
				Content:  args[0],
				Source:   types.SourceManual,
				Category: category,
				Keywords: keywords,
			}
			if len(l.Keywords) == 0 {
				l.Keywords = defaultKeywords(l.Content)
			}
			if err := db.CreateLearning(cmd.Context(), l); err != nil {
				return err
			}
			if jsonOutput {
				printJSON(l)
			} else {
				fmt.Printf("Recorded learning #%d\n", l.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "learning category")
	cmd.Flags().StringSliceVar(&keywords, "keyword", nil, "keyword (repeatable)")
	return cmd
}

// defaultKeywords seeds a learning's keyword set from its content when
// the caller doesn't supply any, so keyword search has something to
// index beyond the raw content column.
func defaultKeywords(content string) []string {
	fields := strings.Fields(strings.ToLower(content))
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:()\"'")
		if len(f) < 3 || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
