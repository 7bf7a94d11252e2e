package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/roadmapd/internal/extraction"
)

func newPatternsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Work with extraction pattern files",
	}

	var sample string
	validate := &cobra.Command{
		Use:   "validate [file]",
		Short: "Compile a pattern file and report what it covers",
		Long: `Compile a YAML pattern file the way roadmapd loads it. Without a
file the built-in table is checked.

Examples:
  rmctl patterns validate patterns.yaml

  # Show what the table extracts from a sample sentence
  rmctl patterns validate --sample "KPI: Weekly Active Teams."`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			table, err := extraction.LoadPatternTable(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			name := path
			if name == "" {
				name = "built-in"
			}
			fmt.Fprintf(out, "%s: %d entity types, %d patterns\n", name, len(table.Types()), table.Len())
			for _, t := range table.Types() {
				fmt.Fprintf(out, "  %s\n", t)
			}

			if sample != "" {
				found := extraction.NewPatternExtractor(table).Extract([]extraction.Document{{Content: sample, FilePath: "sample"}})
				fmt.Fprintf(out, "sample matches: %d\n", len(found))
				for _, e := range found {
					fmt.Fprintf(out, "  %s: %v\n", e.Type, e.Value.Raw())
				}
			}
			return nil
		},
	}
	validate.Flags().StringVar(&sample, "sample", "", "text to run the table against")

	cmd.AddCommand(validate)
	return cmd
}
