package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fathomsec/fathom/internal/domain/report"
)

var lsrepCmd = &cobra.Command{
	Use:   "lsrep [patterns...]",
	Short: "List available report formatters",
	Long: `List the registered report formatters, filtered by the
conjunction of the given regexp patterns. With no patterns, every
formatter is listed. Report rendering itself is an external collaborator;
this command only enumerates manifests.`,
	RunE: runLsrep,
}

func init() {
	rootCmd.AddCommand(lsrepCmd)
}

func runLsrep(cmd *cobra.Command, args []string) error {
	registry := report.NewRegistry()

	listed, err := registry.List(args)
	if err != nil {
		return fmt.Errorf("lsrep: %w", err)
	}
	registry.Reset()

	for _, f := range listed {
		fmt.Printf("%-28s %-8s %s\n", f.Path, f.Info.Format, f.Info.Description)
		if len(f.Author) > 0 {
			fmt.Printf("  authors: %s\n", strings.Join(f.Author, ", "))
		}
	}
	return nil
}
