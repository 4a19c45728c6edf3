package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fathomsec/fathom/internal/domain/module"
)

var lsmodCmd = &cobra.Command{
	Use:   "lsmod [patterns...]",
	Short: "List available security-check modules",
	Long: `List the registered security-check modules, filtered by the
conjunction of the given regexp patterns (a module must match every
pattern to be listed). With no patterns, every module is listed.`,
	RunE: runLsmod,
}

func init() {
	rootCmd.AddCommand(lsmodCmd)
}

// runLsmod lists modules registered by a fresh Registry. The individual
// check modules' own vulnerability logic lives outside this repository's
// scope; this command only exercises the registry's listing and reset
// plumbing against whatever modules have been wired into it.
func runLsmod(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	registry := module.NewRegistry(logger)

	listed, err := registry.List(args)
	if err != nil {
		return fmt.Errorf("lsmod: %w", err)
	}
	registry.Reset()

	for _, m := range listed {
		fmt.Printf("%-28s %s\n", m.Path, m.Info.Description)
		if len(m.Author) > 0 {
			fmt.Printf("  authors: %s\n", strings.Join(m.Author, ", "))
		}
		if len(m.Info.Elements) > 0 {
			elems := make([]string, len(m.Info.Elements))
			for i, e := range m.Info.Elements {
				elems[i] = string(e)
			}
			fmt.Printf("  elements: %s\n", strings.Join(elems, ", "))
		}
	}
	return nil
}
