package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fathomsec/fathom/internal/domain/plugin"
)

var lsplugCmd = &cobra.Command{
	Use:   "lsplug [patterns...]",
	Short: "List available plugins",
	Long: `List the registered background plugins, filtered by the
conjunction of the given regexp patterns. With no patterns, every plugin
is listed.`,
	RunE: runLsplug,
}

func init() {
	rootCmd.AddCommand(lsplugCmd)
}

func runLsplug(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	manager := plugin.NewManager(logger)

	listed, err := manager.List(args)
	if err != nil {
		return fmt.Errorf("lsplug: %w", err)
	}
	manager.Reset()

	for _, p := range listed {
		fmt.Printf("%-28s %s\n", p.Path, p.Info.Description)
		if len(p.Author) > 0 {
			fmt.Printf("  authors: %s\n", strings.Join(p.Author, ", "))
		}
	}
	return nil
}
