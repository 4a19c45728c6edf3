// Package cmd provides the CLI commands for Fathom.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fathomsec/fathom/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "fathom",
	Short: "Fathom - Web Application Security Audit Orchestrator",
	Long: `Fathom discovers pages of a target web application, drives a pool of
pluggable security-check modules against each discovered page, and
collects the findings into a structured audit report.

Quick start:
  1. Create a config file: fathom.yaml
  2. Run: fathom scan

Configuration:
  Config is loaded from fathom.yaml in the current directory,
  $HOME/.fathom/, or /etc/fathom/.

  Environment variables can override config values with the FATHOM_ prefix.
  Example: FATHOM_SCAN_TARGET=https://example.com

Commands:
  scan        Run an audit against the configured target
  lsmod       List available security-check modules
  lsrep       List available report formatters
  lsplug      List available plugins
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./fathom.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
