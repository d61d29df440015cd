// Package main implements the recalld daemon and its operational CLI.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath is the YAML config file; empty means defaults + env only.
	configPath string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "recalld",
	Short: "Memory lifecycle and learning engine",
	Long: `recalld tracks how useful remembered conversation fragments turn out to
be, promotes trustworthy ones between tiers, expires stale ones, and learns
entity/action statistics from conversational follow-up.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(promoteCmd)
	rootCmd.AddCommand(statsCmd)
}
