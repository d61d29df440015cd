package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statsUserID string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show tier and knowledge-graph counts for a user",
	Long: `Print the per-tier active memory counts and the knowledge-graph node/edge
totals for a user as JSON.

Examples:
  recalld stats --user u_12345`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsUserID, "user", "", "user to inspect (required)")
	_ = statsCmd.MarkFlagRequired("user")
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	c, err := build(ctx)
	if err != nil {
		return err
	}
	defer c.close()

	stats, err := c.engine.Stats(ctx, statsUserID)
	if err != nil {
		return fmt.Errorf("read stats: %w", err)
	}

	out, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
