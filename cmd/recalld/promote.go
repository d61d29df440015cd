package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var promoteUserID string

var promoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Run one lifecycle cycle now",
	Long: `Run a single promotion/TTL/garbage cycle immediately, without waiting for
the scheduler. Scope to one user with --user, or omit it to process all users.

Examples:
  recalld promote
  recalld promote --user u_12345`,
	RunE: runPromote,
}

func init() {
	promoteCmd.Flags().StringVar(&promoteUserID, "user", "", "limit the cycle to one user")
}

func runPromote(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	c, err := build(ctx)
	if err != nil {
		return err
	}
	defer c.close()

	var stats any
	if promoteUserID != "" {
		stats, err = c.manager.RunForUser(ctx, promoteUserID)
	} else {
		stats, err = c.manager.Cycle(ctx)
	}
	if err != nil {
		return fmt.Errorf("lifecycle cycle: %w", err)
	}

	out, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
