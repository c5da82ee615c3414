package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Audit and integrate agent sessions",
	Long: `Review the mutations an agent session made: list sessions, inspect
their snapshots, diff individual resources, then approve or roll back.

Examples:
  engram review sessions
  engram review snapshots mcp_20260829_101500_a1b2c3
  engram review diff mcp_20260829_101500_a1b2c3 core://identity
  engram review rollback 4f3a1c9e0b7d2a64
  engram review approve-session mcp_20260829_101500_a1b2c3`,
}

var reviewSessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions with pending snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		sessions, err := store.ListSessions(context.Background())
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No pending sessions.")
			return nil
		}
		for _, s := range sessions {
			fmt.Printf("%-40s %3d pending  last activity %s\n",
				s.SessionID, s.PendingCount, s.LastActivity.Format(time.RFC3339))
		}
		return nil
	},
}

var reviewSnapshotsCmd = &cobra.Command{
	Use:   "snapshots <session>",
	Short: "List a session's pending snapshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		snapshots, err := store.ListSessionSnapshots(context.Background(), args[0])
		if err != nil {
			return err
		}
		if len(snapshots) == 0 {
			fmt.Printf("No pending snapshots in session %s.\n", args[0])
			return nil
		}
		for _, snap := range snapshots {
			fmt.Printf("%s  %-13s  %-40s  %s\n",
				snap.ID, snap.OperationType, snap.ResourceID,
				snap.SnapshotTime.Format(time.RFC3339))
		}
		return nil
	},
}

var reviewDiffCmd = &cobra.Command{
	Use:   "diff <session> <uri>",
	Short: "Diff a resource against its pre-session state",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		diff, err := store.DiffResource(context.Background(), args[0], args[1])
		if err != nil {
			return err
		}

		fmt.Printf("%s (%s): %s\n", diff.ResourceID, diff.OperationType, diff.Summary)
		if diff.UnifiedDiff != "" {
			fmt.Println()
			fmt.Print(diff.UnifiedDiff)
		}
		return nil
	},
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve <snapshot-id>",
	Short: "Approve a pending snapshot (current state becomes permanent)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Approve(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✅ Approved snapshot %s\n", args[0])
		return nil
	},
}

var reviewRollbackCmd = &cobra.Command{
	Use:   "rollback <snapshot-id>",
	Short: "Restore a resource to its pre-mutation state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Rollback(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("↩️  Rolled back snapshot %s\n", args[0])
		return nil
	},
}

var reviewApproveSessionCmd = &cobra.Command{
	Use:     "approve-session <session>",
	Aliases: []string{"clear"},
	Short:   "Approve every pending snapshot of a session",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.ApproveSession(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✅ Approved %d snapshot(s) in session %s\n", n, args[0])
		return nil
	},
}

func init() {
	reviewCmd.AddCommand(reviewSessionsCmd)
	reviewCmd.AddCommand(reviewSnapshotsCmd)
	reviewCmd.AddCommand(reviewDiffCmd)
	reviewCmd.AddCommand(reviewApproveCmd)
	reviewCmd.AddCommand(reviewRollbackCmd)
	reviewCmd.AddCommand(reviewApproveSessionCmd)
}
