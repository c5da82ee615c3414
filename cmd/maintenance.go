package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mnemohq/engram/internal/memory"
)

var purgeConfirm bool

var maintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Inspect and purge unreachable content",
	Long: `Maintenance views over content no path references anymore.

'scan' partitions unreachable content into deprecated (superseded by a
newer version, with a migration hint) and orphaned (no successor).
'purge' permanently deletes selected content ids; it is the only
irreversible operation and requires --confirm.

Examples:
  engram maintenance scan
  engram maintenance purge --confirm 4f3a1c9e0b7d2a64`,
}

var maintenanceScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List unreachable content, classified",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		unreachable, err := store.ClassifyUnreachable(context.Background())
		if err != nil {
			return err
		}
		if len(unreachable) == 0 {
			fmt.Println("No unreachable content.")
			return nil
		}

		for _, u := range unreachable {
			preview := u.Body
			if len(preview) > 60 {
				preview = preview[:60] + "..."
			}
			fmt.Printf("%s  %-10s  %q\n", u.ID, u.Kind, preview)
			if u.Kind == memory.KindDeprecated {
				fmt.Printf("  %s\n", u.FormatMigration())
			}
		}
		fmt.Printf("\n%d unreachable content row(s).\n", len(unreachable))
		return nil
	},
}

var maintenancePurgeCmd = &cobra.Command{
	Use:   "purge <content-id>...",
	Short: "Permanently delete unreachable content (irreversible)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Purge(context.Background(), args, purgeConfirm); err != nil {
			return err
		}
		fmt.Printf("🗑️  Purged %d content row(s).\n", len(args))
		return nil
	},
}

func init() {
	maintenancePurgeCmd.Flags().BoolVar(&purgeConfirm, "confirm", false, "Acknowledge that purge is irreversible")
	maintenanceCmd.AddCommand(maintenanceScanCmd)
	maintenanceCmd.AddCommand(maintenancePurgeCmd)
}
