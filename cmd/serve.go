package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mnemohq/engram/internal/mcp"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"mcp"},
	Short:   "Start MCP server (default)",
	Long: `Start the MCP server using stdio transport.

The server communicates via JSON-RPC over stdin/stdout and is designed
to be connected to by an MCP client. Every mutation the agent makes is
snapshotted under this process's session id; review the session with
'engram review' or the HTTP API before approving it.

Examples:
  engram serve
  engram mcp`,
	RunE: func(cmd *cobra.Command, args []string) error { return runServe() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("engram %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store statistics",
	Long: `Show current store statistics including path and content counts,
pending snapshots, database size, and last activity.

Examples:
  engram status`,
	RunE: func(cmd *cobra.Command, args []string) error { return runStatus() },
}

func runServe() error {
	fmt.Fprintln(os.Stderr, "🧠 Engram - Versioned Agent Memory")
	fmt.Fprintln(os.Stderr, "Starting MCP server (stdio transport)...")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "This server communicates via JSON-RPC over stdin/stdout.")
	fmt.Fprintln(os.Stderr, "It is not an interactive CLI; connect an MCP client.")
	fmt.Fprintln(os.Stderr, "Press Ctrl+C to stop. Run 'engram help' for available commands.")
	fmt.Fprintln(os.Stderr, "")

	mcp.Version = Version

	store, _, err := openStore()
	if err != nil {
		return err
	}

	server := mcp.NewServer(store)
	defer server.Stop()
	return server.Start()
}

func runStatus() error {
	store, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.Stats(context.Background())
	if err != nil {
		return err
	}

	lastActivity := "never"
	if !stats.LastActivity.IsZero() {
		lastActivity = stats.LastActivity.Format(time.RFC3339)
	}

	fmt.Printf("Engram Store Status:\n")
	fmt.Printf("  Paths: %d\n", stats.Paths)
	fmt.Printf("  Contents: %d\n", stats.Contents)
	fmt.Printf("  Pending Snapshots: %d\n", stats.PendingSnapshots)
	fmt.Printf("  Database Size: %s\n", stats.DatabaseSize)
	fmt.Printf("  Last Activity: %s\n", lastActivity)
	fmt.Printf("  Domains: %s\n", strings.Join(cfg.Domains, ", "))
	return nil
}
