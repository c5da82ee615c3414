package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mnemohq/engram/internal/config"
	"github.com/mnemohq/engram/internal/memory"
)

// Build-time variables
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// SetVersion sets the version info from main
func SetVersion(v, c, d string) {
	Version = v
	Commit = c
	Date = d
}

var rootCmd = &cobra.Command{
	Use:   "engram",
	Short: "Engram - versioned agent memory with human audit",
	Long:  "Versioned, addressable memory for autonomous agents, with snapshot-based review and rollback of every edit.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the engram command
func Execute() error {
	return rootCmd.Execute()
}

// openStore loads the configuration and opens the store. The caller owns the
// returned store and must close it.
func openStore() (*memory.Store, config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, cfg, fmt.Errorf("failed to load config: %w", err)
	}
	store, err := memory.NewStore(memory.Options{
		DataDir:     cfg.DataDir,
		Domains:     cfg.Domains,
		BootURIs:    cfg.BootURIs,
		RecentLimit: cfg.RecentLimit,
	})
	if err != nil {
		return nil, cfg, fmt.Errorf("failed to open store: %w", err)
	}
	return store, cfg, nil
}

func init() {
	// serve, version, status (defined in serve.go)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)

	// api (defined in api.go)
	rootCmd.AddCommand(apiCmd)

	// review (defined in review.go)
	rootCmd.AddCommand(reviewCmd)

	// maintenance (defined in maintenance.go)
	rootCmd.AddCommand(maintenanceCmd)

	// doctor (defined in doctor.go)
	rootCmd.AddCommand(doctorCmd)
}
