package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mnemohq/engram/internal/api"
)

var apiAddr string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the HTTP review API",
	Long: `Start the HTTP server used by human reviewers.

Exposes session audit (list, diff, approve, rollback), maintenance
(unreachable content, purge), and node browsing.

Examples:
  engram api
  engram api --addr 127.0.0.1:9000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, cfg, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		addr := apiAddr
		if addr == "" {
			addr = cfg.APIAddr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return api.NewServer(store, addr).ListenAndServe(ctx)
	},
}

func init() {
	apiCmd.Flags().StringVar(&apiAddr, "addr", "", "Listen address (default from config)")
}
