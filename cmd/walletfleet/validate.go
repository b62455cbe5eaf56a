package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/walletfleet/config"
	"github.com/jpalmerr/walletfleet/internal/transport"
)

// validateCmd validates a config file without touching the database or
// network.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a walletfleet configuration file without running anything.

This command parses the YAML, expands environment variables, applies
defaults and validates all fields. It's useful for pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  walletfleet validate -c fleet.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	if configFile == "" {
		return errors.New("--config is required")
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	proxy := "none"
	if u, _ := transport.ParseProxy(cfg.Proxy); u != nil {
		proxy = u.Redacted()
	}
	dashboard := "disabled"
	if cfg.DashboardPort != 0 {
		dashboard = fmt.Sprintf("port %d", cfg.DashboardPort)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Database:  %s\n", cfg.Database.Driver)
	fmt.Fprintf(out, "  Proxy:     %s\n", proxy)
	fmt.Fprintf(out, "  Delay:     %s - %s\n", cfg.Poll.MinDelay.Duration(), cfg.Poll.MaxDelay.Duration())
	fmt.Fprintf(out, "  Dashboard: %s\n", dashboard)

	return nil
}
