package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/walletfleet/internal/transport"
)

// checkProxyCmd reports the egress IP seen through the configured proxy.
var checkProxyCmd = &cobra.Command{
	Use:   "check-proxy",
	Short: "Test the configured proxy",
	Long: `Request the connectivity URL through the configured proxy and print the
IP address it reports. Without a proxy the direct connection is tested.

The check is advisory: the command exits 0 either way.

Example:
  walletfleet check-proxy -c fleet.yaml`,
	RunE: runCheckProxy,
}

func init() {
	rootCmd.AddCommand(checkProxyCmd)
}

func runCheckProxy(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	client, err := transport.NewClient(cfg.Proxy)
	if err != nil {
		return fmt.Errorf("failed to build http client: %w", err)
	}
	defer transport.CloseIdle(client)

	out := cmd.OutOrStdout()
	if cfg.Proxy == "" {
		fmt.Fprintln(out, "No proxy configured, testing direct connection.")
	}

	ip, err := transport.CheckConnectivity(cmd.Context(), client, cfg.ConnectivityURL)
	if err != nil {
		fmt.Fprintf(out, "Connection failed: %v\n", err)
		return nil
	}
	fmt.Fprintf(out, "Connection OK, egress IP: %s\n", ip)
	return nil
}
