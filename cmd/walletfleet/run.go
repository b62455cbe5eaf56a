package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/walletfleet"
	"github.com/jpalmerr/walletfleet/config"
	"github.com/jpalmerr/walletfleet/internal/render"
	"github.com/jpalmerr/walletfleet/internal/signer"
)

// shutdownMargin covers persisting a refreshed credential once the last
// network call of a cycle has returned.
const shutdownMargin = 5 * time.Second

// shutdownTimeout bounds the wait for in-flight cycles after a signal. A
// cycle caught mid-flight may still make an action call and then a login,
// each limited by its own timeout.
func shutdownTimeout(cfg *config.Config) time.Duration {
	return cfg.API.ActionTimeout.Duration() + cfg.API.LoginTimeout.Duration() + shutdownMargin
}

// runCmd polls every stored wallet until interrupted.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every stored wallet",
	Long: `Run every wallet in the database.

Each wallet polls the action endpoint on its own jittered schedule and
refreshes its credential when the service rejects it. The stats table is
redrawn every render interval, and the web dashboard is served when
dashboard_port is set.

When a proxy is configured it is tested first; on failure you are asked
whether to continue unless --yes is given.

The fleet runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  walletfleet run
  walletfleet run -c fleet.yaml --yes`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Bool("yes", false, "continue without asking when the proxy check fails")
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	yes, _ := cmd.Flags().GetBool("yes")
	if !a.proxyGate(cmd, yes) {
		fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
		return nil
	}
	return a.runFleet(cmd)
}

// runFleet starts the coordinator and blocks until SIGINT/SIGTERM.
func (a *app) runFleet(cmd *cobra.Command) error {
	opts := append(config.BuildFleetOptions(a.cfg),
		walletfleet.WithStore(a.db),
		walletfleet.WithSigner(signer.New()),
		walletfleet.WithIssuer(a.api),
		walletfleet.WithInvoker(a.api),
		walletfleet.WithReporter(render.NewTerminal(cmd.OutOrStdout(), a.cfg.Title)),
		walletfleet.WithLogger(a.logger),
	)

	fleet, err := walletfleet.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create fleet: %w", err)
	}

	// cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- fleet.Run(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("fleet error: %w", err)
		}
		a.logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for in-flight cycles with a bound
		timeout := shutdownTimeout(a.cfg)
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("fleet error: %w", err)
			}
			a.logger.Info("shutdown complete")
			return nil
		case <-time.After(timeout):
			a.logger.Warn("shutdown timed out",
				"timeout", timeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
