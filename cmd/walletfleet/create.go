package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/walletfleet"
	"github.com/jpalmerr/walletfleet/internal/render"
	"github.com/jpalmerr/walletfleet/internal/signer"
)

// createCmd enrolls new wallets under a referral code.
var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Enroll new wallets",
	Long: `Enroll new wallets under a referral code.

For each wallet a key pair is generated, the challenge message is signed
and the wallet is registered with the login endpoint. Registered wallets
are stored with their first credential; a wallet whose registration fails
is reported and skipped.

Example:
  walletfleet create -n 10 -r ABCD1234
  walletfleet create -n 10 -r ABCD1234 --run --yes`,
	RunE: runCreate,
}

func init() {
	rootCmd.AddCommand(createCmd)

	createCmd.Flags().IntP("count", "n", 0, "number of wallets to create (required)")
	createCmd.Flags().StringP("referral", "r", "", "referral code to register under (required)")
	createCmd.Flags().Bool("run", false, "run the fleet after enrolling")
	createCmd.Flags().Bool("yes", false, "continue without asking when the proxy check fails")
	_ = createCmd.MarkFlagRequired("count")
	_ = createCmd.MarkFlagRequired("referral")
}

func runCreate(cmd *cobra.Command, args []string) error {
	count, _ := cmd.Flags().GetInt("count")
	referral, _ := cmd.Flags().GetString("referral")
	runAfter, _ := cmd.Flags().GetBool("run")
	yes, _ := cmd.Flags().GetBool("yes")

	if count < 1 {
		return fmt.Errorf("--count must be at least 1, got %d", count)
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if !a.proxyGate(cmd, yes) {
		fmt.Fprintln(out, "Aborted.")
		return nil
	}

	keys := signer.New()
	progress := render.NewProgress(out)
	enroller, err := walletfleet.NewEnroller(a.db, keys, keys, a.api,
		walletfleet.WithEnrollMessage(a.cfg.API.Message),
		walletfleet.WithEnrollLogger(a.logger),
		walletfleet.WithProgress(progress.Report),
	)
	if err != nil {
		return fmt.Errorf("failed to create enroller: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	created, err := enroller.Enroll(ctx, count, referral)
	stop()

	fmt.Fprintf(out, "Created %d of %d wallets.\n", created, count)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(out, "Interrupted.")
			return nil
		}
		return fmt.Errorf("enrollment failed: %w", err)
	}

	if !runAfter {
		return nil
	}
	return a.runFleet(cmd)
}
