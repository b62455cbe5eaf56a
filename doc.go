// Package walletfleet runs a fleet of independently-authenticated wallets,
// each performing a periodic remote action on its own jittered schedule.
//
// Every wallet owns a poll loop. A loop invokes the action with the wallet's
// credential, records the outcome in a shared statistics table, and when the
// service rejects the credential it signs a fixed challenge message and
// obtains a new one before its next cycle. A coordinator redraws the table on
// a fixed tick and stops every loop on cancellation.
//
// # Quick Start
//
//	fleet, _ := walletfleet.New(
//	    walletfleet.WithStore(db),
//	    walletfleet.WithSigner(signer),
//	    walletfleet.WithIssuer(client),
//	    walletfleet.WithInvoker(client),
//	)
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	fleet.Run(ctx) // blocks until ctx is cancelled
//
// # Configuration
//
// Fleet uses the functional options pattern:
//
//	fleet, err := walletfleet.New(
//	    ...,
//	    walletfleet.WithDelay(30*time.Second, 60*time.Second),
//	    walletfleet.WithStartupStagger(5*time.Second),
//	    walletfleet.WithReporter(render.NewTerminal(os.Stdout, "")),
//	    walletfleet.WithDashboardPort(8080),
//	)
//
// New wallets are created with an [Enroller], which generates a key pair,
// registers it under a referral code and stores it.
//
// # Architecture
//
//   - internal/poller: The per-wallet loop and its delay policy
//   - internal/stats: Per-wallet statistics with pub/sub for live updates
//   - internal/server: HTTP dashboard with JSON, SSE and WebSocket feeds
//   - internal/walletdb: SQLite and PostgreSQL wallet stores
//   - internal/signer: NaCl key generation and challenge signing
//   - internal/api: Login and action HTTP clients
//   - internal/transport: Proxy-aware HTTP client and connectivity check
//   - internal/render: Terminal table rendering
//   - dashboard: Embedded web UI assets
package walletfleet
