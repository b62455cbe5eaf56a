// Demo that runs a small fleet against the local mock API.
//
// Usage:
//
//	go run ./example
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jpalmerr/walletfleet"
	"github.com/jpalmerr/walletfleet/example/mockapi"
	"github.com/jpalmerr/walletfleet/internal/api"
	"github.com/jpalmerr/walletfleet/internal/render"
	"github.com/jpalmerr/walletfleet/internal/signer"
	"github.com/jpalmerr/walletfleet/internal/walletdb"
)

func main() {
	if err := run(); err != nil {
		slog.Error("demo failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	// mock API: tokens expire every 3 calls so refreshes show up in the table
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	mock := &http.Server{Handler: mockapi.New(3, 300*time.Millisecond, logger).Handler()}
	go func() { _ = mock.Serve(ln) }()
	defer func() { _ = mock.Close() }()
	base := "http://" + ln.Addr().String()

	dir, err := os.MkdirTemp("", "walletfleet-demo")
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(dir) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := walletdb.Open(ctx, walletdb.DriverSQLite, filepath.Join(dir, "demo.db"))
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	client := api.NewClient(nil, api.Config{
		LoginURL:  base + mockapi.LoginPath,
		ActionURL: base + mockapi.BandwidthPath,
	})
	defer client.Close()

	keys := signer.New()
	enroller, err := walletfleet.NewEnroller(db, keys, keys, client,
		walletfleet.WithEnrollLogger(logger),
		walletfleet.WithProgress(render.NewProgress(os.Stdout).Report),
	)
	if err != nil {
		return err
	}
	if _, err := enroller.Enroll(ctx, 4, "DEMO"); err != nil {
		return err
	}

	fleet, err := walletfleet.New(
		walletfleet.WithStore(db),
		walletfleet.WithSigner(keys),
		walletfleet.WithIssuer(client),
		walletfleet.WithInvoker(client),
		walletfleet.WithDelay(2*time.Second, 5*time.Second),
		walletfleet.WithStartupStagger(time.Second),
		walletfleet.WithReporter(render.NewTerminal(os.Stdout, "walletfleet demo")),
		walletfleet.WithDashboardPort(8080),
		walletfleet.WithTitle("walletfleet demo"),
		walletfleet.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("  Dashboard: http://localhost:8080    Press Ctrl+C to stop")
	fmt.Println()
	time.Sleep(2 * time.Second)

	return fleet.Run(ctx)
}
