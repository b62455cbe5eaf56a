// Standalone mock API for trying the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal, with a config pointing at it:
//
//	api:
//	  login_url: http://localhost:9999/api/v1/user/login
//	  action_url: http://localhost:9999/api/v1/bandwidth
//
//	go run ./cmd/walletfleet create -c fleet.yaml -n 3 -r DEMO --run
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/walletfleet/example/mockapi"
)

func main() {
	addr := flag.String("addr", ":9999", "listen address")
	uses := flag.Int("token-uses", 5, "bandwidth calls a token is valid for")
	latency := flag.Duration("latency", 200*time.Millisecond, "maximum simulated latency")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	fmt.Printf("Mock API starting on %s\n", *addr)
	fmt.Printf("Tokens expire after %d bandwidth calls\n", *uses)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mockapi.New(*uses, *latency, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("mock server error", "error", err)
		os.Exit(1)
	}
}
