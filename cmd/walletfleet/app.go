package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jpalmerr/walletfleet/config"
	"github.com/jpalmerr/walletfleet/internal/api"
	"github.com/jpalmerr/walletfleet/internal/transport"
	"github.com/jpalmerr/walletfleet/internal/walletdb"
)

// app holds what every fleet command opens: config, logger, database and
// the proxy-aware API client.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     walletdb.DB
	http   *http.Client
	api    *api.Client
}

// loadConfig reads the file given by --config, or returns the defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newLogger creates a JSON logger for CLI use.
func newLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: config.SlogLevel(level),
	}))
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)

	httpClient, err := transport.NewClient(cfg.Proxy)
	if err != nil {
		return nil, fmt.Errorf("failed to build http client: %w", err)
	}

	db, err := walletdb.Open(cmd.Context(), cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		transport.CloseIdle(httpClient)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	logger.Debug("database opened", "driver", cfg.Database.Driver)

	return &app{
		cfg:    cfg,
		logger: logger,
		db:     db,
		http:   httpClient,
		api:    api.NewClient(httpClient, config.BuildAPIConfig(cfg)),
	}, nil
}

func (a *app) Close() {
	a.api.Close()
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close database", "error", err)
	}
}

// proxyGate runs the connectivity self-test when a proxy is configured and
// reports whether the command should go on. A failed test only blocks when
// the operator declines to continue.
func (a *app) proxyGate(cmd *cobra.Command, yes bool) bool {
	if a.cfg.Proxy == "" {
		return true
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Testing proxy connection...")
	ip, err := transport.CheckConnectivity(cmd.Context(), a.http, a.cfg.ConnectivityURL)
	if err == nil {
		fmt.Fprintf(out, "Proxy OK, egress IP: %s\n", ip)
		return true
	}

	a.logger.Warn("proxy check failed", "error", err)
	fmt.Fprintf(out, "Proxy check failed: %v\n", err)
	if yes {
		return true
	}
	return confirm(cmd, "Continue anyway? (y/n) ")
}

// confirm asks a yes/no question on the command's input. Anything but y or
// yes, including end of input, is a no.
func confirm(cmd *cobra.Command, question string) bool {
	in := cmd.InOrStdin()
	out := cmd.OutOrStdout()

	if f, ok := in.(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
		fmt.Fprintln(out, "stdin is not a terminal; pass --yes to continue without confirmation")
		return false
	}

	fmt.Fprint(out, question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
