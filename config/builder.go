package config

import (
	"log/slog"
	"strings"

	"github.com/jpalmerr/walletfleet"
	"github.com/jpalmerr/walletfleet/internal/api"
)

// BuildFleetOptions converts the schedule, render and dashboard settings
// into [walletfleet.Option] values. Collaborators (store, signer, issuer,
// invoker, reporter, logger) are added by the caller.
func BuildFleetOptions(cfg *Config) []walletfleet.Option {
	opts := []walletfleet.Option{
		walletfleet.WithDelay(cfg.Poll.MinDelay.Duration(), cfg.Poll.MaxDelay.Duration()),
		walletfleet.WithStartupStagger(cfg.Poll.StartupStagger.Duration()),
		walletfleet.WithRenderInterval(cfg.RenderInterval.Duration()),
		walletfleet.WithChallengeMessage(cfg.API.Message),
		walletfleet.WithDashboardPort(cfg.DashboardPort),
		walletfleet.WithElapsedExtractor(buildElapsedExtractor(cfg.API.ElapsedField)),
	}

	if cfg.Title != "" {
		opts = append(opts, walletfleet.WithTitle(cfg.Title))
	}
	return opts
}

// buildElapsedExtractor reads the configured field, falling back to the
// default extractor's fields when the configured one is missing.
func buildElapsedExtractor(field string) walletfleet.ElapsedExtractor {
	if field == "" {
		return walletfleet.DefaultElapsedExtractor
	}
	return walletfleet.FirstNumber(
		walletfleet.JSONNumberField(field),
		walletfleet.DefaultElapsedExtractor,
	)
}

// BuildAPIConfig returns the HTTP client settings for the login and action
// endpoints.
func BuildAPIConfig(cfg *Config) api.Config {
	return api.Config{
		LoginURL:      cfg.API.LoginURL,
		ActionURL:     cfg.API.ActionURL,
		UserAgent:     cfg.API.UserAgent,
		LoginTimeout:  cfg.API.LoginTimeout.Duration(),
		ActionTimeout: cfg.API.ActionTimeout.Duration(),
	}
}

// SlogLevel maps the configured log level to a [slog.Level].
// Unknown values map to info.
func SlogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
