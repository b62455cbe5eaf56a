package walletfleet

import (
	"errors"
	"log/slog"
	"time"
)

// fleetConfig holds mutable state during Fleet construction.
type fleetConfig struct {
	store           IdentityStore
	signer          Signer
	issuer          CredentialIssuer
	invoker         ActionInvoker
	minDelay        time.Duration
	maxDelay        time.Duration
	startupStagger  time.Duration
	renderInterval  time.Duration
	reporter        Reporter
	logger          *slog.Logger
	message         string
	elapsed         ElapsedExtractor
	dashboardPort   int
	title           string
	statusCallbacks []func(WalletStat)
}

// Option is a function that configures a [Fleet] during construction.
//
// Option implements the functional options pattern. Options return an error
// if validation fails, which [New] passes back to the caller.
type Option func(*fleetConfig) error

// WithStore sets the [IdentityStore] wallets are loaded from and refreshed
// credentials are written to. Required.
func WithStore(s IdentityStore) Option {
	return func(cfg *fleetConfig) error {
		if s == nil {
			return errors.New("store cannot be nil")
		}
		cfg.store = s
		return nil
	}
}

// WithSigner sets the [Signer] used to sign the challenge during refresh.
// Required.
func WithSigner(s Signer) Option {
	return func(cfg *fleetConfig) error {
		if s == nil {
			return errors.New("signer cannot be nil")
		}
		cfg.signer = s
		return nil
	}
}

// WithIssuer sets the [CredentialIssuer] used to refresh credentials.
// Required.
func WithIssuer(i CredentialIssuer) Option {
	return func(cfg *fleetConfig) error {
		if i == nil {
			return errors.New("issuer cannot be nil")
		}
		cfg.issuer = i
		return nil
	}
}

// WithInvoker sets the [ActionInvoker] each poll loop calls. Required.
func WithInvoker(i ActionInvoker) Option {
	return func(cfg *fleetConfig) error {
		if i == nil {
			return errors.New("invoker cannot be nil")
		}
		cfg.invoker = i
		return nil
	}
}

// WithDelay sets the window the post-cycle delay is drawn from uniformly.
//
// Defaults to 30s-60s. Returns an error unless 0 < minDelay <= maxDelay.
//
// Example:
//
//	fleet, err := walletfleet.New(
//	    ...,
//	    walletfleet.WithDelay(10*time.Second, 20*time.Second),
//	)
func WithDelay(minDelay, maxDelay time.Duration) Option {
	return func(cfg *fleetConfig) error {
		if minDelay <= 0 {
			return errors.New("minimum delay must be positive")
		}
		if maxDelay < minDelay {
			return errors.New("maximum delay must not be less than minimum delay")
		}
		cfg.minDelay = minDelay
		cfg.maxDelay = maxDelay
		return nil
	}
}

// WithStartupStagger spreads each wallet's first cycle uniformly over
// [0, d) instead of firing every wallet immediately.
//
// Defaults to 0 (no stagger). Returns an error if d is negative.
func WithStartupStagger(d time.Duration) Option {
	return func(cfg *fleetConfig) error {
		if d < 0 {
			return errors.New("startup stagger cannot be negative")
		}
		cfg.startupStagger = d
		return nil
	}
}

// WithRenderInterval sets how often the [Reporter] redraws. Defaults to 1s.
func WithRenderInterval(d time.Duration) Option {
	return func(cfg *fleetConfig) error {
		if d <= 0 {
			return errors.New("render interval must be positive")
		}
		cfg.renderInterval = d
		return nil
	}
}

// WithReporter sets the [Reporter] that receives the render tick.
// Without one, statistics are only available via [Fleet.Snapshot].
func WithReporter(r Reporter) Option {
	return func(cfg *fleetConfig) error {
		if r == nil {
			return errors.New("reporter cannot be nil")
		}
		cfg.reporter = r
		return nil
	}
}

// WithLogger sets a custom [slog.Logger]. Defaults to [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *fleetConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithChallengeMessage overrides [DefaultChallengeMessage].
func WithChallengeMessage(msg string) Option {
	return func(cfg *fleetConfig) error {
		if msg == "" {
			return errors.New("challenge message cannot be empty")
		}
		cfg.message = msg
		return nil
	}
}

// WithElapsedExtractor sets how the server-reported elapsed time is read
// from successful payloads. Defaults to [DefaultElapsedExtractor].
func WithElapsedExtractor(e ElapsedExtractor) Option {
	return func(cfg *fleetConfig) error {
		if e == nil {
			return errors.New("elapsed extractor cannot be nil")
		}
		cfg.elapsed = e
		return nil
	}
}

// WithDashboardPort serves the live stats dashboard on the given port.
//
// Defaults to 0, which disables the dashboard. Returns an error if the port
// is outside 0-65535.
func WithDashboardPort(port int) Option {
	return func(cfg *fleetConfig) error {
		if port < 0 || port > 65535 {
			return errors.New("dashboard port must be between 0 and 65535")
		}
		cfg.dashboardPort = port
		return nil
	}
}

// WithTitle sets the dashboard title.
func WithTitle(title string) Option {
	return func(cfg *fleetConfig) error {
		cfg.title = title
		return nil
	}
}

// WithStatusCallback registers a function invoked after every state
// transition of every wallet.
//
// Callbacks run synchronously on the wallet's loop goroutine, so they should
// return quickly. Panics are recovered and logged. Multiple callbacks run in
// registration order.
func WithStatusCallback(fn func(WalletStat)) Option {
	return func(cfg *fleetConfig) error {
		if fn == nil {
			return errors.New("status callback cannot be nil")
		}
		cfg.statusCallbacks = append(cfg.statusCallbacks, fn)
		return nil
	}
}
