package walletfleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jpalmerr/walletfleet/dashboard"
	"github.com/jpalmerr/walletfleet/internal/poller"
	"github.com/jpalmerr/walletfleet/internal/server"
	"github.com/jpalmerr/walletfleet/internal/stats"
)

const (
	defaultRenderInterval = time.Second
	defaultTitle          = "Node Runner"
)

// EmptyFleetMessage is reported when the store holds no wallets.
const EmptyFleetMessage = "No wallets found. Create wallets first."

// Fleet is the coordinator that runs one poll loop per stored wallet.
//
// Fleet loads every wallet from its [IdentityStore], gives each its own
// statistics entry and poll loop, redraws the [Reporter] on a fixed tick and
// optionally serves a live dashboard. It is created using [New] with
// functional options and run with [Fleet.Run].
//
// The typical lifecycle is:
//
//	fleet, err := walletfleet.New(
//	    walletfleet.WithStore(store),
//	    walletfleet.WithSigner(signer),
//	    walletfleet.WithIssuer(client),
//	    walletfleet.WithInvoker(client),
//	)
//	if err != nil {
//	    slog.Error("failed to create fleet", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	fleet.Run(ctx) // blocks until ctx is cancelled
type Fleet struct {
	store           IdentityStore
	signer          Signer
	issuer          CredentialIssuer
	invoker         ActionInvoker
	policy          poller.Policy
	renderInterval  time.Duration
	reporter        Reporter
	logger          *slog.Logger
	message         string
	elapsed         ElapsedExtractor
	dashboardPort   int
	title           string
	statusCallbacks []func(WalletStat)

	mu    sync.RWMutex
	table *stats.Table
}

// New creates a [Fleet] with the given options.
//
// [WithStore], [WithSigner], [WithIssuer] and [WithInvoker] are required.
// Other options have defaults:
//   - Delay window: 30-60 seconds, no startup stagger
//   - Render interval: 1 second
//   - Challenge message: [DefaultChallengeMessage]
//   - Elapsed extractor: [DefaultElapsedExtractor]
//   - Dashboard: disabled
func New(opts ...Option) (*Fleet, error) {
	cfg := &fleetConfig{
		minDelay:       poller.DefaultMinDelay,
		maxDelay:       poller.DefaultMaxDelay,
		renderInterval: defaultRenderInterval,
		message:        DefaultChallengeMessage,
		elapsed:        DefaultElapsedExtractor,
		title:          defaultTitle,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	switch {
	case cfg.store == nil:
		return nil, errors.New("an identity store is required")
	case cfg.signer == nil:
		return nil, errors.New("a signer is required")
	case cfg.issuer == nil:
		return nil, errors.New("a credential issuer is required")
	case cfg.invoker == nil:
		return nil, errors.New("an action invoker is required")
	}

	policy := poller.Policy{
		MinDelay:       cfg.minDelay,
		MaxDelay:       cfg.maxDelay,
		StartupStagger: cfg.startupStagger,
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid delay policy: %w", err)
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}
	reporter := cfg.reporter
	if reporter == nil {
		reporter = nopReporter{}
	}

	return &Fleet{
		store:           cfg.store,
		signer:          cfg.signer,
		issuer:          cfg.issuer,
		invoker:         cfg.invoker,
		policy:          policy,
		renderInterval:  cfg.renderInterval,
		reporter:        reporter,
		logger:          logger,
		message:         cfg.message,
		elapsed:         cfg.elapsed,
		dashboardPort:   cfg.dashboardPort,
		title:           cfg.title,
		statusCallbacks: cfg.statusCallbacks,
	}, nil
}

// Run loads the wallets, starts one poll loop per wallet and blocks until
// ctx is cancelled.
//
// During execution:
//
//   - Every wallet's first cycle fires immediately (or within the startup
//     stagger), then after a jittered delay following each cycle
//   - The reporter is redrawn on every render tick
//   - The dashboard is served if a port was configured
//
// If the store holds no wallets, Run reports [EmptyFleetMessage] and returns
// nil without starting anything. On cancellation Run stops the render tick,
// waits for in-flight cycles to finish (each bounded by its collaborator's
// own timeout), renders a final frame and returns nil.
//
// Returns an error if the wallets cannot be loaded or the dashboard fails to
// start.
func (f *Fleet) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}

	identities, err := f.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load wallets: %w", err)
	}

	if len(identities) == 0 {
		f.logger.Warn("no wallets found")
		f.reporter.Empty(EmptyFleetMessage)
		return nil
	}

	table := stats.NewTable()
	loops := make([]*poller.Loop, 0, len(identities))
	loopCfg := f.loopConfig()
	for _, id := range identities {
		entry, err := table.Add(id.PublicID)
		if err != nil {
			return fmt.Errorf("failed to register wallet: %w", err)
		}
		loops = append(loops, poller.NewLoop(poller.Wallet{
			PublicID:   id.PublicID,
			SecretKey:  id.SecretKey,
			Credential: id.Credential,
		}, entry, loopCfg))
	}

	f.mu.Lock()
	f.table = table
	f.mu.Unlock()

	f.logger.Info("fleet starting", "wallet_count", len(loops))
	f.logger.Info("polling configured",
		"min_delay", f.policy.MinDelay.String(),
		"max_delay", f.policy.MaxDelay.String(),
		"startup_stagger", f.policy.StartupStagger.String(),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// track loop goroutines so shutdown waits for in-flight cycles
	var wg sync.WaitGroup
	for _, loop := range loops {
		wg.Add(1)
		go func(l *poller.Loop) {
			defer wg.Done()
			l.Run(runCtx)
		}(loop)
	}

	if f.dashboardPort > 0 {
		srv := server.NewServer(table, f.dashboardPort, dashboard.Assets, f.title, f.logger)
		if err := srv.Start(runCtx); err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		f.logger.Info("dashboard available", "url", fmt.Sprintf("http://localhost:%d", f.dashboardPort))
	}

	f.renderUntilDone(runCtx, table)

	f.logger.Info("stopping wallet loops")
	wg.Wait()
	f.reporter.Render(time.Now(), toWalletStats(table.Snapshot()))
	f.logger.Info("fleet stopped")
	return nil
}

// Snapshot returns a copy of the current statistics in load order.
// It returns nil before [Fleet.Run] has started the loops.
func (f *Fleet) Snapshot() []WalletStat {
	f.mu.RLock()
	table := f.table
	f.mu.RUnlock()

	if table == nil {
		return nil
	}
	return toWalletStats(table.Snapshot())
}

// renderUntilDone redraws the reporter on every tick until ctx is done.
func (f *Fleet) renderUntilDone(ctx context.Context, table *stats.Table) {
	f.reporter.Render(time.Now(), toWalletStats(table.Snapshot()))

	ticker := time.NewTicker(f.renderInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			f.reporter.Render(now, toWalletStats(table.Snapshot()))
		}
	}
}

// loopConfig adapts the fleet's collaborators to the poller's function types.
func (f *Fleet) loopConfig() poller.Config {
	cfg := poller.Config{
		Invoke:  f.invoker.Invoke,
		Refresh: f.refreshCredential,
		Persist: f.store.UpsertCredential,
		Elapsed: f.elapsed,
		Policy:  f.policy,
		Logger:  f.logger,
	}
	if len(f.statusCallbacks) > 0 {
		cfg.OnTransition = func(s stats.Stat) {
			ws := toWalletStat(s)
			for _, cb := range f.statusCallbacks {
				invokeCallbackSafe(cb, ws, f.logger)
			}
		}
	}
	return cfg
}

// refreshCredential signs the challenge and asks the issuer for a new
// credential. No referral code is sent on refresh.
func (f *Fleet) refreshCredential(ctx context.Context, publicID, secretKey string) (string, error) {
	signature, err := f.signer.Sign(secretKey, f.message)
	if err != nil {
		return "", fmt.Errorf("failed to sign challenge: %w", err)
	}
	credential, err := f.issuer.Issue(ctx, publicID, f.message, signature, "")
	if err != nil {
		return "", fmt.Errorf("failed to issue credential: %w", err)
	}
	return credential, nil
}

// invokeCallbackSafe calls a status callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb func(WalletStat), s WalletStat, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("status callback panicked",
				"panic", r,
				"wallet", s.PublicID,
			)
		}
	}()
	cb(s)
}
