package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/walletfleet/internal/stats"
)

// ErrUnauthorized marks an action result whose credential is no longer valid.
// Invokers wrap it so that errors.Is(err, ErrUnauthorized) holds.
var ErrUnauthorized = errors.New("unauthorized")

// Phase is the state of a [Loop].
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseInvoking
	PhaseAwaitingRefresh
)

// String returns the phase name used in logs.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseInvoking:
		return "invoking"
	case PhaseAwaitingRefresh:
		return "awaiting_refresh"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result of one cycle.
type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeSuccess
	OutcomeParseError
	OutcomeRefreshed
	OutcomeRefreshFailed
	OutcomeFailed
)

// String returns the outcome name used in logs.
func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeSuccess:
		return "success"
	case OutcomeParseError:
		return "parse_error"
	case OutcomeRefreshed:
		return "refreshed"
	case OutcomeRefreshFailed:
		return "refresh_failed"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Wallet is the poller-internal view of an identity.
//
// It is decoupled from walletfleet.Identity to avoid an import cycle.
type Wallet struct {
	PublicID   string
	SecretKey  string
	Credential string
}

// Config holds the collaborators a [Loop] calls.
//
// Invoke and Refresh are required. Persist, Elapsed and OnTransition are
// optional.
type Config struct {
	// Invoke performs the remote action with the given credential.
	// An error wrapping ErrUnauthorized triggers a refresh.
	Invoke func(ctx context.Context, credential string) ([]byte, error)

	// Refresh obtains a new credential for the wallet.
	Refresh func(ctx context.Context, publicID, secretKey string) (string, error)

	// Persist stores a refreshed credential. Errors are logged only.
	Persist func(ctx context.Context, publicID, credential string) error

	// Elapsed extracts the server-reported duration from a decoded payload.
	Elapsed func(payload any) (float64, bool)

	// OnTransition is called synchronously after every stats change.
	OnTransition func(stats.Stat)

	Policy Policy
	Logger *slog.Logger
}

// Loop drives a single wallet.
//
// A Loop runs in one goroutine; its phase tag guarantees that a refresh is
// never started while another cycle for the same wallet is in progress.
type Loop struct {
	publicID  string
	secretKey string
	entry     *stats.Entry
	cfg       Config
	logger    *slog.Logger

	phase atomic.Int32

	mu         sync.RWMutex
	credential string
}

// NewLoop creates a [Loop] for w that records into entry.
func NewLoop(w Wallet, entry *stats.Entry, cfg Config) *Loop {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		publicID:   w.PublicID,
		secretKey:  w.SecretKey,
		credential: w.Credential,
		entry:      entry,
		cfg:        cfg,
		logger:     logger.With("wallet", w.PublicID),
	}
}

// PublicID returns the wallet identifier.
func (l *Loop) PublicID() string {
	return l.publicID
}

// Credential returns the credential currently held in memory.
func (l *Loop) Credential() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.credential
}

// Phase returns the loop's current phase.
func (l *Loop) Phase() Phase {
	return Phase(l.phase.Load())
}

// Run executes cycles until ctx is cancelled.
//
// The first cycle fires after the policy's initial delay (immediately by
// default). After each cycle the loop waits for a jittered delay. A cycle
// already in flight when ctx is cancelled runs to completion.
func (l *Loop) Run(ctx context.Context) {
	if d := l.cfg.Policy.InitialDelay(); d > 0 {
		if !sleep(ctx, d) {
			return
		}
	}

	for {
		if ctx.Err() != nil {
			return
		}

		outcome := l.Cycle(ctx)

		delay := l.cfg.Policy.NextDelay()
		l.logger.Debug("cycle complete", "outcome", outcome.String(), "next_in", delay.String())

		if !sleep(ctx, delay) {
			return
		}
	}
}

// Cycle performs one invoke and, when the credential was rejected, one
// refresh. It returns OutcomeSkipped if the loop is not idle.
func (l *Loop) Cycle(ctx context.Context) Outcome {
	if !l.phase.CompareAndSwap(int32(PhaseIdle), int32(PhaseInvoking)) {
		return OutcomeSkipped
	}
	defer l.phase.Store(int32(PhaseIdle))

	// shutdown must not cut a request or a credential write in half
	ctx = context.WithoutCancel(ctx)

	l.record(func(s *stats.Stat) {
		s.RequestsSent++
		s.Status = stats.StatusSending
		s.Reason = ""
	})

	body, err := l.invoke(ctx)
	switch {
	case err == nil:
		return l.handlePayload(body)
	case errors.Is(err, ErrUnauthorized):
		return l.refresh(ctx)
	default:
		reason := failureReason(err)
		l.record(func(s *stats.Stat) {
			s.Failures++
			s.Status = stats.StatusFailed
			s.Reason = reason
		})
		l.logger.Warn("action failed", "reason", reason, "error", err)
		return OutcomeFailed
	}
}

func (l *Loop) handlePayload(body []byte) Outcome {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		l.record(func(s *stats.Stat) {
			s.Status = stats.StatusParseError
		})
		l.logger.Warn("malformed action payload", "error", err, "bytes", len(body))
		return OutcomeParseError
	}

	var elapsed float64
	var hasElapsed bool
	if l.cfg.Elapsed != nil {
		elapsed, hasElapsed = l.cfg.Elapsed(payload)
	}

	l.record(func(s *stats.Stat) {
		s.Successes++
		if hasElapsed {
			s.ServerTime += elapsed
		}
		s.Status = stats.StatusSuccess
	})
	l.logger.Debug("action succeeded", "elapsed", elapsed)
	return OutcomeSuccess
}

// refresh runs the awaiting-refresh phase. It is entered only from Cycle,
// so at most one refresh per wallet is ever in flight.
func (l *Loop) refresh(ctx context.Context) Outcome {
	l.phase.Store(int32(PhaseAwaitingRefresh))
	l.record(func(s *stats.Stat) {
		s.Failures++
		s.Status = stats.StatusTokenExpired
		s.Refreshing = true
	})
	l.record(func(s *stats.Stat) {
		s.Status = stats.StatusRefreshing
	})

	credential, err := l.issue(ctx)
	if err == nil && credential == "" {
		err = errors.New("issuer returned no credential")
	}
	if err != nil {
		reason := err.Error()
		l.record(func(s *stats.Stat) {
			s.Status = stats.StatusRefreshFailed
			s.Reason = reason
			s.Refreshing = false
		})
		l.logger.Warn("credential refresh failed", "error", err)
		return OutcomeRefreshFailed
	}

	l.mu.Lock()
	l.credential = credential
	l.mu.Unlock()

	if l.cfg.Persist != nil {
		if err := l.cfg.Persist(ctx, l.publicID, credential); err != nil {
			// the in-memory credential stays valid for this process
			l.logger.Error("failed to persist refreshed credential", "error", err)
		}
	}

	l.record(func(s *stats.Stat) {
		s.Status = stats.StatusRefreshed
		s.Refreshing = false
	})
	l.logger.Info("credential refreshed")
	return OutcomeRefreshed
}

func (l *Loop) record(fn func(*stats.Stat)) {
	s := l.entry.Update(fn)
	if l.cfg.OnTransition != nil {
		l.cfg.OnTransition(s)
	}
}

// invoke calls the action with panic recovery.
func (l *Loop) invoke(ctx context.Context) (body []byte, err error) {
	defer l.recoverInto(&err, "invoke")
	return l.cfg.Invoke(ctx, l.Credential())
}

// issue calls the refresher with panic recovery.
func (l *Loop) issue(ctx context.Context) (credential string, err error) {
	defer l.recoverInto(&err, "refresh")
	return l.cfg.Refresh(ctx, l.publicID, l.secretKey)
}

// recoverInto turns a collaborator panic into an error carrying a
// correlation ID. The full stack trace is logged.
func (l *Loop) recoverInto(err *error, op string) {
	r := recover()
	if r == nil {
		return
	}
	correlationID := uuid.NewString()
	l.logger.Error("collaborator panic",
		"op", op,
		"correlation_id", correlationID,
		"panic", fmt.Sprintf("%v", r),
		"stack", string(debug.Stack()),
	)
	*err = fmt.Errorf("%s panic (correlation_id: %s)", op, correlationID)
}

// failureReason returns the HTTP status code of err when it carries one,
// otherwise its message.
func failureReason(err error) string {
	var coded interface{ StatusCode() int }
	if errors.As(err, &coded) && coded.StatusCode() != 0 {
		return strconv.Itoa(coded.StatusCode())
	}
	return err.Error()
}

// sleep waits for d or until ctx is done. It reports whether the full
// delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
