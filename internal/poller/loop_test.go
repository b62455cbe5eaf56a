package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jpalmerr/walletfleet/internal/stats"
)

// discardLogger returns a logger that discards all output for clean test output.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// codedError mimics a transport error that carries an HTTP status code.
type codedError struct{ code int }

func (e codedError) Error() string   { return fmt.Sprintf("HTTP %d", e.code) }
func (e codedError) StatusCode() int { return e.code }

// transitionLog records every status transition in order.
type transitionLog struct {
	mu     sync.Mutex
	events []stats.Stat
}

func (r *transitionLog) record(s stats.Stat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *transitionLog) statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Status
	}
	return out
}

func newTestLoop(t *testing.T, w Wallet, cfg Config) (*Loop, *stats.Entry, *transitionLog) {
	t.Helper()
	table := stats.NewTable()
	entry, err := table.Add(w.PublicID)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	log := &transitionLog{}
	cfg.OnTransition = log.record
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	if cfg.Policy == (Policy{}) {
		cfg.Policy = Policy{MinDelay: time.Hour, MaxDelay: time.Hour}
	}
	return NewLoop(w, entry, cfg), entry, log
}

func jsonElapsed(payload any) (float64, bool) {
	obj, ok := payload.(map[string]any)
	if !ok {
		return 0, false
	}
	v, ok := obj["elapsedMs"].(float64)
	return v, ok
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TestCycle_UnauthorizedRefreshesCredential covers an empty credential being
// rejected and replaced by the issuer's token.
func TestCycle_UnauthorizedRefreshesCredential(t *testing.T) {
	var persisted sync.Map
	var seenCredentials []string

	loop, entry, log := newTestLoop(t, Wallet{PublicID: "w1", SecretKey: "sk"}, Config{
		Invoke: func(ctx context.Context, credential string) ([]byte, error) {
			seenCredentials = append(seenCredentials, credential)
			if credential != "tok-123" {
				return nil, fmt.Errorf("bandwidth: %w", ErrUnauthorized)
			}
			return []byte(`{"ok":true}`), nil
		},
		Refresh: func(ctx context.Context, publicID, secretKey string) (string, error) {
			if publicID != "w1" || secretKey != "sk" {
				t.Errorf("Refresh(%q, %q), want (w1, sk)", publicID, secretKey)
			}
			return "tok-123", nil
		},
		Persist: func(ctx context.Context, publicID, credential string) error {
			persisted.Store(publicID, credential)
			return nil
		},
	})

	if got := loop.Cycle(context.Background()); got != OutcomeRefreshed {
		t.Fatalf("Cycle() = %v, want %v", got, OutcomeRefreshed)
	}

	if loop.Credential() != "tok-123" {
		t.Errorf("Credential() = %q, want %q", loop.Credential(), "tok-123")
	}
	if v, _ := persisted.Load("w1"); v != "tok-123" {
		t.Errorf("persisted credential = %v, want tok-123", v)
	}

	want := []string{
		stats.StatusSending,
		stats.StatusTokenExpired,
		stats.StatusRefreshing,
		stats.StatusRefreshed,
	}
	if got := log.statuses(); !equalStrings(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}

	s := entry.Snapshot()
	if s.Refreshing {
		t.Error("Refreshing = true after refresh completed")
	}
	if s.Failures != 1 || s.RequestsSent != 1 || s.Successes != 0 {
		t.Errorf("requests/successes/failures = %d/%d/%d, want 1/0/1", s.RequestsSent, s.Successes, s.Failures)
	}

	// refresh resolves the triggering condition
	if got := loop.Cycle(context.Background()); got != OutcomeSuccess {
		t.Errorf("Cycle() after refresh = %v, want %v", got, OutcomeSuccess)
	}
	if seenCredentials[0] != "" || seenCredentials[1] != "tok-123" {
		t.Errorf("invoked with %v, want [\"\" tok-123]", seenCredentials)
	}
}

func TestCycle_SuccessAccumulatesServerTime(t *testing.T) {
	loop, entry, _ := newTestLoop(t, Wallet{PublicID: "w1", Credential: "tok"}, Config{
		Invoke: func(ctx context.Context, credential string) ([]byte, error) {
			return []byte(`{"elapsedMs": 120}`), nil
		},
		Refresh: func(ctx context.Context, publicID, secretKey string) (string, error) {
			t.Error("Refresh called on success")
			return "", nil
		},
		Elapsed: jsonElapsed,
	})

	if got := loop.Cycle(context.Background()); got != OutcomeSuccess {
		t.Fatalf("Cycle() = %v, want %v", got, OutcomeSuccess)
	}

	s := entry.Snapshot()
	if s.Successes != 1 {
		t.Errorf("Successes = %d, want 1", s.Successes)
	}
	if s.ServerTime != 120.0 {
		t.Errorf("ServerTime = %v, want 120.0", s.ServerTime)
	}
	if s.Status != stats.StatusSuccess {
		t.Errorf("Status = %q, want %q", s.Status, stats.StatusSuccess)
	}

	loop.Cycle(context.Background())
	if got := entry.Snapshot().ServerTime; got != 240.0 {
		t.Errorf("ServerTime after two cycles = %v, want 240.0", got)
	}
}

func TestCycle_SuccessWithoutElapsedField(t *testing.T) {
	loop, entry, _ := newTestLoop(t, Wallet{PublicID: "w1"}, Config{
		Invoke: func(ctx context.Context, credential string) ([]byte, error) {
			return []byte(`{"data":{}}`), nil
		},
		Refresh: func(ctx context.Context, publicID, secretKey string) (string, error) { return "", nil },
		Elapsed: jsonElapsed,
	})

	loop.Cycle(context.Background())

	s := entry.Snapshot()
	if s.Successes != 1 || s.ServerTime != 0 {
		t.Errorf("Successes/ServerTime = %d/%v, want 1/0", s.Successes, s.ServerTime)
	}
}

func TestCycle_MalformedPayload(t *testing.T) {
	loop, entry, _ := newTestLoop(t, Wallet{PublicID: "w1"}, Config{
		Invoke: func(ctx context.Context, credential string) ([]byte, error) {
			return []byte(`<html>challenge</html>`), nil
		},
		Refresh: func(ctx context.Context, publicID, secretKey string) (string, error) {
			t.Error("Refresh called on malformed payload")
			return "", nil
		},
	})

	if got := loop.Cycle(context.Background()); got != OutcomeParseError {
		t.Fatalf("Cycle() = %v, want %v", got, OutcomeParseError)
	}

	s := entry.Snapshot()
	if s.Successes != 0 || s.Failures != 0 {
		t.Errorf("Successes/Failures = %d/%d, want 0/0", s.Successes, s.Failures)
	}
	if s.RequestsSent != 1 {
		t.Errorf("RequestsSent = %d, want 1", s.RequestsSent)
	}
	if s.Status != stats.StatusParseError {
		t.Errorf("Status = %q, want %q", s.Status, stats.StatusParseError)
	}
}

func TestCycle_RefreshFailureKeepsCredential(t *testing.T) {
	tests := []struct {
		name    string
		refresh func(ctx context.Context, publicID, secretKey string) (string, error)
		reason  string
	}{
		{
			name: "issuer error",
			refresh: func(ctx context.Context, publicID, secretKey string) (string, error) {
				return "", errors.New("login rejected")
			},
			reason: "login rejected",
		},
		{
			name: "empty credential",
			refresh: func(ctx context.Context, publicID, secretKey string) (string, error) {
				return "", nil
			},
			reason: "no credential",
		},
		{
			name: "issuer panic",
			refresh: func(ctx context.Context, publicID, secretKey string) (string, error) {
				panic("boom")
			},
			reason: "correlation_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			persistCalls := 0
			loop, entry, log := newTestLoop(t, Wallet{PublicID: "w1", Credential: "old"}, Config{
				Invoke: func(ctx context.Context, credential string) ([]byte, error) {
					return nil, ErrUnauthorized
				},
				Refresh: tt.refresh,
				Persist: func(ctx context.Context, publicID, credential string) error {
					persistCalls++
					return nil
				},
			})

			if got := loop.Cycle(context.Background()); got != OutcomeRefreshFailed {
				t.Fatalf("Cycle() = %v, want %v", got, OutcomeRefreshFailed)
			}

			s := entry.Snapshot()
			if s.Status != stats.StatusRefreshFailed {
				t.Errorf("Status = %q, want %q", s.Status, stats.StatusRefreshFailed)
			}
			if s.Refreshing {
				t.Error("Refreshing = true, want false")
			}
			if !strings.Contains(s.Reason, tt.reason) {
				t.Errorf("Reason = %q, want to contain %q", s.Reason, tt.reason)
			}
			if loop.Credential() != "old" {
				t.Errorf("Credential() = %q, want %q", loop.Credential(), "old")
			}
			if persistCalls != 0 {
				t.Errorf("Persist called %d times, want 0", persistCalls)
			}
			if loop.Phase() != PhaseIdle {
				t.Errorf("Phase() = %v, want %v", loop.Phase(), PhaseIdle)
			}

			want := []string{stats.StatusSending, stats.StatusTokenExpired, stats.StatusRefreshing, stats.StatusRefreshFailed}
			if got := log.statuses(); !equalStrings(got, want) {
				t.Errorf("transitions = %v, want %v", got, want)
			}
		})
	}
}

func TestCycle_PersistErrorKeepsInMemoryCredential(t *testing.T) {
	loop, entry, _ := newTestLoop(t, Wallet{PublicID: "w1"}, Config{
		Invoke: func(ctx context.Context, credential string) ([]byte, error) {
			return nil, ErrUnauthorized
		},
		Refresh: func(ctx context.Context, publicID, secretKey string) (string, error) {
			return "fresh", nil
		},
		Persist: func(ctx context.Context, publicID, credential string) error {
			return errors.New("disk full")
		},
	})

	if got := loop.Cycle(context.Background()); got != OutcomeRefreshed {
		t.Fatalf("Cycle() = %v, want %v", got, OutcomeRefreshed)
	}
	if loop.Credential() != "fresh" {
		t.Errorf("Credential() = %q, want %q", loop.Credential(), "fresh")
	}
	if entry.Snapshot().Status != stats.StatusRefreshed {
		t.Errorf("Status = %q, want %q", entry.Snapshot().Status, stats.StatusRefreshed)
	}
}

func TestCycle_OtherFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason string
	}{
		{name: "network error", err: errors.New("dial tcp: connection refused"), reason: "dial tcp: connection refused"},
		{name: "server error", err: fmt.Errorf("bandwidth: %w", codedError{code: 502}), reason: "502"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refreshCalls := 0
			loop, entry, _ := newTestLoop(t, Wallet{PublicID: "w1"}, Config{
				Invoke: func(ctx context.Context, credential string) ([]byte, error) {
					return nil, tt.err
				},
				Refresh: func(ctx context.Context, publicID, secretKey string) (string, error) {
					refreshCalls++
					return "x", nil
				},
			})

			if got := loop.Cycle(context.Background()); got != OutcomeFailed {
				t.Fatalf("Cycle() = %v, want %v", got, OutcomeFailed)
			}

			s := entry.Snapshot()
			if s.Failures != 1 {
				t.Errorf("Failures = %d, want 1", s.Failures)
			}
			if s.Status != stats.StatusFailed {
				t.Errorf("Status = %q, want %q", s.Status, stats.StatusFailed)
			}
			if s.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", s.Reason, tt.reason)
			}
			if refreshCalls != 0 {
				t.Errorf("Refresh called %d times, want 0", refreshCalls)
			}
		})
	}
}

func TestCycle_InvokerPanicIsRecovered(t *testing.T) {
	loop, entry, _ := newTestLoop(t, Wallet{PublicID: "w1"}, Config{
		Invoke: func(ctx context.Context, credential string) ([]byte, error) {
			panic("nil map write")
		},
		Refresh: func(ctx context.Context, publicID, secretKey string) (string, error) { return "", nil },
	})

	if got := loop.Cycle(context.Background()); got != OutcomeFailed {
		t.Fatalf("Cycle() = %v, want %v", got, OutcomeFailed)
	}
	if !strings.Contains(entry.Snapshot().Reason, "correlation_id") {
		t.Errorf("Reason = %q, want correlation id", entry.Snapshot().Reason)
	}
	if loop.Phase() != PhaseIdle {
		t.Errorf("Phase() = %v, want %v", loop.Phase(), PhaseIdle)
	}
}

// TestCycle_NoSecondRefreshWhileAwaiting verifies that a cycle requested
// while a refresh is in flight is skipped rather than issuing a new request.
func TestCycle_NoSecondRefreshWhileAwaiting(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var refreshCalls, invokeCalls atomic.Int32

	loop, entry, _ := newTestLoop(t, Wallet{PublicID: "w1"}, Config{
		Invoke: func(ctx context.Context, credential string) ([]byte, error) {
			invokeCalls.Add(1)
			return nil, ErrUnauthorized
		},
		Refresh: func(ctx context.Context, publicID, secretKey string) (string, error) {
			refreshCalls.Add(1)
			close(entered)
			<-release
			return "tok", nil
		},
	})

	done := make(chan Outcome, 1)
	go func() { done <- loop.Cycle(context.Background()) }()

	<-entered
	if loop.Phase() != PhaseAwaitingRefresh {
		t.Errorf("Phase() = %v, want %v", loop.Phase(), PhaseAwaitingRefresh)
	}
	if !entry.Snapshot().Refreshing {
		t.Error("Refreshing = false during refresh")
	}

	if got := loop.Cycle(context.Background()); got != OutcomeSkipped {
		t.Errorf("concurrent Cycle() = %v, want %v", got, OutcomeSkipped)
	}

	close(release)
	if got := <-done; got != OutcomeRefreshed {
		t.Errorf("Cycle() = %v, want %v", got, OutcomeRefreshed)
	}

	if refreshCalls.Load() != 1 || invokeCalls.Load() != 1 {
		t.Errorf("refresh/invoke calls = %d/%d, want 1/1", refreshCalls.Load(), invokeCalls.Load())
	}
	if got := entry.Snapshot().RequestsSent; got != 1 {
		t.Errorf("RequestsSent = %d, want 1", got)
	}
}

// TestCycle_CounterInvariant checks successes + failures <= requests across
// a mix of outcomes, and that every cycle sends exactly one request.
func TestCycle_CounterInvariant(t *testing.T) {
	results := []func() ([]byte, error){
		func() ([]byte, error) { return []byte(`{}`), nil },
		func() ([]byte, error) { return []byte(`not json`), nil },
		func() ([]byte, error) { return nil, ErrUnauthorized },
		func() ([]byte, error) { return nil, errors.New("timeout") },
	}
	i := 0

	loop, entry, _ := newTestLoop(t, Wallet{PublicID: "w1"}, Config{
		Invoke: func(ctx context.Context, credential string) ([]byte, error) {
			r := results[i%len(results)]
			i++
			return r()
		},
		Refresh: func(ctx context.Context, publicID, secretKey string) (string, error) {
			return "", errors.New("nope")
		},
	})

	for n := 1; n <= 20; n++ {
		loop.Cycle(context.Background())
		s := entry.Snapshot()
		if s.RequestsSent != uint64(n) {
			t.Fatalf("after %d cycles RequestsSent = %d", n, s.RequestsSent)
		}
		if s.Successes+s.Failures > s.RequestsSent {
			t.Fatalf("successes %d + failures %d > requests %d", s.Successes, s.Failures, s.RequestsSent)
		}
	}
}

func TestCycle_IgnoresCancelledContext(t *testing.T) {
	loop, _, _ := newTestLoop(t, Wallet{PublicID: "w1"}, Config{
		Invoke: func(ctx context.Context, credential string) ([]byte, error) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return []byte(`{}`), nil
		},
		Refresh: func(ctx context.Context, publicID, secretKey string) (string, error) { return "", nil },
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if got := loop.Cycle(ctx); got != OutcomeSuccess {
		t.Errorf("Cycle() = %v, want %v", got, OutcomeSuccess)
	}
}

func TestRun_FirstCycleIsImmediate(t *testing.T) {
	invoked := make(chan struct{}, 1)
	loop, _, _ := newTestLoop(t, Wallet{PublicID: "w1"}, Config{
		Invoke: func(ctx context.Context, credential string) ([]byte, error) {
			select {
			case invoked <- struct{}{}:
			default:
			}
			return []byte(`{}`), nil
		},
		Refresh: func(ctx context.Context, publicID, secretKey string) (string, error) { return "", nil },
		Policy:  Policy{MinDelay: time.Hour, MaxDelay: time.Hour},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	select {
	case <-invoked:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle did not fire immediately")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}
}

func TestRun_ReschedulesAfterEachCycle(t *testing.T) {
	var calls atomic.Int32
	loop, entry, _ := newTestLoop(t, Wallet{PublicID: "w1"}, Config{
		Invoke: func(ctx context.Context, credential string) ([]byte, error) {
			calls.Add(1)
			return []byte(`{}`), nil
		},
		Refresh: func(ctx context.Context, publicID, secretKey string) (string, error) { return "", nil },
		Policy:  Policy{MinDelay: 5 * time.Millisecond, MaxDelay: 10 * time.Millisecond},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go loop.Run(ctx)

	deadline := time.After(2 * time.Second)
	for calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d cycles ran", calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	if entry.Snapshot().Successes < 3 {
		t.Errorf("Successes = %d, want >= 3", entry.Snapshot().Successes)
	}
}

func TestRun_CancelledContextDoesNotInvoke(t *testing.T) {
	var calls atomic.Int32
	loop, _, _ := newTestLoop(t, Wallet{PublicID: "w1"}, Config{
		Invoke: func(ctx context.Context, credential string) ([]byte, error) {
			calls.Add(1)
			return []byte(`{}`), nil
		},
		Refresh: func(ctx context.Context, publicID, secretKey string) (string, error) { return "", nil },
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	loop.Run(ctx)

	if calls.Load() != 0 {
		t.Errorf("Invoke called %d times, want 0", calls.Load())
	}
}

func TestRun_StartupStaggerDelaysFirstCycle(t *testing.T) {
	var calls atomic.Int32
	loop, _, _ := newTestLoop(t, Wallet{PublicID: "w1"}, Config{
		Invoke: func(ctx context.Context, credential string) ([]byte, error) {
			calls.Add(1)
			return []byte(`{}`), nil
		},
		Refresh: func(ctx context.Context, publicID, secretKey string) (string, error) { return "", nil },
		Policy:  Policy{MinDelay: time.Hour, MaxDelay: time.Hour, StartupStagger: time.Hour},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	loop.Run(ctx)

	// with a one-hour stagger the first cycle is almost surely not reached
	if calls.Load() > 1 {
		t.Errorf("Invoke called %d times, want at most 1", calls.Load())
	}
}
