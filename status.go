package walletfleet

import (
	"time"

	"github.com/jpalmerr/walletfleet/internal/stats"
)

// Status is the last state transition recorded for a wallet.
//
// Status is a string type so it serializes cleanly to JSON and reads well
// in logs. Every transition of a poll loop sets one of the constants below.
type Status string

const (
	// StatusReady is the initial status before the first cycle.
	StatusReady Status = stats.StatusReady

	// StatusSending indicates the action request is in flight.
	StatusSending Status = stats.StatusSending

	// StatusSuccess indicates the action returned a well-formed payload.
	StatusSuccess Status = stats.StatusSuccess

	// StatusParseError indicates the action answered with a payload that was
	// not valid JSON. It counts as neither success nor failure.
	StatusParseError Status = stats.StatusParseError

	// StatusTokenExpired indicates the service rejected the credential.
	StatusTokenExpired Status = stats.StatusTokenExpired

	// StatusRefreshing indicates a new credential is being issued.
	StatusRefreshing Status = stats.StatusRefreshing

	// StatusRefreshed indicates a new credential was issued and stored.
	StatusRefreshed Status = stats.StatusRefreshed

	// StatusRefreshFailed indicates the issuer did not return a credential.
	// The wallet retries on its next natural cycle.
	StatusRefreshFailed Status = stats.StatusRefreshFailed

	// StatusFailed indicates any other failure; see [WalletStat.Reason].
	StatusFailed Status = stats.StatusFailed
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Label returns the human-readable form shown in the stats table.
func (s Status) Label() string {
	switch s {
	case StatusReady:
		return "Ready"
	case StatusSending:
		return "Sending"
	case StatusSuccess:
		return "Success"
	case StatusParseError:
		return "Parse Error"
	case StatusTokenExpired:
		return "Token Expired"
	case StatusRefreshing:
		return "Refreshing Token..."
	case StatusRefreshed:
		return "Token Refreshed"
	case StatusRefreshFailed:
		return "Refresh Failed"
	case StatusFailed:
		return "Failed"
	default:
		return string(s)
	}
}

// WalletStat is a snapshot of one wallet's runtime statistics.
//
// WalletStat values are copies; holding on to one never blocks or races
// with the poll loop that produced it.
type WalletStat struct {
	// PublicID identifies the wallet.
	PublicID string

	// RequestsSent counts action invocations, exactly one per cycle.
	RequestsSent uint64

	// Successes counts cycles that returned a well-formed payload.
	Successes uint64

	// Failures counts cycles that ended in an error, unauthorized included.
	// Successes + Failures never exceeds RequestsSent.
	Failures uint64

	// ServerTime accumulates the elapsed-time field of successful payloads.
	ServerTime float64

	// Status is the last transition.
	Status Status

	// Reason is set for StatusFailed (HTTP status code or error message)
	// and StatusRefreshFailed.
	Reason string

	// Refreshing is true only while a credential refresh is in flight.
	Refreshing bool

	// UpdatedAt is when the stat last changed.
	UpdatedAt time.Time
}

// StatusText returns the label for the stat's status, including the reason
// for failures (for example "Failed: 502").
func (s WalletStat) StatusText() string {
	if s.Status == StatusFailed && s.Reason != "" {
		return s.Status.Label() + ": " + s.Reason
	}
	return s.Status.Label()
}

func toWalletStat(s stats.Stat) WalletStat {
	return WalletStat{
		PublicID:     s.PublicID,
		RequestsSent: s.RequestsSent,
		Successes:    s.Successes,
		Failures:     s.Failures,
		ServerTime:   s.ServerTime,
		Status:       Status(s.Status),
		Reason:       s.Reason,
		Refreshing:   s.Refreshing,
		UpdatedAt:    s.UpdatedAt,
	}
}

func toWalletStats(in []stats.Stat) []WalletStat {
	out := make([]WalletStat, len(in))
	for i, s := range in {
		out[i] = toWalletStat(s)
	}
	return out
}
