package walletfleet

import (
	"context"
	"time"

	"github.com/jpalmerr/walletfleet/internal/poller"
)

// DefaultChallengeMessage is the fixed message a wallet signs to obtain a
// credential.
const DefaultChallengeMessage = "Please sign this message to connect your wallet to Flow 3 and verifying your ownership only."

// ErrUnauthorized is wrapped by [ActionInvoker] implementations when the
// service rejects the credential. A poll loop that sees it refreshes the
// wallet's credential once.
var ErrUnauthorized = poller.ErrUnauthorized

// Identity is an independently-authenticated wallet.
//
// PublicID is unique within an [IdentityStore] and SecretKey never changes
// after enrollment. Credential is empty until the wallet first logs in.
type Identity struct {
	PublicID   string
	SecretKey  string
	Credential string
}

// IdentityStore persists wallets.
//
// UpsertCredential is called concurrently from different wallets' loops and
// must be safe for concurrent use. It only changes the credential field.
type IdentityStore interface {
	LoadAll(ctx context.Context) ([]Identity, error)
	UpsertCredential(ctx context.Context, publicID, credential string) error
	Insert(ctx context.Context, id Identity) error
}

// Signer signs the challenge message with a wallet's secret key.
type Signer interface {
	Sign(secretKey, message string) (string, error)
}

// KeyGenerator creates new wallet key pairs for enrollment.
type KeyGenerator interface {
	Generate() (publicID, secretKey string, err error)
}

// CredentialIssuer exchanges a signed challenge for an access credential.
// referralCode is empty when refreshing an existing wallet.
type CredentialIssuer interface {
	Issue(ctx context.Context, publicID, message, signature, referralCode string) (string, error)
}

// ActionInvoker performs the periodic remote action.
//
// On success it returns the raw response payload. A rejected credential is
// reported with an error wrapping [ErrUnauthorized]; any other error is
// counted as a plain failure.
type ActionInvoker interface {
	Invoke(ctx context.Context, credential string) ([]byte, error)
}

// Reporter renders fleet statistics to an observer.
//
// Render is called from the coordinator's render tick with a fresh
// snapshot. Empty is called instead when there is nothing to run.
type Reporter interface {
	Render(now time.Time, stats []WalletStat)
	Empty(message string)
}

// nopReporter discards everything.
type nopReporter struct{}

func (nopReporter) Render(time.Time, []WalletStat) {}
func (nopReporter) Empty(string)                   {}
