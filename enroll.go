package walletfleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// EnrollStage is a step of enrolling one wallet.
type EnrollStage string

const (
	EnrollGenerating  EnrollStage = "generating"
	EnrollSigning     EnrollStage = "signing"
	EnrollRegistering EnrollStage = "registering"
	EnrollSucceeded   EnrollStage = "success"
	EnrollFailed      EnrollStage = "failed"
)

// EnrollProgress reports a stage change for the wallet at Index (0-based).
// PublicID is empty until the key pair has been generated. Err is set for
// [EnrollFailed].
type EnrollProgress struct {
	Index    int
	Total    int
	PublicID string
	Stage    EnrollStage
	Err      error
}

// enrollConfig holds mutable state during Enroller construction.
type enrollConfig struct {
	message    string
	logger     *slog.Logger
	onProgress func(EnrollProgress)
}

// EnrollOption configures an [Enroller].
type EnrollOption func(*enrollConfig) error

// WithEnrollMessage overrides [DefaultChallengeMessage] for enrollment.
func WithEnrollMessage(msg string) EnrollOption {
	return func(cfg *enrollConfig) error {
		if msg == "" {
			return errors.New("challenge message cannot be empty")
		}
		cfg.message = msg
		return nil
	}
}

// WithEnrollLogger sets a custom [slog.Logger]. Defaults to [slog.Default].
func WithEnrollLogger(logger *slog.Logger) EnrollOption {
	return func(cfg *enrollConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithProgress registers a function called on every stage change.
func WithProgress(fn func(EnrollProgress)) EnrollOption {
	return func(cfg *enrollConfig) error {
		if fn == nil {
			return errors.New("progress callback cannot be nil")
		}
		cfg.onProgress = fn
		return nil
	}
}

// Enroller creates new wallets under a referral code.
//
// For each wallet it generates a key pair, signs the challenge message,
// registers with the issuer and stores the wallet with its first credential.
type Enroller struct {
	store      IdentityStore
	keys       KeyGenerator
	signer     Signer
	issuer     CredentialIssuer
	message    string
	logger     *slog.Logger
	onProgress func(EnrollProgress)
}

// NewEnroller creates an [Enroller]. All collaborators are required.
func NewEnroller(store IdentityStore, keys KeyGenerator, signer Signer, issuer CredentialIssuer, opts ...EnrollOption) (*Enroller, error) {
	if store == nil || keys == nil || signer == nil || issuer == nil {
		return nil, errors.New("store, key generator, signer and issuer are required")
	}

	cfg := &enrollConfig{message: DefaultChallengeMessage}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Enroller{
		store:      store,
		keys:       keys,
		signer:     signer,
		issuer:     issuer,
		message:    cfg.message,
		logger:     logger,
		onProgress: cfg.onProgress,
	}, nil
}

// Enroll creates count wallets registered with referralCode and returns how
// many were stored.
//
// A wallet whose registration fails is reported through the progress
// callback and skipped; enrollment continues with the next one. Enroll stops
// early only when ctx is cancelled, returning ctx.Err().
func (e *Enroller) Enroll(ctx context.Context, count int, referralCode string) (int, error) {
	if count <= 0 {
		return 0, fmt.Errorf("wallet count must be positive, got %d", count)
	}

	logger := e.logger.With("batch_id", uuid.NewString())
	logger.Info("enrollment started", "count", count)

	created := 0
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return created, err
		}

		publicID, err := e.enrollOne(ctx, i, count, referralCode)
		if err != nil {
			logger.Warn("wallet enrollment failed", "index", i, "wallet", publicID, "error", err)
			e.progress(EnrollProgress{Index: i, Total: count, PublicID: publicID, Stage: EnrollFailed, Err: err})
			continue
		}

		created++
		logger.Info("wallet enrolled", "index", i, "wallet", publicID)
		e.progress(EnrollProgress{Index: i, Total: count, PublicID: publicID, Stage: EnrollSucceeded})
	}

	logger.Info("enrollment finished", "created", created, "failed", count-created)
	return created, nil
}

func (e *Enroller) enrollOne(ctx context.Context, i, total int, referralCode string) (string, error) {
	e.progress(EnrollProgress{Index: i, Total: total, Stage: EnrollGenerating})
	publicID, secretKey, err := e.keys.Generate()
	if err != nil {
		return "", fmt.Errorf("failed to generate key pair: %w", err)
	}

	e.progress(EnrollProgress{Index: i, Total: total, PublicID: publicID, Stage: EnrollSigning})
	signature, err := e.signer.Sign(secretKey, e.message)
	if err != nil {
		return publicID, fmt.Errorf("failed to sign challenge: %w", err)
	}

	e.progress(EnrollProgress{Index: i, Total: total, PublicID: publicID, Stage: EnrollRegistering})
	credential, err := e.issuer.Issue(ctx, publicID, e.message, signature, referralCode)
	if err != nil {
		return publicID, fmt.Errorf("failed to register wallet: %w", err)
	}

	id := Identity{PublicID: publicID, SecretKey: secretKey, Credential: credential}
	if err := e.store.Insert(ctx, id); err != nil {
		return publicID, fmt.Errorf("failed to store wallet: %w", err)
	}
	return publicID, nil
}

func (e *Enroller) progress(p EnrollProgress) {
	if e.onProgress != nil {
		e.onProgress(p)
	}
}
