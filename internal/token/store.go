package token

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store issues and redeems verification tokens.
//
// Error contract:
//   - sentinel.ErrNotFound: token string unknown (or bound to another purpose)
//   - sentinel.ErrExpired: deadline passed, or token superseded by a re-issue
//   - sentinel.ErrAlreadyUsed: token was consumed before
//
// Redeem is linearizable per token: under concurrent redemption of the same
// token, exactly one caller succeeds.
type Store interface {
	// Issue generates and persists a fresh token, superseding any prior
	// unconsumed token of the same (application, purpose). This is also the
	// implementation of "resend verification".
	Issue(ctx context.Context, applicationID uuid.UUID, purpose Purpose, ttl time.Duration, now time.Time) (*VerificationToken, error)

	// Redeem atomically validates the token and marks it consumed.
	Redeem(ctx context.Context, tokenStr string, purpose Purpose, now time.Time) (*VerificationToken, error)

	// FindByToken returns the token record without consuming it (read-only
	// projections such as the principal summary view).
	FindByToken(ctx context.Context, tokenStr string) (*VerificationToken, error)

	// FindCurrent returns the latest non-superseded, unconsumed token for
	// the (application, purpose) pair.
	FindCurrent(ctx context.Context, applicationID uuid.UUID, purpose Purpose) (*VerificationToken, error)
}
