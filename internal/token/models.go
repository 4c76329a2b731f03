// Package token issues and redeems the single-use, expiring credentials that
// prove control of an email address for one workflow step.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"

	"schoolreg/pkg/platform/sentinel"
)

// Purpose binds a token to exactly one workflow step.
type Purpose string

const (
	PurposeApplicantVerify  Purpose = "applicant_verify"
	PurposePrincipalConfirm Purpose = "principal_confirm"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	return p == PurposeApplicantVerify || p == PurposePrincipalConfirm
}

// VerificationToken is an ephemeral credential bound to one application and
// one purpose. Consumed tokens are retained for audit; Superseded marks
// tokens invalidated by a re-issue of the same purpose.
type VerificationToken struct {
	Token         string     `json:"token"`
	ApplicationID uuid.UUID  `json:"application_id"`
	Purpose       Purpose    `json:"purpose"`
	IssuedAt      time.Time  `json:"issued_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	ConsumedAt    *time.Time `json:"consumed_at,omitempty"`
	Superseded    bool       `json:"superseded"`
}

// IsValid reports whether the token can still be redeemed at the given time.
func (t *VerificationToken) IsValid(now time.Time) bool {
	return t.ConsumedAt == nil && !t.Superseded && now.Before(t.ExpiresAt)
}

// ValidateForRedeem checks every redemption precondition and returns the
// matching sentinel error. A superseded token reads as expired to the caller:
// a newer link replaced it.
func (t *VerificationToken) ValidateForRedeem(purpose Purpose, now time.Time) error {
	if t.Purpose != purpose {
		return fmt.Errorf("token issued for %s, not %s: %w", t.Purpose, purpose, sentinel.ErrNotFound)
	}
	if t.ConsumedAt != nil {
		return fmt.Errorf("token consumed at %s: %w", t.ConsumedAt.Format(time.RFC3339), sentinel.ErrAlreadyUsed)
	}
	if t.Superseded {
		return fmt.Errorf("token superseded by a newer link: %w", sentinel.ErrExpired)
	}
	if !now.Before(t.ExpiresAt) {
		return fmt.Errorf("token expired at %s: %w", t.ExpiresAt.Format(time.RFC3339), sentinel.ErrExpired)
	}
	return nil
}

const tokenBytes = 32

// generateToken returns a 256-bit random opaque token string.
func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
