package token

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"schoolreg/pkg/platform/sentinel"
)

type TokenStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
	now   time.Time
	appID uuid.UUID
}

func (s *TokenStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	s.appID = uuid.New()
}

func TestTokenStoreSuite(t *testing.T) {
	suite.Run(t, new(TokenStoreSuite))
}

// TestIssue verifies issuance and the supersede-on-reissue rule.
func (s *TokenStoreSuite) TestIssue() {
	s.Run("issues an opaque token with the requested lifetime", func() {
		tok, err := s.store.Issue(s.ctx, s.appID, PurposeApplicantVerify, 48*time.Hour, s.now)
		s.Require().NoError(err)
		s.NotEmpty(tok.Token)
		s.Equal(s.now.Add(48*time.Hour), tok.ExpiresAt)
		s.Nil(tok.ConsumedAt)
		s.False(tok.Superseded)
	})

	s.Run("re-issue supersedes the outstanding token of the same purpose", func() {
		first, err := s.store.Issue(s.ctx, s.appID, PurposeApplicantVerify, time.Hour, s.now)
		s.Require().NoError(err)
		second, err := s.store.Issue(s.ctx, s.appID, PurposeApplicantVerify, time.Hour, s.now.Add(time.Minute))
		s.Require().NoError(err)

		_, err = s.store.Redeem(s.ctx, first.Token, PurposeApplicantVerify, s.now.Add(2*time.Minute))
		s.Require().ErrorIs(err, sentinel.ErrExpired, "superseded token reads as expired")

		redeemed, err := s.store.Redeem(s.ctx, second.Token, PurposeApplicantVerify, s.now.Add(2*time.Minute))
		s.Require().NoError(err)
		s.NotNil(redeemed.ConsumedAt)
	})

	s.Run("re-issue of one purpose leaves the other purpose alone", func() {
		applicant, err := s.store.Issue(s.ctx, s.appID, PurposeApplicantVerify, time.Hour, s.now)
		s.Require().NoError(err)
		_, err = s.store.Issue(s.ctx, s.appID, PurposePrincipalConfirm, time.Hour, s.now)
		s.Require().NoError(err)

		found, err := s.store.FindByToken(s.ctx, applicant.Token)
		s.Require().NoError(err)
		s.False(found.Superseded)
	})

	s.Run("rejects unknown purpose", func() {
		_, err := s.store.Issue(s.ctx, s.appID, Purpose("password_reset"), time.Hour, s.now)
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)
	})
}

// TestRedeem verifies the consume-once contract and every failure mode.
func (s *TokenStoreSuite) TestRedeem() {
	s.Run("consumes exactly once", func() {
		tok, err := s.store.Issue(s.ctx, s.appID, PurposeApplicantVerify, time.Hour, s.now)
		s.Require().NoError(err)

		_, err = s.store.Redeem(s.ctx, tok.Token, PurposeApplicantVerify, s.now.Add(time.Minute))
		s.Require().NoError(err)

		_, err = s.store.Redeem(s.ctx, tok.Token, PurposeApplicantVerify, s.now.Add(2*time.Minute))
		s.Require().ErrorIs(err, sentinel.ErrAlreadyUsed)
	})

	s.Run("unknown token", func() {
		_, err := s.store.Redeem(s.ctx, "nope", PurposeApplicantVerify, s.now)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("purpose mismatch reads as not found", func() {
		tok, err := s.store.Issue(s.ctx, s.appID, PurposePrincipalConfirm, time.Hour, s.now)
		s.Require().NoError(err)
		_, err = s.store.Redeem(s.ctx, tok.Token, PurposeApplicantVerify, s.now)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("expired token", func() {
		tok, err := s.store.Issue(s.ctx, s.appID, PurposeApplicantVerify, time.Hour, s.now)
		s.Require().NoError(err)
		_, err = s.store.Redeem(s.ctx, tok.Token, PurposeApplicantVerify, s.now.Add(time.Hour))
		s.Require().ErrorIs(err, sentinel.ErrExpired, "expiry boundary is exclusive")
	})

	s.Run("concurrent redemption: exactly one caller wins", func() {
		tok, err := s.store.Issue(s.ctx, s.appID, PurposeApplicantVerify, time.Hour, s.now)
		s.Require().NoError(err)

		const callers = 16
		var wg sync.WaitGroup
		errs := make([]error, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = s.store.Redeem(s.ctx, tok.Token, PurposeApplicantVerify, s.now.Add(time.Minute))
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
			} else {
				s.ErrorIs(err, sentinel.ErrAlreadyUsed)
			}
		}
		s.Equal(1, wins)
	})
}

// TestFindCurrent verifies the sweep's lookup of the outstanding token.
func (s *TokenStoreSuite) TestFindCurrent() {
	s.Run("returns the newest unconsumed token", func() {
		_, err := s.store.Issue(s.ctx, s.appID, PurposeApplicantVerify, time.Hour, s.now)
		s.Require().NoError(err)
		second, err := s.store.Issue(s.ctx, s.appID, PurposeApplicantVerify, time.Hour, s.now.Add(time.Minute))
		s.Require().NoError(err)

		current, err := s.store.FindCurrent(s.ctx, s.appID, PurposeApplicantVerify)
		s.Require().NoError(err)
		s.Equal(second.Token, current.Token)
	})

	s.Run("no outstanding token", func() {
		tok, err := s.store.Issue(s.ctx, s.appID, PurposePrincipalConfirm, time.Hour, s.now)
		s.Require().NoError(err)
		_, err = s.store.Redeem(s.ctx, tok.Token, PurposePrincipalConfirm, s.now)
		s.Require().NoError(err)

		_, err = s.store.FindCurrent(s.ctx, s.appID, PurposePrincipalConfirm)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}
