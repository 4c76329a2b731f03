// Package service drives the applicant-verification and principal-confirmation
// steps of the registration workflow.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	appmodels "schoolreg/internal/application/models"
	appstore "schoolreg/internal/application/store"
	"schoolreg/internal/notification"
	"schoolreg/internal/token"
	vmetrics "schoolreg/internal/verification/metrics"
	dErrors "schoolreg/pkg/domain-errors"
	"schoolreg/pkg/platform/sentinel"
	"schoolreg/pkg/requestcontext"
)

const (
	defaultApplicantTokenTTL = 48 * time.Hour
	defaultPrincipalTokenTTL = 72 * time.Hour
)

// ResendLimiter throttles re-issues per application. Allow returns
// sentinel.ErrConflict while the cooldown is active.
type ResendLimiter interface {
	Allow(ctx context.Context, applicationID uuid.UUID) error
}

// NoopLimiter never throttles; used in tests and single-node development.
type NoopLimiter struct{}

func (NoopLimiter) Allow(context.Context, uuid.UUID) error { return nil }

// Service orchestrates submission and both identity-confirmation steps. It is
// one of the two writers of application status (the other is the review
// service); all transitions go through the store's Execute path.
type Service struct {
	logger       *slog.Logger
	apps         appstore.Store
	tokens       token.Store
	dispatcher   notification.Dispatcher
	limiter      ResendLimiter
	metrics      *vmetrics.Metrics
	applicantTTL time.Duration
	principalTTL time.Duration
}

// Option configures the Service.
type Option func(*Service)

// WithResendLimiter sets the resend cooldown store.
func WithResendLimiter(limiter ResendLimiter) Option {
	return func(s *Service) { s.limiter = limiter }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *vmetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTokenTTLs overrides the token lifetimes.
func WithTokenTTLs(applicant, principal time.Duration) Option {
	return func(s *Service) {
		s.applicantTTL = applicant
		s.principalTTL = principal
	}
}

// NewService builds the verification service.
func NewService(apps appstore.Store, tokens token.Store, dispatcher notification.Dispatcher, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		logger:       logger,
		apps:         apps,
		tokens:       tokens,
		dispatcher:   dispatcher,
		limiter:      NoopLimiter{},
		applicantTTL: defaultApplicantTokenTTL,
		principalTTL: defaultPrincipalTokenTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates intake data, creates the application, issues the
// applicant-verify token, and emails the applicant.
func (s *Service) Submit(ctx context.Context, intake appmodels.Intake) (*appmodels.Application, *token.VerificationToken, error) {
	now := requestcontext.Now(ctx)

	app, err := appmodels.NewApplication(uuid.New(), intake, now)
	if err != nil {
		return nil, nil, err
	}

	submitted := appmodels.TimelineEvent{
		ID:            uuid.New(),
		ApplicationID: app.ID,
		Event:         appmodels.EventSubmitted,
		Actor:         "applicant",
		OccurredAt:    now,
	}
	if err := s.apps.Create(ctx, app, submitted); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, nil, dErrors.New(dErrors.CodeConflict,
				"an application for this email address is already in progress")
		}
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create application")
	}

	tok, err := s.tokens.Issue(ctx, app.ID, token.PurposeApplicantVerify, s.applicantTTL, now)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue verification token")
	}

	s.dispatcher.Dispatch(ctx, notification.Message{
		Kind:          notification.KindApplicantVerification,
		ApplicationID: app.ID,
		Recipient:     app.ApplicantEmail,
		Token:         tok.Token,
	})
	s.metrics.IncSubmitted()
	return app, tok, nil
}

// VerifyApplicant redeems an applicant-verify token and advances the
// workflow. It returns the updated application and whether principal
// confirmation is still required.
func (s *Service) VerifyApplicant(ctx context.Context, tokenStr string) (*appmodels.Application, bool, error) {
	now := requestcontext.Now(ctx)

	peek, err := s.tokens.FindByToken(ctx, tokenStr)
	if err != nil {
		s.metrics.IncRedeemFailure("not_found")
		return nil, false, translateTokenErr(err)
	}

	var principalToken *token.VerificationToken
	event := appmodels.TimelineEvent{
		ID:            uuid.New(),
		ApplicationID: peek.ApplicationID,
		Event:         appmodels.EventVerifyApplicant,
		Actor:         "applicant",
		OccurredAt:    now,
	}
	app, err := s.apps.Execute(ctx, peek.ApplicationID, appstore.NoVersionCheck,
		func(txCtx context.Context, a *appmodels.Application) error {
			// Token faults outrank transition faults: a re-clicked consumed
			// link must read as already-used even after the status moved on.
			if err := peek.ValidateForRedeem(token.PurposeApplicantVerify, now); err != nil {
				return translateTokenErr(err)
			}
			if err := a.CanApply(appmodels.EventVerifyApplicant); err != nil {
				return err
			}
			// Consume-once is enforced here: the redeem and the status flip
			// commit together or not at all.
			if _, err := s.tokens.Redeem(txCtx, tokenStr, token.PurposeApplicantVerify, now); err != nil {
				return translateTokenErr(err)
			}
			if !a.ApplicantIsPrincipal() {
				tok, err := s.tokens.Issue(txCtx, a.ID, token.PurposePrincipalConfirm, s.principalTTL, now)
				if err != nil {
					return dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue principal token")
				}
				principalToken = tok
			}
			return nil
		},
		func(a *appmodels.Application) {
			a.ApplyApplicantVerified(now)
		},
		event,
	)
	if err != nil {
		s.countRedeemFailure(err)
		return nil, false, translateAppErr(err)
	}

	s.metrics.IncVerification(string(token.PurposeApplicantVerify))
	requiresPrincipal := app.Status == appmodels.StatusAwaitingPrincipalConfirmation
	if requiresPrincipal {
		s.dispatcher.Dispatch(ctx, notification.Message{
			Kind:          notification.KindPrincipalConfirmation,
			ApplicationID: app.ID,
			Recipient:     app.AdminChoice.PrincipalEmail,
			Token:         principalToken.Token,
		})
	} else {
		s.notifyAdminQueue(ctx, app)
	}
	return app, requiresPrincipal, nil
}

// ConfirmPrincipal redeems a principal-confirm token, completing the second
// identity confirmation, and places the application in the review queue.
func (s *Service) ConfirmPrincipal(ctx context.Context, tokenStr string) (*appmodels.Application, error) {
	now := requestcontext.Now(ctx)

	peek, err := s.tokens.FindByToken(ctx, tokenStr)
	if err != nil {
		s.metrics.IncRedeemFailure("not_found")
		return nil, translateTokenErr(err)
	}

	event := appmodels.TimelineEvent{
		ID:            uuid.New(),
		ApplicationID: peek.ApplicationID,
		Event:         appmodels.EventConfirmPrincipal,
		Actor:         "principal",
		OccurredAt:    now,
	}
	app, err := s.apps.Execute(ctx, peek.ApplicationID, appstore.NoVersionCheck,
		func(txCtx context.Context, a *appmodels.Application) error {
			if err := peek.ValidateForRedeem(token.PurposePrincipalConfirm, now); err != nil {
				return translateTokenErr(err)
			}
			if err := a.CanApply(appmodels.EventConfirmPrincipal); err != nil {
				return err
			}
			if _, err := s.tokens.Redeem(txCtx, tokenStr, token.PurposePrincipalConfirm, now); err != nil {
				return translateTokenErr(err)
			}
			return nil
		},
		func(a *appmodels.Application) {
			a.ApplyPrincipalConfirmed(now)
		},
		event,
	)
	if err != nil {
		s.countRedeemFailure(err)
		return nil, translateAppErr(err)
	}

	s.metrics.IncVerification(string(token.PurposePrincipalConfirm))
	s.notifyAdminQueue(ctx, app)
	return app, nil
}

// ResendVerification re-issues the currently outstanding token for whichever
// step is pending. The supplied email must match the recorded applicant
// email; the weak-auth match means mismatches read as "not found" rather than
// confirming an application exists.
func (s *Service) ResendVerification(ctx context.Context, applicationID uuid.UUID, email string) (*token.VerificationToken, error) {
	now := requestcontext.Now(ctx)

	app, err := s.apps.FindByID(ctx, applicationID)
	if err != nil {
		return nil, translateAppErr(err)
	}
	if appmodels.NormalizedEmail(app.ApplicantEmail) != appmodels.NormalizedEmail(email) {
		return nil, dErrors.New(dErrors.CodeNotFound, "application not found")
	}

	var (
		purpose   token.Purpose
		ttl       time.Duration
		kind      notification.Kind
		recipient string
	)
	switch app.Status {
	case appmodels.StatusAwaitingApplicantVerification:
		purpose, ttl = token.PurposeApplicantVerify, s.applicantTTL
		kind, recipient = notification.KindApplicantVerification, app.ApplicantEmail
	case appmodels.StatusAwaitingPrincipalConfirmation:
		purpose, ttl = token.PurposePrincipalConfirm, s.principalTTL
		kind, recipient = notification.KindPrincipalConfirmation, app.AdminChoice.PrincipalEmail
	default:
		return nil, dErrors.Newf(dErrors.CodeNotEligible,
			"application in status %s has no pending verification", app.Status)
	}

	if err := s.limiter.Allow(ctx, applicationID); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeNotEligible,
				"a verification email was sent recently; try again shortly")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "resend throttle check failed")
	}

	tok, err := s.tokens.Issue(ctx, applicationID, purpose, ttl, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to re-issue token")
	}

	s.dispatcher.Dispatch(ctx, notification.Message{
		Kind:          kind,
		ApplicationID: applicationID,
		Recipient:     recipient,
		Token:         tok.Token,
	})
	s.metrics.IncResend()
	return tok, nil
}

// MarkInfoProvided returns a more-info-requested application to the review
// queue once the applicant has responded. Response content handling lives
// outside this service; only the transition contract is owned here.
func (s *Service) MarkInfoProvided(ctx context.Context, applicationID uuid.UUID) (*appmodels.Application, error) {
	now := requestcontext.Now(ctx)

	event := appmodels.TimelineEvent{
		ID:            uuid.New(),
		ApplicationID: applicationID,
		Event:         appmodels.EventInfoProvided,
		Actor:         "applicant",
		OccurredAt:    now,
	}
	app, err := s.apps.Execute(ctx, applicationID, appstore.NoVersionCheck,
		func(_ context.Context, a *appmodels.Application) error {
			return a.CanApply(appmodels.EventInfoProvided)
		},
		func(a *appmodels.Application) {
			a.ApplyInfoProvided(now)
		},
		event,
	)
	if err != nil {
		return nil, translateAppErr(err)
	}

	s.notifyAdminQueue(ctx, app)
	return app, nil
}

func (s *Service) notifyAdminQueue(ctx context.Context, app *appmodels.Application) {
	s.dispatcher.Dispatch(ctx, notification.Message{
		Kind:          notification.KindAdminQueue,
		ApplicationID: app.ID,
		Detail:        app.SchoolName,
	})
}

func (s *Service) countRedeemFailure(err error) {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeTokenNotFound:
		s.metrics.IncRedeemFailure("not_found")
	case dErrors.CodeTokenExpired:
		s.metrics.IncRedeemFailure("expired")
	case dErrors.CodeTokenAlreadyUsed:
		s.metrics.IncRedeemFailure("already_used")
	}
}

// translateTokenErr converts token-store sentinel errors into coded domain
// errors so clients can distinguish "already verified" from "link expired"
// from "unknown link".
func translateTokenErr(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeTokenNotFound, "verification link is not recognized")
	case errors.Is(err, sentinel.ErrExpired):
		return dErrors.New(dErrors.CodeTokenExpired, "verification link has expired")
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.New(dErrors.CodeTokenAlreadyUsed, "verification link was already used")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "token redemption failed")
	}
}

// translateAppErr converts application-store sentinel errors into coded
// domain errors; already-coded errors pass through unchanged.
func translateAppErr(err error) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "application not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.New(dErrors.CodeInvalidTransition, "application has reached a final decision")
	case errors.Is(err, sentinel.ErrConcurrentModification):
		return dErrors.New(dErrors.CodeConcurrentModification, "application was modified concurrently; refetch and retry")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "conflicting application state")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "application store failure")
	}
}
