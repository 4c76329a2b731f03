package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	appmodels "schoolreg/internal/application/models"
	appstore "schoolreg/internal/application/store"
	"schoolreg/internal/notification"
	"schoolreg/internal/token"
	dErrors "schoolreg/pkg/domain-errors"
	"schoolreg/pkg/platform/sentinel"
	"schoolreg/pkg/requestcontext"
)

type VerificationSuite struct {
	suite.Suite
	apps       *appstore.InMemoryStore
	tokens     *token.InMemoryStore
	dispatcher *notification.RecordingDispatcher
	service    *Service
	ctx        context.Context
	now        time.Time
}

func (s *VerificationSuite) SetupTest() {
	s.apps = appstore.NewInMemoryStore()
	s.tokens = token.NewInMemoryStore()
	s.dispatcher = notification.NewRecordingDispatcher()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.service = NewService(s.apps, s.tokens, s.dispatcher, logger)
	s.now = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func TestVerificationSuite(t *testing.T) {
	suite.Run(t, new(VerificationSuite))
}

func (s *VerificationSuite) at(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func intakeSeparatePrincipal(email string) appmodels.Intake {
	return appmodels.Intake{
		SchoolName:        "Lakeside Gymnasium",
		YearEstablished:   1967,
		SchoolType:        "secondary",
		StudentPopulation: 810,
		Country:           "DE",
		City:              "Konstanz",
		ApplicantName:     "Petra Maier",
		ApplicantEmail:    email,
		AdminChoice: appmodels.AdminChoice{
			Kind:           appmodels.AdminChoicePrincipal,
			PrincipalName:  "Dr. Bernd Kessler",
			PrincipalEmail: "kessler@lakeside.example",
		},
		Reasons:          []string{"replace paper enrollment"},
		MissionStatement: "Rigorous academics on the shore of the Bodensee.",
	}
}

func intakeApplicantIsPrincipal(email string) appmodels.Intake {
	intake := intakeSeparatePrincipal(email)
	intake.AdminChoice = appmodels.AdminChoice{Kind: appmodels.AdminChoiceApplicant}
	return intake
}

// TestSubmit covers the submission operation.
func (s *VerificationSuite) TestSubmit() {
	s.Run("creates the application and mails the applicant", func() {
		app, tok, err := s.service.Submit(s.ctx, intakeSeparatePrincipal("petra@lakeside.example"))
		s.Require().NoError(err)
		s.Equal(appmodels.StatusAwaitingApplicantVerification, app.Status)
		s.NotEmpty(tok.Token)
		s.Equal(s.now.Add(48*time.Hour), tok.ExpiresAt)

		mails := s.dispatcher.ByKind(notification.KindApplicantVerification)
		s.Require().Len(mails, 1)
		s.Equal("petra@lakeside.example", mails[0].Recipient)
		s.Equal(tok.Token, mails[0].Token)

		events, err := s.apps.ListTimeline(s.ctx, app.ID)
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(appmodels.EventSubmitted, events[0].Event)
	})

	s.Run("rejects invalid intake without side effects", func() {
		intake := intakeSeparatePrincipal("bad@lakeside.example")
		intake.MissionStatement = "short"
		_, _, err := s.service.Submit(s.ctx, intake)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("duplicate in-flight email maps to conflict", func() {
		_, _, err := s.service.Submit(s.ctx, intakeSeparatePrincipal("dup@lakeside.example"))
		s.Require().NoError(err)
		_, _, err = s.service.Submit(s.ctx, intakeSeparatePrincipal("Dup@lakeside.example"))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

// TestVerifyApplicant covers the first identity-confirmation step on both
// admin-choice paths.
func (s *VerificationSuite) TestVerifyApplicant() {
	s.Run("separate principal: advances and mails the principal", func() {
		app, tok, err := s.service.Submit(s.ctx, intakeSeparatePrincipal("p1@lakeside.example"))
		s.Require().NoError(err)

		updated, requiresPrincipal, err := s.service.VerifyApplicant(s.ctx, tok.Token)
		s.Require().NoError(err)
		s.True(requiresPrincipal)
		s.Equal(appmodels.StatusAwaitingPrincipalConfirmation, updated.Status)
		s.NotNil(updated.ApplicantVerifiedAt)

		mails := s.dispatcher.ByKind(notification.KindPrincipalConfirmation)
		s.Require().Len(mails, 1)
		s.Equal("kessler@lakeside.example", mails[0].Recipient)
		s.Equal(app.ID, mails[0].ApplicationID)
		s.NotEmpty(mails[0].Token)
	})

	s.Run("applicant is principal: goes straight to the review queue", func() {
		_, tok, err := s.service.Submit(s.ctx, intakeApplicantIsPrincipal("p2@lakeside.example"))
		s.Require().NoError(err)

		beforePrincipal := len(s.dispatcher.ByKind(notification.KindPrincipalConfirmation))
		updated, requiresPrincipal, err := s.service.VerifyApplicant(s.ctx, tok.Token)
		s.Require().NoError(err)
		s.False(requiresPrincipal)
		s.Equal(appmodels.StatusPendingReview, updated.Status)
		s.Len(s.dispatcher.ByKind(notification.KindPrincipalConfirmation), beforePrincipal)
		s.Len(s.dispatcher.ByKind(notification.KindAdminQueue), 1)
	})

	s.Run("token is consumed with the status flip", func() {
		_, tok, err := s.service.Submit(s.ctx, intakeApplicantIsPrincipal("p3@lakeside.example"))
		s.Require().NoError(err)

		_, _, err = s.service.VerifyApplicant(s.ctx, tok.Token)
		s.Require().NoError(err)

		_, _, err = s.service.VerifyApplicant(s.ctx, tok.Token)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeTokenAlreadyUsed), "got %v", err)
	})

	s.Run("expired token", func() {
		_, tok, err := s.service.Submit(s.ctx, intakeApplicantIsPrincipal("p4@lakeside.example"))
		s.Require().NoError(err)

		late := s.at(s.now.Add(49 * time.Hour))
		_, _, err = s.service.VerifyApplicant(late, tok.Token)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeTokenExpired))
	})

	s.Run("unknown token", func() {
		_, _, err := s.service.VerifyApplicant(s.ctx, "never-issued")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeTokenNotFound))
	})
}

// TestConfirmPrincipal covers the second identity-confirmation step.
func (s *VerificationSuite) TestConfirmPrincipal() {
	submitAndVerify := func(email string) (uuid.UUID, string) {
		_, tok, err := s.service.Submit(s.ctx, intakeSeparatePrincipal(email))
		s.Require().NoError(err)
		app, _, err := s.service.VerifyApplicant(s.ctx, tok.Token)
		s.Require().NoError(err)
		mails := s.dispatcher.ByKind(notification.KindPrincipalConfirmation)
		return app.ID, mails[len(mails)-1].Token
	}

	s.Run("moves the application into the review queue", func() {
		id, principalToken := submitAndVerify("c1@lakeside.example")

		app, err := s.service.ConfirmPrincipal(s.ctx, principalToken)
		s.Require().NoError(err)
		s.Equal(appmodels.StatusPendingReview, app.Status)
		s.NotNil(app.PrincipalConfirmedAt)
		s.Equal(id, app.ID)
		s.Require().Len(s.dispatcher.ByKind(notification.KindAdminQueue), 1)
	})

	s.Run("applicant token cannot stand in for the principal token", func() {
		_, tok, err := s.service.Submit(s.ctx, intakeSeparatePrincipal("c2@lakeside.example"))
		s.Require().NoError(err)

		_, err = s.service.ConfirmPrincipal(s.ctx, tok.Token)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeTokenNotFound))
	})

	s.Run("second confirmation reads as already used", func() {
		_, principalToken := submitAndVerify("c3@lakeside.example")
		_, err := s.service.ConfirmPrincipal(s.ctx, principalToken)
		s.Require().NoError(err)

		_, err = s.service.ConfirmPrincipal(s.ctx, principalToken)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeTokenAlreadyUsed))
	})
}

// TestResendVerification covers re-issue on both pending steps plus the
// throttle and weak-auth rules.
func (s *VerificationSuite) TestResendVerification() {
	s.Run("re-issues the applicant token and invalidates the old link", func() {
		app, original, err := s.service.Submit(s.ctx, intakeSeparatePrincipal("r1@lakeside.example"))
		s.Require().NoError(err)

		reissued, err := s.service.ResendVerification(s.ctx, app.ID, "R1@lakeside.example")
		s.Require().NoError(err)
		s.NotEqual(original.Token, reissued.Token)

		_, _, err = s.service.VerifyApplicant(s.ctx, original.Token)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeTokenExpired), "superseded link reads as expired")

		_, _, err = s.service.VerifyApplicant(s.ctx, reissued.Token)
		s.Require().NoError(err)
	})

	s.Run("awaiting principal: resend goes to the principal", func() {
		app, tok, err := s.service.Submit(s.ctx, intakeSeparatePrincipal("r2@lakeside.example"))
		s.Require().NoError(err)
		_, _, err = s.service.VerifyApplicant(s.ctx, tok.Token)
		s.Require().NoError(err)

		before := len(s.dispatcher.ByKind(notification.KindPrincipalConfirmation))
		_, err = s.service.ResendVerification(s.ctx, app.ID, "r2@lakeside.example")
		s.Require().NoError(err)

		mails := s.dispatcher.ByKind(notification.KindPrincipalConfirmation)
		s.Require().Len(mails, before+1)
		s.Equal("kessler@lakeside.example", mails[before].Recipient)
		s.Equal(app.ID, mails[before].ApplicationID)
	})

	s.Run("email mismatch reads as not found", func() {
		app, _, err := s.service.Submit(s.ctx, intakeSeparatePrincipal("r3@lakeside.example"))
		s.Require().NoError(err)

		_, err = s.service.ResendVerification(s.ctx, app.ID, "stranger@elsewhere.example")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("no pending verification step", func() {
		app, tok, err := s.service.Submit(s.ctx, intakeApplicantIsPrincipal("r4@lakeside.example"))
		s.Require().NoError(err)
		_, _, err = s.service.VerifyApplicant(s.ctx, tok.Token)
		s.Require().NoError(err)

		_, err = s.service.ResendVerification(s.ctx, app.ID, "r4@lakeside.example")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotEligible))
	})

	s.Run("cooldown throttles repeat resends", func() {
		limited := NewService(s.apps, s.tokens, s.dispatcher,
			slog.New(slog.NewTextHandler(io.Discard, nil)),
			WithResendLimiter(denyingLimiter{}),
		)
		app, _, err := s.service.Submit(s.ctx, intakeSeparatePrincipal("r5@lakeside.example"))
		s.Require().NoError(err)

		_, err = limited.ResendVerification(s.ctx, app.ID, "r5@lakeside.example")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotEligible))
	})
}

type denyingLimiter struct{}

func (denyingLimiter) Allow(context.Context, uuid.UUID) error { return sentinel.ErrConflict }

// TestMarkInfoProvided covers the applicant's return path from
// more-info-requested.
func (s *VerificationSuite) TestMarkInfoProvided() {
	s.Run("returns the application to the review queue", func() {
		app, tok, err := s.service.Submit(s.ctx, intakeApplicantIsPrincipal("m1@lakeside.example"))
		s.Require().NoError(err)
		_, _, err = s.service.VerifyApplicant(s.ctx, tok.Token)
		s.Require().NoError(err)

		// Walk the aggregate into more_info_requested through the store.
		_, err = s.apps.Execute(s.ctx, app.ID, appstore.NoVersionCheck,
			func(context.Context, *appmodels.Application) error { return nil },
			func(a *appmodels.Application) { a.ApplyReviewStarted(s.now) },
		)
		s.Require().NoError(err)
		_, err = s.apps.Execute(s.ctx, app.ID, appstore.NoVersionCheck,
			func(context.Context, *appmodels.Application) error { return nil },
			func(a *appmodels.Application) { a.ApplyMoreInfoRequested(s.now) },
		)
		s.Require().NoError(err)

		updated, err := s.service.MarkInfoProvided(s.ctx, app.ID)
		s.Require().NoError(err)
		s.Equal(appmodels.StatusPendingReview, updated.Status)
	})

	s.Run("rejected outside more_info_requested", func() {
		app, _, err := s.service.Submit(s.ctx, intakeApplicantIsPrincipal("m2@lakeside.example"))
		s.Require().NoError(err)

		_, err = s.service.MarkInfoProvided(s.ctx, app.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})
}

// TestProjections covers the applicant status view and the principal summary.
func (s *VerificationSuite) TestProjections() {
	s.Run("status view tracks completed steps", func() {
		app, tok, err := s.service.Submit(s.ctx, intakeSeparatePrincipal("v1@lakeside.example"))
		s.Require().NoError(err)

		view, err := s.service.GetStatus(s.ctx, app.ID, "v1@lakeside.example")
		s.Require().NoError(err)
		s.Require().Len(view.Steps, 4)
		s.True(view.Steps[0].Completed)
		s.False(view.Steps[1].Completed)

		_, _, err = s.service.VerifyApplicant(s.ctx, tok.Token)
		s.Require().NoError(err)

		view, err = s.service.GetStatus(s.ctx, app.ID, "V1@lakeside.example")
		s.Require().NoError(err)
		s.True(view.Steps[1].Completed)
		s.False(view.Steps[2].Completed)
	})

	s.Run("applicant-is-principal view omits the principal step", func() {
		app, _, err := s.service.Submit(s.ctx, intakeApplicantIsPrincipal("v2@lakeside.example"))
		s.Require().NoError(err)

		view, err := s.service.GetStatus(s.ctx, app.ID, "v2@lakeside.example")
		s.Require().NoError(err)
		s.Len(view.Steps, 3)
	})

	s.Run("rejection reason reaches the applicant view verbatim", func() {
		const reason = "The submitted charter does not name an accredited governing body."
		app, tok, err := s.service.Submit(s.ctx, intakeApplicantIsPrincipal("v6@lakeside.example"))
		s.Require().NoError(err)
		_, _, err = s.service.VerifyApplicant(s.ctx, tok.Token)
		s.Require().NoError(err)
		for _, mutate := range []func(a *appmodels.Application){
			func(a *appmodels.Application) { a.ApplyReviewStarted(s.now) },
			func(a *appmodels.Application) { a.ApplyRejection("admin-1", reason, s.now) },
		} {
			_, err = s.apps.Execute(s.ctx, app.ID, appstore.NoVersionCheck,
				func(context.Context, *appmodels.Application) error { return nil },
				mutate,
			)
			s.Require().NoError(err)
		}

		view, err := s.service.GetStatus(s.ctx, app.ID, "v6@lakeside.example")
		s.Require().NoError(err)
		s.Equal(appmodels.StatusRejected, view.Status)
		s.Equal(reason, view.DecisionReason)
		s.True(view.Steps[len(view.Steps)-1].Completed, "review step reads as completed once decided")
	})

	s.Run("email mismatch reads as not found", func() {
		app, _, err := s.service.Submit(s.ctx, intakeSeparatePrincipal("v3@lakeside.example"))
		s.Require().NoError(err)

		_, err = s.service.GetStatus(s.ctx, app.ID, "guess@elsewhere.example")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("principal summary resolves without consuming the token", func() {
		_, tok, err := s.service.Submit(s.ctx, intakeSeparatePrincipal("v4@lakeside.example"))
		s.Require().NoError(err)
		_, _, err = s.service.VerifyApplicant(s.ctx, tok.Token)
		s.Require().NoError(err)
		mails := s.dispatcher.ByKind(notification.KindPrincipalConfirmation)
		principalToken := mails[len(mails)-1].Token

		summary, err := s.service.GetByPrincipalToken(s.ctx, principalToken)
		s.Require().NoError(err)
		s.Equal("Lakeside Gymnasium", summary.SchoolName)
		s.Equal("Petra Maier", summary.ApplicantName)

		// Still redeemable afterwards.
		_, err = s.service.ConfirmPrincipal(s.ctx, principalToken)
		s.Require().NoError(err)
	})

	s.Run("applicant token is not a principal view key", func() {
		_, tok, err := s.service.Submit(s.ctx, intakeSeparatePrincipal("v5@lakeside.example"))
		s.Require().NoError(err)

		_, err = s.service.GetByPrincipalToken(s.ctx, tok.Token)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeTokenNotFound))
	})
}
