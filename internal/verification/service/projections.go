package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	appmodels "schoolreg/internal/application/models"
	"schoolreg/internal/token"
	dErrors "schoolreg/pkg/domain-errors"
	"schoolreg/pkg/requestcontext"
)

// Step is one entry of the applicant-facing progress view.
type Step struct {
	Name        string     `json:"name"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StatusProjection is the applicant-facing view of an application's progress.
type StatusProjection struct {
	ID             uuid.UUID        `json:"id"`
	Status         appmodels.Status `json:"status"`
	Steps          []Step           `json:"steps"`
	DecisionReason string           `json:"decision_reason,omitempty"`
}

// PrincipalSummary is the read-only view shown to the principal before they
// confirm; keyed by their confirmation token, never by application id.
type PrincipalSummary struct {
	ID            uuid.UUID             `json:"id"`
	SchoolName    string                `json:"school_name"`
	ApplicantName string                `json:"applicant_name"`
	AdminChoice   appmodels.AdminChoice `json:"admin_choice"`
	ExpiresAt     time.Time             `json:"expires_at"`
}

// GetStatus returns the progress projection. The caller must supply the
// original applicant email; a mismatch reads as not-found so the endpoint
// cannot be used to probe for applications.
func (s *Service) GetStatus(ctx context.Context, applicationID uuid.UUID, email string) (*StatusProjection, error) {
	app, err := s.apps.FindByID(ctx, applicationID)
	if err != nil {
		return nil, translateAppErr(err)
	}
	if appmodels.NormalizedEmail(app.ApplicantEmail) != appmodels.NormalizedEmail(email) {
		return nil, dErrors.New(dErrors.CodeNotFound, "application not found")
	}

	steps := []Step{
		{Name: "submitted", Completed: true, CompletedAt: &app.CreatedAt},
		{Name: "applicant_verification", Completed: app.ApplicantVerifiedAt != nil, CompletedAt: app.ApplicantVerifiedAt},
	}
	if !app.ApplicantIsPrincipal() {
		steps = append(steps, Step{
			Name:        "principal_confirmation",
			Completed:   app.PrincipalConfirmedAt != nil,
			CompletedAt: app.PrincipalConfirmedAt,
		})
	}
	decided := app.Status == appmodels.StatusApproved || app.Status == appmodels.StatusRejected
	steps = append(steps, Step{Name: "review", Completed: decided, CompletedAt: app.ReviewedAt})

	return &StatusProjection{
		ID:             app.ID,
		Status:         app.Status,
		Steps:          steps,
		DecisionReason: app.DecisionReason,
	}, nil
}

// GetByPrincipalToken resolves a principal-confirm token to the summary the
// principal reviews before confirming. The token is not consumed.
func (s *Service) GetByPrincipalToken(ctx context.Context, tokenStr string) (*PrincipalSummary, error) {
	now := requestcontext.Now(ctx)

	tok, err := s.tokens.FindByToken(ctx, tokenStr)
	if err != nil {
		return nil, translateTokenErr(err)
	}
	if err := tok.ValidateForRedeem(token.PurposePrincipalConfirm, now); err != nil {
		return nil, translateTokenErr(err)
	}

	app, err := s.apps.FindByID(ctx, tok.ApplicationID)
	if err != nil {
		return nil, translateAppErr(err)
	}
	return &PrincipalSummary{
		ID:            app.ID,
		SchoolName:    app.SchoolName,
		ApplicantName: app.ApplicantName,
		AdminChoice:   app.AdminChoice,
		ExpiresAt:     tok.ExpiresAt,
	}, nil
}
