package models

import (
	"time"

	"github.com/google/uuid"

	dErrors "schoolreg/pkg/domain-errors"
)

// AdminChoiceKind tags who will administer the school's tenant: the applicant
// themselves, or a separate principal who must independently confirm.
type AdminChoiceKind string

const (
	AdminChoiceApplicant AdminChoiceKind = "applicant_is_principal"
	AdminChoicePrincipal AdminChoiceKind = "separate_principal"
)

// AdminChoice is the tagged union from the intake form. PrincipalName and
// PrincipalEmail are meaningful only when Kind is AdminChoicePrincipal.
type AdminChoice struct {
	Kind           AdminChoiceKind `json:"kind"`
	PrincipalName  string          `json:"principal_name,omitempty"`
	PrincipalEmail string          `json:"principal_email,omitempty"`
}

// ApplicantIsPrincipal reports whether the principal-confirmation step is
// satisfied by the applicant's own verification.
func (c AdminChoice) ApplicantIsPrincipal() bool {
	return c.Kind == AdminChoiceApplicant
}

// Intake is the immutable submission data of an application. It is validated
// once at submit time and never mutated afterwards.
type Intake struct {
	SchoolName        string      `json:"school_name"`
	YearEstablished   int         `json:"year_established"`
	SchoolType        string      `json:"school_type"`
	StudentPopulation int         `json:"student_population"`
	Country           string      `json:"country"`
	City              string      `json:"city"`
	Address           string      `json:"address"`
	ApplicantName     string      `json:"applicant_name"`
	ApplicantEmail    string      `json:"applicant_email"`
	AdminChoice       AdminChoice `json:"admin_choice"`
	OnlinePresence    []string    `json:"online_presence,omitempty"`
	Reasons           []string    `json:"reasons"`
	MissionStatement  string      `json:"mission_statement"`
}

// Application is the aggregate root for one school's registration request.
//
// Invariants:
//   - Status only changes along the Transition graph; stores reject any other
//     mutation path, including all mutation of terminal aggregates
//   - ApplicantVerifiedAt is set at most once, during verify_applicant
//   - PrincipalConfirmedAt is set at most once, during confirm_principal, and
//     only when the applicant is not the principal
//   - DecisionReason is non-empty iff Status is rejected
//   - Version increments on every status mutation; writers compare it
//     (optimistic concurrency) so racing admins cannot both succeed
//   - TimelineEvents and InternalNotes are append-only and never mutated
type Application struct {
	ID uuid.UUID `json:"id"`
	Intake

	Status               Status     `json:"status"`
	Version              int64      `json:"version"`
	ApplicantVerifiedAt  *time.Time `json:"applicant_verified_at,omitempty"`
	PrincipalConfirmedAt *time.Time `json:"principal_confirmed_at,omitempty"`
	ReviewedAt           *time.Time `json:"reviewed_at,omitempty"`
	ReviewedBy           string     `json:"reviewed_by,omitempty"`
	DecisionReason       string     `json:"decision_reason,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// TimelineEvent records one workflow occurrence. Immutable after creation,
// ordered by server-assigned OccurredAt.
type TimelineEvent struct {
	ID            uuid.UUID `json:"id"`
	ApplicationID uuid.UUID `json:"application_id"`
	Event         Event     `json:"event"`
	Detail        string    `json:"detail,omitempty"`
	Actor         string    `json:"actor,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// InternalNote is admin-authored commentary, never shown to the applicant.
type InternalNote struct {
	ID            uuid.UUID `json:"id"`
	ApplicationID uuid.UUID `json:"application_id"`
	AdminID       string    `json:"admin_id"`
	Text          string    `json:"text"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewApplication validates intake data and constructs a fresh aggregate in
// the awaiting-applicant-verification state.
func NewApplication(applicationID uuid.UUID, intake Intake, now time.Time) (*Application, error) {
	if err := intake.Validate(now); err != nil {
		return nil, err
	}
	return &Application{
		ID:        applicationID,
		Intake:    intake,
		Status:    StatusAwaitingApplicantVerification,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// CanApply checks whether the event is valid from the current status.
// Use with the Apply* methods inside store Execute callbacks so validation
// and mutation happen under the same lock.
func (a *Application) CanApply(event Event) error {
	if _, err := Transition(a.Status, event, a.ApplicantIsPrincipal()); err != nil {
		return err
	}
	return nil
}

// ApplicantIsPrincipal reports whether the applicant administers the tenant.
func (a *Application) ApplicantIsPrincipal() bool {
	return a.AdminChoice.ApplicantIsPrincipal()
}

// ApplyApplicantVerified records the applicant's email verification and moves
// the workflow forward. Call CanApply(EventVerifyApplicant) first.
func (a *Application) ApplyApplicantVerified(now time.Time) {
	next, _ := Transition(a.Status, EventVerifyApplicant, a.ApplicantIsPrincipal())
	a.Status = next
	a.ApplicantVerifiedAt = &now
	a.UpdatedAt = now
}

// ApplyPrincipalConfirmed records the principal's confirmation.
func (a *Application) ApplyPrincipalConfirmed(now time.Time) {
	a.Status = StatusPendingReview
	a.PrincipalConfirmedAt = &now
	a.UpdatedAt = now
}

// ApplyReviewStarted moves the application under review.
func (a *Application) ApplyReviewStarted(now time.Time) {
	a.Status = StatusUnderReview
	a.UpdatedAt = now
}

// ApplyApproval finalizes the application as approved. The caller must have
// provisioned the tenant inside the same unit of work.
func (a *Application) ApplyApproval(adminID string, now time.Time) {
	a.Status = StatusApproved
	a.ReviewedAt = &now
	a.ReviewedBy = adminID
	a.UpdatedAt = now
}

// ApplyRejection finalizes the application as rejected with the literal
// reason supplied by the reviewing admin.
func (a *Application) ApplyRejection(adminID, reason string, now time.Time) {
	a.Status = StatusRejected
	a.ReviewedAt = &now
	a.ReviewedBy = adminID
	a.DecisionReason = reason
	a.UpdatedAt = now
}

// ApplyMoreInfoRequested parks the application awaiting an applicant response.
func (a *Application) ApplyMoreInfoRequested(now time.Time) {
	a.Status = StatusMoreInfoRequested
	a.UpdatedAt = now
}

// ApplyInfoProvided returns the application to the review queue.
func (a *Application) ApplyInfoProvided(now time.Time) {
	a.Status = StatusPendingReview
	a.UpdatedAt = now
}

// ApplyExpiry marks an unverified application as expired (terminal).
func (a *Application) ApplyExpiry(now time.Time) {
	a.Status = StatusExpired
	a.UpdatedAt = now
}

const (
	minRejectReasonLen = 20
	minInfoMessageLen  = 10
	maxInfoMessageLen  = 1000
	minNoteLen         = 1
	maxNoteLen         = 2000
)

// ValidateRejectReason enforces the minimum length of a rejection reason.
func ValidateRejectReason(reason string) error {
	if len(reason) < minRejectReasonLen {
		return dErrors.Newf(dErrors.CodeValidation,
			"rejection reason must be at least %d characters", minRejectReasonLen)
	}
	return nil
}

// ValidateInfoMessage enforces the length bounds of a request-more-info message.
func ValidateInfoMessage(message string) error {
	if len(message) < minInfoMessageLen || len(message) > maxInfoMessageLen {
		return dErrors.Newf(dErrors.CodeValidation,
			"message must be between %d and %d characters", minInfoMessageLen, maxInfoMessageLen)
	}
	return nil
}

// ValidateNoteText enforces the length bounds of an internal note.
func ValidateNoteText(text string) error {
	if len(text) < minNoteLen || len(text) > maxNoteLen {
		return dErrors.Newf(dErrors.CodeValidation,
			"note must be between %d and %d characters", minNoteLen, maxNoteLen)
	}
	return nil
}
