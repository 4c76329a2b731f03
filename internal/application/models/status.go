package models

import (
	dErrors "schoolreg/pkg/domain-errors"
)

// Status is the workflow state of a school application.
type Status string

const (
	StatusAwaitingApplicantVerification Status = "awaiting_applicant_verification"
	StatusAwaitingPrincipalConfirmation Status = "awaiting_principal_confirmation"
	StatusPendingReview                 Status = "pending_review"
	StatusUnderReview                   Status = "under_review"
	StatusMoreInfoRequested             Status = "more_info_requested"
	StatusApproved                      Status = "approved"
	StatusRejected                      Status = "rejected"
	StatusExpired                       Status = "expired"
)

// Event names a workflow transition. Every applied event is recorded as a
// TimelineEvent of the same name.
type Event string

const (
	EventSubmitted        Event = "submitted"
	EventVerifyApplicant  Event = "verify_applicant"
	EventConfirmPrincipal Event = "confirm_principal"
	EventStartReview      Event = "start_review"
	EventApprove          Event = "approve"
	EventReject           Event = "reject"
	EventRequestMoreInfo  Event = "request_more_info"
	EventInfoProvided     Event = "info_provided"
	EventExpire           Event = "expire"
)

// IsTerminal reports whether the status accepts no further events.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusAwaitingApplicantVerification, StatusAwaitingPrincipalConfirmation,
		StatusPendingReview, StatusUnderReview, StatusMoreInfoRequested,
		StatusApproved, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// transitions is the full workflow graph. verify_applicant is the one event
// whose target depends on aggregate data (whether the applicant is the
// principal), so Transition takes that flag explicitly and the map stores the
// long path; Transition shortcuts to pending_review when the flag is set.
var transitions = map[Status]map[Event]Status{
	StatusAwaitingApplicantVerification: {
		EventVerifyApplicant: StatusAwaitingPrincipalConfirmation,
		EventExpire:          StatusExpired,
	},
	StatusAwaitingPrincipalConfirmation: {
		EventConfirmPrincipal: StatusPendingReview,
		EventExpire:           StatusExpired,
	},
	StatusPendingReview: {
		EventStartReview: StatusUnderReview,
	},
	StatusUnderReview: {
		EventApprove:         StatusApproved,
		EventReject:          StatusRejected,
		EventRequestMoreInfo: StatusMoreInfoRequested,
	},
	StatusMoreInfoRequested: {
		EventInfoProvided: StatusPendingReview,
	},
}

// Transition is the pure state-machine function: given the current status and
// an event, it returns the next status or an invalid-transition error naming
// both. It is independent of transport and storage so the graph can be tested
// on its own.
func Transition(current Status, event Event, applicantIsPrincipal bool) (Status, error) {
	next, ok := transitions[current][event]
	if !ok {
		return "", dErrors.Newf(dErrors.CodeInvalidTransition,
			"cannot %s an application in status %s", event, current)
	}
	if event == EventVerifyApplicant && applicantIsPrincipal {
		// The applicant's own verification satisfies the principal step.
		return StatusPendingReview, nil
	}
	return next, nil
}

// CanTransition reports whether the event is applicable from current.
func CanTransition(current Status, event Event) bool {
	_, ok := transitions[current][event]
	return ok
}
