// Package notification dispatches workflow emails. Request handlers never
// block on delivery: Dispatch enqueues and a background worker drains the
// queue through a Sender.
package notification

import (
	"context"

	"github.com/google/uuid"
)

// Kind names the message template being sent.
type Kind string

const (
	KindApplicantVerification Kind = "applicant_verification"
	KindPrincipalConfirmation Kind = "principal_confirmation"
	KindAdminQueue            Kind = "admin_queue"
	KindApproved              Kind = "approved"
	KindRejected              Kind = "rejected"
	KindMoreInfoRequested     Kind = "more_info_requested"
)

// Message is the delivery contract: what matters to the workflow is only
// "a message of this kind was sent to this recipient containing this token".
type Message struct {
	Kind          Kind
	ApplicationID uuid.UUID
	Recipient     string
	Token         string
	Detail        string
}

// Dispatcher accepts messages for asynchronous delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message)
}

// Sender performs the actual delivery. Implementations live at the edge
// (SMTP, provider API); the core only sees this contract.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
