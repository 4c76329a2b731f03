// Package store persists Application aggregates and their append-only
// sub-entities.
//
// Error contract (all implementations):
//   - sentinel.ErrNotFound when the aggregate does not exist
//   - sentinel.ErrConflict when Create finds an in-flight application for the
//     same applicant email
//   - sentinel.ErrConcurrentModification when the caller's expected version
//     lost an optimistic-concurrency race; this takes precedence over
//     ErrInvalidState, so a stale reader is told to refetch even when the
//     winning write made the aggregate terminal
//   - sentinel.ErrInvalidState when a status mutation is attempted on a
//     terminal aggregate (enforced here, not only at the API layer)
//   - wrapped infrastructure errors for everything else
package store

import (
	"context"

	"github.com/google/uuid"

	"schoolreg/internal/application/models"
)

// ListFilter narrows and pages the admin application list. Zero values mean
// "no filter"; results are always ordered by submission time, newest first.
type ListFilter struct {
	Search  string
	Status  models.Status
	Country string
	Limit   int
	Offset  int
}

// NoVersionCheck disables the optimistic version guard for callers that
// validate entirely inside the Execute lock (token-driven transitions, the
// expiry sweep).
const NoVersionCheck int64 = 0

// Store is the Application repository.
//
// Execute is the single status-mutation path: it locks the aggregate, applies
// the optimistic version check, runs validate and mutate under the lock,
// increments the version, and appends the supplied timeline events in the same
// unit of work. Status never changes outside Execute, which is what makes the
// transition graph enforceable.
type Store interface {
	// Create persists a new aggregate unless an in-flight application
	// (any non-terminal status) already exists for the same applicant email.
	Create(ctx context.Context, app *models.Application, submitted models.TimelineEvent) error

	FindByID(ctx context.Context, id uuid.UUID) (*models.Application, error)

	// List returns a filtered page plus the total match count.
	List(ctx context.Context, filter ListFilter) ([]*models.Application, int, error)

	// ListAwaiting returns applications still in either awaiting status,
	// for the expiry sweep.
	ListAwaiting(ctx context.Context) ([]*models.Application, error)

	// validate receives a context carrying the surrounding transaction (when
	// the implementation has one) so collaborating stores join the same unit
	// of work.
	Execute(
		ctx context.Context,
		id uuid.UUID,
		expectedVersion int64,
		validate func(ctx context.Context, app *models.Application) error,
		mutate func(app *models.Application),
		events ...models.TimelineEvent,
	) (*models.Application, error)

	AddNote(ctx context.Context, note models.InternalNote) error

	ListTimeline(ctx context.Context, id uuid.UUID) ([]models.TimelineEvent, error)
	ListNotes(ctx context.Context, id uuid.UUID) ([]models.InternalNote, error)
}
