package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"schoolreg/internal/application/models"
	"schoolreg/pkg/platform/sentinel"
)

// InMemoryStore holds applications in memory for tests and development. The
// mutex stands in for row-level locking: Execute validates and mutates under
// it, so check-and-set is atomic exactly as with the SQL implementation.
type InMemoryStore struct {
	mu       sync.RWMutex
	apps     map[uuid.UUID]*models.Application
	timeline map[uuid.UUID][]models.TimelineEvent
	notes    map[uuid.UUID][]models.InternalNote
}

// NewInMemoryStore constructs an empty in-memory application store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		apps:     make(map[uuid.UUID]*models.Application),
		timeline: make(map[uuid.UUID][]models.TimelineEvent),
		notes:    make(map[uuid.UUID][]models.InternalNote),
	}
}

func (s *InMemoryStore) Create(_ context.Context, app *models.Application, submitted models.TimelineEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := models.NormalizedEmail(app.ApplicantEmail)
	for _, existing := range s.apps {
		if models.NormalizedEmail(existing.ApplicantEmail) == email && !existing.Status.IsTerminal() {
			return fmt.Errorf("in-flight application exists for %s: %w", email, sentinel.ErrConflict)
		}
	}

	s.apps[app.ID] = cloneApplication(app)
	s.timeline[app.ID] = append(s.timeline[app.ID], submitted)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id uuid.UUID) (*models.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[id]
	if !ok {
		return nil, fmt.Errorf("application %s: %w", id, sentinel.ErrNotFound)
	}
	return cloneApplication(app), nil
}

func (s *InMemoryStore) List(_ context.Context, filter ListFilter) ([]*models.Application, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Application
	for _, app := range s.apps {
		if !matchesFilter(app, filter) {
			continue
		}
		matched = append(matched, cloneApplication(app))
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= total {
			return nil, total, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func (s *InMemoryStore) ListAwaiting(_ context.Context) ([]*models.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var awaiting []*models.Application
	for _, app := range s.apps {
		if app.Status == models.StatusAwaitingApplicantVerification ||
			app.Status == models.StatusAwaitingPrincipalConfirmation {
			awaiting = append(awaiting, cloneApplication(app))
		}
	}
	return awaiting, nil
}

func (s *InMemoryStore) Execute(
	ctx context.Context,
	id uuid.UUID,
	expectedVersion int64,
	validate func(ctx context.Context, app *models.Application) error,
	mutate func(app *models.Application),
	events ...models.TimelineEvent,
) (*models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.apps[id]
	if !ok {
		return nil, fmt.Errorf("application %s: %w", id, sentinel.ErrNotFound)
	}
	// The version guard fires before the terminal guard: a caller holding a
	// stale version must learn its read is stale, even when the competing
	// write made the aggregate terminal.
	if expectedVersion != NoVersionCheck && app.Version != expectedVersion {
		return nil, fmt.Errorf("application %s is at version %d, caller expected %d: %w",
			id, app.Version, expectedVersion, sentinel.ErrConcurrentModification)
	}
	if app.Status.IsTerminal() {
		return nil, fmt.Errorf("application %s is %s: %w", id, app.Status, sentinel.ErrInvalidState)
	}

	// Validate against a copy so a failing validate leaves nothing behind.
	candidate := cloneApplication(app)
	if err := validate(ctx, candidate); err != nil {
		return nil, err
	}
	mutate(candidate)
	candidate.Version = app.Version + 1

	s.apps[id] = candidate
	s.timeline[id] = append(s.timeline[id], events...)
	return cloneApplication(candidate), nil
}

func (s *InMemoryStore) AddNote(_ context.Context, note models.InternalNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apps[note.ApplicationID]; !ok {
		return fmt.Errorf("application %s: %w", note.ApplicationID, sentinel.ErrNotFound)
	}
	s.notes[note.ApplicationID] = append(s.notes[note.ApplicationID], note)
	return nil
}

func (s *InMemoryStore) ListTimeline(_ context.Context, id uuid.UUID) ([]models.TimelineEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.apps[id]; !ok {
		return nil, fmt.Errorf("application %s: %w", id, sentinel.ErrNotFound)
	}
	events := make([]models.TimelineEvent, len(s.timeline[id]))
	copy(events, s.timeline[id])
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].OccurredAt.Before(events[j].OccurredAt)
	})
	return events, nil
}

func (s *InMemoryStore) ListNotes(_ context.Context, id uuid.UUID) ([]models.InternalNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.apps[id]; !ok {
		return nil, fmt.Errorf("application %s: %w", id, sentinel.ErrNotFound)
	}
	notes := make([]models.InternalNote, len(s.notes[id]))
	copy(notes, s.notes[id])
	return notes, nil
}

func matchesFilter(app *models.Application, filter ListFilter) bool {
	if filter.Status != "" && app.Status != filter.Status {
		return false
	}
	if filter.Country != "" && !strings.EqualFold(app.Country, filter.Country) {
		return false
	}
	if filter.Search != "" {
		needle := strings.ToLower(filter.Search)
		if !strings.Contains(strings.ToLower(app.SchoolName), needle) &&
			!strings.Contains(strings.ToLower(app.ApplicantEmail), needle) {
			return false
		}
	}
	return true
}

func cloneApplication(app *models.Application) *models.Application {
	clone := *app
	clone.OnlinePresence = append([]string(nil), app.OnlinePresence...)
	clone.Reasons = append([]string(nil), app.Reasons...)
	if app.ApplicantVerifiedAt != nil {
		t := *app.ApplicantVerifiedAt
		clone.ApplicantVerifiedAt = &t
	}
	if app.PrincipalConfirmedAt != nil {
		t := *app.PrincipalConfirmedAt
		clone.PrincipalConfirmedAt = &t
	}
	if app.ReviewedAt != nil {
		t := *app.ReviewedAt
		clone.ReviewedAt = &t
	}
	return &clone
}
