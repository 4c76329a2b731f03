package service

import (
	"context"

	"github.com/google/uuid"

	appmodels "schoolreg/internal/application/models"
	appstore "schoolreg/internal/application/store"
)

// Detail is the admin view of one application: the aggregate plus its
// ordered timeline and internal notes.
type Detail struct {
	Application *appmodels.Application    `json:"application"`
	Timeline    []appmodels.TimelineEvent `json:"timeline"`
	Notes       []appmodels.InternalNote  `json:"notes"`
}

// List returns a filtered, paginated page of applications plus the total
// match count, newest submissions first.
func (s *Service) List(ctx context.Context, filter appstore.ListFilter) ([]*appmodels.Application, int, error) {
	apps, total, err := s.apps.List(ctx, filter)
	if err != nil {
		return nil, 0, s.wrapErr(err)
	}
	return apps, total, nil
}

// GetDetail loads the full admin view of one application.
func (s *Service) GetDetail(ctx context.Context, applicationID uuid.UUID) (*Detail, error) {
	app, err := s.apps.FindByID(ctx, applicationID)
	if err != nil {
		return nil, s.wrapErr(err)
	}
	timeline, err := s.apps.ListTimeline(ctx, applicationID)
	if err != nil {
		return nil, s.wrapErr(err)
	}
	notes, err := s.apps.ListNotes(ctx, applicationID)
	if err != nil {
		return nil, s.wrapErr(err)
	}
	return &Detail{Application: app, Timeline: timeline, Notes: notes}, nil
}
