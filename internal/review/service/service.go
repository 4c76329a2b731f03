// Package service drives the admin-facing review transitions.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	appmodels "schoolreg/internal/application/models"
	appstore "schoolreg/internal/application/store"
	"schoolreg/internal/notification"
	"schoolreg/internal/provisioning"
	rmetrics "schoolreg/internal/review/metrics"
	dErrors "schoolreg/pkg/domain-errors"
	"schoolreg/pkg/platform/sentinel"
	"schoolreg/pkg/requestcontext"
)

const defaultProvisionTimeout = 10 * time.Second

// errAlreadyUnderReview lets StartReview distinguish the idempotent no-op
// case inside the store lock.
var errAlreadyUnderReview = errors.New("already under review")

// Service orchestrates the admin review workflow. It is the second writer of
// application status; every status-mutating call runs through the store's
// Execute path with an optimistic version guard, so two admins racing on the
// same application cannot both succeed.
type Service struct {
	logger           *slog.Logger
	apps             appstore.Store
	provisioner      provisioning.Provisioner
	dispatcher       notification.Dispatcher
	metrics          *rmetrics.Metrics
	tracer           trace.Tracer
	provisionTimeout time.Duration
}

// Option configures the Service.
type Option func(*Service)

// WithMetrics sets the metrics collector.
func WithMetrics(m *rmetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithProvisionTimeout bounds the provisioning call inside approve.
func WithProvisionTimeout(d time.Duration) Option {
	return func(s *Service) { s.provisionTimeout = d }
}

// NewService builds the review service.
func NewService(apps appstore.Store, provisioner provisioning.Provisioner, dispatcher notification.Dispatcher, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		logger:           logger,
		apps:             apps,
		provisioner:      provisioner,
		dispatcher:       dispatcher,
		tracer:           otel.Tracer("schoolreg/review"),
		provisionTimeout: defaultProvisionTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartReview moves a pending application under review. Idempotent: calling
// it on an application already under review is a no-op success, so the admin
// detail page can auto-start review without racing other operators.
func (s *Service) StartReview(ctx context.Context, applicationID uuid.UUID, adminID string) (*appmodels.Application, error) {
	now := requestcontext.Now(ctx)

	event := appmodels.TimelineEvent{
		ID:            uuid.New(),
		ApplicationID: applicationID,
		Event:         appmodels.EventStartReview,
		Actor:         adminID,
		OccurredAt:    now,
	}
	app, err := s.apps.Execute(ctx, applicationID, appstore.NoVersionCheck,
		func(_ context.Context, a *appmodels.Application) error {
			if a.Status == appmodels.StatusUnderReview {
				return errAlreadyUnderReview
			}
			return a.CanApply(appmodels.EventStartReview)
		},
		func(a *appmodels.Application) {
			a.ApplyReviewStarted(now)
		},
		event,
	)
	if errors.Is(err, errAlreadyUnderReview) {
		return s.apps.FindByID(ctx, applicationID)
	}
	if err != nil {
		return nil, s.wrapErr(err)
	}
	return app, nil
}

// Approve finalizes the application, provisioning the tenant and admin
// account inside the same unit of work as the status flip. If provisioning
// fails or times out, the application stays under review and the provisioning
// error is surfaced verbatim; approval never partially applies.
func (s *Service) Approve(ctx context.Context, applicationID uuid.UUID, adminID string) (*appmodels.Application, *provisioning.Result, error) {
	now := requestcontext.Now(ctx)

	current, err := s.apps.FindByID(ctx, applicationID)
	if err != nil {
		return nil, nil, s.wrapErr(err)
	}

	var result *provisioning.Result
	event := appmodels.TimelineEvent{
		ID:            uuid.New(),
		ApplicationID: applicationID,
		Event:         appmodels.EventApprove,
		Actor:         adminID,
		OccurredAt:    now,
	}
	app, err := s.apps.Execute(ctx, applicationID, current.Version,
		func(txCtx context.Context, a *appmodels.Application) error {
			if err := a.CanApply(appmodels.EventApprove); err != nil {
				return err
			}
			r, err := s.provision(txCtx, a)
			if err != nil {
				return err
			}
			result = r
			return nil
		},
		func(a *appmodels.Application) {
			a.ApplyApproval(adminID, now)
		},
		event,
	)
	if err != nil {
		return nil, nil, s.wrapErr(err)
	}

	s.metrics.IncDecision("approved")
	s.dispatcher.Dispatch(ctx, notification.Message{
		Kind:          notification.KindApproved,
		ApplicationID: app.ID,
		Recipient:     app.ApplicantEmail,
	})
	return app, result, nil
}

// provision calls the collaborator with a bounded deadline and a trace span.
func (s *Service) provision(ctx context.Context, app *appmodels.Application) (*provisioning.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.provisionTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "provisioning.Provision")
	defer span.End()

	start := time.Now()
	result, err := s.provisioner.Provision(ctx, app)
	s.metrics.ObserveProvisioningDuration(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		s.metrics.IncProvisioningFailure()
		return nil, dErrors.Wrap(err, dErrors.CodeProvisioningFailed, err.Error())
	}
	return result, nil
}

// Reject finalizes the application as rejected, persisting the reason
// exactly as supplied.
func (s *Service) Reject(ctx context.Context, applicationID uuid.UUID, adminID, reason string) (*appmodels.Application, error) {
	if err := appmodels.ValidateRejectReason(reason); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	current, err := s.apps.FindByID(ctx, applicationID)
	if err != nil {
		return nil, s.wrapErr(err)
	}

	event := appmodels.TimelineEvent{
		ID:            uuid.New(),
		ApplicationID: applicationID,
		Event:         appmodels.EventReject,
		Detail:        reason,
		Actor:         adminID,
		OccurredAt:    now,
	}
	app, err := s.apps.Execute(ctx, applicationID, current.Version,
		func(_ context.Context, a *appmodels.Application) error {
			return a.CanApply(appmodels.EventReject)
		},
		func(a *appmodels.Application) {
			a.ApplyRejection(adminID, reason, now)
		},
		event,
	)
	if err != nil {
		return nil, s.wrapErr(err)
	}

	s.metrics.IncDecision("rejected")
	s.dispatcher.Dispatch(ctx, notification.Message{
		Kind:          notification.KindRejected,
		ApplicationID: app.ID,
		Recipient:     app.ApplicantEmail,
		Detail:        reason,
	})
	return app, nil
}

// RequestMoreInfo parks the application awaiting an applicant response and
// forwards the admin's message.
func (s *Service) RequestMoreInfo(ctx context.Context, applicationID uuid.UUID, adminID, message string) (*appmodels.Application, error) {
	if err := appmodels.ValidateInfoMessage(message); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	current, err := s.apps.FindByID(ctx, applicationID)
	if err != nil {
		return nil, s.wrapErr(err)
	}

	event := appmodels.TimelineEvent{
		ID:            uuid.New(),
		ApplicationID: applicationID,
		Event:         appmodels.EventRequestMoreInfo,
		Detail:        message,
		Actor:         adminID,
		OccurredAt:    now,
	}
	app, err := s.apps.Execute(ctx, applicationID, current.Version,
		func(_ context.Context, a *appmodels.Application) error {
			return a.CanApply(appmodels.EventRequestMoreInfo)
		},
		func(a *appmodels.Application) {
			a.ApplyMoreInfoRequested(now)
		},
		event,
	)
	if err != nil {
		return nil, s.wrapErr(err)
	}

	s.dispatcher.Dispatch(ctx, notification.Message{
		Kind:          notification.KindMoreInfoRequested,
		ApplicationID: app.ID,
		Recipient:     app.ApplicantEmail,
		Detail:        message,
	})
	return app, nil
}

// AddInternalNote appends an admin note. Allowed in any status, including
// terminal; notes never affect status and are never shown to the applicant.
func (s *Service) AddInternalNote(ctx context.Context, applicationID uuid.UUID, adminID, text string) (*appmodels.InternalNote, error) {
	if err := appmodels.ValidateNoteText(text); err != nil {
		return nil, err
	}
	note := appmodels.InternalNote{
		ID:            uuid.New(),
		ApplicationID: applicationID,
		AdminID:       adminID,
		Text:          text,
		CreatedAt:     requestcontext.Now(ctx),
	}
	if err := s.apps.AddNote(ctx, note); err != nil {
		return nil, s.wrapErr(err)
	}
	return &note, nil
}

// wrapErr translates store sentinel errors into coded domain errors;
// already-coded errors pass through.
func (s *Service) wrapErr(err error) error {
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
		s.metrics.IncConcurrencyLoss()
		return dErrors.New(dErrors.CodeConcurrentModification, "application was modified concurrently; refetch and retry")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "application store failure")
	}
}
