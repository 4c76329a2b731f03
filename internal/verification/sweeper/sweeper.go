// Package sweeper expires applications whose verification window has closed.
package sweeper

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	appmodels "schoolreg/internal/application/models"
	appstore "schoolreg/internal/application/store"
	"schoolreg/internal/token"
	vmetrics "schoolreg/internal/verification/metrics"
	"schoolreg/pkg/platform/sentinel"
	"schoolreg/pkg/requestcontext"
)

// DefaultSpec runs the sweep every five minutes.
const DefaultSpec = "@every 5m"

// Sweeper periodically moves awaiting applications whose outstanding token
// has expired into the terminal expired status.
type Sweeper struct {
	logger  *slog.Logger
	apps    appstore.Store
	tokens  token.Store
	metrics *vmetrics.Metrics
	engine  *cron.Cron
	spec    string
}

// Option configures the Sweeper.
type Option func(*Sweeper)

// WithSpec overrides the cron schedule.
func WithSpec(spec string) Option {
	return func(s *Sweeper) { s.spec = spec }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *vmetrics.Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

// New builds a sweeper; call Start to schedule it.
func New(apps appstore.Store, tokens token.Store, logger *slog.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		logger: logger,
		apps:   apps,
		tokens: tokens,
		engine: cron.New(),
		spec:   DefaultSpec,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules the sweep and runs the cron engine.
func (s *Sweeper) Start() error {
	_, err := s.engine.AddFunc(s.spec, func() {
		expired, err := s.Sweep(context.Background())
		if err != nil {
			s.logger.Error("expiry sweep failed", "error", err)
			return
		}
		if expired > 0 {
			s.logger.Info("expiry sweep complete", "expired", expired)
		}
	})
	if err != nil {
		return err
	}
	s.engine.Start()
	return nil
}

// Stop halts the cron engine and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.engine.Stop().Done()
}

// Sweep expires every awaiting application whose current token deadline has
// passed. Returns the number of applications expired. Races with concurrent
// verification resolve in verification's favor: the store lock makes the
// transition check authoritative, and a beaten sweep just skips the row.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := requestcontext.Now(ctx)

	awaiting, err := s.apps.ListAwaiting(ctx)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, app := range awaiting {
		purpose := token.PurposeApplicantVerify
		if app.Status == appmodels.StatusAwaitingPrincipalConfirmation {
			purpose = token.PurposePrincipalConfirm
		}

		tok, err := s.tokens.FindCurrent(ctx, app.ID, purpose)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				// No outstanding token to judge; leave the row alone.
				continue
			}
			return expired, err
		}
		if now.Before(tok.ExpiresAt) {
			continue
		}

		event := appmodels.TimelineEvent{
			ID:            uuid.New(),
			ApplicationID: app.ID,
			Event:         appmodels.EventExpire,
			Detail:        "verification window closed",
			OccurredAt:    now,
		}
		_, err = s.apps.Execute(ctx, app.ID, appstore.NoVersionCheck,
			func(_ context.Context, a *appmodels.Application) error {
				return a.CanApply(appmodels.EventExpire)
			},
			func(a *appmodels.Application) {
				a.ApplyExpiry(now)
			},
			event,
		)
		if err != nil {
			// A verification that landed between the list and the lock is
			// not a sweep failure.
			s.logger.Debug("skipping application during sweep",
				"application_id", app.ID, "error", err)
			continue
		}
		expired++
		s.metrics.IncExpired()
	}
	return expired, nil
}
