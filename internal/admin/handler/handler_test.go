package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	appmodels "schoolreg/internal/application/models"
	appstore "schoolreg/internal/application/store"
	"schoolreg/internal/notification"
	"schoolreg/internal/platform/middleware"
	"schoolreg/internal/provisioning"
	review "schoolreg/internal/review/service"
	"schoolreg/pkg/testutil"
)

const rejectReason = "The uploaded charter does not name the applicant as a school officer."

type AdminHandlerSuite struct {
	suite.Suite
	router      chi.Router
	apps        *appstore.InMemoryStore
	provisioner *provisioning.InMemoryProvisioner
	now         time.Time
}

func (s *AdminHandlerSuite) SetupTest() {
	s.apps = appstore.NewInMemoryStore()
	s.provisioner = provisioning.NewInMemoryProvisioner()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := review.NewService(s.apps, s.provisioner, notification.NewRecordingDispatcher(), logger)
	s.now = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	s.router = chi.NewRouter()
	s.router.Use(middleware.AdminContext)
	New(service, logger).Register(s.router)
}

func TestAdminHandlerSuite(t *testing.T) {
	suite.Run(t, new(AdminHandlerSuite))
}

// seed inserts an application in the given status directly through the store.
func (s *AdminHandlerSuite) seed(email string, status appmodels.Status) uuid.UUID {
	ctx := context.Background()
	app, err := appmodels.NewApplication(uuid.New(), appmodels.Intake{
		SchoolName:        "Fernwood Institute",
		YearEstablished:   2010,
		SchoolType:        "vocational",
		StudentPopulation: 300,
		Country:           "AU",
		ApplicantName:     "Ruth Calder",
		ApplicantEmail:    email,
		AdminChoice:       appmodels.AdminChoice{Kind: appmodels.AdminChoiceApplicant},
		Reasons:           []string{"apprenticeship tracking"},
		MissionStatement:  "Trade skills taught with pride and precision.",
	}, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.apps.Create(ctx, app, appmodels.TimelineEvent{
		ID: uuid.New(), ApplicationID: app.ID, Event: appmodels.EventSubmitted, OccurredAt: s.now,
	}))

	walk := map[appmodels.Status][]func(a *appmodels.Application){
		appmodels.StatusPendingReview: {
			func(a *appmodels.Application) { a.ApplyApplicantVerified(s.now) },
		},
		appmodels.StatusUnderReview: {
			func(a *appmodels.Application) { a.ApplyApplicantVerified(s.now) },
			func(a *appmodels.Application) { a.ApplyReviewStarted(s.now) },
		},
	}
	for _, mutate := range walk[status] {
		_, err := s.apps.Execute(ctx, app.ID, appstore.NoVersionCheck,
			func(context.Context, *appmodels.Application) error { return nil },
			mutate,
		)
		s.Require().NoError(err)
	}
	return app.ID
}

func (s *AdminHandlerSuite) do(req *http.Request) *http.Request {
	req.Header.Set("X-Admin-ID", "admin-42")
	return req
}

// TestList covers the queue listing with filters and paging.
func (s *AdminHandlerSuite) TestList() {
	s.seed("one@fernwood.example", appmodels.StatusPendingReview)
	s.seed("two@fernwood.example", appmodels.StatusUnderReview)

	s.Run("returns all applications with the total", func() {
		rr := testutil.DoRequest(s.router, s.do(testutil.NewRequest(s.T(), http.MethodGet, "/admin/applications")))
		s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())

		resp := testutil.UnmarshalResponse[listResponse](s.T(), rr)
		s.Equal(2, resp.Total)
		s.Len(resp.Applications, 2)
	})

	s.Run("status filter narrows the page", func() {
		rr := testutil.DoRequest(s.router, s.do(testutil.NewRequest(s.T(), http.MethodGet, "/admin/applications?status=under_review")))
		s.Require().Equal(http.StatusOK, rr.Code)

		resp := testutil.UnmarshalResponse[listResponse](s.T(), rr)
		s.Equal(1, resp.Total)
		s.Require().Len(resp.Applications, 1)
		s.Equal("two@fernwood.example", resp.Applications[0].ApplicantEmail)
	})

	s.Run("unknown status value returns 400", func() {
		rr := testutil.DoRequest(s.router, s.do(testutil.NewRequest(s.T(), http.MethodGet, "/admin/applications?status=in_limbo")))
		s.Equal(http.StatusBadRequest, rr.Code)
	})

	s.Run("search matches the school name", func() {
		rr := testutil.DoRequest(s.router, s.do(testutil.NewRequest(s.T(), http.MethodGet, "/admin/applications?search=fernwood")))
		s.Require().Equal(http.StatusOK, rr.Code)
		s.Equal(2, testutil.UnmarshalResponse[listResponse](s.T(), rr).Total)
	})
}

// TestDetail covers the single-application admin view.
func (s *AdminHandlerSuite) TestDetail() {
	s.Run("includes timeline and notes", func() {
		id := s.seed("detail@fernwood.example", appmodels.StatusPendingReview)

		rr := testutil.DoRequest(s.router, s.do(testutil.NewRequest(s.T(), http.MethodGet, "/admin/applications/"+id.String())))
		s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())

		detail := testutil.UnmarshalResponse[review.Detail](s.T(), rr)
		s.Equal(id, detail.Application.ID)
		s.NotEmpty(detail.Timeline)
	})

	s.Run("unknown id returns 404", func() {
		rr := testutil.DoRequest(s.router, s.do(testutil.NewRequest(s.T(), http.MethodGet, "/admin/applications/"+uuid.NewString())))
		s.Equal(http.StatusNotFound, rr.Code)
	})

	s.Run("malformed id returns 400", func() {
		rr := testutil.DoRequest(s.router, s.do(testutil.NewRequest(s.T(), http.MethodGet, "/admin/applications/abc")))
		s.Equal(http.StatusBadRequest, rr.Code)
	})
}

// TestDecisions covers start-review, approve, and reject.
func (s *AdminHandlerSuite) TestDecisions() {
	s.Run("start-review then approve provisions a tenant", func() {
		id := s.seed("approve@fernwood.example", appmodels.StatusPendingReview)

		rr := testutil.DoRequest(s.router, s.do(testutil.NewRequest(s.T(), http.MethodPost, "/admin/applications/"+id.String()+"/start-review")))
		s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())

		rr = testutil.DoRequest(s.router, s.do(testutil.NewRequest(s.T(), http.MethodPost, "/admin/applications/"+id.String()+"/approve")))
		s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())

		resp := testutil.UnmarshalResponse[approveResponse](s.T(), rr)
		s.Equal(appmodels.StatusApproved, resp.Application.Status)
		s.Equal("admin-42", resp.Application.ReviewedBy, "operator identity lifted from the trusted header")
		s.Require().NotNil(resp.Provisioning)
		s.NotEqual(uuid.Nil, resp.Provisioning.TenantID)
		s.Equal(1, s.provisioner.TenantCount())
	})

	s.Run("approve before review starts returns 409", func() {
		id := s.seed("early@fernwood.example", appmodels.StatusPendingReview)

		rr := testutil.DoRequest(s.router, s.do(testutil.NewRequest(s.T(), http.MethodPost, "/admin/applications/"+id.String()+"/approve")))
		s.Equal(http.StatusConflict, rr.Code)
		s.Equal("invalid_transition", testutil.UnmarshalErrorResponse(s.T(), rr)["error"])
	})

	s.Run("provisioning failure surfaces as 502 and keeps the row reviewable", func() {
		id := s.seed("fail@fernwood.example", appmodels.StatusUnderReview)
		s.provisioner.FailWith(context.DeadlineExceeded)
		defer s.provisioner.FailWith(nil)

		rr := testutil.DoRequest(s.router, s.do(testutil.NewRequest(s.T(), http.MethodPost, "/admin/applications/"+id.String()+"/approve")))
		s.Equal(http.StatusBadGateway, rr.Code)
		s.Equal("provisioning_failed", testutil.UnmarshalErrorResponse(s.T(), rr)["error"])
	})

	s.Run("reject requires a substantive reason", func() {
		id := s.seed("reject@fernwood.example", appmodels.StatusUnderReview)

		rr := testutil.DoRequest(s.router, s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/admin/applications/"+id.String()+"/reject", map[string]string{"reason": "no"})))
		s.Equal(http.StatusBadRequest, rr.Code)

		rr = testutil.DoRequest(s.router, s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/admin/applications/"+id.String()+"/reject", map[string]string{"reason": rejectReason})))
		s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())

		app := testutil.UnmarshalResponse[appmodels.Application](s.T(), rr)
		s.Equal(appmodels.StatusRejected, app.Status)
		s.Equal(rejectReason, app.DecisionReason)
	})
}

// TestMoreInfoAndNotes covers request-info and the notes endpoint.
func (s *AdminHandlerSuite) TestMoreInfoAndNotes() {
	s.Run("request-info parks the application", func() {
		id := s.seed("info@fernwood.example", appmodels.StatusUnderReview)

		rr := testutil.DoRequest(s.router, s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/admin/applications/"+id.String()+"/request-info",
			map[string]string{"message": "Please supply your state registration number."})))
		s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())

		app := testutil.UnmarshalResponse[appmodels.Application](s.T(), rr)
		s.Equal(appmodels.StatusMoreInfoRequested, app.Status)
	})

	s.Run("notes return 201 and attach to the application", func() {
		id := s.seed("note@fernwood.example", appmodels.StatusPendingReview)

		rr := testutil.DoRequest(s.router, s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/admin/applications/"+id.String()+"/notes",
			map[string]string{"text": "Verified ABN against the business registry."})))
		s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())

		note := testutil.UnmarshalResponse[appmodels.InternalNote](s.T(), rr)
		s.Equal("admin-42", note.AdminID)

		detail := testutil.UnmarshalResponse[review.Detail](s.T(),
			testutil.DoRequest(s.router, s.do(testutil.NewRequest(s.T(), http.MethodGet, "/admin/applications/"+id.String()))))
		s.Require().Len(detail.Notes, 1)
	})

	s.Run("empty note text returns 400", func() {
		id := s.seed("emptynote@fernwood.example", appmodels.StatusPendingReview)

		rr := testutil.DoRequest(s.router, s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/admin/applications/"+id.String()+"/notes",
			map[string]string{"text": ""})))
		s.Equal(http.StatusBadRequest, rr.Code)
	})
}
