// Package handler exposes the admin review endpoints. Operator
// authentication runs upstream; this layer only lifts the operator identity
// from the trusted header and delegates to the review service.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	appmodels "schoolreg/internal/application/models"
	appstore "schoolreg/internal/application/store"
	"schoolreg/internal/provisioning"
	review "schoolreg/internal/review/service"
	"schoolreg/internal/transport/http/shared"
	dErrors "schoolreg/pkg/domain-errors"
	"schoolreg/pkg/requestcontext"
)

const defaultPageSize = 25

// Service is the review-service surface this handler needs.
type Service interface {
	List(ctx context.Context, filter appstore.ListFilter) ([]*appmodels.Application, int, error)
	GetDetail(ctx context.Context, applicationID uuid.UUID) (*review.Detail, error)
	StartReview(ctx context.Context, applicationID uuid.UUID, adminID string) (*appmodels.Application, error)
	Approve(ctx context.Context, applicationID uuid.UUID, adminID string) (*appmodels.Application, *provisioning.Result, error)
	Reject(ctx context.Context, applicationID uuid.UUID, adminID, reason string) (*appmodels.Application, error)
	RequestMoreInfo(ctx context.Context, applicationID uuid.UUID, adminID, message string) (*appmodels.Application, error)
	AddInternalNote(ctx context.Context, applicationID uuid.UUID, adminID, text string) (*appmodels.InternalNote, error)
}

// Handler handles the admin application endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
}

// New creates the admin Handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, service: service}
}

// Register mounts the admin routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/admin/applications", h.handleList)
	r.Get("/admin/applications/{id}", h.handleDetail)
	r.Post("/admin/applications/{id}/start-review", h.handleStartReview)
	r.Post("/admin/applications/{id}/approve", h.handleApprove)
	r.Post("/admin/applications/{id}/reject", h.handleReject)
	r.Post("/admin/applications/{id}/request-info", h.handleRequestInfo)
	r.Post("/admin/applications/{id}/notes", h.handleAddNote)
}

type listResponse struct {
	Applications []*appmodels.Application `json:"applications"`
	Total        int                      `json:"total"`
	Limit        int                      `json:"limit"`
	Offset       int                      `json:"offset"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := appstore.ListFilter{
		Search:  query.Get("search"),
		Status:  appmodels.Status(query.Get("status")),
		Country: query.Get("country"),
		Limit:   intParam(query.Get("limit"), defaultPageSize),
		Offset:  intParam(query.Get("offset"), 0),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		shared.WriteError(w, dErrors.Newf(dErrors.CodeValidation, "unknown status %q", filter.Status))
		return
	}

	apps, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if apps == nil {
		apps = []*appmodels.Application{}
	}
	shared.WriteJSON(w, http.StatusOK, listResponse{
		Applications: apps,
		Total:        total,
		Limit:        filter.Limit,
		Offset:       filter.Offset,
	})
}

func (h *Handler) handleDetail(w http.ResponseWriter, r *http.Request) {
	applicationID, ok := h.applicationID(w, r)
	if !ok {
		return
	}
	detail, err := h.service.GetDetail(r.Context(), applicationID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, detail)
}

func (h *Handler) handleStartReview(w http.ResponseWriter, r *http.Request) {
	applicationID, ok := h.applicationID(w, r)
	if !ok {
		return
	}
	app, err := h.service.StartReview(r.Context(), applicationID, h.adminID(r))
	if err != nil {
		h.logFailure(r, "start review failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, app)
}

type approveResponse struct {
	Application  *appmodels.Application `json:"application"`
	Provisioning *provisioning.Result   `json:"provisioning"`
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	applicationID, ok := h.applicationID(w, r)
	if !ok {
		return
	}
	app, result, err := h.service.Approve(r.Context(), applicationID, h.adminID(r))
	if err != nil {
		h.logFailure(r, "approve failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, approveResponse{Application: app, Provisioning: result})
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	applicationID, ok := h.applicationID(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}
	app, err := h.service.Reject(r.Context(), applicationID, h.adminID(r), req.Reason)
	if err != nil {
		h.logFailure(r, "reject failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, app)
}

type messageRequest struct {
	Message string `json:"message"`
}

func (h *Handler) handleRequestInfo(w http.ResponseWriter, r *http.Request) {
	applicationID, ok := h.applicationID(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}
	app, err := h.service.RequestMoreInfo(r.Context(), applicationID, h.adminID(r), req.Message)
	if err != nil {
		h.logFailure(r, "request more info failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, app)
}

type noteRequest struct {
	Text string `json:"text"`
}

func (h *Handler) handleAddNote(w http.ResponseWriter, r *http.Request) {
	applicationID, ok := h.applicationID(w, r)
	if !ok {
		return
	}
	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}
	note, err := h.service.AddInternalNote(r.Context(), applicationID, h.adminID(r), req.Text)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, note)
}

func (h *Handler) applicationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	applicationID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid application id"))
		return uuid.Nil, false
	}
	return applicationID, true
}

func (h *Handler) adminID(r *http.Request) string {
	if adminID := requestcontext.AdminID(r.Context()); adminID != "" {
		return adminID
	}
	return "unknown-operator"
}

func (h *Handler) logFailure(r *http.Request, msg string, err error) {
	h.logger.WarnContext(r.Context(), msg,
		"request_id", requestcontext.RequestID(r.Context()),
		"error", err.Error(),
	)
}

func intParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
