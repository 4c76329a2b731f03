// Package handler exposes the applicant-facing registration endpoints. It is
// a thin layer: decode, delegate to the verification service, encode.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	appmodels "schoolreg/internal/application/models"
	"schoolreg/internal/token"
	verification "schoolreg/internal/verification/service"
	"schoolreg/internal/transport/http/shared"
	dErrors "schoolreg/pkg/domain-errors"
	"schoolreg/pkg/requestcontext"
)

// Service is the verification-service surface this handler needs.
type Service interface {
	Submit(ctx context.Context, intake appmodels.Intake) (*appmodels.Application, *token.VerificationToken, error)
	VerifyApplicant(ctx context.Context, tokenStr string) (*appmodels.Application, bool, error)
	ConfirmPrincipal(ctx context.Context, tokenStr string) (*appmodels.Application, error)
	ResendVerification(ctx context.Context, applicationID uuid.UUID, email string) (*token.VerificationToken, error)
	GetStatus(ctx context.Context, applicationID uuid.UUID, email string) (*verification.StatusProjection, error)
	GetByPrincipalToken(ctx context.Context, tokenStr string) (*verification.PrincipalSummary, error)
}

// Handler handles the public registration endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
}

// New creates the public Handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, service: service}
}

// Register mounts the public routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/school-applications", h.handleSubmit)
	r.Post("/school-applications/verify-applicant", h.handleVerifyApplicant)
	r.Post("/school-applications/resend-verification", h.handleResendVerification)
	r.Get("/school-applications/principal-view", h.handlePrincipalView)
	r.Post("/school-applications/confirm-principal", h.handleConfirmPrincipal)
	r.Get("/school-applications/{id}/status", h.handleStatus)
}

type submitResponse struct {
	ID                    uuid.UUID        `json:"id"`
	Status                appmodels.Status `json:"status"`
	ApplicantEmail        string           `json:"applicant_email"`
	VerificationExpiresAt time.Time        `json:"verification_expires_at"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var intake appmodels.Intake
	if err := json.NewDecoder(r.Body).Decode(&intake); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}

	app, tok, err := h.service.Submit(r.Context(), intake)
	if err != nil {
		h.logFailure(r, "submit failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, submitResponse{
		ID:                    app.ID,
		Status:                app.Status,
		ApplicantEmail:        app.ApplicantEmail,
		VerificationExpiresAt: tok.ExpiresAt,
	})
}

type tokenRequest struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	ID                            uuid.UUID        `json:"id"`
	Status                        appmodels.Status `json:"status"`
	RequiresPrincipalConfirmation bool             `json:"requires_principal_confirmation"`
}

func (h *Handler) handleVerifyApplicant(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "token is required"))
		return
	}

	app, requiresPrincipal, err := h.service.VerifyApplicant(r.Context(), req.Token)
	if err != nil {
		h.logFailure(r, "applicant verification failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, verifyResponse{
		ID:                            app.ID,
		Status:                        app.Status,
		RequiresPrincipalConfirmation: requiresPrincipal,
	})
}

func (h *Handler) handleConfirmPrincipal(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "token is required"))
		return
	}

	app, err := h.service.ConfirmPrincipal(r.Context(), req.Token)
	if err != nil {
		h.logFailure(r, "principal confirmation failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"id":      app.ID,
		"status":  app.Status,
		"message": "confirmation recorded; the application is now awaiting review",
	})
}

type resendRequest struct {
	ApplicationID uuid.UUID `json:"application_id"`
	Email         string    `json:"email"`
}

func (h *Handler) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ApplicationID == uuid.Nil || req.Email == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "application_id and email are required"))
		return
	}

	tok, err := h.service.ResendVerification(r.Context(), req.ApplicationID, req.Email)
	if err != nil {
		h.logFailure(r, "resend verification failed", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"message":    "verification email sent",
		"expires_at": tok.ExpiresAt,
	})
}

func (h *Handler) handlePrincipalView(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "token is required"))
		return
	}

	summary, err := h.service.GetByPrincipalToken(r.Context(), tokenStr)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	applicationID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid application id"))
		return
	}
	email := r.URL.Query().Get("email")
	if email == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "email is required"))
		return
	}

	projection, err := h.service.GetStatus(r.Context(), applicationID, email)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, projection)
}

func (h *Handler) logFailure(r *http.Request, msg string, err error) {
	h.logger.WarnContext(r.Context(), msg,
		"request_id", requestcontext.RequestID(r.Context()),
		"error", err.Error(),
	)
}
