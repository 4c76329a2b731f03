// Package httptransport wires the HTTP surface: public registration routes,
// admin review routes, and operational endpoints.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	adminhandler "schoolreg/internal/admin/handler"
	apphandler "schoolreg/internal/application/handler"
	"schoolreg/internal/platform/middleware"
)

// NewRouter assembles the full router. Handlers register their own routes;
// this only owns the middleware chain and operational endpoints.
func NewRouter(public *apphandler.Handler, admin *adminhandler.Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Logger(logger))

	public.Register(r)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AdminContext)
		admin.Register(r)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}
