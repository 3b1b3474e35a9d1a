// Package httpserver serves the client-facing store API.
package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/and161185/appstore/internal/auth"
	"github.com/and161185/appstore/internal/metrics"
)

// NewRouter mounts the client API.
//
//	GET       /hello                 platform handshake
//	GET       /app/list              catalog listing
//	GET       /app/description       entry description
//	GET       /app/icon              entry icon
//	GET|POST  /app/purchase          issue a download (login required)
//	GET       /app/download/{file}   fetch an issued download
//	GET       /category/list         categories in display order
//	GET       /category/icon         category icon
//	GET       /metrics               Prometheus metrics
func NewRouter(h *Handler, v *auth.Verifier, m *metrics.Metrics, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogging(log, m))
	r.Use(middleware.Recoverer)
	r.Use(Authenticate(v))

	r.Get("/hello", h.Hello)

	r.Route("/app", func(r chi.Router) {
		r.Get("/list", h.AppList)
		r.Get("/description", h.AppDescription)
		r.Get("/icon", h.AppIcon)
		r.Get("/download/{file}", h.AppDownload)

		r.Group(func(r chi.Router) {
			r.Use(RequireLogin)
			r.Get("/purchase", h.AppPurchase)
			r.Post("/purchase", h.AppPurchase)
		})
	})

	r.Route("/category", func(r chi.Router) {
		r.Get("/list", h.CategoryList)
		r.Get("/icon", h.CategoryIcon)
	})

	r.Method(http.MethodGet, "/metrics", m.Handler())
	return r
}
