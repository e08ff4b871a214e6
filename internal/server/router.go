package server

import (
	"net/http"
	"time"

	"coursemarket/internal/apperr"
	"coursemarket/internal/catalog"
	"coursemarket/internal/enrollment"
	"coursemarket/internal/httpx"
	"coursemarket/internal/membership"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// BasePath prefixes every API route.
const BasePath = "/school-api"

var errRouteNotFound = apperr.NotFound("route_not_found", "not found")

// Handlers are the per-domain HTTP handlers mounted by NewRouter.
type Handlers struct {
	Catalog     *catalog.Handler
	Enrollments *enrollment.Handler
	Members     *membership.Handler
	Tokens      *membership.TokenManager
}

// NewRouter mounts public, authenticated and admin routes under BasePath.
func NewRouter(h Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Error(w, r, errRouteNotFound)
	})

	r.Route(BasePath, func(r chi.Router) {
		h.Members.Routes(r)
		h.Enrollments.PublicRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(membership.Authenticate(h.Tokens))
			h.Catalog.Routes(r)
			h.Enrollments.Routes(r)

			r.Route("/admin", func(r chi.Router) {
				r.Use(membership.RequireAdmin)
				h.Catalog.AdminRoutes(r)
				h.Enrollments.AdminRoutes(r)
			})
		})
	})
	return r
}
