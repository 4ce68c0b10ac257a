package api

import (
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/go-chi/chi/v5"

	"github.com/daap14/huddle/internal/api/handler"
	"github.com/daap14/huddle/internal/api/middleware"
)

// RouterDeps holds all dependencies needed by the router.
type RouterDeps struct {
	Teams          handler.TeamService
	Auth           middleware.Authenticator
	Feed           handler.Subscriber
	Toucher        handler.Toucher
	DBPinger       handler.DBPinger
	StoreDriver    string
	Version        string
	AllowedOrigins []string
	OpenAPISpec    []byte
}

// NewRouter creates and configures a Chi router with all middleware and routes.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)
	r.Use(chimiddleware.Logger)

	healthHandler := handler.NewHealthHandler(deps.DBPinger, deps.StoreDriver, deps.Version)
	r.Get("/health", healthHandler.ServeHTTP)

	if len(deps.OpenAPISpec) > 0 {
		openapiHandler := handler.NewOpenAPIHandler(deps.OpenAPISpec)
		r.Get("/openapi.json", openapiHandler.ServeHTTP)
	}

	if deps.Teams != nil && deps.Auth != nil {
		teamHandler := handler.NewTeamHandler(deps.Teams)
		feedHandler := handler.NewFeedHandler(deps.Feed, deps.Toucher, deps.AllowedOrigins)

		r.Route("/teams", func(r chi.Router) {
			r.Post("/", teamHandler.Create)
			r.Post("/join", teamHandler.Join)
			r.Get("/{id}", teamHandler.GetByID)
			r.Get("/{id}/members", teamHandler.ListMembers)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Auth(deps.Auth))
				r.Use(middleware.RequireTeamMember("id"))
				r.Post("/{id}/start", teamHandler.Start)
				r.Post("/{id}/finish", teamHandler.Finish)
				r.Get("/{id}/feed", feedHandler.ServeHTTP)
			})
		})
	}

	return r
}
