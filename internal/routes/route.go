package routes

import (
	"net/http"

	"tilsynsapp/internal/app"
	"tilsynsapp/internal/auth"
	"tilsynsapp/internal/handlers"
	mdlwr "tilsynsapp/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func NewRouter(a *app.App, jwtMgr *auth.JWTManager) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.Cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authMW := mdlwr.NewAuthMiddleware(jwtMgr, a.Logr.Logger)

	authHandler := handlers.NewAuthHandler(a.Auth, a.Logr)
	rowsHandler := handlers.NewRowsHandler(a.Rows, a.Auth, a.Logr.Logger)
	rrHandler := handlers.NewRegelRytterenHandler(a.RegelRytteren, a.Auth, a.Logr.Logger)
	versionHandler := handlers.NewVersionHandler(a.Version)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte("ok"))
		if err != nil {
			return
		}
	})
	r.Method(http.MethodGet, "/metrics", a.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/version", versionHandler.Check)

		r.Group(func(r chi.Router) {
			r.Use(authMW.JWTAuth)

			r.Route("/auth", func(r chi.Router) {
				r.Get("/state", authHandler.State)
				r.Post("/request-link", authHandler.RequestLink)
				r.Post("/poll", authHandler.Poll)
				r.Post("/reset", authHandler.Reset)
			})

			r.Route("/rows", func(r chi.Router) {
				r.Get("/", rowsHandler.ListRows)
				r.Post("/refresh", rowsHandler.Refresh)
				r.Get("/{id}", rowsHandler.GetRow)
				r.Post("/{id}", rowsHandler.UpdateRow)
			})

			r.Route("/regelrytteren", func(r chi.Router) {
				r.Get("/", rrHandler.GetSettings)
				r.Post("/", rrHandler.Submit)
			})
		})
	})

	return r
}
