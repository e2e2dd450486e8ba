package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"atelier/internal/http/handlers"
	"atelier/internal/middleware"
)

// Options carries the router's collaborators beyond the handler set.
type Options struct {
	CORSOrigins []string
	// StaticRoot is the directory produced assets are served from under
	// /static/.
	StaticRoot string
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS(opts.CORSOrigins),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", app.CreateSession)
		r.Get("/", app.ListSessions)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", app.GetSession)
			r.Delete("/", app.DeleteSession)
			r.Put("/references", app.SetReferences)
			r.Post("/analyze", app.Analyze)
			r.Put("/preferences", app.UpdatePreferences)
			r.Post("/generate", app.Generate)
			r.Get("/nodes/{nodeID}", app.GetNode)
			r.Post("/nodes/{nodeID}/pin", app.PinNode)
			r.Get("/events", app.Stream)
		})
	})

	if opts.StaticRoot != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticRoot)))
		r.Get("/static/*", fs.ServeHTTP)
	}

	return r
}
