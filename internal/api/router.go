package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

type Options struct {
	AllowedOrigins []string
	// MaxAge is advertised in Cache-Control for board responses.
	MaxAge  time.Duration
	Metrics http.Handler
}

// NewRouter wires the board, line, health and metrics routes.
func NewRouter(src BoardSource, opts Options) http.Handler {
	h := NewHandler(src, opts.MaxAge)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", h.Health)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	r.Get("/api/board", h.GetBoard)
	r.Get("/api/lines/{slug}", h.GetLine)
	r.Post("/api/refresh", h.Refresh)
	return r
}
