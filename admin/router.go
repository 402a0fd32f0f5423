// Package admin exposes the remote administration surface: channel
// inspection, lifecycle control, message store search and replay, plus the
// Prometheus scrape endpoint.
package admin

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mhcomm/pypeman/channel"
)

// NewRouter creates and configures the admin HTTP router.
func NewRouter(logger zerolog.Logger, reg *channel.Registry) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimw.Recoverer)

	// CORS - the admin UI may be served from another origin
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := NewHandler(reg)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/health", h.Health)
	r.Get("/channels", h.ListChannels)
	r.Route("/channels/{name}", func(r chi.Router) {
		r.Get("/", h.GetChannel)
		r.Post("/start", h.StartChannel)
		r.Post("/stop", h.StopChannel)
		r.Get("/messages", h.SearchMessages)
		r.Get("/messages/{id}", h.GetMessage)
		r.Post("/messages/{id}/replay", h.ReplayMessage)
	})

	return r
}

// requestLogger logs every admin request with its latency and status.
func requestLogger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Dur("latency", time.Since(start)).
					Str("request_id", chimw.GetReqID(r.Context())).
					Str("remote_addr", r.RemoteAddr).
					Msg("request completed")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
