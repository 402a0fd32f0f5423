package endpoint

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/mhcomm/pypeman/channel"
	"github.com/mhcomm/pypeman/message"
	"github.com/mhcomm/pypeman/node"
)

// HTTPServer exposes channels as HTTP routes. The request body becomes the
// message payload and the response reflects the processing outcome.
type HTTPServer struct {
	name   string
	router *chi.Mux
	srv    *http.Server
	logger zerolog.Logger
}

// NewHTTPServer builds an ingestion server listening on addr. Routes are
// added with Mount before Start.
func NewHTTPServer(name, addr string, logger zerolog.Logger) *HTTPServer {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	return &HTTPServer{
		name:   name,
		router: r,
		srv: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		logger: logger.With().Str("endpoint", name).Logger(),
	}
}

func (s *HTTPServer) Name() string { return s.name }

// Mount routes requests on path (a chi pattern) into ch. With no methods
// given, POST is assumed.
func (s *HTTPServer) Mount(path string, ch *channel.Channel, methods ...string) {
	if len(methods) == 0 {
		methods = []string{http.MethodPost}
	}
	for _, m := range methods {
		s.router.Method(m, path, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.serve(w, r, ch)
		}))
	}
}

func (s *HTTPServer) serve(w http.ResponseWriter, r *http.Request, ch *channel.Channel) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httpError(w, http.StatusBadRequest, "cannot read request body")
		return
	}
	msg := message.New(body)
	msg.Meta["method"] = r.Method
	msg.Meta["url"] = r.URL.String()
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			msg.Meta["param."+k] = v[0]
		}
	}

	result, err := ch.Handle(r.Context(), msg)
	switch {
	case err == nil:
		writePayload(w, http.StatusOK, result.Payload)
	case node.IsDropped(err):
		w.WriteHeader(http.StatusNoContent)
	case node.IsRejected(err):
		httpError(w, http.StatusUnprocessableEntity, err.Error())
	case isStateError(err):
		httpError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("message processing failed")
		httpError(w, http.StatusInternalServerError, "processing failed")
	}
}

func isStateError(err error) bool {
	var se *channel.StateError
	return errors.As(err, &se)
}

// writePayload renders the final message payload: raw for bytes and
// strings, JSON for anything structured.
func writePayload(w http.ResponseWriter, status int, payload any) {
	switch p := payload.(type) {
	case nil:
		w.WriteHeader(status)
	case []byte:
		w.WriteHeader(status)
		w.Write(p) //nolint:errcheck
	case string:
		w.WriteHeader(status)
		io.WriteString(w, p) //nolint:errcheck
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(p) //nolint:errcheck
	}
}

func httpError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg}) //nolint:errcheck
}

// Start begins serving in the background. Listen errors other than a clean
// shutdown are logged.
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		s.logger.Info().Str("addr", s.srv.Addr).Msg("http endpoint listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("http endpoint failed")
		}
	}()
	return nil
}

// Stop shuts the server down gracefully, honoring the context deadline.
func (s *HTTPServer) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
