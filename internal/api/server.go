// Package api exposes the reconcile run as an HTTP endpoint.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/metal-toolbox/nbsync/internal/model"
	"github.com/metal-toolbox/nbsync/internal/snapshot"
	"github.com/metal-toolbox/nbsync/internal/version"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
	idleTimeout       = 60 * time.Second

	// maxRequestBody is the most bytes read from a discover request.
	maxRequestBody = 1 << 20
)

var (
	ErrServer = errors.New("api server error")
)

// Source returns the device records to reconcile.
type Source interface {
	Load() []model.DeviceRecord
}

// Runner reconciles device records.
type Runner interface {
	Run(ctx context.Context, records []model.DeviceRecord) *model.Summary
}

// Server serves the discover and health endpoints.
type Server struct {
	addr   string
	source Source
	runner Runner
	logger *logrus.Logger
}

// DiscoverRequest is the optional body of a discover request.
type DiscoverRequest struct {
	// Filter limits the run to records whose attributes equal the given values.
	Filter map[string]string `json:"filter,omitempty"`
}

// DiscoverResponse is the result of a discover request.
type DiscoverResponse struct {
	Status string `json:"status"`
	*model.Summary
}

// Error is returned for requests that could not be served.
type Error struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// New returns an API server listening on addr.
func New(addr string, source Source, runner Runner, logger *logrus.Logger) *Server {
	return &Server{
		addr:   addr,
		source: source,
		runner: runner,
		logger: logger,
	}
}

// Handler returns the router serving the API routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/discover", s.handleDiscover)
	})

	return r
}

// ListenAndServe serves the API until the context is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrap(ErrServer, err.Error())
	}

	return s.Serve(ctx, ln)
}

// Serve serves the API on the listener until the context is canceled,
// in-flight requests are given time to complete.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- server.Serve(ln)
	}()

	s.logger.WithField("address", ln.Addr().String()).Info("api server listening")

	select {
	case err := <-errCh:
		return errors.Wrap(ErrServer, err.Error())
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("api server shutting down")

	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(ErrServer, "shutdown: "+err.Error())
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(ErrServer, err.Error())
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Current().AppVersion,
	})
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "request body read error: "+err.Error())
		return
	}

	req := &DiscoverRequest{}

	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
	}

	records := snapshot.FilterRecords(s.source.Load(), req.Filter)

	summary := s.runner.Run(r.Context(), records)

	writeJSON(w, http.StatusOK, &DiscoverResponse{
		Status:  summary.Status(),
		Summary: summary,
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.WithFields(logrus.Fields{
			"method":    r.Method,
			"path":      r.URL.Path,
			"status":    ww.Status(),
			"duration":  time.Since(start).String(),
			"requestID": middleware.GetReqID(r.Context()),
		}).Debug("http request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if v != nil {
		//nolint:errcheck // best effort write, the client may have gone away
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Error{Status: status, Message: message})
}
