// Package server exposes face recognition over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/facerec/internal/blob"
	"github.com/andresmejia3/facerec/internal/gallery"
	"github.com/andresmejia3/facerec/internal/pipeline"
	"github.com/andresmejia3/facerec/internal/worker"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// ModelVersion is reported by the health check.
const ModelVersion = "1.0"

// DefaultMaxUpload caps request bodies for /recognize.
const DefaultMaxUpload = 20 << 20

// Connection timeouts. POST /gallery/reload lifts the write deadline since a
// rebuild can outlast it.
const (
	ReadTimeout  = 60 * time.Second
	WriteTimeout = 60 * time.Second
)

// ReloadFunc builds a fresh gallery for POST /gallery/reload.
type ReloadFunc func(ctx context.Context) (*gallery.Gallery, error)

// Options wires the server's collaborators. Fetcher, Reload and Stats are optional.
type Options struct {
	Pipeline   *pipeline.Pipeline
	Gallery    *gallery.Holder
	Fetcher    blob.Fetcher
	DefaultKey string
	Reload     ReloadFunc
	Stats      func() worker.PoolStats
	Logger     *slog.Logger
	MaxUpload  int64
}

// Server holds the HTTP handlers and their shared state.
type Server struct {
	opts   Options
	logger *slog.Logger
	router *mux.Router

	reloadMu sync.Mutex

	recognitions atomic.Int64
	failures     atomic.Int64
	reloads      atomic.Int64
}

// New builds the router.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.MaxUpload <= 0 {
		opts.MaxUpload = DefaultMaxUpload
	}

	s := &Server{opts: opts, logger: opts.Logger, router: mux.NewRouter()}

	s.router.Use(s.requestID)
	s.router.HandleFunc("/", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/face_recognition", s.handleFaceRecognition).Methods("GET")
	s.router.HandleFunc("/recognize", s.handleRecognize).Methods("POST")
	s.router.HandleFunc("/gallery/reload", s.handleReload).Methods("POST")
	s.addMonitoringRoutes(s.router)

	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Handler:      s.router,
		Addr:         addr,
		WriteTimeout: WriteTimeout,
		ReadTimeout:  ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("shutting down server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type ctxKey struct{}

// RequestID returns the id assigned to the request carrying ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

// Unwrap lets http.ResponseController reach the connection.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestID tags every request with a uuid and logs its outcome.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))

		s.logger.Info("request",
			slog.String("request_id", id),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)),
		)
	})
}
