// Package davserver serves a webdav.FileSystem over HTTP.
package davserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/webdav"
)

// Server is the WebDAV HTTP server.
type Server struct {
	mux      *http.ServeMux
	server   *http.Server
	listener net.Listener

	mountPath string
}

// Compile-time check that Server implements http.Handler
var _ http.Handler = (*Server)(nil)

// Option configures a Server.
type Option func(*Server)

// WithMountPath serves the filesystem below prefix instead of the root.
// The prefix must start with a slash and must not end with one.
func WithMountPath(prefix string) Option {
	return func(s *Server) {
		s.mountPath = prefix
	}
}

// New creates a WebDAV server for fsys. Locks are kept in memory, which is
// enough for clients that lock before reading.
func New(fsys webdav.FileSystem, opts ...Option) (*Server, error) {
	if fsys == nil {
		return nil, fmt.Errorf("missing filesystem")
	}

	s := &Server{}
	for _, opt := range opts {
		opt(s)
	}

	logger := slog.Default()

	dav := &webdav.Handler{
		Prefix:     s.mountPath,
		FileSystem: fsys,
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				logger.WarnContext(r.Context(), "webdav request failed",
					"method", r.Method, "path", r.URL.Path, "error", err)
			}
		},
	}

	mux := http.NewServeMux()

	mux.Handle("GET /healthz", applyMiddlewares(http.HandlerFunc(health),
		Recovery,
	))

	davHandler := applyMiddlewares(dav,
		RequestID,
		Logging(logger),
		Recovery,
	)

	// WebDAV uses its own verbs, so the handler is registered without a method.
	// The bare mount path is served too; clients do not follow redirects for PROPFIND.
	if s.mountPath == "" {
		mux.Handle("/", davHandler)
	} else {
		mux.Handle(s.mountPath, davHandler)
		mux.Handle(s.mountPath+"/", davHandler)
	}

	s.mux = mux
	return s, nil
}

// ServeHTTP implements http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func health(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, map[string]string{"status": "ok"}, http.StatusOK)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (s *Server) Start(ctx context.Context, address string) (<-chan error, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:     s,
		ReadTimeout: 30 * time.Second,
		// Large downloads are streamed, so the write bound is generous.
		WriteTimeout: 2 * time.Hour,
		IdleTimeout:  90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := s.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	if err := s.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = s.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
