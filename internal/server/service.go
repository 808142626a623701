package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"
)

// FatalError stops the whole supervisor tree instead of restarting the
// failing service.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func (e *FatalError) Is(target error) bool {
	return target == suture.ErrTerminateSupervisorTree
}

// HTTPService runs an http.Server as a suture service. Cancelling the
// context passed to Serve shuts the server down gracefully.
type HTTPService struct {
	Addr            string
	Handler         http.Handler
	ShutdownTimeout time.Duration
	ReadTimeout     time.Duration
	Logger          *slog.Logger

	// OnShutdown runs when shutdown begins, before in-flight requests drain.
	OnShutdown func()

	listening chan net.Addr

	mu      sync.Mutex
	lastErr error
}

// NewHTTPService returns a service serving the routes of s on addr.
func NewHTTPService(addr string, s *Server, shutdownTimeout time.Duration) *HTTPService {
	return &HTTPService{
		Addr:            addr,
		Handler:         s.Handler(),
		ShutdownTimeout: shutdownTimeout,
		Logger:          s.logger(),
		OnShutdown:      s.CloseSessions,
		listening:       make(chan net.Addr, 1),
	}
}

// Listening yields the bound address once the listener is up.
func (h *HTTPService) Listening() <-chan net.Addr {
	return h.listening
}

// Serve implements suture.Service.
func (h *HTTPService) Serve(ctx context.Context) error {
	log := h.Logger
	if log == nil {
		log = slog.Default()
	}

	ln, err := net.Listen("tcp", h.Addr)
	if err != nil {
		return h.setErr(&FatalError{Err: fmt.Errorf("listen on %s: %w", h.Addr, err)})
	}

	srv := &http.Server{
		Handler:           h.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       h.ReadTimeout,
	}
	if h.OnShutdown != nil {
		srv.RegisterOnShutdown(h.OnShutdown)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	if h.listening != nil {
		select {
		case h.listening <- ln.Addr():
		default:
		}
	}
	log.Info("HTTP server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return h.setErr(err)
	case <-ctx.Done():
	}

	timeout := h.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	log.Info("Shutting down HTTP server", "timeout", timeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return h.setErr(fmt.Errorf("graceful shutdown: %w", err))
	}
	return ctx.Err()
}

func (h *HTTPService) setErr(err error) error {
	h.mu.Lock()
	h.lastErr = err
	h.mu.Unlock()
	return err
}

// Err returns the last failure of Serve, if any.
func (h *HTTPService) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

func (h *HTTPService) String() string {
	return "http:" + h.Addr
}

// CloseSessions asks every open frame session to disconnect.
func (s *Server) CloseSessions() {
	s.sessions.Range(func(_ string, sess *session) bool {
		sess.goingAway()
		return true
	})
}
