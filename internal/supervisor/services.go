package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// HTTPServer matches the lifecycle methods of *http.Server.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService runs an HTTP server until the supervisor stops it, then shuts
// it down gracefully.
type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string {
	return "http-server"
}

// Runner is anything with a context-bound Serve loop, such as the poll
// scheduler.
type Runner interface {
	Serve(ctx context.Context) error
}

// RunnerService gives a Runner a name for supervisor logs.
type RunnerService struct {
	name   string
	runner Runner
}

func NewRunnerService(name string, r Runner) *RunnerService {
	return &RunnerService{name: name, runner: r}
}

func (s *RunnerService) Serve(ctx context.Context) error {
	return s.runner.Serve(ctx)
}

func (s *RunnerService) String() string {
	return s.name
}

// Closer is released when the supervisor stops, e.g. the panel gateway,
// whose hijacked connections http.Server.Shutdown does not wait for.
type Closer interface {
	Close()
}

// CloserService blocks until shutdown, then calls Close.
type CloserService struct {
	name   string
	closer Closer
}

func NewCloserService(name string, c Closer) *CloserService {
	return &CloserService{name: name, closer: c}
}

func (s *CloserService) Serve(ctx context.Context) error {
	<-ctx.Done()
	s.closer.Close()
	return ctx.Err()
}

func (s *CloserService) String() string {
	return s.name
}
