package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/reportflow/internal/batch"
	"github.com/mohammad-safakhou/reportflow/internal/queue/streams"
	"github.com/mohammad-safakhou/reportflow/internal/runtime"
	"github.com/mohammad-safakhou/reportflow/internal/workflow"
)

// ThreadStore is the slice of the checkpoint store the API needs.
type ThreadStore interface {
	ReadCheckpoint(ctx context.Context, threadID string) (*workflow.State, bool, error)
	RequestCancel(ctx context.Context, threadID string) error
}

// Publisher is satisfied by *streams.Publisher.
type Publisher interface {
	PublishEvent(ctx context.Context, stream, eventType string, payload interface{}, opts ...streams.PublishOption) (string, error)
}

// Options wires the API to its collaborators. Documents and Metrics are optional.
type Options struct {
	Threads      ThreadStore
	Documents    batch.DocumentReader
	Publisher    Publisher
	ThreadStream string
	// Auth is disabled when JWTSecret is empty.
	JWTSecret []byte
	Metrics   http.Handler
	Logger    *log.Logger
}

// Server is the HTTP front of the pipeline. It never drives threads itself;
// every mutation is published to the thread stream for a worker to pick up.
type Server struct {
	e      *echo.Echo
	opts   Options
	logger *log.Logger
}

func New(opts Options) (*Server, error) {
	if opts.Threads == nil || opts.Publisher == nil {
		return nil, errors.New("server: thread store and publisher are required")
	}
	if opts.ThreadStream == "" {
		return nil, errors.New("server: thread stream is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &Server{e: echo.New(), opts: opts, logger: logger}
	s.e.HideBanner = true
	s.e.HidePort = true
	s.e.Use(middleware.Recover())
	s.e.Use(middleware.BodyLimit("1M"))
	s.e.HTTPErrorHandler = s.handleError

	s.e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if opts.Metrics != nil {
		s.e.GET("/metrics", echo.WrapHandler(opts.Metrics))
	}

	api := s.e.Group("/api")
	if len(opts.JWTSecret) > 0 {
		api.Use(runtime.EchoAuthMiddleware(opts.JWTSecret))
	} else {
		logger.Printf("warn: server.jwt_secret not set, /api is unauthenticated")
	}
	th := &threadHandler{opts: opts}
	th.Register(api.Group("/threads"))
	rh := &reportHandler{opts: opts}
	rh.Register(api.Group("/reports"))
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.e }

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("listening on %s", addr)
		if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.e.Shutdown(shutdownCtx)
}

func (s *Server) handleError(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
	}
	req := c.Request()
	s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
	if !c.Response().Committed {
		_ = c.JSON(code, HTTPError{Error: msg})
	}
}
