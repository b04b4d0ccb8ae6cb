package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"recommendations/logs"
)

// State is the lifecycle stage of a Server.
type State int32

const (
	Starting State = iota
	Serving
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Serving:
		return "serving"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Server runs an HTTP listener until its context is cancelled, then stops it
// within a bounded grace period.
type Server struct {
	addr         string
	httpServer   *http.Server
	logger       logs.OtelLogging
	pollInterval time.Duration
	grace        time.Duration
	state        atomic.Int32
}

type Option func(*Server)

// WithShutdownGrace bounds how long Run waits for the listener to stop.
func WithShutdownGrace(d time.Duration) Option {
	return func(s *Server) {
		s.grace = d
	}
}

// WithPollInterval sets the step used while waiting for the listener to
// finish.
func WithPollInterval(d time.Duration) Option {
	return func(s *Server) {
		s.pollInterval = d
	}
}

func New(addr string, handler http.Handler, logger logs.OtelLogging, opts ...Option) *Server {
	s := &Server{
		addr: addr,
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger:       logger,
		pollInterval: 100 * time.Millisecond,
		grace:        2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) State() State {
	return State(s.state.Load())
}

func (s *Server) setState(state State) {
	s.state.Store(int32(state))
	s.logger.Debugf(nil, "Server %s", state)
}

// Run binds the configured address and serves until ctx is cancelled. A bind
// failure is returned before anything is served.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or the listener
// fails. After cancellation it stops accepting, lets in-flight requests
// finish for up to the grace period and returns regardless.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	done := make(chan error, 1)
	go func() {
		done <- s.httpServer.Serve(ln)
	}()
	s.setState(Serving)
	s.logger.Infof(nil, "Recommendations service listening on %s", ln.Addr())

	select {
	case err := <-done:
		s.setState(Stopped)
		return fmt.Errorf("listener stopped: %w", err)
	case <-ctx.Done():
	}

	s.setState(Stopping)
	deadline := time.Now().Add(s.grace)

	shutdownCtx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warnf(nil, "In-flight requests still running after %s: %v", s.grace, err)
	}

	err := s.join(done, deadline)
	s.setState(Stopped)
	return err
}

// join waits for the serving goroutine in poll-interval steps until deadline.
func (s *Server) join(done <-chan error, deadline time.Time) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listener stopped: %w", err)
			}
			return nil
		case now := <-ticker.C:
			if !now.Before(deadline) {
				s.logger.Warn(nil, "Listener did not stop within the grace period")
				return nil
			}
		}
	}
}
