package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bft-labs/digestship/internal/domain"
	"github.com/bft-labs/digestship/internal/ports"
)

// Supervisor wires one writer and one feed client together and drives them
// through the lifecycle state machine.
type Supervisor struct {
	feed      string
	writer    *Writer
	client    *Client
	lifecycle *Lifecycle
	logger    ports.Logger

	// ShutdownTimeout bounds how long Stop waits for the feed client to exit.
	ShutdownTimeout time.Duration

	mu sync.Mutex
}

// NewSupervisor creates a supervisor in StateStopped.
func NewSupervisor(feed string, writer *Writer, client *Client, logger ports.Logger, emitter EventEmitter) *Supervisor {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Supervisor{
		feed:            feed,
		writer:          writer,
		client:          client,
		lifecycle:       NewLifecycle(logger, emitter),
		logger:          logger,
		ShutdownTimeout: ShutdownTimeout,
	}
}

// Start starts the writer's flush timer, then the client's connection loop in
// the background. It returns domain.ErrAlreadyRunning if already started.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lifecycle.CanStart() {
		return domain.ErrAlreadyRunning
	}
	if err := s.lifecycle.TransitionTo(StateStarting, "Start() called"); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.lifecycle.SetCancel(cancel)

	s.writer.Start(runCtx)

	s.lifecycle.Go(func() {
		err := s.client.Run(runCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("feed client stopped", ports.String("feed", s.feed), ports.Err(err))
			_ = s.lifecycle.TransitionTo(StateCrashed, err.Error())
		}
	})

	return s.lifecycle.TransitionTo(StateRunning, "feed client started")
}

// Stop closes the feed connection with a normal closure, waits for the
// client to exit, then drains the writer with one final flush. A failed final
// flush is logged, not returned: the pending digests are either spilled or
// accepted as lost. Returns domain.ErrShutdownTimeout if the client did not
// exit in time.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lifecycle.CanStop() {
		return domain.ErrNotRunning
	}
	if err := s.lifecycle.TransitionTo(StateStopping, "Stop() called"); err != nil {
		return err
	}

	if err := s.client.Close("shutdown"); err != nil {
		s.logger.Warn("close feed connection", ports.String("feed", s.feed), ports.Err(err))
	}

	waitErr := s.lifecycle.WaitWithTimeout(s.ShutdownTimeout)
	s.lifecycle.Cancel()

	if err := s.writer.Stop(ctx); err != nil {
		s.logger.Error("final flush failed",
			ports.String("feed", s.feed),
			ports.Int("pending", s.writer.Pending()),
			ports.Err(err),
		)
	}

	if waitErr != nil {
		_ = s.lifecycle.TransitionTo(StateCrashed, "shutdown timeout")
		return waitErr
	}
	return s.lifecycle.TransitionTo(StateStopped, "graceful shutdown")
}

// Status returns the current lifecycle state.
func (s *Supervisor) Status() State {
	return s.lifecycle.State()
}

// ConnState returns the feed client's connection state.
func (s *Supervisor) ConnState() domain.ConnState {
	return s.client.State()
}

// Writer returns the supervised writer.
func (s *Supervisor) Writer() *Writer {
	return s.writer
}
