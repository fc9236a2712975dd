// Package feed runs the streaming market-data ingestion pipeline: one
// supervised WebSocket source per platform, each applying price ticks to the
// market cache and store and forwarding them to subscribed sessions.
package feed

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// State is the connection state of a supervised source.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateReceiving
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateReceiving:
		return "receiving"
	default:
		return "unknown"
	}
}

// Source is one platform's streaming connection for a single session.
// Subscribe derives the subscription list from the current catalog, so every
// reconnect picks up newly listed markets.
type Source interface {
	Name() string
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	// Listen blocks delivering ticks until the session ends; it always
	// returns a non-nil error.
	Listen(ctx context.Context) error
	Close() error
}

// Supervisor drives a Source through its connection lifecycle and reconnects
// forever on failure. A market-data dependency that gives up is worse than a
// noisy retry loop, so there is no attempt cap; the delay between attempts
// is fixed.
type Supervisor struct {
	source     Source
	retryDelay time.Duration
	logger     *slog.Logger

	state atomic.Int32
}

// NewSupervisor creates a supervisor for the given source.
func NewSupervisor(source Source, retryDelay time.Duration, logger *slog.Logger) *Supervisor {
	if retryDelay <= 0 {
		retryDelay = 5 * time.Second
	}
	return &Supervisor{
		source:     source,
		retryDelay: retryDelay,
		logger:     logger.With("component", "feed", "platform", source.Name()),
	}
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Run drives the source until ctx is cancelled. It only ever returns
// ctx.Err().
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.source.Close()
	defer s.setState(StateDisconnected)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.setState(StateConnecting)
		if err := s.source.Connect(ctx); err != nil {
			s.logger.Warn("connect failed", "error", err)
			s.setState(StateDisconnected)
			if !s.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}

		if err := s.source.Subscribe(ctx); err != nil {
			s.logger.Warn("subscribe failed", "error", err)
			s.source.Close()
			s.setState(StateDisconnected)
			if !s.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}
		s.setState(StateSubscribed)

		s.logger.Info("session established")
		s.setState(StateReceiving)

		err := s.source.Listen(ctx)
		s.setState(StateDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Warn("session ended, reconnecting", "error", err, "retry_in", s.retryDelay)
		if !s.sleep(ctx) {
			return ctx.Err()
		}
	}
}

func (s *Supervisor) setState(state State) {
	old := State(s.state.Swap(int32(state)))
	if old != state {
		s.logger.Debug("state change", "from", old.String(), "to", state.String())
	}
}

// sleep waits the retry delay, returning false when ctx ends first.
func (s *Supervisor) sleep(ctx context.Context) bool {
	timer := time.NewTimer(s.retryDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
