// Package server drives the top-level lifecycle: load a model, accept one
// client at a time, serve it, and reload a smaller model when inference runs
// out of resources.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/engine"
	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/session"
	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/telemetry"
	"github.com/nupi-ai/plugin-stt-whisper-socket/internal/tier"
)

const (
	defaultRetryInitial = 100 * time.Millisecond
	defaultRetryMax     = 5 * time.Second
)

// State is a server lifecycle state.
type State int

const (
	StateAwaitingTier State = iota
	StateModelLoaded
	StateAwaitingConnection
	StateSessionActive
	StateEngineReload
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateAwaitingTier:
		return "awaiting_tier"
	case StateModelLoaded:
		return "model_loaded"
	case StateAwaitingConnection:
		return "awaiting_connection"
	case StateSessionActive:
		return "session_active"
	case StateEngineReload:
		return "engine_reload"
	case StateFatal:
		return "fatal"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Controller is the part of *tier.Controller the loop depends on.
type Controller interface {
	LoadActive(ctx context.Context) (engine.Engine, tier.Snapshot, error)
	Downgrade() (tier.Snapshot, error)
	Tier() string
}

// SessionRunner serves one accepted connection.
type SessionRunner interface {
	Run(ctx context.Context, conn net.Conn, eng engine.Engine) (session.Outcome, error)
}

// StatusReporter receives serving status updates.
type StatusReporter interface {
	SetServing(serving bool)
}

// ListenFunc opens a listener. The loop calls it once per accepted connection
// and closes the listener right after accepting.
type ListenFunc func(ctx context.Context) (net.Listener, error)

// TCPListener returns a ListenFunc binding addr.
func TCPListener(addr string) ListenFunc {
	return func(ctx context.Context) (net.Listener, error) {
		var lc net.ListenConfig
		return lc.Listen(ctx, "tcp", addr)
	}
}

// Loop is the server state machine. Controller, Sessions and Listen are
// required; the rest is optional.
type Loop struct {
	Controller Controller
	Sessions   SessionRunner
	Listen     ListenFunc
	Health     StatusReporter
	Metrics    *telemetry.Recorder
	Logger     *slog.Logger
	// NewBackOff builds the delay policy between failed listen or accept
	// attempts. Defaults to exponential backoff capped at 5s.
	NewBackOff func() backoff.BackOff
	// OnTransition, when set, is called synchronously on every state change.
	OnTransition func(from, to State)

	log   *slog.Logger
	state State
}

// Run drives the loop until a fatal error or ctx cancellation. Fatal errors
// are tier.ErrNoSmallerTier and *tier.LoadError; cancellation returns
// ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	if l.Controller == nil || l.Sessions == nil || l.Listen == nil {
		return errors.New("server: controller, sessions and listen are required")
	}
	l.log = l.Logger
	if l.log == nil {
		l.log = slog.Default()
	}
	l.log = l.log.With("component", "server.Loop")
	l.state = StateAwaitingTier

	retry := l.newBackOff()
	var (
		eng  engine.Engine
		conn net.Conn
	)
	defer func() {
		if eng != nil {
			l.closeEngine(eng)
		}
	}()

	for {
		switch l.state {
		case StateAwaitingTier:
			l.setServing(false)
			loaded, snap, err := l.Controller.LoadActive(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				l.log.Error("no configuration of the active tier could be loaded", "tier", l.Controller.Tier(), "error", err)
				l.transition(StateFatal)
				return err
			}
			eng = loaded
			l.Metrics.RecordReload(l.Controller.Tier())
			l.log.Info("engine ready", "tier", l.Controller.Tier(), "rung", snap.Rung)
			l.setServing(true)
			l.transition(StateModelLoaded)

		case StateModelLoaded:
			l.transition(StateAwaitingConnection)

		case StateAwaitingConnection:
			accepted, err := l.accept(ctx, retry)
			if err != nil {
				return err
			}
			conn = accepted
			l.transition(StateSessionActive)

		case StateSessionActive:
			outcome, err := l.Sessions.Run(ctx, conn, eng)
			_ = conn.Close()
			conn = nil
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, engine.ErrResourceExhausted) {
				l.log.Warn("inference exhausted resources; abandoning session", "tier", l.Controller.Tier())
				l.transition(StateEngineReload)
				continue
			}
			l.log.Info("session ended", "outcome", outcome.String())
			l.transition(StateAwaitingConnection)

		case StateEngineReload:
			l.setServing(false)
			l.closeEngine(eng)
			eng = nil
			if _, err := l.Controller.Downgrade(); err != nil {
				l.log.Error("cannot shed more model capacity", "tier", l.Controller.Tier(), "error", err)
				l.transition(StateFatal)
				return err
			}
			l.Metrics.RecordDowngrade()
			l.transition(StateAwaitingTier)

		default:
			return fmt.Errorf("server: unexpected state %s", l.state)
		}
	}
}

// accept opens a listener, waits for one connection and closes the listener.
// Failures are retried with backoff; only ctx cancellation ends the wait.
func (l *Loop) accept(ctx context.Context, retry backoff.BackOff) (net.Conn, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		conn, err := l.acceptOnce(ctx)
		if err == nil {
			retry.Reset()
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		wait := retry.NextBackOff()
		if wait == backoff.Stop {
			wait = defaultRetryMax
		}
		l.log.Warn("accept failed; retrying", "error", err, "retry_in", wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *Loop) acceptOnce(ctx context.Context) (net.Conn, error) {
	lis, err := l.Listen(ctx)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	defer lis.Close()
	stop := context.AfterFunc(ctx, func() { _ = lis.Close() })
	defer stop()

	l.log.Info("waiting for client", "addr", lis.Addr().String())
	conn, err := lis.Accept()
	if err != nil {
		return nil, fmt.Errorf("accept: %w", err)
	}
	return conn, nil
}

func (l *Loop) newBackOff() backoff.BackOff {
	if l.NewBackOff != nil {
		return l.NewBackOff()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultRetryInitial
	b.MaxInterval = defaultRetryMax
	return b
}

func (l *Loop) transition(to State) {
	from := l.state
	l.state = to
	l.log.Debug("state transition", "from", from.String(), "to", to.String())
	if l.OnTransition != nil {
		l.OnTransition(from, to)
	}
}

func (l *Loop) setServing(serving bool) {
	if l.Health != nil {
		l.Health.SetServing(serving)
	}
}

func (l *Loop) closeEngine(eng engine.Engine) {
	if err := eng.Close(); err != nil {
		l.log.Warn("failed to close engine", "error", err)
	}
}
