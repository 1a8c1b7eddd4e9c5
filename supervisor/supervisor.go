// Package supervisor runs several agents over one event monitor.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cryptobuks/truebit-os/agent"
	"github.com/cryptobuks/truebit-os/contract"
	"github.com/cryptobuks/truebit-os/monitor"
)

// Source fans ledger records out to named sinks.
type Source interface {
	Subscribe(name string, sink monitor.Sink)
	Unsubscribe(name string)
	Run(ctx context.Context) error
}

// Supervisor owns the agent handles of one process.
type Supervisor struct {
	src    Source
	log    zerolog.Logger
	agents []agent.Agent

	exitOnce sync.Once
}

// New creates a supervisor reading from src.
func New(src Source, log zerolog.Logger) *Supervisor {
	return &Supervisor{src: src, log: log.With().Str("component", "supervisor").Logger()}
}

// Add registers an agent. Agents must be added before Run.
func (s *Supervisor) Add(a agent.Agent) {
	for _, existing := range s.agents {
		if existing.Name() == a.Name() {
			s.log.Warn().Str("agent", a.Name()).Msg("Agent already registered")
			return
		}
	}
	s.agents = append(s.agents, a)
}

// Agents returns the registered agents.
func (s *Supervisor) Agents() []agent.Agent { return s.agents }

// Exit asks every agent to drain. Run returns once they all have.
func (s *Supervisor) Exit() {
	s.exitOnce.Do(func() {
		s.log.Info().Int("agents", len(s.agents)).Msg("Draining agents")
		for _, a := range s.agents {
			a.Exit()
		}
	})
}

// Run starts the monitor and every agent. It returns when ctx is cancelled,
// when every agent has drained, or on the first agent failure.
func (s *Supervisor) Run(ctx context.Context) error {
	if len(s.agents) == 0 {
		return errors.New("no agents configured")
	}

	g, ctx := errgroup.WithContext(ctx)
	monCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()

	var (
		mu      sync.Mutex
		running = len(s.agents)
	)
	for _, a := range s.agents {
		stopped := make(chan struct{})
		s.src.Subscribe(a.Name(), &sink{agent: a, stopped: stopped})

		g.Go(func() error {
			defer func() {
				close(stopped)
				s.src.Unsubscribe(a.Name())
				mu.Lock()
				running--
				last := running == 0
				mu.Unlock()
				if last {
					stopMonitor()
				}
			}()
			if err := a.Run(ctx); err != nil {
				return fmt.Errorf("agent %s: %w", a.Name(), err)
			}
			s.log.Info().Str("agent", a.Name()).Msg("Agent finished")
			return nil
		})
	}
	g.Go(func() error {
		if err := s.src.Run(monCtx); err != nil {
			return fmt.Errorf("monitor: %w", err)
		}
		return nil
	})

	s.log.Info().Int("agents", len(s.agents)).Msg("Supervisor started")
	return g.Wait()
}

// HandleSignals turns the first signal into a graceful Exit and the second
// into cancel. It returns when ctx is done or after the second signal.
func (s *Supervisor) HandleSignals(ctx context.Context, signals <-chan os.Signal, cancel context.CancelFunc) {
	graceful := false
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-signals:
			if !graceful {
				graceful = true
				s.log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully, signal again to force")
				s.Exit()
				continue
			}
			s.log.Warn().Str("signal", sig.String()).Msg("Forcing shutdown")
			cancel()
			return
		}
	}
}

// sink forwards records to an agent until the agent stops.
type sink struct {
	agent   agent.Agent
	stopped chan struct{}
}

func (k *sink) Deliver(ctx context.Context, rec contract.Record) error {
	return k.forward(ctx, func(ctx context.Context) error { return k.agent.Deliver(ctx, rec) })
}

func (k *sink) CaughtUp(ctx context.Context) error {
	return k.forward(ctx, k.agent.CaughtUp)
}

// forward runs fn with a context cancelled once the agent stops. Failures
// caused by the stop are swallowed.
func (k *sink) forward(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-k.stopped:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := fn(ctx)
	select {
	case <-k.stopped:
		return nil
	default:
		return err
	}
}
