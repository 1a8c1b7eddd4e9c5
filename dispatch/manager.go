// Package dispatch serializes ledger records and scheduler ticks for one
// agent and rebuilds the agent's registry from history after a restart.
package dispatch

import (
	"context"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/cryptobuks/truebit-os/contract"
	"github.com/cryptobuks/truebit-os/metrics"
	"github.com/cryptobuks/truebit-os/registry"
)

const defaultQueueSize = 256

// Handler reacts to one ledger record.
type Handler func(ctx context.Context, rec contract.Record) error

// Recovery describes how a role rebuilds its state from buffered history.
type Recovery struct {
	// TaskEvent is the event that makes a task this role's responsibility.
	TaskEvent string
	// IsParty reports whether a challenge involves the local account in this role.
	IsParty func(ev *contract.StartChallenge) bool
	// RecoverTask restores a task without submitting transactions.
	RecoverTask func(ctx context.Context, taskID common.Hash) error
	// RecoverGame restores a game without submitting transactions.
	RecoverGame func(ctx context.Context, gameID common.Hash) error
}

type intent struct {
	rec      contract.Record
	tick     bool
	caughtUp bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics attaches collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithQueueSize sets the intent buffer size.
func WithQueueSize(n int) Option {
	return func(mgr *Manager) { mgr.intents = make(chan intent, n) }
}

// Manager applies records and ticks one at a time on a single goroutine.
type Manager struct {
	role     string
	reg      *registry.Registry
	log      zerolog.Logger
	metrics  *metrics.Metrics
	handlers map[string][]Handler
	intents  chan intent
	onTick   func(ctx context.Context)
	recovery Recovery

	recovering bool
	// historyDone is set once every record of the recovery window has
	// been delivered.
	historyDone bool
	buffered    []contract.Record
	deferred    []contract.Record
}

// New creates a manager for role. When recovering is set, historical
// records are buffered until the source reports it has caught up; the first
// tick after that runs the recovery analysis.
func New(role string, reg *registry.Registry, recovering bool, log zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		role:       role,
		reg:        reg,
		log:        log.With().Str("component", "dispatch").Logger(),
		handlers:   make(map[string][]Handler),
		intents:    make(chan intent, defaultQueueSize),
		recovering: recovering,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers h for records named name. Subscriptions must be
// made before Run.
func (m *Manager) Subscribe(name string, h Handler) {
	m.handlers[name] = append(m.handlers[name], h)
}

// Subscribed lists the event names with at least one handler.
func (m *Manager) Subscribed() []string {
	names := make([]string, 0, len(m.handlers))
	for name := range m.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetRecovery installs the role's recovery callbacks.
func (m *Manager) SetRecovery(r Recovery) { m.recovery = r }

// OnTick installs the function run on every tick after recovery.
func (m *Manager) OnTick(fn func(ctx context.Context)) { m.onTick = fn }

// Recovering reports whether the recovery analysis is still pending.
func (m *Manager) Recovering() bool { return m.recovering }

// Deliver queues rec. It blocks while the queue is full.
func (m *Manager) Deliver(ctx context.Context, rec contract.Record) error {
	select {
	case m.intents <- intent{rec: rec}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestTick queues a scheduler tick.
func (m *Manager) RequestTick(ctx context.Context) error {
	select {
	case m.intents <- intent{tick: true}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CaughtUp queues the marker that follows the last record of the recovery
// window. It is ordered after every record delivered before it.
func (m *Manager) CaughtUp(ctx context.Context) error {
	select {
	case m.intents <- intent{caughtUp: true}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run applies queued intents until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case in := <-m.intents:
			switch {
			case in.caughtUp:
				m.HandleCaughtUp()
			case in.tick:
				m.HandleTick(ctx)
			default:
				m.HandleRecord(ctx, in.rec)
			}
		}
	}
}

// HandleRecord applies one record. Historical records only ever feed the
// recovery analysis; they are never handled live.
func (m *Manager) HandleRecord(ctx context.Context, rec contract.Record) {
	if m.recovering {
		if rec.Historical {
			m.log.Debug().Str("role", m.role).Str("event", rec.Name).Uint64("block", rec.BlockNumber).Msg("Recovering")
			m.buffered = append(m.buffered, rec)
		} else {
			m.deferred = append(m.deferred, rec)
		}
		return
	}
	if rec.Historical {
		m.log.Debug().Str("role", m.role).Str("event", rec.Name).Uint64("block", rec.BlockNumber).Msg("Dropping historical record")
		return
	}
	m.dispatch(ctx, rec)
}

// HandleCaughtUp records that the recovery window has been fully delivered.
func (m *Manager) HandleCaughtUp() {
	if !m.historyDone {
		m.historyDone = true
		m.log.Debug().Str("role", m.role).Int("records", len(m.buffered)).Msg("History delivered")
	}
}

// HandleTick runs the recovery analysis once the history has been
// delivered, then the tick function. Ticks that arrive earlier do nothing.
func (m *Manager) HandleTick(ctx context.Context) {
	if m.recovering {
		if !m.historyDone {
			m.log.Debug().Str("role", m.role).Msg("Waiting for history before recovery")
			return
		}
		m.recovering = false
		m.analyze(ctx)
		deferred := m.deferred
		m.deferred = nil
		for _, rec := range deferred {
			m.dispatch(ctx, rec)
		}
	}
	if m.onTick != nil {
		m.onTick(ctx)
	}
}

func (m *Manager) dispatch(ctx context.Context, rec contract.Record) {
	handlers := m.handlers[rec.Name]
	if len(handlers) == 0 {
		return
	}
	m.metrics.EventDispatched(m.role, rec.Name)
	for _, h := range handlers {
		if err := h(ctx, rec); err != nil {
			m.metrics.HandlerError(m.role, rec.Name)
			m.log.Error().
				Err(err).
				Str("role", m.role).
				Str("event", rec.Name).
				Uint64("block", rec.BlockNumber).
				Str("tx", rec.TxHash.Hex()).
				Msg("Error while handling event")
		}
	}
}
