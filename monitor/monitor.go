// Package monitor polls the ledger for agent-relevant logs and fans the
// decoded records out to subscribed agents.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/cryptobuks/truebit-os/contract"
)

// Polling defaults applied by New to zero Config fields.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultBatchSize    = 1000
)

// LogSource is the slice of the ledger client the monitor reads from.
type LogSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, from, to uint64) ([]types.Log, error)
}

// Sink receives records in chain order.
type Sink interface {
	Deliver(ctx context.Context, rec contract.Record) error
}

// CatchUpSink is a Sink that wants to know when every record up to the head
// seen at Start has been delivered to it.
type CatchUpSink interface {
	Sink
	CaughtUp(ctx context.Context) error
}

// Config controls polling.
type Config struct {
	PollInterval time.Duration
	BatchSize    uint64
	// RecoveryBlocks is the lookback window replayed at startup. Zero
	// starts at the block after the current head.
	RecoveryBlocks uint64
}

// Monitor polls a LogSource
type Monitor struct {
	src LogSource
	cfg Config
	log zerolog.Logger

	mu    sync.Mutex
	sinks map[string]Sink
	// waiting holds the sinks not yet told that the history is delivered.
	waiting map[string]bool

	started    bool
	next       uint64
	startHead  uint64
	historical bool
}

// New creates a monitor over src.
func New(src LogSource, cfg Config, log zerolog.Logger) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Monitor{
		src:     src,
		cfg:     cfg,
		log:     log.With().Str("component", "monitor").Logger(),
		sinks:   make(map[string]Sink),
		waiting: make(map[string]bool),
	}
}

// Subscribe adds sink under name, replacing any previous sink with that name.
func (m *Monitor) Subscribe(name string, sink Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks[name] = sink
	m.waiting[name] = true
}

// Unsubscribe removes the sink registered under name.
func (m *Monitor) Unsubscribe(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sinks, name)
	delete(m.waiting, name)
}

// Sinks returns the number of subscribed sinks.
func (m *Monitor) Sinks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sinks)
}

// Start reads the head and fixes the first block to poll.
func (m *Monitor) Start(ctx context.Context) error {
	head, err := m.src.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to get latest block: %w", err)
	}

	m.startHead = head
	m.started = true
	if m.cfg.RecoveryBlocks > 0 {
		m.historical = true
		m.next = 0
		if head > m.cfg.RecoveryBlocks {
			m.next = head - m.cfg.RecoveryBlocks
		}
		m.log.Info().Uint64("from", m.next).Uint64("head", head).Msg("Starting event monitoring with recovery window")
		return nil
	}

	m.next = head + 1
	m.log.Info().Uint64("head", head).Msg("Starting event monitoring from latest block")
	return nil
}

// Poll processes every block between the last processed block and the
// current head, in batches.
func (m *Monitor) Poll(ctx context.Context) error {
	if !m.started {
		return fmt.Errorf("monitor not started")
	}
	latest, err := m.src.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to get latest block: %w", err)
	}

	for m.next <= latest {
		from := m.next
		to := from + m.cfg.BatchSize - 1
		if to > latest {
			to = latest
		}
		if err := m.processRange(ctx, from, to); err != nil {
			return err
		}
		m.next = to + 1
	}
	if m.next > m.startHead {
		return m.notifyCaughtUp(ctx)
	}
	return nil
}

// notifyCaughtUp tells every sink still waiting that the history is
// delivered. Sinks subscribed later are told after their first poll.
func (m *Monitor) notifyCaughtUp(ctx context.Context) error {
	m.mu.Lock()
	var names []string
	for name := range m.waiting {
		names = append(names, name)
	}
	m.mu.Unlock()
	sort.Strings(names)

	for _, name := range names {
		m.mu.Lock()
		s, ok := m.sinks[name]
		m.mu.Unlock()
		if !ok {
			continue
		}
		if cs, ok := s.(CatchUpSink); ok {
			if err := cs.CaughtUp(ctx); err != nil {
				return fmt.Errorf("failed to notify %s: %w", name, err)
			}
		}
		m.mu.Lock()
		delete(m.waiting, name)
		m.mu.Unlock()
	}
	if len(names) > 0 {
		m.log.Debug().Int("sinks", len(names)).Uint64("head", m.startHead).Msg("History delivered")
	}
	return nil
}

func (m *Monitor) processRange(ctx context.Context, from, to uint64) error {
	logs, err := m.src.FilterLogs(ctx, from, to)
	if err != nil {
		return fmt.Errorf("failed to filter logs in blocks %d-%d: %w", from, to, err)
	}

	records := make([]contract.Record, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		rec, err := contract.Decode(l)
		if err != nil {
			m.log.Warn().Err(err).Uint64("block", l.BlockNumber).Str("tx", l.TxHash.Hex()).Msg("Failed to decode log")
			continue
		}
		rec.Historical = m.historical && rec.BlockNumber <= m.startHead
		records = append(records, rec)
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].Before(records[j]) })

	if len(records) > 0 {
		m.log.Debug().Int("records", len(records)).Uint64("from", from).Uint64("to", to).Msg("Found ledger events")
	}

	sinks := m.snapshot()
	for _, rec := range records {
		for _, s := range sinks {
			if err := s.Deliver(ctx, rec); err != nil {
				return fmt.Errorf("failed to deliver %s: %w", rec.Name, err)
			}
		}
	}
	return nil
}

func (m *Monitor) snapshot() []Sink {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.sinks))
	for name := range m.sinks {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Sink, len(names))
	for i, name := range names {
		out[i] = m.sinks[name]
	}
	return out
}

// Run starts the monitor and polls every PollInterval until ctx is done.
// Poll failures are logged and retried on the next interval.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.started {
		if err := m.Start(ctx); err != nil {
			return err
		}
	}
	if err := m.Poll(ctx); err != nil && ctx.Err() == nil {
		m.log.Error().Err(err).Msg("Error processing blocks")
	}

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.Poll(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				m.log.Error().Err(err).Msg("Error processing blocks")
			}
		}
	}
}
