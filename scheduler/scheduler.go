// Package scheduler turns on-ledger timeout conditions into transactions.
package scheduler

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/cryptobuks/truebit-os/metrics"
	"github.com/cryptobuks/truebit-os/registry"
)

// Check is a read-only predicate paired with the transaction it unlocks.
type Check struct {
	Name  string
	Ready func(ctx context.Context, id common.Hash) (bool, error)
	Fire  func(ctx context.Context, id common.Hash) error
}

// TickQueue accepts tick requests.
type TickQueue interface {
	RequestTick(ctx context.Context) error
}

// Scheduler evaluates task and game checks for one agent's registry.
type Scheduler struct {
	role       string
	reg        *registry.Registry
	log        zerolog.Logger
	metrics    *metrics.Metrics
	taskChecks []Check
	gameChecks []Check
	onDrained  func()
}

// New creates a scheduler over reg.
func New(role string, reg *registry.Registry, log zerolog.Logger, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		role:    role,
		reg:     reg,
		log:     log.With().Str("component", "scheduler").Logger(),
		metrics: m,
	}
}

// Tasks sets the checks evaluated for every owned task, in order.
func (s *Scheduler) Tasks(checks ...Check) { s.taskChecks = checks }

// Games sets the checks evaluated for every owned game, in order.
func (s *Scheduler) Games(checks ...Check) { s.gameChecks = checks }

// OnDrained sets the function called once the registry is exiting and empty.
func (s *Scheduler) OnDrained(fn func()) { s.onDrained = fn }

// Evaluate runs one tick. For each entity that is not cooling down the
// checks run in order; the first ready check marks the entity busy and
// fires, and the entity's remaining checks wait for a later tick.
func (s *Scheduler) Evaluate(ctx context.Context) {
	if s.reg.Exiting() && s.reg.TaskCount() == 0 {
		if s.reg.MarkExited() {
			s.log.Info().Str("role", s.role).Msg("Exiting")
			if s.onDrained != nil {
				s.onDrained()
			}
		}
		return
	}

	s.reg.Compact()
	s.metrics.RegistrySize(s.role, s.reg.TaskCount(), s.reg.GameCount())

	for _, id := range s.reg.TaskIDs() {
		s.evaluate(ctx, "task", id, s.taskChecks)
	}
	for _, id := range s.reg.GameIDs() {
		s.evaluate(ctx, "game", id, s.gameChecks)
	}
}

func (s *Scheduler) evaluate(ctx context.Context, kind string, id common.Hash, checks []Check) {
	if s.reg.IsBusy(id) {
		s.log.Debug().Str("role", s.role).Str(kind, id.Hex()).Msg("Busy")
		return
	}
	for _, c := range checks {
		if ctx.Err() != nil {
			return
		}
		ready, err := c.Ready(ctx, id)
		if err != nil {
			s.metrics.SchedulerCheck(s.role, c.Name, metrics.OutcomeError)
			s.log.Error().Err(err).Str("role", s.role).Str(kind, id.Hex()).Str("check", c.Name).
				Msg("Error while handling timeouts")
			return
		}
		if !ready {
			s.metrics.SchedulerCheck(s.role, c.Name, metrics.OutcomeIdle)
			continue
		}

		s.reg.MarkBusy(id)
		if err := c.Fire(ctx, id); err != nil {
			s.metrics.SchedulerCheck(s.role, c.Name, metrics.OutcomeError)
			s.log.Error().Err(err).Str("role", s.role).Str(kind, id.Hex()).Str("check", c.Name).
				Msg("Timeout transaction failed")
			return
		}
		s.metrics.SchedulerCheck(s.role, c.Name, metrics.OutcomeFired)
		s.log.Info().Str("role", s.role).Str(kind, id.Hex()).Str("check", c.Name).Msg("Timeout transaction sent")
		return
	}
}

// Run requests a tick from queue every interval until ctx is done.
func Run(ctx context.Context, interval time.Duration, queue TickQueue) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := queue.RequestTick(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}
