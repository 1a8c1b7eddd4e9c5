// Package agent holds the runtime shared by the solver and verifier roles:
// a registry, the dispatch loop that owns it, and the timeout scheduler.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cryptobuks/truebit-os/contract"
	"github.com/cryptobuks/truebit-os/dispatch"
	"github.com/cryptobuks/truebit-os/metrics"
	"github.com/cryptobuks/truebit-os/registry"
	"github.com/cryptobuks/truebit-os/scheduler"
)

// Role names, used in agent names, logs and metric labels.
const (
	RoleSolver   = "solver"
	RoleVerifier = "verifier"
)

const (
	// DefaultTickInterval is how often the scheduler evaluates open tasks
	// and games when Options.TickInterval is unset.
	DefaultTickInterval = 2 * time.Second
	// DefaultWaitTime is how long a task or game stays busy after a
	// transaction is sent for it.
	DefaultWaitTime = 30 * time.Second
)

// Agent is a running participant as seen by the supervisor and the monitor.
type Agent interface {
	Name() string
	Role() string
	Account() common.Address
	Deliver(ctx context.Context, rec contract.Record) error
	// CaughtUp is called once every record of the recovery window has
	// been delivered.
	CaughtUp(ctx context.Context) error
	Run(ctx context.Context) error
	Exit()
	Done() <-chan struct{}
}

// Options are the settings every role shares.
type Options struct {
	Account      common.Address
	Recovering   bool
	WaitTime     time.Duration
	TickInterval time.Duration
	Metrics      *metrics.Metrics
	Log          zerolog.Logger
}

// Runtime wires a registry to its dispatch loop and scheduler.
type Runtime struct {
	role     string
	account  common.Address
	interval time.Duration
	log      zerolog.Logger

	reg   *registry.Registry
	mgr   *dispatch.Manager
	sched *scheduler.Scheduler

	doneOnce sync.Once
	done     chan struct{}
}

// NewRuntime creates the runtime for role.
func NewRuntime(role string, opts Options) *Runtime {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	log := opts.Log.With().Str("role", role).Str("account", opts.Account.Hex()).Logger()
	reg := registry.New(opts.WaitTime)

	r := &Runtime{
		role:     role,
		account:  opts.Account,
		interval: opts.TickInterval,
		log:      log,
		reg:      reg,
		mgr:      dispatch.New(role, reg, opts.Recovering, log, dispatch.WithMetrics(opts.Metrics)),
		sched:    scheduler.New(role, reg, log, opts.Metrics),
		done:     make(chan struct{}),
	}
	r.sched.OnDrained(r.markDone)
	r.mgr.OnTick(r.sched.Evaluate)
	return r
}

func (r *Runtime) markDone() {
	r.doneOnce.Do(func() { close(r.done) })
}

// Name identifies the agent among several on one process.
func (r *Runtime) Name() string { return fmt.Sprintf("%s-%s", r.role, r.account.Hex()) }

// Role returns the agent role.
func (r *Runtime) Role() string { return r.role }

// Account returns the address the agent signs with.
func (r *Runtime) Account() common.Address { return r.account }

// Registry returns the agent's registry.
func (r *Runtime) Registry() *registry.Registry { return r.reg }

// Manager returns the agent's dispatch loop.
func (r *Runtime) Manager() *dispatch.Manager { return r.mgr }

// Scheduler returns the agent's timeout scheduler.
func (r *Runtime) Scheduler() *scheduler.Scheduler { return r.sched }

// Logger returns the agent's logger.
func (r *Runtime) Logger() zerolog.Logger { return r.log }

// Deliver queues a ledger record for the dispatch loop.
func (r *Runtime) Deliver(ctx context.Context, rec contract.Record) error {
	return r.mgr.Deliver(ctx, rec)
}

// CaughtUp queues the end-of-history marker behind the records already
// delivered.
func (r *Runtime) CaughtUp(ctx context.Context) error {
	return r.mgr.CaughtUp(ctx)
}

// Exit stops intake of new tasks. The agent finishes once its registry
// holds no task.
func (r *Runtime) Exit() {
	r.log.Info().Msg("Exit requested")
	r.reg.Exit()
}

// Done is closed once the agent has drained after Exit.
func (r *Runtime) Done() <-chan struct{} { return r.done }

// Run drives the dispatch loop and the tick source until ctx is done or
// the agent has drained.
func (r *Runtime) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.log.Info().Dur("tick", r.interval).Bool("recovering", r.mgr.Recovering()).Msg("Agent started")
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.mgr.Run(ctx) })
	g.Go(func() error { return scheduler.Run(ctx, r.interval, r.mgr) })
	g.Go(func() error {
		select {
		case <-r.done:
			cancel()
		case <-ctx.Done():
		}
		return nil
	})

	err := g.Wait()
	r.log.Info().Msg("Agent stopped")
	return err
}
