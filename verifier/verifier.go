// Package verifier runs the agent that recomputes committed solutions and
// challenges the ones it disagrees with.
package verifier

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"github.com/cryptobuks/truebit-os/agent"
	"github.com/cryptobuks/truebit-os/bisection"
	"github.com/cryptobuks/truebit-os/contract"
	"github.com/cryptobuks/truebit-os/dispatch"
	"github.com/cryptobuks/truebit-os/execution"
	"github.com/cryptobuks/truebit-os/registry"
	"github.com/cryptobuks/truebit-os/scheduler"
)

// DefaultThrottle is the task cap used when Config.Throttle is unset.
const DefaultThrottle = 1

// DefaultStake is the deposit sent with a challenge, 0.01 ether.
var DefaultStake = big.NewInt(10_000_000_000_000_000)

// Config holds the verifier-only settings.
type Config struct {
	// Throttle caps the number of tasks serviced at once.
	Throttle int
	Stake    *big.Int
	// ForceChallenge disputes every solution. Test networks only.
	ForceChallenge bool
}

// Deps are the collaborators of a verifier.
type Deps struct {
	Incentive contract.IncentiveLayer
	Dispute   contract.DisputeLayer
	Provider  execution.Provider
}

// Verifier is the challenger role.
type Verifier struct {
	*agent.Runtime

	cfg        Config
	incentive  contract.IncentiveLayer
	dispute    contract.DisputeLayer
	provider   execution.Provider
	challenger *bisection.Challenger
	log        zerolog.Logger
}

var _ agent.Agent = (*Verifier)(nil)

// New wires a verifier. It does not start it.
func New(opts agent.Options, cfg Config, deps Deps) *Verifier {
	if cfg.Throttle <= 0 {
		cfg.Throttle = DefaultThrottle
	}
	if cfg.Stake == nil {
		cfg.Stake = new(big.Int).Set(DefaultStake)
	}

	rt := agent.NewRuntime(agent.RoleVerifier, opts)
	v := &Verifier{
		Runtime:   rt,
		cfg:       cfg,
		incentive: deps.Incentive,
		dispute:   deps.Dispute,
		provider:  deps.Provider,
		log:       rt.Logger(),
	}
	v.challenger = bisection.NewChallenger(deps.Dispute, v.log)
	if cfg.ForceChallenge {
		v.log.Warn().Msg("Challenging every solution")
	}

	mgr := rt.Manager()
	mgr.Subscribe(contract.EventSolutionsCommitted, v.onSolutionsCommitted)
	mgr.Subscribe(contract.EventVerificationCommitted, v.onVerificationCommitted)
	mgr.Subscribe(contract.EventTaskFinalized, v.onTaskFinalized)
	mgr.Subscribe(contract.EventSlashedDeposit, v.onSlashedDeposit)
	mgr.Subscribe(contract.EventStartChallenge, v.onStartChallenge)
	mgr.Subscribe(contract.EventReported, v.onReported)
	mgr.Subscribe(contract.EventPostedPhases, v.onPostedPhases)
	mgr.Subscribe(contract.EventSelectedPhase, v.onSelectedPhase)
	mgr.Subscribe(contract.EventWinnerSelected, v.onWinnerSelected)

	mgr.SetRecovery(dispatch.Recovery{
		TaskEvent:   contract.EventSolutionsCommitted,
		IsParty:     func(ev *contract.StartChallenge) bool { return ev.C == opts.Account },
		RecoverTask: v.recoverTask,
		RecoverGame: v.recoverGame,
	})

	sched := rt.Scheduler()
	sched.Tasks(
		scheduler.Check{Name: "solverLoses", Ready: deps.Incentive.CanSolverLose, Fire: deps.Incentive.SolverLoses},
		scheduler.Check{Name: "taskTimeout", Ready: deps.Incentive.IsTaskTimeout, Fire: deps.Incentive.TaskTimeout},
	)
	sched.Games(scheduler.Check{Name: "gameOver", Ready: deps.Dispute.IsGameOver, Fire: v.gameOver})
	return v
}

// verify registers and recomputes a task.
func (v *Verifier) verify(ctx context.Context, taskID, solverHash common.Hash) (*registry.Task, error) {
	info, err := v.incentive.GetTaskInfo(ctx, taskID)
	if err != nil {
		return nil, err
	}
	info.TaskID = taskID

	trace, err := v.provider.Prepare(ctx, info)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare task %s: %w", taskID.Hex(), err)
	}
	solution, err := trace.Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to execute task %s: %w", taskID.Hex(), err)
	}

	t := v.Registry().AddTask(taskID)
	t.Info = info
	t.Trace = trace
	t.Solution = solution
	t.SolverHash = solverHash
	t.State = registry.TaskSolutionCommitted
	return t, nil
}

// myHash is the hash the verifier compares with the committed one.
func (v *Verifier) myHash(solution execution.Solution) common.Hash {
	if v.cfg.ForceChallenge {
		return crypto.Keccak256Hash(solution.Hash.Bytes())
	}
	return solution.Hash
}

func (v *Verifier) onSolutionsCommitted(ctx context.Context, rec contract.Record) error {
	ev := rec.Event.(*contract.SolutionsCommitted)
	reg := v.Registry()
	if reg.Exiting() {
		return nil
	}
	if _, ok := reg.Task(ev.TaskID); ok {
		return nil
	}
	if reg.TaskCount() >= v.cfg.Throttle {
		v.log.Info().Str("task", ev.TaskID.Hex()).Int("active", reg.TaskCount()).Msg("At capacity, skipping task")
		return nil
	}

	v.log.Info().Str("task", ev.TaskID.Hex()).Msg("Solution has been posted, executing task")
	t, err := v.verify(ctx, ev.TaskID, ev.SolutionHash)
	if err != nil {
		return err
	}

	if v.myHash(t.Solution) == t.SolverHash {
		v.log.Info().Str("task", t.ID.Hex()).Msg("Solution was correct")
		return nil
	}

	if err := v.incentive.MakeChallenge(ctx, t.ID, v.cfg.Stake); err != nil {
		return fmt.Errorf("failed to challenge task %s: %w", t.ID.Hex(), err)
	}
	t.State = registry.TaskDisputed
	v.log.Info().Str("task", t.ID.Hex()).Str("stake", v.cfg.Stake.String()).Msg("Challenged solution")
	return nil
}

func (v *Verifier) onVerificationCommitted(_ context.Context, rec contract.Record) error {
	ev := rec.Event.(*contract.VerificationCommitted)
	if t, ok := v.Registry().Task(ev.TaskID); ok && ev.Verifier == v.Account() {
		t.State = registry.TaskDisputed
	}
	return nil
}

func (v *Verifier) onTaskFinalized(_ context.Context, rec contract.Record) error {
	ev := rec.Event.(*contract.TaskFinalized)
	if v.Registry().RemoveTask(ev.TaskID) {
		v.log.Info().Str("task", ev.TaskID.Hex()).Msg("Task finalized")
	}
	return nil
}

func (v *Verifier) onSlashedDeposit(_ context.Context, rec contract.Record) error {
	ev := rec.Event.(*contract.SlashedDeposit)
	if ev.Account == v.Account() {
		v.log.Warn().Str("task", ev.TaskID.Hex()).Str("amount", ev.Amount.String()).Msg("Deposit was slashed")
	}
	return nil
}

func (v *Verifier) onStartChallenge(ctx context.Context, rec contract.Record) error {
	ev := rec.Event.(*contract.StartChallenge)
	if ev.C != v.Account() {
		return nil
	}
	taskID, err := v.dispute.GetTask(ctx, ev.GameID)
	if err != nil {
		return err
	}
	added := v.Registry().AddGame(&registry.Game{
		ID:         ev.GameID,
		TaskID:     taskID,
		Prover:     ev.P,
		Challenger: ev.C,
		Low:        ev.Idx1.Uint64(),
		High:       ev.Idx2.Uint64(),
		State:      registry.GameInitialized,
	})
	if added {
		v.log.Info().Str("task", taskID.Hex()).Str("game", ev.GameID.Hex()).Str("prover", ev.P.Hex()).Msg("Game started")
	}
	return nil
}

func (v *Verifier) ownedGame(gameID common.Hash) (*registry.Game, *registry.Task, error) {
	g, ok := v.Registry().Game(gameID)
	if !ok {
		return nil, nil, nil
	}
	t, ok := v.Registry().Task(g.TaskID)
	if !ok {
		return g, nil, fmt.Errorf("game %s: task %s: %w", gameID.Hex(), g.TaskID.Hex(), registry.ErrUnknownTask)
	}
	return g, t, nil
}

func (v *Verifier) onReported(ctx context.Context, rec contract.Record) error {
	ev := rec.Event.(*contract.Reported)
	g, t, err := v.ownedGame(ev.GameID)
	if g == nil || err != nil {
		return err
	}
	g.Low, g.High = ev.Idx1.Uint64(), ev.Idx2.Uint64()
	g.State = registry.GameQuerying

	_, err = v.challenger.OnReport(ctx, g.ID, g.Low, g.High, ev.Arr, t.Trace)
	return err
}

func (v *Verifier) onPostedPhases(ctx context.Context, rec contract.Record) error {
	ev := rec.Event.(*contract.PostedPhases)
	g, t, err := v.ownedGame(ev.GameID)
	if g == nil || err != nil {
		return err
	}
	g.Step = ev.Idx1.Uint64()
	g.State = registry.GamePhaseSelection
	v.log.Info().Str("game", g.ID.Hex()).Uint64("step", g.Step).Msg("Phases posted")

	phase, selected, err := v.challenger.OnPostedPhases(ctx, g.ID, g.Step, ev.Arr, t.Trace)
	if err != nil {
		return err
	}
	if selected {
		g.Phase = phase
	}
	return nil
}

func (v *Verifier) onSelectedPhase(_ context.Context, rec contract.Record) error {
	ev := rec.Event.(*contract.SelectedPhase)
	if g, ok := v.Registry().Game(ev.GameID); ok {
		g.State = registry.GameJudgeCalled
	}
	return nil
}

func (v *Verifier) onWinnerSelected(_ context.Context, rec contract.Record) error {
	ev := rec.Event.(*contract.WinnerSelected)
	if v.Registry().RemoveGame(ev.GameID) {
		v.log.Info().Str("game", ev.GameID.Hex()).Msg("Winner selected")
	}
	return nil
}

func (v *Verifier) gameOver(ctx context.Context, gameID common.Hash) error {
	if err := v.dispute.GameOver(ctx, gameID); err != nil {
		return err
	}
	if g, ok := v.Registry().Game(gameID); ok {
		g.State = registry.GameOver
	}
	return nil
}

// recoverTask re-executes a task seen during the recovery window without
// challenging it again. Tasks beyond the throttle are skipped as they are
// when live.
func (v *Verifier) recoverTask(ctx context.Context, taskID common.Hash) error {
	if n := v.Registry().TaskCount(); n >= v.cfg.Throttle {
		v.log.Info().Str("task", taskID.Hex()).Int("active", n).Msg("At capacity, not recovering task")
		return nil
	}
	v.log.Info().Str("task", taskID.Hex()).Msg("Recovering task")
	sol, err := v.incentive.GetSolutionInfo(ctx, taskID)
	if err != nil {
		return err
	}
	_, err = v.verify(ctx, taskID, sol.SolutionHash0)
	return err
}

func (v *Verifier) recoverGame(ctx context.Context, gameID common.Hash) error {
	taskID, err := v.dispute.GetTask(ctx, gameID)
	if err != nil {
		return err
	}
	if _, ok := v.Registry().Task(taskID); !ok {
		return fmt.Errorf("game %s: task %s: %w", gameID.Hex(), taskID.Hex(), registry.ErrUnknownTask)
	}
	low, high, err := v.dispute.GetIndices(ctx, gameID)
	if err != nil {
		return err
	}
	v.Registry().AddGame(&registry.Game{ID: gameID, TaskID: taskID, Challenger: v.Account(), Low: low, High: high, State: registry.GameQuerying})
	v.log.Info().Str("task", taskID.Hex()).Str("game", gameID.Hex()).Msg("Recovered game")
	return nil
}
