// Package solver runs the agent that computes task solutions and defends
// them in verification games.
package solver

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/cryptobuks/truebit-os/agent"
	"github.com/cryptobuks/truebit-os/bisection"
	"github.com/cryptobuks/truebit-os/contract"
	"github.com/cryptobuks/truebit-os/dispatch"
	"github.com/cryptobuks/truebit-os/execution"
	"github.com/cryptobuks/truebit-os/registry"
	"github.com/cryptobuks/truebit-os/scheduler"
	"github.com/cryptobuks/truebit-os/storage"
)

// Deps are the collaborators of a solver.
type Deps struct {
	Incentive contract.IncentiveLayer
	Dispute   contract.DisputeLayer
	Provider  execution.Provider
	// Uploader stores output files after reveal. Nil skips the upload.
	Uploader storage.Uploader
}

// Solver is the prover role.
type Solver struct {
	*agent.Runtime

	incentive contract.IncentiveLayer
	dispute   contract.DisputeLayer
	provider  execution.Provider
	uploader  storage.Uploader
	prover    *bisection.Prover
	log       zerolog.Logger
}

var _ agent.Agent = (*Solver)(nil)

// New wires a solver. It does not start it.
func New(opts agent.Options, deps Deps) *Solver {
	rt := agent.NewRuntime(agent.RoleSolver, opts)
	s := &Solver{
		Runtime:   rt,
		incentive: deps.Incentive,
		dispute:   deps.Dispute,
		provider:  deps.Provider,
		uploader:  deps.Uploader,
		log:       rt.Logger(),
	}
	s.prover = bisection.NewProver(deps.Dispute, s.log)

	mgr := rt.Manager()
	mgr.Subscribe(contract.EventTaskCreated, s.onTaskCreated)
	mgr.Subscribe(contract.EventSolutionsCommitted, s.onSolutionsCommitted)
	mgr.Subscribe(contract.EventEndRevealPeriod, s.onEndRevealPeriod)
	mgr.Subscribe(contract.EventSolutionRevealed, s.onSolutionRevealed)
	mgr.Subscribe(contract.EventVerificationCommitted, s.onVerificationCommitted)
	mgr.Subscribe(contract.EventTaskFinalized, s.onTaskFinalized)
	mgr.Subscribe(contract.EventSlashedDeposit, s.onSlashedDeposit)
	mgr.Subscribe(contract.EventStartChallenge, s.onStartChallenge)
	mgr.Subscribe(contract.EventQueried, s.onQueried)
	mgr.Subscribe(contract.EventSelectedPhase, s.onSelectedPhase)
	mgr.Subscribe(contract.EventWinnerSelected, s.onWinnerSelected)

	mgr.SetRecovery(dispatch.Recovery{
		TaskEvent:   contract.EventTaskCreated,
		IsParty:     func(ev *contract.StartChallenge) bool { return ev.P == opts.Account },
		RecoverTask: s.recoverTask,
		RecoverGame: s.recoverGame,
	})

	sched := rt.Scheduler()
	sched.Tasks(
		scheduler.Check{Name: "endChallengePeriod", Ready: deps.Incentive.CanEndChallengePeriod, Fire: deps.Incentive.EndChallengePeriod},
		scheduler.Check{Name: "runVerificationGame", Ready: deps.Incentive.CanRunVerificationGame, Fire: deps.Incentive.RunVerificationGame},
		scheduler.Check{Name: "finalizeTask", Ready: deps.Incentive.CanFinalizeTask, Fire: deps.Incentive.FinalizeTask},
	)
	sched.Games(scheduler.Check{Name: "gameOver", Ready: deps.Dispute.IsGameOver, Fire: s.gameOver})
	return s
}

// solve prepares and runs task.
func (s *Solver) solve(ctx context.Context, t *registry.Task) error {
	trace, err := s.provider.Prepare(ctx, t.Info)
	if err != nil {
		return fmt.Errorf("failed to prepare task %s: %w", t.ID.Hex(), err)
	}
	solution, err := trace.Execute(ctx)
	if err != nil {
		return fmt.Errorf("failed to execute task %s: %w", t.ID.Hex(), err)
	}
	t.Trace = trace
	t.Solution = solution
	return nil
}

func (s *Solver) register(ctx context.Context, taskID common.Hash) (*registry.Task, error) {
	info, err := s.incentive.GetTaskInfo(ctx, taskID)
	if err != nil {
		return nil, err
	}
	info.TaskID = taskID
	t := s.Registry().AddTask(taskID)
	t.Info = info
	return t, nil
}

func (s *Solver) onTaskCreated(ctx context.Context, rec contract.Record) error {
	ev := rec.Event.(*contract.TaskCreated)
	if s.Registry().Exiting() {
		s.log.Debug().Str("task", ev.TaskID.Hex()).Msg("Exiting, ignoring new task")
		return nil
	}
	if t, ok := s.Registry().Task(ev.TaskID); ok && t.Trace != nil {
		return nil
	}

	s.log.Info().Str("task", ev.TaskID.Hex()).Msg("Task has been posted, going to solve it")
	t, err := s.register(ctx, ev.TaskID)
	if err != nil {
		return err
	}
	if err := s.solve(ctx, t); err != nil {
		s.Registry().RemoveTask(t.ID)
		return err
	}

	if err := s.incentive.CommitSolution(ctx, t.ID, t.Solution.Hash); err != nil {
		return fmt.Errorf("unsuccessful submission for task %s: %w", t.ID.Hex(), err)
	}
	t.State = registry.TaskSolutionCommitted
	s.log.Info().Str("task", t.ID.Hex()).Str("solution", t.Solution.Hash.Hex()).Msg("Submitted solution")
	return nil
}

func (s *Solver) onSolutionsCommitted(_ context.Context, rec contract.Record) error {
	ev := rec.Event.(*contract.SolutionsCommitted)
	if t, ok := s.Registry().Task(ev.TaskID); ok {
		s.log.Debug().Str("task", t.ID.Hex()).Msg("Solution hash committed")
	}
	return nil
}

func (s *Solver) onEndRevealPeriod(ctx context.Context, rec contract.Record) error {
	ev := rec.Event.(*contract.EndRevealPeriod)
	t, ok := s.Registry().Task(ev.TaskID)
	if !ok {
		return nil
	}
	if t.Trace == nil {
		return fmt.Errorf("task %s: %w", t.ID.Hex(), execution.ErrNoTrace)
	}
	t.State = registry.TaskChallengePeriodEnded

	vm := t.Solution.VM
	err := s.incentive.RevealSolution(ctx, t.ID, contract.Reveal{
		CodeRoot:  vm.Code,
		InputSize: vm.InputSize,
		InputName: vm.InputName,
		InputData: vm.InputData,
	})
	if err != nil {
		return err
	}
	t.State = registry.TaskRevealed

	if err := s.uploadOutputs(ctx, t); err != nil {
		return err
	}
	s.log.Info().Str("task", t.ID.Hex()).Msg("Revealed solution, outputs have been uploaded")
	return nil
}

func (s *Solver) uploadOutputs(ctx context.Context, t *registry.Task) error {
	if s.uploader == nil {
		return nil
	}
	files, err := t.Trace.OutputFiles(ctx)
	if err != nil {
		return fmt.Errorf("failed to read outputs of task %s: %w", t.ID.Hex(), err)
	}
	if _, err := s.uploader.Upload(ctx, files); err != nil {
		return fmt.Errorf("failed to upload outputs of task %s: %w", t.ID.Hex(), err)
	}
	return nil
}

func (s *Solver) onSolutionRevealed(_ context.Context, rec contract.Record) error {
	ev := rec.Event.(*contract.SolutionRevealed)
	if t, ok := s.Registry().Task(ev.TaskID); ok && t.State < registry.TaskRevealed {
		t.State = registry.TaskRevealed
	}
	return nil
}

func (s *Solver) onVerificationCommitted(_ context.Context, rec contract.Record) error {
	ev := rec.Event.(*contract.VerificationCommitted)
	if t, ok := s.Registry().Task(ev.TaskID); ok {
		s.log.Info().Str("task", t.ID.Hex()).Str("verifier", ev.Verifier.Hex()).Msg("Solution has been challenged")
		if t.State < registry.TaskDisputed {
			t.State = registry.TaskDisputed
		}
	}
	return nil
}

func (s *Solver) onTaskFinalized(_ context.Context, rec contract.Record) error {
	ev := rec.Event.(*contract.TaskFinalized)
	if s.Registry().RemoveTask(ev.TaskID) {
		s.log.Info().Str("task", ev.TaskID.Hex()).Msg("Task finalized")
	}
	return nil
}

func (s *Solver) onSlashedDeposit(_ context.Context, rec contract.Record) error {
	ev := rec.Event.(*contract.SlashedDeposit)
	if ev.Account == s.Account() {
		s.log.Warn().Str("task", ev.TaskID.Hex()).Str("amount", ev.Amount.String()).Msg("Deposit was slashed")
	}
	return nil
}

func (s *Solver) onStartChallenge(ctx context.Context, rec contract.Record) error {
	ev := rec.Event.(*contract.StartChallenge)
	if ev.P != s.Account() {
		return nil
	}
	if _, ok := s.Registry().Game(ev.GameID); ok {
		return nil
	}

	taskID, err := s.dispute.GetTask(ctx, ev.GameID)
	if err != nil {
		return err
	}
	t, ok := s.Registry().Task(taskID)
	if !ok {
		return fmt.Errorf("game %s: task %s: %w", ev.GameID.Hex(), taskID.Hex(), registry.ErrUnknownTask)
	}
	s.log.Info().Str("task", taskID.Hex()).Str("game", ev.GameID.Hex()).Msg("Solution has been challenged")

	g := &registry.Game{
		ID:         ev.GameID,
		TaskID:     taskID,
		Prover:     ev.P,
		Challenger: ev.C,
		High:       t.Solution.Steps + 1,
		State:      registry.GameInitialized,
	}
	s.Registry().AddGame(g)

	low, high, err := s.prover.Start(ctx, g.ID, t.Trace)
	if err != nil {
		return err
	}
	g.Low, g.High = low, high
	g.State = registry.GameQuerying
	return nil
}

func (s *Solver) ownedGame(gameID common.Hash) (*registry.Game, *registry.Task, error) {
	g, ok := s.Registry().Game(gameID)
	if !ok {
		return nil, nil, nil
	}
	t, ok := s.Registry().Task(g.TaskID)
	if !ok {
		return g, nil, fmt.Errorf("game %s: task %s: %w", gameID.Hex(), g.TaskID.Hex(), registry.ErrUnknownTask)
	}
	return g, t, nil
}

func (s *Solver) onQueried(ctx context.Context, rec contract.Record) error {
	ev := rec.Event.(*contract.Queried)
	g, t, err := s.ownedGame(ev.GameID)
	if g == nil || err != nil {
		return err
	}
	g.Low, g.High = ev.Idx1.Uint64(), ev.Idx2.Uint64()
	s.log.Info().Str("task", t.ID.Hex()).Str("game", g.ID.Hex()).Uint64("low", g.Low).Uint64("high", g.High).Msg("Received query")

	if err := s.prover.OnQuery(ctx, g.ID, g.Low, g.High, t.Trace); err != nil {
		return err
	}
	if bisection.Final(g.Low, g.High) {
		g.Step = g.Low
		g.State = registry.GamePhaseSelection
	}
	return nil
}

func (s *Solver) onSelectedPhase(ctx context.Context, rec contract.Record) error {
	ev := rec.Event.(*contract.SelectedPhase)
	g, t, err := s.ownedGame(ev.GameID)
	if g == nil || err != nil {
		return err
	}
	g.Step, g.Phase = ev.Idx1.Uint64(), int(ev.Phase.Int64())

	if _, err := s.prover.OnSelectedPhase(ctx, g.ID, g.Step, g.Phase, t.Trace); err != nil {
		return err
	}
	g.State = registry.GameJudgeCalled
	return nil
}

func (s *Solver) onWinnerSelected(_ context.Context, rec contract.Record) error {
	ev := rec.Event.(*contract.WinnerSelected)
	if s.Registry().RemoveGame(ev.GameID) {
		s.log.Info().Str("game", ev.GameID.Hex()).Msg("Winner selected")
	}
	return nil
}

func (s *Solver) gameOver(ctx context.Context, gameID common.Hash) error {
	if err := s.dispute.GameOver(ctx, gameID); err != nil {
		return err
	}
	if g, ok := s.Registry().Game(gameID); ok {
		g.State = registry.GameOver
	}
	return nil
}

// recoverTask re-executes a task seen during the recovery window without
// committing anything.
func (s *Solver) recoverTask(ctx context.Context, taskID common.Hash) error {
	s.log.Info().Str("task", taskID.Hex()).Msg("Recovering task")
	t, err := s.register(ctx, taskID)
	if err != nil {
		return err
	}
	if err := s.solve(ctx, t); err != nil {
		s.Registry().RemoveTask(taskID)
		return err
	}
	return nil
}

// recoverGame restores a game at the window the ledger currently holds.
func (s *Solver) recoverGame(ctx context.Context, gameID common.Hash) error {
	taskID, err := s.dispute.GetTask(ctx, gameID)
	if err != nil {
		return err
	}
	t, ok := s.Registry().Task(taskID)
	if !ok {
		return fmt.Errorf("game %s: task %s: %w", gameID.Hex(), taskID.Hex(), registry.ErrUnknownTask)
	}
	low, high, err := s.dispute.GetIndices(ctx, gameID)
	if err != nil {
		return err
	}
	if high == 0 {
		high = t.Solution.Steps + 1
	}
	state := registry.GameQuerying
	if bisection.Final(low, high) {
		state = registry.GamePhaseSelection
	}
	s.Registry().AddGame(&registry.Game{ID: gameID, TaskID: taskID, Prover: s.Account(), Low: low, High: high, Step: low, State: state})
	s.log.Info().Str("task", taskID.Hex()).Str("game", gameID.Hex()).Uint64("low", low).Uint64("high", high).Msg("Recovered game")
	return nil
}
