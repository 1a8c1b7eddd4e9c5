package bisection

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/cryptobuks/truebit-os/contract"
	"github.com/cryptobuks/truebit-os/execution"
)

// Prover plays the reporting side of a game.
type Prover struct {
	dispute contract.DisputeLayer
	log     zerolog.Logger
}

// NewProver creates a prover that submits to dispute.
func NewProver(dispute contract.DisputeLayer, log zerolog.Logger) *Prover {
	return &Prover{dispute: dispute, log: log}
}

// Start initializes the game over the full run of trace and answers the
// implied first query. It returns the window the ledger reports.
func (p *Prover) Start(ctx context.Context, gameID common.Hash, trace execution.Trace) (uint64, uint64, error) {
	if trace == nil {
		return 0, 0, execution.ErrNoTrace
	}
	initial, err := trace.Initialize(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to initialize trace: %w", err)
	}
	final, err := trace.OutputVM(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read output vm: %w", err)
	}

	err = p.dispute.Initialize(ctx, contract.GameSetup{
		GameID:        gameID,
		StartRoots:    initial.VM.Roots(),
		StartPointers: initial.VM.Pointers(),
		Steps:         final.Steps + 1,
		EndRoots:      final.VM.Roots(),
		EndPointers:   final.VM.Pointers(),
	})
	if err != nil {
		return 0, 0, err
	}
	p.log.Info().Str("game", gameID.Hex()).Uint64("steps", final.Steps+1).Msg("Game initialized")

	low, high, err := p.dispute.GetIndices(ctx, gameID)
	if err != nil {
		return 0, 0, err
	}
	if err := p.report(ctx, gameID, low, high, trace); err != nil {
		return low, high, err
	}
	return low, high, nil
}

// OnQuery answers a narrowed window: a report on its midpoint while the
// window is wider than one step, otherwise the phase states of that step.
func (p *Prover) OnQuery(ctx context.Context, gameID common.Hash, low, high uint64, trace execution.Trace) error {
	if trace == nil {
		return execution.ErrNoTrace
	}
	if high <= low {
		return fmt.Errorf("invalid window [%d, %d]", low, high)
	}
	if !Final(low, high) {
		return p.report(ctx, gameID, low, high, trace)
	}

	res, err := trace.Step(ctx, low)
	if err != nil {
		return fmt.Errorf("failed to compute step %d: %w", low, err)
	}
	if err := p.dispute.PostPhases(ctx, gameID, low, res.States); err != nil {
		return err
	}
	p.log.Info().Str("game", gameID.Hex()).Uint64("step", low).Msg("Phases posted")
	return nil
}

func (p *Prover) report(ctx context.Context, gameID common.Hash, low, high uint64, trace execution.Trace) error {
	step := Midpoint(low, high)
	state, err := trace.Location(ctx, step)
	if err != nil {
		return fmt.Errorf("failed to compute state at step %d: %w", step, err)
	}
	if err := p.dispute.Report(ctx, gameID, low, high, []common.Hash{state}); err != nil {
		return err
	}
	p.log.Info().
		Str("game", gameID.Hex()).
		Uint64("step", step).
		Uint64("low", low).
		Uint64("high", high).
		Msg("State reported")
	return nil
}

// OnSelectedPhase sends the proof of the selected phase to the judge.
func (p *Prover) OnSelectedPhase(ctx context.Context, gameID common.Hash, step uint64, phase int, trace execution.Trace) (BundleKind, error) {
	if trace == nil {
		return JudgeBundle, execution.ErrNoTrace
	}
	res, err := trace.Step(ctx, step)
	if err != nil {
		return JudgeBundle, fmt.Errorf("failed to compute step %d: %w", step, err)
	}
	bundle, err := BuildBundle(gameID, step, phase, res)
	if err != nil {
		return JudgeBundle, err
	}

	switch bundle.Kind {
	case CustomBundle:
		err = p.dispute.CallCustomJudge(ctx, bundle.Custom)
	default:
		err = p.dispute.CallJudge(ctx, bundle.Judge)
	}
	if err != nil {
		return bundle.Kind, err
	}
	p.log.Info().
		Str("game", gameID.Hex()).
		Uint64("step", step).
		Str("phase", execution.PhaseTable[phase]).
		Stringer("judge", bundle.Kind).
		Msg("Judge called")
	return bundle.Kind, nil
}

// Challenger plays the querying side of a game.
type Challenger struct {
	dispute contract.DisputeLayer
	log     zerolog.Logger
}

// NewChallenger creates a challenger that submits to dispute.
func NewChallenger(dispute contract.DisputeLayer, log zerolog.Logger) *Challenger {
	return &Challenger{dispute: dispute, log: log}
}

// OnReport compares the reported midpoint state with the local one and
// queries with the outcome. The report is echoed back verbatim.
func (c *Challenger) OnReport(ctx context.Context, gameID common.Hash, low, high uint64, reported []common.Hash, trace execution.Trace) (bool, error) {
	if trace == nil {
		return false, execution.ErrNoTrace
	}
	if len(reported) == 0 {
		return false, fmt.Errorf("empty report for game %s", gameID.Hex())
	}
	step := Midpoint(low, high)
	mine, err := trace.Location(ctx, step)
	if err != nil {
		return false, fmt.Errorf("failed to compute state at step %d: %w", step, err)
	}

	agree := mine == reported[0]
	if err := c.dispute.Query(ctx, gameID, low, high, agree, reported); err != nil {
		return agree, err
	}
	c.log.Info().
		Str("game", gameID.Hex()).
		Uint64("step", step).
		Uint64("low", low).
		Uint64("high", high).
		Bool("agree", agree).
		Msg("Report answered")
	return agree, nil
}

// OnPostedPhases selects the first posted phase that differs from the
// local one. When every phase agrees nothing is sent.
func (c *Challenger) OnPostedPhases(ctx context.Context, gameID common.Hash, step uint64, posted [contract.PhaseCount]common.Hash, trace execution.Trace) (int, bool, error) {
	if trace == nil {
		return 0, false, execution.ErrNoTrace
	}
	res, err := trace.Step(ctx, step)
	if err != nil {
		return 0, false, fmt.Errorf("failed to compute step %d: %w", step, err)
	}

	phase, ok := SelectPhase(res.States, posted)
	if !ok {
		c.log.Warn().Str("game", gameID.Hex()).Uint64("step", step).Msg("Posted phases all agree, nothing to dispute")
		return 0, false, nil
	}
	if err := c.dispute.SelectPhase(ctx, gameID, step, posted[phase], phase); err != nil {
		return phase, false, err
	}
	c.log.Info().
		Str("game", gameID.Hex()).
		Uint64("step", step).
		Str("phase", execution.PhaseTable[phase]).
		Msg("Phase selected")
	return phase, true, nil
}
