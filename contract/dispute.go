package contract

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Dispute is the go-ethereum backed DisputeLayer.
type Dispute struct {
	layer *layer
}

var _ DisputeLayer = (*Dispute)(nil)

// GetTask returns the task a game disputes.
func (d *Dispute) GetTask(ctx context.Context, gameID common.Hash) (common.Hash, error) {
	out, err := d.layer.call(ctx, "getTask", gameID)
	if err != nil {
		return common.Hash{}, err
	}
	if len(out) == 0 {
		return common.Hash{}, fmt.Errorf("getTask returned no values")
	}
	return *abi.ConvertType(out[0], new([32]byte)).(*[32]byte), nil
}

// GetIndices returns the current bisection window of a game.
func (d *Dispute) GetIndices(ctx context.Context, gameID common.Hash) (uint64, uint64, error) {
	out, err := d.layer.call(ctx, "getIndices", gameID)
	if err != nil {
		return 0, 0, err
	}
	if len(out) < 2 {
		return 0, 0, fmt.Errorf("getIndices returned %d values", len(out))
	}
	low := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	high := *abi.ConvertType(out[1], new(*big.Int)).(**big.Int)
	return low.Uint64(), high.Uint64(), nil
}

// Initialize posts the start and end machine states of the disputed run.
func (d *Dispute) Initialize(ctx context.Context, setup GameSetup) error {
	_, err := d.layer.send(ctx, "initialize", nil,
		setup.GameID,
		setup.StartRoots, setup.StartPointers,
		u64(setup.Steps),
		setup.EndRoots, setup.EndPointers)
	return err
}

// Report answers the implied midpoint query of the window [low, high].
func (d *Dispute) Report(ctx context.Context, gameID common.Hash, low, high uint64, stateHashes []common.Hash) error {
	_, err := d.layer.send(ctx, "report", nil, gameID, u64(low), u64(high), hashes(stateHashes))
	return err
}

// Query states whether the challenger agrees with the reported midpoint state.
func (d *Dispute) Query(ctx context.Context, gameID common.Hash, low, high uint64, agree bool, report []common.Hash) error {
	num := big.NewInt(0)
	if agree {
		num = big.NewInt(1)
	}
	_, err := d.layer.send(ctx, "query", nil, gameID, u64(low), u64(high), num, hashes(report))
	return err
}

// PostPhases posts the per-phase states of the single disputed step.
func (d *Dispute) PostPhases(ctx context.Context, gameID common.Hash, step uint64, phases [PhaseCount]common.Hash) error {
	_, err := d.layer.send(ctx, "postPhases", nil, gameID, u64(step), phases)
	return err
}

// SelectPhase names the phase the challenger disputes.
func (d *Dispute) SelectPhase(ctx context.Context, gameID common.Hash, step uint64, state common.Hash, phase int) error {
	_, err := d.layer.send(ctx, "selectPhase", nil, gameID, u64(step), state, big.NewInt(int64(phase)))
	return err
}

// CallJudge submits the proof of a single phase.
func (d *Dispute) CallJudge(ctx context.Context, call JudgeCall) error {
	_, err := d.layer.send(ctx, "callJudge", nil,
		call.GameID, u64(call.Step), big.NewInt(int64(call.Phase)),
		hashes(call.Proof), hashes(call.Proof2),
		call.VMHash, call.Op, call.Registers,
		call.Roots, call.Pointers)
	return err
}

// CallCustomJudge submits the proof of an extended instruction.
func (d *Dispute) CallCustomJudge(ctx context.Context, call CustomJudgeCall) error {
	_, err := d.layer.send(ctx, "callCustomJudge", nil,
		call.GameID, u64(call.Step), call.Op, call.Registers,
		call.ResultState, call.ResultSize, hashes(call.Proof),
		call.Roots, call.Pointers)
	return err
}

// IsGameOver simulates gameOver.
func (d *Dispute) IsGameOver(ctx context.Context, gameID common.Hash) (bool, error) {
	return d.layer.callBool(ctx, "gameOver", gameID)
}

// GameOver ends a game whose opponent timed out.
func (d *Dispute) GameOver(ctx context.Context, gameID common.Hash) error {
	_, err := d.layer.send(ctx, "gameOver", nil, gameID)
	return err
}
