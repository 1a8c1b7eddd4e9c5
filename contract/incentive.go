package contract

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Incentive is the go-ethereum backed IncentiveLayer.
type Incentive struct {
	layer *layer
}

var _ IncentiveLayer = (*Incentive)(nil)

// GetTaskInfo reads the task description.
func (i *Incentive) GetTaskInfo(ctx context.Context, taskID common.Hash) (TaskInfo, error) {
	out, err := i.layer.call(ctx, "getTaskInfo", taskID)
	if err != nil {
		return TaskInfo{}, err
	}
	if len(out) < 5 {
		return TaskInfo{}, fmt.Errorf("getTaskInfo returned %d values", len(out))
	}
	return TaskInfo{
		Giver:    *abi.ConvertType(out[0], new(common.Address)).(*common.Address),
		InitHash: *abi.ConvertType(out[1], new([32]byte)).(*[32]byte),
		CodeType: *abi.ConvertType(out[2], new(uint8)).(*uint8),
		BundleID: *abi.ConvertType(out[3], new([32]byte)).(*[32]byte),
		TaskID:   *abi.ConvertType(out[4], new([32]byte)).(*[32]byte),
	}, nil
}

// GetVMParameters reads the VM sizing of a task.
func (i *Incentive) GetVMParameters(ctx context.Context, taskID common.Hash) (VMParameters, error) {
	out, err := i.layer.call(ctx, "getVMParameters", taskID)
	if err != nil {
		return VMParameters{}, err
	}
	if len(out) < 5 {
		return VMParameters{}, fmt.Errorf("getVMParameters returned %d values", len(out))
	}
	return VMParameters{
		StackSize:   *abi.ConvertType(out[0], new(uint8)).(*uint8),
		MemorySize:  *abi.ConvertType(out[1], new(uint8)).(*uint8),
		GlobalsSize: *abi.ConvertType(out[2], new(uint8)).(*uint8),
		TableSize:   *abi.ConvertType(out[3], new(uint8)).(*uint8),
		CallSize:    *abi.ConvertType(out[4], new(uint8)).(*uint8),
	}, nil
}

// GetSolutionInfo reads the committed solution of a task.
func (i *Incentive) GetSolutionInfo(ctx context.Context, taskID common.Hash) (SolutionInfo, error) {
	out, err := i.layer.call(ctx, "getSolutionInfo", taskID)
	if err != nil {
		return SolutionInfo{}, err
	}
	if len(out) < 6 {
		return SolutionInfo{}, fmt.Errorf("getSolutionInfo returned %d values", len(out))
	}
	return SolutionInfo{
		TaskID:        *abi.ConvertType(out[0], new([32]byte)).(*[32]byte),
		SolutionHash0: *abi.ConvertType(out[1], new([32]byte)).(*[32]byte),
		TaskInitHash:  *abi.ConvertType(out[2], new([32]byte)).(*[32]byte),
		CodeType:      *abi.ConvertType(out[3], new(uint8)).(*uint8),
		BundleID:      *abi.ConvertType(out[4], new([32]byte)).(*[32]byte),
		Solver:        *abi.ConvertType(out[5], new(common.Address)).(*common.Address),
	}, nil
}

// CreateTask posts a task and returns the id assigned by the ledger.
func (i *Incentive) CreateTask(ctx context.Context, req TaskRequest) (common.Hash, error) {
	receipt, err := i.layer.send(ctx, "createTask", req.Reward,
		req.InitHash, req.CodeType, req.BundleID, u64(req.MaxDifficulty))
	if err != nil {
		return common.Hash{}, err
	}
	return taskIDFromReceipt(receipt)
}

// CreateSimpleTask posts a task identified only by its initial state hash.
func (i *Incentive) CreateSimpleTask(ctx context.Context, initHash common.Hash, reward *big.Int) (common.Hash, error) {
	receipt, err := i.layer.send(ctx, "createSimpleTask", reward, initHash)
	if err != nil {
		return common.Hash{}, err
	}
	return taskIDFromReceipt(receipt)
}

func taskIDFromReceipt(receipt *types.Receipt) (common.Hash, error) {
	for _, l := range receipt.Logs {
		if l == nil {
			continue
		}
		rec, err := Decode(*l)
		if err != nil {
			continue
		}
		if ev, ok := rec.Event.(*TaskCreated); ok {
			return ev.TaskID, nil
		}
	}
	return common.Hash{}, ErrNoTaskCreated
}

// CommitSolution commits the solution hash. The ledger accepts one commitment per task.
func (i *Incentive) CommitSolution(ctx context.Context, taskID, solutionHash common.Hash) error {
	_, err := i.layer.send(ctx, "commitSolution", nil, taskID, solutionHash)
	return err
}

// RevealSolution publishes the code and input roots of the solution.
func (i *Incentive) RevealSolution(ctx context.Context, taskID common.Hash, reveal Reveal) error {
	_, err := i.layer.send(ctx, "revealSolution", nil,
		taskID, reveal.CodeRoot, reveal.InputSize, reveal.InputName, reveal.InputData)
	return err
}

// MakeChallenge challenges the committed solution, staking the given value.
func (i *Incentive) MakeChallenge(ctx context.Context, taskID common.Hash, stake *big.Int) error {
	_, err := i.layer.send(ctx, "makeChallenge", stake, taskID)
	return err
}

// CanEndChallengePeriod simulates endChallengePeriod.
func (i *Incentive) CanEndChallengePeriod(ctx context.Context, taskID common.Hash) (bool, error) {
	return i.layer.callBool(ctx, "endChallengePeriod", taskID)
}

// EndChallengePeriod closes the challenge period.
func (i *Incentive) EndChallengePeriod(ctx context.Context, taskID common.Hash) error {
	_, err := i.layer.send(ctx, "endChallengePeriod", nil, taskID)
	return err
}

// CanRunVerificationGame reports whether a pending challenge can be started.
func (i *Incentive) CanRunVerificationGame(ctx context.Context, taskID common.Hash) (bool, error) {
	return i.layer.callBool(ctx, "canRunVerificationGame", taskID)
}

// RunVerificationGame starts the next verification game of the task.
func (i *Incentive) RunVerificationGame(ctx context.Context, taskID common.Hash) error {
	_, err := i.layer.send(ctx, "runVerificationGame", nil, taskID)
	return err
}

// CanFinalizeTask reports whether the task can be settled.
func (i *Incentive) CanFinalizeTask(ctx context.Context, taskID common.Hash) (bool, error) {
	return i.layer.callBool(ctx, "canFinalizeTask", taskID)
}

// FinalizeTask settles the task.
func (i *Incentive) FinalizeTask(ctx context.Context, taskID common.Hash) error {
	_, err := i.layer.send(ctx, "finalizeTask", nil, taskID)
	return err
}

// CanSolverLose simulates solverLoses.
func (i *Incentive) CanSolverLose(ctx context.Context, taskID common.Hash) (bool, error) {
	return i.layer.callBool(ctx, "solverLoses", taskID)
}

// SolverLoses claims the win of a verification game the solver lost.
func (i *Incentive) SolverLoses(ctx context.Context, taskID common.Hash) error {
	_, err := i.layer.send(ctx, "solverLoses", nil, taskID)
	return err
}

// IsTaskTimeout reports whether the task timed out.
func (i *Incentive) IsTaskTimeout(ctx context.Context, taskID common.Hash) (bool, error) {
	return i.layer.callBool(ctx, "isTaskTimeout", taskID)
}

// TaskTimeout settles a timed out task.
func (i *Incentive) TaskTimeout(ctx context.Context, taskID common.Hash) error {
	_, err := i.layer.send(ctx, "taskTimeout", nil, taskID)
	return err
}
