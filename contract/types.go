package contract

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TaskInfo mirrors getTaskInfo.
type TaskInfo struct {
	Giver    common.Address
	InitHash common.Hash
	CodeType uint8
	BundleID common.Hash
	TaskID   common.Hash
}

// VMParameters mirrors getVMParameters. Sizes are log2 of the element count.
type VMParameters struct {
	StackSize   uint8
	MemorySize  uint8
	GlobalsSize uint8
	TableSize   uint8
	CallSize    uint8
}

// SolutionInfo mirrors getSolutionInfo.
type SolutionInfo struct {
	TaskID        common.Hash
	SolutionHash0 common.Hash
	TaskInitHash  common.Hash
	CodeType      uint8
	BundleID      common.Hash
	Solver        common.Address
}

// TaskRequest describes a task posted by a task giver.
type TaskRequest struct {
	InitHash      common.Hash
	CodeType      uint8
	BundleID      common.Hash
	MaxDifficulty uint64
	Reward        *big.Int
}

// Reveal carries the roots published when a solver reveals its solution.
type Reveal struct {
	CodeRoot  common.Hash
	InputSize common.Hash
	InputName common.Hash
	InputData common.Hash
}

// GameSetup is the argument set of the dispute layer's initialize call.
type GameSetup struct {
	GameID        common.Hash
	StartRoots    [10]common.Hash
	StartPointers [4]*big.Int
	Steps         uint64
	EndRoots      [10]common.Hash
	EndPointers   [4]*big.Int
}

// JudgeCall is the argument set of callJudge for a single phase.
type JudgeCall struct {
	GameID    common.Hash
	Step      uint64
	Phase     int
	Proof     []common.Hash
	Proof2    []common.Hash
	VMHash    common.Hash
	Op        common.Hash
	Registers [4]*big.Int
	Roots     [10]common.Hash
	Pointers  [4]*big.Int
}

// CustomJudgeCall is the argument set of callCustomJudge, used for
// extended instructions whose result is supplied as a state/size pair.
type CustomJudgeCall struct {
	GameID      common.Hash
	Step        uint64
	Op          common.Hash
	Registers   [4]*big.Int
	ResultState common.Hash
	ResultSize  *big.Int
	Proof       []common.Hash
	Roots       [10]common.Hash
	Pointers    [4]*big.Int
}

// IncentiveLayer is the task lifecycle surface of the ledger. Methods
// prefixed with Can/Is are read-only predicates; the rest submit transactions.
type IncentiveLayer interface {
	GetTaskInfo(ctx context.Context, taskID common.Hash) (TaskInfo, error)
	GetVMParameters(ctx context.Context, taskID common.Hash) (VMParameters, error)
	GetSolutionInfo(ctx context.Context, taskID common.Hash) (SolutionInfo, error)

	CreateTask(ctx context.Context, req TaskRequest) (common.Hash, error)
	CreateSimpleTask(ctx context.Context, initHash common.Hash, reward *big.Int) (common.Hash, error)
	CommitSolution(ctx context.Context, taskID, solutionHash common.Hash) error
	RevealSolution(ctx context.Context, taskID common.Hash, reveal Reveal) error
	MakeChallenge(ctx context.Context, taskID common.Hash, stake *big.Int) error

	CanEndChallengePeriod(ctx context.Context, taskID common.Hash) (bool, error)
	EndChallengePeriod(ctx context.Context, taskID common.Hash) error
	CanRunVerificationGame(ctx context.Context, taskID common.Hash) (bool, error)
	RunVerificationGame(ctx context.Context, taskID common.Hash) error
	CanFinalizeTask(ctx context.Context, taskID common.Hash) (bool, error)
	FinalizeTask(ctx context.Context, taskID common.Hash) error
	CanSolverLose(ctx context.Context, taskID common.Hash) (bool, error)
	SolverLoses(ctx context.Context, taskID common.Hash) error
	IsTaskTimeout(ctx context.Context, taskID common.Hash) (bool, error)
	TaskTimeout(ctx context.Context, taskID common.Hash) error
}

// DisputeLayer is the per-game bisection surface of the ledger.
type DisputeLayer interface {
	GetTask(ctx context.Context, gameID common.Hash) (common.Hash, error)
	GetIndices(ctx context.Context, gameID common.Hash) (low, high uint64, err error)

	Initialize(ctx context.Context, setup GameSetup) error
	Report(ctx context.Context, gameID common.Hash, low, high uint64, hashes []common.Hash) error
	Query(ctx context.Context, gameID common.Hash, low, high uint64, agree bool, report []common.Hash) error
	PostPhases(ctx context.Context, gameID common.Hash, step uint64, phases [PhaseCount]common.Hash) error
	SelectPhase(ctx context.Context, gameID common.Hash, step uint64, state common.Hash, phase int) error
	CallJudge(ctx context.Context, call JudgeCall) error
	CallCustomJudge(ctx context.Context, call CustomJudgeCall) error

	IsGameOver(ctx context.Context, gameID common.Hash) (bool, error)
	GameOver(ctx context.Context, gameID common.Hash) error
}
