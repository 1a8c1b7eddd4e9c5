package contract

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Ledger event names.
const (
	EventTaskCreated           = "TaskCreated"
	EventSolutionsCommitted    = "SolutionsCommitted"
	EventSolutionRevealed      = "SolutionRevealed"
	EventEndRevealPeriod       = "EndRevealPeriod"
	EventTaskFinalized         = "TaskFinalized"
	EventSlashedDeposit        = "SlashedDeposit"
	EventVerificationCommitted = "VerificationCommitted"
	EventStartChallenge        = "StartChallenge"
	EventQueried               = "Queried"
	EventReported              = "Reported"
	EventPostedPhases          = "PostedPhases"
	EventSelectedPhase         = "SelectedPhase"
	EventWinnerSelected        = "WinnerSelected"
)

// Record is a decoded ledger event together with its position in the chain.
// Historical marks records observed inside the startup recovery window.
type Record struct {
	Name        string
	BlockNumber uint64
	LogIndex    uint
	TxHash      common.Hash
	Historical  bool
	Event       interface{}
}

// Before reports whether r precedes o in chain order.
func (r Record) Before(o Record) bool {
	if r.BlockNumber != o.BlockNumber {
		return r.BlockNumber < o.BlockNumber
	}
	return r.LogIndex < o.LogIndex
}

// TaskCreated is emitted when a task giver posts a task.
type TaskCreated struct {
	TaskID      common.Hash
	CodeType    uint8
	BundleId    common.Hash
	BlockNumber *big.Int
	Reward      *big.Int
}

// SolutionsCommitted is emitted when a solver commits a solution hash.
type SolutionsCommitted struct {
	TaskID       common.Hash
	CodeType     uint8
	BundleId     common.Hash
	SolutionHash common.Hash
}

// SolutionRevealed is emitted once the solver revealed its solution.
type SolutionRevealed struct {
	TaskID common.Hash
}

// EndRevealPeriod is emitted when the task enters its reveal period.
type EndRevealPeriod struct {
	TaskID common.Hash
}

// TaskFinalized is emitted when the task is settled.
type TaskFinalized struct {
	TaskID common.Hash
}

// SlashedDeposit is emitted when a participant loses its deposit.
type SlashedDeposit struct {
	TaskID   common.Hash
	Account  common.Address
	Opponent common.Address
	Amount   *big.Int
}

// VerificationCommitted is emitted when a challenge is registered.
type VerificationCommitted struct {
	TaskID   common.Hash
	Verifier common.Address
}

// StartChallenge opens a verification game between prover P and challenger C.
type StartChallenge struct {
	P      common.Address
	C      common.Address
	S      common.Hash
	E      common.Hash
	Idx1   *big.Int
	Idx2   *big.Int
	Par    *big.Int
	To     *big.Int
	GameID common.Hash
}

// Queried carries the narrowed window after a challenger query.
type Queried struct {
	GameID common.Hash
	Idx1   *big.Int
	Idx2   *big.Int
}

// Reported carries the prover's state hashes for the current window.
type Reported struct {
	GameID common.Hash
	Idx1   *big.Int
	Idx2   *big.Int
	Arr    []common.Hash
}

// PostedPhases carries the per-phase states of the disputed step.
type PostedPhases struct {
	GameID common.Hash
	Idx1   *big.Int
	Arr    [PhaseCount]common.Hash
}

// SelectedPhase names the phase the challenger disputes.
type SelectedPhase struct {
	GameID common.Hash
	Idx1   *big.Int
	Phase  *big.Int
}

// WinnerSelected closes a verification game.
type WinnerSelected struct {
	GameID common.Hash
}

func newEvent(name string) (interface{}, error) {
	switch name {
	case EventTaskCreated:
		return new(TaskCreated), nil
	case EventSolutionsCommitted:
		return new(SolutionsCommitted), nil
	case EventSolutionRevealed:
		return new(SolutionRevealed), nil
	case EventEndRevealPeriod:
		return new(EndRevealPeriod), nil
	case EventTaskFinalized:
		return new(TaskFinalized), nil
	case EventSlashedDeposit:
		return new(SlashedDeposit), nil
	case EventVerificationCommitted:
		return new(VerificationCommitted), nil
	case EventStartChallenge:
		return new(StartChallenge), nil
	case EventQueried:
		return new(Queried), nil
	case EventReported:
		return new(Reported), nil
	case EventPostedPhases:
		return new(PostedPhases), nil
	case EventSelectedPhase:
		return new(SelectedPhase), nil
	case EventWinnerSelected:
		return new(WinnerSelected), nil
	}
	return nil, fmt.Errorf("unsupported event %q", name)
}

// EventTopics returns the topic0 hashes of every event the agents consume.
func EventTopics() []common.Hash {
	topics := make([]common.Hash, 0, len(incentiveABI.Events)+len(disputeABI.Events))
	for _, ev := range incentiveABI.Events {
		topics = append(topics, ev.ID)
	}
	for _, ev := range disputeABI.Events {
		topics = append(topics, ev.ID)
	}
	return topics
}

// Decode turns a raw log from either layer into a typed Record.
func Decode(l types.Log) (Record, error) {
	if len(l.Topics) == 0 {
		return Record{}, fmt.Errorf("log %s:%d has no topics", l.TxHash.Hex(), l.Index)
	}
	parsed, ev, err := lookupEvent(l.Topics[0])
	if err != nil {
		return Record{}, err
	}
	out, err := newEvent(ev.Name)
	if err != nil {
		return Record{}, err
	}
	if err := parsed.UnpackIntoInterface(out, ev.Name, l.Data); err != nil {
		return Record{}, fmt.Errorf("failed to unpack %s: %w", ev.Name, err)
	}
	return Record{
		Name:        ev.Name,
		BlockNumber: l.BlockNumber,
		LogIndex:    l.Index,
		TxHash:      l.TxHash,
		Event:       out,
	}, nil
}

func lookupEvent(topic common.Hash) (abi.ABI, *abi.Event, error) {
	if ev, err := incentiveABI.EventByID(topic); err == nil {
		return incentiveABI, ev, nil
	}
	if ev, err := disputeABI.EventByID(topic); err == nil {
		return disputeABI, ev, nil
	}
	return abi.ABI{}, nil, fmt.Errorf("unknown event topic %s", topic.Hex())
}

// TaskIDOf extracts the task id carried by task-scoped events.
func TaskIDOf(ev interface{}) (common.Hash, bool) {
	switch e := ev.(type) {
	case *TaskCreated:
		return e.TaskID, true
	case *SolutionsCommitted:
		return e.TaskID, true
	case *SolutionRevealed:
		return e.TaskID, true
	case *EndRevealPeriod:
		return e.TaskID, true
	case *TaskFinalized:
		return e.TaskID, true
	case *SlashedDeposit:
		return e.TaskID, true
	case *VerificationCommitted:
		return e.TaskID, true
	}
	return common.Hash{}, false
}

// GameIDOf extracts the game id carried by dispute events.
func GameIDOf(ev interface{}) (common.Hash, bool) {
	switch e := ev.(type) {
	case *StartChallenge:
		return e.GameID, true
	case *Queried:
		return e.GameID, true
	case *Reported:
		return e.GameID, true
	case *PostedPhases:
		return e.GameID, true
	case *SelectedPhase:
		return e.GameID, true
	case *WinnerSelected:
		return e.GameID, true
	}
	return common.Hash{}, false
}
