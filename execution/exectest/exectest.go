// Package exectest provides deterministic execution traces for tests.
//
// Every trace shares one canonical run. A trace with a non-empty Salt
// departs from it from step DivergeAt onwards, so two traces built from
// different salts disagree on the result hash and on every state hash at
// or after DivergeAt. The step leading into DivergeAt differs only from
// phase DivergePhase.
package exectest

import (
	"context"
	"encoding/binary"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/cryptobuks/truebit-os/contract"
	"github.com/cryptobuks/truebit-os/execution"
)

// Provider hands out Trace values with the configured shape for every task.
type Provider struct {
	Steps        uint64
	Salt         string
	DivergeAt    uint64
	DivergePhase int
	// CustomOp marks the ALU phase of every step as an extended instruction.
	CustomOp bool
	// Err is returned by Prepare when set.
	Err error

	prepared atomic.Int64
}

// Prepare returns a trace for task.
func (p *Provider) Prepare(_ context.Context, task contract.TaskInfo) (execution.Trace, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	p.prepared.Add(1)
	return &Trace{
		Task:         task.TaskID,
		Steps:        p.Steps,
		Salt:         p.Salt,
		DivergeAt:    p.DivergeAt,
		DivergePhase: p.DivergePhase,
		CustomOp:     p.CustomOp,
	}, nil
}

// Prepared counts Prepare calls.
func (p *Provider) Prepared() int { return int(p.prepared.Load()) }

// Trace is a deterministic execution.Trace.
type Trace struct {
	Task         common.Hash
	Steps        uint64
	Salt         string
	DivergeAt    uint64
	DivergePhase int
	CustomOp     bool

	locations atomic.Int64
}

// LocationCalls counts Location calls that reached the trace.
func (t *Trace) LocationCalls() int { return int(t.locations.Load()) }

func (t *Trace) salted(step uint64) bool {
	return t.Salt != "" && step >= t.DivergeAt
}

func (t *Trace) hash(parts ...[]byte) common.Hash {
	return crypto.Keccak256Hash(append([][]byte{t.Task.Bytes()}, parts...)...)
}

func u64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func (t *Trace) state(step uint64) common.Hash {
	if t.salted(step) {
		return t.hash([]byte("state"), []byte(t.Salt), u64(step))
	}
	return t.hash([]byte("state"), u64(step))
}

func (t *Trace) vm(step uint64) execution.VM {
	root := t.state(step)
	return execution.VM{
		Code:      t.hash([]byte("code")),
		Stack:     root,
		Memory:    crypto.Keccak256Hash(root.Bytes(), []byte("memory")),
		InputSize: t.hash([]byte("input_size")),
		InputName: t.hash([]byte("input_name")),
		InputData: t.hash([]byte("input_data")),
		PC:        step,
		StackPtr:  step % 16,
	}
}

// Execute returns the final state of the run.
func (t *Trace) Execute(context.Context) (execution.Solution, error) {
	return execution.Solution{Hash: t.state(t.Steps), Steps: t.Steps, VM: t.vm(t.Steps)}, nil
}

// Initialize returns the initial state of the run.
func (t *Trace) Initialize(context.Context) (execution.Solution, error) {
	return execution.Solution{Hash: t.state(0), VM: t.vm(0)}, nil
}

// OutputVM returns the final machine state.
func (t *Trace) OutputVM(ctx context.Context) (execution.Solution, error) {
	return t.Execute(ctx)
}

// Location returns the state hash after step instructions.
func (t *Trace) Location(_ context.Context, step uint64) (common.Hash, error) {
	t.locations.Add(1)
	return t.state(step), nil
}

// Step returns the phase states of the transition from step to step+1.
// The ALU phase always carries a machine snapshot and the fetch phase a
// location proof; the remaining phases carry no proof data.
func (t *Trace) Step(_ context.Context, step uint64) (execution.StepResult, error) {
	var res execution.StepResult
	for i := range res.States {
		diverged := t.salted(step) || (t.salted(step+1) && i >= t.DivergePhase)
		if diverged {
			res.States[i] = t.hash([]byte("phase"), []byte(t.Salt), u64(step), u64(uint64(i)))
		} else {
			res.States[i] = t.hash([]byte("phase"), u64(step), u64(uint64(i)))
		}
	}

	var op common.Hash
	op[31] = 0x20
	if t.CustomOp {
		op[26] = 0x10
	}
	vm := t.vm(step)
	res.Proofs[execution.PhaseALU] = &execution.PhaseProof{
		Machine: &execution.Machine{
			Reg1: new(big.Int).SetUint64(step),
			Reg2: big.NewInt(2),
			Reg3: big.NewInt(3),
			IReg: big.NewInt(0),
			VM:   res.States[execution.PhaseALU],
			Op:   op,
		},
		Merkle: &execution.MerkleProof{
			List:        []common.Hash{res.States[execution.PhaseALU-1]},
			ResultState: res.States[execution.PhaseALU],
			ResultSize:  big.NewInt(32),
		},
		VM: &vm,
	}
	res.Proofs[0] = &execution.PhaseProof{Location: []common.Hash{vm.Code}}
	return res, nil
}

// OutputFiles returns a single output file named after the task.
func (t *Trace) OutputFiles(context.Context) ([]execution.File, error) {
	final := t.state(t.Steps)
	return []execution.File{{Name: "output.data", Data: final.Bytes()}}, nil
}
