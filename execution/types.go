package execution

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cryptobuks/truebit-os/contract"
)

// ErrNoTrace is returned when a task has no execution trace to answer from.
var ErrNoTrace = errors.New("execution trace unavailable")

// CodeType identifies how a task's code bundle is encoded.
type CodeType uint8

const (
	CodeWAST CodeType = iota
	CodeWASM
	CodeInternal
)

func (c CodeType) String() string {
	switch c {
	case CodeWAST:
		return "wast"
	case CodeWASM:
		return "wasm"
	case CodeInternal:
		return "internal"
	}
	return "unknown"
}

// ParseCodeType is the inverse of CodeType.String.
func ParseCodeType(s string) (CodeType, error) {
	for _, c := range []CodeType{CodeWAST, CodeWASM, CodeInternal} {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown code type %q", s)
}

// PhaseTable is the ordered list of sub-steps a single instruction is split into.
var PhaseTable = [contract.PhaseCount]string{
	"fetch_code",
	"init_registers",
	"read_register1",
	"read_register2",
	"read_register3",
	"read_input",
	"alu",
	"write_register1",
	"write_register2",
	"update_pc",
	"update_stack_ptr",
	"update_call_ptr",
	"update_memsize",
}

// PhaseALU is the only phase whose proof may target an extended instruction.
const PhaseALU = 6

// PhaseIndex returns the index of a named phase.
func PhaseIndex(name string) (int, bool) {
	for i, n := range PhaseTable {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

// VM holds the Merkle roots and pointers of a machine snapshot.
type VM struct {
	Code      common.Hash `json:"code"`
	Stack     common.Hash `json:"stack"`
	Memory    common.Hash `json:"memory"`
	CallStack common.Hash `json:"call_stack"`
	Globals   common.Hash `json:"globals"`
	CallTable common.Hash `json:"calltable"`
	CallTypes common.Hash `json:"calltypes"`
	InputSize common.Hash `json:"input_size"`
	InputName common.Hash `json:"input_name"`
	InputData common.Hash `json:"input_data"`

	PC       uint64 `json:"pc"`
	StackPtr uint64 `json:"stack_ptr"`
	CallPtr  uint64 `json:"call_ptr"`
	MemSize  uint64 `json:"memsize"`
}

// EmptyVM is the all-zero snapshot used when a proof carries no VM.
func EmptyVM() VM { return VM{} }

// Roots returns the ten sub-component roots in ledger order.
func (v VM) Roots() [10]common.Hash {
	return [10]common.Hash{
		v.Code, v.Stack, v.Memory, v.CallStack, v.Globals,
		v.CallTable, v.CallTypes, v.InputSize, v.InputName, v.InputData,
	}
}

// Pointers returns pc, stack pointer, call pointer and memory size.
func (v VM) Pointers() [4]*big.Int {
	return [4]*big.Int{
		new(big.Int).SetUint64(v.PC),
		new(big.Int).SetUint64(v.StackPtr),
		new(big.Int).SetUint64(v.CallPtr),
		new(big.Int).SetUint64(v.MemSize),
	}
}

// Machine is the register snapshot attached to a phase proof.
type Machine struct {
	Reg1 *big.Int    `json:"reg1"`
	Reg2 *big.Int    `json:"reg2"`
	Reg3 *big.Int    `json:"reg3"`
	IReg *big.Int    `json:"ireg"`
	VM   common.Hash `json:"vm"`
	Op   common.Hash `json:"op"`
}

// EmptyMachine is the zero register snapshot.
func EmptyMachine() Machine {
	return Machine{Reg1: new(big.Int), Reg2: new(big.Int), Reg3: new(big.Int), IReg: new(big.Int)}
}

// Registers returns the three general registers followed by the special one.
// Missing values are zero.
func (m Machine) Registers() [4]*big.Int {
	regs := [4]*big.Int{m.Reg1, m.Reg2, m.Reg3, m.IReg}
	for i, r := range regs {
		if r == nil {
			regs[i] = new(big.Int)
		}
	}
	return regs
}

// MerkleProof is the inclusion data of a phase. Phases spanning two
// snapshots use List1 and List2; custom instructions add a result pair.
type MerkleProof struct {
	List        []common.Hash `json:"list"`
	List1       []common.Hash `json:"list1"`
	List2       []common.Hash `json:"list2"`
	ResultState common.Hash   `json:"result_state"`
	ResultSize  *big.Int      `json:"result_size"`
}

// PhaseProof is everything the provider knows about one phase of a step.
// Any field may be absent.
type PhaseProof struct {
	Location []common.Hash `json:"location"`
	Merkle   *MerkleProof  `json:"merkle"`
	Machine  *Machine      `json:"machine"`
	VM       *VM           `json:"vm"`
}

// StepResult holds the per-phase states of a step and their proofs.
type StepResult struct {
	States [contract.PhaseCount]common.Hash
	Proofs [contract.PhaseCount]*PhaseProof
}

// Solution is the outcome of running a task to completion or to its start.
type Solution struct {
	Hash  common.Hash
	Steps uint64
	VM    VM
}

// File is an output produced by a task run.
type File struct {
	Name string
	Data []byte
}

// Trace is a prepared task run. Methods may be called repeatedly and
// concurrently once the trace exists.
type Trace interface {
	Execute(ctx context.Context) (Solution, error)
	Initialize(ctx context.Context) (Solution, error)
	OutputVM(ctx context.Context) (Solution, error)
	Location(ctx context.Context, step uint64) (common.Hash, error)
	Step(ctx context.Context, step uint64) (StepResult, error)
	OutputFiles(ctx context.Context) ([]File, error)
}

// Provider prepares traces for tasks.
type Provider interface {
	Prepare(ctx context.Context, task contract.TaskInfo) (Trace, error)
}

// CodeSource returns the code bundle of a task.
type CodeSource interface {
	Code(ctx context.Context, task contract.TaskInfo) ([]byte, error)
}
