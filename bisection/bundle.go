package bisection

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cryptobuks/truebit-os/contract"
	"github.com/cryptobuks/truebit-os/execution"
)

// BundleKind selects the judge entry point a proof bundle is sent to.
type BundleKind int

const (
	// JudgeBundle targets callJudge.
	JudgeBundle BundleKind = iota
	// CustomBundle targets callCustomJudge.
	CustomBundle
)

func (k BundleKind) String() string {
	if k == CustomBundle {
		return "custom"
	}
	return "judge"
}

// Bundle is the proof of one phase, shaped for exactly one judge call.
type Bundle struct {
	Kind   BundleKind
	Judge  contract.JudgeCall
	Custom contract.CustomJudgeCall
}

// EmptyBundle is the bundle of a phase the provider supplied no data for.
func EmptyBundle(gameID common.Hash, step uint64, phase int) Bundle {
	vm := execution.EmptyVM()
	m := execution.EmptyMachine()
	return Bundle{
		Kind: JudgeBundle,
		Judge: contract.JudgeCall{
			GameID:    gameID,
			Step:      step,
			Phase:     phase,
			Proof:     []common.Hash{},
			Proof2:    []common.Hash{},
			VMHash:    m.VM,
			Op:        m.Op,
			Registers: m.Registers(),
			Roots:     vm.Roots(),
			Pointers:  vm.Pointers(),
		},
	}
}

// BuildBundle assembles the bundle for phase from a step result, filling
// every field the provider left out with its empty value.
func BuildBundle(gameID common.Hash, step uint64, phase int, res execution.StepResult) (Bundle, error) {
	if phase < 0 || phase >= contract.PhaseCount {
		return Bundle{}, fmt.Errorf("phase %d out of range", phase)
	}
	proof := res.Proofs[phase]
	if proof == nil {
		return EmptyBundle(gameID, step, phase), nil
	}

	merkle := nonNil(proof.Location)
	merkle2 := []common.Hash{}
	if proof.Merkle != nil {
		switch {
		case len(proof.Merkle.List) > 0:
			merkle = proof.Merkle.List
		case len(proof.Merkle.List1) > 0:
			merkle = proof.Merkle.List1
		default:
			merkle = []common.Hash{}
		}
		merkle2 = nonNil(proof.Merkle.List2)
	}

	m := execution.EmptyMachine()
	if proof.Machine != nil {
		m = *proof.Machine
	}
	vm := execution.EmptyVM()
	if proof.VM != nil {
		vm = *proof.VM
	}

	if phase == execution.PhaseALU && IsCustomInstruction(m.Op) && proof.Merkle != nil {
		size := proof.Merkle.ResultSize
		if size == nil {
			size = new(big.Int)
		}
		return Bundle{
			Kind: CustomBundle,
			Custom: contract.CustomJudgeCall{
				GameID:      gameID,
				Step:        step,
				Op:          m.Op,
				Registers:   m.Registers(),
				ResultState: proof.Merkle.ResultState,
				ResultSize:  size,
				Proof:       nonNil(proof.Merkle.List),
				Roots:       vm.Roots(),
				Pointers:    vm.Pointers(),
			},
		}, nil
	}

	return Bundle{
		Kind: JudgeBundle,
		Judge: contract.JudgeCall{
			GameID:    gameID,
			Step:      step,
			Phase:     phase,
			Proof:     merkle,
			Proof2:    merkle2,
			VMHash:    m.VM,
			Op:        m.Op,
			Registers: m.Registers(),
			Roots:     vm.Roots(),
			Pointers:  vm.Pointers(),
		},
	}, nil
}

func nonNil(in []common.Hash) []common.Hash {
	if in == nil {
		return []common.Hash{}
	}
	return in
}
