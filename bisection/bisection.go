// Package bisection implements the step-narrowing dispute protocol shared by
// provers and challengers, down to the single phase handed to the judge.
package bisection

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/cryptobuks/truebit-os/contract"
)

// Midpoint returns the step both parties evaluate for the window [low, high].
func Midpoint(low, high uint64) uint64 {
	return low + (high-low)/2
}

// Narrow returns the next window after the challenger answered a report
// on the midpoint: agreement moves the lower bound up, disagreement moves
// the upper bound down.
func Narrow(low, high uint64, agree bool) (uint64, uint64) {
	mid := Midpoint(low, high)
	if agree {
		return mid, high
	}
	return low, mid
}

// Final reports whether the window covers exactly one step.
func Final(low, high uint64) bool {
	return high == low+1
}

// SelectPhase returns the lowest phase index where mine and posted differ.
func SelectPhase(mine, posted [contract.PhaseCount]common.Hash) (int, bool) {
	for i := range posted {
		if mine[i] != posted[i] {
			return i, true
		}
	}
	return 0, false
}

// IsCustomInstruction reports whether op encodes an extended instruction.
func IsCustomInstruction(op common.Hash) bool {
	return op[26] == 0x10
}
