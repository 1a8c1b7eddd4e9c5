package contract

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// PhaseCount is the fixed length of the phase array accepted by postPhases.
const PhaseCount = 13

// IncentiveLayerABI is the subset of the incentive layer interface used by the agents.
const IncentiveLayerABI = `[
{"type":"function","name":"createTask","stateMutability":"payable","inputs":[{"name":"initTaskHash","type":"bytes32"},{"name":"codeType","type":"uint8"},{"name":"bundleId","type":"bytes32"},{"name":"maxDifficulty","type":"uint256"}],"outputs":[{"name":"","type":"bytes32"}]},
{"type":"function","name":"createSimpleTask","stateMutability":"payable","inputs":[{"name":"initTaskHash","type":"bytes32"}],"outputs":[{"name":"","type":"bytes32"}]},
{"type":"function","name":"commitSolution","stateMutability":"nonpayable","inputs":[{"name":"taskID","type":"bytes32"},{"name":"solutionHash0","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"revealSolution","stateMutability":"nonpayable","inputs":[{"name":"taskID","type":"bytes32"},{"name":"codeRoot","type":"bytes32"},{"name":"inputSize","type":"bytes32"},{"name":"inputName","type":"bytes32"},{"name":"inputData","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"endChallengePeriod","stateMutability":"nonpayable","inputs":[{"name":"taskID","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"canRunVerificationGame","stateMutability":"view","inputs":[{"name":"taskID","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"runVerificationGame","stateMutability":"nonpayable","inputs":[{"name":"taskID","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"canFinalizeTask","stateMutability":"view","inputs":[{"name":"taskID","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"finalizeTask","stateMutability":"nonpayable","inputs":[{"name":"taskID","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"solverLoses","stateMutability":"nonpayable","inputs":[{"name":"taskID","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"isTaskTimeout","stateMutability":"view","inputs":[{"name":"taskID","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"taskTimeout","stateMutability":"nonpayable","inputs":[{"name":"taskID","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"makeChallenge","stateMutability":"payable","inputs":[{"name":"taskID","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"getTaskInfo","stateMutability":"view","inputs":[{"name":"taskID","type":"bytes32"}],"outputs":[{"name":"giver","type":"address"},{"name":"initHash","type":"bytes32"},{"name":"codeType","type":"uint8"},{"name":"bundleId","type":"bytes32"},{"name":"taskID","type":"bytes32"}]},
{"type":"function","name":"getVMParameters","stateMutability":"view","inputs":[{"name":"taskID","type":"bytes32"}],"outputs":[{"name":"stackSize","type":"uint8"},{"name":"memorySize","type":"uint8"},{"name":"globalsSize","type":"uint8"},{"name":"tableSize","type":"uint8"},{"name":"callSize","type":"uint8"}]},
{"type":"function","name":"getSolutionInfo","stateMutability":"view","inputs":[{"name":"taskID","type":"bytes32"}],"outputs":[{"name":"taskID","type":"bytes32"},{"name":"solutionHash0","type":"bytes32"},{"name":"taskInitHash","type":"bytes32"},{"name":"codeType","type":"uint8"},{"name":"bundleId","type":"bytes32"},{"name":"solver","type":"address"}]},
{"type":"event","name":"TaskCreated","anonymous":false,"inputs":[{"name":"taskID","type":"bytes32","indexed":false},{"name":"codeType","type":"uint8","indexed":false},{"name":"bundleId","type":"bytes32","indexed":false},{"name":"blockNumber","type":"uint256","indexed":false},{"name":"reward","type":"uint256","indexed":false}]},
{"type":"event","name":"SolutionsCommitted","anonymous":false,"inputs":[{"name":"taskID","type":"bytes32","indexed":false},{"name":"codeType","type":"uint8","indexed":false},{"name":"bundleId","type":"bytes32","indexed":false},{"name":"solutionHash","type":"bytes32","indexed":false}]},
{"type":"event","name":"SolutionRevealed","anonymous":false,"inputs":[{"name":"taskID","type":"bytes32","indexed":false}]},
{"type":"event","name":"EndRevealPeriod","anonymous":false,"inputs":[{"name":"taskID","type":"bytes32","indexed":false}]},
{"type":"event","name":"TaskFinalized","anonymous":false,"inputs":[{"name":"taskID","type":"bytes32","indexed":false}]},
{"type":"event","name":"SlashedDeposit","anonymous":false,"inputs":[{"name":"taskID","type":"bytes32","indexed":false},{"name":"account","type":"address","indexed":false},{"name":"opponent","type":"address","indexed":false},{"name":"amount","type":"uint256","indexed":false}]},
{"type":"event","name":"VerificationCommitted","anonymous":false,"inputs":[{"name":"taskID","type":"bytes32","indexed":false},{"name":"verifier","type":"address","indexed":false}]}
]`

// DisputeLayerABI is the subset of the interactive dispute resolution interface used by the agents.
const DisputeLayerABI = `[
{"type":"function","name":"initialize","stateMutability":"nonpayable","inputs":[{"name":"gameID","type":"bytes32"},{"name":"startRoots","type":"bytes32[10]"},{"name":"startPointers","type":"uint256[4]"},{"name":"steps","type":"uint256"},{"name":"endRoots","type":"bytes32[10]"},{"name":"endPointers","type":"uint256[4]"}],"outputs":[]},
{"type":"function","name":"report","stateMutability":"nonpayable","inputs":[{"name":"gameID","type":"bytes32"},{"name":"i1","type":"uint256"},{"name":"i2","type":"uint256"},{"name":"arr","type":"bytes32[]"}],"outputs":[]},
{"type":"function","name":"query","stateMutability":"nonpayable","inputs":[{"name":"gameID","type":"bytes32"},{"name":"i1","type":"uint256"},{"name":"i2","type":"uint256"},{"name":"num","type":"uint256"},{"name":"arr","type":"bytes32[]"}],"outputs":[]},
{"type":"function","name":"postPhases","stateMutability":"nonpayable","inputs":[{"name":"gameID","type":"bytes32"},{"name":"i1","type":"uint256"},{"name":"arr","type":"bytes32[13]"}],"outputs":[]},
{"type":"function","name":"selectPhase","stateMutability":"nonpayable","inputs":[{"name":"gameID","type":"bytes32"},{"name":"i1","type":"uint256"},{"name":"st","type":"bytes32"},{"name":"q","type":"uint256"}],"outputs":[]},
{"type":"function","name":"callJudge","stateMutability":"nonpayable","inputs":[{"name":"gameID","type":"bytes32"},{"name":"i1","type":"uint256"},{"name":"q","type":"uint256"},{"name":"proof","type":"bytes32[]"},{"name":"proof2","type":"bytes32[]"},{"name":"vmHash","type":"bytes32"},{"name":"op","type":"bytes32"},{"name":"regs","type":"uint256[4]"},{"name":"roots","type":"bytes32[10]"},{"name":"pointers","type":"uint256[4]"}],"outputs":[]},
{"type":"function","name":"callCustomJudge","stateMutability":"nonpayable","inputs":[{"name":"gameID","type":"bytes32"},{"name":"i1","type":"uint256"},{"name":"op","type":"bytes32"},{"name":"regs","type":"uint256[4]"},{"name":"customState","type":"bytes32"},{"name":"customSize","type":"uint256"},{"name":"proof","type":"bytes32[]"},{"name":"roots","type":"bytes32[10]"},{"name":"pointers","type":"uint256[4]"}],"outputs":[]},
{"type":"function","name":"gameOver","stateMutability":"nonpayable","inputs":[{"name":"gameID","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"getTask","stateMutability":"view","inputs":[{"name":"gameID","type":"bytes32"}],"outputs":[{"name":"","type":"bytes32"}]},
{"type":"function","name":"getIndices","stateMutability":"view","inputs":[{"name":"gameID","type":"bytes32"}],"outputs":[{"name":"idx1","type":"uint256"},{"name":"idx2","type":"uint256"}]},
{"type":"event","name":"StartChallenge","anonymous":false,"inputs":[{"name":"p","type":"address","indexed":false},{"name":"c","type":"address","indexed":false},{"name":"s","type":"bytes32","indexed":false},{"name":"e","type":"bytes32","indexed":false},{"name":"idx1","type":"uint256","indexed":false},{"name":"idx2","type":"uint256","indexed":false},{"name":"par","type":"uint256","indexed":false},{"name":"to","type":"uint256","indexed":false},{"name":"gameID","type":"bytes32","indexed":false}]},
{"type":"event","name":"Queried","anonymous":false,"inputs":[{"name":"gameID","type":"bytes32","indexed":false},{"name":"idx1","type":"uint256","indexed":false},{"name":"idx2","type":"uint256","indexed":false}]},
{"type":"event","name":"Reported","anonymous":false,"inputs":[{"name":"gameID","type":"bytes32","indexed":false},{"name":"idx1","type":"uint256","indexed":false},{"name":"idx2","type":"uint256","indexed":false},{"name":"arr","type":"bytes32[]","indexed":false}]},
{"type":"event","name":"PostedPhases","anonymous":false,"inputs":[{"name":"gameID","type":"bytes32","indexed":false},{"name":"idx1","type":"uint256","indexed":false},{"name":"arr","type":"bytes32[13]","indexed":false}]},
{"type":"event","name":"SelectedPhase","anonymous":false,"inputs":[{"name":"gameID","type":"bytes32","indexed":false},{"name":"idx1","type":"uint256","indexed":false},{"name":"phase","type":"uint256","indexed":false}]},
{"type":"event","name":"WinnerSelected","anonymous":false,"inputs":[{"name":"gameID","type":"bytes32","indexed":false}]}
]`

var (
	incentiveABI = mustParseABI("incentive layer", IncentiveLayerABI)
	disputeABI   = mustParseABI("dispute layer", DisputeLayerABI)
)

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid %s ABI: %v", name, err))
	}
	return parsed
}

// IncentiveABI returns the parsed incentive layer ABI.
func IncentiveABI() abi.ABI { return incentiveABI }

// DisputeABI returns the parsed dispute layer ABI.
func DisputeABI() abi.ABI { return disputeABI }
