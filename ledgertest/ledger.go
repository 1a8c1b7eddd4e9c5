// Package ledgertest provides an in-memory ledger that implements both the
// incentive and dispute layers, for driving agents in tests without a chain.
//
// Every accepted transaction mines one block. Emitted events queue up until
// Drain hands them out.
package ledgertest

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/cryptobuks/truebit-os/bisection"
	"github.com/cryptobuks/truebit-os/contract"
)

type turn int

const (
	awaitInit turn = iota
	awaitReport
	awaitQuery
	awaitPhases
	awaitSelection
	awaitJudge
	settled
)

type task struct {
	info      contract.TaskInfo
	reward    *big.Int
	createdAt uint64

	committed   bool
	solver      common.Address
	solution    common.Hash
	committedAt uint64

	challengers []common.Address
	stakes      []*big.Int
	nextGame    int
	activeGame  common.Hash

	ended      bool
	revealed   bool
	solverLost bool
	finalized  bool
}

type game struct {
	id         common.Hash
	task       common.Hash
	prover     common.Address
	challenger common.Address
	low, high  uint64
	turn       turn
	lastAction uint64
	winner     common.Address
}

// Ledger is the shared chain state. Use View to act as an account.
type Ledger struct {
	// ChallengePeriod is the number of blocks after a commitment during
	// which challenges are accepted.
	ChallengePeriod uint64
	// GameTimeout is the number of idle blocks after which gameOver is
	// callable. Zero disables game timeouts.
	GameTimeout uint64
	// TaskTimeout is the number of blocks after creation after which a task
	// without a solution times out. Zero disables task timeouts.
	TaskTimeout uint64
	// ProverWins decides every judge call.
	ProverWins bool

	mu      sync.Mutex
	block   uint64
	nonce   uint64
	logIdx  uint
	pending []contract.Record
	tasks   map[common.Hash]*task
	order   []common.Hash
	games   map[common.Hash]*game
	sends   map[string]int
	fail    map[string]error
}

// New returns an empty ledger at block 1.
func New() *Ledger {
	return &Ledger{
		ChallengePeriod: 5,
		block:           1,
		tasks:           make(map[common.Hash]*task),
		games:           make(map[common.Hash]*game),
		sends:           make(map[string]int),
		fail:            make(map[string]error),
	}
}

// Block returns the current block number.
func (l *Ledger) Block() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.block
}

// Mine advances the chain by n empty blocks.
func (l *Ledger) Mine(n uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.block += n
}

// Sends returns how many transactions of method were accepted.
func (l *Ledger) Sends(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sends[method]
}

// FailNext makes the next send of method fail with err.
func (l *Ledger) FailNext(method string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fail[method] = err
}

// Drain returns the events emitted since the last call.
func (l *Ledger) Drain() []contract.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.pending
	l.pending = nil
	return out
}

// Tasks returns every task id in creation order.
func (l *Ledger) Tasks() []common.Hash {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]common.Hash(nil), l.order...)
}

// Finalized reports whether the task was settled.
func (l *Ledger) Finalized(taskID common.Hash) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tasks[taskID]
	return ok && t.finalized
}

// Winner returns the winner of a settled game.
func (l *Ledger) Winner(gameID common.Hash) (common.Address, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.games[gameID]
	if !ok || g.turn != settled {
		return common.Address{}, false
	}
	return g.winner, true
}

// Games returns the ids of every game ever started.
func (l *Ledger) Games() []common.Hash {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []common.Hash
	for _, id := range l.order {
		t := l.tasks[id]
		for i := 0; i < t.nextGame; i++ {
			out = append(out, gameIDFor(id, i))
		}
	}
	return out
}

func gameIDFor(taskID common.Hash, i int) common.Hash {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(i))
	return crypto.Keccak256Hash([]byte("game"), taskID.Bytes(), n[:])
}

// tx runs an accepted state change: it consumes an injected failure, mines
// a block and counts the send. Callers hold mu.
func (l *Ledger) tx(method string) error {
	if err, ok := l.fail[method]; ok {
		delete(l.fail, method)
		return fmt.Errorf("%s: %w", method, err)
	}
	l.block++
	l.logIdx = 0
	l.sends[method]++
	return nil
}

func (l *Ledger) emit(name string, ev interface{}) {
	l.pending = append(l.pending, contract.Record{
		Name:        name,
		BlockNumber: l.block,
		LogIndex:    l.logIdx,
		TxHash:      crypto.Keccak256Hash([]byte(name), new(big.Int).SetUint64(l.block).Bytes()),
		Event:       ev,
	})
	l.logIdx++
}

func rejected(method, reason string) error {
	return fmt.Errorf("%s: %w: %s", method, contract.ErrRejected, reason)
}

func u(v uint64) *big.Int { return new(big.Int).SetUint64(v) }

// View is the ledger as seen by one account. It implements both
// contract.IncentiveLayer and contract.DisputeLayer.
type View struct {
	l    *Ledger
	from common.Address
}

var (
	_ contract.IncentiveLayer = (*View)(nil)
	_ contract.DisputeLayer   = (*View)(nil)
)

// View returns the ledger acting as from.
func (l *Ledger) View(from common.Address) *View {
	return &View{l: l, from: from}
}

func (v *View) task(taskID common.Hash) (*task, error) {
	t, ok := v.l.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("unknown task %s", taskID.Hex())
	}
	return t, nil
}

func (v *View) game(gameID common.Hash) (*game, error) {
	g, ok := v.l.games[gameID]
	if !ok {
		return nil, fmt.Errorf("unknown game %s", gameID.Hex())
	}
	return g, nil
}

// GetTaskInfo returns the task as posted.
func (v *View) GetTaskInfo(_ context.Context, taskID common.Hash) (contract.TaskInfo, error) {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	t, err := v.task(taskID)
	if err != nil {
		return contract.TaskInfo{}, err
	}
	return t.info, nil
}

// GetVMParameters returns zero sizes.
func (v *View) GetVMParameters(_ context.Context, taskID common.Hash) (contract.VMParameters, error) {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	_, err := v.task(taskID)
	return contract.VMParameters{}, err
}

// GetSolutionInfo returns the committed solution.
func (v *View) GetSolutionInfo(_ context.Context, taskID common.Hash) (contract.SolutionInfo, error) {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	t, err := v.task(taskID)
	if err != nil {
		return contract.SolutionInfo{}, err
	}
	return contract.SolutionInfo{
		TaskID:        taskID,
		SolutionHash0: t.solution,
		TaskInitHash:  t.info.InitHash,
		CodeType:      t.info.CodeType,
		BundleID:      t.info.BundleID,
		Solver:        t.solver,
	}, nil
}

// CreateTask posts a task.
func (v *View) CreateTask(_ context.Context, req contract.TaskRequest) (common.Hash, error) {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	return v.create("createTask", req)
}

// CreateSimpleTask posts a task with default code type and bundle.
func (v *View) CreateSimpleTask(_ context.Context, initHash common.Hash, reward *big.Int) (common.Hash, error) {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	return v.create("createSimpleTask", contract.TaskRequest{InitHash: initHash, Reward: reward, MaxDifficulty: 1})
}

func (v *View) create(method string, req contract.TaskRequest) (common.Hash, error) {
	if err := v.l.tx(method); err != nil {
		return common.Hash{}, err
	}
	v.l.nonce++
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], v.l.nonce)
	id := crypto.Keccak256Hash([]byte("task"), n[:])

	reward := req.Reward
	if reward == nil {
		reward = new(big.Int)
	}
	v.l.tasks[id] = &task{
		info: contract.TaskInfo{
			Giver:    v.from,
			InitHash: req.InitHash,
			CodeType: req.CodeType,
			BundleID: req.BundleID,
			TaskID:   id,
		},
		reward:    reward,
		createdAt: v.l.block,
	}
	v.l.order = append(v.l.order, id)
	v.l.emit(contract.EventTaskCreated, &contract.TaskCreated{
		TaskID:      id,
		CodeType:    req.CodeType,
		BundleId:    req.BundleID,
		BlockNumber: u(v.l.block),
		Reward:      new(big.Int).Set(reward),
	})
	return id, nil
}

// CommitSolution accepts the first solution of a task only.
func (v *View) CommitSolution(_ context.Context, taskID, solutionHash common.Hash) error {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	t, err := v.task(taskID)
	if err != nil {
		return err
	}
	if t.committed || t.finalized {
		return rejected("commitSolution", "solution already committed")
	}
	if err := v.l.tx("commitSolution"); err != nil {
		return err
	}
	t.committed = true
	t.solver = v.from
	t.solution = solutionHash
	t.committedAt = v.l.block
	v.l.emit(contract.EventSolutionsCommitted, &contract.SolutionsCommitted{
		TaskID:       taskID,
		CodeType:     t.info.CodeType,
		BundleId:     t.info.BundleID,
		SolutionHash: solutionHash,
	})
	return nil
}

// MakeChallenge registers a challenger while the challenge period is open.
func (v *View) MakeChallenge(_ context.Context, taskID common.Hash, stake *big.Int) error {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	t, err := v.task(taskID)
	if err != nil {
		return err
	}
	if !t.committed || t.ended {
		return rejected("makeChallenge", "challenge period closed")
	}
	if stake == nil || stake.Sign() <= 0 {
		return rejected("makeChallenge", "missing deposit")
	}
	if err := v.l.tx("makeChallenge"); err != nil {
		return err
	}
	t.challengers = append(t.challengers, v.from)
	t.stakes = append(t.stakes, new(big.Int).Set(stake))
	v.l.emit(contract.EventVerificationCommitted, &contract.VerificationCommitted{TaskID: taskID, Verifier: v.from})
	return nil
}

func (l *Ledger) canEnd(t *task) bool {
	return t.committed && !t.ended && l.block >= t.committedAt+l.ChallengePeriod
}

// CanEndChallengePeriod reports whether the challenge period is over.
func (v *View) CanEndChallengePeriod(_ context.Context, taskID common.Hash) (bool, error) {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	t, err := v.task(taskID)
	if err != nil {
		return false, err
	}
	return v.l.canEnd(t), nil
}

// EndChallengePeriod closes challenges and opens the reveal period.
func (v *View) EndChallengePeriod(_ context.Context, taskID common.Hash) error {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	t, err := v.task(taskID)
	if err != nil {
		return err
	}
	if !v.l.canEnd(t) {
		return rejected("endChallengePeriod", "challenge period not over")
	}
	if err := v.l.tx("endChallengePeriod"); err != nil {
		return err
	}
	t.ended = true
	v.l.emit(contract.EventEndRevealPeriod, &contract.EndRevealPeriod{TaskID: taskID})
	return nil
}

// RevealSolution is accepted from the solver once the challenge period ended.
func (v *View) RevealSolution(_ context.Context, taskID common.Hash, _ contract.Reveal) error {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	t, err := v.task(taskID)
	if err != nil {
		return err
	}
	if !t.ended || t.revealed || t.solver != v.from {
		return rejected("revealSolution", "not revealable")
	}
	if err := v.l.tx("revealSolution"); err != nil {
		return err
	}
	t.revealed = true
	v.l.emit(contract.EventSolutionRevealed, &contract.SolutionRevealed{TaskID: taskID})
	return nil
}

func (l *Ledger) canRun(t *task) bool {
	return t.revealed && !t.finalized && !t.solverLost &&
		t.activeGame == (common.Hash{}) && t.nextGame < len(t.challengers)
}

// CanRunVerificationGame reports whether a pending challenger can start a game.
func (v *View) CanRunVerificationGame(_ context.Context, taskID common.Hash) (bool, error) {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	t, err := v.task(taskID)
	if err != nil {
		return false, err
	}
	return v.l.canRun(t), nil
}

// RunVerificationGame starts a game against the next challenger.
func (v *View) RunVerificationGame(_ context.Context, taskID common.Hash) error {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	t, err := v.task(taskID)
	if err != nil {
		return err
	}
	if !v.l.canRun(t) {
		return rejected("runVerificationGame", "no game to run")
	}
	if err := v.l.tx("runVerificationGame"); err != nil {
		return err
	}
	id := gameIDFor(taskID, t.nextGame)
	g := &game{
		id:         id,
		task:       taskID,
		prover:     t.solver,
		challenger: t.challengers[t.nextGame],
		turn:       awaitInit,
		lastAction: v.l.block,
	}
	t.nextGame++
	t.activeGame = id
	v.l.games[id] = g
	v.l.emit(contract.EventStartChallenge, &contract.StartChallenge{
		P:      g.prover,
		C:      g.challenger,
		S:      t.info.InitHash,
		E:      t.solution,
		Idx1:   new(big.Int),
		Idx2:   new(big.Int),
		Par:    new(big.Int),
		To:     u(v.l.GameTimeout),
		GameID: id,
	})
	return nil
}

func (l *Ledger) canFinalize(t *task) bool {
	return t.revealed && !t.finalized && !t.solverLost &&
		t.activeGame == (common.Hash{}) && t.nextGame == len(t.challengers)
}

// CanFinalizeTask reports whether every challenge was answered.
func (v *View) CanFinalizeTask(_ context.Context, taskID common.Hash) (bool, error) {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	t, err := v.task(taskID)
	if err != nil {
		return false, err
	}
	return v.l.canFinalize(t), nil
}

// FinalizeTask settles a task whose solution stood.
func (v *View) FinalizeTask(_ context.Context, taskID common.Hash) error {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	t, err := v.task(taskID)
	if err != nil {
		return err
	}
	if !v.l.canFinalize(t) {
		return rejected("finalizeTask", "task not finalizable")
	}
	if err := v.l.tx("finalizeTask"); err != nil {
		return err
	}
	t.finalized = true
	v.l.emit(contract.EventTaskFinalized, &contract.TaskFinalized{TaskID: taskID})
	return nil
}

// CanSolverLose reports whether the solver lost a game on this task.
func (v *View) CanSolverLose(_ context.Context, taskID common.Hash) (bool, error) {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	t, err := v.task(taskID)
	if err != nil {
		return false, err
	}
	return t.solverLost && !t.finalized, nil
}

// SolverLoses slashes the solver and settles the task.
func (v *View) SolverLoses(_ context.Context, taskID common.Hash) error {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	t, err := v.task(taskID)
	if err != nil {
		return err
	}
	if !t.solverLost || t.finalized {
		return rejected("solverLoses", "solver has not lost")
	}
	if err := v.l.tx("solverLoses"); err != nil {
		return err
	}
	t.finalized = true
	v.l.emit(contract.EventSlashedDeposit, &contract.SlashedDeposit{TaskID: taskID, Account: t.solver, Opponent: v.from, Amount: new(big.Int).Set(t.reward)})
	v.l.emit(contract.EventTaskFinalized, &contract.TaskFinalized{TaskID: taskID})
	return nil
}

func (l *Ledger) timedOut(t *task) bool {
	return l.TaskTimeout > 0 && !t.committed && !t.finalized && l.block >= t.createdAt+l.TaskTimeout
}

// IsTaskTimeout reports whether a task went unsolved for too long.
func (v *View) IsTaskTimeout(_ context.Context, taskID common.Hash) (bool, error) {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	t, err := v.task(taskID)
	if err != nil {
		return false, err
	}
	return v.l.timedOut(t), nil
}

// TaskTimeout settles a timed out task.
func (v *View) TaskTimeout(_ context.Context, taskID common.Hash) error {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	t, err := v.task(taskID)
	if err != nil {
		return err
	}
	if !v.l.timedOut(t) {
		return rejected("taskTimeout", "task has not timed out")
	}
	if err := v.l.tx("taskTimeout"); err != nil {
		return err
	}
	t.finalized = true
	v.l.emit(contract.EventTaskFinalized, &contract.TaskFinalized{TaskID: taskID})
	return nil
}

// GetTask returns the task a game disputes.
func (v *View) GetTask(_ context.Context, gameID common.Hash) (common.Hash, error) {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	g, err := v.game(gameID)
	if err != nil {
		return common.Hash{}, err
	}
	return g.task, nil
}

// GetIndices returns the current window of a game.
func (v *View) GetIndices(_ context.Context, gameID common.Hash) (uint64, uint64, error) {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	g, err := v.game(gameID)
	if err != nil {
		return 0, 0, err
	}
	return g.low, g.high, nil
}

// act checks that the caller may make the move want and records the action.
func (v *View) act(method string, gameID common.Hash, want turn) (*game, error) {
	g, err := v.game(gameID)
	if err != nil {
		return nil, err
	}
	if g.turn != want {
		return nil, rejected(method, "out of turn")
	}
	if v.from != g.whoseTurn() {
		return nil, rejected(method, "not a party")
	}
	if err := v.l.tx(method); err != nil {
		return nil, err
	}
	g.lastAction = v.l.block
	return g, nil
}

// Initialize sets the game window to [0, steps].
func (v *View) Initialize(_ context.Context, setup contract.GameSetup) error {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	if setup.Steps == 0 {
		return rejected("initialize", "empty run")
	}
	g, err := v.act("initialize", setup.GameID, awaitInit)
	if err != nil {
		return err
	}
	g.low, g.high = 0, setup.Steps
	g.turn = awaitReport
	return nil
}

// Report accepts the prover's state for the midpoint of the current window.
func (v *View) Report(_ context.Context, gameID common.Hash, low, high uint64, hashes []common.Hash) error {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	g, err := v.game(gameID)
	if err != nil {
		return err
	}
	if g.low != low || g.high != high || len(hashes) == 0 {
		return rejected("report", "wrong window")
	}
	if g, err = v.act("report", gameID, awaitReport); err != nil {
		return err
	}
	g.turn = awaitQuery
	v.l.emit(contract.EventReported, &contract.Reported{GameID: gameID, Idx1: u(low), Idx2: u(high), Arr: append([]common.Hash(nil), hashes...)})
	return nil
}

// Query narrows the window on the challenger's verdict.
func (v *View) Query(_ context.Context, gameID common.Hash, low, high uint64, agree bool, _ []common.Hash) error {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	g, err := v.game(gameID)
	if err != nil {
		return err
	}
	if g.low != low || g.high != high {
		return rejected("query", "wrong window")
	}
	if g, err = v.act("query", gameID, awaitQuery); err != nil {
		return err
	}
	g.low, g.high = bisection.Narrow(low, high, agree)
	if bisection.Final(g.low, g.high) {
		g.turn = awaitPhases
	} else {
		g.turn = awaitReport
	}
	v.l.emit(contract.EventQueried, &contract.Queried{GameID: gameID, Idx1: u(g.low), Idx2: u(g.high)})
	return nil
}

// PostPhases accepts the phase states of the final step.
func (v *View) PostPhases(_ context.Context, gameID common.Hash, step uint64, phases [contract.PhaseCount]common.Hash) error {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	g, err := v.game(gameID)
	if err != nil {
		return err
	}
	if step != g.low {
		return rejected("postPhases", "wrong step")
	}
	if g, err = v.act("postPhases", gameID, awaitPhases); err != nil {
		return err
	}
	g.turn = awaitSelection
	v.l.emit(contract.EventPostedPhases, &contract.PostedPhases{GameID: gameID, Idx1: u(step), Arr: phases})
	return nil
}

// SelectPhase accepts the challenger's disputed phase.
func (v *View) SelectPhase(_ context.Context, gameID common.Hash, step uint64, _ common.Hash, phase int) error {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	g, err := v.game(gameID)
	if err != nil {
		return err
	}
	if step != g.low || phase < 0 || phase >= contract.PhaseCount {
		return rejected("selectPhase", "bad selection")
	}
	if g, err = v.act("selectPhase", gameID, awaitSelection); err != nil {
		return err
	}
	g.turn = awaitJudge
	v.l.emit(contract.EventSelectedPhase, &contract.SelectedPhase{GameID: gameID, Idx1: u(step), Phase: big.NewInt(int64(phase))})
	return nil
}

// CallJudge settles the game according to ProverWins.
func (v *View) CallJudge(_ context.Context, call contract.JudgeCall) error {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	g, err := v.act("callJudge", call.GameID, awaitJudge)
	if err != nil {
		return err
	}
	v.l.judge(g)
	return nil
}

// CallCustomJudge settles the game according to ProverWins.
func (v *View) CallCustomJudge(_ context.Context, call contract.CustomJudgeCall) error {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	g, err := v.act("callCustomJudge", call.GameID, awaitJudge)
	if err != nil {
		return err
	}
	v.l.judge(g)
	return nil
}

func (l *Ledger) judge(g *game) {
	if l.ProverWins {
		l.settle(g, g.prover)
	} else {
		l.settle(g, g.challenger)
	}
}

// settle closes g in favour of winner. Callers hold mu.
func (l *Ledger) settle(g *game, winner common.Address) {
	g.turn = settled
	g.winner = winner
	t := l.tasks[g.task]
	t.activeGame = common.Hash{}
	l.emit(contract.EventWinnerSelected, &contract.WinnerSelected{GameID: g.id})
	if winner == g.prover {
		idx := t.nextGame - 1
		l.emit(contract.EventSlashedDeposit, &contract.SlashedDeposit{TaskID: g.task, Account: g.challenger, Opponent: g.prover, Amount: new(big.Int).Set(t.stakes[idx])})
		return
	}
	t.solverLost = true
}

// whoseTurn returns the party expected to move next.
func (g *game) whoseTurn() common.Address {
	switch g.turn {
	case awaitQuery, awaitSelection:
		return g.challenger
	}
	return g.prover
}

func (l *Ledger) isOver(g *game) bool {
	return l.GameTimeout > 0 && g.turn != settled && l.block >= g.lastAction+l.GameTimeout
}

// IsGameOver reports whether the party to move has run out of time.
func (v *View) IsGameOver(_ context.Context, gameID common.Hash) (bool, error) {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	g, err := v.game(gameID)
	if err != nil {
		return false, err
	}
	return v.l.isOver(g), nil
}

// GameOver settles a timed out game against the party to move.
func (v *View) GameOver(_ context.Context, gameID common.Hash) error {
	v.l.mu.Lock()
	defer v.l.mu.Unlock()
	g, err := v.game(gameID)
	if err != nil {
		return err
	}
	if !v.l.isOver(g) {
		return rejected("gameOver", "game still running")
	}
	if err := v.l.tx("gameOver"); err != nil {
		return err
	}
	loser := g.whoseTurn()
	winner := g.prover
	if loser == g.prover {
		winner = g.challenger
	}
	v.l.settle(g, winner)
	return nil
}
