// Package registry holds the tasks and games one agent is responsible for.
package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cryptobuks/truebit-os/contract"
	"github.com/cryptobuks/truebit-os/execution"
)

var (
	// ErrUnknownTask is returned when a task is not in the registry.
	ErrUnknownTask = errors.New("unknown task")
	// ErrUnknownGame is returned when a game is not in the registry.
	ErrUnknownGame = errors.New("unknown game")
)

// TaskState tracks a task's lifecycle as seen by the agent.
type TaskState int

const (
	TaskCreated TaskState = iota
	TaskSolutionCommitted
	TaskChallengePeriodEnded
	TaskRevealed
	TaskDisputed
	TaskFinalized
)

func (s TaskState) String() string {
	switch s {
	case TaskCreated:
		return "created"
	case TaskSolutionCommitted:
		return "solution_committed"
	case TaskChallengePeriodEnded:
		return "challenge_period_ended"
	case TaskRevealed:
		return "revealed"
	case TaskDisputed:
		return "disputed"
	case TaskFinalized:
		return "finalized"
	}
	return "unknown"
}

// GameState tracks a verification game.
type GameState int

const (
	GameInitialized GameState = iota
	GameQuerying
	GamePhaseSelection
	GameJudgeCalled
	GameWinnerSelected
	GameOver
)

func (s GameState) String() string {
	switch s {
	case GameInitialized:
		return "initialized"
	case GameQuerying:
		return "querying"
	case GamePhaseSelection:
		return "phase_selection"
	case GameJudgeCalled:
		return "judge_called"
	case GameWinnerSelected:
		return "winner_selected"
	case GameOver:
		return "game_over"
	}
	return "unknown"
}

// Task is a task owned by an agent.
type Task struct {
	ID       common.Hash
	Info     contract.TaskInfo
	State    TaskState
	Trace    execution.Trace
	Solution execution.Solution
	// SolverHash is the hash the solver committed, as seen by a verifier.
	SolverHash common.Hash
}

// Game is a verification game the agent is a party to.
type Game struct {
	ID         common.Hash
	TaskID     common.Hash
	Prover     common.Address
	Challenger common.Address
	Low        uint64
	High       uint64
	Step       uint64
	Phase      int
	State      GameState
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now for the debounce table.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry is the per-agent store of tasks, games, and cooldowns.
type Registry struct {
	mu       sync.RWMutex
	tasks    map[common.Hash]*Task
	games    map[common.Hash]*Game
	taskList []common.Hash
	gameList []common.Hash
	busy     map[common.Hash]time.Time
	waitTime time.Duration
	now      func() time.Time

	exiting atomic.Bool
	exited  atomic.Bool
}

// New creates a registry whose entities stay busy for waitTime after MarkBusy.
func New(waitTime time.Duration, opts ...Option) *Registry {
	r := &Registry{
		tasks:    make(map[common.Hash]*Task),
		games:    make(map[common.Hash]*Game),
		busy:     make(map[common.Hash]time.Time),
		waitTime: waitTime,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddTask inserts id if absent and returns the stored task.
func (r *Registry) AddTask(id common.Hash) *Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[id]; ok {
		return t
	}
	t := &Task{ID: id}
	r.tasks[id] = t
	r.taskList = append(r.taskList, id)
	return t
}

// Task looks up a task.
func (r *Registry) Task(id common.Hash) (*Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	return t, ok
}

// RemoveTask deletes a task; its id leaves the ordered list on Compact.
func (r *Registry) RemoveTask(id common.Hash) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; !ok {
		return false
	}
	delete(r.tasks, id)
	delete(r.busy, id)
	return true
}

// TaskCount returns the number of live tasks.
func (r *Registry) TaskCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// TaskIDs returns live task ids in insertion order.
func (r *Registry) TaskIDs() []common.Hash {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return live(r.taskList, func(id common.Hash) bool { _, ok := r.tasks[id]; return ok })
}

// AddGame inserts g unless a game with the same id exists.
func (r *Registry) AddGame(g *Game) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.games[g.ID]; ok {
		return false
	}
	r.games[g.ID] = g
	r.gameList = append(r.gameList, g.ID)
	return true
}

// Game looks up a game.
func (r *Registry) Game(id common.Hash) (*Game, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.games[id]
	return g, ok
}

// RemoveGame deletes a game.
func (r *Registry) RemoveGame(id common.Hash) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.games[id]; !ok {
		return false
	}
	delete(r.games, id)
	delete(r.busy, id)
	return true
}

// GameCount returns the number of live games.
func (r *Registry) GameCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.games)
}

// GameIDs returns live game ids in insertion order.
func (r *Registry) GameIDs() []common.Hash {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return live(r.gameList, func(id common.Hash) bool { _, ok := r.games[id]; return ok })
}

// Compact drops ids of removed entities from the ordered lists.
func (r *Registry) Compact() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.taskList = live(r.taskList, func(id common.Hash) bool { _, ok := r.tasks[id]; return ok })
	r.gameList = live(r.gameList, func(id common.Hash) bool { _, ok := r.games[id]; return ok })
	now := r.now()
	for id, until := range r.busy {
		if !now.Before(until) {
			delete(r.busy, id)
		}
	}
}

// ListLen returns the raw lengths of the ordered lists, removed ids included.
func (r *Registry) ListLen() (tasks, games int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.taskList), len(r.gameList)
}

func live(ids []common.Hash, keep func(common.Hash) bool) []common.Hash {
	out := make([]common.Hash, 0, len(ids))
	for _, id := range ids {
		if keep(id) {
			out = append(out, id)
		}
	}
	return out
}

// MarkBusy starts the cooldown of id.
func (r *Registry) MarkBusy(id common.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.busy[id] = r.now().Add(r.waitTime)
}

// IsBusy reports whether id is still cooling down.
func (r *Registry) IsBusy(id common.Hash) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	until, ok := r.busy[id]
	return ok && r.now().Before(until)
}

// Exit asks the agent to stop taking new tasks and to finish once drained.
func (r *Registry) Exit() { r.exiting.Store(true) }

// Exiting reports whether Exit was called.
func (r *Registry) Exiting() bool { return r.exiting.Load() }

// MarkExited records that the agent has drained. It reports whether this
// call made the transition.
func (r *Registry) MarkExited() bool { return r.exited.CompareAndSwap(false, true) }

// Exited reports whether the agent has drained.
func (r *Registry) Exited() bool { return r.exited.Load() }
