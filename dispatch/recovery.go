package dispatch

import (
	"context"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cryptobuks/truebit-os/contract"
	"github.com/cryptobuks/truebit-os/registry"
)

// TaskPlan is a task to restore together with its last observed state.
type TaskPlan struct {
	ID    common.Hash
	State registry.TaskState
}

// Plan is the outcome of folding buffered history.
type Plan struct {
	Tasks []TaskPlan
	Games []common.Hash
}

func taskStateOf(name string) (registry.TaskState, bool) {
	switch name {
	case contract.EventTaskCreated:
		return registry.TaskCreated, true
	case contract.EventSolutionsCommitted:
		return registry.TaskSolutionCommitted, true
	case contract.EventEndRevealPeriod:
		return registry.TaskChallengePeriodEnded, true
	case contract.EventSolutionRevealed:
		return registry.TaskRevealed, true
	case contract.EventVerificationCommitted:
		return registry.TaskDisputed, true
	}
	return 0, false
}

// Analyze folds records into the tasks and games still open at the end of
// the window. Records are put in chain order first, so the result does not
// depend on the order they arrived in.
func Analyze(records []contract.Record, taskEvent string, isParty func(*contract.StartChallenge) bool) Plan {
	recs := make([]contract.Record, len(records))
	copy(recs, records)
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Before(recs[j]) })

	var (
		taskOrder []common.Hash
		gameOrder []common.Hash
		states    = make(map[common.Hash]registry.TaskState)
		openTasks = make(map[common.Hash]bool)
		openGames = make(map[common.Hash]bool)
	)

	for _, rec := range recs {
		switch ev := rec.Event.(type) {
		case *contract.StartChallenge:
			if isParty == nil || !isParty(ev) {
				continue
			}
			if _, seen := openGames[ev.GameID]; !seen {
				gameOrder = append(gameOrder, ev.GameID)
				openGames[ev.GameID] = true
			}
			continue
		case *contract.WinnerSelected:
			if _, seen := openGames[ev.GameID]; seen {
				openGames[ev.GameID] = false
			}
			continue
		}

		id, ok := contract.TaskIDOf(rec.Event)
		if !ok {
			continue
		}
		if rec.Name == contract.EventTaskFinalized {
			if _, seen := openTasks[id]; seen {
				openTasks[id] = false
			}
			continue
		}
		if rec.Name == taskEvent {
			if _, seen := openTasks[id]; !seen {
				taskOrder = append(taskOrder, id)
				openTasks[id] = true
			}
		}
		if !openTasks[id] {
			continue
		}
		if st, ok := taskStateOf(rec.Name); ok && st > states[id] {
			states[id] = st
		}
	}

	var plan Plan
	for _, id := range taskOrder {
		if openTasks[id] {
			plan.Tasks = append(plan.Tasks, TaskPlan{ID: id, State: states[id]})
		}
	}
	for _, id := range gameOrder {
		if openGames[id] {
			plan.Games = append(plan.Games, id)
		}
	}
	return plan
}

func (m *Manager) analyze(ctx context.Context) {
	records := m.buffered
	m.buffered = nil

	plan := Analyze(records, m.recovery.TaskEvent, m.recovery.IsParty)
	m.log.Info().
		Str("role", m.role).
		Int("records", len(records)).
		Int("tasks", len(plan.Tasks)).
		Int("games", len(plan.Games)).
		Msg("Recovery analysis")

	for _, tp := range plan.Tasks {
		if m.recovery.RecoverTask == nil {
			break
		}
		if err := m.recovery.RecoverTask(ctx, tp.ID); err != nil {
			m.log.Error().Err(err).Str("role", m.role).Str("task", tp.ID.Hex()).Msg("Failed to recover task")
			continue
		}
		if t, ok := m.reg.Task(tp.ID); ok {
			t.State = tp.State
		}
	}
	for _, id := range plan.Games {
		if m.recovery.RecoverGame == nil {
			break
		}
		if err := m.recovery.RecoverGame(ctx, id); err != nil {
			m.log.Error().Err(err).Str("role", m.role).Str("game", id.Hex()).Msg("Failed to recover game")
		}
	}
}
