package dispatch

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cryptobuks/truebit-os/contract"
	"github.com/cryptobuks/truebit-os/registry"
)

var (
	me    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	other = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func taskRec(name string, block uint64, idx uint, id common.Hash, historical bool) contract.Record {
	var ev interface{}
	switch name {
	case contract.EventTaskCreated:
		ev = &contract.TaskCreated{TaskID: id, BlockNumber: new(big.Int), Reward: new(big.Int)}
	case contract.EventSolutionsCommitted:
		ev = &contract.SolutionsCommitted{TaskID: id}
	case contract.EventEndRevealPeriod:
		ev = &contract.EndRevealPeriod{TaskID: id}
	case contract.EventSolutionRevealed:
		ev = &contract.SolutionRevealed{TaskID: id}
	case contract.EventVerificationCommitted:
		ev = &contract.VerificationCommitted{TaskID: id}
	case contract.EventTaskFinalized:
		ev = &contract.TaskFinalized{TaskID: id}
	}
	return contract.Record{Name: name, BlockNumber: block, LogIndex: idx, Historical: historical, Event: ev}
}

func challengeRec(block uint64, idx uint, gameID common.Hash, prover common.Address, historical bool) contract.Record {
	return contract.Record{
		Name:        contract.EventStartChallenge,
		BlockNumber: block,
		LogIndex:    idx,
		Historical:  historical,
		Event:       &contract.StartChallenge{P: prover, C: other, GameID: gameID},
	}
}

func winnerRec(block uint64, idx uint, gameID common.Hash) contract.Record {
	return contract.Record{
		Name:        contract.EventWinnerSelected,
		BlockNumber: block,
		LogIndex:    idx,
		Historical:  true,
		Event:       &contract.WinnerSelected{GameID: gameID},
	}
}

func solverRecovery(reg *registry.Registry, calls *[]string) Recovery {
	return Recovery{
		TaskEvent: contract.EventTaskCreated,
		IsParty:   func(ev *contract.StartChallenge) bool { return ev.P == me },
		RecoverTask: func(_ context.Context, id common.Hash) error {
			*calls = append(*calls, "task:"+id.Hex())
			reg.AddTask(id)
			return nil
		},
		RecoverGame: func(_ context.Context, id common.Hash) error {
			*calls = append(*calls, "game:"+id.Hex())
			reg.AddGame(&registry.Game{ID: id})
			return nil
		},
	}
}

func TestLiveDispatchSurvivesHandlerErrors(t *testing.T) {
	reg := registry.New(0)
	m := New("solver", reg, false, zerolog.Nop())

	var seen []string
	m.Subscribe(contract.EventTaskCreated, func(context.Context, contract.Record) error {
		seen = append(seen, "first")
		return errors.New("boom")
	})
	m.Subscribe(contract.EventTaskCreated, func(context.Context, contract.Record) error {
		seen = append(seen, "second")
		return nil
	})

	id := common.HexToHash("0x01")
	m.HandleRecord(context.Background(), taskRec(contract.EventTaskCreated, 1, 0, id, false))
	m.HandleRecord(context.Background(), taskRec(contract.EventTaskCreated, 2, 0, id, false))
	m.HandleRecord(context.Background(), taskRec(contract.EventTaskFinalized, 3, 0, id, false))

	assert.Equal(t, []string{"first", "second", "first", "second"}, seen)
	assert.Equal(t, []string{contract.EventTaskCreated}, m.Subscribed())
}

func TestRecoveryRunsOnceOnFirstTick(t *testing.T) {
	reg := registry.New(0)
	m := New("solver", reg, true, zerolog.Nop())
	var calls []string
	m.SetRecovery(solverRecovery(reg, &calls))

	var live []uint64
	m.Subscribe(contract.EventTaskCreated, func(_ context.Context, rec contract.Record) error {
		live = append(live, rec.BlockNumber)
		return nil
	})
	ticks := 0
	m.OnTick(func(context.Context) {
		ticks++
		assert.Equal(t, []uint64{20}, live, "deferred records run before the tick function")
	})

	open, closed := common.HexToHash("0x01"), common.HexToHash("0x02")
	game, foreign := common.HexToHash("0x0a"), common.HexToHash("0x0b")
	ctx := context.Background()

	m.HandleRecord(ctx, taskRec(contract.EventTaskCreated, 1, 0, open, true))
	m.HandleRecord(ctx, taskRec(contract.EventTaskCreated, 1, 1, closed, true))
	m.HandleRecord(ctx, taskRec(contract.EventEndRevealPeriod, 3, 0, open, true))
	m.HandleRecord(ctx, taskRec(contract.EventTaskFinalized, 4, 0, closed, true))
	m.HandleRecord(ctx, challengeRec(5, 0, game, me, true))
	m.HandleRecord(ctx, challengeRec(5, 1, foreign, other, true))
	m.HandleRecord(ctx, taskRec(contract.EventTaskCreated, 20, 0, common.HexToHash("0x03"), false))

	assert.True(t, m.Recovering())
	assert.Empty(t, live)
	assert.Empty(t, calls)

	m.HandleTick(ctx)
	assert.True(t, m.Recovering(), "no analysis before the history is delivered")
	assert.Empty(t, calls)
	assert.Zero(t, ticks)

	m.HandleCaughtUp()
	m.HandleTick(ctx)
	assert.False(t, m.Recovering())
	assert.Equal(t, []string{"task:" + open.Hex(), "game:" + game.Hex()}, calls)
	task, ok := reg.Task(open)
	require.True(t, ok)
	assert.Equal(t, registry.TaskChallengePeriodEnded, task.State)

	m.HandleTick(ctx)
	assert.Equal(t, 2, ticks)
	assert.Len(t, calls, 2)
}

func TestRecoverGameFailureIsNotFatal(t *testing.T) {
	reg := registry.New(0)
	m := New("verifier", reg, true, zerolog.Nop())
	m.SetRecovery(Recovery{
		TaskEvent:   contract.EventSolutionsCommitted,
		IsParty:     func(ev *contract.StartChallenge) bool { return ev.C == other },
		RecoverTask: func(context.Context, common.Hash) error { return errors.New("unreachable") },
		RecoverGame: func(context.Context, common.Hash) error { return registry.ErrUnknownTask },
	})

	ctx := context.Background()
	m.HandleRecord(ctx, taskRec(contract.EventSolutionsCommitted, 1, 0, common.HexToHash("0x01"), true))
	m.HandleRecord(ctx, challengeRec(2, 0, common.HexToHash("0x0a"), me, true))
	m.HandleCaughtUp()
	m.HandleTick(ctx)

	assert.False(t, m.Recovering())
	assert.Zero(t, reg.TaskCount())
}

func TestTickBeforeHistoryWaitsForCatchUp(t *testing.T) {
	reg := registry.New(0)
	m := New("solver", reg, true, zerolog.Nop())
	var calls []string
	m.SetRecovery(solverRecovery(reg, &calls))
	var live []common.Hash
	m.Subscribe(contract.EventTaskCreated, func(_ context.Context, rec contract.Record) error {
		live = append(live, rec.Event.(*contract.TaskCreated).TaskID)
		return nil
	})

	id := common.HexToHash("0x01")
	ctx := context.Background()
	m.HandleTick(ctx)
	m.HandleRecord(ctx, taskRec(contract.EventTaskCreated, 1, 0, id, true))
	m.HandleRecord(ctx, taskRec(contract.EventSolutionsCommitted, 2, 0, id, true))
	assert.True(t, m.Recovering())
	assert.Empty(t, calls)

	m.HandleCaughtUp()
	m.HandleTick(ctx)
	assert.Equal(t, []string{"task:" + id.Hex()}, calls)
	assert.Empty(t, live, "history is never handled live")
	task, ok := reg.Task(id)
	require.True(t, ok)
	assert.Equal(t, registry.TaskSolutionCommitted, task.State)
}

func TestHistoricalRecordAfterRecoveryIsDropped(t *testing.T) {
	reg := registry.New(0)
	m := New("solver", reg, true, zerolog.Nop())
	var calls []string
	m.SetRecovery(solverRecovery(reg, &calls))
	var live []common.Hash
	m.Subscribe(contract.EventTaskCreated, func(_ context.Context, rec contract.Record) error {
		live = append(live, rec.Event.(*contract.TaskCreated).TaskID)
		return nil
	})

	ctx := context.Background()
	m.HandleCaughtUp()
	m.HandleTick(ctx)
	require.False(t, m.Recovering())

	m.HandleRecord(ctx, taskRec(contract.EventTaskCreated, 1, 0, common.HexToHash("0x01"), true))
	m.HandleRecord(ctx, taskRec(contract.EventTaskCreated, 9, 0, common.HexToHash("0x02"), false))
	assert.Equal(t, []common.Hash{common.HexToHash("0x02")}, live)
	assert.Empty(t, calls)
}

func TestRunOrdersCatchUpAfterRecords(t *testing.T) {
	reg := registry.New(0)
	m := New("solver", reg, true, zerolog.Nop(), WithQueueSize(8))
	var calls []string
	m.SetRecovery(solverRecovery(reg, &calls))
	ticked := make(chan struct{}, 4)
	m.OnTick(func(context.Context) { ticked <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	id := common.HexToHash("0x01")
	require.NoError(t, m.RequestTick(ctx))
	require.NoError(t, m.Deliver(ctx, taskRec(contract.EventTaskCreated, 1, 0, id, true)))
	require.NoError(t, m.CaughtUp(ctx))
	require.NoError(t, m.RequestTick(ctx))

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	select {
	case <-ticked:
	case <-time.After(time.Second):
		t.Fatal("tick not applied")
	}
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []string{"task:" + id.Hex()}, calls)
}

func historicalLog() []contract.Record {
	ids := []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02"), common.HexToHash("0x03")}
	games := []common.Hash{common.HexToHash("0x0a"), common.HexToHash("0x0b")}
	return []contract.Record{
		taskRec(contract.EventTaskCreated, 1, 0, ids[0], true),
		taskRec(contract.EventTaskCreated, 1, 1, ids[1], true),
		taskRec(contract.EventSolutionsCommitted, 2, 0, ids[0], true),
		taskRec(contract.EventSolutionsCommitted, 2, 1, ids[1], true),
		taskRec(contract.EventTaskCreated, 3, 0, ids[2], true),
		taskRec(contract.EventEndRevealPeriod, 4, 0, ids[0], true),
		taskRec(contract.EventVerificationCommitted, 4, 1, ids[1], true),
		challengeRec(5, 0, games[0], me, true),
		challengeRec(5, 1, games[1], me, true),
		taskRec(contract.EventSolutionRevealed, 6, 0, ids[0], true),
		winnerRec(7, 0, games[1]),
		taskRec(contract.EventTaskFinalized, 8, 0, ids[2], true),
	}
}

type snapshot struct {
	tasks  []common.Hash
	states []registry.TaskState
	games  []common.Hash
}

func recoverWith(records []contract.Record) snapshot {
	reg := registry.New(0)
	m := New("solver", reg, true, zerolog.Nop())
	var calls []string
	m.SetRecovery(solverRecovery(reg, &calls))
	for _, rec := range records {
		m.HandleRecord(context.Background(), rec)
	}
	m.HandleCaughtUp()
	m.HandleTick(context.Background())

	var s snapshot
	s.tasks = reg.TaskIDs()
	for _, id := range s.tasks {
		task, _ := reg.Task(id)
		s.states = append(s.states, task.State)
	}
	s.games = reg.GameIDs()
	return s
}

func TestRecoveryIsOrderIndependent(t *testing.T) {
	records := historicalLog()
	want := recoverWith(records)

	require.Equal(t, []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02")}, want.tasks)
	require.Equal(t, []registry.TaskState{registry.TaskRevealed, registry.TaskDisputed}, want.states)
	require.Equal(t, []common.Hash{common.HexToHash("0x0a")}, want.games)

	rapid.Check(t, func(t *rapid.T) {
		shuffled := rapid.Permutation(records).Draw(t, "records")
		got := recoverWith(shuffled)
		if !assert.ObjectsAreEqual(want, got) {
			t.Fatalf("recovered %+v, want %+v", got, want)
		}
	})
}

func TestRecoveryMatchesLiveProcessing(t *testing.T) {
	records := historicalLog()
	want := recoverWith(records)

	reg := registry.New(0)
	m := New("solver", reg, false, zerolog.Nop())
	m.Subscribe(contract.EventTaskCreated, func(_ context.Context, rec contract.Record) error {
		reg.AddTask(rec.Event.(*contract.TaskCreated).TaskID)
		return nil
	})
	for _, name := range []string{contract.EventSolutionsCommitted, contract.EventEndRevealPeriod, contract.EventSolutionRevealed, contract.EventVerificationCommitted} {
		m.Subscribe(name, func(_ context.Context, rec contract.Record) error {
			id, _ := contract.TaskIDOf(rec.Event)
			if task, ok := reg.Task(id); ok {
				st, _ := taskStateOf(rec.Name)
				task.State = st
			}
			return nil
		})
	}
	m.Subscribe(contract.EventTaskFinalized, func(_ context.Context, rec contract.Record) error {
		reg.RemoveTask(rec.Event.(*contract.TaskFinalized).TaskID)
		return nil
	})
	m.Subscribe(contract.EventStartChallenge, func(_ context.Context, rec contract.Record) error {
		ev := rec.Event.(*contract.StartChallenge)
		if ev.P == me {
			reg.AddGame(&registry.Game{ID: ev.GameID})
		}
		return nil
	})
	m.Subscribe(contract.EventWinnerSelected, func(_ context.Context, rec contract.Record) error {
		reg.RemoveGame(rec.Event.(*contract.WinnerSelected).GameID)
		return nil
	})

	for _, rec := range records {
		rec.Historical = false
		m.HandleRecord(context.Background(), rec)
	}

	assert.Equal(t, want.tasks, reg.TaskIDs())
	assert.Equal(t, want.games, reg.GameIDs())
	for i, id := range want.tasks {
		task, _ := reg.Task(id)
		assert.Equal(t, want.states[i], task.State)
	}
}

func TestRunAppliesQueuedIntents(t *testing.T) {
	reg := registry.New(0)
	m := New("solver", reg, false, zerolog.Nop(), WithQueueSize(4))

	got := make(chan string, 4)
	m.Subscribe(contract.EventTaskCreated, func(context.Context, contract.Record) error {
		got <- "record"
		return nil
	})
	m.OnTick(func(context.Context) { got <- "tick" })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.NoError(t, m.Deliver(ctx, taskRec(contract.EventTaskCreated, 1, 0, common.HexToHash("0x01"), false)))
	require.NoError(t, m.RequestTick(ctx))

	for _, want := range []string{"record", "tick"} {
		select {
		case v := <-got:
			assert.Equal(t, want, v)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}

	cancel()
	assert.NoError(t, <-done)

	blocked := New("solver", reg, false, zerolog.Nop(), WithQueueSize(0))
	assert.ErrorIs(t, blocked.Deliver(ctx, contract.Record{}), context.Canceled)
	assert.ErrorIs(t, blocked.RequestTick(ctx), context.Canceled)
}
