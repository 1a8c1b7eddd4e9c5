package registry

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestAddTaskIsIdempotent(t *testing.T) {
	r := New(0)
	id := common.HexToHash("0x01")

	first := r.AddTask(id)
	first.State = TaskSolutionCommitted
	second := r.AddTask(id)

	assert.Same(t, first, second)
	assert.Equal(t, TaskSolutionCommitted, second.State)
	assert.Equal(t, 1, r.TaskCount())
	assert.Equal(t, []common.Hash{id}, r.TaskIDs())
}

func TestCompactDropsRemovedIDs(t *testing.T) {
	r := New(0)
	a, b, c := common.HexToHash("0x0a"), common.HexToHash("0x0b"), common.HexToHash("0x0c")
	r.AddTask(a)
	r.AddTask(b)
	r.AddTask(c)
	require.True(t, r.AddGame(&Game{ID: a}))
	assert.False(t, r.AddGame(&Game{ID: a}))

	assert.True(t, r.RemoveTask(b))
	assert.False(t, r.RemoveTask(b))
	assert.True(t, r.RemoveGame(a))

	tasks, games := r.ListLen()
	assert.Equal(t, 3, tasks)
	assert.Equal(t, 1, games)
	assert.Equal(t, []common.Hash{a, c}, r.TaskIDs())
	assert.Empty(t, r.GameIDs())

	r.Compact()
	tasks, games = r.ListLen()
	assert.Equal(t, 2, tasks)
	assert.Equal(t, 0, games)
	assert.Equal(t, []common.Hash{a, c}, r.TaskIDs())
}

func TestBusyExpiresAfterWaitTime(t *testing.T) {
	clk := &clock{t: time.Unix(1000, 0)}
	r := New(5*time.Second, WithClock(clk.now))
	id := common.HexToHash("0x01")

	assert.False(t, r.IsBusy(id))
	r.MarkBusy(id)
	assert.True(t, r.IsBusy(id))

	clk.advance(4 * time.Second)
	assert.True(t, r.IsBusy(id))

	clk.advance(time.Second)
	assert.False(t, r.IsBusy(id))
}

func TestZeroWaitTimeNeverBusy(t *testing.T) {
	r := New(0)
	id := common.HexToHash("0x01")
	r.MarkBusy(id)
	assert.False(t, r.IsBusy(id))
}

func TestExitFlags(t *testing.T) {
	r := New(0)
	assert.False(t, r.Exiting())
	r.Exit()
	assert.True(t, r.Exiting())
	assert.False(t, r.Exited())
	assert.True(t, r.MarkExited())
	assert.False(t, r.MarkExited())
	assert.True(t, r.Exited())
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "challenge_period_ended", TaskChallengePeriodEnded.String())
	assert.Equal(t, "game_over", GameOver.String())
	assert.Equal(t, "unknown", TaskState(99).String())
}
