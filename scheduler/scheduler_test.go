package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cryptobuks/truebit-os/registry"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type counter struct {
	fired map[common.Hash]int
}

func (c *counter) check(name string, ready bool, err error) Check {
	return Check{
		Name:  name,
		Ready: func(context.Context, common.Hash) (bool, error) { return ready, err },
		Fire: func(_ context.Context, id common.Hash) error {
			c.fired[id]++
			return nil
		},
	}
}

func TestFirstReadyCheckFiresAndStops(t *testing.T) {
	reg := registry.New(time.Minute)
	id := common.HexToHash("0x01")
	reg.AddTask(id)

	var order []string
	mk := func(name string, ready bool) Check {
		return Check{
			Name: name,
			Ready: func(context.Context, common.Hash) (bool, error) {
				order = append(order, "ready:"+name)
				return ready, nil
			},
			Fire: func(context.Context, common.Hash) error {
				order = append(order, "fire:"+name)
				return nil
			},
		}
	}

	s := New("solver", reg, zerolog.Nop(), nil)
	s.Tasks(mk("endChallengePeriod", false), mk("runVerificationGame", true), mk("finalizeTask", true))
	s.Evaluate(context.Background())

	assert.Equal(t, []string{"ready:endChallengePeriod", "ready:runVerificationGame", "fire:runVerificationGame"}, order)
	assert.True(t, reg.IsBusy(id))
}

func TestDebounceWithinWaitTime(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		wait := time.Duration(rapid.IntRange(1, 60).Draw(t, "wait")) * time.Second
		gap := time.Duration(rapid.IntRange(0, 120).Draw(t, "gap")) * time.Second

		clk := &clock{t: time.Unix(0, 0)}
		reg := registry.New(wait, registry.WithClock(clk.now))
		id := common.HexToHash("0x01")
		reg.AddTask(id)

		c := &counter{fired: map[common.Hash]int{}}
		s := New("verifier", reg, zerolog.Nop(), nil)
		s.Tasks(c.check("solverLoses", true, nil))

		s.Evaluate(context.Background())
		clk.t = clk.t.Add(gap)
		s.Evaluate(context.Background())

		want := 1
		if gap >= wait {
			want = 2
		}
		if c.fired[id] != want {
			t.Fatalf("fired %d times with wait %s and gap %s, want %d", c.fired[id], wait, gap, want)
		}
	})
}

func TestErrorsStayWithTheirEntity(t *testing.T) {
	reg := registry.New(0)
	bad, good := common.HexToHash("0x0b"), common.HexToHash("0x0c")
	reg.AddTask(bad)
	reg.AddTask(good)
	reg.AddGame(&registry.Game{ID: common.HexToHash("0x0d")})

	fired := map[common.Hash]int{}
	s := New("solver", reg, zerolog.Nop(), nil)
	s.Tasks(Check{
		Name: "finalizeTask",
		Ready: func(_ context.Context, id common.Hash) (bool, error) {
			if id == bad {
				return false, errors.New("rpc down")
			}
			return true, nil
		},
		Fire: func(_ context.Context, id common.Hash) error {
			fired[id]++
			return nil
		},
	})
	s.Games(Check{
		Name:  "gameOver",
		Ready: func(context.Context, common.Hash) (bool, error) { return true, nil },
		Fire:  func(context.Context, common.Hash) error { return errors.New("rejected") },
	})

	s.Evaluate(context.Background())
	assert.Equal(t, 0, fired[bad])
	assert.Equal(t, 1, fired[good])
}

func TestDrainCallsOnDrainedOnce(t *testing.T) {
	reg := registry.New(0)
	id := common.HexToHash("0x01")
	reg.AddTask(id)

	drained := 0
	s := New("solver", reg, zerolog.Nop(), nil)
	s.OnDrained(func() { drained++ })

	reg.Exit()
	s.Evaluate(context.Background())
	assert.Equal(t, 0, drained)
	assert.False(t, reg.Exited())

	reg.RemoveTask(id)
	s.Evaluate(context.Background())
	s.Evaluate(context.Background())
	assert.Equal(t, 1, drained)
	assert.True(t, reg.Exited())
}

type tickCounter struct{ n atomic.Int32 }

func (c *tickCounter) RequestTick(context.Context) error {
	c.n.Add(1)
	return nil
}

func TestRunRequestsTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := &tickCounter{}
	done := make(chan error, 1)
	go func() { done <- Run(ctx, 5*time.Millisecond, q) }()

	require.Eventually(t, func() bool { return q.n.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
