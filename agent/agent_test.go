package agent

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptobuks/truebit-os/contract"
	"github.com/cryptobuks/truebit-os/dispatch"
)

var account = common.HexToAddress("0x2000000000000000000000000000000000000002")

func TestName(t *testing.T) {
	r := NewRuntime(RoleSolver, Options{Account: account, Log: zerolog.Nop()})
	assert.Equal(t, "solver-"+account.Hex(), r.Name())
	assert.Equal(t, RoleSolver, r.Role())
	assert.Equal(t, account, r.Account())
}

func TestRunReturnsOnceDrained(t *testing.T) {
	r := NewRuntime(RoleVerifier, Options{Account: account, TickInterval: 5 * time.Millisecond, Log: zerolog.Nop()})

	errc := make(chan error, 1)
	go func() { errc <- r.Run(context.Background()) }()
	r.Exit()

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not stop after draining")
	}
	assert.True(t, r.Registry().Exited())
	select {
	case <-r.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	r := NewRuntime(RoleSolver, Options{Account: account, TickInterval: time.Hour, Log: zerolog.Nop()})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runtime ignored cancellation")
	}
	assert.False(t, r.Registry().Exited())
}

func TestRecoveryWaitsForHistory(t *testing.T) {
	r := NewRuntime(RoleSolver, Options{Account: account, Recovering: true, TickInterval: 2 * time.Millisecond, Log: zerolog.Nop()})
	recovered := make(chan common.Hash, 1)
	r.Manager().SetRecovery(dispatch.Recovery{
		TaskEvent: contract.EventTaskCreated,
		RecoverTask: func(_ context.Context, id common.Hash) error {
			recovered <- id
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx) }()

	id := common.HexToHash("0x01")
	select {
	case <-recovered:
		t.Fatal("recovered before the history was delivered")
	case <-time.After(20 * time.Millisecond):
	}

	rec := contract.Record{Name: contract.EventTaskCreated, BlockNumber: 1, Historical: true, Event: &contract.TaskCreated{TaskID: id}}
	require.NoError(t, r.Deliver(ctx, rec))
	require.NoError(t, r.CaughtUp(ctx))
	select {
	case got := <-recovered:
		assert.Equal(t, id, got)
	case <-time.After(5 * time.Second):
		t.Fatal("recovery did not run")
	}

	cancel()
	assert.NoError(t, <-errc)
}
