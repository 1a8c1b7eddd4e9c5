package solver

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptobuks/truebit-os/agent"
	"github.com/cryptobuks/truebit-os/contract"
	"github.com/cryptobuks/truebit-os/execution"
	"github.com/cryptobuks/truebit-os/execution/exectest"
	"github.com/cryptobuks/truebit-os/ledgertest"
	"github.com/cryptobuks/truebit-os/registry"
	"github.com/cryptobuks/truebit-os/storage"
)

var me = common.HexToAddress("0x2000000000000000000000000000000000000002")

type uploads struct{ files []execution.File }

func (u *uploads) Upload(_ context.Context, files []execution.File) ([]storage.Object, error) {
	u.files = append(u.files, files...)
	return nil, nil
}

func newSolver(l *ledgertest.Ledger, recovering bool) *Solver {
	return New(agent.Options{Account: me, Recovering: recovering, Log: zerolog.Nop()}, Deps{
		Incentive: l.View(me),
		Dispute:   l.View(me),
		Provider:  &exectest.Provider{Steps: 20},
	})
}

func TestRevealUploadsOutputs(t *testing.T) {
	ctx := context.Background()
	l := ledgertest.New()
	s := newSolver(l, false)
	up := &uploads{}
	s.uploader = up

	id, err := l.View(common.Address{1}).CreateSimpleTask(ctx, common.HexToHash("0x01"), big.NewInt(1))
	require.NoError(t, err)
	require.NoError(t, ledgertest.Settle(ctx, l, 10, 1, func() bool { return l.Sends("revealSolution") == 1 }, s.Manager()))

	task, ok := s.Registry().Task(id)
	require.True(t, ok)
	assert.Equal(t, registry.TaskRevealed, task.State)
	require.Len(t, up.files, 1)
	assert.Equal(t, "output.data", up.files[0].Name)
}

func TestChallengeOfUnknownTaskFails(t *testing.T) {
	ctx := context.Background()
	l := ledgertest.New()
	s := newSolver(l, false)

	err := s.onStartChallenge(ctx, contract.Record{Event: &contract.StartChallenge{P: me, GameID: common.HexToHash("0x99")}})
	assert.Error(t, err, "game unknown to the ledger")

	err = s.onStartChallenge(ctx, contract.Record{Event: &contract.StartChallenge{P: common.Address{9}, GameID: common.HexToHash("0x99")}})
	assert.NoError(t, err, "other provers are ignored")
}

func TestEventsForForeignTasksAreIgnored(t *testing.T) {
	ctx := context.Background()
	s := newSolver(ledgertest.New(), false)
	other := common.HexToHash("0x42")

	assert.NoError(t, s.onEndRevealPeriod(ctx, contract.Record{Event: &contract.EndRevealPeriod{TaskID: other}}))
	assert.NoError(t, s.onQueried(ctx, contract.Record{Event: &contract.Queried{GameID: other, Idx1: big.NewInt(0), Idx2: big.NewInt(1)}}))
	assert.NoError(t, s.onSelectedPhase(ctx, contract.Record{Event: &contract.SelectedPhase{GameID: other, Idx1: big.NewInt(0), Phase: big.NewInt(1)}}))
	assert.Equal(t, 0, s.Registry().TaskCount())
}

func TestRevealWithoutTraceIsReported(t *testing.T) {
	ctx := context.Background()
	s := newSolver(ledgertest.New(), false)
	id := common.HexToHash("0x42")
	s.Registry().AddTask(id)

	err := s.onEndRevealPeriod(ctx, contract.Record{Event: &contract.EndRevealPeriod{TaskID: id}})
	assert.ErrorIs(t, err, execution.ErrNoTrace)
}
