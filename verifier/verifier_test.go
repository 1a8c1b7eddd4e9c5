package verifier

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
)

var (
	me     = common.HexToAddress("0x3000000000000000000000000000000000000003")
	solver = common.HexToAddress("0x2000000000000000000000000000000000000002")
)

func newVerifier(l *ledgertest.Ledger, cfg Config, recovering bool) *Verifier {
	return New(agent.Options{Account: me, Recovering: recovering, Log: zerolog.Nop()}, cfg, Deps{
		Incentive: l.View(me),
		Dispute:   l.View(me),
		Provider:  &exectest.Provider{Steps: 20},
	})
}

func post(t *testing.T, l *ledgertest.Ledger) common.Hash {
	t.Helper()
	id, err := l.View(common.Address{1}).CreateSimpleTask(context.Background(), common.HexToHash("0x01"), big.NewInt(1))
	require.NoError(t, err)
	return id
}

func commit(t *testing.T, l *ledgertest.Ledger, id, hash common.Hash) {
	t.Helper()
	require.NoError(t, l.View(solver).CommitSolution(context.Background(), id, hash))
}

// correctHash is what an honest solver commits for id.
func correctHash(t *testing.T, id common.Hash) common.Hash {
	t.Helper()
	trace, err := (&exectest.Provider{Steps: 20}).Prepare(context.Background(), contract.TaskInfo{TaskID: id})
	require.NoError(t, err)
	sol, err := trace.Execute(context.Background())
	require.NoError(t, err)
	return sol.Hash
}

func TestDefaults(t *testing.T) {
	v := newVerifier(ledgertest.New(), Config{}, false)
	assert.Equal(t, DefaultThrottle, v.cfg.Throttle)
	assert.Equal(t, "10000000000000000", v.cfg.Stake.String())
}

func TestChallengesWrongSolutionOnly(t *testing.T) {
	ctx := context.Background()
	l := ledgertest.New()
	v := newVerifier(l, Config{Throttle: 5}, false)

	good := post(t, l)
	commit(t, l, good, correctHash(t, good))
	bad := post(t, l)
	commit(t, l, bad, common.HexToHash("0xbad"))
	_, err := ledgertest.Pump(ctx, l, v.Manager())
	require.NoError(t, err)

	assert.Equal(t, 1, l.Sends("makeChallenge"))
	tg, ok := v.Registry().Task(good)
	require.True(t, ok)
	assert.Equal(t, registry.TaskSolutionCommitted, tg.State)
	tb, ok := v.Registry().Task(bad)
	require.True(t, ok)
	assert.Equal(t, registry.TaskDisputed, tb.State)
}

func TestForceChallengeDisputesCorrectSolution(t *testing.T) {
	v := newVerifier(ledgertest.New(), Config{ForceChallenge: true}, false)
	sol := execution.Solution{Hash: common.HexToHash("0x01")}
	assert.NotEqual(t, sol.Hash, v.myHash(sol))

	v = newVerifier(ledgertest.New(), Config{}, false)
	assert.Equal(t, sol.Hash, v.myHash(sol))
}

func TestExitingVerifierTakesNoTask(t *testing.T) {
	ctx := context.Background()
	l := ledgertest.New()
	v := newVerifier(l, Config{}, false)
	v.Exit()

	commit(t, l, post(t, l), common.HexToHash("0xbad"))
	_, err := ledgertest.Pump(ctx, l, v.Manager())
	require.NoError(t, err)
	assert.Equal(t, 0, v.Registry().TaskCount())

	v.Manager().HandleTick(ctx)
	assert.True(t, v.Registry().Exited())
}

func TestRecoveryReadsCommittedHash(t *testing.T) {
	ctx := context.Background()
	l := ledgertest.New()
	id := post(t, l)
	commit(t, l, id, common.HexToHash("0xbad"))
	history := l.Drain()
	for i := range history {
		history[i].Historical = true
	}

	v := newVerifier(l, Config{}, true)
	for _, rec := range history {
		v.Manager().HandleRecord(ctx, rec)
	}
	v.Manager().HandleCaughtUp()
	v.Manager().HandleTick(ctx)

	task, ok := v.Registry().Task(id)
	require.True(t, ok)
	assert.Equal(t, common.HexToHash("0xbad"), task.SolverHash)
	assert.NotNil(t, task.Trace)
	assert.Equal(t, 0, l.Sends("makeChallenge"), "recovery never challenges")
}

func TestRecoveryHonoursThrottle(t *testing.T) {
	ctx := context.Background()
	l := ledgertest.New()
	first, second := post(t, l), post(t, l)
	commit(t, l, first, common.HexToHash("0xbad"))
	l.Mine(1)
	commit(t, l, second, common.HexToHash("0xbad"))
	history := l.Drain()
	for i := range history {
		history[i].Historical = true
	}

	v := newVerifier(l, Config{Throttle: 1}, true)
	for _, rec := range history {
		v.Manager().HandleRecord(ctx, rec)
	}
	v.Manager().HandleCaughtUp()
	v.Manager().HandleTick(ctx)

	assert.Equal(t, 1, v.Registry().TaskCount())
	_, ok := v.Registry().Task(first)
	assert.True(t, ok, "tasks are recovered in chain order")
	_, ok = v.Registry().Task(second)
	assert.False(t, ok)
}

func TestGameEventsForUnknownGamesAreIgnored(t *testing.T) {
	ctx := context.Background()
	v := newVerifier(ledgertest.New(), Config{}, false)
	other := common.HexToHash("0x77")

	assert.NoError(t, v.onReported(ctx, contract.Record{Event: &contract.Reported{GameID: other, Idx1: big.NewInt(0), Idx2: big.NewInt(4), Arr: []common.Hash{{}}}}))
	var phases [contract.PhaseCount]common.Hash
	assert.NoError(t, v.onPostedPhases(ctx, contract.Record{Event: &contract.PostedPhases{GameID: other, Idx1: big.NewInt(0), Arr: phases}}))
	assert.NoError(t, v.onStartChallenge(ctx, contract.Record{Event: &contract.StartChallenge{C: solver, GameID: other}}))
	assert.Equal(t, 0, v.Registry().GameCount())
}
