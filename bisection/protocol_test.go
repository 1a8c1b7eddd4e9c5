package bisection

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptobuks/truebit-os/contract"
	"github.com/cryptobuks/truebit-os/execution"
	"github.com/cryptobuks/truebit-os/execution/exectest"
)

type recordingDispute struct {
	contract.DisputeLayer

	low, high uint64
	setup     *contract.GameSetup
	reports   [][]common.Hash
	queries   []bool
	echoes    [][]common.Hash
	posted    [][contract.PhaseCount]common.Hash
	selected  []int
	judged    []contract.JudgeCall
	custom    []contract.CustomJudgeCall
}

func (r *recordingDispute) Initialize(_ context.Context, setup contract.GameSetup) error {
	r.setup = &setup
	r.low, r.high = 0, setup.Steps
	return nil
}

func (r *recordingDispute) GetIndices(context.Context, common.Hash) (uint64, uint64, error) {
	return r.low, r.high, nil
}

func (r *recordingDispute) Report(_ context.Context, _ common.Hash, _, _ uint64, hashes []common.Hash) error {
	r.reports = append(r.reports, hashes)
	return nil
}

func (r *recordingDispute) Query(_ context.Context, _ common.Hash, _, _ uint64, agree bool, report []common.Hash) error {
	r.queries = append(r.queries, agree)
	r.echoes = append(r.echoes, report)
	return nil
}

func (r *recordingDispute) PostPhases(_ context.Context, _ common.Hash, _ uint64, phases [contract.PhaseCount]common.Hash) error {
	r.posted = append(r.posted, phases)
	return nil
}

func (r *recordingDispute) SelectPhase(_ context.Context, _ common.Hash, _ uint64, _ common.Hash, phase int) error {
	r.selected = append(r.selected, phase)
	return nil
}

func (r *recordingDispute) CallJudge(_ context.Context, call contract.JudgeCall) error {
	r.judged = append(r.judged, call)
	return nil
}

func (r *recordingDispute) CallCustomJudge(_ context.Context, call contract.CustomJudgeCall) error {
	r.custom = append(r.custom, call)
	return nil
}

func traces(t *testing.T, custom bool) (execution.Trace, execution.Trace) {
	t.Helper()
	task := contract.TaskInfo{TaskID: common.HexToHash("0x77")}
	prover, err := (&exectest.Provider{Steps: 40, CustomOp: custom}).Prepare(context.Background(), task)
	require.NoError(t, err)
	challenger, err := (&exectest.Provider{Steps: 40, Salt: "x", DivergeAt: 13, DivergePhase: 5, CustomOp: custom}).Prepare(context.Background(), task)
	require.NoError(t, err)
	return prover, challenger
}

func TestFullGameConvergesOnDivergentStep(t *testing.T) {
	ctx := context.Background()
	gameID := common.HexToHash("0xfeed")
	proverTrace, challengerTrace := traces(t, false)

	pd, cd := &recordingDispute{}, &recordingDispute{}
	prover := NewProver(pd, zerolog.Nop())
	challenger := NewChallenger(cd, zerolog.Nop())

	low, high, err := prover.Start(ctx, gameID, proverTrace)
	require.NoError(t, err)
	require.NotNil(t, pd.setup)
	assert.Equal(t, uint64(41), pd.setup.Steps)
	assert.Equal(t, uint64(0), low)
	assert.Equal(t, uint64(41), high)

	for rounds := 0; !Final(low, high); rounds++ {
		require.Less(t, rounds, 10)
		report := pd.reports[len(pd.reports)-1]
		agree, err := challenger.OnReport(ctx, gameID, low, high, report, challengerTrace)
		require.NoError(t, err)
		assert.Equal(t, report, cd.echoes[len(cd.echoes)-1])

		low, high = Narrow(low, high, agree)
		require.NoError(t, prover.OnQuery(ctx, gameID, low, high, proverTrace))
	}

	assert.Equal(t, uint64(12), low)
	assert.Equal(t, uint64(13), high)
	require.Len(t, pd.posted, 1)

	phase, ok, err := challenger.OnPostedPhases(ctx, gameID, low, pd.posted[0], challengerTrace)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5, phase)
	assert.Equal(t, []int{5}, cd.selected)

	kind, err := prover.OnSelectedPhase(ctx, gameID, low, phase, proverTrace)
	require.NoError(t, err)
	assert.Equal(t, JudgeBundle, kind)
	require.Len(t, pd.judged, 1)
	assert.Equal(t, 5, pd.judged[0].Phase)
	assert.Equal(t, low, pd.judged[0].Step)
}

func TestSelectedALUPhaseUsesCustomJudge(t *testing.T) {
	proverTrace, _ := traces(t, true)
	pd := &recordingDispute{}
	prover := NewProver(pd, zerolog.Nop())

	kind, err := prover.OnSelectedPhase(context.Background(), common.HexToHash("0x1"), 3, execution.PhaseALU, proverTrace)
	require.NoError(t, err)
	assert.Equal(t, CustomBundle, kind)
	assert.Len(t, pd.custom, 1)
	assert.Empty(t, pd.judged)
}

func TestAgreeingPhasesSelectNothing(t *testing.T) {
	proverTrace, _ := traces(t, false)
	res, err := proverTrace.Step(context.Background(), 2)
	require.NoError(t, err)

	cd := &recordingDispute{}
	_, ok, err := NewChallenger(cd, zerolog.Nop()).OnPostedPhases(context.Background(), common.Hash{}, 2, res.States, proverTrace)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, cd.selected)
}

func TestMissingTrace(t *testing.T) {
	ctx := context.Background()
	_, _, err := NewProver(&recordingDispute{}, zerolog.Nop()).Start(ctx, common.Hash{}, nil)
	assert.ErrorIs(t, err, execution.ErrNoTrace)

	_, err = NewChallenger(&recordingDispute{}, zerolog.Nop()).OnReport(ctx, common.Hash{}, 0, 4, []common.Hash{{}}, nil)
	assert.ErrorIs(t, err, execution.ErrNoTrace)
}

func TestEmptyReportIsRejected(t *testing.T) {
	_, challengerTrace := traces(t, false)
	_, err := NewChallenger(&recordingDispute{}, zerolog.Nop()).OnReport(context.Background(), common.Hash{}, 0, 4, nil, challengerTrace)
	assert.Error(t, err)
}
