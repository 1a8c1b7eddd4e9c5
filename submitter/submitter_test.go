package submitter

import (
	"context"
	"math/big"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptobuks/truebit-os/contract"
	"github.com/cryptobuks/truebit-os/execution"
	"github.com/cryptobuks/truebit-os/ledgertest"
	"github.com/cryptobuks/truebit-os/storage"
)

var giver = common.HexToAddress("0x1000000000000000000000000000000000000001")

func TestSimpleTask(t *testing.T) {
	l := ledgertest.New()
	s := New(l.View(giver), nil, zerolog.Nop())

	id, err := s.Submit(context.Background(), Request{InitHash: common.HexToHash("0x17"), Reward: big.NewInt(5)})
	require.NoError(t, err)
	assert.Equal(t, 1, l.Sends("createSimpleTask"))
	assert.Equal(t, 0, l.Sends("createTask"))
	assert.Equal(t, []common.Hash{id}, l.Tasks())
}

func TestTaskWithCodeStoresBundleFirst(t *testing.T) {
	l := ledgertest.New()
	bundles := storage.NewLocalBundles(t.TempDir())
	s := New(l.View(giver), bundles, zerolog.Nop())
	code := []byte("(module)")

	id, err := s.Submit(context.Background(), Request{InitHash: common.HexToHash("0x17"), CodeType: execution.CodeWASM, Code: code})
	require.NoError(t, err)
	assert.Equal(t, 1, l.Sends("createTask"))

	info, err := l.View(giver).GetTaskInfo(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, crypto.Keccak256Hash(code), info.BundleID)
	assert.Equal(t, uint8(execution.CodeWASM), info.CodeType)

	stored, err := os.ReadFile(bundles.Path(info))
	require.NoError(t, err)
	assert.Equal(t, code, stored)
}

func TestCodeWithoutBundleStore(t *testing.T) {
	l := ledgertest.New()
	s := New(l.View(giver), nil, zerolog.Nop())
	_, err := s.Submit(context.Background(), Request{InitHash: common.HexToHash("0x17"), Code: []byte("x")})
	assert.Error(t, err)
	assert.Equal(t, 0, l.Sends("createTask"))
}

func TestInvalidRequests(t *testing.T) {
	s := New(ledgertest.New().View(giver), nil, zerolog.Nop())
	_, err := s.Submit(context.Background(), Request{})
	assert.Error(t, err)
	_, err = s.Submit(context.Background(), Request{InitHash: common.HexToHash("0x17"), Reward: big.NewInt(-1)})
	assert.Error(t, err)
}

func TestRejectedCreation(t *testing.T) {
	l := ledgertest.New()
	l.FailNext("createSimpleTask", contract.ErrRejected)
	_, err := New(l.View(giver), nil, zerolog.Nop()).Submit(context.Background(), Request{InitHash: common.HexToHash("0x17")})
	assert.ErrorIs(t, err, contract.ErrRejected)
}
