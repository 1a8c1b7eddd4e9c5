package contract

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// SendHook observes the outcome of every submitted transaction.
type SendHook func(method string, err error)

// Client handles contract interactions for both ledger surfaces
type Client struct {
	eth           *ethclient.Client
	chainID       *big.Int
	incentiveAddr common.Address
	disputeAddr   common.Address
}

// Dial connects to the RPC endpoint and validates both contract addresses.
func Dial(ctx context.Context, rpcURL, incentiveLayer, disputeLayer string) (*Client, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("ethereum rpc url is required")
	}

	incentiveAddr := common.HexToAddress(incentiveLayer)
	if !common.IsHexAddress(incentiveLayer) || incentiveAddr == (common.Address{}) {
		return nil, fmt.Errorf("invalid incentive layer address: %q", incentiveLayer)
	}
	disputeAddr := common.HexToAddress(disputeLayer)
	if !common.IsHexAddress(disputeLayer) || disputeAddr == (common.Address{}) {
		return nil, fmt.Errorf("invalid dispute layer address: %q", disputeLayer)
	}

	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}

	return &Client{
		eth:           eth,
		chainID:       chainID,
		incentiveAddr: incentiveAddr,
		disputeAddr:   disputeAddr,
	}, nil
}

// Addresses returns the incentive and dispute layer addresses.
func (c *Client) Addresses() []common.Address {
	return []common.Address{c.incentiveAddr, c.disputeAddr}
}

// BlockNumber returns the current head.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

// FilterLogs returns every agent-relevant log emitted by either layer in [from, to].
func (c *Client) FilterLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: c.Addresses(),
		Topics:    [][]common.Hash{EventTopics()},
	}
	return c.eth.FilterLogs(ctx, query)
}

// Close closes the client connection
func (c *Client) Close() {
	if c.eth != nil {
		c.eth.Close()
	}
}

// Account is an account-bound view of both layers.
type Account struct {
	Address   common.Address
	Incentive *Incentive
	Dispute   *Dispute
}

// Bind loads a hex private key and returns layers that sign with it.
func (c *Client) Bind(privateKeyHex string, gas GasLimits, hook SendHook) (*Account, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return c.BindKey(key, gas, hook)
}

// BindKey returns layers that sign with key.
func (c *Client) BindKey(key *ecdsa.PrivateKey, gas GasLimits, hook SendHook) (*Account, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(key, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	if gas == nil {
		gas = DefaultGasLimits()
	}
	incentive := &layer{
		name:     "incentive",
		abi:      incentiveABI,
		contract: bind.NewBoundContract(c.incentiveAddr, incentiveABI, c.eth, c.eth, c.eth),
		backend:  c.eth,
		auth:     auth,
		gas:      gas,
		hook:     hook,
	}
	dispute := &layer{
		name:     "dispute",
		abi:      disputeABI,
		contract: bind.NewBoundContract(c.disputeAddr, disputeABI, c.eth, c.eth, c.eth),
		backend:  c.eth,
		auth:     auth,
		gas:      gas,
		hook:     hook,
	}
	return &Account{
		Address:   auth.From,
		Incentive: &Incentive{layer: incentive},
		Dispute:   &Dispute{layer: dispute},
	}, nil
}

// layer wraps a bound contract with retrying reads and receipt-checked sends.
type layer struct {
	name     string
	abi      abi.ABI
	contract *bind.BoundContract
	backend  bind.DeployBackend
	auth     *bind.TransactOpts
	gas      GasLimits
	hook     SendHook
}

func (l *layer) call(ctx context.Context, method string, params ...interface{}) ([]interface{}, error) {
	var out []interface{}
	operation := func() error {
		out = nil
		err := l.contract.Call(&bind.CallOpts{Context: ctx, From: l.auth.From}, &out, method, params...)
		if isRevert(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	backoffConfig := backoff.NewExponentialBackOff()
	backoffConfig.InitialInterval = 1 * time.Second
	backoffConfig.Multiplier = 1.5
	backoffConfig.MaxInterval = 4 * time.Second
	backoffConfig.MaxElapsedTime = 10 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(backoffConfig, ctx)); err != nil {
		return nil, fmt.Errorf("%s.%s call failed: %w", l.name, method, err)
	}
	return out, nil
}

func (l *layer) callBool(ctx context.Context, method string, params ...interface{}) (bool, error) {
	out, err := l.call(ctx, method, params...)
	if err != nil {
		return false, err
	}
	if len(out) == 0 {
		return false, fmt.Errorf("%s.%s returned no values", l.name, method)
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// send submits a transaction and waits for its receipt. It is never retried:
// a failed submission is left for the next scheduler tick to reassess.
func (l *layer) send(ctx context.Context, method string, value *big.Int, params ...interface{}) (receipt *types.Receipt, err error) {
	defer func() {
		if l.hook != nil {
			l.hook(method, err)
		}
	}()

	opts := *l.auth
	opts.Context = ctx
	opts.GasLimit = l.gas.For(method)
	opts.Value = value

	tx, err := l.contract.Transact(&opts, method, params...)
	if err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("%s.%s: %w: %v", l.name, method, ErrRejected, err)
		}
		return nil, fmt.Errorf("%s.%s submission failed: %w", l.name, method, err)
	}

	receipt, err = bind.WaitMined(ctx, l.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: waiting for %s: %w", l.name, method, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%s.%s tx %s: %w", l.name, method, tx.Hash().Hex(), ErrRejected)
	}
	return receipt, nil
}

func hashes(in []common.Hash) [][32]byte {
	out := make([][32]byte, len(in))
	for i, h := range in {
		out[i] = h
	}
	return out
}

func u64(v uint64) *big.Int {
	return new(big.Int).SetUint64(v)
}
