package cmd

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/cryptobuks/truebit-os/contract"
	"github.com/cryptobuks/truebit-os/execution"
	"github.com/cryptobuks/truebit-os/logging"
	"github.com/cryptobuks/truebit-os/storage"
	"github.com/cryptobuks/truebit-os/submitter"
)

type submitFlags struct {
	initHash      string
	reward        string
	codeType      string
	bundle        string
	codeFile      string
	maxDifficulty uint64
	keyIndex      int
}

func newSubmitCommand(load loader) *cobra.Command {
	var f submitFlags
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Post a task to the incentive layer",
		Long: `Submit posts a task and prints its id. Without a code type, bundle or code
file the task is created with createSimpleTask.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := f.request()
			if err != nil {
				return err
			}
			cfg, err := load(cmd, map[string]string{"rpc-url": "ethereum.rpc_url"})
			if err != nil {
				return err
			}
			if f.keyIndex < 0 || f.keyIndex >= len(cfg.Ethereum.PrivateKeys) {
				return fmt.Errorf("key index %d out of range (%d keys configured)", f.keyIndex, len(cfg.Ethereum.PrivateKeys))
			}
			log, closer := logging.New(cfg.Logging, cmd.ErrOrStderr())
			defer closer.Close()

			client, err := contract.Dial(cmd.Context(), cfg.Ethereum.RPCURL, cfg.Ethereum.IncentiveLayer, cfg.Ethereum.DisputeLayer)
			if err != nil {
				return err
			}
			defer client.Close()
			acct, err := client.Bind(cfg.Ethereum.PrivateKeys[f.keyIndex], cfg.Ethereum.Gas(), nil)
			if err != nil {
				return err
			}

			s := submitter.New(acct.Incentive, storage.NewLocalBundles(cfg.Execution.BundleDir), log)
			id, err := s.Submit(cmd.Context(), req)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), id.Hex())
			return err
		},
	}
	cmd.Flags().StringVar(&f.initHash, "init-hash", "", "hash of the initial machine state (required)")
	cmd.Flags().StringVar(&f.reward, "reward", "0", "reward in wei")
	cmd.Flags().StringVar(&f.codeType, "code-type", "", "code type of the bundle (wast, wasm, internal)")
	cmd.Flags().StringVar(&f.bundle, "bundle", "", "bundle id")
	cmd.Flags().StringVar(&f.codeFile, "code-file", "", "task code to store in the bundle directory")
	cmd.Flags().Uint64Var(&f.maxDifficulty, "max-difficulty", 0, "maximum difficulty")
	cmd.Flags().IntVar(&f.keyIndex, "key-index", 0, "index of the private key that pays for the task")
	cmd.Flags().String("rpc-url", "", "ethereum RPC endpoint")
	_ = cmd.MarkFlagRequired("init-hash")
	return cmd
}

func parseHash(name, s string) (common.Hash, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("--%s must be 32 hex bytes: %q", name, s)
	}
	return common.BytesToHash(b), nil
}

func (f submitFlags) request() (submitter.Request, error) {
	var req submitter.Request
	var err error

	if req.InitHash, err = parseHash("init-hash", f.initHash); err != nil {
		return req, err
	}
	reward, ok := new(big.Int).SetString(f.reward, 10)
	if !ok || reward.Sign() < 0 {
		return req, fmt.Errorf("--reward must be a non-negative integer: %q", f.reward)
	}
	req.Reward = reward
	req.MaxDifficulty = f.maxDifficulty

	if f.codeType != "" {
		if req.CodeType, err = execution.ParseCodeType(f.codeType); err != nil {
			return req, err
		}
	}
	if f.bundle != "" {
		if req.BundleID, err = parseHash("bundle", f.bundle); err != nil {
			return req, err
		}
	}
	if f.codeFile != "" {
		if req.Code, err = os.ReadFile(f.codeFile); err != nil {
			return req, fmt.Errorf("failed to read code file: %w", err)
		}
	}
	return req, nil
}
