// Package submitter posts tasks to the incentive layer on behalf of a task giver.
package submitter

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"github.com/cryptobuks/truebit-os/contract"
	"github.com/cryptobuks/truebit-os/execution"
)

// Creator is the part of the incentive layer a task giver uses.
type Creator interface {
	CreateTask(ctx context.Context, req contract.TaskRequest) (common.Hash, error)
	CreateSimpleTask(ctx context.Context, initHash common.Hash, reward *big.Int) (common.Hash, error)
}

// BundleStore keeps task code where solvers and verifiers on this host
// can find it.
type BundleStore interface {
	Store(task contract.TaskInfo, code []byte) error
}

// Request describes a task to post.
type Request struct {
	InitHash      common.Hash
	CodeType      execution.CodeType
	BundleID      common.Hash
	MaxDifficulty uint64
	Reward        *big.Int
	// Code, when set, is stored before the task is posted. A zero BundleID
	// is then derived from the code hash.
	Code []byte
}

// simple reports whether req carries nothing beyond what createSimpleTask takes.
func (r Request) simple() bool {
	return r.CodeType == 0 && r.BundleID == (common.Hash{}) && r.MaxDifficulty == 0 && len(r.Code) == 0
}

// Submitter posts tasks.
type Submitter struct {
	creator Creator
	bundles BundleStore
	log     zerolog.Logger
}

// New returns a submitter. bundles may be nil when no code is stored locally.
func New(creator Creator, bundles BundleStore, log zerolog.Logger) *Submitter {
	return &Submitter{creator: creator, bundles: bundles, log: log.With().Str("component", "submitter").Logger()}
}

// Submit posts req and returns the new task id.
func (s *Submitter) Submit(ctx context.Context, req Request) (common.Hash, error) {
	if req.InitHash == (common.Hash{}) {
		return common.Hash{}, errors.New("initial state hash is required")
	}
	if req.Reward == nil {
		req.Reward = new(big.Int)
	}
	if req.Reward.Sign() < 0 {
		return common.Hash{}, fmt.Errorf("negative reward %s", req.Reward)
	}

	if req.simple() {
		id, err := s.creator.CreateSimpleTask(ctx, req.InitHash, req.Reward)
		if err != nil {
			return common.Hash{}, fmt.Errorf("failed to create task: %w", err)
		}
		s.log.Info().Str("task", id.Hex()).Str("reward", req.Reward.String()).Msg("Task created")
		return id, nil
	}

	if len(req.Code) > 0 {
		if s.bundles == nil {
			return common.Hash{}, errors.New("task code given but no bundle directory configured")
		}
		if req.BundleID == (common.Hash{}) {
			req.BundleID = crypto.Keccak256Hash(req.Code)
		}
		info := contract.TaskInfo{CodeType: uint8(req.CodeType), BundleID: req.BundleID}
		if err := s.bundles.Store(info, req.Code); err != nil {
			return common.Hash{}, err
		}
	}
	if req.MaxDifficulty == 0 {
		req.MaxDifficulty = 1
	}

	id, err := s.creator.CreateTask(ctx, contract.TaskRequest{
		InitHash:      req.InitHash,
		CodeType:      uint8(req.CodeType),
		BundleID:      req.BundleID,
		MaxDifficulty: req.MaxDifficulty,
		Reward:        req.Reward,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to create task: %w", err)
	}
	s.log.Info().
		Str("task", id.Hex()).
		Str("bundle", req.BundleID.Hex()).
		Str("code_type", req.CodeType.String()).
		Str("reward", req.Reward.String()).
		Msg("Task created")
	return id, nil
}
