package execution

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 1024

// cachedTrace memoizes Location and Step. Bisection rounds on both sides
// ask for the same steps repeatedly and every answer costs an interpreter run.
type cachedTrace struct {
	Trace
	locations *lru.Cache[uint64, common.Hash]
	steps     *lru.Cache[uint64, StepResult]
}

// Cached wraps trace with an LRU cache of at most size entries per lookup kind.
func Cached(trace Trace, size int) Trace {
	if trace == nil {
		return nil
	}
	if _, ok := trace.(*cachedTrace); ok {
		return trace
	}
	if size <= 0 {
		size = defaultCacheSize
	}
	locations, err := lru.New[uint64, common.Hash](size)
	if err != nil {
		return trace
	}
	steps, err := lru.New[uint64, StepResult](size)
	if err != nil {
		return trace
	}
	return &cachedTrace{Trace: trace, locations: locations, steps: steps}
}

func (c *cachedTrace) Location(ctx context.Context, step uint64) (common.Hash, error) {
	if h, ok := c.locations.Get(step); ok {
		return h, nil
	}
	h, err := c.Trace.Location(ctx, step)
	if err != nil {
		return common.Hash{}, err
	}
	c.locations.Add(step, h)
	return h, nil
}

func (c *cachedTrace) Step(ctx context.Context, step uint64) (StepResult, error) {
	if res, ok := c.steps.Get(step); ok {
		return res, nil
	}
	res, err := c.Trace.Step(ctx, step)
	if err != nil {
		return StepResult{}, err
	}
	c.steps.Add(step, res)
	return res, nil
}
