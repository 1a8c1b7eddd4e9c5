package ledgertest

import (
	"context"
	"fmt"

	"github.com/cryptobuks/truebit-os/dispatch"
)

// maxRounds bounds Pump so that a handler loop fails a test instead of
// hanging it.
const maxRounds = 10_000

// Pump hands every pending event to every manager, synchronously and in
// emission order, until handling them emits nothing new. It returns the
// number of events delivered.
func Pump(ctx context.Context, l *Ledger, managers ...*dispatch.Manager) (int, error) {
	delivered := 0
	for round := 0; ; round++ {
		if round >= maxRounds {
			return delivered, fmt.Errorf("ledger still busy after %d rounds", maxRounds)
		}
		recs := l.Drain()
		if len(recs) == 0 {
			return delivered, nil
		}
		for _, rec := range recs {
			for _, m := range managers {
				m.HandleRecord(ctx, rec)
			}
			delivered++
		}
	}
}

// Tick runs one scheduler tick on every manager and pumps what it emits.
func Tick(ctx context.Context, l *Ledger, managers ...*dispatch.Manager) error {
	for _, m := range managers {
		m.HandleTick(ctx)
	}
	_, err := Pump(ctx, l, managers...)
	return err
}

// Settle alternates ticks and pumps, mining blocksPerTick blocks before
// every tick, until done reports true or rounds ticks have run.
func Settle(ctx context.Context, l *Ledger, rounds int, blocksPerTick uint64, done func() bool, managers ...*dispatch.Manager) error {
	if _, err := Pump(ctx, l, managers...); err != nil {
		return err
	}
	for i := 0; i < rounds; i++ {
		if done() {
			return nil
		}
		l.Mine(blocksPerTick)
		if err := Tick(ctx, l, managers...); err != nil {
			return err
		}
	}
	if done() {
		return nil
	}
	return fmt.Errorf("not settled after %d ticks", rounds)
}
