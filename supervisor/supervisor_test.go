package supervisor

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptobuks/truebit-os/contract"
	"github.com/cryptobuks/truebit-os/monitor"
)

type fakeAgent struct {
	name    string
	runErr  error
	block   bool
	exitOne sync.Once
	done    chan struct{}

	mu        sync.Mutex
	delivered []contract.Record
	caughtUp  int
}

func newFakeAgent(name string) *fakeAgent {
	return &fakeAgent{name: name, done: make(chan struct{})}
}

func (a *fakeAgent) Name() string            { return a.name }
func (a *fakeAgent) Role() string            { return "solver" }
func (a *fakeAgent) Account() common.Address { return common.Address{} }
func (a *fakeAgent) Done() <-chan struct{}   { return a.done }
func (a *fakeAgent) Exit()                   { a.exitOne.Do(func() { close(a.done) }) }

func (a *fakeAgent) Deliver(ctx context.Context, rec contract.Record) error {
	if a.block {
		<-ctx.Done()
		return ctx.Err()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.delivered = append(a.delivered, rec)
	return nil
}

func (a *fakeAgent) CaughtUp(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.caughtUp++
	return nil
}

func (a *fakeAgent) Run(ctx context.Context) error {
	if a.runErr != nil {
		return a.runErr
	}
	select {
	case <-a.done:
	case <-ctx.Done():
	}
	return nil
}

func (a *fakeAgent) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.delivered)
}

type fakeSource struct {
	records []contract.Record

	mu      sync.Mutex
	sinks   map[string]monitor.Sink
	removed []string
	started chan struct{}
	stopped chan struct{}
}

func newFakeSource(records ...contract.Record) *fakeSource {
	return &fakeSource{
		records: records,
		sinks:   make(map[string]monitor.Sink),
		started: make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (s *fakeSource) Subscribe(name string, sink monitor.Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks[name] = sink
}

func (s *fakeSource) Unsubscribe(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sinks, name)
	s.removed = append(s.removed, name)
}

func (s *fakeSource) Run(ctx context.Context) error {
	defer close(s.stopped)
	s.mu.Lock()
	sinks := make([]monitor.Sink, 0, len(s.sinks))
	for _, k := range s.sinks {
		sinks = append(sinks, k)
	}
	s.mu.Unlock()
	for _, rec := range s.records {
		for _, k := range sinks {
			if err := k.Deliver(ctx, rec); err != nil {
				return err
			}
		}
	}
	for _, k := range sinks {
		if cs, ok := k.(monitor.CatchUpSink); ok {
			if err := cs.CaughtUp(ctx); err != nil {
				return err
			}
		}
	}
	close(s.started)
	<-ctx.Done()
	return nil
}

func run(t *testing.T, s *Supervisor, ctx context.Context) <-chan error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()
	return errc
}

func wait(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not return")
		return nil
	}
}

func TestExitDrainsEveryAgent(t *testing.T) {
	src := newFakeSource(contract.Record{Name: contract.EventTaskCreated})
	a, b := newFakeAgent("solver-a"), newFakeAgent("verifier-b")
	s := New(src, zerolog.Nop())
	s.Add(a)
	s.Add(b)
	s.Add(newFakeAgent("solver-a"))
	require.Len(t, s.Agents(), 2)

	errc := run(t, s, context.Background())
	<-src.started
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())

	s.Exit()
	s.Exit()
	require.NoError(t, wait(t, errc))
	<-src.stopped
	assert.ElementsMatch(t, []string{"solver-a", "verifier-b"}, src.removed)
}

func TestAgentFailureStopsTheRest(t *testing.T) {
	src := newFakeSource()
	bad := newFakeAgent("solver-bad")
	bad.runErr = errors.New("boom")
	s := New(src, zerolog.Nop())
	s.Add(bad)
	s.Add(newFakeAgent("verifier-ok"))

	err := wait(t, run(t, s, context.Background()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "solver-bad")
}

func TestRunWithoutAgents(t *testing.T) {
	assert.Error(t, New(newFakeSource(), zerolog.Nop()).Run(context.Background()))
}

func TestSecondSignalCancels(t *testing.T) {
	a := newFakeAgent("solver-a")
	s := New(newFakeSource(), zerolog.Nop())
	s.Add(a)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signals := make(chan os.Signal, 2)
	returned := make(chan struct{})
	go func() {
		s.HandleSignals(ctx, signals, cancel)
		close(returned)
	}()

	signals <- syscall.SIGINT
	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("first signal did not exit agents")
	}
	assert.NoError(t, ctx.Err())

	signals <- syscall.SIGTERM
	<-returned
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestSinkReleasesDeliveryWhenAgentStops(t *testing.T) {
	a := newFakeAgent("solver-a")
	a.block = true
	stopped := make(chan struct{})
	k := &sink{agent: a, stopped: stopped}

	errc := make(chan error, 1)
	go func() { errc <- k.Deliver(context.Background(), contract.Record{}) }()
	close(stopped)
	assert.NoError(t, wait(t, errc))
}

func TestSinkForwardsCatchUp(t *testing.T) {
	a := newFakeAgent("solver-a")
	k := &sink{agent: a, stopped: make(chan struct{})}
	var cs monitor.CatchUpSink = k

	require.NoError(t, cs.Deliver(context.Background(), contract.Record{}))
	require.NoError(t, cs.CaughtUp(context.Background()))
	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Len(t, a.delivered, 1)
	assert.Equal(t, 1, a.caughtUp)
}
