package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/cryptobuks/truebit-os/contract"
)

// Runner runs the interpreter binary in dir and returns its stdout.
type Runner func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

// ExecRunner runs the interpreter as a child process.
func ExecRunner(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// Interpreter is a Provider backed by the off-chain interpreter binary.
type Interpreter struct {
	binary    string
	workDir   string
	code      CodeSource
	run       Runner
	cacheSize int
	log       zerolog.Logger
}

// InterpreterOption customizes an Interpreter.
type InterpreterOption func(*Interpreter)

// WithRunner replaces the process runner.
func WithRunner(r Runner) InterpreterOption {
	return func(i *Interpreter) { i.run = r }
}

// WithCacheSize sets the per-trace cache size.
func WithCacheSize(n int) InterpreterOption {
	return func(i *Interpreter) { i.cacheSize = n }
}

// NewInterpreter creates an interpreter provider that stages task code under workDir.
func NewInterpreter(binary, workDir string, code CodeSource, log zerolog.Logger, opts ...InterpreterOption) *Interpreter {
	i := &Interpreter{
		binary:    binary,
		workDir:   workDir,
		code:      code,
		run:       ExecRunner,
		cacheSize: defaultCacheSize,
		log:       log.With().Str("component", "interpreter").Logger(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Prepare stages the task's code and returns a trace over it.
func (i *Interpreter) Prepare(ctx context.Context, task contract.TaskInfo) (Trace, error) {
	code, err := i.code.Code(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("failed to load code for task %s: %w", task.TaskID.Hex(), err)
	}

	dir := filepath.Join(i.workDir, task.TaskID.Hex())
	if err := os.MkdirAll(filepath.Join(dir, "outputs"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create task directory: %w", err)
	}

	codeType := CodeType(task.CodeType)
	file := "task." + codeType.String()
	if err := os.WriteFile(filepath.Join(dir, file), code, 0o644); err != nil {
		return nil, fmt.Errorf("failed to stage task code: %w", err)
	}

	i.log.Debug().Str("task", task.TaskID.Hex()).Str("code_type", codeType.String()).Msg("Task staged")

	return Cached(&interpreterTrace{
		interp:   i,
		dir:      dir,
		file:     file,
		codeType: codeType,
	}, i.cacheSize), nil
}

type interpreterTrace struct {
	interp   *Interpreter
	dir      string
	file     string
	codeType CodeType
}

func (t *interpreterTrace) invoke(ctx context.Context, out interface{}, extra ...string) error {
	args := []string{"-m", "-file", t.file}
	if t.codeType == CodeWASM {
		args = append(args, "-wasm")
	}
	args = append(args, extra...)

	raw, err := t.interp.run(ctx, t.dir, t.interp.binary, args...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse interpreter output for %v: %w", extra, err)
	}
	return nil
}

type solutionJSON struct {
	Hash  common.Hash `json:"hash"`
	Steps uint64      `json:"steps"`
	VM    VM          `json:"vm"`
}

func (s solutionJSON) solution() Solution {
	return Solution{Hash: s.Hash, Steps: s.Steps, VM: s.VM}
}

func (t *interpreterTrace) Execute(ctx context.Context) (Solution, error) {
	var out solutionJSON
	if err := t.invoke(ctx, &out, "-result"); err != nil {
		return Solution{}, err
	}
	return out.solution(), nil
}

func (t *interpreterTrace) Initialize(ctx context.Context) (Solution, error) {
	var out solutionJSON
	if err := t.invoke(ctx, &out, "-init"); err != nil {
		return Solution{}, err
	}
	return out.solution(), nil
}

func (t *interpreterTrace) OutputVM(ctx context.Context) (Solution, error) {
	var out solutionJSON
	if err := t.invoke(ctx, &out, "-output"); err != nil {
		return Solution{}, err
	}
	return out.solution(), nil
}

func (t *interpreterTrace) Location(ctx context.Context, step uint64) (common.Hash, error) {
	var out common.Hash
	if err := t.invoke(ctx, &out, "-location", strconv.FormatUint(step, 10)); err != nil {
		return common.Hash{}, err
	}
	return out, nil
}

type stepJSON struct {
	States []common.Hash          `json:"states"`
	Proofs map[string]*PhaseProof `json:"proofs"`
}

func (t *interpreterTrace) Step(ctx context.Context, step uint64) (StepResult, error) {
	var out stepJSON
	if err := t.invoke(ctx, &out, "-step", strconv.FormatUint(step, 10)); err != nil {
		return StepResult{}, err
	}
	return parseStep(out)
}

func parseStep(out stepJSON) (StepResult, error) {
	var res StepResult
	if len(out.States) != contract.PhaseCount {
		return res, fmt.Errorf("interpreter returned %d phase states, want %d", len(out.States), contract.PhaseCount)
	}
	copy(res.States[:], out.States)
	for name, proof := range out.Proofs {
		idx, ok := PhaseIndex(name)
		if !ok {
			continue
		}
		res.Proofs[idx] = proof
	}
	return res, nil
}

func (t *interpreterTrace) OutputFiles(ctx context.Context) ([]File, error) {
	dir := filepath.Join(t.dir, "outputs")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list outputs: %w", err)
	}

	files := make([]File, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read output %s: %w", e.Name(), err)
		}
		files = append(files, File{Name: e.Name(), Data: data})
	}
	return files, nil
}
