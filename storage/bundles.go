package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cryptobuks/truebit-os/contract"
	"github.com/cryptobuks/truebit-os/execution"
)

// LocalBundles serves task code from a directory laid out as
// <dir>/<bundle id hex>/task.<wast|wasm>.
type LocalBundles struct {
	dir string
}

// NewLocalBundles returns a code source rooted at dir.
func NewLocalBundles(dir string) *LocalBundles {
	return &LocalBundles{dir: dir}
}

// Path returns where the code of task is expected.
func (b *LocalBundles) Path(task contract.TaskInfo) string {
	return filepath.Join(b.dir, task.BundleID.Hex(), "task."+execution.CodeType(task.CodeType).String())
}

// Code reads the code of task.
func (b *LocalBundles) Code(_ context.Context, task contract.TaskInfo) ([]byte, error) {
	path := b.Path(task)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle %s: %w", task.BundleID.Hex(), err)
	}
	return data, nil
}

// Store writes code for bundle so that Code can find it.
func (b *LocalBundles) Store(bundle contract.TaskInfo, code []byte) error {
	path := b.Path(bundle)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create bundle directory: %w", err)
	}
	if err := os.WriteFile(path, code, 0o644); err != nil {
		return fmt.Errorf("failed to write bundle: %w", err)
	}
	return nil
}
