// pattern: Imperative Shell

package instance

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// MutationLockFile lives in the git common dir so every worktree of a
// repository shares it.
const MutationLockFile = "karkinos.lock"

const mutationRetry = 50 * time.Millisecond

// MutationLock serializes worktree and branch mutations across processes.
// It blocks until the lock is free or ctx is done.
type MutationLock struct {
	path string
}

func NewMutationLock(commonDir string) *MutationLock {
	return &MutationLock{path: filepath.Join(commonDir, MutationLockFile)}
}

// Path returns the lock file location.
func (m *MutationLock) Path() string {
	return m.path
}

// Lock waits for the lock and returns a function that releases it.
func (m *MutationLock) Lock(ctx context.Context) (func(), error) {
	fl := flock.New(m.path)
	locked, err := fl.TryLockContext(ctx, mutationRetry)
	if err != nil {
		return nil, fmt.Errorf("waiting for %s: %w", m.path, err)
	}
	if !locked {
		return nil, fmt.Errorf("could not lock %s", m.path)
	}
	return func() { _ = fl.Unlock() }, nil
}
