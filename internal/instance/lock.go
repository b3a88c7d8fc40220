// pattern: Imperative Shell

package instance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const (
	lockFileName = "karkinos-serve.lock"
	portFileName = "karkinos-serve.port"
)

// ErrServerRunning means another process holds the server lock.
var ErrServerRunning = errors.New("a karkinos server is running")

func lockPath(dir string) string { return filepath.Join(dir, lockFileName) }
func portPath(dir string) string { return filepath.Join(dir, portFileName) }

// lockHeld reports whether some process holds the server lock in dir.
func lockHeld(dir string) (bool, error) {
	fl := flock.New(lockPath(dir))
	locked, err := fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("checking server lock: %w", err)
	}
	if locked {
		_ = fl.Unlock()
	}
	return !locked, nil
}

// Lock takes the server lock for the repository whose git common dir is
// dir. The caller must defer Cleanup.
func Lock(dir string) (*flock.Flock, error) {
	fl := flock.New(lockPath(dir))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring server lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w for this repository", ErrServerRunning)
	}
	return fl, nil
}

// WritePort records the server's listen address for Discover.
func WritePort(dir, addr string) error {
	return os.WriteFile(portPath(dir), []byte(addr), 0o600)
}

// Cleanup removes the port file and releases the lock.
func Cleanup(dir string, fl *flock.Flock) {
	_ = os.Remove(portPath(dir))
	if fl != nil {
		_ = fl.Unlock()
	}
}

// RemoveStale deletes a port file left behind by a server that died
// without cleaning up. It refuses while a live server holds the lock.
func RemoveStale(dir string) (bool, error) {
	fl := flock.New(lockPath(dir))
	locked, err := fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("checking server lock: %w", err)
	}
	if !locked {
		return false, fmt.Errorf("%w; stop it instead", ErrServerRunning)
	}
	defer func() { _ = fl.Unlock() }()

	err = os.Remove(portPath(dir))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}
