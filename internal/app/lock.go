package app

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/juju/clock"
	"github.com/juju/mutex/v2"
	"github.com/zeebo/xxh3"
)

// lockDelay is how often a blocked Acquire retries.
const lockDelay = 250 * time.Millisecond

// ErrLocked is returned when another run holds the lock for the same backup
// root for longer than the configured timeout.
var ErrLocked = errors.New("another ckpt run holds the lock for this backup root")

// LockName returns the machine-wide mutex name for a backup root.
// Mutex names must match ^[a-z]+[a-z0-9.-]*$, so the root is hashed.
func LockName(backupRoot string) string {
	return fmt.Sprintf("ckpt-%016x", xxh3.HashString(filepath.Clean(backupRoot)))
}

// AcquireRunLock takes the cross-process lock that serialises runs against
// backupRoot. The caller must Release the returned releaser.
func AcquireRunLock(backupRoot string, timeout time.Duration, clk clock.Clock) (mutex.Releaser, error) {
	if clk == nil {
		clk = clock.WallClock
	}
	releaser, err := mutex.Acquire(mutex.Spec{
		Name:    LockName(backupRoot),
		Clock:   clk,
		Delay:   lockDelay,
		Timeout: timeout,
	})
	if err != nil {
		if errors.Is(err, mutex.ErrTimeout) {
			return nil, fmt.Errorf("%w (waited %s)", ErrLocked, timeout)
		}
		return nil, fmt.Errorf("acquiring run lock: %w", err)
	}
	return releaser, nil
}
