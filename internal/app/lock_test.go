package app

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/juju/clock"
)

func TestLockName(t *testing.T) {
	valid := regexp.MustCompile(`^[a-z]+[a-z0-9.-]*$`)

	a := LockName("/mnt/backup/docs")
	if !valid.MatchString(a) {
		t.Errorf("LockName() = %q, not a valid mutex name", a)
	}
	if b := LockName("/mnt/backup/docs/"); b != a {
		t.Errorf("LockName() differs for the same cleaned path: %q vs %q", a, b)
	}
	if c := LockName("/mnt/backup/photos"); c == a {
		t.Errorf("LockName() collided for different roots: %q", c)
	}
}

func TestAcquireRunLock(t *testing.T) {
	root := t.TempDir()

	first, err := AcquireRunLock(root, time.Second, clock.WallClock)
	if err != nil {
		t.Fatalf("AcquireRunLock() error = %v", err)
	}

	_, err = AcquireRunLock(root, 300*time.Millisecond, clock.WallClock)
	if !errors.Is(err, ErrLocked) {
		first.Release()
		t.Fatalf("second AcquireRunLock() error = %v, want ErrLocked", err)
	}

	first.Release()

	second, err := AcquireRunLock(root, time.Second, nil)
	if err != nil {
		t.Fatalf("AcquireRunLock() after release error = %v", err)
	}
	second.Release()
}
