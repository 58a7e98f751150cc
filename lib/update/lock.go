package update

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// installLock is an exclusive flock on a file in the resources directory.
// It serializes installers across processes.
type installLock struct {
	f *os.File
}

func acquireLock(path string) (*installLock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("open install lock: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrInstallInProgress
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	return &installLock{f: f}, nil
}

func (l *installLock) release() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return fmt.Errorf("unlock: %w", err)
	}
	return l.f.Close()
}
