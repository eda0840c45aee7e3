package store

import (
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/droidpool/droidpool/internal/errors"
)

// Lock is an exclusive single-instance lock file. Two daemons sharing the
// same documents would race past the single-flight guards, which only
// serialize operations within one process.
type Lock struct {
	path string
}

// AcquireLock creates the lock file exclusively, recording this process pid.
// It fails with ErrLockHeld when another live instance already holds it; a
// lock left behind by a dead process is broken and re-acquired.
func AcquireLock(path string) (*Lock, error) {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(path)
				if werr != nil {
					return nil, werr
				}
				return nil, cerr
			}
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}

		pid := readLockPID(path)
		if pid != "" && processAlive(pid) {
			return nil, &errors.ErrLockHeld{Path: path, PID: pid}
		}
		// Stale lock from a dead process.
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, &errors.ErrLockHeld{Path: path, PID: pid}
		}
	}
	return nil, &errors.ErrLockHeld{Path: path}
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	err := os.Remove(l.path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func readLockPID(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func processAlive(pid string) bool {
	n, err := strconv.Atoi(pid)
	if err != nil || n <= 0 {
		return false
	}
	// FindProcess always succeeds on unix; signal 0 probes existence.
	proc, err := os.FindProcess(n)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
