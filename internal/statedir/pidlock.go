package statedir

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// ErrAlreadyRunning means a live process holds the role lock; duplicates
// must exit cleanly.
var ErrAlreadyRunning = errors.New("already running")

// PidLock enforces one live instance per long-lived role. The lockfile
// stores the owner's PID; a stale lock (dead PID) is superseded, a live
// foreign PID means the caller must exit.
type PidLock struct {
	path string
	held bool
}

// AcquirePidLock takes the role lock or reports the PID holding it.
func AcquirePidLock(path string) (*PidLock, error) {
	lock := &PidLock{path: path}

	if data, err := os.ReadFile(path); err == nil {
		pidStr := strings.TrimSpace(string(data))
		if pid, perr := strconv.Atoi(pidStr); perr == nil && pid != os.Getpid() {
			if processAlive(pid) {
				return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
			}
			// Stale lock from a dead process; supersede it.
			os.Remove(path)
		}
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write pid lock: %w", err)
	}
	lock.held = true
	return lock, nil
}

// Release removes the lockfile if we still own it.
func (p *PidLock) Release() {
	if !p.held {
		return
	}
	if data, err := os.ReadFile(p.path); err == nil {
		if pid, perr := strconv.Atoi(strings.TrimSpace(string(data))); perr == nil && pid != os.Getpid() {
			return // someone else superseded us
		}
	}
	os.Remove(p.path)
	p.held = false
}

// processAlive checks whether a PID refers to a live process. Signal 0
// probes existence without delivering anything.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}
