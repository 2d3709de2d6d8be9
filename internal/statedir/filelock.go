package statedir

import (
	"errors"
	"fmt"
	"os"
	"time"

	"spark/internal/faults"
)

// FileLock is an inter-process advisory lock built on O_EXCL lockfile
// creation. Writers take it; readers never do. A holder that dies leaves a
// stale file which is superseded once it ages past the stale window.
type FileLock struct {
	Path  string
	Wait  time.Duration
	Stale time.Duration
}

// ErrLockBusy is wrapped into the transport-kind error on bounded-wait
// expiry.
var ErrLockBusy = errors.New("lock busy")

// Acquire takes the lock within the bounded wait or fails fast with a
// transport-kind error. Callers must not retry forever.
func (fl *FileLock) Acquire() error {
	deadline := time.Now().Add(fl.Wait)
	for {
		f, err := os.OpenFile(fl.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d %d", os.Getpid(), time.Now().Unix())
			f.Close()
			return nil
		}
		if !os.IsExist(err) {
			return &faults.Wrap{Kind: faults.KindTransport, Err: fmt.Errorf("lock %s: %w", fl.Path, err)}
		}
		if info, serr := os.Stat(fl.Path); serr == nil && fl.Stale > 0 && time.Since(info.ModTime()) > fl.Stale {
			// Holder is gone; supersede the stale lock and race for it.
			os.Remove(fl.Path)
			continue
		}
		if time.Now().After(deadline) {
			return &faults.Wrap{Kind: faults.KindTransport, Err: ErrLockBusy}
		}
		time.Sleep(25 * time.Millisecond)
	}
}

// Release drops the lock. Safe to call when not held.
func (fl *FileLock) Release() {
	os.Remove(fl.Path)
}
