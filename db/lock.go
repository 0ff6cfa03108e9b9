package db

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
)

// writerLock guards a store path against concurrent writers with a sidecar
// lock file created exclusively. The file records the owning pid and a
// random token; a lock whose pid is no longer alive is stale and reclaimed.
// Read-only handles never touch the lock.
type writerLock struct {
	path  string
	token string
}

// acquireWriterLock claims the writer slot for a store path, failing with
// ErrAlreadyLocked while another live process holds it.
func acquireWriterLock(storePath string) (*writerLock, error) {
	l := &writerLock{
		path:  storePath + ".lock",
		token: uuid.New().String(),
	}

	if err := l.tryCreate(); err == nil {
		return l, nil
	} else if !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create lock file: %w", err)
	}

	pid, _, readErr := l.read()
	if readErr == nil && pid != 0 && processAlive(pid) {
		return nil, fmt.Errorf("%w: held by pid %d", ErrAlreadyLocked, pid)
	}

	// Stale lock: the owner died without cleanup. Reclaim it.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale lock: %w", err)
	}
	if err := l.tryCreate(); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: lock reclaimed by another writer", ErrAlreadyLocked)
		}
		return nil, fmt.Errorf("create lock file: %w", err)
	}
	return l, nil
}

func (l *writerLock) tryCreate() error {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	_, werr := fmt.Fprintf(f, "%d %s\n", os.Getpid(), l.token)
	cerr := f.Close()
	if werr != nil {
		os.Remove(l.path)
		return werr
	}
	return cerr
}

func (l *writerLock) read() (pid int, token string, err error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, "", err
	}
	fields := strings.Fields(string(data))
	if len(fields) != 2 {
		return 0, "", fmt.Errorf("malformed lock file %s", l.path)
	}
	pid, err = strconv.Atoi(fields[0])
	if err != nil {
		return 0, "", fmt.Errorf("malformed lock pid: %w", err)
	}
	return pid, fields[1], nil
}

// release removes the lock file if this handle still owns it. Safe to call
// more than once.
func (l *writerLock) release() error {
	_, token, err := l.read()
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if token != l.token {
		// Someone reclaimed the lock (e.g. after this process was judged
		// dead); do not remove their file.
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// processAlive checks whether a pid refers to a running process.
// On Unix, FindProcess always succeeds; signal 0 probes existence.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
