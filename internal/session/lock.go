package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// LockExt is appended to a recording's path to mark it as owned by a
// running process
const LockExt = ".lock"

// recordingLock is an exclusive lock on a recording's lock file. It is held
// from the moment a recording is created until it is saved or discarded, and
// the operating system drops it if the process dies.
type recordingLock struct {
	file *os.File
	path string
}

func lockRecording(audioPath string) (*recordingLock, error) {
	path := audioPath + LockExt
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording lock: %w", err)
	}
	if err := tryLockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("recording %s is locked by another process: %w", audioPath, err)
	}
	if err := f.Truncate(0); err == nil {
		fmt.Fprintf(f, "%d\n", os.Getpid())
	}
	return &recordingLock{file: f, path: path}, nil
}

// release removes the lock file before unlocking it, so no other process
// can take it for a stale lock in between
func (l *recordingLock) release() error {
	if l == nil {
		return nil
	}
	var errs []error
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, fmt.Errorf("failed to remove recording lock: %w", err))
	}
	unlockFile(l.file)
	if err := l.file.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// recordingInUse reports whether a live process still owns audioPath. A lock
// file left behind by a process that died is removed.
func recordingInUse(audioPath string) bool {
	path := audioPath + LockExt
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return !errors.Is(err, fs.ErrNotExist)
	}
	defer f.Close()

	if err := tryLockFile(f); err != nil {
		return true
	}
	defer unlockFile(f)

	// where advisory locks are unavailable, a lock file still held open
	// by its owner cannot be removed
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return true
	}
	return false
}
