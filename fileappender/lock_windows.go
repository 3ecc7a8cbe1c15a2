//go:build windows

package fileappender

import "golang.org/x/sys/windows"

// rotationLocker is the windows half of the cross-process rotation lock.
// acquireRotationLock (fileappender.go) owns the retry policy and
// error-sink wiring around it; this type only knows how to LockFileEx an
// already-open file handle. The overlapped struct must stay fixed for the
// lifetime of a single lock/unlock pair, so it lives on the instance
// rather than being reconstructed per call.
type rotationLocker struct {
	handle     windows.Handle
	overlapped windows.Overlapped
}

func newRotationLocker(fd uintptr) *rotationLocker {
	return &rotationLocker{handle: windows.Handle(fd)}
}

func (l *rotationLocker) lock() error {
	return windows.LockFileEx(l.handle, windows.LOCKFILE_EXCLUSIVE_LOCK, 0, 1, 0, &l.overlapped)
}

func (l *rotationLocker) unlock() error {
	return windows.UnlockFileEx(l.handle, 0, 1, 0, &l.overlapped)
}
