//go:build linux || darwin || freebsd || netbsd || openbsd

package fileappender

import "syscall"

// rotationLocker is the unix half of the cross-process rotation lock.
// acquireRotationLock (fileappender.go) owns the retry policy and
// error-sink wiring around it; this type only knows how to flock an
// already-open file descriptor.
type rotationLocker struct {
	fd uintptr
}

func newRotationLocker(fd uintptr) *rotationLocker {
	return &rotationLocker{fd: fd}
}

func (l *rotationLocker) lock() error {
	return syscall.Flock(int(l.fd), syscall.LOCK_EX)
}

func (l *rotationLocker) unlock() error {
	return syscall.Flock(int(l.fd), syscall.LOCK_UN)
}
