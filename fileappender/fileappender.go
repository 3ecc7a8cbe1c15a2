// Package fileappender implements the file-split appender: it writes
// formatted records to an active file and, on rotation, hands the closed
// file off to a dedicated saver goroutine that packs it into an archive
// and enforces retention.
package fileappender

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/flowlog/flowlog/pack"
	"github.com/flowlog/flowlog/queue"
	"github.com/flowlog/flowlog/record"
	"github.com/flowlog/flowlog/retention"
	"github.com/flowlog/flowlog/rolling"
)

// rotationLockRetries is how many additional attempts acquireRotationLock
// makes after an initial failed lock, with rotationLockBackoff between
// them, before giving up and reporting to the error sink.
const rotationLockRetries = 2
const rotationLockBackoff = 20 * time.Millisecond

const defaultMaxFileSize = 256 * 1024 * 1024

// packJob is the unit of work handed from the write path to the saver.
// A sentinel job (ArchivePath == "") carries no archive to produce; it
// exists only to let a Flush's WaitGroup observe that every pack job
// enqueued before it has been processed.
type packJob struct {
	dir         string
	archivePath string
	wg          *sync.WaitGroup
}

func (j packJob) sentinel() bool { return j.archivePath == "" }

// Config configures a new Appender. Rolling, Retention, and Packer
// default to a 256 MiB size policy, keep-everything, and a no-op packer
// respectively.
type Config struct {
	Path      string
	Rolling   rolling.Policy
	Retention retention.Policy
	Packer    pack.Packer
	// ErrorSink is called for every I/O or pack error: write-path errors
	// from the dispatcher goroutine, pack and removal errors from the
	// saver goroutine, so calls may be concurrent. May be nil.
	ErrorSink func(error)
}

// Appender is a file-split appender. It implements appender.Appender.
type Appender struct {
	dir      string
	tempName string

	file      *os.File
	tempBytes int64

	rolling   rolling.Policy
	retention retention.Policy
	packer    pack.Packer
	errorSink func(error)

	packJobs queue.Channel[packJob]
	saverEnd chan struct{}
}

// New creates the directory if missing, opens (or resumes) the active
// file, and starts the saver goroutine.
func New(cfg Config) (*Appender, error) {
	tempName := filepath.Base(cfg.Path)
	if cfg.Path == "" || tempName == "." || tempName == string(filepath.Separator) {
		tempName = "temp.log"
	}
	dir := filepath.Dir(cfg.Path)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fileappender: create directory %q: %w", dir, err)
	}

	full := filepath.Join(dir, tempName)
	f, err := os.OpenFile(full, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("fileappender: open %q: %w", full, err)
	}
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("fileappender: seek %q: %w", full, err)
	}

	a := &Appender{
		dir:       dir,
		tempName:  tempName,
		file:      f,
		tempBytes: size,
		rolling:   cfg.Rolling,
		retention: cfg.Retention,
		packer:    cfg.Packer,
		errorSink: cfg.ErrorSink,
		packJobs:  queue.New[packJob](0),
		saverEnd:  make(chan struct{}),
	}
	if a.rolling == nil {
		a.rolling = &rolling.BySize{Limit: defaultMaxFileSize}
	}
	if a.retention == nil {
		a.retention = retention.All{}
	}
	if a.packer == nil {
		a.packer = pack.NoopPacker{}
	}
	if a.errorSink == nil {
		a.errorSink = func(error) {}
	}

	go a.saverLoop()
	return a, nil
}

// DoLogs implements appender.Appender.
func (a *Appender) DoLogs(batch []record.Record) {
	var temp []byte
	for _, r := range batch {
		switch r.Kind {
		case record.Log:
			projected := a.tempBytes + int64(len(temp)) + int64(len(r.Formated))
			if name := a.rolling.Can(a.packer.PackName, a.tempName, projected, r); name != "" {
				a.flushTemp(&temp)
				a.sendPack(name, nil)
			}
			temp = append(temp, r.Formated...)

		case record.Flush:
			projected := a.tempBytes + int64(len(temp))
			name := a.rolling.Can(a.packer.PackName, a.tempName, projected, r)
			a.flushTemp(&temp)
			if name != "" {
				a.sendPack(name, r.Wait)
			} else {
				a.sendSentinel(r.Wait)
			}

		case record.Exit:
			a.flushTemp(&temp)
			a.shutdown()
			return
		}
	}
	a.flushTemp(&temp)
}

// flushTemp writes temp to the active file and clears it. A write error
// is routed to the internal error sink rather than returned; tempBytes
// advances only by bytes actually written, never by bytes attempted.
func (a *Appender) flushTemp(temp *[]byte) {
	if len(*temp) == 0 {
		return
	}
	n, err := a.file.Write(*temp)
	if err != nil {
		a.errorSink(fmt.Errorf("fileappender: write: %w", err))
		*temp = (*temp)[:0]
		return
	}
	a.tempBytes += int64(n)
	*temp = (*temp)[:0]
}

// sendPack flushes the active file to the OS, copies it to archiveName
// under the rotation lock, enqueues the pack job, and truncates the
// active file back to empty.
func (a *Appender) sendPack(archiveName string, wg *sync.WaitGroup) {
	if err := a.file.Sync(); err != nil {
		a.errorSink(fmt.Errorf("fileappender: sync before rotate: %w", err))
	}

	archivePath := filepath.Join(a.dir, archiveName)
	unlock, err := a.acquireRotationLock()
	if err != nil {
		a.errorSink(fmt.Errorf("fileappender: rotation lock: %w", err))
	}
	if copyErr := copyActiveFile(a.file, archivePath); copyErr != nil {
		a.errorSink(fmt.Errorf("fileappender: copy to archive: %w", copyErr))
	}
	if unlock != nil {
		unlock()
	}

	if err := a.packJobs.Send(packJob{dir: a.dir, archivePath: archivePath, wg: wg}); err != nil {
		a.errorSink(fmt.Errorf("fileappender: enqueue pack job: %w", err))
		if wg != nil {
			wg.Done()
		}
	}

	if err := a.file.Truncate(0); err != nil {
		a.errorSink(fmt.Errorf("fileappender: truncate active file: %w", err))
	}
	if _, err := a.file.Seek(0, io.SeekStart); err != nil {
		a.errorSink(fmt.Errorf("fileappender: seek active file: %w", err))
	}
	a.tempBytes = 0
}

// sendSentinel hands wg to the saver without any archive to produce, so
// the flush completes only once every pack job queued before it has
// been observed by the saver — maintaining FIFO order on the pack queue.
func (a *Appender) sendSentinel(wg *sync.WaitGroup) {
	if wg == nil {
		return
	}
	if err := a.packJobs.Send(packJob{wg: wg}); err != nil {
		a.errorSink(fmt.Errorf("fileappender: enqueue flush sentinel: %w", err))
		wg.Done()
	}
}

// acquireRotationLock opens (creating if needed) the ".rotate.lock"
// sentinel file in a.dir and takes an exclusive advisory lock on it, so
// two appenders -- including ones in separate processes sharing a log
// directory -- never copy the active file at the same time. The lock
// primitive itself is platform-specific (rotationLocker, in
// lock_unix.go/lock_windows.go); this method owns the retry policy and
// routes intermediate failures through the appender's own error sink
// instead of surfacing a bare open-or-lock error to the caller.
func (a *Appender) acquireRotationLock() (func(), error) {
	f, err := os.OpenFile(filepath.Join(a.dir, ".rotate.lock"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("fileappender: open rotation lock: %w", err)
	}

	locker := newRotationLocker(f.Fd())
	var lockErr error
	for attempt := 0; attempt <= rotationLockRetries; attempt++ {
		if lockErr = locker.lock(); lockErr == nil {
			break
		}
		if attempt < rotationLockRetries {
			a.errorSink(fmt.Errorf("fileappender: rotation lock attempt %d: %w", attempt+1, lockErr))
			time.Sleep(rotationLockBackoff)
		}
	}
	if lockErr != nil {
		f.Close()
		return nil, fmt.Errorf("fileappender: rotation lock: %w", lockErr)
	}

	return func() {
		if err := locker.unlock(); err != nil {
			a.errorSink(fmt.Errorf("fileappender: rotation unlock: %w", err))
		}
		f.Close()
	}, nil
}

// copyActiveFile copies f's current contents (from offset 0) to dstPath
// without disturbing f's descriptor, preserving the active file's
// identity for anything tailing it.
func copyActiveFile(f *os.File, dstPath string) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	_, copyErr := io.Copy(dst, f)
	closeErr := dst.Close()
	if copyErr != nil {
		return copyErr
	}
	return closeErr
}

// shutdown closes the pack queue so the saver drains and exits, and
// joins it before closing the active file. The caller flushes temp first.
func (a *Appender) shutdown() {
	a.packJobs.Close()
	<-a.saverEnd
	if err := a.file.Close(); err != nil {
		a.errorSink(fmt.Errorf("fileappender: close active file: %w", err))
	}
}

// saverLoop is the saver thread of the file-split appender (spec §4.7).
// On a sentinel job it releases wg and keeps looping — the stricter,
// non-early-returning behavior the original's early-return on any
// wg-carrying job was flagged as likely not intending.
func (a *Appender) saverLoop() {
	defer close(a.saverEnd)
	for {
		job, ok := a.packJobs.Recv()
		if !ok {
			return
		}
		if job.sentinel() {
			if job.wg != nil {
				job.wg.Done()
			}
			continue
		}

		del, err := a.packer.DoPack(job.archivePath)
		for attempt := 0; err != nil && attempt < a.packer.Retry(); attempt++ {
			del, err = a.packer.DoPack(job.archivePath)
		}
		if err != nil {
			a.errorSink(fmt.Errorf("fileappender: pack %q: %w", job.archivePath, err))
		} else if del {
			if rmErr := os.Remove(job.archivePath); rmErr != nil {
				a.errorSink(fmt.Errorf("fileappender: remove packed source %q: %w", job.archivePath, rmErr))
			}
		}

		a.retention.DoKeep(job.dir, a.tempName)

		if job.wg != nil {
			job.wg.Done()
		}
	}
}
