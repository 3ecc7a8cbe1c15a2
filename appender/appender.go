// Package appender defines the batched sink contract every destination
// of the pipeline implements, along with a simple stdout console
// appender.
package appender

import "github.com/flowlog/flowlog/record"

// Appender is a batched sink. DoLogs must process every record in batch
// exactly once and in order, must release a Flush record's WaitGroup
// only once all records this appender accepted before it are stable,
// must treat Exit as "release resources, no more batches follow", and
// must never panic on I/O error.
type Appender interface {
	DoLogs(batch []record.Record)
}

// Console writes formatted records through Write (typically
// os.Stdout.Write) and
// releases Flush barriers immediately, since a write to an os.File is
// already as durable as this appender can make it without an fsync.
type Console struct {
	Write func(p []byte) (int, error)
}

func (c Console) DoLogs(batch []record.Record) {
	for _, r := range batch {
		switch r.Kind {
		case record.Log:
			if c.Write != nil {
				_, _ = c.Write([]byte(r.Formated))
			}
		case record.Flush:
			if r.Wait != nil {
				r.Wait.Done()
			}
		case record.Exit:
			// nothing to release; stdout needs no teardown.
		}
	}
}
