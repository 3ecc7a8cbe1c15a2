// Package dispatcher drains the record queue on a single goroutine and
// fans each batch out to every configured appender, in declaration
// order, synchronously.
package dispatcher

import (
	"github.com/flowlog/flowlog/appender"
	"github.com/flowlog/flowlog/queue"
	"github.com/flowlog/flowlog/record"
)

// DefaultMaxBatch bounds how many records accumulate before a batch is
// flushed to the appenders even without an Exit in the batch.
const DefaultMaxBatch = 256

// Dispatcher owns the single consumer goroutine of the pipeline.
type Dispatcher struct {
	in        queue.Channel[record.Record]
	appenders []appender.Appender
	maxBatch  int
	done      chan struct{}
}

// New starts the dispatcher goroutine immediately, draining in off its
// own channel and delivering batches to appenders in order. maxBatch <=
// 0 uses DefaultMaxBatch.
func New(in queue.Channel[record.Record], appenders []appender.Appender, maxBatch int) *Dispatcher {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	d := &Dispatcher{
		in:        in,
		appenders: appenders,
		maxBatch:  maxBatch,
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

// Join blocks until the dispatcher goroutine has observed an Exit
// record (or the input channel closed) and delivered its final batch.
func (d *Dispatcher) Join() {
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	batch := make([]record.Record, 0, d.maxBatch)
	for {
		r, ok := d.in.Recv()
		if !ok {
			d.deliver(batch)
			return
		}
		batch = append(batch, r)
		exit := r.Kind == record.Exit
		if exit || r.Kind == record.Flush || len(batch) >= d.maxBatch {
			d.deliver(batch)
			batch = batch[:0]
			if exit {
				return
			}
		}
	}
}

func (d *Dispatcher) deliver(batch []record.Record) {
	if len(batch) == 0 {
		return
	}
	for _, a := range d.appenders {
		a.DoLogs(batch)
	}
}
