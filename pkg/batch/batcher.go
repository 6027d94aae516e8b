// Package batch frames several protocol messages into one transport payload.
//
// A batch is an 8 byte little endian float64 timestamp followed by the
// messages back to back. Messages carry no length prefix, every handler has
// to consume exactly the bytes its message wrote.
package batch

import (
	"github.com/QYUbit/netsync/pkg/wire"
)

// HeaderSize is the size of the batch timestamp.
const HeaderSize = 8

// Batcher collects outgoing messages of one connection and channel.
type Batcher struct {
	threshold int
	queue     []*wire.Writer
	current   *wire.Writer
}

// NewBatcher creates a batcher that starts a new batch once appending a
// message would push the current one past threshold bytes. A single message
// larger than threshold still becomes its own batch.
func NewBatcher(threshold int) *Batcher {
	return &Batcher{threshold: threshold}
}

func (b *Batcher) Threshold() int {
	return b.threshold
}

// AddMessage appends msg to the current batch. timestamp is only used when
// the message opens a new batch.
func (b *Batcher) AddMessage(msg []byte, timestamp float64) {
	if b.current != nil && b.current.Len()+len(msg) > b.threshold {
		b.queue = append(b.queue, b.current)
		b.current = nil
	}

	if b.current == nil {
		b.current = wire.GetWriter()
		b.current.WriteFloat64(timestamp)
	}

	b.current.Write(msg)
}

// MakeNextBatch copies the oldest pending batch into w. It returns false
// when nothing is pending.
func (b *Batcher) MakeNextBatch(w *wire.Writer) bool {
	var next *wire.Writer

	if len(b.queue) > 0 {
		next = b.queue[0]
		b.queue[0] = nil
		b.queue = b.queue[1:]
	} else if b.current != nil {
		next = b.current
		b.current = nil
	} else {
		return false
	}

	w.Write(next.Bytes())
	wire.PutWriter(next)
	return true
}

// Pending reports the number of batches not handed out yet.
func (b *Batcher) Pending() int {
	n := len(b.queue)
	if b.current != nil {
		n++
	}
	return n
}

// Clear drops every pending batch.
func (b *Batcher) Clear() {
	for _, w := range b.queue {
		wire.PutWriter(w)
	}
	b.queue = b.queue[:0]
	if b.current != nil {
		wire.PutWriter(b.current)
		b.current = nil
	}
}
