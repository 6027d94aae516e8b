package batch

import (
	"github.com/QYUbit/netsync/pkg/wire"
)

// Unbatcher queues incoming batches of one connection and hands out their
// messages in arrival order.
type Unbatcher struct {
	batches   []*wire.Writer
	reader    *wire.Reader
	timestamp float64
}

func NewUnbatcher() *Unbatcher {
	return &Unbatcher{reader: wire.NewReader(nil)}
}

// SetLimits changes the allocation limits of the shared message reader.
func (u *Unbatcher) SetLimits(l wire.Limits) {
	u.reader.SetLimits(l)
}

// AddBatch copies p into the queue. Batches shorter than the header are rejected.
func (u *Unbatcher) AddBatch(p []byte) bool {
	if len(p) < HeaderSize {
		return false
	}

	w := wire.GetWriter()
	w.Write(p)
	u.batches = append(u.batches, w)

	if len(u.batches) == 1 {
		u.startReading(w)
	}
	return true
}

func (u *Unbatcher) startReading(w *wire.Writer) {
	u.reader.Reset(w.Bytes())
	u.timestamp, _ = u.reader.ReadFloat64()
}

// NextMessage returns a reader positioned at the next message and the
// timestamp of the batch it came from. The reader is shared and only valid
// until the next call.
func (u *Unbatcher) NextMessage() (*wire.Reader, float64, bool) {
	if len(u.batches) == 0 {
		return nil, 0, false
	}

	if u.reader.Remaining() == 0 {
		wire.PutWriter(u.batches[0])
		u.batches[0] = nil
		u.batches = u.batches[1:]

		if len(u.batches) == 0 {
			u.reader.Reset(nil)
			return nil, 0, false
		}
		u.startReading(u.batches[0])
	}

	return u.reader, u.timestamp, true
}

// BatchesCount includes the batch currently being read.
func (u *Unbatcher) BatchesCount() int {
	return len(u.batches)
}

// Clear drops all queued batches.
func (u *Unbatcher) Clear() {
	for _, w := range u.batches {
		wire.PutWriter(w)
	}
	u.batches = u.batches[:0]
	u.reader.Reset(nil)
}
