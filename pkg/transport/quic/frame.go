package quic

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/QYUbit/netsync/pkg/transport"
	"github.com/rotisserie/eris"
)

// Reliable traffic shares one bidirectional stream per connection. Each
// frame is a uvarint length followed by the payload. An empty frame opens
// the stream, since a peer only sees a stream once data was written to it.

func writeFrame(w io.Writer, scratch []byte, p []byte) ([]byte, error) {
	if len(p) > MaxFrameSize {
		return scratch, transport.ErrFrameTooLarge
	}
	scratch = binary.AppendUvarint(scratch[:0], uint64(len(p)))
	scratch = append(scratch, p...)
	_, err := w.Write(scratch)
	return scratch, err
}

func readFrame(r *bufio.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if n > MaxFrameSize {
		return nil, eris.Wrapf(transport.ErrFrameTooLarge, "frame of %d bytes", n)
	}
	p := make([]byte, n)
	if _, err := io.ReadFull(r, p); err != nil {
		return nil, err
	}
	return p, nil
}
