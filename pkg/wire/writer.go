// Package wire implements the binary encoding shared by every netsync message:
// little endian fixed width primitives, LEB128 varints, length prefixed
// strings and blobs and a few math types.
package wire

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"unicode/utf8"

	"github.com/rotisserie/eris"
)

// MaxStringLength is the longest string the 16 bit length prefix can carry.
const MaxStringLength = math.MaxUint16 - 1

var writerPool = sync.Pool{
	New: func() any {
		return NewWriter()
	},
}

// GetWriter returns an empty writer from the pool.
func GetWriter() *Writer {
	w := writerPool.Get().(*Writer)
	w.Reset()
	return w
}

// PutWriter hands a writer back to the pool. The writer must not be used afterwards.
func PutWriter(w *Writer) {
	if w == nil || cap(w.buf) > 64*1024 {
		return
	}
	writerPool.Put(w)
}

// Writer is a growable byte buffer with append style encoders.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 256)}
}

func (w *Writer) String() string {
	return fmt.Sprintf("Writer[len=%d cap=%d]", len(w.buf), cap(w.buf))
}

// Bytes returns the written bytes. The slice aliases the writer's storage.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len reports the number of written bytes, which is also the write position.
func (w *Writer) Len() int {
	return len(w.buf)
}

func (w *Writer) Reset() {
	w.buf = w.buf[:0]
}

// Reserve appends a zero byte and returns its position so it can be patched later.
func (w *Writer) Reserve() int {
	w.buf = append(w.buf, 0)
	return len(w.buf) - 1
}

// PatchByte overwrites an already written byte.
func (w *Writer) PatchByte(pos int, v byte) error {
	if pos < 0 || pos >= len(w.buf) {
		return eris.Wrapf(ErrPosition, "patch at %d, len %d", pos, len(w.buf))
	}
	w.buf[pos] = v
	return nil
}

// Truncate drops everything written after pos.
func (w *Writer) Truncate(pos int) {
	if pos >= 0 && pos <= len(w.buf) {
		w.buf = w.buf[:pos]
	}
}

func (w *Writer) WriteByte(v byte) error {
	w.buf = append(w.buf, v)
	return nil
}

func (w *Writer) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

func (w *Writer) WriteUint16(x uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, x)
}

func (w *Writer) WriteUint32(x uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, x)
}

func (w *Writer) WriteUint64(x uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, x)
}

func (w *Writer) WriteInt16(x int16) {
	w.WriteUint16(uint16(x))
}

func (w *Writer) WriteInt32(x int32) {
	w.WriteUint32(uint32(x))
}

func (w *Writer) WriteInt64(x int64) {
	w.WriteUint64(uint64(x))
}

func (w *Writer) WriteFloat32(x float32) {
	w.WriteUint32(math.Float32bits(x))
}

func (w *Writer) WriteFloat64(x float64) {
	w.WriteUint64(math.Float64bits(x))
}

func (w *Writer) WriteUvarint(x uint64) {
	w.buf = binary.AppendUvarint(w.buf, x)
}

func (w *Writer) WriteVarint(x int64) {
	w.buf = binary.AppendVarint(w.buf, x)
}

// WriteString writes s with a uint16 prefix of len(s)+1. The value 0 is
// reserved for a null string, see WriteNullString.
func (w *Writer) WriteString(s string) error {
	if len(s) > MaxStringLength {
		return eris.Wrapf(ErrTooLarge, "string of %d bytes, max %d", len(s), MaxStringLength)
	}
	if !utf8.ValidString(s) {
		return ErrInvalidString
	}
	w.WriteUint16(uint16(len(s) + 1))
	w.buf = append(w.buf, s...)
	return nil
}

// WriteNullString writes a nullable string, nil encodes as a single zero prefix.
func (w *Writer) WriteNullString(s *string) error {
	if s == nil {
		w.WriteUint16(0)
		return nil
	}
	return w.WriteString(*s)
}

// WriteBlob writes p with a varint prefix of len(p)+1, nil encodes as 0.
func (w *Writer) WriteBlob(p []byte) {
	if p == nil {
		w.WriteUvarint(0)
		return
	}
	w.WriteUvarint(uint64(len(p)) + 1)
	w.buf = append(w.buf, p...)
}

func (w *Writer) WriteVector3(v Vector3) {
	w.WriteFloat32(v.X)
	w.WriteFloat32(v.Y)
	w.WriteFloat32(v.Z)
}

func (w *Writer) WriteQuaternion(q Quaternion) {
	w.WriteFloat32(q.X)
	w.WriteFloat32(q.Y)
	w.WriteFloat32(q.Z)
	w.WriteFloat32(q.W)
}
