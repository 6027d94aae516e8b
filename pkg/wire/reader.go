package wire

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/rotisserie/eris"
)

// Limits bound the sizes a Reader accepts. Lengths above a limit are rejected
// before anything is allocated.
type Limits struct {
	MaxStringLength     int
	MaxBlobLength       int
	MaxCollectionLength int
}

var DefaultLimits = Limits{
	MaxStringLength:     MaxStringLength,
	MaxBlobLength:       16 * 1024 * 1024,
	MaxCollectionLength: 64 * 1024,
}

// Reader decodes values from a byte slice it does not own.
type Reader struct {
	buf    []byte
	pos    int
	limits Limits
}

func NewReader(data []byte) *Reader {
	return &Reader{buf: data, limits: DefaultLimits}
}

func NewReaderWithLimits(data []byte, limits Limits) *Reader {
	return &Reader{buf: data, limits: limits}
}

func (r *Reader) String() string {
	return fmt.Sprintf("Reader[pos=%d len=%d]", r.pos, len(r.buf))
}

// Reset points the reader at new data and rewinds it.
func (r *Reader) Reset(data []byte) {
	r.buf = data
	r.pos = 0
}

func (r *Reader) Limits() Limits {
	return r.limits
}

func (r *Reader) SetLimits(l Limits) {
	r.limits = l
}

func (r *Reader) Len() int {
	return len(r.buf)
}

func (r *Reader) Position() int {
	return r.pos
}

func (r *Reader) SetPosition(pos int) error {
	if pos < 0 || pos > len(r.buf) {
		return eris.Wrapf(ErrPosition, "seek to %d, len %d", pos, len(r.buf))
	}
	r.pos = pos
	return nil
}

func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

func (r *Reader) Skip(n int) error {
	if n < 0 || n > r.Remaining() {
		return eris.Wrapf(ErrEndOfBuffer, "skip %d, remaining %d", n, r.Remaining())
	}
	r.pos += n
	return nil
}

func (r *Reader) need(n int) error {
	if n > r.Remaining() {
		return eris.Wrapf(ErrEndOfBuffer, "need %d bytes, remaining %d", n, r.Remaining())
	}
	return nil
}

func (r *Reader) ReadByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadByte()
	return b != 0, err
}

func (r *Reader) ReadUint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	return math.Float32frombits(v), err
}

func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.ReadUint64()
	return math.Float64frombits(v), err
}

func (r *Reader) ReadUvarint() (uint64, error) {
	if r.pos >= len(r.buf) {
		return 0, eris.Wrap(ErrEndOfBuffer, "uvarint")
	}
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n == 0 {
		return 0, eris.Wrap(ErrEndOfBuffer, "truncated uvarint")
	}
	if n < 0 {
		return 0, ErrInvalidVarint
	}
	r.pos += n
	return v, nil
}

func (r *Reader) ReadVarint() (int64, error) {
	if r.pos >= len(r.buf) {
		return 0, eris.Wrap(ErrEndOfBuffer, "varint")
	}
	v, n := binary.Varint(r.buf[r.pos:])
	if n == 0 {
		return 0, eris.Wrap(ErrEndOfBuffer, "truncated varint")
	}
	if n < 0 {
		return 0, ErrInvalidVarint
	}
	r.pos += n
	return v, nil
}

// ReadNullString reads a string written by WriteNullString or WriteString.
func (r *Reader) ReadNullString() (*string, error) {
	prefix, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	if prefix == 0 {
		return nil, nil
	}
	n := int(prefix) - 1
	if n > r.limits.MaxStringLength {
		return nil, eris.Wrapf(ErrTooLarge, "string of %d bytes, max %d", n, r.limits.MaxStringLength)
	}
	if err := r.need(n); err != nil {
		return nil, err
	}
	p := r.buf[r.pos : r.pos+n]
	r.pos += n
	if !utf8.Valid(p) {
		return nil, ErrInvalidString
	}
	s := string(p)
	return &s, nil
}

// ReadString reads a string, a null string decodes as "".
func (r *Reader) ReadString() (string, error) {
	s, err := r.ReadNullString()
	if err != nil || s == nil {
		return "", err
	}
	return *s, nil
}

func (r *Reader) blobLength() (int, bool, error) {
	prefix, err := r.ReadUvarint()
	if err != nil {
		return 0, false, err
	}
	if prefix == 0 {
		return 0, true, nil
	}
	n := prefix - 1
	if n > uint64(r.limits.MaxBlobLength) {
		return 0, false, eris.Wrapf(ErrTooLarge, "blob of %d bytes, max %d", n, r.limits.MaxBlobLength)
	}
	if err := r.need(int(n)); err != nil {
		return 0, false, err
	}
	return int(n), false, nil
}

// ReadBlob reads a blob into a fresh slice. A null blob decodes as nil.
func (r *Reader) ReadBlob() ([]byte, error) {
	view, err := r.ReadBlobView()
	if err != nil || view == nil {
		return nil, err
	}
	out := make([]byte, len(view))
	copy(out, view)
	return out, nil
}

// ReadBlobView reads a blob without copying. The returned slice aliases the
// reader's data and is only valid as long as that data is.
func (r *Reader) ReadBlobView() ([]byte, error) {
	n, isNull, err := r.blobLength()
	if err != nil || isNull {
		return nil, err
	}
	v := r.buf[r.pos : r.pos+n : r.pos+n]
	r.pos += n
	return v, nil
}

// ReadCollectionLength reads an element count and checks it against the limits.
func (r *Reader) ReadCollectionLength() (int, error) {
	n, err := r.ReadUvarint()
	if err != nil {
		return 0, err
	}
	if n > uint64(r.limits.MaxCollectionLength) {
		return 0, eris.Wrapf(ErrTooLarge, "collection of %d elements, max %d", n, r.limits.MaxCollectionLength)
	}
	return int(n), nil
}

func (r *Reader) ReadVector3() (Vector3, error) {
	if err := r.need(12); err != nil {
		return Vector3{}, err
	}
	x, _ := r.ReadFloat32()
	y, _ := r.ReadFloat32()
	z, _ := r.ReadFloat32()
	return Vector3{X: x, Y: y, Z: z}, nil
}

func (r *Reader) ReadQuaternion() (Quaternion, error) {
	if err := r.need(16); err != nil {
		return Quaternion{}, err
	}
	x, _ := r.ReadFloat32()
	y, _ := r.ReadFloat32()
	z, _ := r.ReadFloat32()
	w, _ := r.ReadFloat32()
	return Quaternion{X: x, Y: y, Z: z, W: w}, nil
}

// ReadRest returns everything not read yet without copying and moves to the end.
func (r *Reader) ReadRest() []byte {
	v := r.buf[r.pos:len(r.buf):len(r.buf)]
	r.pos = len(r.buf)
	return v
}
