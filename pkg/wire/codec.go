package wire

// Codec pairs the encoder and decoder of one value type. Sync vars and sync
// collections carry a codec per element type.
type Codec[T any] struct {
	Write func(w *Writer, v T) error
	Read  func(r *Reader) (T, error)
}

// CodecOf builds a codec from encoders that cannot fail.
func CodecOf[T any](write func(w *Writer, v T), read func(r *Reader) (T, error)) Codec[T] {
	return Codec[T]{
		Write: func(w *Writer, v T) error {
			write(w, v)
			return nil
		},
		Read: read,
	}
}

var (
	Bool    = CodecOf((*Writer).WriteBool, (*Reader).ReadBool)
	Byte    = CodecOf(func(w *Writer, v byte) { w.buf = append(w.buf, v) }, (*Reader).ReadByte)
	Int16   = CodecOf((*Writer).WriteInt16, (*Reader).ReadInt16)
	Int32   = CodecOf((*Writer).WriteInt32, (*Reader).ReadInt32)
	Int64   = CodecOf((*Writer).WriteInt64, (*Reader).ReadInt64)
	Uint16  = CodecOf((*Writer).WriteUint16, (*Reader).ReadUint16)
	Uint32  = CodecOf((*Writer).WriteUint32, (*Reader).ReadUint32)
	Uint64  = CodecOf((*Writer).WriteUint64, (*Reader).ReadUint64)
	Float32 = CodecOf((*Writer).WriteFloat32, (*Reader).ReadFloat32)
	Float64 = CodecOf((*Writer).WriteFloat64, (*Reader).ReadFloat64)
	Varint  = CodecOf((*Writer).WriteVarint, (*Reader).ReadVarint)
	Uvarint = CodecOf((*Writer).WriteUvarint, (*Reader).ReadUvarint)
	Blob    = CodecOf((*Writer).WriteBlob, (*Reader).ReadBlob)
	Vec3    = CodecOf((*Writer).WriteVector3, (*Reader).ReadVector3)
	Quat    = CodecOf((*Writer).WriteQuaternion, (*Reader).ReadQuaternion)

	String = Codec[string]{
		Write: (*Writer).WriteString,
		Read:  (*Reader).ReadString,
	}

	// Int is a varint codec for platform sized integers.
	Int = CodecOf(
		func(w *Writer, v int) { w.WriteVarint(int64(v)) },
		func(r *Reader) (int, error) {
			v, err := r.ReadVarint()
			return int(v), err
		},
	)
)
