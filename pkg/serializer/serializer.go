// Package serializer provides user defined encodings for remote call
// arguments and for sync vars holding structured values.
package serializer

import (
	"github.com/QYUbit/netsync/pkg/wire"
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"github.com/vmihailenco/msgpack/v5"
)

type Marshaler interface {
	Marshal(v any) (p []byte, err error)
}

type Unmarshaler interface {
	Unmarshal(v any, p []byte) (err error)
}

// Serializer represents an user defined serializer.
type Serializer interface {
	Marshaler
	Unmarshaler
}

// MsgPack encodes with vmihailenco/msgpack.
type MsgPack struct{}

func (MsgPack) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (MsgPack) Unmarshal(v any, p []byte) error {
	return msgpack.Unmarshal(p, v)
}

// JSON encodes with goccy/go-json.
type JSON struct{}

func (JSON) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSON) Unmarshal(v any, p []byte) error {
	return json.Unmarshal(p, v)
}

// Codec adapts s to a wire codec. Values travel as blobs, so they are
// length prefixed and can sit next to other fields.
func Codec[T any](s Serializer) wire.Codec[T] {
	return wire.Codec[T]{
		Write: func(w *wire.Writer, v T) error {
			p, err := s.Marshal(v)
			if err != nil {
				return eris.Wrap(err, "serializer: marshal")
			}
			w.WriteBlob(p)
			return nil
		},
		Read: func(r *wire.Reader) (T, error) {
			var v T
			p, err := r.ReadBlobView()
			if err != nil {
				return v, err
			}
			if err := s.Unmarshal(&v, p); err != nil {
				return v, eris.Wrap(err, "serializer: unmarshal")
			}
			return v, nil
		},
	}
}

// Decode unmarshals everything left in r into a T.
func Decode[T any](s Serializer, r *wire.Reader) (T, error) {
	var v T
	if err := s.Unmarshal(&v, r.ReadRest()); err != nil {
		return v, eris.Wrap(err, "serializer: unmarshal")
	}
	return v, nil
}
