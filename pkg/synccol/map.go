package synccol

import (
	"github.com/QYUbit/netsync/pkg/wire"
	"github.com/rotisserie/eris"
)

type mapChange[K comparable, V any] struct {
	op    Operation
	key   K
	value V
}

// Map is a replicated dictionary. Keys keep insertion order.
type Map[K comparable, V any] struct {
	hooks
	keyCodec   wire.Codec[K]
	valueCodec wire.Codec[V]
	values     map[K]V
	keys       []K
	changes    []mapChange[K, V]

	OnAdd    func(key K)
	OnSet    func(key K, old V)
	OnRemove func(key K, old V)
	OnClear  func()
	OnChange func(op Operation, key K, old V)
}

var _ SyncObject = (*Map[int, int])(nil)

func NewMap[K comparable, V any](keyCodec wire.Codec[K], valueCodec wire.Codec[V]) *Map[K, V] {
	return &Map[K, V]{
		keyCodec:   keyCodec,
		valueCodec: valueCodec,
		values:     make(map[K]V),
	}
}

func (m *Map[K, V]) Len() int {
	return len(m.keys)
}

func (m *Map[K, V]) Get(key K) (V, bool) {
	v, ok := m.values[key]
	return v, ok
}

func (m *Map[K, V]) ContainsKey(key K) bool {
	_, ok := m.values[key]
	return ok
}

// Keys returns the keys in insertion order.
func (m *Map[K, V]) Keys() []K {
	out := make([]K, len(m.keys))
	copy(out, m.keys)
	return out
}

// Add inserts a new key. Adding a key that is present fails with ErrKeyExists.
func (m *Map[K, V]) Add(key K, value V) error {
	if !m.writable() {
		return ErrReadOnly
	}
	if m.ContainsKey(key) {
		return eris.Wrapf(ErrKeyExists, "%v", key)
	}
	m.apply(OpAdd, key, value)
	return nil
}

// Set inserts or overwrites the value for key.
func (m *Map[K, V]) Set(key K, value V) error {
	if !m.writable() {
		return ErrReadOnly
	}
	if m.ContainsKey(key) {
		m.apply(OpSet, key, value)
	} else {
		m.apply(OpAdd, key, value)
	}
	return nil
}

func (m *Map[K, V]) Remove(key K) (bool, error) {
	if !m.writable() {
		return false, ErrReadOnly
	}
	if !m.ContainsKey(key) {
		return false, nil
	}
	var zero V
	m.apply(OpRemove, key, zero)
	return true, nil
}

func (m *Map[K, V]) Clear() error {
	if !m.writable() {
		return ErrReadOnly
	}
	var (
		k K
		v V
	)
	m.apply(OpClear, k, v)
	return nil
}

func (m *Map[K, V]) put(key K, value V) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

func (m *Map[K, V]) del(key K) {
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			return
		}
	}
}

func (m *Map[K, V]) reset() {
	clear(m.values)
	clear(m.keys)
	m.keys = m.keys[:0]
}

func (m *Map[K, V]) apply(op Operation, key K, value V) {
	var old V

	switch op {
	case OpAdd:
		m.put(key, value)
	case OpSet:
		old = m.values[key]
		m.values[key] = value
	case OpRemove:
		old = m.values[key]
		m.del(key)
	case OpClear:
		m.reset()
	}

	if m.recording() {
		m.changes = append(m.changes, mapChange[K, V]{op: op, key: key, value: value})
		m.dirty()
	}

	switch op {
	case OpAdd:
		if m.OnAdd != nil {
			m.OnAdd(key)
		}
	case OpSet:
		if m.OnSet != nil {
			m.OnSet(key, old)
		}
	case OpRemove:
		if m.OnRemove != nil {
			m.OnRemove(key, old)
		}
	case OpClear:
		if m.OnClear != nil {
			m.OnClear()
		}
	}
	if m.OnChange != nil {
		m.OnChange(op, key, old)
	}
}

func (m *Map[K, V]) OnSerializeAll(w *wire.Writer) error {
	w.WriteUvarint(uint64(len(m.keys)))
	for _, k := range m.keys {
		if err := m.keyCodec.Write(w, k); err != nil {
			return err
		}
		if err := m.valueCodec.Write(w, m.values[k]); err != nil {
			return err
		}
	}
	w.WriteUvarint(uint64(len(m.changes)))
	return nil
}

func (m *Map[K, V]) OnSerializeDelta(w *wire.Writer) error {
	w.WriteUvarint(uint64(len(m.changes)))
	for _, c := range m.changes {
		w.WriteByte(byte(c.op))
		switch c.op {
		case OpAdd, OpSet:
			if err := m.keyCodec.Write(w, c.key); err != nil {
				return err
			}
			if err := m.valueCodec.Write(w, c.value); err != nil {
				return err
			}
		case OpRemove:
			if err := m.keyCodec.Write(w, c.key); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Map[K, V]) OnDeserializeAll(r *wire.Reader) error {
	n, err := r.ReadCollectionLength()
	if err != nil {
		return err
	}

	m.reset()
	for range n {
		k, err := m.keyCodec.Read(r)
		if err != nil {
			return err
		}
		v, err := m.valueCodec.Read(r)
		if err != nil {
			return err
		}
		m.put(k, v)
	}

	ahead, err := r.ReadCollectionLength()
	if err != nil {
		return err
	}
	m.changesAhead = ahead
	return nil
}

func (m *Map[K, V]) OnDeserializeDelta(r *wire.Reader) error {
	n, err := r.ReadCollectionLength()
	if err != nil {
		return err
	}

	for range n {
		op, err := readOp(r)
		if err != nil {
			return err
		}

		var (
			key   K
			value V
		)
		switch op {
		case OpAdd, OpSet:
			if key, err = m.keyCodec.Read(r); err != nil {
				return err
			}
			if value, err = m.valueCodec.Read(r); err != nil {
				return err
			}
		case OpRemove:
			if key, err = m.keyCodec.Read(r); err != nil {
				return err
			}
		case OpClear:
		default:
			return eris.Wrapf(ErrUnknownOp, "map does not support %s", op)
		}

		if m.skip() {
			continue
		}

		switch op {
		case OpAdd, OpSet:
			if m.ContainsKey(key) {
				op = OpSet
			} else {
				op = OpAdd
			}
		case OpRemove:
			if !m.ContainsKey(key) {
				continue
			}
		}
		m.apply(op, key, value)
	}
	return nil
}

func (m *Map[K, V]) ClearChanges() {
	clear(m.changes)
	m.changes = m.changes[:0]
}

func (m *Map[K, V]) Reset() {
	m.ClearChanges()
	m.changesAhead = 0
	m.reset()
}
