package synccol

import (
	"github.com/QYUbit/netsync/pkg/wire"
	"github.com/rotisserie/eris"
)

type setChange[T any] struct {
	op   Operation
	item T
}

// Set is a replicated unordered set. Iteration follows insertion order so
// that full state writes are deterministic.
type Set[T comparable] struct {
	hooks
	codec   wire.Codec[T]
	index   map[T]int
	items   []T
	changes []setChange[T]

	OnAdd    func(item T)
	OnRemove func(item T)
	OnClear  func()
	OnChange func(op Operation, item T)
}

var _ SyncObject = (*Set[int])(nil)

func NewSet[T comparable](codec wire.Codec[T], items ...T) *Set[T] {
	s := &Set[T]{codec: codec, index: make(map[T]int)}
	for _, item := range items {
		s.insert(item)
	}
	return s
}

func (s *Set[T]) Len() int {
	return len(s.items)
}

func (s *Set[T]) Contains(item T) bool {
	_, ok := s.index[item]
	return ok
}

// Items returns the members in insertion order.
func (s *Set[T]) Items() []T {
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}

// Add inserts item. It reports false if item was already present.
func (s *Set[T]) Add(item T) (bool, error) {
	if !s.writable() {
		return false, ErrReadOnly
	}
	if s.Contains(item) {
		return false, nil
	}
	s.apply(OpAdd, item)
	return true, nil
}

// Remove deletes item. It reports false if item was not present.
func (s *Set[T]) Remove(item T) (bool, error) {
	if !s.writable() {
		return false, ErrReadOnly
	}
	if !s.Contains(item) {
		return false, nil
	}
	s.apply(OpRemove, item)
	return true, nil
}

func (s *Set[T]) Clear() error {
	if !s.writable() {
		return ErrReadOnly
	}
	var zero T
	s.apply(OpClear, zero)
	return nil
}

func (s *Set[T]) insert(item T) {
	s.index[item] = len(s.items)
	s.items = append(s.items, item)
}

func (s *Set[T]) delete(item T) {
	i, ok := s.index[item]
	if !ok {
		return
	}
	delete(s.index, item)
	copy(s.items[i:], s.items[i+1:])
	s.items = s.items[:len(s.items)-1]
	for j := i; j < len(s.items); j++ {
		s.index[s.items[j]] = j
	}
}

func (s *Set[T]) reset() {
	clear(s.index)
	clear(s.items)
	s.items = s.items[:0]
}

func (s *Set[T]) apply(op Operation, item T) {
	switch op {
	case OpAdd:
		s.insert(item)
	case OpRemove:
		s.delete(item)
	case OpClear:
		s.reset()
	}

	if s.recording() {
		s.changes = append(s.changes, setChange[T]{op: op, item: item})
		s.dirty()
	}

	switch op {
	case OpAdd:
		if s.OnAdd != nil {
			s.OnAdd(item)
		}
	case OpRemove:
		if s.OnRemove != nil {
			s.OnRemove(item)
		}
	case OpClear:
		if s.OnClear != nil {
			s.OnClear()
		}
	}
	if s.OnChange != nil {
		s.OnChange(op, item)
	}
}

func (s *Set[T]) OnSerializeAll(w *wire.Writer) error {
	w.WriteUvarint(uint64(len(s.items)))
	for _, item := range s.items {
		if err := s.codec.Write(w, item); err != nil {
			return err
		}
	}
	w.WriteUvarint(uint64(len(s.changes)))
	return nil
}

func (s *Set[T]) OnSerializeDelta(w *wire.Writer) error {
	w.WriteUvarint(uint64(len(s.changes)))
	for _, c := range s.changes {
		w.WriteByte(byte(c.op))
		if c.op == OpAdd || c.op == OpRemove {
			if err := s.codec.Write(w, c.item); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Set[T]) OnDeserializeAll(r *wire.Reader) error {
	n, err := r.ReadCollectionLength()
	if err != nil {
		return err
	}

	s.reset()
	for range n {
		item, err := s.codec.Read(r)
		if err != nil {
			return err
		}
		if !s.Contains(item) {
			s.insert(item)
		}
	}

	ahead, err := r.ReadCollectionLength()
	if err != nil {
		return err
	}
	s.changesAhead = ahead
	return nil
}

func (s *Set[T]) OnDeserializeDelta(r *wire.Reader) error {
	n, err := r.ReadCollectionLength()
	if err != nil {
		return err
	}

	for range n {
		op, err := readOp(r)
		if err != nil {
			return err
		}

		var item T
		switch op {
		case OpAdd, OpRemove:
			if item, err = s.codec.Read(r); err != nil {
				return err
			}
		case OpClear:
		default:
			return eris.Wrapf(ErrUnknownOp, "set does not support %s", op)
		}

		if s.skip() {
			continue
		}

		// replaying a no-op would record a change nobody made
		if op == OpAdd && s.Contains(item) || op == OpRemove && !s.Contains(item) {
			continue
		}
		s.apply(op, item)
	}
	return nil
}

func (s *Set[T]) ClearChanges() {
	clear(s.changes)
	s.changes = s.changes[:0]
}

func (s *Set[T]) Reset() {
	s.ClearChanges()
	s.changesAhead = 0
	s.reset()
}
