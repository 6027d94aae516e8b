package synccol

import (
	"slices"

	"github.com/QYUbit/netsync/pkg/wire"
	"github.com/rotisserie/eris"
)

type listChange[T any] struct {
	op    Operation
	index int
	item  T
}

// List is a replicated ordered list.
type List[T comparable] struct {
	hooks
	codec   wire.Codec[T]
	items   []T
	changes []listChange[T]

	OnAdd    func(index int)
	OnInsert func(index int)
	OnSet    func(index int, old T)
	OnRemove func(index int, old T)
	OnClear  func()
	// OnChange fires after the specific callback for every operation.
	OnChange func(op Operation, index int, old T)
}

var _ SyncObject = (*List[int])(nil)

func NewList[T comparable](codec wire.Codec[T], items ...T) *List[T] {
	return &List[T]{codec: codec, items: slices.Clone(items)}
}

func (l *List[T]) Len() int {
	return len(l.items)
}

func (l *List[T]) Get(i int) T {
	return l.items[i]
}

// Items returns a copy of the current contents.
func (l *List[T]) Items() []T {
	return slices.Clone(l.items)
}

func (l *List[T]) IndexOf(item T) int {
	return slices.Index(l.items, item)
}

func (l *List[T]) Contains(item T) bool {
	return l.IndexOf(item) >= 0
}

func (l *List[T]) Add(item T) error {
	if !l.writable() {
		return ErrReadOnly
	}
	l.apply(OpAdd, len(l.items), item)
	return nil
}

func (l *List[T]) Insert(i int, item T) error {
	if !l.writable() {
		return ErrReadOnly
	}
	if i < 0 || i > len(l.items) {
		return eris.Wrapf(ErrOutOfRange, "insert at %d, len %d", i, len(l.items))
	}
	l.apply(OpInsert, i, item)
	return nil
}

func (l *List[T]) Set(i int, item T) error {
	if !l.writable() {
		return ErrReadOnly
	}
	if i < 0 || i >= len(l.items) {
		return eris.Wrapf(ErrOutOfRange, "set at %d, len %d", i, len(l.items))
	}
	if l.items[i] == item {
		return nil
	}
	l.apply(OpSet, i, item)
	return nil
}

func (l *List[T]) RemoveAt(i int) error {
	if !l.writable() {
		return ErrReadOnly
	}
	if i < 0 || i >= len(l.items) {
		return eris.Wrapf(ErrOutOfRange, "remove at %d, len %d", i, len(l.items))
	}
	var zero T
	l.apply(OpRemove, i, zero)
	return nil
}

// Remove deletes the first occurrence of item.
func (l *List[T]) Remove(item T) (bool, error) {
	i := l.IndexOf(item)
	if i < 0 {
		return false, nil
	}
	return true, l.RemoveAt(i)
}

func (l *List[T]) Clear() error {
	if !l.writable() {
		return ErrReadOnly
	}
	var zero T
	l.apply(OpClear, 0, zero)
	return nil
}

// apply mutates the list, records the change and runs callbacks. Bounds are
// checked by the caller.
func (l *List[T]) apply(op Operation, i int, item T) {
	var old T

	switch op {
	case OpAdd:
		l.items = append(l.items, item)
	case OpInsert:
		l.items = slices.Insert(l.items, i, item)
	case OpSet:
		old = l.items[i]
		l.items[i] = item
	case OpRemove:
		old = l.items[i]
		l.items = slices.Delete(l.items, i, i+1)
	case OpClear:
		clear(l.items)
		l.items = l.items[:0]
	}

	if l.recording() {
		l.changes = append(l.changes, listChange[T]{op: op, index: i, item: item})
		l.dirty()
	}

	switch op {
	case OpAdd:
		if l.OnAdd != nil {
			l.OnAdd(i)
		}
	case OpInsert:
		if l.OnInsert != nil {
			l.OnInsert(i)
		}
	case OpSet:
		if l.OnSet != nil {
			l.OnSet(i, old)
		}
	case OpRemove:
		if l.OnRemove != nil {
			l.OnRemove(i, old)
		}
	case OpClear:
		if l.OnClear != nil {
			l.OnClear()
		}
	}
	if l.OnChange != nil {
		l.OnChange(op, i, old)
	}
}

func (l *List[T]) OnSerializeAll(w *wire.Writer) error {
	w.WriteUvarint(uint64(len(l.items)))
	for _, item := range l.items {
		if err := l.codec.Write(w, item); err != nil {
			return err
		}
	}
	// receivers skip this many deltas, they are part of the state above
	w.WriteUvarint(uint64(len(l.changes)))
	return nil
}

func (l *List[T]) OnSerializeDelta(w *wire.Writer) error {
	w.WriteUvarint(uint64(len(l.changes)))
	for _, c := range l.changes {
		w.WriteByte(byte(c.op))
		switch c.op {
		case OpAdd:
			if err := l.codec.Write(w, c.item); err != nil {
				return err
			}
		case OpInsert, OpSet:
			w.WriteUvarint(uint64(c.index))
			if err := l.codec.Write(w, c.item); err != nil {
				return err
			}
		case OpRemove:
			w.WriteUvarint(uint64(c.index))
		}
	}
	return nil
}

func (l *List[T]) OnDeserializeAll(r *wire.Reader) error {
	n, err := r.ReadCollectionLength()
	if err != nil {
		return err
	}

	clear(l.items)
	l.items = l.items[:0]
	for range n {
		item, err := l.codec.Read(r)
		if err != nil {
			return err
		}
		l.items = append(l.items, item)
	}

	ahead, err := r.ReadCollectionLength()
	if err != nil {
		return err
	}
	l.changesAhead = ahead
	return nil
}

func (l *List[T]) OnDeserializeDelta(r *wire.Reader) error {
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
			index int
			item  T
		)
		switch op {
		case OpAdd:
			item, err = l.codec.Read(r)
		case OpInsert, OpSet:
			if index, err = readIndex(r); err == nil {
				item, err = l.codec.Read(r)
			}
		case OpRemove:
			index, err = readIndex(r)
		}
		if err != nil {
			return err
		}

		if l.skip() {
			continue
		}

		switch op {
		case OpAdd:
			index = len(l.items)
		case OpInsert:
			if index > len(l.items) {
				return eris.Wrapf(ErrOutOfRange, "remote insert at %d, len %d", index, len(l.items))
			}
		case OpSet, OpRemove:
			if index >= len(l.items) {
				return eris.Wrapf(ErrOutOfRange, "remote %s at %d, len %d", op, index, len(l.items))
			}
		}
		l.apply(op, index, item)
	}
	return nil
}

func (l *List[T]) ClearChanges() {
	clear(l.changes)
	l.changes = l.changes[:0]
}

func (l *List[T]) Reset() {
	l.ClearChanges()
	l.changesAhead = 0
	clear(l.items)
	l.items = l.items[:0]
}
