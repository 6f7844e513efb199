package delta

import "math"

// iterator walks a delta's ops, allowing a consumer to take partial slices
// of an op. An exhausted iterator yields implicit retains, which makes the
// composition loop uniform when one side is longer than the other.
type iterator struct {
	ops    []Op
	index  int
	offset int
}

func newIterator(ops []Op) *iterator {
	return &iterator{ops: ops}
}

func (it *iterator) hasNext() bool {
	return it.index < len(it.ops)
}

func (it *iterator) peekLength() int {
	if !it.hasNext() {
		return math.MaxInt
	}
	return opLength(it.ops[it.index]) - it.offset
}

func (it *iterator) peekIsInsert() bool {
	return it.hasNext() && it.ops[it.index].Insert != nil
}

func (it *iterator) peekIsDelete() bool {
	return it.hasNext() && it.ops[it.index].Delete > 0
}

// next consumes up to n units of the current op and returns the consumed
// slice. n < 0 consumes the remainder of the current op. Past the end of
// the ops it synthesizes plain retains.
func (it *iterator) next(n int) Op {
	if !it.hasNext() {
		if n < 0 {
			n = math.MaxInt
		}
		return Op{Retain: n}
	}

	op := it.ops[it.index]
	remaining := opLength(op) - it.offset
	take := remaining
	if n >= 0 && n < remaining {
		take = n
	}

	var out Op
	switch {
	case op.Delete > 0:
		out = Op{Delete: take}
	case op.Retain > 0:
		out = Op{Retain: take, Attributes: op.Attributes}
	default:
		if s, ok := op.Insert.(string); ok {
			runes := []rune(s)
			out = Op{Insert: string(runes[it.offset : it.offset+take]), Attributes: op.Attributes}
		} else {
			// Embeds are atomic; take is always their full length of one.
			out = op
		}
	}

	it.offset += take
	if it.offset >= opLength(op) {
		it.index++
		it.offset = 0
	}
	return out
}
