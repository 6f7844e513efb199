// Package delta implements the rich-text edit representation used across
// the sync subsystem: an ordered sequence of retain, insert and delete
// primitives describing the transformation from one document state to the
// next. A document itself is a delta whose operations are all inserts.
//
// The relay never touches this package; deltas cross the wire as opaque
// payloads and are only interpreted by clients.
package delta

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// AttributeMap carries rich-text formatting (bold, link targets, ...).
// Values are compared structurally during normalization; nil values in a
// composition mean "attribute removed".
type AttributeMap map[string]any

// Op is a single edit primitive. Exactly one of Insert, Retain or Delete is
// set. Insert holds either a string or an embed object (map); Retain and
// Delete are positive unit counts.
type Op struct {
	Insert     any          `json:"insert,omitempty"`
	Retain     int          `json:"retain,omitempty"`
	Delete     int          `json:"delete,omitempty"`
	Attributes AttributeMap `json:"attributes,omitempty"`
}

// Delta is an ordered, finite sequence of operations.
type Delta struct {
	Ops []Op `json:"ops"`
}

// MalformedDeltaError is returned by Apply when a delta addresses content
// beyond the end of the document, or contains an op with no action. Clients
// recover by discarding the offending delta; it never crashes a session.
type MalformedDeltaError struct {
	Reason string
}

func (e *MalformedDeltaError) Error() string {
	return fmt.Sprintf("malformed delta: %s", e.Reason)
}

// New returns an empty delta. Builders below allow fluent construction:
//
//	delta.New().Retain(3, nil).Insert("hi", nil)
func New() Delta {
	return Delta{}
}

func (d Delta) Insert(value any, attrs AttributeMap) Delta {
	if s, ok := value.(string); ok && s == "" {
		return d
	}
	return d.push(Op{Insert: value, Attributes: attrs})
}

func (d Delta) Retain(n int, attrs AttributeMap) Delta {
	if n <= 0 {
		return d
	}
	return d.push(Op{Retain: n, Attributes: attrs})
}

func (d Delta) Delete(n int) Delta {
	if n <= 0 {
		return d
	}
	return d.push(Op{Delete: n})
}

// push appends an op, merging it with the previous op when both are plain
// inserts or both deletes, so equivalent edit sequences normalize to the
// same representation.
func (d Delta) push(op Op) Delta {
	ops := make([]Op, len(d.Ops), len(d.Ops)+1)
	copy(ops, d.Ops)

	if n := len(ops); n > 0 {
		last := ops[n-1]
		switch {
		case op.Delete > 0 && last.Delete > 0:
			ops[n-1] = Op{Delete: last.Delete + op.Delete}
			return Delta{Ops: ops}
		case isTextInsert(op) && isTextInsert(last) && attrsEqual(op.Attributes, last.Attributes):
			ops[n-1] = Op{Insert: last.Insert.(string) + op.Insert.(string), Attributes: last.Attributes}
			return Delta{Ops: ops}
		case op.Retain > 0 && last.Retain > 0 && attrsEqual(op.Attributes, last.Attributes):
			ops[n-1] = Op{Retain: last.Retain + op.Retain, Attributes: last.Attributes}
			return Delta{Ops: ops}
		}
	}

	return Delta{Ops: append(ops, op)}
}

func isTextInsert(op Op) bool {
	_, ok := op.Insert.(string)
	return ok
}

// opLength is the number of addressable units the op covers: rune count for
// text inserts, one for embeds, the declared count for retain and delete.
func opLength(op Op) int {
	switch {
	case op.Insert != nil:
		if s, ok := op.Insert.(string); ok {
			return len([]rune(s))
		}
		return 1
	case op.Retain > 0:
		return op.Retain
	default:
		return op.Delete
	}
}

// Length returns the number of addressable units a document delta holds.
// A freshly initialized editor document is a single trailing newline, so a
// length of one means "effectively empty" and must not be persisted.
func Length(doc Delta) int {
	total := 0
	for _, op := range doc.Ops {
		if op.Insert != nil {
			total += opLength(op)
		}
	}
	return total
}

// baseLength is the document length a delta requires to apply cleanly:
// the sum of its retain and delete spans.
func baseLength(d Delta) int {
	total := 0
	for _, op := range d.Ops {
		if op.Insert == nil {
			total += opLength(op)
		}
	}
	return total
}

// validate rejects ops with no action and deltas whose retain/delete spans
// run past the end of the document.
func validate(doc, d Delta) error {
	for _, op := range d.Ops {
		set := 0
		if op.Insert != nil {
			set++
		}
		if op.Retain != 0 {
			set++
		}
		if op.Delete != 0 {
			set++
		}
		if set != 1 {
			return &MalformedDeltaError{Reason: fmt.Sprintf("op must have exactly one action, got %+v", op)}
		}
		if op.Retain < 0 || op.Delete < 0 {
			return &MalformedDeltaError{Reason: "negative retain or delete"}
		}
	}
	if need, have := baseLength(d), Length(doc); need > have {
		return &MalformedDeltaError{
			Reason: fmt.Sprintf("delta addresses %d units but document holds %d", need, have),
		}
	}
	return nil
}

// Apply transforms a document by a delta. It is deterministic and pure: the
// inputs are not mutated. Malformed deltas return *MalformedDeltaError.
func Apply(doc, d Delta) (Delta, error) {
	for _, op := range doc.Ops {
		if op.Insert == nil {
			return Delta{}, &MalformedDeltaError{Reason: "document must contain only inserts"}
		}
	}
	if err := validate(doc, d); err != nil {
		return Delta{}, err
	}
	return Compose(doc, d), nil
}

// Compose returns a delta equivalent to applying a then b in sequence:
// Apply(Apply(c, a), b) == Apply(c, Compose(a, b)) for any document c the
// pair applies to cleanly.
func Compose(a, b Delta) Delta {
	ia, ib := newIterator(a.Ops), newIterator(b.Ops)
	out := New()

	for ia.hasNext() || ib.hasNext() {
		switch {
		case ib.peekIsInsert():
			op := ib.next(-1)
			out = out.push(op)
		case ia.peekIsDelete():
			op := ia.next(-1)
			out = out.push(op)
		default:
			n := minInt(ia.peekLength(), ib.peekLength())
			aOp := ia.next(n)
			bOp := ib.next(n)
			switch {
			case bOp.Retain > 0:
				merged := Op{Attributes: composeAttrs(aOp.Attributes, bOp.Attributes, aOp.Retain > 0)}
				if aOp.Insert != nil {
					merged.Insert = aOp.Insert
				} else {
					merged.Retain = n
				}
				out = out.push(merged)
			case bOp.Delete > 0 && aOp.Retain > 0:
				out = out.push(Op{Delete: bOp.Delete})
				// b deleting what a inserted cancels out entirely.
			}
		}
	}

	return chop(out)
}

// chop drops a trailing attribute-less retain, which is a no-op.
func chop(d Delta) Delta {
	if n := len(d.Ops); n > 0 {
		last := d.Ops[n-1]
		if last.Retain > 0 && last.Attributes == nil {
			return Delta{Ops: d.Ops[:n-1]}
		}
	}
	return d
}

// composeAttrs layers b over a. When keepNil is false (the base op was an
// insert), explicit nils in b erase keys instead of being recorded.
func composeAttrs(a, b AttributeMap, keepNil bool) AttributeMap {
	if a == nil && b == nil {
		return nil
	}
	out := AttributeMap{}
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	if !keepNil {
		for k, v := range out {
			if v == nil {
				delete(out, k)
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func attrsEqual(a, b AttributeMap) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok || fmt.Sprint(va) != fmt.Sprint(vb) {
			return false
		}
	}
	return true
}

// Marshal serializes a delta in the canonical wire/rest shape, e.g.
// {"ops":[{"insert":"hi"},{"retain":3},{"delete":1}]}.
func Marshal(d Delta) ([]byte, error) {
	return json.Marshal(d)
}

// Unmarshal parses serialized delta content. Unknown fields are ignored so
// editor-specific extensions survive a round trip through persistence.
func Unmarshal(data []byte) (Delta, error) {
	var d Delta
	if err := json.Unmarshal(data, &d); err != nil {
		return Delta{}, fmt.Errorf("decoding delta: %w", err)
	}
	return d, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
