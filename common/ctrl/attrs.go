// Package ctrl implements the control-channel wire format spoken between the
// user-space daemons and the in-kernel data-transfer engine: a
// length-delimited stream of records, each a fixed header followed by a
// tagged-attribute block. The package knows nothing about RINA semantics
// beyond the shape of the records.
package ctrl

import (
	"encoding/binary"
	"math"

	"github.com/your-org/rina-stack/common/rerr"
)

// Attributes are (tag u16, length u16, value) triplets. Integers are
// big-endian; nested entities are attribute blocks inside one value.
// Decoders skip unknown tags.

type attrWriter struct {
	buf []byte
}

func (w *attrWriter) header(tag uint16, length int) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, tag)
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(length))
}

func (w *attrWriter) Bytes(tag uint16, v []byte) {
	w.header(tag, len(v))
	w.buf = append(w.buf, v...)
}

func (w *attrWriter) String(tag uint16, v string) {
	w.header(tag, len(v))
	w.buf = append(w.buf, v...)
}

func (w *attrWriter) Uint8(tag uint16, v uint8) {
	w.header(tag, 1)
	w.buf = append(w.buf, v)
}

func (w *attrWriter) Bool(tag uint16, v bool) {
	if v {
		w.Uint8(tag, 1)
	} else {
		w.Uint8(tag, 0)
	}
}

func (w *attrWriter) Uint16(tag uint16, v uint16) {
	w.header(tag, 2)
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *attrWriter) Uint32(tag uint16, v uint32) {
	w.header(tag, 4)
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *attrWriter) Int32(tag uint16, v int32) { w.Uint32(tag, uint32(v)) }

func (w *attrWriter) Uint64(tag uint16, v uint64) {
	w.header(tag, 8)
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

func (w *attrWriter) Int64(tag uint16, v int64) { w.Uint64(tag, uint64(v)) }

func (w *attrWriter) Float64(tag uint16, v float64) {
	w.Uint64(tag, math.Float64bits(v))
}

// Nested emits a nested attribute block built by fill.
func (w *attrWriter) Nested(tag uint16, fill func(*attrWriter)) {
	var inner attrWriter
	fill(&inner)
	w.Bytes(tag, inner.buf)
}

// attr is one decoded attribute.
type attr struct {
	tag uint16
	val []byte
}

// parseAttrs splits an attribute block into its attributes.
func parseAttrs(b []byte) ([]attr, error) {
	var out []attr
	for off := 0; off < len(b); {
		if len(b)-off < 4 {
			return nil, rerr.New(rerr.KindMalformedMessage, "truncated attribute header at offset %d", off)
		}
		tag := binary.BigEndian.Uint16(b[off : off+2])
		length := int(binary.BigEndian.Uint16(b[off+2 : off+4]))
		off += 4
		if len(b)-off < length {
			return nil, rerr.New(rerr.KindMalformedMessage, "attribute %d: %d value bytes, %d left", tag, length, len(b)-off)
		}
		out = append(out, attr{tag: tag, val: b[off : off+length]})
		off += length
	}
	return out, nil
}

func (a attr) asString() string { return string(a.val) }

func (a attr) asBytes() []byte { return append([]byte(nil), a.val...) }

func (a attr) asUint8() (uint8, error) {
	if len(a.val) != 1 {
		return 0, rerr.New(rerr.KindMalformedMessage, "attribute %d: %d bytes, want 1", a.tag, len(a.val))
	}
	return a.val[0], nil
}

func (a attr) asBool() (bool, error) {
	v, err := a.asUint8()
	return v != 0, err
}

func (a attr) asUint16() (uint16, error) {
	if len(a.val) != 2 {
		return 0, rerr.New(rerr.KindMalformedMessage, "attribute %d: %d bytes, want 2", a.tag, len(a.val))
	}
	return binary.BigEndian.Uint16(a.val), nil
}

func (a attr) asUint32() (uint32, error) {
	if len(a.val) != 4 {
		return 0, rerr.New(rerr.KindMalformedMessage, "attribute %d: %d bytes, want 4", a.tag, len(a.val))
	}
	return binary.BigEndian.Uint32(a.val), nil
}

func (a attr) asInt32() (int32, error) {
	v, err := a.asUint32()
	return int32(v), err
}

func (a attr) asUint64() (uint64, error) {
	if len(a.val) != 8 {
		return 0, rerr.New(rerr.KindMalformedMessage, "attribute %d: %d bytes, want 8", a.tag, len(a.val))
	}
	return binary.BigEndian.Uint64(a.val), nil
}

func (a attr) asInt64() (int64, error) {
	v, err := a.asUint64()
	return int64(v), err
}

func (a attr) asFloat64() (float64, error) {
	v, err := a.asUint64()
	return math.Float64frombits(v), err
}
