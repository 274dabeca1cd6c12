package cdap

import (
	"encoding/binary"
	"math"

	"github.com/your-org/rina-stack/common/rerr"
)

// Wire format: a message is a run of (tag u8, length u16, value) triplets.
// Integers are big-endian, strings length-prefixed UTF-8, the object value a
// nested block with its own type tag. The opcode tag is mandatory and by
// convention emitted first. Unknown tags are skipped so the syntax can grow.
const (
	tagOpCode       = 0x01
	tagAbsSyntax    = 0x02
	tagInvokeID     = 0x03
	tagFlags        = 0x04
	tagObjClass     = 0x05
	tagObjName      = 0x06
	tagObjInst      = 0x07
	tagObjValue     = 0x08
	tagResult       = 0x09
	tagResultReason = 0x0a
	tagScope        = 0x0b
	tagFilter       = 0x0c
	tagAuthMech     = 0x0d
	tagAuthName     = 0x0e
	tagAuthPassword = 0x0f
	tagAuthOther    = 0x10
	tagSrcApName    = 0x11
	tagSrcApInst    = 0x12
	tagSrcAeName    = 0x13
	tagSrcAeInst    = 0x14
	tagDestApName   = 0x15
	tagDestApInst   = 0x16
	tagDestAeName   = 0x17
	tagDestAeInst   = 0x18
	tagVersion      = 0x19
)

// attrWriter accumulates tagged attributes.
type attrWriter struct {
	buf []byte
}

func (w *attrWriter) header(tag uint8, length int) {
	w.buf = append(w.buf, tag)
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(length))
}

func (w *attrWriter) putBytes(tag uint8, b []byte) {
	w.header(tag, len(b))
	w.buf = append(w.buf, b...)
}

func (w *attrWriter) putString(tag uint8, s string) {
	w.header(tag, len(s))
	w.buf = append(w.buf, s...)
}

func (w *attrWriter) putUint8(tag uint8, v uint8) {
	w.header(tag, 1)
	w.buf = append(w.buf, v)
}

func (w *attrWriter) putUint32(tag uint8, v uint32) {
	w.header(tag, 4)
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *attrWriter) putInt32(tag uint8, v int32) { w.putUint32(tag, uint32(v)) }

func (w *attrWriter) putUint64(tag uint8, v uint64) {
	w.header(tag, 8)
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

func (w *attrWriter) putInt64(tag uint8, v int64) { w.putUint64(tag, uint64(v)) }

// Encode serializes a message after validating it.
func Encode(m *Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return encodeUnchecked(m), nil
}

// encodeUnchecked serializes without validation; tests use it to build
// intentionally broken frames.
func encodeUnchecked(m *Message) []byte {
	w := &attrWriter{buf: make([]byte, 0, 128)}
	w.putUint8(tagOpCode, uint8(m.OpCode))
	if m.AbsSyntax != 0 {
		w.putUint32(tagAbsSyntax, m.AbsSyntax)
	}
	if m.InvokeID != 0 {
		w.putInt32(tagInvokeID, m.InvokeID)
	}
	if m.Flags != FlagsNone {
		w.putUint8(tagFlags, uint8(m.Flags))
	}
	if m.AuthMech != AuthNone {
		w.putUint8(tagAuthMech, uint8(m.AuthMech))
	}
	if m.AuthValue.Name != "" {
		w.putString(tagAuthName, m.AuthValue.Name)
	}
	if m.AuthValue.Password != "" {
		w.putString(tagAuthPassword, m.AuthValue.Password)
	}
	if len(m.AuthValue.Other) > 0 {
		w.putBytes(tagAuthOther, m.AuthValue.Other)
	}
	if m.SrcApName != "" {
		w.putString(tagSrcApName, m.SrcApName)
	}
	if m.SrcApInstance != "" {
		w.putString(tagSrcApInst, m.SrcApInstance)
	}
	if m.SrcAeName != "" {
		w.putString(tagSrcAeName, m.SrcAeName)
	}
	if m.SrcAeInstance != "" {
		w.putString(tagSrcAeInst, m.SrcAeInstance)
	}
	if m.DestApName != "" {
		w.putString(tagDestApName, m.DestApName)
	}
	if m.DestApInstance != "" {
		w.putString(tagDestApInst, m.DestApInstance)
	}
	if m.DestAeName != "" {
		w.putString(tagDestAeName, m.DestAeName)
	}
	if m.DestAeInstance != "" {
		w.putString(tagDestAeInst, m.DestAeInstance)
	}
	if len(m.Filter) > 0 {
		w.putBytes(tagFilter, m.Filter)
	}
	if m.ObjClass != "" {
		w.putString(tagObjClass, m.ObjClass)
	}
	if m.ObjName != "" {
		w.putString(tagObjName, m.ObjName)
	}
	if m.ObjInst != 0 {
		w.putInt64(tagObjInst, m.ObjInst)
	}
	if !m.ObjValue.IsZero() {
		w.putBytes(tagObjValue, encodeObjectValue(m.ObjValue))
	}
	if m.Scope != 0 {
		w.putInt32(tagScope, m.Scope)
	}
	if m.HasResult {
		w.putInt32(tagResult, m.Result)
		if m.ResultReason != "" {
			w.putString(tagResultReason, m.ResultReason)
		}
	}
	if m.Version != 0 {
		w.putInt64(tagVersion, m.Version)
	}
	return w.buf
}

// encodeObjectValue serializes the discriminated union: one kind byte
// followed by the kind-specific payload.
func encodeObjectValue(v ObjectValue) []byte {
	out := []byte{byte(v.Kind)}
	switch v.Kind {
	case ValueInt32:
		out = binary.BigEndian.AppendUint32(out, uint32(int32(v.Int)))
	case ValueInt64:
		out = binary.BigEndian.AppendUint64(out, uint64(v.Int))
	case ValueUint32:
		out = binary.BigEndian.AppendUint32(out, uint32(v.Uint))
	case ValueUint64:
		out = binary.BigEndian.AppendUint64(out, v.Uint)
	case ValueString:
		out = append(out, v.Str...)
	case ValueBytes:
		out = append(out, v.Bytes...)
	case ValueFloat32:
		out = binary.BigEndian.AppendUint32(out, math.Float32bits(float32(v.Float)))
	case ValueFloat64:
		out = binary.BigEndian.AppendUint64(out, math.Float64bits(v.Float))
	case ValueBool:
		if v.Bool {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}
	}
	return out
}

func decodeObjectValue(b []byte) (ObjectValue, error) {
	if len(b) == 0 {
		return ObjectValue{}, rerr.New(rerr.KindMalformedMessage, "empty object value block")
	}
	v := ObjectValue{Kind: ValueKind(b[0])}
	payload := b[1:]
	need := func(n int) error {
		if len(payload) != n {
			return rerr.New(rerr.KindMalformedMessage, "object value kind %d: got %d payload bytes, want %d", v.Kind, len(payload), n)
		}
		return nil
	}
	switch v.Kind {
	case ValueInt32:
		if err := need(4); err != nil {
			return ObjectValue{}, err
		}
		v.Int = int64(int32(binary.BigEndian.Uint32(payload)))
	case ValueInt64:
		if err := need(8); err != nil {
			return ObjectValue{}, err
		}
		v.Int = int64(binary.BigEndian.Uint64(payload))
	case ValueUint32:
		if err := need(4); err != nil {
			return ObjectValue{}, err
		}
		v.Uint = uint64(binary.BigEndian.Uint32(payload))
	case ValueUint64:
		if err := need(8); err != nil {
			return ObjectValue{}, err
		}
		v.Uint = binary.BigEndian.Uint64(payload)
	case ValueString:
		v.Str = string(payload)
	case ValueBytes:
		v.Bytes = append([]byte(nil), payload...)
	case ValueFloat32:
		if err := need(4); err != nil {
			return ObjectValue{}, err
		}
		v.Float = float64(math.Float32frombits(binary.BigEndian.Uint32(payload)))
	case ValueFloat64:
		if err := need(8); err != nil {
			return ObjectValue{}, err
		}
		v.Float = math.Float64frombits(binary.BigEndian.Uint64(payload))
	case ValueBool:
		if err := need(1); err != nil {
			return ObjectValue{}, err
		}
		v.Bool = payload[0] != 0
	default:
		return ObjectValue{}, rerr.New(rerr.KindMalformedMessage, "unknown object value kind %d", v.Kind)
	}
	return v, nil
}

// Decode parses and validates a message from its wire form.
func Decode(b []byte) (*Message, error) {
	m := &Message{}
	for off := 0; off < len(b); {
		if len(b)-off < 3 {
			return nil, rerr.New(rerr.KindMalformedMessage, "truncated attribute header at offset %d", off)
		}
		tag := b[off]
		length := int(binary.BigEndian.Uint16(b[off+1 : off+3]))
		off += 3
		if len(b)-off < length {
			return nil, rerr.New(rerr.KindMalformedMessage, "attribute 0x%02x: %d value bytes, %d left", tag, length, len(b)-off)
		}
		val := b[off : off+length]
		off += length
		if err := decodeAttr(m, tag, val); err != nil {
			return nil, err
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeAttr(m *Message, tag uint8, val []byte) error {
	fixed := func(n int) error {
		if len(val) != n {
			return rerr.New(rerr.KindMalformedMessage, "attribute 0x%02x: %d bytes, want %d", tag, len(val), n)
		}
		return nil
	}
	switch tag {
	case tagOpCode:
		if err := fixed(1); err != nil {
			return err
		}
		m.OpCode = Opcode(val[0])
	case tagAbsSyntax:
		if err := fixed(4); err != nil {
			return err
		}
		m.AbsSyntax = binary.BigEndian.Uint32(val)
	case tagInvokeID:
		if err := fixed(4); err != nil {
			return err
		}
		m.InvokeID = int32(binary.BigEndian.Uint32(val))
	case tagFlags:
		if err := fixed(1); err != nil {
			return err
		}
		m.Flags = Flags(val[0])
	case tagAuthMech:
		if err := fixed(1); err != nil {
			return err
		}
		m.AuthMech = AuthType(val[0])
	case tagAuthName:
		m.AuthValue.Name = string(val)
	case tagAuthPassword:
		m.AuthValue.Password = string(val)
	case tagAuthOther:
		m.AuthValue.Other = append([]byte(nil), val...)
	case tagSrcApName:
		m.SrcApName = string(val)
	case tagSrcApInst:
		m.SrcApInstance = string(val)
	case tagSrcAeName:
		m.SrcAeName = string(val)
	case tagSrcAeInst:
		m.SrcAeInstance = string(val)
	case tagDestApName:
		m.DestApName = string(val)
	case tagDestApInst:
		m.DestApInstance = string(val)
	case tagDestAeName:
		m.DestAeName = string(val)
	case tagDestAeInst:
		m.DestAeInstance = string(val)
	case tagFilter:
		m.Filter = append([]byte(nil), val...)
	case tagObjClass:
		m.ObjClass = string(val)
	case tagObjName:
		m.ObjName = string(val)
	case tagObjInst:
		if err := fixed(8); err != nil {
			return err
		}
		m.ObjInst = int64(binary.BigEndian.Uint64(val))
	case tagObjValue:
		v, err := decodeObjectValue(val)
		if err != nil {
			return err
		}
		m.ObjValue = v
	case tagScope:
		if err := fixed(4); err != nil {
			return err
		}
		m.Scope = int32(binary.BigEndian.Uint32(val))
	case tagResult:
		if err := fixed(4); err != nil {
			return err
		}
		m.HasResult = true
		m.Result = int32(binary.BigEndian.Uint32(val))
	case tagResultReason:
		m.ResultReason = string(val)
	case tagVersion:
		if err := fixed(8); err != nil {
			return err
		}
		m.Version = int64(binary.BigEndian.Uint64(val))
	default:
		// Unknown tags are skipped for forward compatibility.
	}
	return nil
}
