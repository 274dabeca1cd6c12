// Package cdap implements the Common Distributed Application Protocol: the
// message set and validator, the field-tagged wire codec, the invoke-id
// manager and the per-session state machine.
package cdap

import (
	"fmt"

	"github.com/your-org/rina-stack/common/names"
	"github.com/your-org/rina-stack/common/rerr"
)

// Opcode identifies a CDAP operation.
type Opcode uint8

const (
	OpNone Opcode = iota
	MConnect
	MConnectR
	MRelease
	MReleaseR
	MCreate
	MCreateR
	MDelete
	MDeleteR
	MRead
	MReadR
	MCancelRead
	MCancelReadR
	MWrite
	MWriteR
	MStart
	MStartR
	MStop
	MStopR
)

var opcodeNames = map[Opcode]string{
	OpNone:       "NONE",
	MConnect:     "M_CONNECT",
	MConnectR:    "M_CONNECT_R",
	MRelease:     "M_RELEASE",
	MReleaseR:    "M_RELEASE_R",
	MCreate:      "M_CREATE",
	MCreateR:     "M_CREATE_R",
	MDelete:      "M_DELETE",
	MDeleteR:     "M_DELETE_R",
	MRead:        "M_READ",
	MReadR:       "M_READ_R",
	MCancelRead:  "M_CANCELREAD",
	MCancelReadR: "M_CANCELREAD_R",
	MWrite:       "M_WRITE",
	MWriteR:      "M_WRITE_R",
	MStart:       "M_START",
	MStartR:      "M_START_R",
	MStop:        "M_STOP",
	MStopR:       "M_STOP_R",
}

// String returns the protocol name of the opcode.
func (o Opcode) String() string {
	if s, ok := opcodeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("opcode(%d)", uint8(o))
}

// IsResponse reports whether the opcode is one of the *_R forms.
func (o Opcode) IsResponse() bool {
	switch o {
	case MConnectR, MReleaseR, MCreateR, MDeleteR, MReadR, MCancelReadR, MWriteR, MStartR, MStopR:
		return true
	}
	return false
}

// ResponseOf returns the paired response opcode for a request. OpNone is
// returned for opcodes that are already responses.
func (o Opcode) ResponseOf() Opcode {
	switch o {
	case MConnect:
		return MConnectR
	case MRelease:
		return MReleaseR
	case MCreate:
		return MCreateR
	case MDelete:
		return MDeleteR
	case MRead:
		return MReadR
	case MCancelRead:
		return MCancelReadR
	case MWrite:
		return MWriteR
	case MStart:
		return MStartR
	case MStop:
		return MStopR
	}
	return OpNone
}

// AuthType enumerates the authentication mechanisms of M_CONNECT. Values are
// carried opaque; no mechanism is implemented here.
type AuthType uint8

const (
	AuthNone AuthType = iota
	AuthPassword
	AuthSSHRSA
	AuthSSHDSA
)

// AuthValue carries the credentials of the selected mechanism.
type AuthValue struct {
	Name     string
	Password string
	Other    []byte
}

// Flags qualifies a message.
type Flags uint8

const (
	FlagsNone Flags = iota
	FlagSync
	FlagReadIncomplete
)

// ValueKind discriminates the ObjectValue union.
type ValueKind uint8

const (
	ValueNone ValueKind = iota
	ValueInt32
	ValueInt64
	ValueUint32
	ValueUint64
	ValueString
	ValueBytes
	ValueFloat32
	ValueFloat64
	ValueBool
)

// ObjectValue is the discriminated union carried in the object-value field.
type ObjectValue struct {
	Kind  ValueKind
	Int   int64
	Uint  uint64
	Str   string
	Bytes []byte
	Float float64
	Bool  bool
}

// IsZero reports whether no value is carried.
func (v ObjectValue) IsZero() bool { return v.Kind == ValueNone }

// Int32Value builds an int32 object value.
func Int32Value(i int32) ObjectValue { return ObjectValue{Kind: ValueInt32, Int: int64(i)} }

// Int64Value builds an int64 object value.
func Int64Value(i int64) ObjectValue { return ObjectValue{Kind: ValueInt64, Int: i} }

// StringValue builds a string object value.
func StringValue(s string) ObjectValue { return ObjectValue{Kind: ValueString, Str: s} }

// BytesValue builds an opaque-bytes object value.
func BytesValue(b []byte) ObjectValue { return ObjectValue{Kind: ValueBytes, Bytes: b} }

// BoolValue builds a boolean object value.
func BoolValue(b bool) ObjectValue { return ObjectValue{Kind: ValueBool, Bool: b} }

// Message is one CDAP message. Optional string fields are present when
// non-empty; ObjInst is present when non-zero; HasResult marks presence of
// the result field (responses only).
type Message struct {
	OpCode         Opcode
	AbsSyntax      uint32
	InvokeID       int32
	Flags          Flags
	AuthMech       AuthType
	AuthValue      AuthValue
	SrcApName      string
	SrcApInstance  string
	SrcAeName      string
	SrcAeInstance  string
	DestApName     string
	DestApInstance string
	DestAeName     string
	DestAeInstance string
	Filter         []byte
	ObjClass       string
	ObjName        string
	ObjInst        int64
	ObjValue       ObjectValue
	Scope          int32
	HasResult      bool
	Result         int32
	ResultReason   string
	Version        int64
}

// SourceName returns the source naming attributes as an APNI.
func (m *Message) SourceName() names.APNI {
	return names.New(m.SrcApName, m.SrcApInstance, m.SrcAeName, m.SrcAeInstance)
}

// DestinationName returns the destination naming attributes as an APNI.
func (m *Message) DestinationName() names.APNI {
	return names.New(m.DestApName, m.DestApInstance, m.DestAeName, m.DestAeInstance)
}

// SetResult marks the result field present with the given code and reason.
func (m *Message) SetResult(code int32, reason string) {
	m.HasResult = true
	m.Result = code
	m.ResultReason = reason
}

// Reply builds the response to a request: every field is copied except the
// opcode (paired response), result (0) and result reason (empty).
func (m *Message) Reply() (*Message, error) {
	if m.OpCode.IsResponse() {
		return nil, rerr.New(rerr.KindInvalidField, "%s is not a request", m.OpCode)
	}
	resp := m.OpCode.ResponseOf()
	if resp == OpNone {
		return nil, rerr.New(rerr.KindInvalidField, "%s has no response form", m.OpCode)
	}
	r := *m
	r.OpCode = resp
	r.HasResult = true
	r.Result = 0
	r.ResultReason = ""
	r.Filter = append([]byte(nil), m.Filter...)
	r.ObjValue.Bytes = append([]byte(nil), m.ObjValue.Bytes...)
	return &r, nil
}

// Validate checks the opcode-dependent field requirements. It is applied on
// both the send and the receive path.
func (m *Message) Validate() error {
	if m.OpCode == OpNone || opcodeNames[m.OpCode] == "" {
		return rerr.New(rerr.KindMalformedMessage, "missing or unknown opcode")
	}
	if m.OpCode.IsResponse() {
		if !m.HasResult {
			return rerr.New(rerr.KindRequiredFieldMissing, "%s without result", m.OpCode)
		}
	} else if m.HasResult {
		return rerr.New(rerr.KindInvalidField, "result set on request %s", m.OpCode)
	}

	switch m.OpCode {
	case MConnect:
		if m.AbsSyntax == 0 {
			return rerr.New(rerr.KindRequiredFieldMissing, "M_CONNECT without abstract syntax")
		}
		if m.SrcApName == "" {
			return rerr.New(rerr.KindRequiredFieldMissing, "M_CONNECT without source AP name")
		}
		if m.DestApName == "" {
			return rerr.New(rerr.KindRequiredFieldMissing, "M_CONNECT without destination AP name")
		}
		if m.InvokeID == 0 {
			return rerr.New(rerr.KindRequiredFieldMissing, "M_CONNECT without invoke-id")
		}
	case MConnectR:
		if m.InvokeID == 0 {
			return rerr.New(rerr.KindRequiredFieldMissing, "M_CONNECT_R without invoke-id")
		}
	case MRelease:
		if m.InvokeID == 0 {
			return rerr.New(rerr.KindRequiredFieldMissing, "M_RELEASE without invoke-id")
		}
	case MCreate, MWrite:
		if err := m.requireObjectRef(); err != nil {
			return err
		}
		if m.ObjValue.IsZero() {
			return rerr.New(rerr.KindObjectValueNull, "%s without object value", m.OpCode)
		}
	case MDelete, MRead, MStart, MStop:
		if err := m.requireObjectRef(); err != nil {
			return err
		}
	case MCancelRead, MCancelReadR:
		if m.InvokeID == 0 {
			return rerr.New(rerr.KindRequiredFieldMissing, "%s without the invoke-id being cancelled", m.OpCode)
		}
	}

	if m.OpCode.IsResponse() && m.InvokeID == 0 {
		return rerr.New(rerr.KindRequiredFieldMissing, "%s without invoke-id", m.OpCode)
	}
	return nil
}

// requireObjectRef enforces the "class+name or instance" addressing rule.
func (m *Message) requireObjectRef() error {
	if m.ObjInst != 0 {
		return nil
	}
	if m.ObjClass == "" {
		return rerr.New(rerr.KindRequiredFieldMissing, "%s without object class or instance", m.OpCode)
	}
	if m.ObjName == "" {
		return rerr.New(rerr.KindRequiredFieldMissing, "%s without object name or instance", m.OpCode)
	}
	return nil
}
