package ctrl

import (
	"encoding/binary"
	"io"

	"github.com/your-org/rina-stack/common/rerr"
)

// headerSize is the fixed record header: sequence number (u32), source and
// destination ipcp-id (u16 each), destination port (u32), message type
// (u16), flags (u16).
const headerSize = 16

// maxRecordSize bounds one record on the wire. Oversized length prefixes
// are treated as stream corruption.
const maxRecordSize = 1 << 20

// Header is the fixed part of every control-channel record.
type Header struct {
	SequenceNumber    uint32
	SourceIPCPID      uint16
	DestinationIPCPID uint16
	DestinationPort   uint32
	Type              MsgType
	Flags             HeaderFlags
}

// Message is one decoded control-channel record.
type Message struct {
	Header  Header
	Payload Payload
}

// Encode serializes a record: a u32 length prefix, the fixed header, then
// the payload's attribute block.
func Encode(m *Message) ([]byte, error) {
	if m.Payload == nil {
		return nil, rerr.New(rerr.KindMalformedMessage, "record without payload")
	}
	if m.Header.Type != m.Payload.MessageType() {
		return nil, rerr.New(rerr.KindMalformedMessage,
			"header type %s does not match payload type %s", m.Header.Type, m.Payload.MessageType())
	}

	var w attrWriter
	m.Payload.encode(&w)

	total := headerSize + len(w.buf)
	out := make([]byte, 0, 4+total)
	out = binary.BigEndian.AppendUint32(out, uint32(total))
	out = binary.BigEndian.AppendUint32(out, m.Header.SequenceNumber)
	out = binary.BigEndian.AppendUint16(out, m.Header.SourceIPCPID)
	out = binary.BigEndian.AppendUint16(out, m.Header.DestinationIPCPID)
	out = binary.BigEndian.AppendUint32(out, m.Header.DestinationPort)
	out = binary.BigEndian.AppendUint16(out, uint16(m.Header.Type))
	out = binary.BigEndian.AppendUint16(out, uint16(m.Header.Flags))
	out = append(out, w.buf...)
	return out, nil
}

// decodeBody parses the header and payload of a record body (after the
// length prefix has been stripped).
func decodeBody(b []byte) (*Message, error) {
	if len(b) < headerSize {
		return nil, rerr.New(rerr.KindMalformedMessage, "record body of %d bytes, want at least %d", len(b), headerSize)
	}
	m := &Message{
		Header: Header{
			SequenceNumber:    binary.BigEndian.Uint32(b[0:4]),
			SourceIPCPID:      binary.BigEndian.Uint16(b[4:6]),
			DestinationIPCPID: binary.BigEndian.Uint16(b[6:8]),
			DestinationPort:   binary.BigEndian.Uint32(b[8:12]),
			Type:              MsgType(binary.BigEndian.Uint16(b[12:14])),
			Flags:             HeaderFlags(binary.BigEndian.Uint16(b[14:16])),
		},
	}
	payload, err := newPayload(m.Header.Type)
	if err != nil {
		return nil, err
	}
	attrs, err := parseAttrs(b[headerSize:])
	if err != nil {
		return nil, err
	}
	if err := payload.decode(attrs); err != nil {
		return nil, err
	}
	m.Payload = payload
	return m, nil
}

// Decode parses a full record including its length prefix.
func Decode(b []byte) (*Message, error) {
	if len(b) < 4 {
		return nil, rerr.New(rerr.KindMalformedMessage, "record of %d bytes", len(b))
	}
	total := binary.BigEndian.Uint32(b[0:4])
	if int(total) != len(b)-4 {
		return nil, rerr.New(rerr.KindMalformedMessage, "length prefix %d, body %d", total, len(b)-4)
	}
	return decodeBody(b[4:])
}

// WriteRecord encodes and writes one record to the stream.
func WriteRecord(w io.Writer, m *Message) error {
	b, err := Encode(m)
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return rerr.Wrap(rerr.KindWriteFailed, err, "control channel write")
	}
	return nil
}

// ReadRecord reads and decodes the next record from the stream. io.EOF is
// passed through untouched so callers can tell orderly shutdown apart from
// corruption.
func ReadRecord(r io.Reader) (*Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, rerr.Wrap(rerr.KindReadFailed, err, "control channel read")
	}
	total := binary.BigEndian.Uint32(lenBuf[:])
	if total < headerSize || total > maxRecordSize {
		return nil, rerr.New(rerr.KindMalformedMessage, "record length %d out of bounds", total)
	}
	body := make([]byte, total)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, rerr.Wrap(rerr.KindReadFailed, err, "control channel read")
	}
	return decodeBody(body)
}
