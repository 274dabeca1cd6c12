package cdap

import (
	"github.com/your-org/rina-stack/common/names"
	"github.com/your-org/rina-stack/common/rerr"
)

// SessionState is the per-session connection state.
type SessionState string

const (
	SessionNull            SessionState = "NULL"
	SessionAwaitingConnect SessionState = "AWAITING_CONNECT"
	SessionEstablished     SessionState = "ESTABLISHED"
	SessionAwaitingRelease SessionState = "AWAITING_RELEASE"
)

// Session is one CDAP session, keyed by the N-1 port-id carrying it. It
// enforces the connection state machine on both the send and receive paths
// and owns the session's invoke-id manager. Sessions are single-threaded:
// all calls come from the owning event loop.
type Session struct {
	portID    int32
	state     SessionState
	peer      names.APNI
	invokeIDs *InvokeIDManager
	// outstanding maps the invoke-ids of requests this side sent and has
	// not yet seen answered.
	outstanding map[int32]Opcode
}

// NewSession builds a session in the Null state for the given N-1 port-id.
func NewSession(portID int32) *Session {
	return &Session{
		portID:      portID,
		state:       SessionNull,
		invokeIDs:   NewInvokeIDManager(),
		outstanding: make(map[int32]Opcode),
	}
}

// PortID returns the N-1 port-id the session rides on.
func (s *Session) PortID() int32 { return s.portID }

// State returns the current connection state.
func (s *Session) State() SessionState { return s.state }

// Peer returns the peer's naming information, learned from the connect
// exchange.
func (s *Session) Peer() names.APNI { return s.peer }

// InvokeIDs exposes the session's invoke-id manager.
func (s *Session) InvokeIDs() *InvokeIDManager { return s.invokeIDs }

// allowedToSend checks the state machine for an outgoing message.
func (s *Session) allowedToSend(op Opcode) error {
	switch s.state {
	case SessionNull:
		if op != MConnect {
			return rerr.New(rerr.KindInvalidStateTransition, "cannot send %s in state %s", op, s.state)
		}
	case SessionAwaitingConnect:
		if op != MConnectR {
			return rerr.New(rerr.KindInvalidStateTransition, "cannot send %s in state %s", op, s.state)
		}
	case SessionEstablished:
		// Anything goes.
	case SessionAwaitingRelease:
		if op != MReleaseR {
			return rerr.New(rerr.KindInvalidStateTransition, "cannot send %s in state %s", op, s.state)
		}
	}
	return nil
}

// EncodeNext validates the message against the session state machine and the
// field validator and returns its wire form. The session state is not
// advanced; call OnSent once the bytes are handed to the transport.
func (s *Session) EncodeNext(m *Message) ([]byte, error) {
	if err := s.allowedToSend(m.OpCode); err != nil {
		return nil, err
	}
	return Encode(m)
}

// OnSent advances the state machine after a message was handed to the
// transport and records outstanding requests.
func (s *Session) OnSent(m *Message) {
	switch m.OpCode {
	case MConnect:
		if s.state == SessionNull {
			s.state = SessionAwaitingConnect
			s.peer = m.DestinationName()
		}
	case MConnectR:
		if s.state == SessionAwaitingConnect {
			if m.Result == 0 {
				s.state = SessionEstablished
			} else {
				s.state = SessionNull
			}
		}
	case MRelease:
		if s.state == SessionEstablished {
			s.state = SessionAwaitingRelease
		}
	case MReleaseR:
		if s.state == SessionAwaitingRelease {
			s.state = SessionNull
		}
	}
	if !m.OpCode.IsResponse() && m.InvokeID != 0 && m.OpCode != MCancelRead {
		s.outstanding[m.InvokeID] = m.OpCode
	}
}

// allowedToReceive checks the state machine for an incoming message.
func (s *Session) allowedToReceive(op Opcode) error {
	switch s.state {
	case SessionNull:
		if op != MConnect {
			return rerr.New(rerr.KindInvalidStateTransition, "received %s in state %s", op, s.state)
		}
	case SessionAwaitingConnect:
		if op != MConnectR {
			return rerr.New(rerr.KindInvalidStateTransition, "received %s in state %s", op, s.state)
		}
	case SessionEstablished:
		// Anything goes.
	case SessionAwaitingRelease:
		if op != MReleaseR {
			return rerr.New(rerr.KindInvalidStateTransition, "received %s in state %s", op, s.state)
		}
	}
	return nil
}

// OnReceived decodes, validates against the state machine, and advances the
// session. Responses must match an outstanding invoke-id; their ids are
// freed on delivery. Failures leave the session state unchanged.
func (s *Session) OnReceived(b []byte) (*Message, error) {
	m, err := Decode(b)
	if err != nil {
		return nil, err
	}
	if err := s.allowedToReceive(m.OpCode); err != nil {
		return nil, err
	}

	if m.OpCode.IsResponse() && m.InvokeID != 0 {
		if _, ok := s.outstanding[m.InvokeID]; !ok {
			return nil, rerr.New(rerr.KindUnknownInvokeID, "%s with invoke-id %d matches no outstanding request", m.OpCode, m.InvokeID)
		}
		delete(s.outstanding, m.InvokeID)
		s.invokeIDs.Free(m.InvokeID)
	}
	if !m.OpCode.IsResponse() && m.InvokeID != 0 {
		// Remember the peer's id so our replies cannot collide with our
		// own allocations.
		_ = s.invokeIDs.Reserve(m.InvokeID)
	}

	switch m.OpCode {
	case MConnect:
		if s.state == SessionNull {
			s.state = SessionAwaitingConnect
			s.peer = m.SourceName()
		}
	case MConnectR:
		if s.state == SessionAwaitingConnect {
			if m.Result == 0 {
				s.state = SessionEstablished
			} else {
				s.state = SessionNull
			}
		}
	case MRelease:
		if s.state == SessionEstablished {
			s.state = SessionAwaitingRelease
		}
	case MReleaseR:
		if s.state == SessionAwaitingRelease {
			s.state = SessionNull
		}
	}
	return m, nil
}

// ReleaseInvokeID returns a peer-reserved id to the pool once the reply for
// it has been sent.
func (s *Session) ReleaseInvokeID(id int32) { s.invokeIDs.Free(id) }
