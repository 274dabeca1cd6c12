package cdap

import (
	"github.com/your-org/rina-stack/common/rerr"
)

// SessionManager owns every CDAP session of one IPC process, keyed by the
// N-1 port-id the session rides on. Like the sessions themselves it is
// confined to the IPCP's event-loop thread.
type SessionManager struct {
	sessions map[int32]*Session
	// AbsSyntax is the abstract-syntax version the manager was built with;
	// the manager does not stamp it on messages itself.
	AbsSyntax uint32
}

// NewSessionManager builds an empty manager.
func NewSessionManager(absSyntax uint32) *SessionManager {
	return &SessionManager{
		sessions:  make(map[int32]*Session),
		AbsSyntax: absSyntax,
	}
}

// Get returns the session on the given port-id, or nil.
func (sm *SessionManager) Get(portID int32) *Session {
	return sm.sessions[portID]
}

// GetOrCreate returns the session on the given port-id, creating it in the
// Null state if needed.
func (sm *SessionManager) GetOrCreate(portID int32) *Session {
	if s, ok := sm.sessions[portID]; ok {
		return s
	}
	s := NewSession(portID)
	sm.sessions[portID] = s
	return s
}

// Remove drops the session on the given port-id, typically when the N-1
// flow is deallocated.
func (sm *SessionManager) Remove(portID int32) {
	delete(sm.sessions, portID)
}

// PortIDs lists the port-ids with a session.
func (sm *SessionManager) PortIDs() []int32 {
	out := make([]int32, 0, len(sm.sessions))
	for id := range sm.sessions {
		out = append(out, id)
	}
	return out
}

// EncodeNext validates and serializes a message for the session on portID.
func (sm *SessionManager) EncodeNext(portID int32, m *Message) ([]byte, error) {
	s := sm.Get(portID)
	if s == nil {
		return nil, rerr.New(rerr.KindChannelClosed, "no CDAP session on port-id %d", portID)
	}
	return s.EncodeNext(m)
}

// OnReceived decodes and applies an incoming frame on the session on portID,
// creating the session in the Null state if none exists yet, whatever the
// frame.
func (sm *SessionManager) OnReceived(portID int32, b []byte) (*Message, error) {
	return sm.GetOrCreate(portID).OnReceived(b)
}
