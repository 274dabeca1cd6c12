package cdap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/rina-stack/common/rerr"
)

func connectMsg(invokeID int32) *Message {
	return &Message{
		OpCode:     MConnect,
		AbsSyntax:  1,
		InvokeID:   invokeID,
		SrcApName:  "ipcp.a",
		DestApName: "ipcp.b",
	}
}

// encodeFor builds the wire form of a message as the peer would send it,
// without going through the local session.
func encodeFor(t *testing.T, m *Message) []byte {
	t.Helper()
	b, err := Encode(m)
	require.NoError(t, err)
	return b
}

func TestSession_HappyPath(t *testing.T) {
	s := NewSession(11)
	assert.Equal(t, SessionNull, s.State())

	// M_CONNECT out.
	conn := connectMsg(1)
	_, err := s.EncodeNext(conn)
	require.NoError(t, err)
	s.OnSent(conn)
	assert.Equal(t, SessionAwaitingConnect, s.State())

	// M_CONNECT_R in, result 0.
	connR := &Message{OpCode: MConnectR, InvokeID: 1, HasResult: true, Result: 0}
	_, err = s.OnReceived(encodeFor(t, connR))
	require.NoError(t, err)
	assert.Equal(t, SessionEstablished, s.State())

	// M_CREATE out / M_CREATE_R in.
	create := &Message{
		OpCode:   MCreate,
		InvokeID: 2,
		ObjClass: "Flow",
		ObjName:  "/dif/resourceallocation/flowallocator/flows/k",
		ObjValue: BytesValue([]byte{1}),
	}
	_, err = s.EncodeNext(create)
	require.NoError(t, err)
	s.OnSent(create)

	createR := &Message{OpCode: MCreateR, InvokeID: 2, HasResult: true, Result: 0, ObjClass: "Flow", ObjName: create.ObjName}
	_, err = s.OnReceived(encodeFor(t, createR))
	require.NoError(t, err)
	assert.Equal(t, SessionEstablished, s.State())

	// M_RELEASE out / M_RELEASE_R in drives the session back to Null.
	rel := &Message{OpCode: MRelease, InvokeID: 3}
	_, err = s.EncodeNext(rel)
	require.NoError(t, err)
	s.OnSent(rel)
	assert.Equal(t, SessionAwaitingRelease, s.State())

	relR := &Message{OpCode: MReleaseR, InvokeID: 3, HasResult: true, Result: 0}
	_, err = s.OnReceived(encodeFor(t, relR))
	require.NoError(t, err)
	assert.Equal(t, SessionNull, s.State())
}

func TestSession_RejectsOutOfState(t *testing.T) {
	s := NewSession(11)

	// Only M_CONNECT may be sent from Null.
	create := &Message{OpCode: MCreate, InvokeID: 1, ObjClass: "c", ObjName: "n", ObjValue: BoolValue(true)}
	_, err := s.EncodeNext(create)
	require.Error(t, err)
	assert.Equal(t, rerr.KindInvalidStateTransition, rerr.KindOf(err))
	assert.Equal(t, SessionNull, s.State(), "failed send leaves the state unchanged")

	// Receiving a non-connect in Null is rejected too.
	_, err = s.OnReceived(encodeFor(t, &Message{OpCode: MRead, InvokeID: 1, ObjInst: 4}))
	require.Error(t, err)
	assert.Equal(t, rerr.KindInvalidStateTransition, rerr.KindOf(err))
	assert.Equal(t, SessionNull, s.State())
}

func TestSession_ResponderPath(t *testing.T) {
	s := NewSession(12)

	// Incoming M_CONNECT.
	in, err := s.OnReceived(encodeFor(t, connectMsg(1)))
	require.NoError(t, err)
	assert.Equal(t, SessionAwaitingConnect, s.State())
	assert.Equal(t, "ipcp.a", s.Peer().ProcessName)

	// Reply accepting the connection.
	resp, err := in.Reply()
	require.NoError(t, err)
	_, err = s.EncodeNext(resp)
	require.NoError(t, err)
	s.OnSent(resp)
	assert.Equal(t, SessionEstablished, s.State())

	// Incoming M_RELEASE moves to AwaitingRelease; sending M_RELEASE_R
	// closes the session.
	rel, err := s.OnReceived(encodeFor(t, &Message{OpCode: MRelease, InvokeID: 2}))
	require.NoError(t, err)
	assert.Equal(t, SessionAwaitingRelease, s.State())

	relR, err := rel.Reply()
	require.NoError(t, err)
	_, err = s.EncodeNext(relR)
	require.NoError(t, err)
	s.OnSent(relR)
	assert.Equal(t, SessionNull, s.State())
}

func TestSession_UnknownInvokeID(t *testing.T) {
	s := NewSession(13)

	conn := connectMsg(1)
	_, err := s.EncodeNext(conn)
	require.NoError(t, err)
	s.OnSent(conn)

	// A response whose invoke-id matches nothing outstanding is rejected.
	_, err = s.OnReceived(encodeFor(t, &Message{OpCode: MConnectR, InvokeID: 9, HasResult: true}))
	require.Error(t, err)
	assert.Equal(t, rerr.KindUnknownInvokeID, rerr.KindOf(err))
}

func TestSession_DuplicateResponseRejected(t *testing.T) {
	s := NewSession(14)

	conn := connectMsg(1)
	_, err := s.EncodeNext(conn)
	require.NoError(t, err)
	s.OnSent(conn)

	b := encodeFor(t, &Message{OpCode: MConnectR, InvokeID: 1, HasResult: true})
	_, err = s.OnReceived(b)
	require.NoError(t, err)

	// The same response again: the invoke-id was consumed, so it matches no
	// outstanding request (Established itself admits any opcode).
	_, err = s.OnReceived(b)
	require.Error(t, err)
}

func TestSessionManager(t *testing.T) {
	sm := NewSessionManager(1)

	s := sm.GetOrCreate(7)
	assert.Same(t, s, sm.Get(7))
	assert.Same(t, s, sm.GetOrCreate(7))

	_, err := sm.EncodeNext(8, connectMsg(1))
	require.Error(t, err)
	assert.Equal(t, rerr.KindChannelClosed, rerr.KindOf(err))

	sm.Remove(7)
	assert.Nil(t, sm.Get(7))
}
