package context

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/rina-stack/common/dif"
	"github.com/your-org/rina-stack/common/names"
	"github.com/your-org/rina-stack/common/rerr"
)

func newCtx(t *testing.T) *IPCPContext {
	t.Helper()
	return New(1, names.New("rina.ipcp.a", "1", "", ""), zap.NewNop())
}

func difInfo() dif.Information {
	return dif.Information{
		Type:          dif.TypeNormal,
		Name:          names.New("rina.dif.test", "", "", ""),
		Configuration: dif.Configuration{Address: 1},
	}
}

func TestLifecycle(t *testing.T) {
	c := newCtx(t)
	assert.Equal(t, StateCreated, c.State())

	// Assignment is only legal from Initialized.
	err := c.SetAssigned(difInfo())
	require.Error(t, err)
	assert.Equal(t, rerr.KindInvalidStateTransition, rerr.KindOf(err))

	require.NoError(t, c.SetInitialized())
	require.NoError(t, c.SetAssigned(difInfo()))
	assert.Equal(t, StateAssigned, c.State())

	info, err := c.DIFInfo()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), info.Configuration.Address)

	require.NoError(t, c.SetEnrolled())
	assert.Equal(t, StateEnrolled, c.State())
}

func TestRollbackAssignment(t *testing.T) {
	c := newCtx(t)
	require.NoError(t, c.SetInitialized())
	require.NoError(t, c.SetAssigned(difInfo()))

	c.RollbackAssignment()
	assert.Equal(t, StateInitialized, c.State())

	_, err := c.DIFInfo()
	require.Error(t, err)
	assert.Equal(t, rerr.KindNotAMemberOfDIF, rerr.KindOf(err))
}

func TestRegisterApp(t *testing.T) {
	c := newCtx(t)
	app := names.New("app1", "1", "", "")

	require.NoError(t, c.RegisterApp(app))
	assert.True(t, c.IsRegistered(app))

	err := c.RegisterApp(app)
	require.Error(t, err)
	assert.Equal(t, rerr.KindAlreadyRegistered, rerr.KindOf(err))

	require.NoError(t, c.UnregisterApp(app))
	assert.False(t, c.IsRegistered(app))

	err = c.UnregisterApp(app)
	require.Error(t, err)
	assert.Equal(t, rerr.KindNotRegistered, rerr.KindOf(err))
}

func TestNeighbors(t *testing.T) {
	c := newCtx(t)
	nb := dif.Neighbor{
		Name:             names.New("rina.ipcp.b", "1", "", ""),
		Address:          2,
		Enrolled:         true,
		UnderlyingPortID: 7,
	}
	c.UpsertNeighbor(nb)

	port, ok := c.PortForAddress(2)
	require.True(t, ok)
	assert.Equal(t, int32(7), port)

	// Address of a non-enrolled neighbor does not resolve.
	stored, ok := c.Neighbor(nb.Name)
	require.True(t, ok)
	stored.Enrolled = false
	_, ok = c.PortForAddress(2)
	assert.False(t, ok)

	c.NeighborHeard(nb.Name, time.Unix(100, 0))
	stored, _ = c.Neighbor(nb.Name)
	assert.Equal(t, time.Unix(100, 0), stored.LastHeardFrom)

	c.RemoveNeighbor(nb.Name)
	_, ok = c.Neighbor(nb.Name)
	assert.False(t, ok)
}

func TestDirectory(t *testing.T) {
	c := newCtx(t)
	app := names.New("app2", "1", "", "")

	_, ok := c.ResolveApp(app)
	assert.False(t, ok)

	c.SetDirectoryEntry(app, 2)
	addr, ok := c.ResolveApp(app)
	require.True(t, ok)
	assert.Equal(t, uint32(2), addr)

	c.RemoveDirectoryEntry(app)
	_, ok = c.ResolveApp(app)
	assert.False(t, ok)
}
