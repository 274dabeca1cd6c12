package rib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/rina-stack/common/cdap"
	"github.com/your-org/rina-stack/common/rerr"
)

// kvHandler is a minimal read/write object for tests.
type kvHandler struct {
	BaseHandler
	value cdap.ObjectValue
}

func (h *kvHandler) OnRead(string) (cdap.ObjectValue, error) { return h.value, nil }

func (h *kvHandler) OnWrite(_ string, v cdap.ObjectValue) error {
	h.value = v
	return nil
}

func TestRIB_RegisterUnique(t *testing.T) {
	r := New(zap.NewNop())

	obj, err := r.Register("OperationalStatus", PathOperationalStatus, &kvHandler{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), obj.Instance)

	// Same (class, name) twice is rejected.
	_, err = r.Register("OperationalStatus", PathOperationalStatus, &kvHandler{})
	require.Error(t, err)
	assert.Equal(t, rerr.KindObjectAlreadyExists, rerr.KindOf(err))

	// Same path under another class is rejected too: one path, one object.
	_, err = r.Register("SomethingElse", PathOperationalStatus, &kvHandler{})
	require.Error(t, err)

	// Instances are unique.
	obj2, err := r.Register("Neighbors", PathNeighbors, &kvHandler{})
	require.NoError(t, err)
	assert.NotEqual(t, obj.Instance, obj2.Instance)
}

func TestRIB_DispatchReadWrite(t *testing.T) {
	r := New(zap.NewNop())
	h := &kvHandler{value: cdap.StringValue("STOPPED")}
	_, err := r.Register("OperationalStatus", PathOperationalStatus, h)
	require.NoError(t, err)

	// Read by (class, name).
	read := &cdap.Message{
		OpCode:   cdap.MRead,
		InvokeID: 1,
		ObjClass: "OperationalStatus",
		ObjName:  PathOperationalStatus,
	}
	reply, err := r.Dispatch(read)
	require.NoError(t, err)
	assert.Equal(t, cdap.MReadR, reply.OpCode)
	assert.Zero(t, reply.Result)
	assert.Equal(t, "STOPPED", reply.ObjValue.Str)

	// Write then read back.
	write := &cdap.Message{
		OpCode:   cdap.MWrite,
		InvokeID: 2,
		ObjClass: "OperationalStatus",
		ObjName:  PathOperationalStatus,
		ObjValue: cdap.StringValue("STARTED"),
	}
	reply, err = r.Dispatch(write)
	require.NoError(t, err)
	assert.Zero(t, reply.Result)
	assert.Equal(t, cdap.StringValue("STARTED"), h.value)
}

func TestRIB_DispatchByInstance(t *testing.T) {
	r := New(zap.NewNop())
	h := &kvHandler{value: cdap.Int32Value(7)}
	obj, err := r.Register("Neighbors", PathNeighbors, h)
	require.NoError(t, err)

	read := &cdap.Message{OpCode: cdap.MRead, InvokeID: 1, ObjInst: obj.Instance}
	reply, err := r.Dispatch(read)
	require.NoError(t, err)
	assert.Zero(t, reply.Result)
	assert.Equal(t, int64(7), reply.ObjValue.Int)
}

func TestRIB_DispatchUnknownObject(t *testing.T) {
	r := New(zap.NewNop())

	read := &cdap.Message{OpCode: cdap.MRead, InvokeID: 1, ObjClass: "Nope", ObjName: "/no/such/thing"}
	reply, err := r.Dispatch(read)
	require.NoError(t, err)
	assert.Equal(t, rerr.KindUnknownObjectName.Code(), reply.Result)
	assert.NotEmpty(t, reply.ResultReason)
}

func TestRIB_DispatchWrongClass(t *testing.T) {
	r := New(zap.NewNop())
	_, err := r.Register("OperationalStatus", PathOperationalStatus, &kvHandler{})
	require.NoError(t, err)

	read := &cdap.Message{OpCode: cdap.MRead, InvokeID: 1, ObjClass: "Wrong", ObjName: PathOperationalStatus}
	reply, err := r.Dispatch(read)
	require.NoError(t, err)
	assert.Equal(t, rerr.KindUnknownObjectClass.Code(), reply.Result)
}

func TestRIB_DispatchOperationNotAllowed(t *testing.T) {
	r := New(zap.NewNop())
	_, err := r.Register("OperationalStatus", PathOperationalStatus, &kvHandler{})
	require.NoError(t, err)

	del := &cdap.Message{OpCode: cdap.MDelete, InvokeID: 3, ObjClass: "OperationalStatus", ObjName: PathOperationalStatus}
	reply, err := r.Dispatch(del)
	require.NoError(t, err)
	assert.Equal(t, rerr.KindOperationNotAllowed.Code(), reply.Result)
}

// subtreeHandler records creates addressed to children of its node.
type subtreeHandler struct {
	BaseHandler
	created []string
}

func (h *subtreeHandler) OnCreate(name string, _ cdap.ObjectValue) (cdap.ObjectValue, error) {
	h.created = append(h.created, name)
	return cdap.ObjectValue{}, nil
}

func TestRIB_DispatchToSubtree(t *testing.T) {
	r := New(zap.NewNop())
	h := &subtreeHandler{}
	_, err := r.Register("Flow", PathFlows, h)
	require.NoError(t, err)

	create := &cdap.Message{
		OpCode:   cdap.MCreate,
		InvokeID: 4,
		ObjClass: "Flow",
		ObjName:  PathFlows + "/app1-app2",
		ObjValue: cdap.BytesValue([]byte{1}),
	}
	reply, err := r.Dispatch(create)
	require.NoError(t, err)
	assert.Zero(t, reply.Result)
	require.Len(t, h.created, 1)
	assert.Equal(t, PathFlows+"/app1-app2", h.created[0])
}

func TestRIB_Dump(t *testing.T) {
	r := New(zap.NewNop())
	_, err := r.Register("Neighbors", PathNeighbors, &kvHandler{})
	require.NoError(t, err)
	_, err = r.Register("OperationalStatus", PathOperationalStatus, &kvHandler{})
	require.NoError(t, err)

	all := r.Dump("")
	require.Len(t, all, 2)
	assert.Equal(t, PathOperationalStatus, all[0].Name, "sorted by path")

	difOnly := r.Dump("/dif/")
	require.Len(t, difOnly, 1)
	assert.Equal(t, PathNeighbors, difOnly[0].Name)
}
