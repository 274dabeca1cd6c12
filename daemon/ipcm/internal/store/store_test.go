package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/rina-stack/common/dif"
	"github.com/your-org/rina-stack/common/names"
	"github.com/your-org/rina-stack/common/qos"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ipcm.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDIFTemplates(t *testing.T) {
	s := openTestStore(t)

	info := dif.Information{
		Type: dif.TypeNormal,
		Name: names.New("rina.dif.test", "", "", ""),
		Configuration: dif.Configuration{
			Address: 1,
			QoSCubes: []qos.Cube{
				{ID: 0, Name: "unreliable", FlowSpecification: qos.FlowSpecification{MaxAllowableGap: -1}},
			},
		},
	}
	require.NoError(t, s.PutDIFTemplate("normal.dif", info))

	got, err := s.GetDIFTemplate("normal.dif")
	require.NoError(t, err)
	assert.Equal(t, info.Name, got.Name)
	assert.Len(t, got.Configuration.QoSCubes, 1)

	templates, err := s.ListDIFTemplates()
	require.NoError(t, err)
	assert.Equal(t, []string{"normal.dif"}, templates)

	require.NoError(t, s.DeleteDIFTemplate("normal.dif"))
	_, err = s.GetDIFTemplate("normal.dif")
	assert.Error(t, err)
}

func TestIPCPLayouts(t *testing.T) {
	s := openTestStore(t)

	layout := IPCPLayout{
		ProcessName:     "rina.ipcp.a",
		ProcessInstance: "1",
		Type:            "normal",
		DIFTemplate:     "normal.dif",
	}
	require.NoError(t, s.PutIPCPLayout("rina.ipcp.a|1", layout))

	layouts, err := s.ListIPCPLayouts()
	require.NoError(t, err)
	require.Len(t, layouts, 1)
	assert.Equal(t, layout, layouts["rina.ipcp.a|1"])

	require.NoError(t, s.DeleteIPCPLayout("rina.ipcp.a|1"))
	layouts, err = s.ListIPCPLayouts()
	require.NoError(t, err)
	assert.Empty(t, layouts)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ipcm.db")

	s, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.PutDIFTemplate("keep", dif.Information{Type: dif.TypeNormal}))
	require.NoError(t, s.Close())

	s2, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	defer s2.Close()
	got, err := s2.GetDIFTemplate("keep")
	require.NoError(t, err)
	assert.Equal(t, dif.TypeNormal, got.Type)
}
