package names

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPNI_Validate(t *testing.T) {
	tests := []struct {
		name    string
		apni    APNI
		wantErr bool
	}{
		{"full name", New("rina.apps.echo", "1", "mgmt", "2"), false},
		{"process name only", New("rina.apps.echo", "", "", ""), false},
		{"empty process name", New("", "1", "", ""), true},
		{"reserved separator", New("bad|name", "", "", ""), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.apni.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAPNI_KeyRoundTrip(t *testing.T) {
	a := New("rina.ipcp.normal", "1", "enrollment", "")

	parsed, err := ParseKey(a.Key())
	require.NoError(t, err)
	assert.True(t, a.Equal(parsed))

	_, err = ParseKey("not-a-key")
	assert.Error(t, err)
}

func TestAPNI_Equal(t *testing.T) {
	a := New("app", "1", "", "")
	b := New("app", "1", "", "")
	c := New("app", "2", "", "")

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestAPNI_String(t *testing.T) {
	assert.Equal(t, "app-1-ae", New("app", "1", "ae", "").String())
	assert.Equal(t, "app", New("app", "", "", "").String())
}
