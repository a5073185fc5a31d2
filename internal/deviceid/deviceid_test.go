package deviceid

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	id, err := Static("device-1").CurrentDeviceID()
	require.NoError(t, err)
	assert.Equal(t, "device-1", id)

	_, err = Static("").CurrentDeviceID()
	assert.Error(t, err)
}

func TestProvider_CachesResolution(t *testing.T) {
	p := New(filepath.Join(t.TempDir(), "device-id"))

	id1, err := p.CurrentDeviceID()
	require.NoError(t, err)
	assert.NotEmpty(t, id1)

	id2, err := p.CurrentDeviceID()
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestProvider_PersistedFallbackIsStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device-id")

	p1 := New(path)
	id1, err := p1.persistedID()
	require.NoError(t, err)
	assert.NotEmpty(t, id1)

	// A second provider over the same path reads the generated identifier.
	p2 := New(path)
	id2, err := p2.persistedID()
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}
