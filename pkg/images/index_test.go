package images

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	index, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })
	return index
}

func TestRecordAndList(t *testing.T) {
	index := openTestIndex(t)

	require.NoError(t, index.Record("c1", "qemu", "ubuntu.qcow2", "abc123", 1024))
	require.NoError(t, index.Record("c1", "dynamips", "c7200.image", "def456", 2048))
	require.NoError(t, index.Record("c2", "qemu", "other.qcow2", "fff000", 512))

	images, err := index.List("c1")
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, "dynamips", images[0].Emulator)
	assert.Equal(t, "c7200.image", images[0].Filename)
	assert.Equal(t, "abc123", images[1].Checksum)
	assert.Equal(t, int64(1024), images[1].Size)
}

func TestRecordReplaces(t *testing.T) {
	index := openTestIndex(t)

	require.NoError(t, index.Record("c1", "qemu", "ubuntu.qcow2", "old", 1))
	require.NoError(t, index.Record("c1", "qemu", "ubuntu.qcow2", "new", 2))

	images, err := index.List("c1")
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "new", images[0].Checksum)
}

func TestForget(t *testing.T) {
	index := openTestIndex(t)

	require.NoError(t, index.Record("c1", "qemu", "a.qcow2", "x", 1))
	require.NoError(t, index.Record("c2", "qemu", "b.qcow2", "y", 1))
	require.NoError(t, index.Forget("c1"))

	images, err := index.List("c1")
	require.NoError(t, err)
	assert.Empty(t, images)

	images, err = index.List("c2")
	require.NoError(t, err)
	assert.Len(t, images, 1)
}
