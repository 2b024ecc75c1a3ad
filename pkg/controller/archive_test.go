package controller

import (
	"archive/tar"
	"bytes"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeHostileArchive builds a gzipped tar with a single entry under an
// attacker-chosen path.
func writeHostileArchive(t *testing.T, buf *bytes.Buffer, name string) {
	t.Helper()
	gz := gzip.NewWriter(buf)
	tw := tar.NewWriter(gz)
	payload := []byte("owned")
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: name,
		Mode: 0o600,
		Size: int64(len(payload)),
	}))
	_, err := tw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
}

func TestSafeArchivePath(t *testing.T) {
	for _, name := range []string{"project.gns3", "project-files/vm/disk.qcow2"} {
		_, ok := safeArchivePath(name)
		assert.True(t, ok, name)
	}
	for _, name := range []string{"/etc/passwd", "../outside", "a/../../b", ".."} {
		_, ok := safeArchivePath(name)
		assert.False(t, ok, name)
	}
}
