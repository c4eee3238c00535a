package stage

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
}

func md5Hex(contents string) string {
	sum := md5.Sum([]byte(contents))
	return hex.EncodeToString(sum[:])
}

func TestMoveAndClean_MovesDirectoryIntoFinalDir(t *testing.T) {
	root := t.TempDir()
	staging := filepath.Join(root, "staging", "SRR000001")
	final := filepath.Join(root, "final")
	require.NoError(t, os.MkdirAll(staging, 0755))
	writeFile(t, filepath.Join(staging, "reads.fastq.gz"), "data")

	require.NoError(t, MoveAndClean(staging, final))

	dest := filepath.Join(final, "SRR000001", "reads.fastq.gz")
	_, err := os.Stat(dest)
	assert.NoError(t, err)
	_, err = os.Stat(staging)
	assert.True(t, os.IsNotExist(err), "staging directory should no longer exist")
}

func TestMoveAndCleanVerified_MovesOnChecksumMatch(t *testing.T) {
	root := t.TempDir()
	staging := filepath.Join(root, "staging", "acc")
	final := filepath.Join(root, "final")
	require.NoError(t, os.MkdirAll(staging, 0755))
	writeFile(t, filepath.Join(staging, "a.fastq.gz"), "hello world")

	checksums := map[string]string{"a.fastq.gz": md5Hex("hello world")}
	require.NoError(t, MoveAndCleanVerified(staging, final, checksums))

	_, err := os.Stat(filepath.Join(final, "acc", "a.fastq.gz"))
	assert.NoError(t, err)
}

func TestMoveAndCleanVerified_RemovesStagingOnMismatch(t *testing.T) {
	root := t.TempDir()
	staging := filepath.Join(root, "staging", "acc")
	final := filepath.Join(root, "final")
	require.NoError(t, os.MkdirAll(staging, 0755))
	writeFile(t, filepath.Join(staging, "a.fastq.gz"), "corrupted contents")

	checksums := map[string]string{"a.fastq.gz": md5Hex("hello world")}
	err := MoveAndCleanVerified(staging, final, checksums)

	require.ErrorIs(t, err, ErrIntegrityCheck)
	_, statErr := os.Stat(staging)
	assert.True(t, os.IsNotExist(statErr), "staging directory must be removed on integrity failure")
	_, statErr = os.Stat(filepath.Join(final, "acc"))
	assert.True(t, os.IsNotExist(statErr), "nothing should have been moved into the final directory")
}

func TestMoveAndCleanVerified_MissingFileFailsCleanly(t *testing.T) {
	root := t.TempDir()
	staging := filepath.Join(root, "staging", "acc")
	final := filepath.Join(root, "final")
	require.NoError(t, os.MkdirAll(staging, 0755))

	checksums := map[string]string{"missing.gz": md5Hex("anything")}
	err := MoveAndCleanVerified(staging, final, checksums)

	assert.Error(t, err)
	_, statErr := os.Stat(staging)
	assert.True(t, os.IsNotExist(statErr))
}
