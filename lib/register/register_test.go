package register

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqdd/seqdd/lib/job"
	"github.com/seqdd/seqdd/lib/source"
)

type stubAdapter struct{}

func (stubAdapter) IsReady() bool { return true }
func (stubAdapter) JobsFromAccessions(accs []string, datadir string) ([]job.Job, error) {
	return nil, nil
}

func writeRegisterFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "register.txt")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoadFile_ParsesContainersAndAccessions(t *testing.T) {
	path := writeRegisterFile(t, "version 0.0\nncbi\t2\nGCA_000001.1\nGCA_000002.1\nsra\t1\nSRR000001\n")

	reg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"ncbi", "sra"}, reg.ContainerNames())
	assert.Equal(t, []string{"GCA_000001.1", "GCA_000002.1"}, reg.Accessions("ncbi"))
	assert.Equal(t, []string{"SRR000001"}, reg.Accessions("sra"))
}

func TestLoadFile_SkipsBlankLinesAndComments(t *testing.T) {
	path := writeRegisterFile(t, "# a comment\nversion 0.0\n\nncbi\t1\n\nGCA_000001.1\n")

	reg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"GCA_000001.1"}, reg.Accessions("ncbi"))
}

func TestLoadFile_RejectsUnsupportedMajorVersion(t *testing.T) {
	path := writeRegisterFile(t, "version 1.0\nncbi\t0\n")

	_, err := LoadFile(path)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestLoadFile_RejectsFutureMinorVersion(t *testing.T) {
	path := writeRegisterFile(t, "version 0.99\nncbi\t0\n")

	_, err := LoadFile(path)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestLoadFile_MissingVersionHeaderIsRejected(t *testing.T) {
	path := writeRegisterFile(t, "ncbi\t0\n")

	_, err := LoadFile(path)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestLoadDir_ReadsOneFilePerContainer(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ncbi.txt"), []byte("GCA_000001.1\nGCA_000002.1\n"), 0644))

	reg, err := LoadDir(dir, []string{"ncbi", "sra"})
	require.NoError(t, err)

	assert.Equal(t, []string{"ncbi"}, reg.ContainerNames(), "sra.txt is absent so sra must not appear")
	assert.Equal(t, []string{"GCA_000001.1", "GCA_000002.1"}, reg.Accessions("ncbi"))
}

func TestContainers_BindsAdaptersByName(t *testing.T) {
	path := writeRegisterFile(t, "version 0.0\nncbi\t1\nGCA_000001.1\n")
	reg, err := LoadFile(path)
	require.NoError(t, err)

	containers, err := reg.Containers(map[string]source.Adapter{"ncbi": stubAdapter{}})
	require.NoError(t, err)
	require.Len(t, containers, 1)
	assert.Equal(t, "ncbi", containers[0].Name)
	assert.Equal(t, []string{"GCA_000001.1"}, containers[0].Accessions)
}

func TestContainers_ErrorsOnUnboundAdapter(t *testing.T) {
	path := writeRegisterFile(t, "version 0.0\nncbi\t1\nGCA_000001.1\n")
	reg, err := LoadFile(path)
	require.NoError(t, err)

	_, err = reg.Containers(map[string]source.Adapter{})
	assert.Error(t, err)
}
