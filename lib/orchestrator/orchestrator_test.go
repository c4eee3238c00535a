package orchestrator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqdd/seqdd/lib/job"
	"github.com/seqdd/seqdd/lib/register"
)

type countingAdapter struct {
	ready bool
}

func (a countingAdapter) IsReady() bool { return a.ready }

func (a countingAdapter) JobsFromAccessions(accs []string, datadir string) ([]job.Job, error) {
	jobs := make([]job.Job, 0, len(accs))
	for _, acc := range accs {
		j, err := job.NewCommandJob("touch_"+acc, "touch "+filepath.Join(datadir, acc), nil, nil)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func TestDownloadTo_RunsEveryAdapterJobAndDrains(t *testing.T) {
	root := t.TempDir()
	datadir := filepath.Join(root, "data")
	logdir := filepath.Join(root, "logs")
	tmpdir := filepath.Join(root, "tmp")

	containers := []register.Container{
		{Name: "a", Accessions: []string{"acc1", "acc2"}, Adapter: countingAdapter{ready: true}},
		{Name: "b", Accessions: []string{"acc3"}, Adapter: countingAdapter{ready: true}},
	}

	orch := New(nil)
	err := orch.DownloadTo(containers, datadir, logdir, tmpdir, 2)
	require.NoError(t, err)

	for _, name := range []string{"acc1", "acc2", "acc3"} {
		_, statErr := os.Stat(filepath.Join(datadir, name))
		assert.NoError(t, statErr, "expected %s to have been created by its job", name)
	}
}

func TestDownloadTo_SkipsNotReadyContainers(t *testing.T) {
	root := t.TempDir()
	datadir := filepath.Join(root, "data")
	logdir := filepath.Join(root, "logs")
	tmpdir := filepath.Join(root, "tmp")

	containers := []register.Container{
		{Name: "unavailable", Accessions: []string{"acc1"}, Adapter: countingAdapter{ready: false}},
	}

	orch := New(nil)
	err := orch.DownloadTo(containers, datadir, logdir, tmpdir, 2)
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(datadir, "acc1"))
	assert.True(t, os.IsNotExist(statErr), "a not-ready container's jobs must never run")
}

func TestDownloadTo_ClearsStaleLogDirectory(t *testing.T) {
	root := t.TempDir()
	datadir := filepath.Join(root, "data")
	logdir := filepath.Join(root, "logs")
	tmpdir := filepath.Join(root, "tmp")
	require.NoError(t, os.MkdirAll(logdir, 0755))
	stale := filepath.Join(logdir, "stale-from-previous-run.log")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0644))

	orch := New(nil)
	err := orch.DownloadTo(nil, datadir, logdir, tmpdir, 1)
	require.NoError(t, err)

	_, statErr := os.Stat(stale)
	assert.True(t, os.IsNotExist(statErr), "a fresh run must not inherit a previous run's stale logs")
}
