// Package ncbi implements the archive-assembly source adapter: batches
// of accessions are downloaded dehydrated via NCBI's "datasets" CLI,
// unzipped, rehydrated, and moved into datadir. Grounded on the
// original Python seqdd tool's NCBI data source
// (register/sources/ncbi.py): a batch size of 5 and a 1-second pacer.
package ncbi

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/seqdd/seqdd/lib/job"
	"github.com/seqdd/seqdd/lib/pacer"
	"github.com/seqdd/seqdd/lib/stage"
)

// BatchSize is how many accessions are requested per "datasets
// download" invocation.
const BatchSize = 5

// MinDelay is the minimum spacing between NCBI queries.
const MinDelay = time.Second

// Adapter downloads NCBI genome assemblies via the "datasets" binary.
type Adapter struct {
	binary string
	tmpDir string
	pacer  *pacer.Pacer
}

// New locates the "datasets" binary (first on PATH, then under bindir)
// and returns an Adapter bound to tmpDir for staging. The adapter is
// still constructed even if the binary cannot be found; IsReady then
// reports false and the orchestrator skips the container.
func New(bindir, tmpDir string) *Adapter {
	return &Adapter{
		binary: resolveBinary("datasets", bindir),
		tmpDir: tmpDir,
		pacer:  pacer.New(MinDelay),
	}
}

func resolveBinary(name, bindir string) string {
	if p, err := exec.LookPath(name); err == nil {
		return p
	}
	local := filepath.Join(bindir, name)
	if info, err := os.Stat(local); err == nil && !info.IsDir() {
		return local
	}
	return ""
}

// IsReady reports whether the "datasets" binary was found.
func (a *Adapter) IsReady() bool {
	return a.binary != ""
}

// JobsFromAccessions builds the batched archive-assembly DAG: for every
// batch of BatchSize accessions, download_batch -> unzip -> rehydrate ->
// move_and_clean, linked as a linear chain.
func (a *Adapter) JobsFromAccessions(accs []string, datadir string) ([]job.Job, error) {
	var jobs []job.Job

	for start := 0; start < len(accs); start += BatchSize {
		end := start + BatchSize
		if end > len(accs) {
			end = len(accs)
		}
		batch := accs[start:end]

		batchID := uuid.NewString()
		jobName := fmt.Sprintf("ncbi_%s", batchID)
		stagingDir := filepath.Join(a.tmpDir, jobName)

		downloadFile := filepath.Join(stagingDir, jobName+".zip")
		downloadCmd := fmt.Sprintf(
			"mkdir -p %s && %s download genome accession --dehydrated --no-progressbar --filename %s %s",
			shellQuote(stagingDir), shellQuote(a.binary), shellQuote(downloadFile), shellQuoteAll(batch),
		)
		downloadJob, err := job.NewCommandJob(jobName+"_download", downloadCmd, nil, a.pacer.DelayReady)
		if err != nil {
			return nil, err
		}

		unzipDir := filepath.Join(stagingDir, "unzipped")
		unzipCmd := fmt.Sprintf("unzip -n %s -d %s", shellQuote(downloadFile), shellQuote(unzipDir))
		unzipJob, err := job.NewCommandJob(jobName+"_unzip", unzipCmd, []job.Job{downloadJob}, nil)
		if err != nil {
			return nil, err
		}

		rehydrateCmd := fmt.Sprintf("%s rehydrate --gzip --no-progressbar --directory %s", shellQuote(a.binary), shellQuote(unzipDir))
		rehydrateJob, err := job.NewCommandJob(jobName+"_rehydrate", rehydrateCmd, []job.Job{unzipJob}, a.pacer.DelayReady)
		if err != nil {
			return nil, err
		}

		moveJob, err := stage.NewMoveAndCleanJob(jobName+"_clean", unzipDir, datadir, []job.Job{rehydrateJob})
		if err != nil {
			return nil, err
		}

		jobs = append(jobs, downloadJob, unzipJob, rehydrateJob, moveJob)
	}

	return jobs, nil
}

func shellQuote(s string) string {
	return "'" + s + "'"
}

func shellQuoteAll(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += " "
		}
		out += shellQuote(s)
	}
	return out
}
