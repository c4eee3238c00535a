// Package sra implements the per-accession source adapter for the
// Sequence Read Archive: prefetch downloads the run into a staging
// directory, fasterq-dump splits it into FASTQ, gzip compresses the
// result, and move_and_clean relocates it into datadir. Grounded on
// the original Python seqdd tool's SRA data source
// (register/data_sources/sra.py and register/sources/sra.py).
package sra

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/seqdd/seqdd/lib/job"
	"github.com/seqdd/seqdd/lib/pacer"
	"github.com/seqdd/seqdd/lib/stage"
)

// MinDelay is the minimum spacing between prefetch/fasterq-dump
// invocations against NCBI's SRA servers.
const MinDelay = 500 * time.Millisecond

// Adapter downloads SRA runs via the sratoolkit "prefetch" and
// "fasterq-dump" binaries.
type Adapter struct {
	tmpDir   string
	prefetch string
	fasterqd string
	pacer    *pacer.Pacer
}

// New locates the sratoolkit binaries (PATH first, then bindir) and
// returns an Adapter bound to tmpDir for staging. IsReady reports
// false, and the orchestrator skips this container, if either binary
// is missing; this engine never attempts sratoolkit's auto-install.
func New(bindir, tmpDir string) *Adapter {
	return &Adapter{
		tmpDir:   tmpDir,
		prefetch: resolveBinary("prefetch", bindir),
		fasterqd: resolveBinary("fasterq-dump", bindir),
		pacer:    pacer.New(MinDelay),
	}
}

func resolveBinary(name, bindir string) string {
	if p, err := exec.LookPath(name); err == nil {
		return p
	}
	local := filepath.Join(bindir, name)
	if _, err := exec.LookPath(local); err == nil {
		return local
	}
	return ""
}

// IsReady reports whether both sratoolkit binaries were found.
func (a *Adapter) IsReady() bool {
	return a.prefetch != "" && a.fasterqd != ""
}

// JobsFromAccessions builds, for every accession, the linear chain
// prefetch -> fasterqdump -> compress -> move_and_clean. Accessions
// are independent of one another; only the pacer serializes the two
// network-bound steps across the whole container.
func (a *Adapter) JobsFromAccessions(accs []string, datadir string) ([]job.Job, error) {
	var jobs []job.Job

	for _, acc := range accs {
		accDir := filepath.Join(a.tmpDir, acc)
		jobName := fmt.Sprintf("sra_%s", acc)

		prefetchCmd := fmt.Sprintf(
			"mkdir -p %s && %s --max-size u --output-directory %s %s",
			shellQuote(a.tmpDir), shellQuote(a.prefetch), shellQuote(a.tmpDir), shellQuote(acc),
		)
		prefetchJob, err := job.NewCommandJob(jobName+"_prefetch", prefetchCmd, nil, a.pacer.DelayReady)
		if err != nil {
			return nil, err
		}

		dumpCmd := fmt.Sprintf(
			"%s --split-3 --skip-technical --outdir %s %s",
			shellQuote(a.fasterqd), shellQuote(accDir), shellQuote(accDir),
		)
		dumpJob, err := job.NewCommandJob(jobName+"_fasterqdump", dumpCmd, []job.Job{prefetchJob}, a.pacer.DelayReady)
		if err != nil {
			return nil, err
		}

		compressCmd := fmt.Sprintf("gzip %s", shellQuote(filepath.Join(accDir, "*.fastq")))
		compressJob, err := job.NewCommandJob(jobName+"_compress", compressCmd, []job.Job{dumpJob}, nil)
		if err != nil {
			return nil, err
		}

		cleanJob, err := stage.NewMoveAndCleanJob(jobName+"_clean", accDir, datadir, []job.Job{compressJob})
		if err != nil {
			return nil, err
		}

		jobs = append(jobs, prefetchJob, dumpJob, compressJob, cleanJob)
	}

	return jobs, nil
}

func shellQuote(s string) string {
	if !strings.ContainsAny(s, " \t\n'\"$`\\") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
