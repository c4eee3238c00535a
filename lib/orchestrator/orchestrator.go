// Package orchestrator implements the DownloadOrchestrator: the thin
// driver that prepares datadir/logdir, asks each non-empty register
// container to emit its job DAG, interleaves submission across
// containers, and blocks until the scheduler drains.
//
// Adapted from the teacher's server-main wiring style (construct,
// start, wait on a shutdown condition, stop) applied to a single batch
// run instead of a long-lived service.
package orchestrator

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/seqdd/seqdd/lib/job"
	"github.com/seqdd/seqdd/lib/register"
	"github.com/seqdd/seqdd/lib/scheduler"
)

// PollInterval is how often DownloadTo checks whether the scheduler has
// drained.
const PollInterval = time.Second

// Orchestrator drives one download run over a register's containers.
type Orchestrator struct {
	logger *zap.SugaredLogger
}

// New creates an Orchestrator that logs through logger.
func New(logger *zap.SugaredLogger) *Orchestrator {
	return &Orchestrator{logger: logger}
}

// DownloadTo materializes every accession referenced by containers into
// datadir, running up to maxProcess jobs concurrently and writing
// per-job logs under logdir. It never returns an error for individual
// job failures — those are visible only through logs and per-job return
// codes — but does return an error if datadir/logdir/tmpdir cannot be
// prepared.
func (o *Orchestrator) DownloadTo(containers []register.Container, datadir, logdir, tmpdir string, maxProcess int) error {
	if err := os.MkdirAll(datadir, 0755); err != nil {
		return fmt.Errorf("orchestrator: preparing data directory: %w", err)
	}
	if err := os.MkdirAll(tmpdir, 0755); err != nil {
		return fmt.Errorf("orchestrator: preparing tmp directory: %w", err)
	}
	// A run begins with a clean log directory: stale logs from a
	// previous run must never be mistaken for this run's outcome.
	if _, err := os.Stat(logdir); err == nil {
		if err := os.RemoveAll(logdir); err != nil {
			return fmt.Errorf("orchestrator: clearing log directory: %w", err)
		}
	}
	if err := os.MkdirAll(logdir, 0755); err != nil {
		return fmt.Errorf("orchestrator: preparing log directory: %w", err)
	}

	jobLists := make([][]job.Job, 0, len(containers))
	for _, c := range containers {
		if len(c.Accessions) == 0 {
			continue
		}
		if !c.Adapter.IsReady() {
			o.warnw("container is not ready; external tooling missing, skipping", c.Name, len(c.Accessions))
			continue
		}
		jobs, err := c.Adapter.JobsFromAccessions(c.Accessions, datadir)
		if err != nil {
			if o.logger != nil {
				o.logger.Warnw("container failed to build its job graph; skipping", "container", c.Name, "count", len(c.Accessions), "error", err)
			}
			continue
		}
		if o.logger != nil {
			o.logger.Infow("datasets will be downloaded", "container", c.Name, "count", len(c.Accessions))
		}
		jobLists = append(jobLists, jobs)
	}

	sched := scheduler.New(maxProcess, logdir, o.logger)
	sched.Start()

	submitInterleaved(sched, jobLists)

	for sched.Remaining() > 0 {
		time.Sleep(PollInterval)
	}

	sched.Stop()
	sched.Join()
	return nil
}

func (o *Orchestrator) warnw(msg, container string, count int) {
	if o.logger == nil {
		return
	}
	o.logger.Warnw(msg, "container", container, "count", count)
}

// submitInterleaved advances parallel cursors through each container's
// job list, submitting the next job from each container that still has
// one at every round. This produces a schedule in which early ticks see
// one head-of-line job per source, so many rate-limited sources make
// progress in parallel even under a tight parallelism cap.
func submitInterleaved(sched *scheduler.Scheduler, jobLists [][]job.Job) {
	idx := make([]int, len(jobLists))
	for {
		submittedAny := false
		for i, jobs := range jobLists {
			if idx[i] < len(jobs) {
				sched.Submit(jobs[idx[i]])
				idx[i]++
				submittedAny = true
			}
		}
		if !submittedAny {
			return
		}
	}
}
