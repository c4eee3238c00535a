// Package scheduler implements the Scheduler (a.k.a. JobManager): a
// single-goroutine dependency-aware loop that advances Jobs from
// waiting to running as their parents finish successfully, pacing
// allows, and the parallelism budget has slack, then reaps finished
// jobs and cancels transitive descendants of any failure.
//
// Adapted from the teacher's lib/job.Manager (there, a map keyed by
// username/jobID serving a long-lived RPC server) into a single-run,
// DAG-aware driver keyed by submission order, following the scheduling
// algorithm of the Python seqdd tool this engine reimplements
// (seqdd/utils/scheduler.py's JobManager.run loop).
package scheduler

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/seqdd/seqdd/lib/job"
)

// TickInterval is how often the scheduler loop reconsiders waiting jobs.
const TickInterval = 100 * time.Millisecond

// Scheduler maintains waiting/running job sets and a parent→children
// index, and drives jobs through their lifecycle on a dedicated
// goroutine. The loop goroutine is the sole owner of processes,
// waiting, running, and childrenOf once Start has been called; every
// other exported method only touches the mutex-guarded pending queue
// or atomics, so the loop itself needs no internal locking.
type Scheduler struct {
	maxProcess int
	logFolder  string
	logger     *zap.SugaredLogger

	pendingMu sync.Mutex
	pending   []job.Job

	stopCh    chan struct{}
	stopOnce  sync.Once
	doneCh    chan struct{}
	startOnce sync.Once

	// remainingCount tracks jobs that have been Submit-ted but have not
	// yet reached a terminal state (finished, failed, or cancelled). It
	// is incremented synchronously in Submit so that a caller polling
	// Remaining() immediately after submission, before the loop
	// goroutine has run its first tick, never observes a false 0.
	remainingCount atomic.Int64

	// loop-owned state
	processes  []job.Job
	waiting    []job.Job
	running    []job.Job
	childrenOf map[job.Job][]job.Job
}

// New creates a Scheduler bounded to maxProcess concurrently running
// workers, writing per-job logs under logFolder.
func New(maxProcess int, logFolder string, logger *zap.SugaredLogger) *Scheduler {
	if maxProcess < 1 {
		maxProcess = 1
	}
	return &Scheduler{
		maxProcess: maxProcess,
		logFolder:  logFolder,
		logger:     logger,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		childrenOf: make(map[job.Job][]job.Job),
	}
}

// Submit appends a job to the pending queue. It may be called before or
// after Start, and from any goroutine; there is no eligibility check at
// submission time, only at the next tick's promote step. remainingCount
// is incremented here, not by the loop, so Remaining() reflects the job
// the instant it is submitted rather than only after it is drained into
// waiting.
func (s *Scheduler) Submit(j job.Job) {
	s.pendingMu.Lock()
	s.pending = append(s.pending, j)
	s.pendingMu.Unlock()
	s.remainingCount.Add(1)
}

// SubmitMany is a convenience wrapper around Submit.
func (s *Scheduler) SubmitMany(jobs []job.Job) {
	for _, j := range jobs {
		s.Submit(j)
	}
}

// Start launches the scheduler loop on its own goroutine. Calling Start
// more than once has no additional effect.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

// Stop signals the loop to drain: any still-running jobs are stop-joined
// before the loop exits. Stop does not itself block; call Join to wait
// for the loop to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Join blocks until the scheduler loop has exited (i.e. until some
// goroutine has called Stop and the drain has completed).
func (s *Scheduler) Join() {
	<-s.doneCh
}

// Remaining reports the number of submitted jobs that have not yet
// reached a terminal state: pending + waiting + running. Counted from
// the moment Submit is called, not from the next tick's drain, so a
// caller that submits work and immediately polls Remaining() in a loop
// can never observe a premature 0 before the loop goroutine has run.
func (s *Scheduler) Remaining() int {
	return int(s.remainingCount.Load())
}

func (s *Scheduler) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		s.drainPending()
		s.reap()
		s.promote()

		select {
		case <-s.stopCh:
			s.drainAndStopAll()
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) drainPending() {
	s.pendingMu.Lock()
	newJobs := s.pending
	s.pending = nil
	s.pendingMu.Unlock()

	for _, j := range newJobs {
		if s.logFolder != "" {
			j.SetLogFile(filepath.Join(s.logFolder, j.Name()+".log"))
		}
		s.processes = append(s.processes, j)
		s.waiting = append(s.waiting, j)
		for _, parent := range j.Parents() {
			s.childrenOf[parent] = append(s.childrenOf[parent], j)
		}
	}
}

// reap removes finished jobs from running, logging their outcome and
// cascading cancellation to descendants of any job that failed.
func (s *Scheduler) reap() {
	stillRunning := s.running[:0:0]
	for _, j := range s.running {
		if j.PollAlive() {
			stillRunning = append(stillRunning, j)
			continue
		}
		code, _ := j.ReturnCode()
		if code != 0 {
			if s.logger != nil {
				s.logger.Errorw("ERROR", "job", j.Name(), "return_code", code, "log_file", j.LogFile())
				s.logger.Infow("please check the log file for more details", "job", j.Name(), "log_file", j.LogFile())
			}
			s.cancelDescendants(j)
		} else if s.logger != nil {
			s.logger.Infow("DONE", "job", j.Name())
		}
		j.Join()
		s.remainingCount.Add(-1)
	}
	s.running = stillRunning
}

// promote scans waiting in submission order, starting every eligible
// job until running is at capacity or no more jobs are startable this
// tick.
func (s *Scheduler) promote() {
	stillWaiting := s.waiting[:0:0]
	for i, j := range s.waiting {
		if len(s.running) >= s.maxProcess {
			// Parallelism cap reached: keep the remainder of waiting,
			// unmodified, for the next tick.
			stillWaiting = append(stillWaiting, s.waiting[i:]...)
			break
		}

		ready, parentFailed := true, false
		for _, p := range j.Parents() {
			code, ok := p.ReturnCode()
			if !p.IsOver() || !ok {
				ready = false
				break
			}
			parentFailed = parentFailed || code != 0
		}
		if !ready {
			stillWaiting = append(stillWaiting, j)
			continue
		}
		// j may reach here with a failed parent when it was drained into
		// waiting after that parent's cancelDescendants ran; cancel it.
		if parentFailed {
			j.Cancel()
			if s.logger != nil {
				s.logger.Warnw("CANCEL", "job", j.Name())
			}
			s.remainingCount.Add(-1)
			s.cancelDescendants(j)
			continue
		}

		if !j.CanStart() {
			stillWaiting = append(stillWaiting, j)
			continue
		}

		if err := j.Start(); err != nil {
			if s.logger != nil {
				s.logger.Errorw("ERROR starting job", "job", j.Name(), "error", err)
			}
			j.Cancel()
			s.cancelDescendants(j)
			s.remainingCount.Add(-1)
			continue
		}
		if s.logger != nil {
			s.logger.Infow("START", "job", j.Name())
		}
		s.running = append(s.running, j)
	}
	s.waiting = stillWaiting
}

// cancelDescendants recursively cancels every transitive child of j.
// j itself is left alone: it has already reached a terminal state (a
// natural failure or a cancellation performed by the caller), and its
// own return code must not be overwritten.
func (s *Scheduler) cancelDescendants(j job.Job) {
	for _, child := range s.childrenOf[j] {
		if child.IsOver() {
			continue
		}
		s.removeFromWaiting(child)
		s.removeFromRunning(child)
		child.Cancel()
		if s.logger != nil {
			s.logger.Warnw("CANCEL", "job", child.Name())
		}
		s.remainingCount.Add(-1)
		s.cancelDescendants(child)
	}
}

func (s *Scheduler) removeFromWaiting(target job.Job) {
	for i, j := range s.waiting {
		if j == target {
			s.waiting = append(s.waiting[:i], s.waiting[i+1:]...)
			return
		}
	}
}

func (s *Scheduler) removeFromRunning(target job.Job) {
	for i, j := range s.running {
		if j == target {
			s.running = append(s.running[:i], s.running[i+1:]...)
			return
		}
	}
}

// drainAndStopAll stop-joins every job still running when Stop is
// called, guaranteeing that no worker process spawned by the engine
// outlives the scheduler. Jobs still waiting never got the chance to
// start; both sets are removed from remainingCount here since neither
// reap nor cancelDescendants will ever see them again.
func (s *Scheduler) drainAndStopAll() {
	for _, j := range s.running {
		if !j.IsOver() {
			j.Stop()
		}
	}
	for _, j := range s.running {
		j.Join()
	}
	s.remainingCount.Add(-int64(len(s.running) + len(s.waiting)))
	s.running = nil
	s.waiting = nil
}
