// Package job implements the two Job variants the scheduler drives:
// CommandJob, which spawns a shell-invocable external command, and
// FunctionJob, which runs a registered in-process routine inside an
// isolated re-exec'd child process. Both share the same process-backed
// lifecycle, adapted from lib/job.Job in the teacher repo.
package job

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// CommandWaitDelay is how long a canceled job is given to exit gracefully
// (SIGTERM) before it is escalated to SIGKILL.
const CommandWaitDelay = 5 * time.Second

// Status is a Job's terminal or in-flight lifecycle state.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusStopped
	StatusKilled
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusStopped:
		return "stopped"
	case StatusKilled:
		return "killed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Job is a single scheduled unit of work. Implementations are
// CommandJob and FunctionJob; the scheduler treats both uniformly.
type Job interface {
	// Name is a unique, log-friendly identifier.
	Name() string
	// Parents are the jobs whose successful completion this job
	// depends on.
	Parents() []Job
	// CanStart is re-evaluated on every scheduler tick; returning
	// false defers (never fails) the job.
	CanStart() bool
	// LogFile returns the path output is redirected to.
	LogFile() string
	// SetLogFile rewrites the log path before Start is called.
	SetLogFile(path string)

	// Start spawns the job's OS-level worker.
	Start() error
	// Stop is a best-effort, idempotent termination: graceful signal,
	// bounded wait, then forceful termination.
	Stop()
	// PollAlive is a non-blocking liveness check on the real OS
	// worker. A false result means the worker has physically exited.
	PollAlive() bool
	// Join blocks until the worker has physically exited and all
	// output is flushed.
	Join()

	// IsOver reports whether the job has logically reached a terminal
	// state. This flips true the instant Cancel is called, even if
	// the underlying worker (if any) has not yet been reaped.
	IsOver() bool
	// ReturnCode reports the exit status; ok is false if the job
	// hasn't reached a terminal state yet.
	ReturnCode() (code int, ok bool)
	// Status returns the current lifecycle state.
	Status() Status

	// Cancel synchronously marks the job is_over with a synthesized
	// non-zero return code, then asynchronously tears down any
	// running worker. Idempotent; safe to call on a job that was
	// never started.
	Cancel()
}

// CancelledReturnCode is the synthesized exit status of a cancelled job.
const CancelledReturnCode = -1

// base implements the lifecycle bookkeeping shared by CommandJob and
// FunctionJob: both ultimately run an *exec.Cmd and differ only in how
// that command is constructed.
type base struct {
	name     string
	parents  []Job
	canStart func() bool
	logFile  string

	cmd    *exec.Cmd
	cancel context.CancelFunc

	status     atomic.Value // Status
	returnCode atomic.Int32
	hasCode    atomic.Bool
	isOver     atomic.Bool

	doneCh    chan struct{}
	closeOnce sync.Once
}

func newBase(name string, parents []Job, canStart func() bool) *base {
	if canStart == nil {
		canStart = func() bool { return true }
	}
	b := &base{
		name:     name,
		parents:  parents,
		canStart: canStart,
		doneCh:   make(chan struct{}),
	}
	b.status.Store(StatusPending)
	return b
}

func (b *base) Name() string        { return b.name }
func (b *base) Parents() []Job      { return b.parents }
func (b *base) CanStart() bool      { return b.canStart() }
func (b *base) LogFile() string     { return b.logFile }
func (b *base) SetLogFile(p string) { b.logFile = p }
func (b *base) IsOver() bool        { return b.isOver.Load() }

func (b *base) Status() Status {
	s, _ := b.status.Load().(Status)
	return s
}

func (b *base) ReturnCode() (int, bool) {
	if !b.hasCode.Load() {
		return 0, false
	}
	return int(b.returnCode.Load()), true
}

func (b *base) closeDone() {
	b.closeOnce.Do(func() { close(b.doneCh) })
}

// start launches the already-configured cmd and arranges for finish to
// run once the worker exits.
func (b *base) start(cmd *exec.Cmd, cancel context.CancelFunc) error {
	b.cmd = cmd
	b.cancel = cancel
	if err := cmd.Start(); err != nil {
		return err
	}
	b.status.Store(StatusRunning)
	go b.finish(cmd.Wait())
	return nil
}

// finish is invoked exactly once per job, from the goroutine that waits
// on the real OS process. If Cancel already claimed the terminal state
// first, finish leaves status/return-code alone (Cancel's synthesized
// values win) and only closes doneCh to unblock Join/PollAlive.
func (b *base) finish(waitErr error) {
	defer b.closeDone()

	if !b.isOver.CompareAndSwap(false, true) {
		return
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		b.status.Store(StatusCompleted)
		b.returnCode.Store(0)
	case errors.As(waitErr, &exitErr):
		code := exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			switch ws.Signal() {
			case unix.SIGTERM:
				b.status.Store(StatusStopped)
			case unix.SIGKILL:
				b.status.Store(StatusKilled)
			default:
				b.status.Store(StatusFailed)
			}
		} else {
			b.status.Store(StatusFailed)
		}
		b.returnCode.Store(int32(code))
	default:
		// Start succeeded but Wait failed for a reason other than a
		// non-zero exit (e.g. an I/O error reaping the process).
		b.status.Store(StatusFailed)
		b.returnCode.Store(int32(CancelledReturnCode))
	}
	b.hasCode.Store(true)
}

// Stop requests graceful-then-forceful termination. It is a no-op if the
// job never started or has already finished.
func (b *base) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
}

// PollAlive reports whether the real OS worker is still running.
func (b *base) PollAlive() bool {
	select {
	case <-b.doneCh:
		return false
	default:
		return true
	}
}

// Join blocks until the real OS worker has exited.
func (b *base) Join() {
	<-b.doneCh
}

// Cancel flips is_over immediately, synthesizes a non-zero return code,
// and — if a worker is running — asynchronously stops it. The worker's
// own finish() goroutine (if any) will still run later to close doneCh
// once it is actually reaped, so Join never returns before the process
// truly exits.
func (b *base) Cancel() {
	if !b.isOver.CompareAndSwap(false, true) {
		return
	}
	b.status.Store(StatusCancelled)
	b.returnCode.Store(int32(CancelledReturnCode))
	b.hasCode.Store(true)

	if b.cmd != nil && b.cmd.Process != nil {
		b.Stop()
		return
	}
	// Never started: there is no worker to reap.
	b.closeDone()
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("job: name must not be empty")
	}
	return nil
}
