package scheduler

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqdd/seqdd/lib/job"
)

// fakeJob is an in-memory job.Job double used to exercise the
// scheduler's promotion, reaping, and cancellation logic without
// spawning real OS processes.
type fakeJob struct {
	name       string
	parents    []*fakeJob
	canStart   func() bool
	runFor     time.Duration
	exitCode   int
	neverStart bool

	mu        sync.Mutex
	started   bool
	logFile   string
	isOver    atomic.Bool
	code      atomic.Int32
	hasCode   atomic.Bool
	doneCh    chan struct{}
	doneOnce  sync.Once
	stopCh    chan struct{}
	stopOnce  sync.Once
}

func newFakeJob(name string, parents ...*fakeJob) *fakeJob {
	return &fakeJob{name: name, parents: parents, doneCh: make(chan struct{}), stopCh: make(chan struct{})}
}

func (f *fakeJob) Name() string { return f.name }

func (f *fakeJob) Parents() []job.Job {
	out := make([]job.Job, len(f.parents))
	for i, p := range f.parents {
		out[i] = p
	}
	return out
}

func (f *fakeJob) CanStart() bool {
	if f.canStart == nil {
		return true
	}
	return f.canStart()
}

func (f *fakeJob) LogFile() string     { return f.logFile }
func (f *fakeJob) SetLogFile(p string) { f.logFile = p }
func (f *fakeJob) IsOver() bool        { return f.isOver.Load() }
func (f *fakeJob) Status() job.Status  { return job.StatusPending }

func (f *fakeJob) ReturnCode() (int, bool) {
	if !f.hasCode.Load() {
		return 0, false
	}
	return int(f.code.Load()), true
}

func (f *fakeJob) Start() error {
	if f.neverStart {
		return fmt.Errorf("fakeJob %s: simulated start failure", f.name)
	}
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()

	go func() {
		if f.runFor > 0 {
			select {
			case <-time.After(f.runFor):
			case <-f.stopCh:
			}
		}
		if f.isOver.CompareAndSwap(false, true) {
			f.code.Store(int32(f.exitCode))
			f.hasCode.Store(true)
		}
		f.doneOnce.Do(func() { close(f.doneCh) })
	}()
	return nil
}

func (f *fakeJob) Stop() {
	f.stopOnce.Do(func() { close(f.stopCh) })
}

func (f *fakeJob) PollAlive() bool {
	select {
	case <-f.doneCh:
		return false
	default:
		return true
	}
}

func (f *fakeJob) Join() { <-f.doneCh }

func (f *fakeJob) Cancel() {
	if !f.isOver.CompareAndSwap(false, true) {
		return
	}
	f.code.Store(int32(job.CancelledReturnCode))
	f.hasCode.Store(true)
	f.doneOnce.Do(func() { close(f.doneCh) })
}

func (f *fakeJob) wasStarted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func waitForRemaining(t *testing.T, s *Scheduler, want int, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if s.Remaining() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Remaining() did not reach %d within %s (last seen %d)", want, within, s.Remaining())
}

func TestScheduler_ParallelismCap(t *testing.T) {
	t.Parallel()

	s := New(2, "", nil)
	s.Start()
	defer func() { s.Stop(); s.Join() }()

	jobs := make([]*fakeJob, 6)
	for i := range jobs {
		jobs[i] = newFakeJob(fmt.Sprintf("independent-%d", i))
		jobs[i].runFor = 150 * time.Millisecond
		s.Submit(jobs[i])
	}

	time.Sleep(3 * TickInterval)

	running := 0
	for _, j := range jobs {
		if j.wasStarted() && j.PollAlive() {
			running++
		}
	}
	assert.LessOrEqual(t, running, 2, "no more than max_process jobs should run concurrently")

	waitForRemaining(t, s, 0, 2*time.Second)
}

func TestScheduler_DependencyOrder(t *testing.T) {
	t.Parallel()

	s := New(4, "", nil)
	s.Start()
	defer func() { s.Stop(); s.Join() }()

	a := newFakeJob("a")
	a.runFor = 400 * time.Millisecond
	b := newFakeJob("b", a)
	s.SubmitMany([]job.Job{a, b})

	time.Sleep(2 * TickInterval)
	assert.True(t, a.wasStarted())
	assert.False(t, b.wasStarted(), "b must not start before its parent a finishes")

	waitForRemaining(t, s, 0, 2*time.Second)
	assert.True(t, b.wasStarted())
	codeA, _ := a.ReturnCode()
	codeB, _ := b.ReturnCode()
	assert.Equal(t, 0, codeA)
	assert.Equal(t, 0, codeB)
}

func TestScheduler_LinearChainFailureCancelsDescendants(t *testing.T) {
	t.Parallel()

	s := New(4, "", nil)
	s.Start()
	defer func() { s.Stop(); s.Join() }()

	a := newFakeJob("a")
	b := newFakeJob("b", a)
	b.exitCode = 1
	c := newFakeJob("c", b)
	s.SubmitMany([]job.Job{a, b, c})

	waitForRemaining(t, s, 0, 2*time.Second)

	codeA, _ := a.ReturnCode()
	assert.Equal(t, 0, codeA)

	codeB, _ := b.ReturnCode()
	assert.Equal(t, 1, codeB)

	assert.False(t, c.wasStarted(), "c must never start once its parent b fails")
	codeC, ok := c.ReturnCode()
	require.True(t, ok)
	assert.Equal(t, job.CancelledReturnCode, codeC)
}

func TestScheduler_NoLeakedProcessesAfterStop(t *testing.T) {
	t.Parallel()

	s := New(4, "", nil)
	s.Start()

	longRunners := make([]*fakeJob, 3)
	for i := range longRunners {
		longRunners[i] = newFakeJob(fmt.Sprintf("long-%d", i))
		longRunners[i].runFor = 10 * time.Second
		s.Submit(longRunners[i])
	}
	time.Sleep(2 * TickInterval)

	s.Stop()
	s.Join()

	for _, j := range longRunners {
		assert.False(t, j.PollAlive(), "no worker should remain alive after the scheduler has stopped")
	}
}

func TestScheduler_InterleavingUnderContention(t *testing.T) {
	t.Parallel()

	s := New(2, "", nil)
	s.Start()
	defer func() { s.Stop(); s.Join() }()

	var containerA, containerB []*fakeJob
	for i := 0; i < 10; i++ {
		ja := newFakeJob(fmt.Sprintf("a-%d", i))
		ja.runFor = 50 * time.Millisecond
		containerA = append(containerA, ja)

		jb := newFakeJob(fmt.Sprintf("b-%d", i))
		jb.runFor = 50 * time.Millisecond
		containerB = append(containerB, jb)
	}

	// Round-robin submission, mirroring the orchestrator's interleaving.
	for i := 0; i < 10; i++ {
		s.Submit(containerA[i])
		s.Submit(containerB[i])
	}

	time.Sleep(TickInterval + 20*time.Millisecond)

	startedA := containerA[0].wasStarted()
	startedB := containerB[0].wasStarted()
	assert.True(t, startedA && startedB, "the first job from each container should start before either container's second job")

	waitForRemaining(t, s, 0, 3*time.Second)
}
