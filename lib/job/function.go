package job

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"golang.org/x/sys/unix"
)

// WorkerArgvSentinel is the hidden argv[1] a re-exec'd FunctionJob child
// recognizes. The host program's main() must check for it before normal
// flag parsing and dispatch to RunWorker when present. This is the Go
// substitute for the fork-based isolation the source relies on (spec.md
// §9, "Function payloads in isolated workers").
const WorkerArgvSentinel = "__seqdd_worker__"

// Payload is an in-process routine a FunctionJob can run. It receives
// its job's plain-string arguments and returns an error to indicate
// failure; a panic inside Payload is recovered and treated the same as
// a returned error, since it runs in a disposable child process rather
// than the scheduler's own.
type Payload func(args []string) error

var (
	registryMu sync.RWMutex
	registry   = map[string]Payload{}
)

// RegisterPayload makes a Payload callable by name from a FunctionJob.
// Adapters register their move-and-clean and similar routines at init
// time; the registry must hold the same entries in both the parent
// process (to validate payload names when a FunctionJob is started) and the
// re-exec'd worker process (to actually run them), since both are the
// same compiled binary.
func RegisterPayload(name string, fn Payload) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = fn
}

func lookupPayload(name string) (Payload, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	fn, ok := registry[name]
	return fn, ok
}

// FunctionJob runs a registered Payload inside an isolated re-exec'd
// child process, so neither a stuck routine nor an uncaught panic can
// affect the scheduler.
type FunctionJob struct {
	*base
	payloadName string
	args        []string
}

// NewFunctionJob builds a FunctionJob. payloadName must have been
// registered with RegisterPayload before the job is started.
func NewFunctionJob(name, payloadName string, args []string, parents []Job, canStart func() bool) (*FunctionJob, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if payloadName == "" {
		return nil, fmt.Errorf("job %s: payload name must not be empty", name)
	}
	return &FunctionJob{
		base:        newBase(name, parents, canStart),
		payloadName: payloadName,
		args:        args,
	}, nil
}

func (f *FunctionJob) Start() error {
	if _, ok := lookupPayload(f.payloadName); !ok {
		return fmt.Errorf("job %s: payload %q is not registered", f.name, f.payloadName)
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("job %s: resolving worker binary: %w", f.name, err)
	}

	argv := append([]string{WorkerArgvSentinel, f.logFile, f.payloadName}, f.args...)
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, self, argv...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(unix.SIGTERM)
	}
	cmd.WaitDelay = CommandWaitDelay
	// The worker child opens and owns the log file itself, so that the
	// framing header and any captured error are written exactly once,
	// from the same process that ran the payload.
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := f.start(cmd, cancel); err != nil {
		return fmt.Errorf("job %s: starting worker: %w", f.name, err)
	}
	return nil
}

// RunWorker is the entry point a re-exec'd FunctionJob child must call
// when it detects WorkerArgvSentinel as os.Args[1]. It writes a framing
// header naming the payload and its arguments, runs the payload,
// captures any error or panic to the log file, and returns the process
// exit code the caller should pass to os.Exit.
func RunWorker(argv []string) int {
	if len(argv) < 2 {
		fmt.Fprintln(os.Stderr, "seqdd worker: expected <logfile> <payload> [args...]")
		return 1
	}
	logPath, payloadName, args := argv[0], argv[1], argv[2:]

	logFile, err := openLogFile(logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seqdd worker: opening log file %s: %v\n", logPath, err)
		return 1
	}
	defer logFile.Close()

	fmt.Fprintf(logFile, "FUNCTION %s %v\n", payloadName, args)

	payload, ok := lookupPayload(payloadName)
	if !ok {
		fmt.Fprintf(logFile, "ERROR: payload %q is not registered\n", payloadName)
		return 1
	}

	if err := runPayloadSafely(payload, args); err != nil {
		fmt.Fprintf(logFile, "ERROR: %v\n", err)
		return 1
	}
	fmt.Fprintln(logFile, "OK")
	return 0
}

// runPayloadSafely recovers a panicking Payload into an error so a bug
// in adapter code cannot be mistaken for an OS-level crash of the
// worker process; it still exits non-zero, which is all the scheduler
// observes.
func runPayloadSafely(payload Payload, args []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return payload(args)
}
