package job

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

// CommandJob spawns a shell-invocable external command. stdout and
// stderr are redirected into LogFile() from open to exit.
type CommandJob struct {
	*base
	commandLine string
}

// NewCommandJob builds a CommandJob that will run commandLine through
// "sh -c" once Start is called. canStart may be nil, meaning the job is
// always eligible once its parents are satisfied.
func NewCommandJob(name, commandLine string, parents []Job, canStart func() bool) (*CommandJob, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if commandLine == "" {
		return nil, fmt.Errorf("job %s: command line must not be empty", name)
	}
	return &CommandJob{
		base:        newBase(name, parents, canStart),
		commandLine: commandLine,
	}, nil
}

func (c *CommandJob) Start() error {
	logFile, err := openLogFile(c.logFile)
	if err != nil {
		return fmt.Errorf("job %s: opening log file: %w", c.name, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, "sh", "-c", c.commandLine)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(unix.SIGTERM)
	}
	cmd.WaitDelay = CommandWaitDelay
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := c.start(cmd, cancel); err != nil {
		logFile.Close()
		return fmt.Errorf("job %s: starting command: %w", c.name, err)
	}

	go func() {
		c.Join()
		logFile.Close()
	}()

	return nil
}

func openLogFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
}
