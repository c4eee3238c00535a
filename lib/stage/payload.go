package stage

import (
	"fmt"
	"strings"

	"github.com/seqdd/seqdd/lib/job"
)

const (
	payloadMoveAndClean         = "stage.move_and_clean"
	payloadMoveAndCleanVerified = "stage.move_and_clean_verified"
)

func init() {
	job.RegisterPayload(payloadMoveAndClean, runMoveAndClean)
	job.RegisterPayload(payloadMoveAndCleanVerified, runMoveAndCleanVerified)
}

func runMoveAndClean(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("stage: move_and_clean expects (staging_dir, final_dir), got %d args", len(args))
	}
	return MoveAndClean(args[0], args[1])
}

func runMoveAndCleanVerified(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("stage: move_and_clean_verified expects (staging_dir, final_dir, checksums...), got %d args", len(args))
	}
	stagingDir, finalDir := args[0], args[1]
	checksums := make(map[string]string, len(args)-2)
	for _, kv := range args[2:] {
		filename, sum, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("stage: malformed checksum argument %q", kv)
		}
		checksums[filename] = sum
	}
	return MoveAndCleanVerified(stagingDir, finalDir, checksums)
}

// NewMoveAndCleanJob builds the FunctionJob adapters use to move a
// finished staging directory into datadir with no verification.
func NewMoveAndCleanJob(name, stagingDir, finalDir string, parents []job.Job) (*job.FunctionJob, error) {
	return job.NewFunctionJob(name, payloadMoveAndClean, []string{stagingDir, finalDir}, parents, nil)
}

// NewMoveAndCleanVerifiedJob builds the FunctionJob adapters use when a
// set of downloaded files must match known MD5 checksums before they
// are moved into datadir. checksums maps file basename (relative to
// stagingDir) to expected hex-encoded MD5 digest.
func NewMoveAndCleanVerifiedJob(name, stagingDir, finalDir string, checksums map[string]string, parents []job.Job) (*job.FunctionJob, error) {
	args := make([]string, 0, 2+len(checksums))
	args = append(args, stagingDir, finalDir)
	for filename, sum := range checksums {
		args = append(args, filename+"="+sum)
	}
	return job.NewFunctionJob(name, payloadMoveAndCleanVerified, args, parents, nil)
}
