// Package stage implements the move-and-clean helpers source adapters
// run as the final FunctionJob in their DAGs: moving a per-accession
// staging directory into the run's datadir, optionally verifying
// checksums first. The scheduler treats these as opaque payloads; it
// never inspects their bodies, only their registered name and the
// error each returns.
package stage

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrIntegrityCheck is returned when a downloaded file's MD5 checksum
// does not match the value the source adapter expected.
var ErrIntegrityCheck = fmt.Errorf("stage: integrity check failed")

// MoveAndClean moves stagingDir to finalDir/<basename(stagingDir)>. This
// is the first of the two signatures spec.md's open questions pin down:
// (staging_dir, final_dir), used by adapters with nothing to verify.
func MoveAndClean(stagingDir, finalDir string) error {
	dest := filepath.Join(finalDir, filepath.Base(stagingDir))
	if err := os.MkdirAll(finalDir, 0755); err != nil {
		return fmt.Errorf("stage: creating %s: %w", finalDir, err)
	}
	if err := os.Rename(stagingDir, dest); err != nil {
		return fmt.Errorf("stage: moving %s to %s: %w", stagingDir, dest, err)
	}
	return nil
}

// MoveAndCleanVerified is the second pinned signature: (staging_dir,
// final_dir, checksums_map). Every file named in checksums is hashed
// and compared before anything is moved; on any mismatch the entire
// staging directory is removed (so a re-run starts from clean state,
// per spec.md §7.3) and ErrIntegrityCheck is returned, which the
// scheduler treats as an ordinary Job failure and so cancels whatever
// (if anything) depends on this move step.
func MoveAndCleanVerified(stagingDir, finalDir string, checksums map[string]string) error {
	for filename, want := range checksums {
		got, err := md5sum(filepath.Join(stagingDir, filename))
		if err != nil {
			_ = os.RemoveAll(stagingDir)
			return fmt.Errorf("stage: hashing %s: %w", filename, err)
		}
		if got != want {
			_ = os.RemoveAll(stagingDir)
			return fmt.Errorf("%w: %s: expected md5 %s, got %s", ErrIntegrityCheck, filename, want, got)
		}
	}
	return MoveAndClean(stagingDir, finalDir)
}

func md5sum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
