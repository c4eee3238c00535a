package url

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/seqdd/seqdd/lib/job"
)

const payloadDownload = "url.download"

func init() {
	job.RegisterPayload(payloadDownload, runDownload)
}

// runDownload is the FunctionJob payload run in the re-exec'd worker
// process: it performs a single HTTP GET and streams the response
// body to disk. It builds its own client rather than sharing the
// Adapter's, since the worker process is a fresh instance of the
// binary with no Adapter state.
func runDownload(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("url: download expects (url, output_path), got %d args", len(args))
	}
	rawURL, outFile := args[0], args[1]

	if err := os.MkdirAll(filepath.Dir(outFile), 0755); err != nil {
		return fmt.Errorf("url: creating %s: %w", filepath.Dir(outFile), err)
	}

	client := &http.Client{Timeout: 10 * time.Minute}
	resp, err := client.Get(rawURL)
	if err != nil {
		return fmt.Errorf("url: fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("url: fetching %s: unexpected status %s", rawURL, resp.Status)
	}

	out, err := os.Create(outFile)
	if err != nil {
		return fmt.Errorf("url: creating %s: %w", outFile, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("url: writing %s: %w", outFile, err)
	}
	return nil
}
