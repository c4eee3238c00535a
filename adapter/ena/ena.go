// Package ena implements the fetch-then-verify-then-move source
// adapter for the European Nucleotide Archive: a synchronous portal
// API query resolves each accession to one or more submitted FTP
// files and their MD5 checksums, one curl job per file downloads them
// independently, and a single move_and_clean_verified job checks the
// checksums before relocating everything into datadir. Grounded on
// the original Python seqdd tool's ENA data source
// (register/sources/ena.py): the submitted_ftp/submitted_md5 XML then
// TSV query chain, and the GCA assembly special case.
package ena

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/seqdd/seqdd/lib/job"
	"github.com/seqdd/seqdd/lib/pacer"
	"github.com/seqdd/seqdd/lib/stage"
)

// MinDelay is the minimum spacing between ENA portal API queries.
const MinDelay = 350 * time.Millisecond

var submittedIDPattern = regexp.MustCompile(`<ID><!\[CDATA\[(https?://[^\]]*submitted_ftp[^\]]*)\]\]></ID>`)

// Adapter downloads reads and assemblies from ENA's public FTP mirror.
type Adapter struct {
	tmpDir string
	pacer  *pacer.Pacer
	client *http.Client
}

// New returns an Adapter bound to tmpDir for staging. ENA requires no
// local binary, so it is always ready.
func New(tmpDir string) *Adapter {
	return &Adapter{
		tmpDir: tmpDir,
		pacer:  pacer.New(MinDelay),
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// IsReady always reports true: ENA access needs no local tooling.
func (a *Adapter) IsReady() bool {
	return true
}

// JobsFromAccessions builds, for every accession, either the assembly
// shape (download -> gzip -> move) for GCA accessions or the reads
// shape (independent curl-per-file -> move_and_clean_verified) for
// run accessions.
func (a *Adapter) JobsFromAccessions(accs []string, datadir string) ([]job.Job, error) {
	var jobs []job.Job

	for _, acc := range accs {
		tmpDir := filepath.Join(a.tmpDir, acc)
		jobName := fmt.Sprintf("ena_%s", acc)

		if strings.HasPrefix(acc, "GCA") {
			jobs = append(jobs, a.assemblyJobs(acc, tmpDir, datadir, jobName)...)
			continue
		}

		files, err := a.fetchFTPURLs(acc)
		if err != nil {
			return nil, fmt.Errorf("ena: resolving %s: %w", acc, err)
		}
		if len(files) == 0 {
			continue
		}

		var curlJobs []job.Job
		checksums := make(map[string]string, len(files))
		for _, f := range files {
			filename := filepath.Base(f.url)
			checksums[filename] = f.md5
			outFile := filepath.Join(tmpDir, filename)
			cmd := fmt.Sprintf("curl -s -o %s %q", shellQuote(outFile), f.url)
			curlJob, err := job.NewCommandJob(jobName+"_"+filename, cmd, nil, a.pacer.DelayReady)
			if err != nil {
				return nil, err
			}
			curlJobs = append(curlJobs, curlJob)
		}

		moveJob, err := stage.NewMoveAndCleanVerifiedJob(jobName+"_move", tmpDir, datadir, checksums, curlJobs)
		if err != nil {
			return nil, err
		}

		jobs = append(jobs, curlJobs...)
		jobs = append(jobs, moveJob)
	}

	return jobs, nil
}

func (a *Adapter) assemblyJobs(assembly, tmpDir, datadir, jobName string) []job.Job {
	url := fmt.Sprintf("https://www.ebi.ac.uk/ena/browser/api/fasta/%s", assembly)
	outFile := filepath.Join(tmpDir, assembly+".fa")

	downloadCmd := fmt.Sprintf("curl -o %s %q", shellQuote(outFile), url)
	downloadJob, err := job.NewCommandJob(jobName+"_download", downloadCmd, nil, a.pacer.DelayReady)
	if err != nil {
		return nil
	}

	gzipCmd := fmt.Sprintf("gzip %s", shellQuote(outFile))
	gzipJob, err := job.NewCommandJob(jobName+"_gzip", gzipCmd, []job.Job{downloadJob}, nil)
	if err != nil {
		return nil
	}

	moveJob, err := stage.NewMoveAndCleanJob(jobName+"_move", tmpDir, datadir, []job.Job{gzipJob})
	if err != nil {
		return nil
	}

	return []job.Job{downloadJob, gzipJob, moveJob}
}

type submittedFile struct {
	url string
	md5 string
}

// fetchFTPURLs resolves an accession to its submitted FTP files and
// their MD5 checksums, pacing both requests through the shared
// source mutex. It blocks on WaitMyTurn rather than polling
// DelayReady because this query must run synchronously before any
// job can be built from its result.
func (a *Adapter) fetchFTPURLs(accession string) ([]submittedFile, error) {
	xmlURL := fmt.Sprintf("https://www.ebi.ac.uk/ena/browser/api/xml/%s?download=false&gzip=false&includeLinks=false", accession)
	body, err := a.get(xmlURL)
	if err != nil {
		return nil, fmt.Errorf("querying ENA browser API: %w", err)
	}

	match := submittedIDPattern.FindStringSubmatch(body)
	if match == nil {
		return nil, fmt.Errorf("no submitted files found for accession %s", accession)
	}

	tsv, err := a.get(match[1])
	if err != nil {
		return nil, fmt.Errorf("querying submitted file list: %w", err)
	}

	return parseSubmittedTSV(tsv)
}

func parseSubmittedTSV(tsv string) ([]submittedFile, error) {
	scanner := bufio.NewScanner(strings.NewReader(strings.TrimSpace(tsv)))
	if !scanner.Scan() {
		return nil, nil
	}
	header := strings.Split(scanner.Text(), "\t")

	ftpIdx, md5Idx := -1, -1
	for i, col := range header {
		switch col {
		case "submitted_ftp":
			ftpIdx = i
		case "submitted_md5":
			md5Idx = i
		}
	}
	if ftpIdx < 0 || md5Idx < 0 {
		return nil, fmt.Errorf("no submitted_ftp/submitted_md5 columns in response")
	}

	var files []submittedFile
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) <= ftpIdx || len(fields) <= md5Idx {
			continue
		}
		urls := strings.Split(fields[ftpIdx], ";")
		md5s := strings.Split(fields[md5Idx], ";")
		for i, u := range urls {
			if u == "" {
				continue
			}
			md5 := ""
			if i < len(md5s) {
				md5 = md5s[i]
			}
			if !strings.Contains(u, "://") {
				u = "https://" + u
			}
			files = append(files, submittedFile{url: u, md5: md5})
		}
	}
	return files, scanner.Err()
}

// get performs a paced, synchronous GET, releasing the pacer's mutex
// as soon as the request completes regardless of outcome. Transient
// failures (network errors, 5xx) are retried with exponential backoff;
// the ENA portal API is known to 503 under load.
func (a *Adapter) get(url string) (string, error) {
	release := a.pacer.WaitMyTurn()
	defer release()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second

	return backoff.Retry(context.Background(), func() (string, error) {
		resp, err := a.client.Get(url)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return "", fmt.Errorf("ena portal API: %s", resp.Status)
		}
		if resp.StatusCode != http.StatusOK {
			return "", backoff.Permanent(fmt.Errorf("unexpected status %s", resp.Status))
		}
		return string(data), nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(4))
}

func shellQuote(s string) string {
	if !strings.ContainsAny(s, " \t\n'\"$`\\") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
