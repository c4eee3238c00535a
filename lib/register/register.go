// Package register implements the persistent accession register's
// on-disk formats (spec.md §6) to the minimal degree this engine needs:
// enough to load a register and iterate its non-empty containers. The
// register's full mutation surface (init/add/remove/list/export) is out
// of scope; this package only ever reads.
package register

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/seqdd/seqdd/lib/source"
)

// SupportedMajorVersion and SupportedMinorVersion bound the register
// file versions this engine accepts, per spec.md §6: a major version
// mismatch or a minor version newer than supported is rejected outright.
const (
	SupportedMajorVersion = 0
	SupportedMinorVersion = 0
)

// ErrUnsupportedVersion is returned when a register file declares a
// version this engine cannot read.
var ErrUnsupportedVersion = fmt.Errorf("register: unsupported version")

// Container is a named bucket of accessions of one semantic kind, bound
// one-to-one with a source.Adapter.
type Container struct {
	Name       string
	Accessions []string
	Adapter    source.Adapter
}

// Register holds the accession sets loaded from a register file or
// directory, keyed by container name.
type Register struct {
	containers map[string][]string
	order      []string
}

// New creates an empty Register.
func New() *Register {
	return &Register{containers: make(map[string][]string)}
}

// LoadFile parses the line-oriented register file format:
//
//	version <major>.<minor>
//	<container_name>\t<count>
//	<accession>
//	...(count accessions)...
//
// Blank lines and lines beginning with '#' are skipped. A major version
// mismatch, a minor version greater than SupportedMinorVersion, or a
// missing or malformed version line is rejected with
// ErrUnsupportedVersion.
func LoadFile(path string) (*Register, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("register: opening %s: %w", path, err)
	}
	defer f.Close()

	r := New()
	scanner := bufio.NewScanner(f)

	versionSeen := false
	var current string
	var remaining int

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if !versionSeen {
			major, minor, err := parseVersionLine(line)
			if err != nil {
				return nil, fmt.Errorf("register: %s: %v: %w", path, err, ErrUnsupportedVersion)
			}
			if major != SupportedMajorVersion || minor > SupportedMinorVersion {
				return nil, fmt.Errorf("register: %s: version %d.%d unsupported (engine supports major %d, up to minor %d): %w",
					path, major, minor, SupportedMajorVersion, SupportedMinorVersion, ErrUnsupportedVersion)
			}
			versionSeen = true
			continue
		}

		if remaining == 0 {
			parts := strings.SplitN(line, "\t", 2)
			if len(parts) != 2 {
				return nil, fmt.Errorf("register: %s: malformed container header %q", path, line)
			}
			count, err := strconv.Atoi(parts[1])
			if err != nil || count < 0 {
				return nil, fmt.Errorf("register: %s: malformed container count %q", path, line)
			}
			current = parts[0]
			remaining = count
			if _, ok := r.containers[current]; !ok {
				r.order = append(r.order, current)
			}
			continue
		}

		r.containers[current] = append(r.containers[current], line)
		remaining--
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("register: reading %s: %w", path, err)
	}
	if !versionSeen {
		return nil, fmt.Errorf("register: %s: missing version header: %w", path, ErrUnsupportedVersion)
	}

	return r, nil
}

func parseVersionLine(line string) (major, minor int, err error) {
	fields := strings.Fields(line)
	if len(fields) != 2 || fields[0] != "version" {
		return 0, 0, fmt.Errorf("missing version number at the beginning of the register file")
	}
	parts := strings.SplitN(fields[1], ".", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed version %q", fields[1])
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed major version %q", parts[0])
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed minor version %q", parts[1])
	}
	return major, minor, nil
}

// LoadDir parses the directory register format: one file per container
// named "<container_name>.txt", one accession per line; empty lines are
// ignored and an empty or missing file is equivalent to an empty
// container. containerNames fixes the set of containers to look for
// (the directory format has no version header to enumerate them from).
func LoadDir(dir string, containerNames []string) (*Register, error) {
	r := New()
	for _, name := range containerNames {
		path := filepath.Join(dir, name+".txt")
		accs, err := readAccessionFile(path)
		if err != nil {
			return nil, err
		}
		if len(accs) > 0 {
			r.containers[name] = accs
			r.order = append(r.order, name)
		}
	}
	return r, nil
}

func readAccessionFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("register: opening %s: %w", path, err)
	}
	defer f.Close()

	var accs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		acc := strings.TrimSpace(scanner.Text())
		if acc != "" {
			accs = append(accs, acc)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("register: reading %s: %w", path, err)
	}
	return accs, nil
}

// Accessions returns the accessions registered under name, or nil if the
// container is empty or absent.
func (r *Register) Accessions(name string) []string {
	return r.containers[name]
}

// ContainerNames returns every non-empty container name, in the order
// they were first encountered while loading.
func (r *Register) ContainerNames() []string {
	names := make([]string, 0, len(r.order))
	for _, name := range r.order {
		if len(r.containers[name]) > 0 {
			names = append(names, name)
		}
	}
	return names
}

// Containers binds each non-empty container name to its adapter from
// the caller-supplied adapters map, producing the (container, accessions)
// iterator the download-execution engine consumes. A name with no entry
// in adapters makes it return an error and no containers, so callers can
// decide whether that is fatal.
func (r *Register) Containers(adapters map[string]source.Adapter) ([]Container, error) {
	var out []Container
	for _, name := range r.ContainerNames() {
		adapter, ok := adapters[name]
		if !ok {
			return nil, fmt.Errorf("register: no adapter bound for container %q", name)
		}
		out = append(out, Container{
			Name:       name,
			Accessions: r.containers[name],
			Adapter:    adapter,
		})
	}
	return out, nil
}
