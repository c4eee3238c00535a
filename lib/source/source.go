// Package source defines the capability contract every source adapter
// must satisfy. The scheduler and orchestrator depend only on this
// interface; concrete adapters (ncbi, sra, ena, url) are otherwise
// opaque to the core engine.
package source

import "github.com/seqdd/seqdd/lib/job"

// Adapter expands accessions of one kind into a DAG of Jobs and paces
// queries to that kind's origin server. It owns its own pacer.Pacer.
type Adapter interface {
	// IsReady reports whether the adapter's external tooling is
	// available. A false result never itself fails; the orchestrator
	// logs a warning and skips the whole container.
	IsReady() bool

	// JobsFromAccessions expands accs into an ordered sequence of
	// Jobs realizing their download into datadir. Parent edges must
	// reference only Jobs in the returned sequence. An empty
	// accession list yields an empty sequence, not an error.
	JobsFromAccessions(accs []string, datadir string) ([]job.Job, error)
}
