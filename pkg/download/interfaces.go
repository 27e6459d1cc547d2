// Package download retrieves manifest files from the portal into a local tree.
package download

import (
	"context"
	"time"

	"github.com/brwnj/gpd/pkg/auth"
	"github.com/brwnj/gpd/pkg/manifest"
)

// Fetcher defines the interface for retrieving the files a manifest describes.
type Fetcher interface {
	// FetchAll downloads every descriptor into opts.Dir and returns one
	// Outcome per descriptor, index-aligned with descs. Per-file failures
	// are reported in the outcomes; the error is reserved for problems
	// that prevent any work (such as an unusable output directory).
	FetchAll(ctx context.Context, descs []manifest.Descriptor, opts Options) ([]Outcome, error)
}

// Options control a FetchAll run.
type Options struct {
	Dir         string             // output root. Must be absolute.
	Concurrency int                // number of parallel downloads; values below 1 are clamped to 1
	Retries     int                // additional attempts after the first failure
	RetryDelay  time.Duration      // backoff unit; the wait before attempt n+1 is n*RetryDelay
	Overwrite   bool               // re-download files that already exist locally
	Auth        auth.Authenticator // applied to every request; nil means anonymous
}

// Outcome is the result of fetching one descriptor.
type Outcome struct {
	Descriptor manifest.Descriptor
	Path       string // local file; empty when the fetch failed
	Checksum   string // expected digest carried forward to verification; empty on failure
	Skipped    bool   // the file already existed and was not downloaded
	Duplicate  bool   // another descriptor resolved to the same Path and was fetched instead
	Attempts   int    // network attempts made, 0 when skipped
	Err        error  // why the fetch failed; network failures wrap errors.ErrTransport
}

// Failed reports whether the descriptor could not be retrieved.
func (o Outcome) Failed() bool { return o.Path == "" }

// Event represents a simple progress notification.
type Event struct {
	Phase string // downloading|skipped|retry|failed|downloaded|collision
	ID    string // destination path
	Msg   string
}

// Hooks carries callbacks for progress events. OnEvent is called from
// worker goroutines and must be safe for concurrent use.
type Hooks struct {
	OnEvent func(Event)
}

func emit(h Hooks, e Event) {
	if h.OnEvent != nil {
		h.OnEvent(e)
	}
}
