// Package verify checks downloaded files against their expected MD5 digests
// and removes the ones that fail so a later run fetches them again.
package verify

import (
	"context"
	"crypto/md5" //nolint:gosec // the portal publishes MD5 digests
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/brwnj/gpd/internal/logger"
	"github.com/brwnj/gpd/pkg/download"
	"github.com/brwnj/gpd/pkg/errors"
	"github.com/brwnj/gpd/pkg/fsutil"
	"github.com/mholt/archives"
)

// DefaultChunkSize is the read size used while hashing.
const DefaultChunkSize = 4096

// Options control a VerifyAll run.
type Options struct {
	Concurrency int // values below 1 are clamped to 1
	ChunkSize   int // bytes read per step; 0 means DefaultChunkSize
}

// Result is the verification outcome of one fetch outcome.
type Result struct {
	Path     string
	Verified bool
	Expected string // expected digest, lower-case hex; empty when none was published
	Actual   string // computed digest; empty when the file was not read
	Format   string // detected container format such as ".gz"; "" when not recognised
	Err      error
}

// Report aggregates a VerifyAll run.
type Report struct {
	Validated int
	Failed    []string       // failed paths, or filenames for descriptors that were never fetched
	Deleted   []string       // files removed because they failed
	Formats   map[string]int // validated files per detected container format
	Results   []Result       // index-aligned with the input outcomes
}

// Event represents a simple progress notification.
type Event struct {
	Phase string // verified|failed|deleted
	ID    string // path
	Msg   string
}

// Hooks carries callbacks for progress events.
type Hooks struct {
	OnEvent func(Event)
}

func emit(h Hooks, e Event) {
	if h.OnEvent != nil {
		h.OnEvent(e)
	}
}

// Verifier computes digests with a bounded worker pool.
type Verifier struct {
	log   *slog.Logger
	hooks Hooks
}

// Option customises a Verifier.
type Option func(*Verifier)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) { v.log = l }
}

// WithHooks registers progress callbacks.
func WithHooks(h Hooks) Option {
	return func(v *Verifier) { v.hooks = h }
}

// NewVerifier creates a Verifier.
func NewVerifier(opts ...Option) *Verifier {
	v := &Verifier{}
	for _, opt := range opts {
		opt(v)
	}
	v.log = logger.OrDiscard(v.log)
	return v
}

// VerifyAll verifies every outcome and deletes the local files of those
// that fail. Per-item failures are reported in the Report, never returned.
func (v *Verifier) VerifyAll(ctx context.Context, outcomes []download.Outcome, opts Options) Report {
	if opts.Concurrency < 1 {
		v.log.Warn("Setting verification workers to 1", "requested", opts.Concurrency)
		opts.Concurrency = 1
	}
	if opts.ChunkSize < 1 {
		opts.ChunkSize = DefaultChunkSize
	}

	results := make([]Result, len(outcomes))
	var deleted []string
	var mu sync.Mutex

	tasks := make(chan []int)
	var wg sync.WaitGroup

	for w := 0; w < opts.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]byte, opts.ChunkSize)
			for group := range tasks {
				res, removed := v.verifyGroup(ctx, outcomes, group, buf)
				mu.Lock()
				for n, i := range group {
					results[i] = res[n]
				}
				if removed != "" {
					deleted = append(deleted, removed)
				}
				mu.Unlock()
			}
		}()
	}

	for _, group := range groupByPath(outcomes) {
		tasks <- group
	}
	close(tasks)
	wg.Wait()

	return buildReport(outcomes, results, deleted)
}

// groupByPath keeps outcomes sharing a file in one task so a deletion
// never races a digest of the same file. Unfetched outcomes stand alone.
func groupByPath(outcomes []download.Outcome) [][]int {
	index := make(map[string]int)
	var groups [][]int
	for i, o := range outcomes {
		if o.Path == "" {
			groups = append(groups, []int{i})
			continue
		}
		if g, ok := index[o.Path]; ok {
			groups[g] = append(groups[g], i)
			continue
		}
		index[o.Path] = len(groups)
		groups = append(groups, []int{i})
	}
	return groups
}

func (v *Verifier) verifyGroup(ctx context.Context, outcomes []download.Outcome, group []int, buf []byte) ([]Result, string) {
	results := make([]Result, len(group))
	first := outcomes[group[0]]

	if first.Failed() {
		results[0] = Result{
			Expected: normalize(first.Checksum),
			Err:      fmt.Errorf("%w: %s", errors.ErrNotFetched, first.Descriptor.Filename),
		}
		v.log.Debug("Skipping verification of unfetched file", "filename", first.Descriptor.Filename)
		emit(v.hooks, Event{Phase: "failed", ID: first.Descriptor.Filename, Msg: "not fetched"})
		return results, ""
	}

	path := first.Path
	actual, err := digestFile(ctx, path, buf)
	if err != nil {
		for n, i := range group {
			results[n] = Result{Path: path, Expected: normalize(outcomes[i].Checksum), Err: err}
		}
		v.log.Error("Could not compute digest", "path", path, "error", err)
		emit(v.hooks, Event{Phase: "failed", ID: path, Msg: err.Error()})
		// An interrupted read says nothing about the file's integrity.
		if ctx.Err() != nil {
			return results, ""
		}
		return results, v.remove(path)
	}

	var mismatch error
	for n, i := range group {
		expected := normalize(outcomes[i].Checksum)
		results[n] = Result{Path: path, Expected: expected, Actual: actual, Verified: true}
		if expected != "" && expected != actual {
			mismatch = errors.ErrDigestMismatchWithDetails(path, expected, actual)
			results[n].Verified = false
			results[n].Err = mismatch
		}
	}

	if mismatch != nil {
		// The file is removed, so descriptors that did match fail with it.
		for n := range results {
			if results[n].Verified {
				results[n].Verified = false
				results[n].Err = errors.Wrap(mismatch, "shared destination failed verification")
			}
		}
		v.log.Warn("Checksum mismatch", "path", path, "error", mismatch)
		emit(v.hooks, Event{Phase: "failed", ID: path, Msg: mismatch.Error()})
		return results, v.remove(path)
	}

	format := v.detectFormat(ctx, path)
	for n := range results {
		results[n].Format = format
	}
	v.log.Debug("Verified", "path", path, "md5", actual, "format", format)
	emit(v.hooks, Event{Phase: "verified", ID: path, Msg: actual})
	return results, ""
}

func (v *Verifier) remove(path string) string {
	removed, err := fsutil.RemoveIfExists(path)
	if err != nil {
		v.log.Error("Could not delete failed file", "path", path, "error", err)
		return ""
	}
	if !removed {
		return ""
	}
	emit(v.hooks, Event{Phase: "deleted", ID: path})
	return path
}

func buildReport(outcomes []download.Outcome, results []Result, deleted []string) Report {
	report := Report{Results: results, Deleted: deleted}
	seen := make(map[string]bool)
	for i, r := range results {
		if r.Verified {
			report.Validated++
			if r.Format != "" {
				if report.Formats == nil {
					report.Formats = make(map[string]int)
				}
				report.Formats[r.Format]++
			}
			continue
		}
		name := r.Path
		if name == "" {
			name = outcomes[i].Descriptor.Filename
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		report.Failed = append(report.Failed, name)
	}
	return report
}

// Digest returns the lower-case hex MD5 of the file at path, reading it in
// chunks of chunkSize bytes.
func Digest(ctx context.Context, path string, chunkSize int) (string, error) {
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}
	return digestFile(ctx, path, make([]byte, chunkSize))
}

func digestFile(ctx context.Context, path string, buf []byte) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errors.ErrDigestRead, err)
	}
	defer func() { _ = f.Close() }()

	h := md5.New() //nolint:gosec
	if _, err := io.CopyBuffer(h, contextReader{ctx: ctx, r: f}, buf); err != nil {
		return "", fmt.Errorf("%w: %s: %w", errors.ErrDigestRead, path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// contextReader stops a long read once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// detectFormat names the container format of path, or "" when unknown.
func (v *Verifier) detectFormat(ctx context.Context, path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer func() { _ = f.Close() }()

	format, _, err := archives.Identify(ctx, path, f)
	if err != nil {
		if !stderrors.Is(err, archives.NoMatch) {
			v.log.Debug("Format detection failed", "path", path, "error", err)
		}
		return ""
	}
	return format.Extension()
}

func normalize(sum string) string {
	return strings.ToLower(strings.TrimSpace(sum))
}
