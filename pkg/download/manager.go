package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/brwnj/gpd/internal/logger"
	"github.com/brwnj/gpd/pkg/auth"
	pkgerrors "github.com/brwnj/gpd/pkg/errors"
	"github.com/brwnj/gpd/pkg/fsutil"
	"github.com/brwnj/gpd/pkg/manifest"
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// ManagerImpl downloads manifest descriptors over HTTP with a bounded
// worker pool, per-file retries and linear backoff.
type ManagerImpl struct {
	client    *http.Client
	baseURL   string
	userAgent string
	sleep     Sleeper
	log       *slog.Logger
	hooks     Hooks
}

// ManagerOption customises a ManagerImpl.
type ManagerOption func(*ManagerImpl)

// WithLogger sets the logger used for per-file progress.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *ManagerImpl) { m.log = l }
}

// WithHooks registers progress callbacks.
func WithHooks(h Hooks) ManagerOption {
	return func(m *ManagerImpl) { m.hooks = h }
}

// WithSleeper replaces the backoff wait, mainly for tests.
func WithSleeper(s Sleeper) ManagerOption {
	return func(m *ManagerImpl) { m.sleep = s }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) ManagerOption {
	return func(m *ManagerImpl) { m.client = c }
}

// NewManager creates a download manager resolving descriptor URLs against
// baseURL. A zero timeout leaves requests bounded only by the context,
// which suits multi-gigabyte files.
func NewManager(baseURL string, timeout time.Duration, userAgent string, opts ...ManagerOption) *ManagerImpl {
	if userAgent == "" {
		userAgent = "gpd/1.0"
	}
	m := &ManagerImpl{
		client:    newHTTPClient(timeout),
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = logger.OrDiscard(m.log)
	return m
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 32
	transport.MaxIdleConns = 64
	transport.IdleConnTimeout = 90 * time.Second
	// Digests are computed over the bytes as served.
	transport.DisableCompression = true
	return &http.Client{Transport: transport, Timeout: timeout}
}

// FetchAll downloads all descriptors concurrently. See Fetcher.
func (m *ManagerImpl) FetchAll(ctx context.Context, descs []manifest.Descriptor, opts Options) ([]Outcome, error) {
	if opts.Concurrency < 1 {
		m.log.Warn("Setting download workers to 1", "requested", opts.Concurrency)
		opts.Concurrency = 1
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Auth == nil {
		opts.Auth = auth.Anonymous{}
	}
	if opts.Dir == "" || !filepath.IsAbs(opts.Dir) {
		return nil, fmt.Errorf("download dir must be absolute: %w: %s", pkgerrors.ErrInvalidPath, opts.Dir)
	}
	if err := os.MkdirAll(opts.Dir, fsutil.DirModeDefault); err != nil {
		return nil, pkgerrors.Wrap(err, "could not create download dir")
	}

	groups := m.groupByDestination(descs, opts.Dir)
	return m.runDownloadWorkers(ctx, descs, groups, opts), nil
}

// groupByDestination maps each destination path to the descriptor indexes
// resolving to it, in first-seen order. Only the first descriptor of a
// group is fetched so two workers never write the same file.
func (m *ManagerImpl) groupByDestination(descs []manifest.Descriptor, dir string) [][]int {
	index := make(map[string]int)
	var groups [][]int
	for i, d := range descs {
		if fsutil.FileName(d.Filename) == "" {
			groups = append(groups, []int{i})
			continue
		}
		path := fsutil.DestinationPath(dir, d.ParentFolder, d.Filename)
		g, ok := index[path]
		if !ok {
			index[path] = len(groups)
			groups = append(groups, []int{i})
			continue
		}
		groups[g] = append(groups[g], i)
		first := descs[groups[g][0]]
		m.log.Warn("Duplicate destination in manifest; fetching it once",
			"path", path, "url", d.URL, "first_url", first.URL, "checksum_differs", first.MD5 != d.MD5)
		emit(m.hooks, Event{Phase: "collision", ID: path, Msg: d.URL})
	}
	return groups
}

func (m *ManagerImpl) runDownloadWorkers(ctx context.Context, descs []manifest.Descriptor, groups [][]int, opts Options) []Outcome {
	results := make([]Outcome, len(descs))
	var mu sync.Mutex

	tasks := make(chan []int)
	var wg sync.WaitGroup

	for w := 0; w < opts.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for group := range tasks {
				first := m.fetchOne(ctx, descs[group[0]], opts)
				mu.Lock()
				for n, i := range group {
					out := first
					out.Descriptor = descs[i]
					if !out.Failed() {
						out.Checksum = descs[i].MD5
					}
					if n > 0 {
						out.Duplicate = true
						out.Attempts = 0
					}
					results[i] = out
				}
				mu.Unlock()
			}
		}()
	}

	for _, group := range groups {
		tasks <- group
	}
	close(tasks)
	wg.Wait()
	return results
}

func (m *ManagerImpl) fetchOne(ctx context.Context, d manifest.Descriptor, opts Options) Outcome {
	if fsutil.FileName(d.Filename) == "" {
		err := fmt.Errorf("%w: filename %q", pkgerrors.ErrInvalidPath, d.Filename)
		m.log.Error("Filename does not name a file", "filename", d.Filename, "url", d.URL)
		emit(m.hooks, Event{Phase: "failed", ID: d.Filename, Msg: err.Error()})
		return Outcome{Descriptor: d, Err: err}
	}
	dir := fsutil.DestinationDir(opts.Dir, d.ParentFolder)
	if err := os.MkdirAll(dir, fsutil.DirModeDefault); err != nil {
		m.log.Error("Could not create output folder", "dir", dir, "error", err)
		return Outcome{Descriptor: d, Err: pkgerrors.Wrap(err, "could not create output folder")}
	}
	path := fsutil.DestinationPath(opts.Dir, d.ParentFolder, d.Filename)

	if info, err := os.Stat(path); err == nil && !info.Mode().IsRegular() {
		err := fmt.Errorf("%w: %s is not a regular file", pkgerrors.ErrInvalidPath, path)
		m.log.Error("Destination is not a regular file", "path", path)
		emit(m.hooks, Event{Phase: "failed", ID: path, Msg: err.Error()})
		return Outcome{Descriptor: d, Err: err}
	}
	if !opts.Overwrite && fsutil.IsRegularFile(path) {
		m.log.Debug("File exists", "path", path)
		emit(m.hooks, Event{Phase: "skipped", ID: path})
		return Outcome{Descriptor: d, Path: path, Checksum: d.MD5, Skipped: true}
	}

	url := m.resolveURL(d.URL)
	m.log.Debug("Downloading", "filename", d.Filename, "url", url)
	emit(m.hooks, Event{Phase: "downloading", ID: path, Msg: d.Filename})

	for attempt := 1; ; attempt++ {
		err := m.download(ctx, url, path, opts.Auth)
		if err == nil {
			emit(m.hooks, Event{Phase: "downloaded", ID: path, Msg: d.Filename})
			return Outcome{Descriptor: d, Path: path, Checksum: d.MD5, Attempts: attempt}
		}
		if attempt > opts.Retries {
			m.log.Error("Download failed", "filename", d.Filename, "attempts", attempt, "error", err)
			emit(m.hooks, Event{Phase: "failed", ID: path, Msg: err.Error()})
			return Outcome{Descriptor: d, Attempts: attempt, Err: err}
		}

		delay := time.Duration(attempt) * opts.RetryDelay
		m.log.Warn("Download attempt failed; retrying", "filename", d.Filename, "attempt", attempt, "delay", delay, "error", err)
		emit(m.hooks, Event{Phase: "retry", ID: path, Msg: fmt.Sprintf("attempt %d: %v", attempt, err)})
		if serr := m.sleep(ctx, delay); serr != nil {
			err = fmt.Errorf("%w: %w (after %d attempts)", pkgerrors.ErrTransport, serr, attempt)
			emit(m.hooks, Event{Phase: "failed", ID: path, Msg: err.Error()})
			return Outcome{Descriptor: d, Attempts: attempt, Err: err}
		}
	}
}

// resolveURL appends a manifest URL fragment to the base URL. Absolute
// URLs are used as-is.
func (m *ManagerImpl) resolveURL(fragment string) string {
	if strings.HasPrefix(fragment, "http://") || strings.HasPrefix(fragment, "https://") {
		return fragment
	}
	return m.baseURL + "/" + strings.TrimLeft(fragment, "/")
}

func (m *ManagerImpl) download(ctx context.Context, url, path string, authenticator auth.Authenticator) error {
	resp, err := m.doRequest(ctx, url, authenticator)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	tmpPath, err := writeBodyToTemp(resp.Body, path)
	if err != nil {
		return err
	}
	if err := finalizeFile(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func (m *ManagerImpl) doRequest(ctx context.Context, url string, authenticator auth.Authenticator) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to create request")
	}
	req.Header.Set("User-Agent", m.userAgent)
	if err := authenticator.Apply(req); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to authenticate request")
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pkgerrors.ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
		return nil, pkgerrors.ErrTransportWithStatus(resp.StatusCode)
	}
	return resp, nil
}

// writeBodyToTemp streams body into a temp file next to absPath so a
// broken transfer never leaves a truncated file at the destination.
func writeBodyToTemp(body io.Reader, absPath string) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(absPath), ".dl-*.tmp")
	if err != nil {
		return "", pkgerrors.Wrap(err, "could not create temp file")
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("%w: could not write file: %w", pkgerrors.ErrTransport, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", pkgerrors.Wrap(err, "could not sync file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", pkgerrors.Wrap(err, "could not close file")
	}
	return tmpPath, nil
}

func finalizeFile(tmpPath, absPath string) error {
	if err := fsutil.Move(tmpPath, absPath); err != nil {
		return pkgerrors.Wrap(err, "could not finalize file")
	}
	if err := os.Chmod(absPath, fsutil.FileModeDefault); err != nil {
		return pkgerrors.Wrap(err, "could not set permissions")
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
