package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/brwnj/gpd/internal/logger"
	"github.com/brwnj/gpd/pkg/download"
	"github.com/brwnj/gpd/pkg/errors"
	"github.com/brwnj/gpd/pkg/fsutil"
	"github.com/brwnj/gpd/pkg/manifest"
	"github.com/brwnj/gpd/pkg/verify"
)

// Orchestrator ties the session, manifest, download and verification
// components together for a run.
type Orchestrator struct {
	Sessions SessionProvider
	Loader   DescriptorLoader
	DL       Fetcher
	Verifier Verifier
	Hooks    Hooks // Hooks for progress and event notifications
	Log      *slog.Logger

	mu    sync.Mutex
	state State
}

// New constructs an Orchestrator from existing components. Helper for wiring.
func New(sessions SessionProvider, loader DescriptorLoader, dl Fetcher, verifier Verifier, hooks Hooks, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		Sessions: sessions,
		Loader:   loader,
		DL:       dl,
		Verifier: verifier,
		Hooks:    hooks,
		Log:      log,
	}
}

// State returns the current state of the run.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State, id, msg string) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	if o.Hooks.OnEvent != nil {
		o.Hooks.OnEvent(Event{Phase: s.String(), ID: id, Msg: msg})
	}
}

func (o *Orchestrator) fail(id string, err error) (Summary, error) {
	o.setState(StateFailed, id, err.Error())
	return Summary{}, err
}

// Run signs in, loads the manifest, downloads every descriptor and verifies
// the results. Only session, manifest and setup problems are returned as
// errors; per-file failures are reported in the Summary.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Summary, error) {
	log := logger.OrDiscard(o.Log)
	o.setState(StateInit, req.ManifestPath, "")

	if o.Sessions == nil || o.Loader == nil || o.DL == nil || o.Verifier == nil {
		return o.fail(req.ManifestPath, fmt.Errorf("orchestrator is not fully configured"))
	}
	dir, err := prepareOutputDir(req.OutputDir)
	if err != nil {
		return o.fail(req.ManifestPath, err)
	}

	session, err := o.Sessions.Login(ctx, dir)
	if err != nil {
		return o.fail(req.ManifestPath, err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn("Could not remove session artifact", "error", err)
		}
	}()
	o.setState(StateAuthenticated, req.ManifestPath, "")

	descs, err := o.loadDescriptors(ctx, req)
	if err != nil {
		return o.fail(req.ManifestPath, err)
	}
	log.Info(fmt.Sprintf("Found %d files", len(descs)))
	o.setState(StateDescriptorsLoaded, req.ManifestPath, fmt.Sprint(len(descs)))

	o.setState(StateFetching, req.ManifestPath, "")
	outcomes, err := o.DL.FetchAll(ctx, descs, download.Options{
		Dir:         dir,
		Concurrency: req.Concurrency,
		Retries:     req.Retries,
		RetryDelay:  req.RetryDelay,
		Overwrite:   req.Overwrite,
		Auth:        session,
	})
	if err != nil {
		return o.fail(req.ManifestPath, err)
	}

	summary := summarizeFetch(descs, outcomes)
	log.Info(fmt.Sprintf("Downloaded %d files", summary.Downloaded), "skipped", summary.Skipped, "failed", summary.FetchFailed)

	return o.verify(ctx, req, outcomes, summary), nil
}

// VerifyOnly checks an existing output tree against the manifest without
// signing in or downloading. Missing files are reported as failed.
func (o *Orchestrator) VerifyOnly(ctx context.Context, req Request) (Summary, error) {
	o.setState(StateInit, req.ManifestPath, "")

	if o.Loader == nil || o.Verifier == nil {
		return o.fail(req.ManifestPath, fmt.Errorf("orchestrator is not fully configured"))
	}
	dir, err := filepath.Abs(req.OutputDir)
	if err != nil {
		return o.fail(req.ManifestPath, errors.Wrap(err, "could not resolve output dir"))
	}

	descs, err := o.loadDescriptors(ctx, req)
	if err != nil {
		return o.fail(req.ManifestPath, err)
	}
	logger.OrDiscard(o.Log).Info(fmt.Sprintf("Found %d files", len(descs)))
	o.setState(StateDescriptorsLoaded, req.ManifestPath, fmt.Sprint(len(descs)))

	outcomes := localOutcomes(descs, dir)
	return o.verify(ctx, req, outcomes, summarizeFetch(descs, outcomes)), nil
}

func (o *Orchestrator) loadDescriptors(ctx context.Context, req Request) ([]manifest.Descriptor, error) {
	descs, err := o.Loader.Load(ctx, req.ManifestPath)
	if err != nil {
		return nil, err
	}
	return manifest.Filter(ctx, descs, req.Filter)
}

func (o *Orchestrator) verify(ctx context.Context, req Request, outcomes []download.Outcome, summary Summary) Summary {
	log := logger.OrDiscard(o.Log)
	o.setState(StateVerifying, req.ManifestPath, "")

	report := o.Verifier.VerifyAll(ctx, outcomes, verify.Options{Concurrency: req.Concurrency, ChunkSize: req.ChunkSize})
	summary.Validated = report.Validated
	summary.Failed = report.Failed
	summary.Deleted = report.Deleted
	summary.Formats = report.Formats

	log.Info(fmt.Sprintf("%d files validated", summary.Validated))
	if len(summary.Failed) > 0 {
		log.Warn(fmt.Sprintf("%d files failed to download successfully", len(summary.Failed)), "files", summary.Failed)
	}
	for _, path := range summary.Deleted {
		log.Debug("Deleted", "path", path)
	}

	o.setState(StateDone, req.ManifestPath, "")
	return summary
}

func prepareOutputDir(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", errors.Wrap(err, "could not resolve output dir")
	}
	if err := os.MkdirAll(abs, fsutil.DirModeDefault); err != nil {
		return "", errors.Wrap(err, "could not create output dir")
	}
	return abs, nil
}

// summarizeFetch counts distinct destinations; collisions are listed once.
func summarizeFetch(descs []manifest.Descriptor, outcomes []download.Outcome) Summary {
	s := Summary{Descriptors: len(descs)}
	seen := make(map[string]bool)
	for _, o := range outcomes {
		if o.Duplicate {
			name := o.Path
			if name == "" {
				name = o.Descriptor.Filename
			}
			if !seen[name] {
				seen[name] = true
				s.Collisions = append(s.Collisions, name)
			}
			continue
		}
		switch {
		case o.Failed():
			s.FetchFailed++
		case o.Skipped:
			s.Skipped++
		default:
			s.Downloaded++
		}
	}
	return s
}

// localOutcomes maps descriptors onto an existing tree the way the
// download manager lays it out.
func localOutcomes(descs []manifest.Descriptor, dir string) []download.Outcome {
	outcomes := make([]download.Outcome, len(descs))
	claimed := make(map[string]bool)
	for i, d := range descs {
		if fsutil.FileName(d.Filename) == "" {
			outcomes[i] = download.Outcome{Descriptor: d, Err: fmt.Errorf("%w: filename %q", errors.ErrInvalidPath, d.Filename)}
			continue
		}
		path := fsutil.DestinationPath(dir, d.ParentFolder, d.Filename)
		out := download.Outcome{Descriptor: d, Duplicate: claimed[path]}
		claimed[path] = true
		if fsutil.IsRegularFile(path) {
			out.Path = path
			out.Checksum = d.MD5
			out.Skipped = true
		} else {
			out.Err = fmt.Errorf("%w: %s", errors.ErrNotFetched, path)
		}
		outcomes[i] = out
	}
	return outcomes
}
