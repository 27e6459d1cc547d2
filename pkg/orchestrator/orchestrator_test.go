package orchestrator_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/brwnj/gpd/pkg/auth"
	"github.com/brwnj/gpd/pkg/download"
	"github.com/brwnj/gpd/pkg/errors"
	"github.com/brwnj/gpd/pkg/manifest"
	"github.com/brwnj/gpd/pkg/orchestrator"
	ocmocks "github.com/brwnj/gpd/pkg/orchestrator/mocks"
	"github.com/brwnj/gpd/pkg/verify"
	"github.com/brwnj/gpd/test/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const emptyMD5 = "d41d8cd98f00b204e9800998ecf8427e"

type phaseRecorder struct {
	mu     sync.Mutex
	phases []string
}

func (r *phaseRecorder) hooks() orchestrator.Hooks {
	return orchestrator.Hooks{OnEvent: func(e orchestrator.Event) {
		r.mu.Lock()
		r.phases = append(r.phases, e.Phase)
		r.mu.Unlock()
	}}
}

func TestRun_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	sessions := ocmocks.NewMockSessionProvider(ctrl)
	session := ocmocks.NewMockSession(ctrl)
	loader := ocmocks.NewMockDescriptorLoader(ctrl)
	dl := ocmocks.NewMockFetcher(ctrl)
	verifier := ocmocks.NewMockVerifier(ctrl)

	out := t.TempDir()
	descs := []manifest.Descriptor{
		{URL: "/a", Filename: "a.gz", ParentFolder: "Run A", MD5: emptyMD5},
		{URL: "/b", Filename: "b.gz", ParentFolder: "Run A"},
		{URL: "/c", Filename: "c.gz"},
		{URL: "/a2", Filename: "a.gz", ParentFolder: "Run A"},
	}
	outcomes := []download.Outcome{
		{Descriptor: descs[0], Path: filepath.Join(out, "Run_A", "a.gz"), Checksum: emptyMD5, Attempts: 1},
		{Descriptor: descs[1], Path: filepath.Join(out, "Run_A", "b.gz"), Skipped: true},
		{Descriptor: descs[2], Attempts: 6, Err: errors.ErrTransport},
		{Descriptor: descs[3], Path: filepath.Join(out, "Run_A", "a.gz"), Duplicate: true},
	}
	report := verify.Report{Validated: 2, Failed: []string{"c.gz"}, Formats: map[string]int{".gz": 2}}

	gomock.InOrder(
		sessions.EXPECT().Login(gomock.Any(), out).Return(session, nil),
		loader.EXPECT().Load(gomock.Any(), "manifest.xml").Return(descs, nil),
		dl.EXPECT().FetchAll(gomock.Any(), descs, gomock.Any()).DoAndReturn(
			func(_ context.Context, _ []manifest.Descriptor, opts download.Options) ([]download.Outcome, error) {
				assert.Equal(t, out, opts.Dir)
				assert.Equal(t, 3, opts.Concurrency)
				assert.Equal(t, 4, opts.Retries)
				assert.Equal(t, time.Second, opts.RetryDelay)
				assert.True(t, opts.Overwrite)
				assert.Same(t, session, opts.Auth)
				return outcomes, nil
			}),
		verifier.EXPECT().VerifyAll(gomock.Any(), outcomes, verify.Options{Concurrency: 3, ChunkSize: 1024}).Return(report),
		session.EXPECT().Close().Return(nil),
	)

	rec := &phaseRecorder{}
	orch := orchestrator.New(sessions, loader, dl, verifier, rec.hooks(), nil)

	summary, err := orch.Run(context.Background(), orchestrator.Request{
		ManifestPath: "manifest.xml",
		OutputDir:    out,
		Overwrite:    true,
		Retries:      4,
		RetryDelay:   time.Second,
		Concurrency:  3,
		ChunkSize:    1024,
	})
	require.NoError(t, err)

	assert.Equal(t, orchestrator.Summary{
		Descriptors: 4,
		Downloaded:  1,
		Skipped:     1,
		FetchFailed: 1,
		Validated:   2,
		Failed:      []string{"c.gz"},
		Collisions:  []string{filepath.Join(out, "Run_A", "a.gz")},
		Formats:     map[string]int{".gz": 2},
	}, summary)
	assert.Equal(t, orchestrator.StateDone, orch.State())
	assert.Equal(t, []string{"init", "authenticated", "descriptors_loaded", "fetching", "verifying", "done"}, rec.phases)
}

func TestRun_AuthenticationFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	sessions := ocmocks.NewMockSessionProvider(ctrl)
	loader := ocmocks.NewMockDescriptorLoader(ctrl)
	dl := ocmocks.NewMockFetcher(ctrl)
	verifier := ocmocks.NewMockVerifier(ctrl)

	sessions.EXPECT().Login(gomock.Any(), gomock.Any()).Return(nil, errors.ErrAuthentication)

	rec := &phaseRecorder{}
	orch := orchestrator.New(sessions, loader, dl, verifier, rec.hooks(), nil)
	summary, err := orch.Run(context.Background(), orchestrator.Request{ManifestPath: "m.xml", OutputDir: t.TempDir()})

	assert.ErrorIs(t, err, errors.ErrAuthentication)
	assert.Equal(t, orchestrator.Summary{}, summary)
	assert.Equal(t, orchestrator.StateFailed, orch.State())
	assert.Equal(t, []string{"init", "failed"}, rec.phases)
}

func TestRun_ManifestFailure(t *testing.T) {
	tests := []struct {
		name     string
		descs    []manifest.Descriptor
		loadErr  error
		filter   string
		expected error
	}{
		{name: "parse error", loadErr: errors.ErrManifestParse, expected: errors.ErrManifestParse},
		{name: "invalid filter", descs: []manifest.Descriptor{{URL: "/a", Filename: "a"}}, filter: "size +", expected: errors.ErrInvalidFilter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			sessions := ocmocks.NewMockSessionProvider(ctrl)
			session := ocmocks.NewMockSession(ctrl)
			loader := ocmocks.NewMockDescriptorLoader(ctrl)

			sessions.EXPECT().Login(gomock.Any(), gomock.Any()).Return(session, nil)
			loader.EXPECT().Load(gomock.Any(), "m.xml").Return(tt.descs, tt.loadErr)
			session.EXPECT().Close().Return(nil)

			orch := orchestrator.New(sessions, loader, ocmocks.NewMockFetcher(ctrl), ocmocks.NewMockVerifier(ctrl), orchestrator.Hooks{}, nil)
			_, err := orch.Run(context.Background(), orchestrator.Request{ManifestPath: "m.xml", OutputDir: t.TempDir(), Filter: tt.filter})
			assert.ErrorIs(t, err, tt.expected)
			assert.ErrorIs(t, err, errors.ErrManifestParse)
			assert.Equal(t, orchestrator.StateFailed, orch.State())
		})
	}
}

func TestRun_FetchSetupFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	sessions := ocmocks.NewMockSessionProvider(ctrl)
	session := ocmocks.NewMockSession(ctrl)
	loader := ocmocks.NewMockDescriptorLoader(ctrl)
	dl := ocmocks.NewMockFetcher(ctrl)

	sessions.EXPECT().Login(gomock.Any(), gomock.Any()).Return(session, nil)
	loader.EXPECT().Load(gomock.Any(), gomock.Any()).Return([]manifest.Descriptor{{URL: "/a", Filename: "a"}}, nil)
	dl.EXPECT().FetchAll(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.ErrInvalidPath)
	session.EXPECT().Close().Return(nil)

	orch := orchestrator.New(sessions, loader, dl, ocmocks.NewMockVerifier(ctrl), orchestrator.Hooks{}, nil)
	_, err := orch.Run(context.Background(), orchestrator.Request{ManifestPath: "m.xml", OutputDir: t.TempDir()})
	assert.ErrorIs(t, err, errors.ErrInvalidPath)
	assert.Equal(t, orchestrator.StateFailed, orch.State())
}

func TestRun_NotConfigured(t *testing.T) {
	orch := &orchestrator.Orchestrator{}
	_, err := orch.Run(context.Background(), orchestrator.Request{OutputDir: t.TempDir()})
	require.Error(t, err)
	assert.Equal(t, orchestrator.StateFailed, orch.State())

	_, err = orch.VerifyOnly(context.Background(), orchestrator.Request{OutputDir: t.TempDir()})
	require.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "init", orchestrator.StateInit.String())
	assert.Equal(t, "descriptors_loaded", orchestrator.StateDescriptorsLoaded.String())
	assert.Equal(t, "failed", orchestrator.StateFailed.String())
	assert.Equal(t, "unknown", orchestrator.State(42).String())
}

func newPortalOrchestrator(p *testutil.Portal) *orchestrator.Orchestrator {
	sessions := orchestrator.PortalSessions{
		Credentials: auth.Credentials{Username: "user", Password: "pass"},
		Options:     auth.LoginOptions{LoginURL: p.LoginURL(), CookieName: testutil.SessionCookie},
	}
	dl := download.NewManager(p.URL, 5*time.Second, "gpd-test",
		download.WithSleeper(func(context.Context, time.Duration) error { return nil }))
	return orchestrator.New(sessions, orchestrator.ManifestFiles{}, dl, verify.NewVerifier(), orchestrator.Hooks{}, nil)
}

func TestRun_EndToEnd_EmptyFileValidatedThenSkipped(t *testing.T) {
	p := testutil.NewPortal(t, map[string]string{"/data/sample.fastq.gz": ""})
	work := t.TempDir()
	out := filepath.Join(work, "out")
	manifestPath := testutil.WriteManifest(t, work,
		testutil.ManifestFile{Folder: "Run A", Filename: "sample.fastq.gz", URL: "/data/sample.fastq.gz", MD5: emptyMD5})

	req := orchestrator.Request{ManifestPath: manifestPath, OutputDir: out, Retries: 2, Concurrency: 2}

	summary, err := newPortalOrchestrator(p).Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Descriptors)
	assert.Equal(t, 1, summary.Downloaded)
	assert.Equal(t, 1, summary.Validated)
	assert.Empty(t, summary.Failed)
	assert.FileExists(t, filepath.Join(out, "Run_A", "sample.fastq.gz"))
	assert.NoFileExists(t, filepath.Join(out, auth.ArtifactName))
	assert.Equal(t, 1, p.Fetches())

	// a second run finds everything in place
	summary, err = newPortalOrchestrator(p).Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Downloaded)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Validated)
	assert.Equal(t, 1, p.Fetches(), "second run must not fetch")
}

func TestRun_EndToEnd_MismatchDeleted(t *testing.T) {
	p := testutil.NewPortal(t, map[string]string{
		"/data/good.txt":    "good",
		"/data/corrupt.txt": "corrupted in transit",
	})
	work := t.TempDir()
	out := filepath.Join(work, "out")
	manifestPath := testutil.WriteManifest(t, work,
		testutil.ManifestFile{Folder: "Run A", Filename: "good.txt", URL: "/data/good.txt"},
		testutil.ManifestFile{Folder: "Run A", Filename: "corrupt.txt", URL: "/data/corrupt.txt", MD5: "0123456789abcdef0123456789abcdef"})

	summary, err := newPortalOrchestrator(p).Run(context.Background(), orchestrator.Request{ManifestPath: manifestPath, OutputDir: out, Concurrency: 4})
	require.NoError(t, err)

	corrupt := filepath.Join(out, "Run_A", "corrupt.txt")
	assert.Equal(t, 2, summary.Downloaded)
	assert.Equal(t, 1, summary.Validated)
	assert.Equal(t, []string{corrupt}, summary.Failed)
	assert.Equal(t, []string{corrupt}, summary.Deleted)
	assert.NoFileExists(t, corrupt)
	assert.FileExists(t, filepath.Join(out, "Run_A", "good.txt"))
}

func TestRun_EndToEnd_MissingMarker(t *testing.T) {
	p := testutil.NewPortal(t, map[string]string{"/data/sample.fastq.gz": ""})
	p.RejectLogins()
	work := t.TempDir()
	out := filepath.Join(work, "out")
	manifestPath := testutil.WriteManifest(t, work,
		testutil.ManifestFile{Folder: "Run A", Filename: "sample.fastq.gz", URL: "/data/sample.fastq.gz"})

	orch := newPortalOrchestrator(p)
	_, err := orch.Run(context.Background(), orchestrator.Request{ManifestPath: manifestPath, OutputDir: out, Concurrency: 2})
	assert.ErrorIs(t, err, errors.ErrAuthentication)
	assert.Equal(t, orchestrator.StateFailed, orch.State())
	assert.Equal(t, 1, p.Logins())
	assert.Zero(t, p.Fetches())

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestVerifyOnly(t *testing.T) {
	work := t.TempDir()
	out := filepath.Join(work, "out")
	require.NoError(t, os.MkdirAll(filepath.Join(out, "Run_A"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(out, "Run_A", "sample.fastq.gz"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(out, "Run_A", "corrupt.txt"), []byte("x"), 0o644))

	manifestPath := testutil.WriteManifest(t, work,
		testutil.ManifestFile{Folder: "Run A", Filename: "sample.fastq.gz", URL: "/a", MD5: emptyMD5},
		testutil.ManifestFile{Folder: "Run A", Filename: "corrupt.txt", URL: "/b", MD5: "0123456789abcdef0123456789abcdef"},
		testutil.ManifestFile{Folder: "Run A", Filename: "missing.txt", URL: "/c"})

	rec := &phaseRecorder{}
	orch := orchestrator.New(nil, orchestrator.ManifestFiles{}, nil, verify.NewVerifier(), rec.hooks(), nil)
	summary, err := orch.VerifyOnly(context.Background(), orchestrator.Request{ManifestPath: manifestPath, OutputDir: out, Concurrency: 2})
	require.NoError(t, err)

	corrupt := filepath.Join(out, "Run_A", "corrupt.txt")
	assert.Equal(t, 3, summary.Descriptors)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 1, summary.FetchFailed)
	assert.Equal(t, 1, summary.Validated)
	assert.Equal(t, []string{corrupt, "missing.txt"}, summary.Failed)
	assert.Equal(t, []string{corrupt}, summary.Deleted)
	assert.NoFileExists(t, corrupt)
	assert.Equal(t, []string{"init", "descriptors_loaded", "verifying", "done"}, rec.phases)
}

func TestVerifyOnly_NonFileDestinations(t *testing.T) {
	ctrl := gomock.NewController(t)
	out := t.TempDir()
	folder := filepath.Join(out, "Run_A")
	require.NoError(t, os.MkdirAll(filepath.Join(folder, "reads"), 0o755))

	loader := ocmocks.NewMockDescriptorLoader(ctrl)
	loader.EXPECT().Load(gomock.Any(), "manifest.xml").Return([]manifest.Descriptor{
		{URL: "/a", Filename: "..", ParentFolder: "Run A", MD5: emptyMD5},
		{URL: "/b", Filename: "reads", ParentFolder: "Run A", MD5: emptyMD5},
	}, nil)

	orch := orchestrator.New(nil, loader, nil, verify.NewVerifier(), orchestrator.Hooks{}, nil)
	summary, err := orch.VerifyOnly(context.Background(), orchestrator.Request{ManifestPath: "manifest.xml", OutputDir: out, Concurrency: 1})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Descriptors)
	assert.Zero(t, summary.Skipped)
	assert.Equal(t, 2, summary.FetchFailed)
	assert.Zero(t, summary.Validated)
	assert.Equal(t, []string{"..", "reads"}, summary.Failed)
	assert.Empty(t, summary.Deleted)
	assert.DirExists(t, filepath.Join(folder, "reads"))
}
