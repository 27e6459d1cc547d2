//go:generate mockgen -destination=./mocks/orchestrator.go . Session,SessionProvider,DescriptorLoader,Fetcher,Verifier

package orchestrator

import (
	"context"
	"time"

	"github.com/brwnj/gpd/pkg/auth"
	"github.com/brwnj/gpd/pkg/download"
	"github.com/brwnj/gpd/pkg/manifest"
	"github.com/brwnj/gpd/pkg/verify"
)

// Session is an authenticated portal session that can be discarded.
type Session interface {
	auth.Authenticator
	Close() error
}

// SessionProvider signs in to the portal. artifactDir is where the session
// artifact may be written.
type SessionProvider interface {
	Login(ctx context.Context, artifactDir string) (Session, error)
}

// DescriptorLoader produces the descriptors listed in a manifest.
type DescriptorLoader interface {
	Load(ctx context.Context, path string) ([]manifest.Descriptor, error)
}

// Fetcher is the subset of the download manager used by the orchestrator.
type Fetcher interface {
	FetchAll(ctx context.Context, descs []manifest.Descriptor, opts download.Options) ([]download.Outcome, error)
}

// Verifier is the subset of the verification pool used by the orchestrator.
type Verifier interface {
	VerifyAll(ctx context.Context, outcomes []download.Outcome, opts verify.Options) verify.Report
}

// State is a step of a run. Runs only move forward.
type State int

const (
	StateInit State = iota
	StateAuthenticated
	StateDescriptorsLoaded
	StateFetching
	StateVerifying
	StateDone
	StateFailed
)

var stateNames = map[State]string{
	StateInit:              "init",
	StateAuthenticated:     "authenticated",
	StateDescriptorsLoaded: "descriptors_loaded",
	StateFetching:          "fetching",
	StateVerifying:         "verifying",
	StateDone:              "done",
	StateFailed:            "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Event represents a simple progress notification.
type Event struct {
	Phase string // state name
	ID    string // manifest path
	Msg   string
}

// Hooks carries callbacks for progress events.
type Hooks struct {
	OnEvent func(Event)
}

// Request describes one run.
type Request struct {
	ManifestPath string
	OutputDir    string // made absolute before use
	Filter       string // optional descriptor expression, see manifest.Filter
	Overwrite    bool
	Retries      int
	RetryDelay   time.Duration
	Concurrency  int // used for both pools
	ChunkSize    int
}

// Summary aggregates a run.
type Summary struct {
	Descriptors int
	Downloaded  int
	Skipped     int
	FetchFailed int
	Validated   int
	Failed      []string       // files that failed to download or verify
	Deleted     []string       // local files removed after failing verification
	Collisions  []string       // destinations shared by more than one descriptor
	Formats     map[string]int // validated files per detected container format
}
