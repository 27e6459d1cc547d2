package orchestrator

import (
	"context"

	"github.com/brwnj/gpd/pkg/auth"
	"github.com/brwnj/gpd/pkg/manifest"
)

// PortalSessions signs in with fixed credentials through auth.Login.
type PortalSessions struct {
	Credentials auth.Credentials
	Options     auth.LoginOptions
}

// Login implements SessionProvider.
func (p PortalSessions) Login(ctx context.Context, artifactDir string) (Session, error) {
	opts := p.Options
	opts.ArtifactDir = artifactDir
	s, err := auth.Login(ctx, p.Credentials, opts)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ManifestFiles loads descriptors from manifest files on disk.
type ManifestFiles struct{}

// Load implements DescriptorLoader.
func (ManifestFiles) Load(_ context.Context, path string) ([]manifest.Descriptor, error) {
	return manifest.ParseFile(path)
}
