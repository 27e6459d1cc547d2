package cli

import (
	"fmt"

	"github.com/hashicorp/go-version"
	"github.com/spf13/cobra"
)

// Build information, overridden with -ldflags "-X".
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewVersionCmd creates the version command.
func NewVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display version information for gpd",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "gpd version %s\n", displayVersion())
			_, _ = fmt.Fprintf(out, "Build date: %s\n", BuildDate)
			_, _ = fmt.Fprintf(out, "Git commit: %s\n", GitCommit)
		},
	}

	return cmd
}

// displayVersion normalises Version, leaving unparsable values as-is.
func displayVersion() string {
	v, err := version.NewVersion(Version)
	if err != nil {
		return Version
	}
	return v.String()
}

// userAgent identifies gpd to the portal. Builds with an unparsable Version
// report as a development build.
func userAgent() string {
	v, err := version.NewVersion(Version)
	if err != nil {
		return "gpd/0.0.0-dev"
	}
	return "gpd/" + v.Core().String()
}
