package cli

import (
	"fmt"
	"strings"

	"github.com/brwnj/gpd/pkg/manifest"
	"github.com/spf13/cobra"
)

// NewListCmd creates the list command.
func NewListCmd(g *globalFlags) *cobra.Command {
	var filter string

	cmd := &cobra.Command{
		Use:   "list MANIFEST",
		Short: "List the files in a manifest",
		Long: `List the files described by a portal XML manifest without signing in
or downloading anything.

Use --filter to preview which files a download with the same filter would fetch.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, g, args[0], filter)
		},
	}

	cmd.Flags().StringVar(&filter, "filter", "", "only list matching files")

	return cmd
}

func runList(cmd *cobra.Command, g *globalFlags, manifestPath, filter string) error {
	descs, err := manifest.ParseFile(manifestPath)
	if err != nil {
		return err
	}
	descs, err = manifest.Filter(cmd.Context(), descs, filter)
	if err != nil {
		return err
	}
	g.flagLogger(cmd).Debug("Listing manifest", "path", manifestPath, "files", len(descs))

	out := cmd.OutOrStdout()
	if len(descs) == 0 {
		_, _ = fmt.Fprintln(out, "No files found")
		return nil
	}

	// Header
	_, _ = fmt.Fprintf(out, "%-30s %-40s %12s %s\n", "FOLDER", "FILENAME", "SIZE", "MD5")
	_, _ = fmt.Fprintln(out, strings.Repeat("-", ListRuleWidth))

	// Rows
	for _, d := range descs {
		_, _ = fmt.Fprintf(out, "%-30s %-40s %12s %s\n", orDash(d.ParentFolder), d.Filename, sizeLabel(d), orDash(d.MD5))
	}

	return nil
}

func sizeLabel(d manifest.Descriptor) string {
	switch {
	case d.SizeLabel != "":
		return d.SizeLabel
	case d.Size >= 0:
		return fmt.Sprintf("%d B", d.Size)
	default:
		return "-"
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
