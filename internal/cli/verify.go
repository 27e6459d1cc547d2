package cli

import (
	"github.com/brwnj/gpd/pkg/config"
	"github.com/brwnj/gpd/pkg/orchestrator"
	"github.com/brwnj/gpd/pkg/verify"
	"github.com/spf13/cobra"
)

// NewVerifyCmd creates the verify command.
func NewVerifyCmd(g *globalFlags) *cobra.Command {
	var (
		output  string
		threads int
		filter  string
	)

	cmd := &cobra.Command{
		Use:   "verify MANIFEST",
		Short: "Check downloaded files against the manifest checksums",
		Long: `Verify an existing output tree against the MD5 checksums in a manifest.
No credentials are needed. Files that fail verification are deleted so the
next download run fetches them again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := g.flagLogger(cmd)
			orch := orchestrator.New(nil, orchestrator.ManifestFiles{}, nil, verify.NewVerifier(verify.WithLogger(log)), orchestrator.Hooks{}, log)
			summary, err := orch.VerifyOnly(cmd.Context(), orchestrator.Request{
				ManifestPath: args[0],
				OutputDir:    output,
				Filter:       filter,
				Concurrency:  threads,
				ChunkSize:    config.DefaultChunkSize,
			})
			if err != nil {
				return err
			}
			printSummary(cmd, summary)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", ".", "directory holding the downloaded files")
	cmd.Flags().IntVarP(&threads, "threads", "t", config.DefaultWorkers, "checksum workers")
	cmd.Flags().StringVar(&filter, "filter", "", "only verify matching files")

	return cmd
}
