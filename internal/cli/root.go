package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/brwnj/gpd/internal/logger"
	"github.com/brwnj/gpd/pkg/auth"
	"github.com/brwnj/gpd/pkg/config"
	"github.com/brwnj/gpd/pkg/download"
	"github.com/brwnj/gpd/pkg/orchestrator"
	"github.com/brwnj/gpd/pkg/verify"
	"github.com/spf13/cobra"
)

type downloadFlags struct {
	output    string
	overwrite bool
	retries   int
	threads   int
	filter    string
}

// NewRootCmd creates the gpd command tree. Running the root command with a
// manifest downloads and verifies every file it lists.
func NewRootCmd() *cobra.Command {
	g := &globalFlags{}
	f := &downloadFlags{}

	cmd := &cobra.Command{
		Use:   "gpd [flags] MANIFEST",
		Short: "Download files from the JGI Genome Portal",
		Long: `gpd downloads the files listed in a JGI Genome Portal XML manifest
("Open Downloads as XML"), verifies their MD5 checksums, and removes any
file that fails so that running the command again retries it.

Portal credentials are read from a YAML config file:

  portal:
    username: exampleuser
    password: examplepassword`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDownload(cmd, g, f, args[0])
		},
	}

	g.register(cmd.PersistentFlags())
	cmd.Flags().StringVarP(&f.output, "output", "o", ".", "output directory")
	cmd.Flags().BoolVar(&f.overwrite, "overwrite", false, "download files that already exist locally")
	cmd.Flags().IntVar(&f.retries, "retries", config.DefaultRetries, "additional attempts per file after a failed download")
	cmd.Flags().IntVarP(&f.threads, "threads", "t", config.DefaultWorkers, "simultaneous downloads and checksum workers")
	cmd.Flags().StringVar(&f.filter, "filter", "", `only process matching files, e.g. 'folder == "Raw Data"'`)

	cmd.AddCommand(
		NewListCmd(g),
		NewVerifyCmd(g),
		NewConfigCmd(g),
		NewVersionCmd(),
	)
	return cmd
}

// applyFlags overrides file settings with explicitly set flags.
func (f *downloadFlags) applyFlags(cmd *cobra.Command, s *config.Settings) {
	flags := cmd.Flags()
	if flags.Changed("output") || s.OutputDir == "" {
		s.OutputDir = f.output
	}
	if flags.Changed("overwrite") {
		s.Overwrite = f.overwrite
	}
	if flags.Changed("retries") {
		s.Retries = f.retries
	}
	if flags.Changed("threads") {
		s.Workers = f.threads
	}
}

func runDownload(cmd *cobra.Command, g *globalFlags, f *downloadFlags, manifestPath string) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	f.applyFlags(cmd, &cfg.Settings)
	if err := cfg.Validate(); err != nil {
		return err
	}

	s := cfg.Settings
	log := newLogger(cmd.ErrOrStderr(), s.LogLevel, s.LogFormat)
	log.Debug("Loaded configuration", "portal", cfg.Portal.String(), "output", s.OutputDir, "workers", s.Workers)

	ua := userAgent()
	orch := orchestrator.New(
		orchestrator.PortalSessions{
			Credentials: cfg.Portal.ToCredentials(),
			Options: auth.LoginOptions{
				LoginURL:   s.LoginURL,
				CookieName: s.SessionCookie,
				UserAgent:  ua,
				Logger:     log,
			},
		},
		orchestrator.ManifestFiles{},
		download.NewManager(s.BaseURL, s.HTTPTimeout, ua,
			download.WithLogger(logger.With(log, logger.Fields{"component": "download"}))),
		verify.NewVerifier(verify.WithLogger(logger.With(log, logger.Fields{"component": "verify"}))),
		orchestrator.Hooks{},
		log,
	)

	summary, err := orch.Run(cmd.Context(), orchestrator.Request{
		ManifestPath: manifestPath,
		OutputDir:    s.OutputDir,
		Filter:       f.filter,
		Overwrite:    s.Overwrite,
		Retries:      s.Retries,
		RetryDelay:   s.RetryDelay,
		Concurrency:  s.Workers,
		ChunkSize:    s.ChunkSize,
	})
	if err != nil {
		return err
	}

	printSummary(cmd, summary)
	return nil
}

func printSummary(cmd *cobra.Command, s orchestrator.Summary) {
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "%d files in manifest: %d downloaded, %d already present, %d failed to download\n",
		s.Descriptors, s.Downloaded, s.Skipped, s.FetchFailed)
	_, _ = fmt.Fprintf(out, "%d files validated\n", s.Validated)
	if len(s.Formats) > 0 {
		_, _ = fmt.Fprintf(out, "Validated archives: %s\n", formatCounts(s.Formats))
	}
	for _, name := range s.Failed {
		_, _ = fmt.Fprintf(out, "FAILED %s\n", name)
	}
}

// formatCounts renders per-format counts as ".gz 2, .zip 1", sorted by format.
func formatCounts(counts map[string]int) string {
	formats := make([]string, 0, len(counts))
	for f := range counts {
		formats = append(formats, f)
	}
	sort.Strings(formats)

	parts := make([]string, len(formats))
	for i, f := range formats {
		parts[i] = fmt.Sprintf("%s %d", f, counts[f])
	}
	return strings.Join(parts, ", ")
}
