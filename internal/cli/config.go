package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/brwnj/gpd/pkg/config"
	"github.com/brwnj/gpd/pkg/errors"
	"github.com/spf13/cobra"
)

// NewConfigCmd creates the config command with subcommands.
func NewConfigCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long:  "Create and inspect the gpd configuration file holding portal credentials",
	}

	cmd.AddCommand(
		newConfigShowCmd(g),
		newConfigInitCmd(g),
	)

	return cmd
}

func newConfigShowCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Long:  "Display the effective configuration settings. The password is masked.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}

			s := cfg.Settings
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, TabWidth, ' ', 0)
			_, _ = fmt.Fprintln(tw, "SETTING\tVALUE")
			_, _ = fmt.Fprintln(tw, "-------\t-----")
			rows := [][2]string{
				{"portal", cfg.Portal.String()},
				{"login_url", s.LoginURL},
				{"base_url", s.BaseURL},
				{"session_cookie", s.SessionCookie},
				{"output_dir", s.OutputDir},
				{"overwrite", fmt.Sprint(s.Overwrite)},
				{"retries", fmt.Sprint(s.Retries)},
				{"retry_delay", s.RetryDelay.String()},
				{"workers", fmt.Sprint(s.Workers)},
				{"http_timeout", s.HTTPTimeout.String()},
				{"chunk_size", fmt.Sprint(s.ChunkSize)},
				{"log_level", s.LogLevel},
				{"log_format", s.LogFormat},
			}
			for _, row := range rows {
				_, _ = fmt.Fprintf(tw, "%s\t%s\n", row[0], row[1])
			}
			return tw.Flush()
		},
	}
}

func newConfigInitCmd(g *globalFlags) *cobra.Command {
	var (
		force    bool
		username string
		password string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration file",
		Long: `Create a configuration file with default settings and the given portal
credentials. The file is readable by the owner only.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := g.configPath
			if path == "" {
				defaultPath, err := config.GetDefaultConfigPath()
				if err != nil {
					return err
				}
				path = defaultPath
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s: %w", path, errors.ErrConfigFileExists)
			}

			cfg := config.DefaultConfig()
			cfg.Portal = config.PortalAuth{Username: username, Password: password}
			if err := cfg.SaveConfig(path); err != nil {
				return fmt.Errorf("failed to save configuration: %w", err)
			}

			g.flagLogger(cmd).Info("Configuration file created", "path", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration file")
	cmd.Flags().StringVar(&username, "username", "", "portal username (email)")
	cmd.Flags().StringVar(&password, "password", "", "portal password")

	return cmd
}
