package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/brwnj/gpd/internal/logger"
	"github.com/brwnj/gpd/pkg/config"
	"github.com/brwnj/gpd/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	verbose    bool
	logFormat  logFormatValue
}

func (g *globalFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&g.configPath, "config", "c", "", "config file with portal credentials (default: <user config dir>/gpd/config.yaml)")
	fs.BoolVarP(&g.verbose, "verbose", "v", false, "verbose output")
	fs.Var(&g.logFormat, "log-format", "log format (text, json)")
}

// logFormatValue is a pflag.Value restricted to the supported log formats.
type logFormatValue struct {
	format logger.OutputFormat
	set    bool
}

var _ pflag.Value = (*logFormatValue)(nil)

func (v *logFormatValue) String() string {
	if v.format == "" {
		return string(logger.FormatText)
	}
	return string(v.format)
}

func (v *logFormatValue) Set(s string) error {
	f, err := logger.ParseFormat(s)
	if err != nil {
		return err
	}
	v.format = f
	v.set = true
	return nil
}

func (v *logFormatValue) Type() string { return "format" }

// loadConfig loads the configuration file named by --config, or the
// default one, and applies the global flags on top of it.
func (g *globalFlags) loadConfig() (*config.Config, error) {
	path := g.configPath
	if path == "" {
		defaultPath, err := config.GetDefaultConfigPath()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errors.ErrConfig, err)
		}
		path = defaultPath
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if g.verbose {
		cfg.Settings.LogLevel = "debug"
	}
	if g.logFormat.set {
		cfg.Settings.LogFormat = string(g.logFormat.format)
	}
	return cfg, nil
}

// newLogger builds the run logger from settings, writing to w.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	f, err := logger.ParseFormat(format)
	if err != nil {
		f = logger.FormatText
	}
	return logger.New(logger.Options{Level: level, Format: f, Output: w})
}

// flagLogger builds a logger from the global flags alone, for commands
// that run without a configuration file.
func (g *globalFlags) flagLogger(cmd *cobra.Command) *slog.Logger {
	level := "info"
	if g.verbose {
		level = "debug"
	}
	return newLogger(cmd.ErrOrStderr(), level, g.logFormat.String())
}
