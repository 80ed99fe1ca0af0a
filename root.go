package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tonimelisma/recipevault/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// CLIFlags holds the persistent flags shared by every command.
type CLIFlags struct {
	ConfigPath string
	APIURL     string
	JSON       bool
	Verbose    bool
	Debug      bool
	Quiet      bool
}

// CLIContext is built once in the root pre-run and carried to every
// subcommand through the command context.
type CLIContext struct {
	Flags  CLIFlags
	Cfg    *config.Resolved
	Logger *slog.Logger
	Stdout io.Writer
	Stderr io.Writer
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext stored by the root pre-run. A missing
// context is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cc == nil {
		panic("recipevault: command ran without CLIContext")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	var flags CLIFlags

	cmd := &cobra.Command{
		Use:     "recipevault",
		Short:   "Offline-first recipe book",
		Long:    "Keep recipes in a local database and sync them with your recipe server when it is reachable.",
		Version: version,
		// Errors are printed once by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := newCLIContext(flags, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "config file path")
	pf.StringVar(&flags.APIURL, "api-url", "", "recipe server URL (overrides config)")
	pf.BoolVar(&flags.JSON, "json", false, "output in JSON format")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "enable informational logging")
	pf.BoolVar(&flags.Debug, "debug", false, "enable debug logging")
	pf.BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")
	cmd.MarkFlagsMutuallyExclusive("debug", "quiet")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newRecipeCmd())
	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newPullCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// newCLIContext resolves the effective configuration from the override chain
// and builds the logger.
func newCLIContext(flags CLIFlags, stdout, stderr io.Writer) (*CLIContext, error) {
	cfg, err := config.Resolve(config.ReadEnvOverrides(), config.CLIOverrides{
		ConfigPath: flags.ConfigPath,
		APIURL:     flags.APIURL,
	})
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger, err := buildLogger(&cfg.Logging, flags, stderr)
	if err != nil {
		return nil, err
	}

	logger.Debug("config resolved",
		slog.String("config_path", cfg.ConfigPath),
		slog.String("api_url", cfg.APIURL),
		slog.String("data_dir", cfg.DataDir),
	)

	return &CLIContext{
		Flags:  flags,
		Cfg:    cfg,
		Logger: logger,
		Stdout: stdout,
		Stderr: stderr,
	}, nil
}

// buildLogger creates an slog.Logger from the logging config and CLI flags.
// The config level is the baseline; --verbose, --debug and --quiet override
// it. With log_file set, output goes to a rotating file instead of stderr.
func buildLogger(lc *config.LoggingConfig, flags CLIFlags, stderr io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(lc.LogLevel)
	if err != nil {
		return nil, err
	}

	switch {
	case flags.Debug:
		level = slog.LevelDebug
	case flags.Verbose:
		level = slog.LevelInfo
	case flags.Quiet:
		level = slog.LevelError
	}

	w := stderr
	if lc.LogFile != "" {
		w = &lumberjack.Logger{
			Filename: lc.LogFile,
			MaxSize:  lc.LogMaxSizeMB,
			MaxAge:   lc.LogRetentionDays,
		}
	}

	opts := &slog.HandlerOptions{Level: level}

	if useJSONLogs(lc.LogFormat, w) {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}

	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// useJSONLogs resolves the "auto" format: text for a terminal, JSON for
// files and pipes.
func useJSONLogs(format string, w io.Writer) bool {
	switch format {
	case "json":
		return true
	case "text":
		return false
	}

	f, ok := w.(*os.File)
	if !ok {
		return true
	}

	return !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
}

// errNotSignedIn is shown whenever a command needs an owner identity.
var errNotSignedIn = errors.New("not logged in, run 'recipevault login' first")
