package main

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/tonies-go/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagDBPath     string
	flagOwner      string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
var resolvedCfg *config.Resolved

// dialKeepAlive is the TCP keep-alive period of the shared HTTP client.
const dialKeepAlive = 30 * time.Second

// newRootCmd builds the fully-assembled root command. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tonies-go",
		Short: "Sync audio to Creative Tonies",
		Long: `Push locally managed audio onto Creative Tonie devices through the
Tonies cloud. Linked logins are stored encrypted; every push is recorded as
a sync job.`,
		Version: version,
		// We print errors ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "state database path")
	cmd.PersistentFlags().StringVar(&flagOwner, "owner", "", "local user the command acts for")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newAccountCmd())
	cmd.AddCommand(newHouseholdsCmd())
	cmd.AddCommand(newDevicesCmd())
	cmd.AddCommand(newDeviceCmd())
	cmd.AddCommand(newCatalogCmd())
	cmd.AddCommand(newContentCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newJobsCmd())
	cmd.AddCommand(newAdapterCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the override chain
// and stores the result in resolvedCfg.
func loadConfig(cmd *cobra.Command) error {
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
		DBPath:     flagDBPath,
		Owner:      flagOwner,
	}

	// Command-local overrides exist only on the sync commands.
	if f := cmd.Flags().Lookup("mode"); f != nil && f.Changed {
		cli.Mode = f.Value.String()
	}

	if f := cmd.Flags().Lookup("parallel"); f != nil && f.Changed {
		n, err := cmd.Flags().GetInt("parallel")
		if err != nil {
			return err
		}

		cli.Parallel = &n
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = resolved

	return nil
}

// logLevel returns the effective level. The config file provides the
// baseline; --verbose and --quiet override it.
func logLevel(cfg *config.Resolved) slog.Level {
	level := slog.LevelInfo

	if cfg != nil {
		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return level
}

// buildLogger creates a logger writing to w. Format "auto" picks text on a
// terminal and JSON otherwise.
func buildLogger(cfg *config.Resolved, w io.Writer, terminal bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: logLevel(cfg)}

	format := "auto"
	if cfg != nil {
		format = cfg.Logging.LogFormat
	}

	if format == "json" || (format == "auto" && !terminal) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// openLogger returns the process logger: stderr, or the configured log
// file. The returned func closes the file.
func openLogger(cfg *config.Resolved) (*slog.Logger, func(), error) {
	if cfg == nil || cfg.Logging.LogFile == "" {
		return buildLogger(cfg, os.Stderr, isatty.IsTerminal(os.Stderr.Fd())), func() {}, nil
	}

	f, err := os.OpenFile(cfg.Logging.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	return buildLogger(cfg, f, false), func() { f.Close() }, nil
}

// newHTTPClient returns the shared HTTP client. Only connection setup is
// bounded; request deadlines come from contexts.
func newHTTPClient(connectTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connectTimeout, KeepAlive: dialKeepAlive}).DialContext
	transport.TLSHandshakeTimeout = connectTimeout

	return &http.Client{Transport: transport}
}

func userAgent(cfg *config.Resolved) string {
	if cfg != nil && cfg.Network.UserAgent != "" {
		return cfg.Network.UserAgent
	}

	return "tonies-go/" + version
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
