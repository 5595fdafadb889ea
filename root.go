package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cpan115/pan115-go/internal/config"
	"github.com/cpan115/pan115-go/internal/pan"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
// It is available to all subcommands after the root pre-run phase completes.
var resolvedCfg *config.Config

// httpClientTimeout is the default timeout for HTTP requests.
// Prevents hung connections from blocking CLI commands indefinitely.
const httpClientTimeout = 30 * time.Second

// defaultHTTPClient returns an HTTP client with a sensible timeout.
func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: httpClientTimeout}
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "pan115",
		Short:   "115 cloud storage CLI client",
		Long:    "A fast CLI client for the 115 open platform: upload and download files and trees, browse and manage remote storage.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Resolve(flagConfigPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			resolvedCfg = cfg

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	// Register subcommands.
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newUploadCmd())
	cmd.AddCommand(newDownloadCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newMkdirCmd())
	cmd.AddCommand(newMvCmd())
	cmd.AddCommand(newCpCmd())
	cmd.AddCommand(newRenameCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newStatCmd())

	return cmd
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo
	format := "text"

	if resolvedCfg != nil {
		if l, err := config.ParseLogLevel(resolvedCfg.Logging.LogLevel); err == nil {
			level = l
		}

		if resolvedCfg.Logging.LogFormat != "" {
			format = resolvedCfg.Logging.LogFormat
		}
	}

	// CLI flags override config (highest priority).
	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// authConfig builds the OAuth client settings from the resolved config.
func authConfig() pan.AuthConfig {
	return pan.AuthConfig{
		ClientID:     resolvedCfg.Auth.ClientID,
		ClientSecret: resolvedCfg.Auth.ClientSecret,
		RedirectURI:  resolvedCfg.Auth.RedirectURI,
		BaseURL:      resolvedCfg.Auth.OAuthURL,
		HTTPClient:   defaultHTTPClient(),
	}
}

// requireClientID errors out when no OAuth client id is configured.
// Commands that never talk to the service skip this check.
func requireClientID() error {
	if resolvedCfg.Auth.ClientID == "" {
		return fmt.Errorf("no OAuth client id configured — set auth.client_id in the config file or %s", config.EnvClientID)
	}

	return nil
}

// apiClient loads saved credentials and returns a ready API client.
func apiClient(logger *slog.Logger) (*pan.Client, error) {
	if err := requireClientID(); err != nil {
		return nil, err
	}

	ts, err := pan.TokenSourceFromFile(authConfig(), config.CredentialPath(), logger)
	if err != nil {
		if errors.Is(err, pan.ErrNotLoggedIn) {
			return nil, fmt.Errorf("not logged in — run 'pan115 login' first")
		}

		return nil, err
	}

	return pan.NewClient(resolvedCfg.Auth.APIURL, defaultHTTPClient(), ts, logger), nil
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
