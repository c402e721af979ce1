package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/syncvault/syncvault"
	"github.com/syncvault/syncvault/backend"
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

// loadedCfg holds the configuration loaded by PersistentPreRunE. It is
// available to all subcommands after the root pre-run phase completes.
var loadedCfg *cliConfig

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "syncvault",
		Short:   "Synchronized file vault CLI",
		Long:    "Store, stream, checksum, and synchronize files across local, git-replicated, and object-store vaults.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadCLIConfig(flagConfigPath)
			if err != nil {
				return err
			}

			loadedCfg = cfg

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	// Register subcommands.
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newMkdirCmd())
	cmd.AddCommand(newStatCmd())
	cmd.AddCommand(newChecksumCmd())
	cmd.AddCommand(newPullCmd())
	cmd.AddCommand(newPushCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newConflictsCmd())
	cmd.AddCommand(newResolveCmd())
	cmd.AddCommand(newVerifyCmd())
	cmd.AddCommand(newWatchCmd())

	return cmd
}

// buildLogger creates an slog.Logger configured by the CLI flags.
// --verbose and --quiet override the default info level.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openVault resolves a vault reference — a configured vault name or a full
// URI — into a backend instance.
func openVault(ctx context.Context, ref string) (backend.Backend, error) {
	uri := ref

	if !strings.Contains(ref, "://") {
		entry, ok := loadedCfg.Vaults[ref]
		if !ok {
			return nil, fmt.Errorf("unknown vault %q — define it in the config file or pass a full URI", ref)
		}

		uri = entry.URI
	}

	factory := syncvault.NewFactory(buildLogger())

	return factory.Open(ctx, uri)
}

// openSyncVault is openVault for commands that need pull/push support.
func openSyncVault(ctx context.Context, ref string) (backend.SyncBackend, error) {
	b, err := openVault(ctx, ref)
	if err != nil {
		return nil, err
	}

	sb, ok := b.(backend.SyncBackend)
	if !ok {
		return nil, fmt.Errorf("vault %q does not support synchronization (use a git+ssh or git+https vault)", ref)
	}

	return sb, nil
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
