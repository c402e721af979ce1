package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/syncvault/syncvault/gitfs"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <vault>",
		Short: "Watch a git vault's working tree and auto-publish changes",
		Long: `Watch the local working tree of a git-backed vault and push local changes
to the remote after each burst of filesystem activity settles. Runs until
interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: runWatch,
	}

	cmd.Flags().Duration("debounce", 0, "quiet period before a burst of changes is published")

	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openVault(ctx, args[0])
	if err != nil {
		return err
	}

	gb, ok := b.(*gitfs.Backend)
	if !ok {
		return fmt.Errorf("vault %q is not git-backed; watch needs a git+ssh or git+https vault", args[0])
	}

	debounce, _ := cmd.Flags().GetDuration("debounce")

	watcher, err := gb.Watch(gitfs.WatchOptions{Debounce: debounce})
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer watcher.Close()

	statusf("Watching %s; press Ctrl-C to stop.\n", args[0])

	if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	statusf("Stopped at %s.\n", time.Now().Format("15:04:05"))

	return nil
}
