package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/syncvault/syncvault/backend"
)

func newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull <vault>",
		Short: "Fetch and merge remote changes",
		Args:  cobra.ExactArgs(1),
		RunE:  runPull,
	}
}

func newPushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push <vault>",
		Short: "Publish local changes to the remote",
		Args:  cobra.ExactArgs(1),
		RunE:  runPush,
	}

	cmd.Flags().StringP("message", "m", "", "commit message for the published changes")

	return cmd
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <vault>",
		Short: "Pull remote changes, then push local ones",
		Long: `Pull remote changes and, when the merge completes cleanly, push local
changes back. If the pull detects conflicts the push is skipped; resolve
them with 'syncvault resolve' and sync again.`,
		Args: cobra.ExactArgs(1),
		RunE: runSync,
	}
}

func newConflictsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts <vault>",
		Short: "List unresolved sync conflicts",
		Args:  cobra.ExactArgs(1),
		RunE:  runConflicts,
	}
}

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <vault> <path>",
		Short: "Resolve a sync conflict",
		Long: `Resolve one conflicted path by keeping the local version (--local),
keeping the remote version (--remote), or replacing both with the content
of a file (--with-file). Once the last conflict is resolved the merge is
committed and the vault can push again.`,
		Args: cobra.ExactArgs(2),
		RunE: runResolve,
	}

	cmd.Flags().Bool("local", false, "keep the local version")
	cmd.Flags().Bool("remote", false, "keep the remote version")
	cmd.Flags().String("with-file", "", "replace both versions with this file's content")
	cmd.MarkFlagsMutuallyExclusive("local", "remote", "with-file")
	cmd.MarkFlagsOneRequired("local", "remote", "with-file")

	return cmd
}

func runPull(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sb, err := openSyncVault(ctx, args[0])
	if err != nil {
		return err
	}

	conflicts, err := sb.Pull(ctx)
	if err != nil {
		return fmt.Errorf("pulling: %w", err)
	}

	return reportSyncResult(conflicts, "Pulled remote changes.\n")
}

func runPush(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sb, err := openSyncVault(ctx, args[0])
	if err != nil {
		return err
	}

	message, _ := cmd.Flags().GetString("message")

	if err := sb.Push(ctx, message); err != nil {
		return fmt.Errorf("pushing: %w", err)
	}

	statusf("Pushed local changes.\n")

	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sb, err := openSyncVault(ctx, args[0])
	if err != nil {
		return err
	}

	conflicts, err := sb.Sync(ctx)
	if err != nil {
		return fmt.Errorf("syncing: %w", err)
	}

	return reportSyncResult(conflicts, "Vault is in sync.\n")
}

func runConflicts(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sb, err := openSyncVault(ctx, args[0])
	if err != nil {
		return err
	}

	conflicts, err := sb.ConflictReport(ctx)
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(conflicts)
	}

	if len(conflicts) == 0 {
		statusf("No unresolved conflicts.\n")

		return nil
	}

	printConflictsTable(conflicts)

	return nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sb, err := openSyncVault(ctx, args[0])
	if err != nil {
		return err
	}

	conflictPath := args[1]

	keepLocal, _ := cmd.Flags().GetBool("local")
	keepRemote, _ := cmd.Flags().GetBool("remote")
	withFile, _ := cmd.Flags().GetString("with-file")

	switch {
	case keepLocal:
		err = sb.AcceptLocal(ctx, conflictPath)
	case keepRemote:
		err = sb.AcceptRemote(ctx, conflictPath)
	default:
		data, readErr := os.ReadFile(withFile)
		if readErr != nil {
			return fmt.Errorf("reading %s: %w", withFile, readErr)
		}

		err = sb.ResolveWith(ctx, conflictPath, data)
	}

	if err != nil {
		return fmt.Errorf("resolving %q: %w", conflictPath, err)
	}

	statusf("Resolved %s\n", conflictPath)

	remaining, err := sb.ConflictReport(ctx)
	if err != nil {
		return err
	}

	if len(remaining) == 0 {
		statusf("All conflicts resolved. Run 'syncvault push' to publish.\n")
	} else {
		statusf("%d conflict(s) remaining.\n", len(remaining))
	}

	return nil
}

// reportSyncResult prints either the clean-result message or the conflict
// table, in JSON when requested.
func reportSyncResult(conflicts []backend.SyncConflict, cleanMsg string) error {
	if flagJSON {
		return printJSON(conflicts)
	}

	if len(conflicts) == 0 {
		statusf("%s", cleanMsg)

		return nil
	}

	statusf("%d path(s) conflict; resolve them with 'syncvault resolve'.\n", len(conflicts))
	printConflictsTable(conflicts)

	return nil
}

func printConflictsTable(conflicts []backend.SyncConflict) {
	headers := []string{"PATH", "LOCAL", "REMOTE", "DETECTED"}
	rows := make([][]string, len(conflicts))

	for i, c := range conflicts {
		rows[i] = []string{c.Path, shortRef(c.LocalRef), shortRef(c.RemoteRef), c.DetectedAt.Format("2006-01-02 15:04:05")}
	}

	printTable(os.Stdout, headers, rows)
}

// shortRef abbreviates a content ref to the familiar 12 hex characters.
func shortRef(ref string) string {
	if len(ref) > 12 {
		return ref[:12]
	}

	if ref == "" {
		return "-"
	}

	return ref
}
