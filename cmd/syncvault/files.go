package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"

	"github.com/spf13/cobra"

	"github.com/syncvault/syncvault/backend"
	"github.com/syncvault/syncvault/checksum"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <vault> [path]",
		Short: "List files and directories in a vault",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runLs,
	}
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <vault> <path> [local-path]",
		Short: "Download a file from a vault (local-path '-' writes to stdout)",
		Args:  cobra.RangeArgs(2, 3),
		RunE:  runGet,
	}
}

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <vault> <local-path> [path]",
		Short: "Upload a file into a vault",
		Args:  cobra.RangeArgs(2, 3),
		RunE:  runPut,
	}

	cmd.Flags().Bool("overwrite", false, "replace the file if it already exists")

	return cmd
}

func newRmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <vault> <path>",
		Short: "Delete a file or directory",
		Args:  cobra.ExactArgs(2),
		RunE:  runRm,
	}

	cmd.Flags().BoolP("recursive", "r", false, "delete non-empty directories")

	return cmd
}

func newMkdirCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mkdir <vault> <path>",
		Short: "Create a directory",
		Args:  cobra.ExactArgs(2),
		RunE:  runMkdir,
	}

	cmd.Flags().BoolP("parents", "p", false, "create parent directories as needed")

	return cmd
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <vault> <path>",
		Short: "Display file or directory metadata",
		Args:  cobra.ExactArgs(2),
		RunE:  runStat,
	}
}

func newChecksumCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checksum <vault> <path>...",
		Short: "Compute content digests for files in a vault",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runChecksum,
	}

	cmd.Flags().String("algo", string(checksum.Default), "digest algorithm (md5, sha256, sha512, blake3)")

	return cmd
}

func runLs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	b, err := openVault(ctx, args[0])
	if err != nil {
		return err
	}

	dir := ""
	if len(args) > 1 {
		dir = args[1]
	}

	entries, err := b.List(ctx, dir)
	if err != nil {
		return fmt.Errorf("listing %q: %w", dir, err)
	}

	if flagJSON {
		return printJSON(entries)
	}

	// Piped output gets bare paths, one per line, like ls(1).
	if !stdoutIsTTY() {
		for _, e := range entries {
			fmt.Println(e.Path)
		}

		return nil
	}

	headers := []string{"NAME", "TYPE", "SIZE", "MODIFIED"}
	rows := make([][]string, len(entries))

	for i, e := range entries {
		kind := "file"
		size := formatSize(e.Size)

		if e.IsDir {
			kind = "dir"
			size = "-"
		}

		rows[i] = []string{path.Base(e.Path), kind, size, formatTime(e.ModifiedAt)}
	}

	printTable(os.Stdout, headers, rows)

	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	b, err := openVault(ctx, args[0])
	if err != nil {
		return err
	}

	remotePath := args[1]

	dest := "-"
	if len(args) > 2 {
		dest = args[2]
	}

	stream, err := b.StreamRead(ctx, remotePath, 0)
	if err != nil {
		return fmt.Errorf("reading %q: %w", remotePath, err)
	}
	defer stream.Close()

	var out io.Writer = os.Stdout

	if dest != "-" {
		f, createErr := os.Create(dest)
		if createErr != nil {
			return fmt.Errorf("creating %s: %w", dest, createErr)
		}
		defer f.Close()

		out = f
	}

	var written int64

	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return fmt.Errorf("reading %q: %w", remotePath, err)
		}

		n, err := out.Write(chunk)
		if err != nil {
			return fmt.Errorf("writing %s: %w", dest, err)
		}

		written += int64(n)
	}

	if dest != "-" {
		statusf("Downloaded %s (%s)\n", remotePath, formatSize(written))
	}

	return nil
}

func runPut(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	b, err := openVault(ctx, args[0])
	if err != nil {
		return err
	}

	localPath := args[1]

	remotePath := path.Base(localPath)
	if len(args) > 2 {
		remotePath = args[2]
	}

	overwrite, _ := cmd.Flags().GetBool("overwrite")

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := b.StreamWrite(ctx, remotePath, f, backend.CreateOptions{Overwrite: overwrite})
	if err != nil {
		return fmt.Errorf("uploading to %q: %w", remotePath, err)
	}

	statusf("Uploaded %s (%s)\n", info.Path, formatSize(info.Size))

	return nil
}

func runRm(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	b, err := openVault(ctx, args[0])
	if err != nil {
		return err
	}

	recursive, _ := cmd.Flags().GetBool("recursive")

	if err := b.Delete(ctx, args[1], recursive); err != nil {
		return fmt.Errorf("deleting %q: %w", args[1], err)
	}

	statusf("Deleted %s\n", args[1])

	return nil
}

func runMkdir(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	b, err := openVault(ctx, args[0])
	if err != nil {
		return err
	}

	parents, _ := cmd.Flags().GetBool("parents")

	info, err := b.Mkdir(ctx, args[1], parents)
	if err != nil {
		return fmt.Errorf("creating directory %q: %w", args[1], err)
	}

	statusf("Created %s\n", info.Path)

	return nil
}

func runStat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	b, err := openVault(ctx, args[0])
	if err != nil {
		return err
	}

	info, err := b.Info(ctx, args[1])
	if err != nil {
		return fmt.Errorf("stat %q: %w", args[1], err)
	}

	if flagJSON {
		return printJSON(info)
	}

	kind := "file"
	if info.IsDir {
		kind = "dir"
	}

	headers := []string{"PATH", "TYPE", "SIZE", "MODIFIED"}
	rows := [][]string{{info.Path, kind, formatSize(info.Size), formatTime(info.ModifiedAt)}}

	printTable(os.Stdout, headers, rows)

	return nil
}

func runChecksum(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	b, err := openVault(ctx, args[0])
	if err != nil {
		return err
	}

	algoName, _ := cmd.Flags().GetString("algo")
	algo := checksum.Algorithm(algoName)

	digests, err := b.ChecksumMany(ctx, args[1:], algo)
	if err != nil {
		return fmt.Errorf("computing %s digests: %w", algo, err)
	}

	if flagJSON {
		return printJSON(digests)
	}

	paths := make([]string, 0, len(digests))
	for p := range digests {
		paths = append(paths, p)
	}

	sort.Strings(paths)

	// Digest-first, sha256sum style.
	for _, p := range paths {
		fmt.Printf("%s  %s\n", digests[p], p)
	}

	return nil
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}
