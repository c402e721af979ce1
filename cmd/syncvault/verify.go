package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/syncvault/syncvault/checksum"
)

// errVerifyMismatch signals a completed verification that found differences.
// main() maps it to exit code 1 without the usual error banner.
var errVerifyMismatch = errors.New("verification found mismatches")

// verifyMismatch is one path whose local and vault content differ.
type verifyMismatch struct {
	Path     string `json:"path"`
	Status   string `json:"status"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// verifyReport summarizes a local-tree-against-vault verification.
type verifyReport struct {
	Verified   int              `json:"verified"`
	Mismatches []verifyMismatch `json:"mismatches"`
}

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <vault> <local-dir>",
		Short: "Verify a local directory tree against vault content",
		Long: `Compare every file under a local directory with the file at the same
relative path in the vault, by content digest. Reports files missing from
the vault and digest mismatches.

Exit code 0 if all files verify; exit code 1 if any mismatches are found.`,
		Args: cobra.ExactArgs(2),
		RunE: runVerify,
	}

	cmd.Flags().String("algo", string(checksum.Default), "digest algorithm (md5, sha256, sha512, blake3)")

	return cmd
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	b, err := openVault(ctx, args[0])
	if err != nil {
		return err
	}

	localDir := args[1]

	algoName, _ := cmd.Flags().GetString("algo")
	algo := checksum.Algorithm(algoName)

	localDigests, err := digestLocalTree(localDir, algo)
	if err != nil {
		return err
	}

	paths := make([]string, 0, len(localDigests))
	for p := range localDigests {
		paths = append(paths, p)
	}

	sort.Strings(paths)

	vaultDigests, err := b.ChecksumMany(ctx, paths, algo)
	if err != nil {
		return fmt.Errorf("computing vault digests: %w", err)
	}

	report := &verifyReport{}

	for _, p := range paths {
		want := localDigests[p]

		got, ok := vaultDigests[p]
		if !ok {
			report.Mismatches = append(report.Mismatches, verifyMismatch{
				Path:     p,
				Status:   "missing",
				Expected: want,
			})

			continue
		}

		if got != want {
			report.Mismatches = append(report.Mismatches, verifyMismatch{
				Path:     p,
				Status:   "digest mismatch",
				Expected: want,
				Actual:   got,
			})

			continue
		}

		report.Verified++
	}

	if flagJSON {
		if err := printJSON(report); err != nil {
			return err
		}
	} else {
		printVerifyTable(report)
	}

	if len(report.Mismatches) > 0 {
		return errVerifyMismatch
	}

	return nil
}

// digestWorkers bounds concurrent local digest computation.
const digestWorkers = 8

// digestLocalTree walks a local directory and computes a digest per regular
// file, keyed by slash-separated path relative to the root. Digests are
// computed concurrently; hashing is CPU-bound and files are independent.
func digestLocalTree(root string, algo checksum.Algorithm) (map[string]string, error) {
	var files []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			files = append(files, path)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	var (
		mu      sync.Mutex
		digests = make(map[string]string, len(files))
	)

	g := new(errgroup.Group)
	g.SetLimit(digestWorkers)

	for _, path := range files {
		g.Go(func() error {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}

			digest, err := checksum.SumFile(path, algo, 0)
			if err != nil {
				return fmt.Errorf("digesting %s: %w", path, err)
			}

			mu.Lock()
			digests[filepath.ToSlash(rel)] = digest
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return digests, nil
}

func printVerifyTable(report *verifyReport) {
	fmt.Printf("Verified: %d files\n", report.Verified)

	if len(report.Mismatches) == 0 {
		fmt.Println("All files verified successfully.")

		return
	}

	fmt.Printf("Mismatches: %d\n\n", len(report.Mismatches))

	headers := []string{"PATH", "STATUS", "EXPECTED", "ACTUAL"}
	rows := make([][]string, len(report.Mismatches))

	for i := range report.Mismatches {
		m := &report.Mismatches[i]
		rows[i] = []string{m.Path, m.Status, m.Expected, m.Actual}
	}

	printTable(os.Stdout, headers, rows)
}
