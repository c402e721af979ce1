// Package vpath implements the virtual-normalizing path strategy: purely
// lexical validation with no filesystem access, for backends whose namespace
// is not a local directory tree (object stores, remote key spaces).
//
// Unicode is normalized to NFC so the same visible name always maps to the
// same key regardless of how the caller's platform composed it.
package vpath

import (
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/syncvault/syncvault/backend"
)

// Resolve validates and normalizes a caller-supplied path into its canonical
// backend-relative form: forward slashes, NFC, no leading slash, no "." or
// ".." segments.
//
// A leading "/" is root-relative, not an escape attempt: "/file.txt" and
// "file.txt" resolve identically. Empty or whitespace-only input is
// rejected, as is any path containing a ".." segment or one that normalizes
// to the root itself.
func Resolve(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", &backend.PathError{Op: "resolve", Path: raw, Err: backend.ErrEmptyPath}
	}

	p := norm.NFC.String(raw)
	p = strings.ReplaceAll(p, "\\", "/")

	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", &backend.PathError{Op: "resolve", Path: raw, Err: backend.ErrPathOutsideRoot}
		}
	}

	// Root-relative convention: a leading slash anchors at the backend root.
	p = strings.TrimLeft(p, "/")

	p = path.Clean(p)
	if p == "." || p == "" {
		return "", &backend.PathError{Op: "resolve", Path: raw, Err: backend.ErrRootPath}
	}

	return p, nil
}

// Join resolves the concatenation of segments as one path.
func Join(segments ...string) (string, error) {
	return Resolve(strings.Join(segments, "/"))
}

// Split returns the parent and base of a resolved path. The parent of a
// top-level entry is "".
func Split(resolved string) (parent, base string) {
	dir, file := path.Split(resolved)

	return strings.TrimSuffix(dir, "/"), file
}
