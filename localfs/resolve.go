package localfs

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/syncvault/syncvault/backend"
)

// resolve translates a caller-supplied path into an absolute filesystem path
// guaranteed to be inside the backend root, plus its normalized
// backend-relative form.
//
// The strategy is filesystem-resolving: the path is joined to the root,
// symlinks and "."/".." segments are canonicalized, and the canonical result
// must be a descendant of the canonical root. Resolution happens on every
// call — symlinks can change between calls, so a cached result would be
// wrong. A narrow race remains between validation and use (the classic
// check-then-act window); callers needing stronger guarantees must verify by
// descriptor after opening.
//
// A leading "/" is root-relative, not an escape attempt: "/file.txt" and
// "file.txt" resolve identically.
func (b *Backend) resolve(op, path string) (abs, rel string, err error) {
	p := path

	// Root-relative convention: strip leading separators unless the caller
	// passed an already-absolute path under the root (e.g. a FileInfo.Path
	// round-tripped through filepath.Join by the caller).
	if strings.HasPrefix(p, "/") && !b.underRoot(p) {
		p = strings.TrimLeft(p, "/")
		if p == "" {
			p = "."
		}
	}

	candidate := p
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(b.root, filepath.FromSlash(p))
	}

	resolved, rerr := resolveSymlinks(filepath.Clean(candidate))
	if rerr != nil {
		return "", "", &backend.PathError{Op: op, Path: path, Err: backend.ErrPathOutsideRoot}
	}

	relPath, rerr := filepath.Rel(b.root, resolved)
	if rerr != nil || relPath == ".." || strings.HasPrefix(relPath, ".."+string(os.PathSeparator)) {
		return "", "", &backend.PathError{Op: op, Path: path, Err: backend.ErrPathOutsideRoot}
	}

	// The session lock file is infrastructure, not content: it is hidden
	// from listings and must not be readable, writable, or deletable out
	// from under an active session.
	if resolved == b.lockPath {
		return "", "", &backend.PathError{Op: op, Path: path, Err: backend.ErrInvalidOperation}
	}

	return resolved, filepath.ToSlash(relPath), nil
}

// underRoot reports whether p is an absolute path at or below the root.
func (b *Backend) underRoot(p string) bool {
	return p == b.root || strings.HasPrefix(p, b.root+string(os.PathSeparator))
}

// resolveSymlinks canonicalizes path, following symlinks in every existing
// prefix. Unlike filepath.EvalSymlinks it tolerates a non-existent tail (a
// create target does not exist yet): the deepest existing ancestor is
// resolved and the remaining lexical segments are appended.
func resolveSymlinks(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}

	if !os.IsNotExist(err) {
		return "", err
	}

	parent := filepath.Dir(path)
	if parent == path {
		// Filesystem root does not exist — cannot happen in practice, but
		// terminate the recursion rather than loop.
		return path, nil
	}

	resolvedParent, err := resolveSymlinks(parent)
	if err != nil {
		return "", err
	}

	return filepath.Join(resolvedParent, filepath.Base(path)), nil
}
