// Package localfs implements the plain local-filesystem backend: rooted CRUD
// over a directory tree with filesystem-resolving path validation, streamed
// I/O, and a file-based session lock. It is both a standalone backend and
// the working-tree store that the git-backed backend builds on.
package localfs

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/syncvault/syncvault/backend"
	"github.com/syncvault/syncvault/checksum"
	"github.com/syncvault/syncvault/lock"
)

// LockFileName is the default session lock file, kept inside the root.
// It is hidden from List and Glob results.
const LockFileName = ".syncvault.lock"

const (
	dirPermissions  = 0o755
	filePermissions = 0o644
)

// Options configures a local backend.
type Options struct {
	// CreateRoot creates the root directory (with parents) when missing.
	// When false, a missing root fails with ErrNotFound.
	CreateRoot bool

	// LockPath overrides the session lock file location. Empty selects
	// LockFileName inside the root. The git-backed backend points this at
	// the repository metadata directory so the lock never enters the tree.
	LockPath string

	Logger *slog.Logger
}

// Backend is a file backend rooted at a local directory.
type Backend struct {
	root     string
	lk       *lock.FileLock
	lockPath string
	logger   *slog.Logger
}

// Compile-time check: Backend satisfies the uniform contract.
var _ backend.Backend = (*Backend)(nil)

// New creates a Backend rooted at root.
func New(root string, opts Options) (*Backend, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, &backend.PathError{Op: "init", Path: root, Err: backend.ErrPathOutsideRoot}
	}

	if opts.CreateRoot {
		if err := os.MkdirAll(abs, dirPermissions); err != nil {
			return nil, &backend.PathError{Op: "init", Path: root, Err: err}
		}
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &backend.PathError{Op: "init", Path: root, Err: backend.ErrNotFound}
		}

		return nil, &backend.PathError{Op: "init", Path: root, Err: err}
	}

	lockPath := opts.LockPath
	if lockPath == "" {
		lockPath = filepath.Join(resolved, LockFileName)
	}

	return &Backend{
		root:     resolved,
		lk:       lock.New(lockPath),
		lockPath: lockPath,
		logger:   logger,
	}, nil
}

// Root returns the canonical absolute root directory.
func (b *Backend) Root() string {
	return b.root
}

// Lock exposes the session lock so wrapping backends can share it.
func (b *Backend) Lock() *lock.FileLock {
	return b.lk
}

// statEntry adapts an os.Stat result to the backend.Entry validation
// interface.
type statEntry struct {
	fi os.FileInfo
}

func (e *statEntry) IsDirectory() bool {
	return e.fi.IsDir()
}

// entryAt returns the entry at abs, or nil when nothing exists there.
func entryAt(abs string) backend.Entry {
	fi, err := os.Stat(abs)
	if err != nil {
		return nil
	}

	return &statEntry{fi: fi}
}

// Create makes a new file or directory. Parent directories of a file target
// are created as needed; use Mkdir for spec-strict directory creation.
func (b *Backend) Create(ctx context.Context, path string, opts backend.CreateOptions) (*backend.FileInfo, error) {
	abs, rel, err := b.resolve("create", path)
	if err != nil {
		return nil, err
	}

	entry := entryAt(abs)

	if opts.IsDir {
		if err := backend.CheckNoFileOverwrite(entry, "create", rel); err != nil {
			return nil, err
		}

		if err := backend.CheckNotExists(entry, opts.Overwrite, "create", rel); err != nil {
			return nil, err
		}

		if err := os.MkdirAll(abs, dirPermissions); err != nil {
			return nil, &backend.PathError{Op: "create", Path: rel, Err: err}
		}

		return b.snapshot(abs, rel)
	}

	if err := backend.CheckNoDirOverwrite(entry, "create", rel); err != nil {
		return nil, err
	}

	if err := backend.CheckNotExists(entry, opts.Overwrite, "create", rel); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(abs), dirPermissions); err != nil {
		return nil, &backend.PathError{Op: "create", Path: rel, Err: err}
	}

	if err := os.WriteFile(abs, opts.Data, filePermissions); err != nil {
		return nil, &backend.PathError{Op: "create", Path: rel, Err: err}
	}

	b.logger.Debug("created entry", slog.String("path", rel), slog.Int("bytes", len(opts.Data)))

	return b.snapshot(abs, rel)
}

// Read returns the full content of a file.
func (b *Backend) Read(ctx context.Context, path string) ([]byte, error) {
	abs, rel, err := b.resolve("read", path)
	if err != nil {
		return nil, err
	}

	if err := b.checkReadableFile(abs, rel, "read"); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, &backend.PathError{Op: "read", Path: rel, Err: err}
	}

	return data, nil
}

// Update writes new data to an existing file.
func (b *Backend) Update(ctx context.Context, path string, data []byte, append_ bool) (*backend.FileInfo, error) {
	abs, rel, err := b.resolve("update", path)
	if err != nil {
		return nil, err
	}

	entry := entryAt(abs)
	if err := backend.CheckExists(entry, "update", rel); err != nil {
		return nil, err
	}

	if entry.IsDirectory() {
		return nil, &backend.PathError{Op: "update", Path: rel, Err: backend.ErrCannotWriteDirectory}
	}

	flags := os.O_WRONLY | os.O_TRUNC
	if append_ {
		flags = os.O_WRONLY | os.O_APPEND
	}

	f, err := os.OpenFile(abs, flags, filePermissions)
	if err != nil {
		return nil, &backend.PathError{Op: "update", Path: rel, Err: err}
	}

	if _, err := f.Write(data); err != nil {
		f.Close()

		return nil, &backend.PathError{Op: "update", Path: rel, Err: err}
	}

	if err := f.Close(); err != nil {
		return nil, &backend.PathError{Op: "update", Path: rel, Err: err}
	}

	return b.snapshot(abs, rel)
}

// Delete removes a file or directory.
func (b *Backend) Delete(ctx context.Context, path string, recursive bool) error {
	abs, rel, err := b.resolve("delete", path)
	if err != nil {
		return err
	}

	entry := entryAt(abs)
	if err := backend.CheckExists(entry, "delete", rel); err != nil {
		return err
	}

	if entry.IsDirectory() {
		return b.removeDir(abs, rel, recursive, "delete")
	}

	if err := os.Remove(abs); err != nil {
		return &backend.PathError{Op: "delete", Path: rel, Err: err}
	}

	return nil
}

// Exists reports whether the path resolves to an existing entry.
func (b *Backend) Exists(ctx context.Context, path string) (bool, error) {
	abs, _, err := b.resolve("exists", path)
	if err != nil {
		return false, err
	}

	return entryAt(abs) != nil, nil
}

// List returns the direct children of a directory, sorted by name. The
// session lock file is not listed.
func (b *Backend) List(ctx context.Context, path string) ([]backend.FileInfo, error) {
	abs, rel, err := b.resolve("list", path)
	if err != nil {
		return nil, err
	}

	entry := entryAt(abs)
	if err := backend.CheckExists(entry, "list", rel); err != nil {
		return nil, err
	}

	if !entry.IsDirectory() {
		return nil, &backend.PathError{Op: "list", Path: rel, Err: backend.ErrInvalidOperation}
	}

	dirents, err := os.ReadDir(abs)
	if err != nil {
		return nil, &backend.PathError{Op: "list", Path: rel, Err: err}
	}

	infos := make([]backend.FileInfo, 0, len(dirents))

	for _, d := range dirents {
		childAbs := filepath.Join(abs, d.Name())
		if childAbs == b.lockPath {
			continue
		}

		childRel := d.Name()
		if rel != "." {
			childRel = rel + "/" + d.Name()
		}

		info, err := b.snapshot(childAbs, childRel)
		if err != nil {
			// Entry vanished between ReadDir and Stat; skip it.
			continue
		}

		infos = append(infos, *info)
	}

	return infos, nil
}

// Info returns a metadata snapshot for the path.
func (b *Backend) Info(ctx context.Context, path string) (*backend.FileInfo, error) {
	abs, rel, err := b.resolve("info", path)
	if err != nil {
		return nil, err
	}

	if entryAt(abs) == nil {
		return nil, &backend.PathError{Op: "info", Path: rel, Err: backend.ErrNotFound}
	}

	return b.snapshot(abs, rel)
}

// Mkdir creates a directory. Missing parents fail with ErrNotFound unless
// recursive is true.
func (b *Backend) Mkdir(ctx context.Context, path string, recursive bool) (*backend.FileInfo, error) {
	abs, rel, err := b.resolve("mkdir", path)
	if err != nil {
		return nil, err
	}

	entry := entryAt(abs)
	if err := backend.CheckNoFileOverwrite(entry, "mkdir", rel); err != nil {
		return nil, err
	}

	if err := backend.CheckNotExists(entry, false, "mkdir", rel); err != nil {
		return nil, err
	}

	if recursive {
		err = os.MkdirAll(abs, dirPermissions)
	} else {
		err = os.Mkdir(abs, dirPermissions)
	}

	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &backend.PathError{Op: "mkdir", Path: rel, Err: backend.ErrNotFound}
		}

		return nil, &backend.PathError{Op: "mkdir", Path: rel, Err: err}
	}

	return b.snapshot(abs, rel)
}

// Rmdir removes a directory.
func (b *Backend) Rmdir(ctx context.Context, path string, recursive bool) error {
	abs, rel, err := b.resolve("rmdir", path)
	if err != nil {
		return err
	}

	entry := entryAt(abs)
	if err := backend.CheckExists(entry, "rmdir", rel); err != nil {
		return err
	}

	if !entry.IsDirectory() {
		return &backend.PathError{Op: "rmdir", Path: rel, Err: backend.ErrInvalidOperation}
	}

	return b.removeDir(abs, rel, recursive, "rmdir")
}

// Glob returns sorted backend-relative paths matching pattern, using
// path.Match syntax. Directories are included only when includeDirs is true.
func (b *Backend) Glob(ctx context.Context, pattern string, includeDirs bool) ([]string, error) {
	matches, err := fs.Glob(os.DirFS(b.root), pattern)
	if err != nil {
		return nil, &backend.PathError{Op: "glob", Path: pattern, Err: backend.ErrInvalidOperation}
	}

	results := make([]string, 0, len(matches))

	for _, m := range matches {
		abs := filepath.Join(b.root, filepath.FromSlash(m))
		if abs == b.lockPath {
			continue
		}

		fi, err := os.Stat(abs)
		if err != nil {
			continue
		}

		if fi.IsDir() && !includeDirs {
			continue
		}

		results = append(results, m)
	}

	sort.Strings(results)

	return results, nil
}

// Checksum computes the hex digest of a file's content.
func (b *Backend) Checksum(ctx context.Context, path string, algo checksum.Algorithm) (string, error) {
	abs, rel, err := b.resolve("checksum", path)
	if err != nil {
		return "", err
	}

	if err := b.checkReadableFile(abs, rel, "checksum"); err != nil {
		return "", err
	}

	digest, err := checksum.SumFile(abs, algo, checksum.DefaultChunkSize)
	if err != nil {
		return "", mapAlgorithmError(err)
	}

	return digest, nil
}

// ChecksumMany computes digests for multiple files. Missing paths,
// directories, and paths outside the root are omitted from the result.
func (b *Backend) ChecksumMany(ctx context.Context, paths []string, algo checksum.Algorithm) (map[string]string, error) {
	// Reject an unknown algorithm up front — the whole call is invalid,
	// unlike per-path misses which are skipped.
	if _, err := checksum.New(algo); err != nil {
		return nil, mapAlgorithmError(err)
	}

	result := make(map[string]string, len(paths))

	for _, p := range paths {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		abs, _, err := b.resolve("checksum", p)
		if err != nil {
			continue
		}

		fi, err := os.Stat(abs)
		if err != nil || fi.IsDir() {
			continue
		}

		digest, err := checksum.SumFile(abs, algo, checksum.DefaultChunkSize)
		if err != nil {
			continue
		}

		result[p] = digest
	}

	return result, nil
}

// Session runs fn with exclusive access to this backend's tree.
func (b *Backend) Session(ctx context.Context, timeout time.Duration, fn backend.SessionFunc) error {
	return b.lk.WithSession(ctx, timeout, fn)
}

// removeDir deletes a directory, refusing non-empty ones unless recursive.
func (b *Backend) removeDir(abs, rel string, recursive bool, op string) error {
	dirents, err := os.ReadDir(abs)
	if err != nil {
		return &backend.PathError{Op: op, Path: rel, Err: err}
	}

	if len(dirents) > 0 && !recursive {
		return &backend.PathError{Op: op, Path: rel, Err: backend.ErrDirectoryNotEmpty}
	}

	if err := os.RemoveAll(abs); err != nil {
		return &backend.PathError{Op: op, Path: rel, Err: err}
	}

	return nil
}

// checkReadableFile verifies abs exists and is a regular file.
func (b *Backend) checkReadableFile(abs, rel, op string) error {
	entry := entryAt(abs)
	if err := backend.CheckExists(entry, op, rel); err != nil {
		return err
	}

	return backend.CheckIsFile(entry, op, rel)
}

// snapshot builds a fresh FileInfo for the entry at abs. CreatedAt stays
// nil: POSIX does not expose a portable birth time.
func (b *Backend) snapshot(abs, rel string) (*backend.FileInfo, error) {
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, &backend.PathError{Op: "stat", Path: rel, Err: err}
	}

	mod := fi.ModTime().UTC()

	if rel == "." {
		rel = ""
	}

	return &backend.FileInfo{
		Path:       rel,
		IsDir:      fi.IsDir(),
		Size:       fi.Size(),
		ModifiedAt: &mod,
	}, nil
}

// mapAlgorithmError converts the checksum package's unsupported-algorithm
// error into the backend taxonomy.
func mapAlgorithmError(err error) error {
	var unsupported *checksum.UnsupportedError
	if errors.As(err, &unsupported) {
		return &backend.AlgorithmError{Algorithm: string(unsupported.Algorithm)}
	}

	return err
}
