// Package backend defines the uniform storage contract shared by every
// backend implementation: file CRUD, streaming I/O, integrity checksums, and
// (for synchronized backends) pull/push with conflict resolution.
//
// Paths are always backend-relative, slash-separated, and validated by each
// implementation before any I/O. A leading "/" is interpreted as
// root-relative, never as an absolute filesystem path: "file.txt" and
// "/file.txt" address the same entry.
package backend

import (
	"context"
	"time"

	"github.com/syncvault/syncvault/checksum"
)

// DefaultChunkSize is the chunk size used for streaming reads and checksum
// computation when the caller does not specify one.
const DefaultChunkSize = 64 * 1024

// FileInfo is an immutable metadata snapshot of one addressable entry.
// Mutating operations return a freshly computed snapshot reflecting
// post-operation state; a FileInfo is never updated in place.
type FileInfo struct {
	// Path is the normalized slash-separated path relative to the backend
	// root, with no leading slash and no ".." segments.
	Path string `json:"path"`

	IsDir bool  `json:"is_dir"`
	Size  int64 `json:"size"`

	// CreatedAt and ModifiedAt are nil when the underlying store does not
	// supply the timestamp.
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	ModifiedAt *time.Time `json:"modified_at,omitempty"`
}

// IsDirectory implements Entry.
func (fi *FileInfo) IsDirectory() bool {
	return fi.IsDir
}

// Resolution is the lifecycle state of a SyncConflict.
type Resolution string

const (
	ResolutionUnresolved     Resolution = "unresolved"
	ResolutionAcceptedLocal  Resolution = "accepted-local"
	ResolutionAcceptedRemote Resolution = "accepted-remote"
	ResolutionNewContent     Resolution = "resolved-with-new-content"
)

// SyncConflict describes one path whose local and remote histories have both
// advanced with incompatible content. Conflicts are created by Pull and leave
// the outstanding set once resolved.
type SyncConflict struct {
	Path string `json:"path"`

	// LocalRef and RemoteRef identify the two divergent content versions
	// (for a git-backed store, the stage-2 and stage-3 blob hashes).
	LocalRef  string `json:"local_ref,omitempty"`
	RemoteRef string `json:"remote_ref,omitempty"`

	DetectedAt time.Time  `json:"detected_at"`
	State      Resolution `json:"state"`
}

// CreateOptions configures a Create call.
type CreateOptions struct {
	// Data is the initial file content. Ignored for directories.
	Data []byte

	// IsDir creates a directory instead of a file.
	IsDir bool

	// Overwrite replaces an existing file. Never applies across kinds:
	// a directory cannot be overwritten by a file or vice versa.
	Overwrite bool
}

// ChunkIterator is a pull-style chunk source for StreamWrite. Each chunk is
// either a []byte or a string; strings are UTF-8 encoded before writing.
// Next returns io.EOF when the source is exhausted.
type ChunkIterator interface {
	Next() (any, error)
}

// ChunkStream is the lazy sequence returned by StreamRead. It is finite and
// not restartable once consumed. Next returns io.EOF after the final chunk.
type ChunkStream interface {
	Next() ([]byte, error)
	Close() error
}

// SessionFunc is the body executed inside an exclusive session.
type SessionFunc func(ctx context.Context) error

// Backend is the uniform contract for file-backed storage providers.
//
// Implementations operate relative to a configured root and reject any path
// that resolves outside it. Operations that can block on I/O or subprocess
// work take a context; cancellation support beyond lock acquisition is
// implementation-defined.
type Backend interface {
	// Create makes a new file or directory. Fails with ErrAlreadyExists if
	// the target exists and opts.Overwrite is false.
	Create(ctx context.Context, path string, opts CreateOptions) (*FileInfo, error)

	// Read returns the full content of a file. Directories fail with
	// ErrCannotReadDirectory.
	Read(ctx context.Context, path string) ([]byte, error)

	// Update replaces (or appends to, when append_ is true) the content of
	// an existing file.
	Update(ctx context.Context, path string, data []byte, append_ bool) (*FileInfo, error)

	// Delete removes a file or directory. Non-empty directories require
	// recursive=true and otherwise fail with ErrDirectoryNotEmpty.
	Delete(ctx context.Context, path string, recursive bool) error

	// Exists reports whether the path resolves to an existing entry.
	// Path-validation failures are still errors.
	Exists(ctx context.Context, path string) (bool, error)

	// List returns the direct children of a directory.
	List(ctx context.Context, path string) ([]FileInfo, error)

	// Info returns a metadata snapshot for the path.
	Info(ctx context.Context, path string) (*FileInfo, error)

	// Mkdir creates a directory. Parents are only created when recursive
	// is true.
	Mkdir(ctx context.Context, path string, recursive bool) (*FileInfo, error)

	// Rmdir removes a directory (recursive for non-empty ones).
	Rmdir(ctx context.Context, path string, recursive bool) error

	// Glob returns sorted backend-relative paths matching the pattern.
	Glob(ctx context.Context, pattern string, includeDirs bool) ([]string, error)

	// StreamRead returns the file content as a lazy chunk sequence.
	// chunkSize <= 0 selects DefaultChunkSize.
	StreamRead(ctx context.Context, path string, chunkSize int) (ChunkStream, error)

	// StreamWrite writes a file from src without holding the whole payload
	// in memory. src is probed for a read capability first: an io.Reader is
	// consumed in chunkSize chunks, anything else must be a ChunkIterator.
	// The write lands in a temporary location and is renamed into place only
	// on success, so a mid-stream failure never masquerades as a complete
	// write.
	StreamWrite(ctx context.Context, path string, src any, opts CreateOptions) (*FileInfo, error)

	// Checksum computes the hex digest of a file's content.
	Checksum(ctx context.Context, path string, algo checksum.Algorithm) (string, error)

	// ChecksumMany computes digests for multiple paths. Entries for missing
	// paths (and directories) are omitted, not errored.
	ChecksumMany(ctx context.Context, paths []string, algo checksum.Algorithm) (map[string]string, error)

	// Session runs fn with exclusive access to the backend. Sessions nest:
	// a nested call on a context already inside this backend's session runs
	// fn directly, and the lock is released exactly once when the outermost
	// scope exits (normally or not). Acquisition beyond timeout fails with
	// ErrLockTimeout before any session side effects occur.
	Session(ctx context.Context, timeout time.Duration, fn SessionFunc) error
}

// SyncBackend extends Backend with bidirectional synchronization against a
// remotely-replicated copy of the tree.
type SyncBackend interface {
	Backend

	// Pull fetches remote state and merges it into the working tree.
	// Divergent paths are returned as SyncConflicts, never as an error;
	// remote transport failures are ErrRemoteOperation.
	Pull(ctx context.Context) ([]SyncConflict, error)

	// Push publishes local commits to the remote. Fails with ErrSyncRejected
	// while conflicts are outstanding or when the remote has diverged since
	// the last pull.
	Push(ctx context.Context, message string) error

	// Sync is Pull followed by Push, skipping the push when the pull left
	// unresolved conflicts. The returned conflicts are whatever remains
	// outstanding.
	Sync(ctx context.Context) ([]SyncConflict, error)

	// ConflictReport lists all unresolved conflicts.
	ConflictReport(ctx context.Context) ([]SyncConflict, error)

	// AcceptLocal resolves the conflict at path in favor of the local
	// version and stages that choice for the next push.
	AcceptLocal(ctx context.Context, path string) error

	// AcceptRemote resolves the conflict at path in favor of the remote
	// version.
	AcceptRemote(ctx context.Context, path string) error

	// ResolveWith supersedes both sides with caller-supplied content.
	ResolveWith(ctx context.Context, path string, data []byte) error
}
