// Package objfs implements the object-store backend over any S3-compatible
// endpoint. Paths are validated with the virtual-normalizing strategy (no
// filesystem exists to resolve against) and map directly to object keys
// under a configured prefix.
//
// Directories are virtual: a directory exists when a marker object
// ("<path>/") or any object below the prefix exists. Object stores cannot
// append, so Update in append mode rewrites the whole object.
package objfs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/syncvault/syncvault/backend"
	"github.com/syncvault/syncvault/checksum"
	"github.com/syncvault/syncvault/vpath"
)

// Options configures an object-store backend.
type Options struct {
	// Bucket is the bucket holding the vault. Required.
	Bucket string

	// Prefix is prepended to every key, scoping the vault to a subtree of
	// the bucket.
	Prefix string

	Logger *slog.Logger
}

// Backend is a file backend over an S3-compatible object store.
type Backend struct {
	client  *minio.Client
	bucket  string
	prefix  string
	logger  *slog.Logger
	session *sessionGate
}

var _ backend.Backend = (*Backend)(nil)

// New creates an object-store backend. The bucket must already exist.
func New(client *minio.Client, opts Options) (*Backend, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Backend{
		client:  client,
		bucket:  opts.Bucket,
		prefix:  strings.Trim(opts.Prefix, "/"),
		logger:  logger,
		session: newSessionGate(),
	}, nil
}

// key maps a resolved backend path to its object key.
func (b *Backend) key(resolved string) string {
	return path.Join(b.prefix, resolved)
}

// dirKey is the marker key representing an explicit directory.
func (b *Backend) dirKey(resolved string) string {
	return b.key(resolved) + "/"
}

// rel strips the vault prefix from an object key.
func (b *Backend) rel(key string) string {
	rel := strings.TrimPrefix(key, b.prefix)

	return strings.Trim(rel, "/")
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)

	return resp.Code == "NoSuchKey" || resp.Code == "NotFound"
}

// statFile returns object info for a file key, or nil when absent.
func (b *Backend) statFile(ctx context.Context, resolved string) (*minio.ObjectInfo, error) {
	info, err := b.client.StatObject(ctx, b.bucket, b.key(resolved), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}

		return nil, &backend.RemoteError{Op: "stat", Message: err.Error()}
	}

	return &info, nil
}

// isDir reports whether resolved names a virtual directory: an explicit
// marker or any object below it.
func (b *Backend) isDir(ctx context.Context, resolved string) (bool, error) {
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for obj := range b.client.ListObjects(listCtx, b.bucket, minio.ListObjectsOptions{
		Prefix:  b.dirKey(resolved),
		MaxKeys: 1,
	}) {
		if obj.Err != nil {
			return false, &backend.RemoteError{Op: "list", Message: obj.Err.Error()}
		}

		return true, nil
	}

	return false, nil
}

// objEntry adapts an entry kind to the shared validation interface.
type objEntry struct {
	isDir bool
}

func (e *objEntry) IsDirectory() bool {
	return e.isDir
}

// entryAt classifies resolved as file, directory, or absent (nil).
func (b *Backend) entryAt(ctx context.Context, resolved string) (backend.Entry, error) {
	info, err := b.statFile(ctx, resolved)
	if err != nil {
		return nil, err
	}

	if info != nil {
		return &objEntry{isDir: false}, nil
	}

	dir, err := b.isDir(ctx, resolved)
	if err != nil {
		return nil, err
	}

	if dir {
		return &objEntry{isDir: true}, nil
	}

	return nil, nil
}

// Create makes a new object or directory marker.
func (b *Backend) Create(ctx context.Context, p string, opts backend.CreateOptions) (*backend.FileInfo, error) {
	resolved, err := vpath.Resolve(p)
	if err != nil {
		return nil, err
	}

	entry, err := b.entryAt(ctx, resolved)
	if err != nil {
		return nil, err
	}

	if opts.IsDir {
		if err := backend.CheckNoFileOverwrite(entry, "create", resolved); err != nil {
			return nil, err
		}

		if err := backend.CheckNotExists(entry, opts.Overwrite, "create", resolved); err != nil {
			return nil, err
		}

		if _, err := b.client.PutObject(ctx, b.bucket, b.dirKey(resolved), bytes.NewReader(nil), 0, minio.PutObjectOptions{}); err != nil {
			return nil, &backend.RemoteError{Op: "create", Message: err.Error()}
		}

		return b.dirInfo(resolved), nil
	}

	if err := backend.CheckNoDirOverwrite(entry, "create", resolved); err != nil {
		return nil, err
	}

	if err := backend.CheckNotExists(entry, opts.Overwrite, "create", resolved); err != nil {
		return nil, err
	}

	if _, err := b.client.PutObject(ctx, b.bucket, b.key(resolved), bytes.NewReader(opts.Data), int64(len(opts.Data)), minio.PutObjectOptions{}); err != nil {
		return nil, &backend.RemoteError{Op: "create", Message: err.Error()}
	}

	b.logger.Debug("created object", slog.String("path", resolved), slog.Int("bytes", len(opts.Data)))

	return b.Info(ctx, resolved)
}

// Read returns the full content of an object.
func (b *Backend) Read(ctx context.Context, p string) ([]byte, error) {
	resolved, err := vpath.Resolve(p)
	if err != nil {
		return nil, err
	}

	if err := b.checkReadableFile(ctx, resolved, "read"); err != nil {
		return nil, err
	}

	obj, err := b.client.GetObject(ctx, b.bucket, b.key(resolved), minio.GetObjectOptions{})
	if err != nil {
		return nil, &backend.RemoteError{Op: "read", Message: err.Error()}
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, &backend.PathError{Op: "read", Path: resolved, Err: backend.ErrNotFound}
		}

		return nil, &backend.RemoteError{Op: "read", Message: err.Error()}
	}

	return data, nil
}

// Update replaces or extends the content of an existing object. Append is
// emulated by rewriting the object: the store has no append primitive.
func (b *Backend) Update(ctx context.Context, p string, data []byte, append_ bool) (*backend.FileInfo, error) {
	resolved, err := vpath.Resolve(p)
	if err != nil {
		return nil, err
	}

	entry, err := b.entryAt(ctx, resolved)
	if err != nil {
		return nil, err
	}

	if err := backend.CheckExists(entry, "update", resolved); err != nil {
		return nil, err
	}

	if entry.IsDirectory() {
		return nil, &backend.PathError{Op: "update", Path: resolved, Err: backend.ErrCannotWriteDirectory}
	}

	payload := data

	if append_ {
		existing, err := b.Read(ctx, resolved)
		if err != nil {
			return nil, err
		}

		payload = append(existing, data...)
	}

	if _, err := b.client.PutObject(ctx, b.bucket, b.key(resolved), bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{}); err != nil {
		return nil, &backend.RemoteError{Op: "update", Message: err.Error()}
	}

	return b.Info(ctx, resolved)
}

// Delete removes an object or a virtual directory.
func (b *Backend) Delete(ctx context.Context, p string, recursive bool) error {
	resolved, err := vpath.Resolve(p)
	if err != nil {
		return err
	}

	entry, err := b.entryAt(ctx, resolved)
	if err != nil {
		return err
	}

	if err := backend.CheckExists(entry, "delete", resolved); err != nil {
		return err
	}

	if entry.IsDirectory() {
		return b.removeDir(ctx, resolved, recursive, "delete")
	}

	if err := b.client.RemoveObject(ctx, b.bucket, b.key(resolved), minio.RemoveObjectOptions{}); err != nil {
		return &backend.RemoteError{Op: "delete", Message: err.Error()}
	}

	return nil
}

// Exists reports whether the path names an object or virtual directory.
func (b *Backend) Exists(ctx context.Context, p string) (bool, error) {
	resolved, err := vpath.Resolve(p)
	if err != nil {
		return false, err
	}

	entry, err := b.entryAt(ctx, resolved)
	if err != nil {
		return false, err
	}

	return entry != nil, nil
}

// List returns the direct children of a virtual directory.
func (b *Backend) List(ctx context.Context, p string) ([]backend.FileInfo, error) {
	resolved, err := vpath.Resolve(p)
	if err != nil {
		// The root itself is listable even though it is not addressable.
		if !isRootErr(err) {
			return nil, err
		}

		resolved = ""
	}

	if resolved != "" {
		entry, err := b.entryAt(ctx, resolved)
		if err != nil {
			return nil, err
		}

		if err := backend.CheckExists(entry, "list", resolved); err != nil {
			return nil, err
		}

		if !entry.IsDirectory() {
			return nil, &backend.PathError{Op: "list", Path: resolved, Err: backend.ErrInvalidOperation}
		}
	}

	listPrefix := b.prefix + "/"
	if b.prefix == "" {
		listPrefix = ""
	}

	if resolved != "" {
		listPrefix = b.dirKey(resolved)
	}

	var infos []backend.FileInfo

	for obj := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{
		Prefix: listPrefix,
	}) {
		if obj.Err != nil {
			return nil, &backend.RemoteError{Op: "list", Message: obj.Err.Error()}
		}

		rel := b.rel(obj.Key)
		if rel == "" || rel == resolved {
			continue
		}

		if strings.HasSuffix(obj.Key, "/") {
			infos = append(infos, *b.dirInfo(rel))

			continue
		}

		mod := obj.LastModified.UTC()
		infos = append(infos, backend.FileInfo{
			Path:       rel,
			Size:       obj.Size,
			ModifiedAt: &mod,
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Path < infos[j].Path
	})

	return infos, nil
}

// Info returns a metadata snapshot for the path.
func (b *Backend) Info(ctx context.Context, p string) (*backend.FileInfo, error) {
	resolved, err := vpath.Resolve(p)
	if err != nil {
		return nil, err
	}

	info, err := b.statFile(ctx, resolved)
	if err != nil {
		return nil, err
	}

	if info != nil {
		mod := info.LastModified.UTC()

		return &backend.FileInfo{
			Path:       resolved,
			Size:       info.Size,
			ModifiedAt: &mod,
		}, nil
	}

	dir, err := b.isDir(ctx, resolved)
	if err != nil {
		return nil, err
	}

	if dir {
		return b.dirInfo(resolved), nil
	}

	return nil, &backend.PathError{Op: "info", Path: resolved, Err: backend.ErrNotFound}
}

// Mkdir creates a directory marker. Parent markers are only created when
// recursive is true; a missing parent otherwise fails.
func (b *Backend) Mkdir(ctx context.Context, p string, recursive bool) (*backend.FileInfo, error) {
	resolved, err := vpath.Resolve(p)
	if err != nil {
		return nil, err
	}

	entry, err := b.entryAt(ctx, resolved)
	if err != nil {
		return nil, err
	}

	if err := backend.CheckNoFileOverwrite(entry, "mkdir", resolved); err != nil {
		return nil, err
	}

	if err := backend.CheckNotExists(entry, false, "mkdir", resolved); err != nil {
		return nil, err
	}

	parent, _ := vpath.Split(resolved)
	if parent != "" {
		parentDir, err := b.isDir(ctx, parent)
		if err != nil {
			return nil, err
		}

		if !parentDir {
			if !recursive {
				return nil, &backend.PathError{Op: "mkdir", Path: resolved, Err: backend.ErrNotFound}
			}

			if _, err := b.Mkdir(ctx, parent, true); err != nil {
				return nil, err
			}
		}
	}

	if _, err := b.client.PutObject(ctx, b.bucket, b.dirKey(resolved), bytes.NewReader(nil), 0, minio.PutObjectOptions{}); err != nil {
		return nil, &backend.RemoteError{Op: "mkdir", Message: err.Error()}
	}

	return b.dirInfo(resolved), nil
}

// Rmdir removes a virtual directory.
func (b *Backend) Rmdir(ctx context.Context, p string, recursive bool) error {
	resolved, err := vpath.Resolve(p)
	if err != nil {
		return err
	}

	entry, err := b.entryAt(ctx, resolved)
	if err != nil {
		return err
	}

	if err := backend.CheckExists(entry, "rmdir", resolved); err != nil {
		return err
	}

	if !entry.IsDirectory() {
		return &backend.PathError{Op: "rmdir", Path: resolved, Err: backend.ErrInvalidOperation}
	}

	return b.removeDir(ctx, resolved, recursive, "rmdir")
}

// removeDir deletes a directory marker, refusing non-empty directories
// unless recursive.
func (b *Backend) removeDir(ctx context.Context, resolved string, recursive bool, op string) error {
	var keys []string

	for obj := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{
		Prefix:    b.dirKey(resolved),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return &backend.RemoteError{Op: op, Message: obj.Err.Error()}
		}

		keys = append(keys, obj.Key)
	}

	marker := b.dirKey(resolved)

	for _, k := range keys {
		if k != marker && !recursive {
			return &backend.PathError{Op: op, Path: resolved, Err: backend.ErrDirectoryNotEmpty}
		}
	}

	for _, k := range keys {
		if err := b.client.RemoveObject(ctx, b.bucket, k, minio.RemoveObjectOptions{}); err != nil {
			return &backend.RemoteError{Op: op, Message: err.Error()}
		}
	}

	// The marker itself may be implicit (directory exists only through its
	// children); nothing more to remove then.
	return nil
}

// Glob returns sorted paths matching pattern across the whole vault.
func (b *Backend) Glob(ctx context.Context, pattern string, includeDirs bool) ([]string, error) {
	listPrefix := ""
	if b.prefix != "" {
		listPrefix = b.prefix + "/"
	}

	seen := make(map[string]bool)

	var matches []string

	for obj := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{
		Prefix:    listPrefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, &backend.RemoteError{Op: "glob", Message: obj.Err.Error()}
		}

		isDir := strings.HasSuffix(obj.Key, "/")
		if isDir && !includeDirs {
			continue
		}

		rel := b.rel(obj.Key)
		if rel == "" || seen[rel] {
			continue
		}

		ok, err := path.Match(pattern, rel)
		if err != nil {
			return nil, &backend.PathError{Op: "glob", Path: pattern, Err: backend.ErrInvalidOperation}
		}

		if ok {
			seen[rel] = true
			matches = append(matches, rel)
		}
	}

	sort.Strings(matches)

	return matches, nil
}

// StreamRead returns the object content as a lazy chunk sequence.
func (b *Backend) StreamRead(ctx context.Context, p string, chunkSize int) (backend.ChunkStream, error) {
	resolved, err := vpath.Resolve(p)
	if err != nil {
		return nil, err
	}

	if err := b.checkReadableFile(ctx, resolved, "stream-read"); err != nil {
		return nil, err
	}

	if chunkSize <= 0 {
		chunkSize = backend.DefaultChunkSize
	}

	obj, err := b.client.GetObject(ctx, b.bucket, b.key(resolved), minio.GetObjectOptions{})
	if err != nil {
		return nil, &backend.RemoteError{Op: "stream-read", Message: err.Error()}
	}

	return &objectChunkStream{obj: obj, chunkSize: chunkSize}, nil
}

// objectChunkStream reads an object in fixed-size chunks.
type objectChunkStream struct {
	obj       *minio.Object
	chunkSize int
}

func (s *objectChunkStream) Next() ([]byte, error) {
	buf := make([]byte, s.chunkSize)

	n, err := io.ReadFull(s.obj, buf)
	if n > 0 {
		return buf[:n], nil
	}

	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return nil, io.EOF
	}

	return nil, err
}

func (s *objectChunkStream) Close() error {
	return s.obj.Close()
}

// StreamWrite uploads from src without buffering the whole payload. The
// upload streams through a pipe; a mid-stream source failure aborts the
// upload, so no object appears for a failed write.
func (b *Backend) StreamWrite(ctx context.Context, p string, src any, opts backend.CreateOptions) (*backend.FileInfo, error) {
	resolved, err := vpath.Resolve(p)
	if err != nil {
		return nil, err
	}

	entry, err := b.entryAt(ctx, resolved)
	if err != nil {
		return nil, err
	}

	if err := backend.CheckNoDirOverwrite(entry, "stream-write", resolved); err != nil {
		return nil, err
	}

	if err := backend.CheckNotExists(entry, opts.Overwrite, "stream-write", resolved); err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	done := make(chan error, 1)

	go func() {
		_, putErr := b.client.PutObject(ctx, b.bucket, b.key(resolved), pr, -1, minio.PutObjectOptions{})
		pr.CloseWithError(putErr)
		done <- putErr
	}()

	if err := backend.CopyChunks(ctx, pw, src); err != nil {
		pw.CloseWithError(err)
		<-done

		return nil, err
	}

	if err := pw.Close(); err != nil {
		return nil, err
	}

	if err := <-done; err != nil {
		return nil, &backend.RemoteError{Op: "stream-write", Message: err.Error()}
	}

	return b.Info(ctx, resolved)
}

// Checksum streams the object through the selected digest algorithm.
func (b *Backend) Checksum(ctx context.Context, p string, algo checksum.Algorithm) (string, error) {
	resolved, err := vpath.Resolve(p)
	if err != nil {
		return "", err
	}

	if _, err := checksum.New(algo); err != nil {
		return "", &backend.AlgorithmError{Algorithm: string(algo)}
	}

	if err := b.checkReadableFile(ctx, resolved, "checksum"); err != nil {
		return "", err
	}

	obj, err := b.client.GetObject(ctx, b.bucket, b.key(resolved), minio.GetObjectOptions{})
	if err != nil {
		return "", &backend.RemoteError{Op: "checksum", Message: err.Error()}
	}
	defer obj.Close()

	return checksum.Sum(obj, algo, checksum.DefaultChunkSize)
}

// ChecksumMany computes digests for multiple paths, omitting entries that
// are missing or not files.
func (b *Backend) ChecksumMany(ctx context.Context, paths []string, algo checksum.Algorithm) (map[string]string, error) {
	if _, err := checksum.New(algo); err != nil {
		return nil, &backend.AlgorithmError{Algorithm: string(algo)}
	}

	result := make(map[string]string, len(paths))

	for _, p := range paths {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		digest, err := b.Checksum(ctx, p, algo)
		if err != nil {
			continue
		}

		result[p] = digest
	}

	return result, nil
}

// Session runs fn under the backend's session gate. The store itself is
// assumed single-writer per vault, so the gate only serializes callers
// within this process; it still honors the reentrancy and exactly-once
// release contract.
func (b *Backend) Session(ctx context.Context, timeout time.Duration, fn backend.SessionFunc) error {
	return b.session.run(ctx, timeout, fn)
}

// checkReadableFile verifies resolved names an object, not a directory.
func (b *Backend) checkReadableFile(ctx context.Context, resolved, op string) error {
	entry, err := b.entryAt(ctx, resolved)
	if err != nil {
		return err
	}

	if err := backend.CheckExists(entry, op, resolved); err != nil {
		return err
	}

	return backend.CheckIsFile(entry, op, resolved)
}

func (b *Backend) dirInfo(resolved string) *backend.FileInfo {
	return &backend.FileInfo{
		Path:  resolved,
		IsDir: true,
	}
}

// isRootErr identifies resolution failures that mean "the root itself".
func isRootErr(err error) bool {
	return errors.Is(err, backend.ErrRootPath) || errors.Is(err, backend.ErrEmptyPath)
}
