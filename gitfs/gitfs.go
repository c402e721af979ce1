// Package gitfs implements the synchronized backend: a local working tree
// (delegated to localfs) whose history is version-controlled and replicated
// to a remote repository through git plumbing.
//
// The backend layers behavior by explicit delegation, not inheritance: it
// owns a localfs.Backend for all tree operations and injects sync behavior
// (auto-pull before reads, auto-push after writes, conflict tracking) around
// the delegated calls.
package gitfs

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/syncvault/syncvault/backend"
	"github.com/syncvault/syncvault/checksum"
	"github.com/syncvault/syncvault/gitvcs"
	"github.com/syncvault/syncvault/lock"
	"github.com/syncvault/syncvault/localfs"
)

const (
	defaultBranch      = "main"
	defaultAuthorName  = "syncvault"
	defaultAuthorEmail = "syncvault@localhost"
	defaultRemote      = "origin"

	// lockFileName lives under .git so the session lock never appears in
	// the replicated tree.
	lockFileName = "syncvault.lock"
)

// Config is the flat connection configuration for a git-backed vault.
// Credentials are always passed explicitly, never read from the environment.
type Config struct {
	// RemoteURL is the repository to replicate to. Required.
	RemoteURL string `toml:"remote_url"`

	// Path is the local working tree directory. Required.
	Path string `toml:"path"`

	// Branch is the branch to track. Defaults to "main".
	Branch string `toml:"branch"`

	AuthorName  string `toml:"author_name"`
	AuthorEmail string `toml:"author_email"`

	// Username and Password are embedded into HTTP(S) remote URLs. They are
	// ignored for SSH remotes, which authenticate via SSHKeyPath.
	Username string `toml:"username"`
	Password string `toml:"password"`

	SSHKeyPath string `toml:"ssh_key_path"`
	KnownHosts string `toml:"known_hosts"`

	// AutoPull pulls once before each read operation (or once per session).
	AutoPull bool `toml:"auto_pull"`

	// AutoPush commits and pushes after each mutating operation (or once on
	// normal session exit).
	AutoPush bool `toml:"auto_push"`

	Logger *slog.Logger `toml:"-"`
}

// Backend is a synchronized file backend over a git working tree.
type Backend struct {
	local  *localfs.Backend
	git    *gitvcs.Client
	branch string
	cfg    Config
	logger *slog.Logger

	// mu guards the outstanding conflict set and the pending resolution
	// list. The working tree itself is guarded by the session lock.
	mu          sync.Mutex
	outstanding map[string]*backend.SyncConflict
	resolved    []string
}

var _ backend.SyncBackend = (*Backend)(nil)

// New initializes a git-backed vault: cloning the remote when the working
// tree does not exist yet, or attaching to an existing repository and
// repointing its origin. A non-empty directory that is not a repository is
// rejected rather than adopted.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.RemoteURL == "" {
		return nil, fmt.Errorf("gitfs: remote_url is required")
	}

	if cfg.Path == "" {
		return nil, fmt.Errorf("gitfs: path is required")
	}

	if cfg.Branch == "" {
		cfg.Branch = defaultBranch
	}

	if cfg.AuthorName == "" {
		cfg.AuthorName = defaultAuthorName
	}

	if cfg.AuthorEmail == "" {
		cfg.AuthorEmail = defaultAuthorEmail
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	remoteURL, err := buildRemoteURL(cfg)
	if err != nil {
		return nil, err
	}

	workdir, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("gitfs: resolving working tree path: %w", err)
	}

	git, err := gitvcs.NewClient(workdir, gitvcs.Options{
		SSHKeyPath: cfg.SSHKeyPath,
		KnownHosts: cfg.KnownHosts,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	if err := prepareRepository(ctx, git, workdir, remoteURL, cfg.Branch); err != nil {
		return nil, err
	}

	if err := git.ConfigSet(ctx, "user.name", cfg.AuthorName); err != nil {
		return nil, err
	}

	if err := git.ConfigSet(ctx, "user.email", cfg.AuthorEmail); err != nil {
		return nil, err
	}

	local, err := localfs.New(workdir, localfs.Options{
		CreateRoot: true,
		LockPath:   filepath.Join(workdir, ".git", lockFileName),
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	return &Backend{
		local:       local,
		git:         git,
		branch:      cfg.Branch,
		cfg:         cfg,
		logger:      logger,
		outstanding: make(map[string]*backend.SyncConflict),
	}, nil
}

// prepareRepository brings the working tree to a usable state: an existing
// repository gets its remote repointed, a missing or empty directory is
// cloned into, anything else is refused.
func prepareRepository(ctx context.Context, git *gitvcs.Client, workdir, remoteURL, branch string) error {
	if git.IsRepository() {
		if err := git.EnsureRemote(ctx, defaultRemote, remoteURL); err != nil {
			return err
		}

		return git.CheckoutBranch(ctx, branch)
	}

	entries, err := os.ReadDir(workdir)
	if err == nil && len(entries) > 0 {
		return &backend.PathError{Op: "init", Path: workdir, Err: backend.ErrAlreadyExists}
	}

	// Clone refuses an existing (empty) directory target on some git
	// versions; remove it and let clone recreate it.
	if err == nil {
		if rmErr := os.Remove(workdir); rmErr != nil {
			return fmt.Errorf("gitfs: clearing empty working tree: %w", rmErr)
		}
	}

	if err := git.Clone(ctx, remoteURL, branch); err != nil {
		return remoteErr("clone", err)
	}

	return git.CheckoutBranch(ctx, branch)
}

// buildRemoteURL embeds username/password credentials into HTTP(S) remote
// URLs. URLs that already carry a user, and non-HTTP schemes, pass through
// unchanged.
func buildRemoteURL(cfg Config) (string, error) {
	if cfg.Username == "" || cfg.Password == "" {
		return cfg.RemoteURL, nil
	}

	if !strings.HasPrefix(cfg.RemoteURL, "http://") && !strings.HasPrefix(cfg.RemoteURL, "https://") {
		return cfg.RemoteURL, nil
	}

	parsed, err := url.Parse(cfg.RemoteURL)
	if err != nil {
		return "", fmt.Errorf("gitfs: invalid remote URL: %w", err)
	}

	if parsed.User != nil && parsed.User.Username() != "" {
		return cfg.RemoteURL, nil
	}

	parsed.User = url.UserPassword(cfg.Username, cfg.Password)

	return parsed.String(), nil
}

// remoteErr maps a plumbing failure to the remote-operation error taxonomy.
func remoteErr(op string, err error) error {
	return &backend.RemoteError{Op: op, Message: err.Error()}
}

// Root returns the working tree root.
func (b *Backend) Root() string {
	return b.local.Root()
}

// inSession reports whether ctx is inside this backend's session, which
// suppresses per-operation auto-pull/auto-push in favor of session batching.
func (b *Backend) inSession(ctx context.Context) bool {
	return lock.Held(ctx, b.local.Lock())
}

// autoPull pulls before a read when configured and not inside a session.
// Conflicts surfaced by the pull do not fail the read; they stay in the
// outstanding set for the caller to resolve.
func (b *Backend) autoPull(ctx context.Context) error {
	if !b.cfg.AutoPull || b.inSession(ctx) {
		return nil
	}

	_, err := b.Pull(ctx)

	return err
}

// autoPush publishes after a mutation when configured and not inside a
// session.
func (b *Backend) autoPush(ctx context.Context, message string) error {
	if !b.cfg.AutoPush || b.inSession(ctx) {
		return nil
	}

	return b.Push(ctx, message)
}

// Create makes a new file or directory in the working tree.
func (b *Backend) Create(ctx context.Context, path string, opts backend.CreateOptions) (*backend.FileInfo, error) {
	info, err := b.local.Create(ctx, path, opts)
	if err != nil {
		return nil, err
	}

	if err := b.autoPush(ctx, "Create "+info.Path); err != nil {
		return nil, err
	}

	return info, nil
}

// Read returns the full content of a file, pulling first when configured.
func (b *Backend) Read(ctx context.Context, path string) ([]byte, error) {
	if err := b.autoPull(ctx); err != nil {
		return nil, err
	}

	return b.local.Read(ctx, path)
}

// Update writes new content to an existing file.
func (b *Backend) Update(ctx context.Context, path string, data []byte, append_ bool) (*backend.FileInfo, error) {
	info, err := b.local.Update(ctx, path, data, append_)
	if err != nil {
		return nil, err
	}

	if err := b.autoPush(ctx, "Update "+info.Path); err != nil {
		return nil, err
	}

	return info, nil
}

// Delete removes a file or directory.
func (b *Backend) Delete(ctx context.Context, path string, recursive bool) error {
	if err := b.local.Delete(ctx, path, recursive); err != nil {
		return err
	}

	return b.autoPush(ctx, "Delete "+path)
}

// Exists reports whether the path resolves to an existing entry.
func (b *Backend) Exists(ctx context.Context, path string) (bool, error) {
	return b.local.Exists(ctx, path)
}

// List returns the direct children of a directory.
func (b *Backend) List(ctx context.Context, path string) ([]backend.FileInfo, error) {
	if err := b.autoPull(ctx); err != nil {
		return nil, err
	}

	return b.local.List(ctx, path)
}

// Info returns a metadata snapshot, pulling first when configured.
func (b *Backend) Info(ctx context.Context, path string) (*backend.FileInfo, error) {
	if err := b.autoPull(ctx); err != nil {
		return nil, err
	}

	return b.local.Info(ctx, path)
}

// Mkdir creates a directory. Note that git does not track empty directories;
// the directory replicates once it has content.
func (b *Backend) Mkdir(ctx context.Context, path string, recursive bool) (*backend.FileInfo, error) {
	return b.local.Mkdir(ctx, path, recursive)
}

// Rmdir removes a directory.
func (b *Backend) Rmdir(ctx context.Context, path string, recursive bool) error {
	if err := b.local.Rmdir(ctx, path, recursive); err != nil {
		return err
	}

	return b.autoPush(ctx, "Remove directory "+path)
}

// Glob returns sorted paths matching the pattern, excluding git metadata.
func (b *Backend) Glob(ctx context.Context, pattern string, includeDirs bool) ([]string, error) {
	matches, err := b.local.Glob(ctx, pattern, includeDirs)
	if err != nil {
		return nil, err
	}

	filtered := matches[:0]

	for _, m := range matches {
		if m == ".git" || strings.HasPrefix(m, ".git/") {
			continue
		}

		filtered = append(filtered, m)
	}

	return filtered, nil
}

// StreamRead returns the file content as a lazy chunk sequence.
func (b *Backend) StreamRead(ctx context.Context, path string, chunkSize int) (backend.ChunkStream, error) {
	if err := b.autoPull(ctx); err != nil {
		return nil, err
	}

	return b.local.StreamRead(ctx, path, chunkSize)
}

// StreamWrite writes a file from a chunk source.
func (b *Backend) StreamWrite(ctx context.Context, path string, src any, opts backend.CreateOptions) (*backend.FileInfo, error) {
	info, err := b.local.StreamWrite(ctx, path, src, opts)
	if err != nil {
		return nil, err
	}

	if err := b.autoPush(ctx, "Stream write "+info.Path); err != nil {
		return nil, err
	}

	return info, nil
}

// Checksum computes the hex digest of a file's content.
func (b *Backend) Checksum(ctx context.Context, path string, algo checksum.Algorithm) (string, error) {
	return b.local.Checksum(ctx, path, algo)
}

// ChecksumMany computes digests for multiple paths.
func (b *Backend) ChecksumMany(ctx context.Context, paths []string, algo checksum.Algorithm) (map[string]string, error) {
	return b.local.ChecksumMany(ctx, paths, algo)
}

// Session runs fn with exclusive access to the working tree. On entry to the
// outermost session the backend pulls once when AutoPull is set; on normal
// exit it pushes once when AutoPush is set, batching every intervening
// mutation into one publish. A failed body skips the push.
func (b *Backend) Session(ctx context.Context, timeout time.Duration, fn backend.SessionFunc) error {
	alreadyInside := b.inSession(ctx)

	return b.local.Lock().WithSession(ctx, timeout, func(ctx context.Context) error {
		if !alreadyInside && b.cfg.AutoPull {
			if _, err := b.Pull(ctx); err != nil {
				return err
			}
		}

		if err := fn(ctx); err != nil {
			return err
		}

		if !alreadyInside && b.cfg.AutoPush {
			return b.Push(ctx, "Batch sync changes")
		}

		return nil
	})
}
