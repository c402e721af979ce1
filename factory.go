// Package syncvault provides synchronized, version-controlled file storage
// behind one uniform backend contract, with local-filesystem, git-replicated,
// and object-store implementations.
package syncvault

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/syncvault/syncvault/backend"
	"github.com/syncvault/syncvault/gitfs"
	"github.com/syncvault/syncvault/localfs"
	"github.com/syncvault/syncvault/objfs"
)

// HandlerFunc builds a backend from the target portion of a URI and its
// query parameters.
type HandlerFunc func(ctx context.Context, target string, params map[string]string) (backend.Backend, error)

// Factory creates backends from URI strings. Factories are explicit,
// caller-constructed objects; there is no process-wide default instance.
//
// Built-in schemes:
//
//	file:///data/vault
//	git+ssh://github.com/org/repo@main?ssh_key=/home/u/.ssh/id_ed25519
//	git+https://github.com/org/repo@main?username=bot&password=token
//	s3://localhost:9000/bucket/prefix?access_key=ak&secret_key=sk
type Factory struct {
	handlers map[string]HandlerFunc
	logger   *slog.Logger
}

// NewFactory creates a Factory with the built-in scheme handlers registered.
func NewFactory(logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}

	f := &Factory{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}

	f.Register("file", f.openLocal)
	f.Register("git+ssh", f.openGitSSH)
	f.Register("git+https", f.openGitHTTPS)
	f.Register("s3", f.openObjectStore)

	return f
}

// Register installs a handler for a URI scheme, replacing any existing one.
func (f *Factory) Register(scheme string, fn HandlerFunc) {
	f.handlers[scheme] = fn
}

// Schemes returns the registered scheme names, sorted.
func (f *Factory) Schemes() []string {
	schemes := make([]string, 0, len(f.handlers))
	for s := range f.handlers {
		schemes = append(schemes, s)
	}

	sort.Strings(schemes)

	return schemes
}

// Open creates a backend from a URI string.
func (f *Factory) Open(ctx context.Context, rawURI string) (backend.Backend, error) {
	scheme, target, params, err := parseURI(rawURI)
	if err != nil {
		return nil, err
	}

	handler, ok := f.handlers[scheme]
	if !ok {
		return nil, fmt.Errorf("unsupported URI scheme %q (supported: %s)",
			scheme, strings.Join(f.Schemes(), ", "))
	}

	return handler(ctx, target, params)
}

// parseURI splits a vault URI into scheme, target, and query parameters.
// The target is host+path with the query stripped; for file URIs it is the
// filesystem path.
func parseURI(rawURI string) (scheme, target string, params map[string]string, err error) {
	// url.Parse mangles "+" schemes' opaque forms inconsistently across
	// inputs, so split the scheme off by hand first.
	idx := strings.Index(rawURI, "://")
	if idx <= 0 {
		return "", "", nil, fmt.Errorf("invalid vault URI %q: missing scheme", rawURI)
	}

	scheme = rawURI[:idx]
	rest := rawURI[idx+len("://"):]

	params = make(map[string]string)

	if qIdx := strings.Index(rest, "?"); qIdx >= 0 {
		values, parseErr := url.ParseQuery(rest[qIdx+1:])
		if parseErr != nil {
			return "", "", nil, fmt.Errorf("invalid vault URI %q: %w", rawURI, parseErr)
		}

		for k, v := range values {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}

		rest = rest[:qIdx]
	}

	if rest == "" {
		return "", "", nil, fmt.Errorf("invalid vault URI %q: missing target", rawURI)
	}

	return scheme, rest, params, nil
}

// splitBranch separates a trailing "@branch" from a git target.
func splitBranch(target string, params map[string]string) (base, branch string) {
	branch = params["branch"]

	if idx := strings.LastIndex(target, "@"); idx >= 0 {
		return target[:idx], target[idx+1:]
	}

	return target, branch
}

// defaultWorkdir is the local clone location for a git vault when the URI
// does not name one.
func defaultWorkdir(remoteBase string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory for vault clone: %w", err)
	}

	return filepath.Join(home, ".syncvault", strings.ReplaceAll(remoteBase, "/", "_")), nil
}

func (f *Factory) openLocal(ctx context.Context, target string, params map[string]string) (backend.Backend, error) {
	createRoot := params["create_root"] != "false"

	return localfs.New(target, localfs.Options{
		CreateRoot: createRoot,
		Logger:     f.logger,
	})
}

// gitConfigFromParams maps shared URI parameters onto a gitfs Config.
func gitConfigFromParams(base string, params map[string]string) (gitfs.Config, error) {
	workdir := params["path"]
	if workdir == "" {
		var err error

		workdir, err = defaultWorkdir(base)
		if err != nil {
			return gitfs.Config{}, err
		}
	}

	return gitfs.Config{
		Path:        workdir,
		AuthorName:  params["author_name"],
		AuthorEmail: params["author_email"],
		AutoPull:    params["auto_pull"] == "true",
		AutoPush:    params["auto_push"] == "true",
	}, nil
}

func (f *Factory) openGitSSH(ctx context.Context, target string, params map[string]string) (backend.Backend, error) {
	base, branch := splitBranch(target, params)

	cfg, err := gitConfigFromParams(base, params)
	if err != nil {
		return nil, err
	}

	cfg.RemoteURL = "git@" + strings.Replace(base, "/", ":", 1) + ".git"
	cfg.Branch = branch
	cfg.SSHKeyPath = params["ssh_key"]
	cfg.KnownHosts = params["known_hosts"]
	cfg.Logger = f.logger

	return gitfs.New(ctx, cfg)
}

func (f *Factory) openGitHTTPS(ctx context.Context, target string, params map[string]string) (backend.Backend, error) {
	base, branch := splitBranch(target, params)

	cfg, err := gitConfigFromParams(base, params)
	if err != nil {
		return nil, err
	}

	cfg.RemoteURL = "https://" + base + ".git"
	cfg.Branch = branch
	cfg.Username = params["username"]
	cfg.Password = params["password"]
	cfg.Logger = f.logger

	return gitfs.New(ctx, cfg)
}

func (f *Factory) openObjectStore(ctx context.Context, target string, params map[string]string) (backend.Backend, error) {
	// Target layout: endpoint/bucket[/prefix]
	parts := strings.SplitN(target, "/", 3)
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid s3 vault target %q: want endpoint/bucket[/prefix]", target)
	}

	endpoint, bucket := parts[0], parts[1]

	prefix := ""
	if len(parts) == 3 {
		prefix = parts[2]
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(params["access_key"], params["secret_key"], ""),
		Secure: params["secure"] == "true",
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to object store: %w", err)
	}

	return objfs.New(client, objfs.Options{
		Bucket: bucket,
		Prefix: prefix,
		Logger: f.logger,
	})
}
