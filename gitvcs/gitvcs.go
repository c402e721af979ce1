// Package gitvcs wraps the git binary to provide the plumbing operations the
// sync layer is built on: clone, commit, fetch, merge with conflict markers,
// and push with rejection detection. All operations shell out to git with the
// repository working directory as cwd.
package gitvcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Sentinel errors for conditions callers branch on.
var (
	// ErrGitNotFound indicates the git binary is not on PATH.
	ErrGitNotFound = errors.New("git executable not found on PATH")

	// ErrPushRejected indicates the remote refused the push, typically
	// because it has commits the local branch does not.
	ErrPushRejected = errors.New("push rejected by remote")

	// ErrMergeConflicts indicates a merge stopped with unmerged paths.
	ErrMergeConflicts = errors.New("merge produced conflicts")

	// ErrNotRepository indicates the directory is not a git working tree.
	ErrNotRepository = errors.New("not a git repository")

	// ErrRemoteRefNotFound indicates the requested branch does not exist on
	// the remote yet (an unborn remote branch).
	ErrRemoteRefNotFound = errors.New("remote ref not found")
)

// CommandError carries the failing git invocation and its stderr so callers
// can report the failure without re-running the command.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = e.Err.Error()
	}

	return fmt.Sprintf("git %s: %s", strings.Join(e.Args, " "), msg)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Options configures a Client.
type Options struct {
	// SSHKeyPath selects a private key for SSH remotes via GIT_SSH_COMMAND.
	SSHKeyPath string

	// KnownHosts overrides the SSH known-hosts file.
	KnownHosts string

	Logger *slog.Logger
}

// Client runs git commands against one working directory.
type Client struct {
	gitPath string
	workdir string
	env     []string
	logger  *slog.Logger
}

// NewClient creates a Client for the given working directory. The directory
// does not need to exist yet (Clone creates it).
func NewClient(workdir string, opts Options) (*Client, error) {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		return nil, ErrGitNotFound
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		gitPath: gitPath,
		workdir: workdir,
		env:     buildEnv(opts),
		logger:  logger,
	}, nil
}

// buildEnv extends the process environment with SSH settings so key and
// known-hosts selection works without touching the user's ssh config.
func buildEnv(opts Options) []string {
	env := os.Environ()

	sshCommand := ""
	if opts.SSHKeyPath != "" {
		sshCommand = fmt.Sprintf("ssh -i %s -o IdentitiesOnly=yes", opts.SSHKeyPath)
	}

	if opts.KnownHosts != "" {
		if sshCommand == "" {
			sshCommand = "ssh"
		}

		sshCommand = fmt.Sprintf("%s -o UserKnownHostsFile=%s", sshCommand, opts.KnownHosts)
	}

	if sshCommand != "" {
		env = append(env, "GIT_SSH_COMMAND="+sshCommand)
	}

	return env
}

// Workdir returns the working directory the client operates on.
func (c *Client) Workdir() string {
	return c.workdir
}

// run executes git with the given arguments, returning stdout. A non-zero
// exit becomes a CommandError carrying stderr.
func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	stdout, stderr, code, err := c.exec(ctx, args...)
	if err != nil {
		return "", err
	}

	if code != 0 {
		return "", &CommandError{Args: args, Stderr: stderr, Err: fmt.Errorf("exit status %d", code)}
	}

	return stdout, nil
}

// exec executes git and returns stdout, stderr and the exit code. Only
// failures to start the process are returned as err.
func (c *Client) exec(ctx context.Context, args ...string) (stdout, stderr string, code int, err error) {
	cmd := exec.CommandContext(ctx, c.gitPath, args...)
	cmd.Dir = c.workdir
	cmd.Env = c.env

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()

	stdout = outBuf.String()
	stderr = errBuf.String()

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return stdout, stderr, exitErr.ExitCode(), nil
		}

		return "", "", -1, fmt.Errorf("running git %s: %w", strings.Join(args, " "), runErr)
	}

	return stdout, stderr, 0, nil
}

// IsRepository reports whether the working directory contains a git
// repository.
func (c *Client) IsRepository() bool {
	_, err := os.Stat(c.workdir + "/.git")

	return err == nil
}

// Clone clones url into the working directory, preferring a single-branch
// clone of branch. Some servers reject --branch for an unborn branch, so a
// plain clone is the fallback.
func (c *Client) Clone(ctx context.Context, url, branch string) error {
	args := []string{"clone", "--branch", branch, "--single-branch", url, c.workdir}

	_, stderr, code, err := c.execAnywhere(ctx, args...)
	if err != nil {
		return err
	}

	if code == 0 {
		return nil
	}

	c.logger.Debug("single-branch clone failed, retrying plain clone",
		slog.String("branch", branch), slog.String("stderr", strings.TrimSpace(stderr)))

	_, stderr, code, err = c.execAnywhere(ctx, "clone", url, c.workdir)
	if err != nil {
		return err
	}

	if code != 0 {
		return &CommandError{Args: []string{"clone"}, Stderr: stderr, Err: fmt.Errorf("exit status %d", code)}
	}

	return nil
}

// execAnywhere is exec without cwd set, for commands that run before the
// working directory exists.
func (c *Client) execAnywhere(ctx context.Context, args ...string) (stdout, stderr string, code int, err error) {
	cmd := exec.CommandContext(ctx, c.gitPath, args...)
	cmd.Env = c.env

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return outBuf.String(), errBuf.String(), exitErr.ExitCode(), nil
		}

		return "", "", -1, fmt.Errorf("running git %s: %w", strings.Join(args, " "), runErr)
	}

	return outBuf.String(), errBuf.String(), 0, nil
}

// Init creates an empty repository in the working directory.
func (c *Client) Init(ctx context.Context, branch string) error {
	if err := os.MkdirAll(c.workdir, 0o755); err != nil {
		return fmt.Errorf("creating repository directory: %w", err)
	}

	_, err := c.run(ctx, "init", "--initial-branch", branch)

	return err
}

// EnsureRemote points the named remote at url, adding it if absent.
func (c *Client) EnsureRemote(ctx context.Context, name, url string) error {
	remotes, err := c.run(ctx, "remote")
	if err != nil {
		return err
	}

	for _, existing := range strings.Fields(remotes) {
		if existing == name {
			_, err := c.run(ctx, "remote", "set-url", name, url)

			return err
		}
	}

	_, err = c.run(ctx, "remote", "add", name, url)

	return err
}

// CurrentBranch returns the checked-out branch name, or "HEAD" when detached.
func (c *Client) CurrentBranch(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(out), nil
}

// CheckoutBranch switches to branch, creating it if it does not exist.
func (c *Client) CheckoutBranch(ctx context.Context, branch string) error {
	current, err := c.CurrentBranch(ctx)
	if err == nil && current == branch {
		return nil
	}

	_, _, code, execErr := c.exec(ctx, "checkout", branch)
	if execErr != nil {
		return execErr
	}

	if code == 0 {
		return nil
	}

	_, err = c.run(ctx, "checkout", "-b", branch)

	return err
}

// ConfigSet sets a repository-local configuration value.
func (c *Client) ConfigSet(ctx context.Context, key, value string) error {
	_, err := c.run(ctx, "config", key, value)

	return err
}

// AddAll stages every change in the working tree, including deletions.
func (c *Client) AddAll(ctx context.Context) error {
	_, err := c.run(ctx, "add", "--all")

	return err
}

// Add stages one path.
func (c *Client) Add(ctx context.Context, path string) error {
	_, err := c.run(ctx, "add", "--", path)

	return err
}

// HasStagedChanges reports whether the index differs from HEAD.
func (c *Client) HasStagedChanges(ctx context.Context) (bool, error) {
	// diff --cached --quiet exits 1 when the index has changes.
	_, stderr, code, err := c.exec(ctx, "diff", "--cached", "--quiet")
	if err != nil {
		return false, err
	}

	switch code {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, &CommandError{
			Args:   []string{"diff", "--cached", "--quiet"},
			Stderr: stderr,
			Err:    fmt.Errorf("exit status %d", code),
		}
	}
}

// Commit records the index as a commit. An empty index is not an error.
func (c *Client) Commit(ctx context.Context, message string) error {
	_, stderr, code, err := c.exec(ctx, "commit", "-m", message)
	if err != nil {
		return err
	}

	if code != 0 && !strings.Contains(strings.ToLower(stderr), "nothing to commit") {
		return &CommandError{Args: []string{"commit"}, Stderr: stderr, Err: fmt.Errorf("exit status %d", code)}
	}

	return nil
}

// Fetch downloads branch from remote without touching the working tree.
// A branch that does not exist on the remote yet returns
// ErrRemoteRefNotFound.
func (c *Client) Fetch(ctx context.Context, remote, branch string) error {
	_, stderr, code, err := c.exec(ctx, "fetch", remote, branch)
	if err != nil {
		return err
	}

	if code != 0 {
		if strings.Contains(stderr, "couldn't find remote ref") {
			return ErrRemoteRefNotFound
		}

		return &CommandError{Args: []string{"fetch", remote, branch}, Stderr: stderr, Err: fmt.Errorf("exit status %d", code)}
	}

	return nil
}

// RefExists reports whether ref resolves to an object.
func (c *Client) RefExists(ctx context.Context, ref string) (bool, error) {
	_, _, code, err := c.exec(ctx, "rev-parse", "--verify", "--quiet", ref)
	if err != nil {
		return false, err
	}

	return code == 0, nil
}

// RevParse resolves ref to a full object hash.
func (c *Client) RevParse(ctx context.Context, ref string) (string, error) {
	out, err := c.run(ctx, "rev-parse", ref)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(out), nil
}

// Merge merges ref into the current branch without an editor prompt.
// ErrMergeConflicts is returned when the merge stops on unmerged paths;
// the working tree is left with conflict markers for the caller to inspect.
func (c *Client) Merge(ctx context.Context, ref string) error {
	_, stderr, code, err := c.exec(ctx, "merge", "--no-edit", ref)
	if err != nil {
		return err
	}

	if code == 0 {
		return nil
	}

	unmerged, uerr := c.UnmergedPaths(ctx)
	if uerr == nil && len(unmerged) > 0 {
		return ErrMergeConflicts
	}

	return &CommandError{Args: []string{"merge", ref}, Stderr: stderr, Err: fmt.Errorf("exit status %d", code)}
}

// StatusEntry is one line of porcelain status output.
type StatusEntry struct {
	// Code is the two-character XY status code.
	Code string

	Path string
}

// IsUnmerged reports whether the entry describes a merge conflict.
func (e StatusEntry) IsUnmerged() bool {
	return strings.Contains(e.Code, "U") || e.Code == "AA" || e.Code == "DD"
}

// Status returns the porcelain status of the working tree.
func (c *Client) Status(ctx context.Context) ([]StatusEntry, error) {
	out, err := c.run(ctx, "status", "--porcelain")
	if err != nil {
		return nil, err
	}

	var entries []StatusEntry

	for _, line := range strings.Split(out, "\n") {
		// XY<space>path needs at least four characters.
		if len(line) < 4 {
			continue
		}

		entries = append(entries, StatusEntry{
			Code: line[:2],
			Path: strings.TrimSpace(line[3:]),
		})
	}

	return entries, nil
}

// IsClean reports whether the working tree has no pending changes.
func (c *Client) IsClean(ctx context.Context) (bool, error) {
	entries, err := c.Status(ctx)
	if err != nil {
		return false, err
	}

	return len(entries) == 0, nil
}

// UnmergedPaths returns the paths currently in conflict.
func (c *Client) UnmergedPaths(ctx context.Context) ([]string, error) {
	entries, err := c.Status(ctx)
	if err != nil {
		return nil, err
	}

	var paths []string

	for _, e := range entries {
		if e.IsUnmerged() {
			paths = append(paths, e.Path)
		}
	}

	return paths, nil
}

// StageRefs returns the index blob hashes for a conflicted path: stage 2 is
// the local ("ours") version, stage 3 the remote ("theirs") version. Either
// may be empty when that side deleted the file.
func (c *Client) StageRefs(ctx context.Context, path string) (ours, theirs string, err error) {
	out, err := c.run(ctx, "ls-files", "-u", "--", path)
	if err != nil {
		return "", "", err
	}

	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		// Format: <mode> <hash> <stage>\t<path>
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}

		switch fields[2] {
		case "2":
			ours = fields[1]
		case "3":
			theirs = fields[1]
		}
	}

	return ours, theirs, nil
}

// CheckoutOurs restores the local side of a conflicted path.
func (c *Client) CheckoutOurs(ctx context.Context, path string) error {
	_, err := c.run(ctx, "checkout", "--ours", "--", path)

	return err
}

// CheckoutTheirs restores the remote side of a conflicted path.
func (c *Client) CheckoutTheirs(ctx context.Context, path string) error {
	_, err := c.run(ctx, "checkout", "--theirs", "--", path)

	return err
}

// Push publishes branch to remote. --set-upstream is passed on every push:
// it establishes tracking on the first push and is a no-op afterwards.
// A rejected push (remote ahead) returns ErrPushRejected.
func (c *Client) Push(ctx context.Context, remote, branch string) error {
	_, stderr, code, err := c.exec(ctx, "push", "--set-upstream", remote, branch)
	if err != nil {
		return err
	}

	if code != 0 {
		if strings.Contains(stderr, "rejected") || strings.Contains(stderr, "non-fast-forward") {
			return ErrPushRejected
		}

		return &CommandError{Args: []string{"push", "--set-upstream", remote, branch}, Stderr: stderr, Err: fmt.Errorf("exit status %d", code)}
	}

	return nil
}
