// Package lock provides the advisory session lock that serializes multi-step
// operations against a shared working tree. The lock is file-based
// (syscall.Flock), so it excludes other processes as well as other goroutines
// in this one, and it is cooperative: only callers that acquire it are
// constrained.
//
// Reentrancy is keyed by context, not by goroutine identity: a context
// returned by WithSession carries the held lock, and a nested WithSession on
// that context (or any context derived from it) runs its body directly
// without re-acquiring. The lock is released exactly once, when the
// outermost scope exits.
package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/syncvault/syncvault/backend"
)

// retryInterval is the poll interval between non-blocking acquisition
// attempts while waiting out the timeout.
const retryInterval = 50 * time.Millisecond

// lockFilePermissions is world-readable so other processes can observe the
// lock file even when they cannot take it.
const lockFilePermissions = 0o644

// FileLock is a single advisory exclusive-access token over a working tree,
// backed by a lock file. The zero value is not usable; construct with New.
type FileLock struct {
	path string
}

// New creates a FileLock for the given lock file path. The file (and its
// parent directory) are created on first acquisition.
func New(path string) *FileLock {
	return &FileLock{path: path}
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.path
}

// Token represents one successful acquisition. Release is idempotent:
// releasing more than once is a no-op, so every exit path can release
// unconditionally without double-unlock hazards.
type Token struct {
	f    *os.File
	once sync.Once
	err  error
}

// Release unlocks and closes the lock file. Exactly the first call takes
// effect.
func (t *Token) Release() error {
	t.once.Do(func() {
		// Closing the descriptor drops the flock; the explicit unlock keeps
		// the release visible to tooling that inspects lock state.
		if err := syscall.Flock(int(t.f.Fd()), syscall.LOCK_UN); err != nil {
			t.err = fmt.Errorf("lock: releasing: %w", err)
		}

		if err := t.f.Close(); err != nil && t.err == nil {
			t.err = fmt.Errorf("lock: closing lock file: %w", err)
		}
	})

	return t.err
}

// Acquire takes the lock, waiting up to timeout. timeout <= 0 waits until
// the context is canceled. Failure to acquire within the timeout returns
// ErrLockTimeout with the lock path attached; no side effects remain after
// a failed acquisition.
func (l *FileLock) Acquire(ctx context.Context, timeout time.Duration) (*Token, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("lock: creating lock directory: %w", err)
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		tok, err := l.tryAcquire()
		if err == nil {
			return tok, nil
		}

		if err != errWouldBlock {
			return nil, err
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, &backend.PathError{Op: "acquire", Path: l.path, Err: backend.ErrLockTimeout}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lock: acquisition canceled: %w", ctx.Err())
		case <-time.After(retryInterval):
		}
	}
}

// errWouldBlock signals that another holder currently has the lock.
var errWouldBlock = fmt.Errorf("lock: held by another holder")

// tryAcquire makes one non-blocking acquisition attempt. Each attempt opens
// its own descriptor so concurrent goroutines in this process contend just
// like separate processes do.
func (l *FileLock) tryAcquire() (*Token, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, lockFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("lock: opening lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		if err == syscall.EWOULDBLOCK {
			return nil, errWouldBlock
		}

		return nil, fmt.Errorf("lock: flock failed: %w", err)
	}

	return &Token{f: f}, nil
}

// ctxKey carries the held *FileLock through the context chain.
type ctxKey struct{}

// Held reports whether ctx is inside a session holding l.
func Held(ctx context.Context, l *FileLock) bool {
	held, _ := ctx.Value(ctxKey{}).(*FileLock)

	return held == l
}

// WithSession runs fn while holding l. If ctx already holds l, fn runs
// directly (nested sessions by the same holder never deadlock). Otherwise
// the lock is acquired, fn runs with a context marking the session, and the
// lock is released exactly once when fn returns — including when fn panics.
func (l *FileLock) WithSession(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if Held(ctx, l) {
		return fn(ctx)
	}

	tok, err := l.Acquire(ctx, timeout)
	if err != nil {
		return err
	}
	defer tok.Release()

	return fn(context.WithValue(ctx, ctxKey{}, l))
}
