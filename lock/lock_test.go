package lock

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncvault/syncvault/backend"
)

func newTestLock(t *testing.T) *FileLock {
	t.Helper()

	return New(filepath.Join(t.TempDir(), "session.lock"))
}

func TestAcquire_AndRelease(t *testing.T) {
	l := newTestLock(t)

	tok, err := l.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	require.NoError(t, tok.Release())
}

func TestAcquire_TimeoutWhenHeld(t *testing.T) {
	l := newTestLock(t)

	tok, err := l.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	defer tok.Release()

	_, err = l.Acquire(context.Background(), 150*time.Millisecond)
	assert.ErrorIs(t, err, backend.ErrLockTimeout)
}

func TestAcquire_SucceedsAfterRelease(t *testing.T) {
	l := newTestLock(t)

	tok, err := l.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	require.NoError(t, tok.Release())

	tok2, err := l.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	require.NoError(t, tok2.Release())
}

func TestToken_ReleaseIdempotent(t *testing.T) {
	l := newTestLock(t)

	tok, err := l.Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	require.NoError(t, tok.Release())
	assert.NoError(t, tok.Release())
	assert.NoError(t, tok.Release())
}

func TestWithSession_NestedDoesNotDeadlock(t *testing.T) {
	l := newTestLock(t)

	var innerRan bool

	err := l.WithSession(context.Background(), time.Second, func(ctx context.Context) error {
		// Nested scope on the session context must run directly.
		return l.WithSession(ctx, time.Second, func(ctx context.Context) error {
			innerRan = true

			return nil
		})
	})

	require.NoError(t, err)
	assert.True(t, innerRan)
}

func TestWithSession_Held(t *testing.T) {
	l := newTestLock(t)
	other := newTestLock(t)

	assert.False(t, Held(context.Background(), l))

	err := l.WithSession(context.Background(), time.Second, func(ctx context.Context) error {
		assert.True(t, Held(ctx, l))
		assert.False(t, Held(ctx, other))

		return nil
	})
	require.NoError(t, err)
}

func TestWithSession_ReleasedAfterPanic(t *testing.T) {
	l := newTestLock(t)

	require.Panics(t, func() {
		_ = l.WithSession(context.Background(), time.Second, func(ctx context.Context) error {
			panic("boom")
		})
	})

	// The lock must be free again.
	tok, err := l.Acquire(context.Background(), 200*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, tok.Release())
}

func TestWithSession_SerializesGoroutines(t *testing.T) {
	l := newTestLock(t)

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
	)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			err := l.WithSession(context.Background(), 5*time.Second, func(ctx context.Context) error {
				mu.Lock()
				active++
				if active > maxSeen {
					maxSeen = active
				}
				mu.Unlock()

				time.Sleep(10 * time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()

				return nil
			})
			assert.NoError(t, err)
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, maxSeen, "sessions must not overlap")
}

func TestAcquire_ContextCancel(t *testing.T) {
	l := newTestLock(t)

	tok, err := l.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	defer tok.Release()

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	// timeout <= 0 waits on the context alone.
	_, err = l.Acquire(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}
