package asyncfs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncvault/syncvault/backend"
	"github.com/syncvault/syncvault/localfs"
)

func newTestFacade(t *testing.T, workers int64) *Facade {
	t.Helper()

	b, err := localfs.New(t.TempDir(), localfs.Options{})
	require.NoError(t, err)

	return New(b, workers)
}

func TestCreateRead_ThroughFacade(t *testing.T) {
	f := newTestFacade(t, 0)
	ctx := context.Background()

	info, err := f.Create(ctx, "a.txt", backend.CreateOptions{Data: []byte("hi")}).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a.txt", info.Path)

	data, err := f.Read(ctx, "a.txt").Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), data)
}

func TestFuture_ErrorsPreserved(t *testing.T) {
	f := newTestFacade(t, 0)
	ctx := context.Background()

	_, err := f.Read(ctx, "missing.txt").Wait(ctx)
	assert.ErrorIs(t, err, backend.ErrNotFound)

	_, err = f.Read(ctx, "../escape").Wait(ctx)
	assert.ErrorIs(t, err, backend.ErrPathOutsideRoot)
}

func TestFuture_WaitRepeatable(t *testing.T) {
	f := newTestFacade(t, 0)
	ctx := context.Background()

	fut := f.Create(ctx, "x.txt", backend.CreateOptions{Data: []byte("x")})

	first, err1 := fut.Wait(ctx)
	second, err2 := fut.Wait(ctx)

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, first, second)
}

func TestFuture_WaitHonorsContext(t *testing.T) {
	f := newTestFacade(t, 1)

	// Saturate the single worker.
	blocker := f.Session(context.Background(), time.Second, func(ctx context.Context) error {
		time.Sleep(300 * time.Millisecond)

		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	fut := f.Read(context.Background(), "whatever.txt")

	_, err := fut.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, _ = blocker.Wait(context.Background())
}

func TestWorkerBound_Respected(t *testing.T) {
	f := newTestFacade(t, 2)
	ctx := context.Background()

	var active, maxSeen atomic.Int32

	futures := make([]*Future[struct{}], 0, 8)

	for i := 0; i < 8; i++ {
		futures = append(futures, submitErr(ctx, f, func() error {
			n := active.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}

			time.Sleep(20 * time.Millisecond)
			active.Add(-1)

			return nil
		}))
	}

	for _, fut := range futures {
		_, err := fut.Wait(ctx)
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, maxSeen.Load(), int32(2))
}

func TestSequentialAwaitedCalls_PreserveOrder(t *testing.T) {
	f := newTestFacade(t, 4)
	ctx := context.Background()

	_, err := f.Create(ctx, "seq.txt", backend.CreateOptions{Data: []byte("1")}).Wait(ctx)
	require.NoError(t, err)

	_, err = f.Update(ctx, "seq.txt", []byte("2"), false).Wait(ctx)
	require.NoError(t, err)

	_, err = f.Update(ctx, "seq.txt", []byte("3"), true).Wait(ctx)
	require.NoError(t, err)

	data, err := f.Read(ctx, "seq.txt").Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("23"), data)
}

func TestStreamRead_ThroughFacade(t *testing.T) {
	f := newTestFacade(t, 0)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("chunked"), 100)

	_, err := f.Create(ctx, "big.bin", backend.CreateOptions{Data: payload}).Wait(ctx)
	require.NoError(t, err)

	stream, err := f.StreamRead(ctx, "big.bin", 64).Wait(ctx)
	require.NoError(t, err)
	defer stream.Close()

	var got []byte

	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		require.NoError(t, err)
		assert.LessOrEqual(t, len(chunk), 64)

		got = append(got, chunk...)
	}

	assert.Equal(t, payload, got)
}

// stubSyncBackend layers canned conflict state over a real local backend so
// the sync-facade surface can be exercised without a remote.
type stubSyncBackend struct {
	backend.Backend
	conflicts map[string]backend.SyncConflict
}

func newStubSyncBackend(t *testing.T, paths ...string) *stubSyncBackend {
	t.Helper()

	b, err := localfs.New(t.TempDir(), localfs.Options{})
	require.NoError(t, err)

	s := &stubSyncBackend{Backend: b, conflicts: make(map[string]backend.SyncConflict)}
	for _, p := range paths {
		s.conflicts[p] = backend.SyncConflict{Path: p, State: backend.ResolutionUnresolved}
	}

	return s
}

func (s *stubSyncBackend) outstanding() []backend.SyncConflict {
	out := make([]backend.SyncConflict, 0, len(s.conflicts))
	for _, c := range s.conflicts {
		out = append(out, c)
	}

	return out
}

func (s *stubSyncBackend) resolve(path string) error {
	if _, ok := s.conflicts[path]; !ok {
		return &backend.PathError{Op: "resolve", Path: path, Err: backend.ErrNotFound}
	}

	delete(s.conflicts, path)

	return nil
}

func (s *stubSyncBackend) Pull(ctx context.Context) ([]backend.SyncConflict, error) {
	return s.outstanding(), nil
}

func (s *stubSyncBackend) Push(ctx context.Context, message string) error {
	return nil
}

func (s *stubSyncBackend) Sync(ctx context.Context) ([]backend.SyncConflict, error) {
	return s.outstanding(), nil
}

func (s *stubSyncBackend) ConflictReport(ctx context.Context) ([]backend.SyncConflict, error) {
	return s.outstanding(), nil
}

func (s *stubSyncBackend) AcceptLocal(ctx context.Context, path string) error {
	return s.resolve(path)
}

func (s *stubSyncBackend) AcceptRemote(ctx context.Context, path string) error {
	return s.resolve(path)
}

func (s *stubSyncBackend) ResolveWith(ctx context.Context, path string, data []byte) error {
	return s.resolve(path)
}

func TestSyncFacade_ConflictLifecycle(t *testing.T) {
	f := NewSync(newStubSyncBackend(t, "notes.md", "todo.md"), 0)
	ctx := context.Background()

	report, err := f.ConflictReport(ctx).Wait(ctx)
	require.NoError(t, err)
	assert.Len(t, report, 2)

	_, err = f.AcceptLocal(ctx, "notes.md").Wait(ctx)
	require.NoError(t, err)

	_, err = f.ResolveWith(ctx, "todo.md", []byte("merged")).Wait(ctx)
	require.NoError(t, err)

	report, err = f.ConflictReport(ctx).Wait(ctx)
	require.NoError(t, err)
	assert.Empty(t, report)
}

func TestSyncFacade_ResolveUnknownPathErrors(t *testing.T) {
	f := NewSync(newStubSyncBackend(t), 0)
	ctx := context.Background()

	_, err := f.AcceptRemote(ctx, "ghost.md").Wait(ctx)
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestSession_OffloadedBodyRuns(t *testing.T) {
	f := newTestFacade(t, 0)
	ctx := context.Background()

	var ran bool

	_, err := f.Session(ctx, time.Second, func(ctx context.Context) error {
		ran = true

		return nil
	}).Wait(ctx)

	require.NoError(t, err)
	assert.True(t, ran)
}
