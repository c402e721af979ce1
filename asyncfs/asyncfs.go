// Package asyncfs offloads the synchronous backend operations onto a bounded
// worker pool and returns futures. The facade adds no semantics of its own:
// each call behaves exactly as the wrapped backend's synchronous call does.
//
// Ordering is the caller's responsibility: calls issued sequentially complete
// in issuance order only when the caller waits on each future before issuing
// the next. Overlapping calls may complete in any order.
package asyncfs

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/syncvault/syncvault/backend"
	"github.com/syncvault/syncvault/checksum"
)

// DefaultWorkers bounds in-flight operations when the caller does not choose.
const DefaultWorkers = 8

// Future is the pending result of an offloaded call.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Wait blocks until the result is available or ctx is canceled. Wait may be
// called any number of times; every call returns the same result.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T

		return zero, ctx.Err()
	}
}

// Facade wraps a synchronous backend with worker-pool offload.
type Facade struct {
	backend backend.Backend
	workers *semaphore.Weighted
}

// New creates a Facade over b with at most workers concurrent operations.
// workers <= 0 selects DefaultWorkers.
func New(b backend.Backend, workers int64) *Facade {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	return &Facade{
		backend: b,
		workers: semaphore.NewWeighted(workers),
	}
}

// Backend returns the wrapped synchronous backend.
func (f *Facade) Backend() backend.Backend {
	return f.backend
}

// submit schedules fn on the pool. Worker acquisition happens inside the
// goroutine so submit itself never blocks.
func submit[T any](ctx context.Context, f *Facade, fn func() (T, error)) *Future[T] {
	fut := &Future[T]{done: make(chan struct{})}

	go func() {
		defer close(fut.done)

		if err := f.workers.Acquire(ctx, 1); err != nil {
			fut.err = err

			return
		}
		defer f.workers.Release(1)

		fut.val, fut.err = fn()
	}()

	return fut
}

// submitErr is submit for operations with no value.
func submitErr(ctx context.Context, f *Facade, fn func() error) *Future[struct{}] {
	return submit(ctx, f, func() (struct{}, error) {
		return struct{}{}, fn()
	})
}

func (f *Facade) Create(ctx context.Context, path string, opts backend.CreateOptions) *Future[*backend.FileInfo] {
	return submit(ctx, f, func() (*backend.FileInfo, error) {
		return f.backend.Create(ctx, path, opts)
	})
}

func (f *Facade) Read(ctx context.Context, path string) *Future[[]byte] {
	return submit(ctx, f, func() ([]byte, error) {
		return f.backend.Read(ctx, path)
	})
}

func (f *Facade) Update(ctx context.Context, path string, data []byte, append_ bool) *Future[*backend.FileInfo] {
	return submit(ctx, f, func() (*backend.FileInfo, error) {
		return f.backend.Update(ctx, path, data, append_)
	})
}

func (f *Facade) Delete(ctx context.Context, path string, recursive bool) *Future[struct{}] {
	return submitErr(ctx, f, func() error {
		return f.backend.Delete(ctx, path, recursive)
	})
}

func (f *Facade) Exists(ctx context.Context, path string) *Future[bool] {
	return submit(ctx, f, func() (bool, error) {
		return f.backend.Exists(ctx, path)
	})
}

func (f *Facade) List(ctx context.Context, path string) *Future[[]backend.FileInfo] {
	return submit(ctx, f, func() ([]backend.FileInfo, error) {
		return f.backend.List(ctx, path)
	})
}

func (f *Facade) Info(ctx context.Context, path string) *Future[*backend.FileInfo] {
	return submit(ctx, f, func() (*backend.FileInfo, error) {
		return f.backend.Info(ctx, path)
	})
}

func (f *Facade) Mkdir(ctx context.Context, path string, recursive bool) *Future[*backend.FileInfo] {
	return submit(ctx, f, func() (*backend.FileInfo, error) {
		return f.backend.Mkdir(ctx, path, recursive)
	})
}

func (f *Facade) Rmdir(ctx context.Context, path string, recursive bool) *Future[struct{}] {
	return submitErr(ctx, f, func() error {
		return f.backend.Rmdir(ctx, path, recursive)
	})
}

func (f *Facade) Glob(ctx context.Context, pattern string, includeDirs bool) *Future[[]string] {
	return submit(ctx, f, func() ([]string, error) {
		return f.backend.Glob(ctx, pattern, includeDirs)
	})
}

// StreamRead resolves to the chunk stream once it is open. The stream itself
// stays a synchronous object: each Next call runs on the consumer's
// goroutine, not the pool.
func (f *Facade) StreamRead(ctx context.Context, path string, chunkSize int) *Future[backend.ChunkStream] {
	return submit(ctx, f, func() (backend.ChunkStream, error) {
		return f.backend.StreamRead(ctx, path, chunkSize)
	})
}

func (f *Facade) StreamWrite(ctx context.Context, path string, src any, opts backend.CreateOptions) *Future[*backend.FileInfo] {
	return submit(ctx, f, func() (*backend.FileInfo, error) {
		return f.backend.StreamWrite(ctx, path, src, opts)
	})
}

func (f *Facade) Checksum(ctx context.Context, path string, algo checksum.Algorithm) *Future[string] {
	return submit(ctx, f, func() (string, error) {
		return f.backend.Checksum(ctx, path, algo)
	})
}

func (f *Facade) ChecksumMany(ctx context.Context, paths []string, algo checksum.Algorithm) *Future[map[string]string] {
	return submit(ctx, f, func() (map[string]string, error) {
		return f.backend.ChecksumMany(ctx, paths, algo)
	})
}

// Session offloads the whole session body onto the pool. The lock itself
// stays a synchronous primitive acquired by the worker goroutine; fn runs
// inside the session just as it would on a direct call.
func (f *Facade) Session(ctx context.Context, timeout time.Duration, fn backend.SessionFunc) *Future[struct{}] {
	return submitErr(ctx, f, func() error {
		return f.backend.Session(ctx, timeout, fn)
	})
}

// SyncFacade additionally offloads the sync operations of a SyncBackend.
type SyncFacade struct {
	*Facade
	sync backend.SyncBackend
}

// NewSync creates a SyncFacade over a synchronized backend.
func NewSync(b backend.SyncBackend, workers int64) *SyncFacade {
	return &SyncFacade{
		Facade: New(b, workers),
		sync:   b,
	}
}

func (f *SyncFacade) Pull(ctx context.Context) *Future[[]backend.SyncConflict] {
	return submit(ctx, f.Facade, func() ([]backend.SyncConflict, error) {
		return f.sync.Pull(ctx)
	})
}

func (f *SyncFacade) Push(ctx context.Context, message string) *Future[struct{}] {
	return submitErr(ctx, f.Facade, func() error {
		return f.sync.Push(ctx, message)
	})
}

func (f *SyncFacade) Sync(ctx context.Context) *Future[[]backend.SyncConflict] {
	return submit(ctx, f.Facade, func() ([]backend.SyncConflict, error) {
		return f.sync.Sync(ctx)
	})
}

func (f *SyncFacade) ConflictReport(ctx context.Context) *Future[[]backend.SyncConflict] {
	return submit(ctx, f.Facade, func() ([]backend.SyncConflict, error) {
		return f.sync.ConflictReport(ctx)
	})
}

func (f *SyncFacade) AcceptLocal(ctx context.Context, path string) *Future[struct{}] {
	return submitErr(ctx, f.Facade, func() error {
		return f.sync.AcceptLocal(ctx, path)
	})
}

func (f *SyncFacade) AcceptRemote(ctx context.Context, path string) *Future[struct{}] {
	return submitErr(ctx, f.Facade, func() error {
		return f.sync.AcceptRemote(ctx, path)
	})
}

func (f *SyncFacade) ResolveWith(ctx context.Context, path string, data []byte) *Future[struct{}] {
	return submitErr(ctx, f.Facade, func() error {
		return f.sync.ResolveWith(ctx, path, data)
	})
}
