package objfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncvault/syncvault/backend"
	"github.com/syncvault/syncvault/checksum"
)

// newIntegrationBackend connects to a local S3-compatible endpoint, skipping
// when none is reachable.
func newIntegrationBackend(t *testing.T) *Backend {
	t.Helper()

	client, err := minio.New("localhost:9000", &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	if err != nil {
		t.Skipf("object store client creation failed: %v", err)
	}

	ctx := context.Background()

	if _, err := client.ListBuckets(ctx); err != nil {
		t.Skipf("object store not available: %v", err)
	}

	bucket := "syncvault-test"

	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)

	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	prefix := fmt.Sprintf("run-%d", time.Now().UnixNano())

	b, err := New(client, Options{Bucket: bucket, Prefix: prefix})
	require.NoError(t, err)

	return b
}

func TestKeyMapping(t *testing.T) {
	b := &Backend{prefix: "vault"}

	assert.Equal(t, "vault/a/b.txt", b.key("a/b.txt"))
	assert.Equal(t, "vault/d/", b.dirKey("d"))
	assert.Equal(t, "a/b.txt", b.rel("vault/a/b.txt"))
	assert.Equal(t, "d", b.rel("vault/d/"))
}

func TestKeyMapping_NoPrefix(t *testing.T) {
	b := &Backend{prefix: ""}

	assert.Equal(t, "a.txt", b.key("a.txt"))
	assert.Equal(t, "a.txt", b.rel("a.txt"))
}

func TestSessionGate_Reentrant(t *testing.T) {
	g := newSessionGate()

	var innerRan bool

	err := g.run(context.Background(), time.Second, func(ctx context.Context) error {
		return g.run(ctx, time.Second, func(ctx context.Context) error {
			innerRan = true

			return nil
		})
	})

	require.NoError(t, err)
	assert.True(t, innerRan)
}

func TestSessionGate_TimeoutWhenHeld(t *testing.T) {
	g := newSessionGate()

	release := make(chan struct{})
	held := make(chan struct{})

	go func() {
		_ = g.run(context.Background(), time.Second, func(ctx context.Context) error {
			close(held)
			<-release

			return nil
		})
	}()

	<-held

	err := g.run(context.Background(), 100*time.Millisecond, func(ctx context.Context) error {
		return nil
	})
	assert.ErrorIs(t, err, backend.ErrLockTimeout)

	close(release)
}

func TestSessionGate_ReleasedAfterPanic(t *testing.T) {
	g := newSessionGate()

	require.Panics(t, func() {
		_ = g.run(context.Background(), time.Second, func(ctx context.Context) error {
			panic("boom")
		})
	})

	err := g.run(context.Background(), 200*time.Millisecond, func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}

func TestIntegration_CreateReadRoundTrip(t *testing.T) {
	b := newIntegrationBackend(t)
	ctx := context.Background()

	_, err := b.Create(ctx, "docs/hello.txt", backend.CreateOptions{Data: []byte("hi")})
	require.NoError(t, err)

	data, err := b.Read(ctx, "docs/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), data)

	// Leading slash addresses the same object.
	data, err = b.Read(ctx, "/docs/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), data)
}

func TestIntegration_OverwriteGuard(t *testing.T) {
	b := newIntegrationBackend(t)
	ctx := context.Background()

	_, err := b.Create(ctx, "f.txt", backend.CreateOptions{Data: []byte("1")})
	require.NoError(t, err)

	_, err = b.Create(ctx, "f.txt", backend.CreateOptions{Data: []byte("2")})
	assert.ErrorIs(t, err, backend.ErrAlreadyExists)

	data, err := b.Read(ctx, "f.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), data)
}

func TestIntegration_DirectorySemantics(t *testing.T) {
	b := newIntegrationBackend(t)
	ctx := context.Background()

	_, err := b.Mkdir(ctx, "d", false)
	require.NoError(t, err)

	_, err = b.Read(ctx, "d")
	assert.ErrorIs(t, err, backend.ErrCannotReadDirectory)

	_, err = b.Mkdir(ctx, "a/b/c", false)
	assert.ErrorIs(t, err, backend.ErrNotFound)

	_, err = b.Mkdir(ctx, "a/b/c", true)
	require.NoError(t, err)

	exists, err := b.Exists(ctx, "a/b")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestIntegration_UpdateAppend(t *testing.T) {
	b := newIntegrationBackend(t)
	ctx := context.Background()

	_, err := b.Create(ctx, "log.txt", backend.CreateOptions{Data: []byte("one")})
	require.NoError(t, err)

	_, err = b.Update(ctx, "log.txt", []byte("-two"), true)
	require.NoError(t, err)

	data, err := b.Read(ctx, "log.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("one-two"), data)
}

func TestIntegration_ListAndGlob(t *testing.T) {
	b := newIntegrationBackend(t)
	ctx := context.Background()

	for _, p := range []string{"a.md", "b.md", "c.txt", "sub/d.md"} {
		_, err := b.Create(ctx, p, backend.CreateOptions{Data: []byte("x")})
		require.NoError(t, err)
	}

	matches, err := b.Glob(ctx, "*.md", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md", "b.md"}, matches)

	infos, err := b.List(ctx, "sub")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "sub/d.md", infos[0].Path)
}

func TestIntegration_DeleteAndRmdir(t *testing.T) {
	b := newIntegrationBackend(t)
	ctx := context.Background()

	_, err := b.Create(ctx, "dir/f.txt", backend.CreateOptions{Data: []byte("x")})
	require.NoError(t, err)

	err = b.Rmdir(ctx, "dir", false)
	assert.ErrorIs(t, err, backend.ErrDirectoryNotEmpty)

	require.NoError(t, b.Rmdir(ctx, "dir", true))

	exists, err := b.Exists(ctx, "dir/f.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestIntegration_StreamWriteRead(t *testing.T) {
	b := newIntegrationBackend(t)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("chunk"), 100_000)

	_, err := b.StreamWrite(ctx, "big.bin", bytes.NewReader(payload), backend.CreateOptions{})
	require.NoError(t, err)

	stream, err := b.StreamRead(ctx, "big.bin", 8192)
	require.NoError(t, err)
	defer stream.Close()

	var got []byte

	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			break
		}

		require.NoError(t, err)
		got = append(got, chunk...)
	}

	assert.Equal(t, payload, got)
}

func TestIntegration_Checksum(t *testing.T) {
	b := newIntegrationBackend(t)
	ctx := context.Background()

	_, err := b.Create(ctx, "sum.txt", backend.CreateOptions{Data: []byte("hello world")})
	require.NoError(t, err)

	digest, err := b.Checksum(ctx, "sum.txt", checksum.SHA256)
	require.NoError(t, err)
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", digest)

	_, err = b.Checksum(ctx, "sum.txt", checksum.Algorithm("bogus"))
	assert.ErrorIs(t, err, backend.ErrUnsupportedAlgorithm)
}
