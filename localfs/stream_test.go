package localfs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncvault/syncvault/backend"
)

// sliceIterator yields a fixed sequence of chunks, then io.EOF.
type sliceIterator struct {
	chunks []any
	pos    int
}

func (it *sliceIterator) Next() (any, error) {
	if it.pos >= len(it.chunks) {
		return nil, io.EOF
	}

	chunk := it.chunks[it.pos]
	it.pos++

	return chunk, nil
}

// failingIterator yields one chunk and then an error.
type failingIterator struct {
	yielded bool
}

func (it *failingIterator) Next() (any, error) {
	if !it.yielded {
		it.yielded = true

		return []byte("partial"), nil
	}

	return nil, errors.New("source interrupted")
}

func TestStreamRead_ChunkSizes(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("0123456789"), 1000)
	_, err := b.Create(ctx, "big.bin", backend.CreateOptions{Data: payload})
	require.NoError(t, err)

	for _, chunkSize := range []int{1, 7, 4096, len(payload) * 2, 0} {
		stream, err := b.StreamRead(ctx, "big.bin", chunkSize)
		require.NoError(t, err, "chunk size %d", chunkSize)

		var got []byte

		for {
			chunk, err := stream.Next()
			if err == io.EOF {
				break
			}

			require.NoError(t, err)
			got = append(got, chunk...)
		}

		require.NoError(t, stream.Close())
		assert.Equal(t, payload, got, "chunk size %d", chunkSize)
	}
}

func TestStreamRead_DirectoryRejected(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, err := b.Mkdir(ctx, "d", false)
	require.NoError(t, err)

	_, err = b.StreamRead(ctx, "d", 0)
	assert.ErrorIs(t, err, backend.ErrCannotReadDirectory)
}

func TestStreamRead_Missing(t *testing.T) {
	b := newTestBackend(t)

	_, err := b.StreamRead(context.Background(), "nope.bin", 0)
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestStreamWrite_FromReader(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("stream-me"), 50_000)

	info, err := b.StreamWrite(ctx, "out.bin", bytes.NewReader(payload), backend.CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), info.Size)

	data, err := b.Read(ctx, "out.bin")
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestStreamWrite_FromIteratorMixedChunks(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	it := &sliceIterator{chunks: []any{[]byte("binary-"), "text-", []byte("tail")}}

	_, err := b.StreamWrite(ctx, "mixed.txt", it, backend.CreateOptions{})
	require.NoError(t, err)

	data, err := b.Read(ctx, "mixed.txt")
	require.NoError(t, err)
	assert.Equal(t, "binary-text-tail", string(data))
}

func TestStreamWrite_OverwriteGuardBeforeBytes(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, err := b.Create(ctx, "keep.txt", backend.CreateOptions{Data: []byte("original")})
	require.NoError(t, err)

	// The source would fail if consumed; the guard must fire first.
	_, err = b.StreamWrite(ctx, "keep.txt", &failingIterator{}, backend.CreateOptions{})
	assert.ErrorIs(t, err, backend.ErrAlreadyExists)

	data, err := b.Read(ctx, "keep.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), data)
}

func TestStreamWrite_MidStreamFailureLeavesPriorState(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, err := b.Create(ctx, "doc.txt", backend.CreateOptions{Data: []byte("v1")})
	require.NoError(t, err)

	_, err = b.StreamWrite(ctx, "doc.txt", &failingIterator{}, backend.CreateOptions{Overwrite: true})
	require.Error(t, err)

	// Content must be the pre-write state, not a truncated artifact.
	data, err := b.Read(ctx, "doc.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), data)

	// No temp files left behind.
	infos, err := b.List(ctx, "/")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "doc.txt", infos[0].Path)
}

func TestStreamWrite_UnsupportedChunkType(t *testing.T) {
	b := newTestBackend(t)

	it := &sliceIterator{chunks: []any{42}}

	_, err := b.StreamWrite(context.Background(), "bad.bin", it, backend.CreateOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported chunk type")
}

func TestStreamWrite_UnsupportedSourceType(t *testing.T) {
	b := newTestBackend(t)

	_, err := b.StreamWrite(context.Background(), "bad.bin", 42, backend.CreateOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported chunk source")
}

func TestStreamWrite_ReaderPreferredOverIterator(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, err := b.StreamWrite(ctx, "r.txt", strings.NewReader("reader wins"), backend.CreateOptions{})
	require.NoError(t, err)

	data, err := b.Read(ctx, "r.txt")
	require.NoError(t, err)
	assert.Equal(t, "reader wins", string(data))
}

func TestStreamWrite_RoundTripWithStreamRead(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	payload := bytes.Repeat([]byte{0x5A}, 300_000)

	_, err := b.StreamWrite(ctx, "rt.bin", bytes.NewReader(payload), backend.CreateOptions{})
	require.NoError(t, err)

	stream, err := b.StreamRead(ctx, "rt.bin", 8192)
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
