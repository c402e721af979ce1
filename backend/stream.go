package backend

import (
	"context"
	"fmt"
	"io"
)

// CopyChunks drains a StreamWrite source into w. The read-capability probe
// comes first: a type that is both an io.Reader and a ChunkIterator is
// consumed as a Reader.
func CopyChunks(ctx context.Context, w io.Writer, src any) error {
	switch s := src.(type) {
	case io.Reader:
		return copyReader(ctx, w, s)
	case ChunkIterator:
		return copyIterator(ctx, w, s)
	default:
		return fmt.Errorf("unsupported chunk source type %T", src)
	}
}

func copyReader(ctx context.Context, w io.Writer, r io.Reader) error {
	buf := make([]byte, DefaultChunkSize)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
		}

		if readErr == io.EOF {
			return nil
		}

		if readErr != nil {
			return readErr
		}
	}
}

func copyIterator(ctx context.Context, w io.Writer, it ChunkIterator) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		chunk, err := it.Next()
		if err == io.EOF {
			return nil
		}

		if err != nil {
			return err
		}

		payload, err := coerceChunk(chunk)
		if err != nil {
			return err
		}

		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
}

// coerceChunk converts a chunk to raw bytes. Text chunks use UTF-8, the
// fixed text encoding for all backends.
func coerceChunk(chunk any) ([]byte, error) {
	switch c := chunk.(type) {
	case []byte:
		return c, nil
	case string:
		return []byte(c), nil
	default:
		return nil, fmt.Errorf("unsupported chunk type %T", chunk)
	}
}
