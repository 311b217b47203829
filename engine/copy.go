package engine

import (
	"bytes"
	"context"
	"io"
)

// CopyChunked copies src to dst one chunk at a time, checking ctx before
// every read. buf is used as the chunk; a nil buf allocates ChunkSize bytes.
// It returns the number of bytes written.
func CopyChunked(ctx context.Context, dst io.Writer, src io.Reader, buf []byte) (int64, error) {
	if len(buf) == 0 {
		buf = make([]byte, ChunkSize)
	}

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			written += int64(w)
			if werr != nil {
				return written, werr
			}
			if w != n {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// ReadAll drains src into memory in ChunkSize reads using a pooled chunk.
func ReadAll(ctx context.Context, src io.Reader, pool *BufferPool) ([]byte, error) {
	buf := pool.Get()
	defer pool.Put(buf)

	var out bytes.Buffer
	if _, err := CopyChunked(ctx, &out, src, *buf); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
