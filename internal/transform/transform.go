// Package transform implements the composable byte-stream transforms that
// sit between the raw decoded article bytes (internal/yenc) and the
// seekable file view exposed by internal/filestream: XOR de-obfuscation,
// AES-256-CTR decryption, byte-range slicing, and multipart concatenation.
//
// Every transform in this package implements Stream, matching the shape
// of io.ReadSeekCloser. Transforms compose through RangeReaderFunc
// callbacks, the same pattern the teacher's internal/transform_enc aes and
// headers sub-packages use to stack ciphers over a remote byte-range
// fetcher.
package transform

import (
	"context"
	"io"
)

// Stream is a seekable, closeable byte stream. Composable transforms
// both consume and produce a Stream.
type Stream interface {
	io.Reader
	io.Seeker
	io.Closer
}

// RangeReaderFunc fetches the bytes of the underlying source in
// [start, end] inclusive. Transforms that need random access (AES-CTR
// seek, multipart concatenation) are constructed with one of these
// instead of a single io.Reader so they can re-fetch arbitrary windows
// without holding the whole source open.
type RangeReaderFunc func(ctx context.Context, start, end int64) (io.ReadCloser, error)
