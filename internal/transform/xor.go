package transform

import (
	"context"
	"fmt"
	"io"
)

// xorReader de-obfuscates a stream with a repeating-key XOR, the
// lightest-weight obfuscation scheme some indexers apply to article
// bodies before yEnc decoding. Modeled on internal/transform_enc/headers'
// encryptStream/decryptStream pair: XOR is its own inverse, so the same
// keystream walk serves both directions.
type xorReader struct {
	ctx    context.Context
	source io.ReadCloser
	key    []byte
	pos    int64 // absolute stream position, used to resume the key phase after a seek
	size   int64
	getter RangeReaderFunc
}

// NewXORStream wraps getter with repeating-key XOR de-obfuscation. size
// is the total length of the underlying plaintext/ciphertext (XOR does
// not change length).
func NewXORStream(ctx context.Context, key []byte, size int64, getter RangeReaderFunc) (Stream, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("transform: xor key must not be empty")
	}

	return &xorReader{ctx: ctx, key: key, size: size, getter: getter}, nil
}

func (r *xorReader) ensureSource() error {
	if r.source != nil {
		return nil
	}
	src, err := r.getter(r.ctx, r.pos, r.size-1)
	if err != nil {
		return fmt.Errorf("transform: xor source fetch: %w", err)
	}
	r.source = src
	return nil
}

func (r *xorReader) Read(p []byte) (int, error) {
	if err := r.ensureSource(); err != nil {
		return 0, err
	}

	n, err := r.source.Read(p)
	for i := 0; i < n; i++ {
		p[i] ^= r.key[(r.pos+int64(i))%int64(len(r.key))]
	}
	r.pos += int64(n)
	return n, err
}

func (r *xorReader) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.pos + offset
	case io.SeekEnd:
		abs = r.size + offset
	default:
		return 0, fmt.Errorf("transform: xor invalid whence %d", whence)
	}
	if abs < 0 || abs > r.size {
		return 0, fmt.Errorf("transform: xor seek out of range: %d", abs)
	}
	if r.source != nil {
		_ = r.source.Close()
		r.source = nil
	}
	r.pos = abs
	return abs, nil
}

func (r *xorReader) Close() error {
	if r.source == nil {
		return nil
	}
	err := r.source.Close()
	r.source = nil
	return err
}
