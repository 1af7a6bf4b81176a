package transform

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"
)

// aesCTRReader decrypts a source stream with AES-256-CTR. Unlike CBC
// (internal/transform_enc/aes.aesDecryptReader, which must re-derive the
// previous ciphertext block on every seek), CTR mode lets any offset be
// reached directly: the counter block for byte offset o is iv plus o/16,
// read as a big-endian integer, and the first o%16 bytes of the keystream
// at that block are discarded. Lazy source init and the getReader
// callback shape follow the same convention as the CBC reader.
type aesCTRReader struct {
	ctx    context.Context
	getter RangeReaderFunc
	key    []byte
	iv     []byte
	size   int64

	source  io.ReadCloser
	stream  cipher.Stream
	offset  int64
	discard int // bytes of this block's keystream already consumed before data resumes
}

// NewAESCTRStream decrypts getter's output with AES-256-CTR. iv must be
// 16 bytes (the AES block size); size is the decrypted length.
func NewAESCTRStream(ctx context.Context, key, iv []byte, size int64, getter RangeReaderFunc) (Stream, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("transform: aes-ctr requires a 32-byte key, got %d", len(key))
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("transform: aes-ctr requires a %d-byte iv, got %d", aes.BlockSize, len(iv))
	}

	ivCopy := make([]byte, aes.BlockSize)
	copy(ivCopy, iv)

	return &aesCTRReader{ctx: ctx, getter: getter, key: key, iv: ivCopy, size: size}, nil
}

// counterBlock computes the IV for the AES block containing byte offset.
// The whole 16-byte IV is treated as a big-endian block counter and
// blockIndex is added to it with carry, the same way crypto/cipher's
// CTR mode advances its counter block.
func counterBlock(iv []byte, blockIndex int64) []byte {
	out := make([]byte, len(iv))
	copy(out, iv)
	for i := len(out) - 1; i >= 0 && blockIndex > 0; i-- {
		sum := int64(out[i]) + blockIndex
		out[i] = byte(sum)
		blockIndex = sum >> 8
	}
	return out
}

func (r *aesCTRReader) seekTo(abs int64) error {
	if r.source != nil {
		_ = r.source.Close()
		r.source = nil
	}

	blockIndex := abs / aes.BlockSize
	blockOffset := int(abs % aes.BlockSize)
	blockStart := blockIndex * aes.BlockSize

	src, err := r.getter(r.ctx, blockStart, r.size-1)
	if err != nil {
		return fmt.Errorf("transform: aes-ctr source fetch: %w", err)
	}

	block, err := aes.NewCipher(r.key)
	if err != nil {
		_ = src.Close()
		return fmt.Errorf("transform: aes-ctr cipher init: %w", err)
	}

	r.source = src
	r.stream = cipher.NewCTR(block, counterBlock(r.iv, blockIndex))
	r.offset = blockStart
	r.discard = blockOffset
	return nil
}

func (r *aesCTRReader) Read(p []byte) (int, error) {
	if r.source == nil {
		if err := r.seekTo(0); err != nil {
			return 0, err
		}
	}

	if r.discard > 0 {
		skip := make([]byte, r.discard)
		n, err := io.ReadFull(r.source, skip)
		r.stream.XORKeyStream(skip[:n], skip[:n])
		r.offset += int64(n)
		r.discard -= n
		if err != nil {
			return 0, err
		}
	}

	n, err := r.source.Read(p)
	if n > 0 {
		r.stream.XORKeyStream(p[:n], p[:n])
		r.offset += int64(n)
	}
	return n, err
}

func (r *aesCTRReader) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.offset + offset
	case io.SeekEnd:
		abs = r.size + offset
	default:
		return 0, fmt.Errorf("transform: aes-ctr invalid whence %d", whence)
	}
	if abs < 0 || abs > r.size {
		return 0, fmt.Errorf("transform: aes-ctr seek out of range: %d", abs)
	}
	if err := r.seekTo(abs); err != nil {
		return 0, err
	}
	return abs, nil
}

func (r *aesCTRReader) Close() error {
	if r.source == nil {
		return nil
	}
	err := r.source.Close()
	r.source = nil
	return err
}
