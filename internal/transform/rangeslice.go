package transform

import (
	"context"
	"fmt"
	"io"
)

// rangeSlice restricts a Stream to the inclusive byte window [start, end]
// of its source, re-basing Seek/Read offsets so callers see a stream of
// length end-start+1 starting at zero. Grounded on internal/utils/range.go's
// RangeHeader.Decode(size) (offset, limit) convention for turning an HTTP
// Range header into an (offset, limit) pair.
type rangeSlice struct {
	ctx        context.Context
	getter     RangeReaderFunc
	start, end int64 // inclusive window over the underlying source
	source     io.ReadCloser
	pos        int64 // position relative to start
}

// NewRangeStream exposes [start, end] (inclusive) of the source addressed
// by getter as a zero-based Stream.
func NewRangeStream(ctx context.Context, start, end int64, getter RangeReaderFunc) (Stream, error) {
	if start < 0 || end < start {
		return nil, fmt.Errorf("transform: invalid range [%d, %d]", start, end)
	}
	return &rangeSlice{ctx: ctx, getter: getter, start: start, end: end}, nil
}

func (r *rangeSlice) length() int64 { return r.end - r.start + 1 }

func (r *rangeSlice) ensureSource() error {
	if r.source != nil {
		return nil
	}
	src, err := r.getter(r.ctx, r.start+r.pos, r.end)
	if err != nil {
		return fmt.Errorf("transform: range source fetch: %w", err)
	}
	r.source = src
	return nil
}

func (r *rangeSlice) Read(p []byte) (int, error) {
	if r.pos >= r.length() {
		return 0, io.EOF
	}
	if err := r.ensureSource(); err != nil {
		return 0, err
	}

	remaining := r.length() - r.pos
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}

	n, err := r.source.Read(p)
	r.pos += int64(n)
	return n, err
}

func (r *rangeSlice) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.pos + offset
	case io.SeekEnd:
		abs = r.length() + offset
	default:
		return 0, fmt.Errorf("transform: range invalid whence %d", whence)
	}
	if abs < 0 || abs > r.length() {
		return 0, fmt.Errorf("transform: range seek out of range: %d", abs)
	}
	if r.source != nil {
		_ = r.source.Close()
		r.source = nil
	}
	r.pos = abs
	return abs, nil
}

func (r *rangeSlice) Close() error {
	if r.source == nil {
		return nil
	}
	err := r.source.Close()
	r.source = nil
	return err
}
