package transform

import (
	"context"
	"fmt"
	"io"
	"sort"
)

// Part is one tile of a multipart-concatenated file: a contiguous byte
// range [offset, offset+size) of the logical file backed by its own
// getter (typically a per-NZB-file internal/filestream.Stream).
type Part struct {
	Offset int64
	Size   int64
	Getter RangeReaderFunc
}

// multipartStream presents a sequence of Parts, each independently
// addressable, as one contiguous seekable Stream. Boundary lookups use
// binary search over cumulative offsets rather than a linear scan,
// since archives commonly split into dozens to low hundreds of parts.
type multipartStream struct {
	ctx   context.Context
	parts []Part // sorted by Offset, contiguous, gapless
	size  int64

	pos        int64
	partIdx    int
	source     io.ReadCloser
	sourceFrom int64 // absolute offset the current source reader starts at
}

// NewMultipartStream concatenates parts into one logical Stream. parts
// need not be passed in order but must tile [0, total) without gaps or
// overlaps; total is the sum of all part sizes.
func NewMultipartStream(ctx context.Context, parts []Part) (Stream, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("transform: multipart stream requires at least one part")
	}

	sorted := make([]Part, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	var want int64
	for i, p := range sorted {
		if p.Offset != want {
			return nil, fmt.Errorf("transform: multipart gap/overlap at part %d: expected offset %d, got %d", i, want, p.Offset)
		}
		want += p.Size
	}

	return &multipartStream{ctx: ctx, parts: sorted, size: want}, nil
}

// partForOffset finds the part containing abs via binary search over
// cumulative offsets.
func (m *multipartStream) partForOffset(abs int64) int {
	return sort.Search(len(m.parts), func(i int) bool {
		return m.parts[i].Offset+m.parts[i].Size > abs
	})
}

func (m *multipartStream) Read(p []byte) (int, error) {
	if m.pos >= m.size {
		return 0, io.EOF
	}

	idx := m.partForOffset(m.pos)
	if idx != m.partIdx || m.source == nil {
		if m.source != nil {
			_ = m.source.Close()
			m.source = nil
		}
		m.partIdx = idx
	}

	part := m.parts[m.partIdx]
	partEnd := part.Offset + part.Size - 1

	if m.source == nil {
		localStart := m.pos - part.Offset
		src, err := part.Getter(m.ctx, localStart, part.Size-1)
		if err != nil {
			return 0, fmt.Errorf("transform: multipart part %d fetch: %w", m.partIdx, err)
		}
		m.source = src
		m.sourceFrom = m.pos
	}

	maxInPart := partEnd - m.pos + 1
	if int64(len(p)) > maxInPart {
		p = p[:maxInPart]
	}

	n, err := m.source.Read(p)
	m.pos += int64(n)

	if err == io.EOF {
		_ = m.source.Close()
		m.source = nil
		if m.pos < m.size {
			err = nil // advance to next part on the following Read
		}
	}

	return n, err
}

func (m *multipartStream) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = m.pos + offset
	case io.SeekEnd:
		abs = m.size + offset
	default:
		return 0, fmt.Errorf("transform: multipart invalid whence %d", whence)
	}
	if abs < 0 || abs > m.size {
		return 0, fmt.Errorf("transform: multipart seek out of range: %d", abs)
	}
	if m.source != nil {
		_ = m.source.Close()
		m.source = nil
	}
	m.pos = abs
	return abs, nil
}

func (m *multipartStream) Close() error {
	if m.source == nil {
		return nil
	}
	err := m.source.Close()
	m.source = nil
	return err
}
