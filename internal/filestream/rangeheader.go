package filestream

import (
	"errors"
	"strconv"
	"strings"
)

// RangeHeader is a parsed HTTP "Range: bytes=..." request, decoded
// into an offset/limit pair a Stream's Seek+Read can act on directly.
//
// Grounded on the teacher's internal/utils/range.go, which the
// WebDAV/FUSE front-ends (out of scope here) used to translate client
// byte-range requests before calling into the data plane; kept intact
// since any caller of open_stream still needs the same translation.
type RangeHeader struct {
	Start int64
	End   int64
}

// Decode interprets the RangeHeader into an offset and a limit. The
// offset is where to seek to; limit is how many bytes to read, or -1
// to read to the end.
func (o *RangeHeader) Decode(size int64) (offset, limit int64) {
	if o.Start >= 0 {
		offset = o.Start
		if o.End >= 0 {
			limit = o.End - o.Start + 1
		} else {
			limit = -1
		}
	} else {
		if o.End >= 0 {
			offset = size - o.End
		} else {
			offset = 0
		}
		limit = -1
	}
	return offset, limit
}

// ParseRangeHeader parses a single-range "bytes=start-end" header
// value. Multi-range requests are rejected, matching the only shape
// this data plane's seekable Stream can satisfy.
func ParseRangeHeader(s string) (po *RangeHeader, err error) {
	const preamble = "bytes="
	if !strings.HasPrefix(s, preamble) {
		return nil, errors.New("range: header invalid: doesn't start with " + preamble)
	}
	s = s[len(preamble):]
	if strings.ContainsRune(s, ',') {
		return nil, errors.New("range: header invalid: contains multiple ranges which isn't supported")
	}
	dash := strings.IndexRune(s, '-')
	if dash < 0 {
		return nil, errors.New("range: header invalid: contains no '-'")
	}
	start, end := strings.TrimSpace(s[:dash]), strings.TrimSpace(s[dash+1:])
	o := RangeHeader{Start: -1, End: -1}
	if start != "" {
		o.Start, err = strconv.ParseInt(start, 10, 64)
		if err != nil || o.Start < 0 {
			return nil, errors.New("range: header invalid: bad start")
		}
	}
	if end != "" {
		o.End, err = strconv.ParseInt(end, 10, 64)
		if err != nil || o.End < 0 {
			return nil, errors.New("range: header invalid: bad end")
		}
	}

	return &o, nil
}

// FixRangeHeader adjusts a suffix range ("-500" meaning "last 500
// bytes") into an absolute range using size, and clamps End to size-1.
func FixRangeHeader(rh *RangeHeader, size int64) *RangeHeader {
	if size < 0 {
		return rh
	}

	fixed := rh
	if fixed.Start < 0 {
		fixed = &RangeHeader{Start: size - fixed.End, End: -1}
	}
	if fixed.End > size || fixed.End < 0 {
		fixed = &RangeHeader{Start: fixed.Start, End: size - 1}
	}

	return fixed
}
