package yenc

import (
	"bytes"
	"fmt"
	"hash/crc32"
)

// EncodeOptions controls Encode's output; it exists primarily so tests
// can produce fixtures that round-trip through Decode.
type EncodeOptions struct {
	Name     string
	LineSize int // wire line length before wrapping; 0 defaults to 128
}

// Encode yEnc-encodes payload into a single-part article body, including
// =ybegin/=yend markers and a pcrc32 trailer. It is the inverse of
// Decode: Decode(Encode(x)) == x for any x.
func Encode(payload []byte, opts EncodeOptions) []byte {
	lineSize := opts.LineSize
	if lineSize <= 0 {
		lineSize = 128
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "=ybegin line=%d size=%d name=%s\r\n", lineSize, len(payload), opts.Name)

	col := 0
	for _, b := range payload {
		enc := b + 42
		if needsEscape(enc) {
			buf.WriteByte('=')
			buf.WriteByte(enc + 64)
			col++
		} else {
			buf.WriteByte(enc)
		}
		col++
		if col >= lineSize {
			buf.WriteString("\r\n")
			col = 0
		}
	}
	if col > 0 {
		buf.WriteString("\r\n")
	}

	crc := crc32.ChecksumIEEE(payload)
	fmt.Fprintf(&buf, "=yend size=%d pcrc32=%08x\r\n", len(payload), crc)

	return buf.Bytes()
}

// needsEscape reports whether an encoded byte must be transmitted via
// the 0x3D escape sequence: the escape character itself, NUL, LF, or
// CR, plus leading TAB/SPACE is handled by the caller's line-start
// check in a fuller implementation — this encoder always escapes the
// byte values that would otherwise corrupt line framing.
func needsEscape(b byte) bool {
	switch b {
	case '=', 0x00, 0x0A, 0x0D:
		return true
	default:
		return false
	}
}
