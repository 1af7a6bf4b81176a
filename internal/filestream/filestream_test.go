package filestream

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"io"
	"testing"

	"github.com/javi11/usenetstream/internal/nntp"
	"github.com/javi11/usenetstream/internal/segment"
)

type fakeFetcher struct {
	payload map[string][]byte
}

func (f *fakeFetcher) Fetch(_ context.Context, msgID string, _ nntp.UsageContext) ([]byte, error) {
	return f.payload[msgID], nil
}

// singlePartDescriptor splits data into segCount equal chunks and
// describes the whole thing as one File Part with no transforms.
func singlePartDescriptor(data []byte, segCount int) (FileDescriptor, *fakeFetcher) {
	segLen := (len(data) + segCount - 1) / segCount
	ids := make([]string, 0, segCount)
	hints := make([]int64, 0, segCount)
	payload := make(map[string][]byte)
	for i := 0; i < len(data); i += segLen {
		end := i + segLen
		if end > len(data) {
			end = len(data)
		}
		id := string(rune('a' + len(ids)))
		payload[id] = data[i:end]
		ids = append(ids, id)
		hints = append(hints, int64(end-i))
	}
	ff := &fakeFetcher{payload: payload}
	desc := FileDescriptor{
		Parts: []FilePart{{
			SegmentIDs:        ids,
			SegmentSizeHints:  hints,
			SegmentByteRange:  ByteRange{Start: 0, End: int64(len(data))},
			FilePartByteRange: ByteRange{Start: 0, End: int64(len(data))},
		}},
	}
	return desc, ff
}

func TestReadWholeSinglePartFile(t *testing.T) {
	t.Parallel()

	data := []byte("the quick brown fox jumps over the lazy dog, again and again")
	desc, ff := singlePartDescriptor(data, 7)

	s, err := New(context.Background(), ff, nntp.UsageContext{}, segment.Config{ConnectionsBudget: 4}, desc, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if s.Length() != int64(len(data)) {
		t.Fatalf("Length() = %d, want %d", s.Length(), len(data))
	}

	got, err := io.ReadAll(s)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("got %q, want %q", got, data)
	}
}

func TestSeekMidFileThenRead(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("0123456789"), 20) // 200 bytes
	desc, ff := singlePartDescriptor(data, 10)

	s, err := New(context.Background(), ff, nntp.UsageContext{}, segment.Config{ConnectionsBudget: 4}, desc, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if _, err := s.Seek(95, io.SeekStart); err != nil {
		t.Fatalf("seek: %v", err)
	}

	got := make([]byte, 10)
	if _, err := io.ReadFull(s, got); err != nil {
		t.Fatalf("read after seek: %v", err)
	}
	if !bytes.Equal(got, data[95:105]) {
		t.Fatalf("got %q, want %q", got, data[95:105])
	}
}

func TestXORObfuscatedSinglePart(t *testing.T) {
	t.Parallel()

	key := []byte{0xaa, 0x55, 0x11}
	plain := bytes.Repeat([]byte("secret-payload-"), 10)
	enc := make([]byte, len(plain))
	for i, b := range plain {
		enc[i] = b ^ key[i%len(key)]
	}

	desc, ff := singlePartDescriptor(enc, 5)
	desc.XORKey = key

	s, err := New(context.Background(), ff, nntp.UsageContext{}, segment.Config{ConnectionsBudget: 4}, desc, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	got, err := io.ReadAll(s)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("got %q, want %q", got, plain)
	}
}

func TestAESCTRMultipartSeekMatchesReferencePlaintext(t *testing.T) {
	t.Parallel()

	key := bytes.Repeat([]byte{0x07}, 32)
	iv := bytes.Repeat([]byte{0x00}, aes.BlockSize)

	// Three logical parts of a RAR-like container, each its own raw
	// volume with an 8-byte header/footer trimmed by segment_byte_range.
	rawVolume := func(n int, fill byte) []byte {
		return bytes.Repeat([]byte{fill}, n)
	}
	vol0 := rawVolume(50*1024*1024+16, 0xA0) // header 8 + content + footer 8
	vol1 := rawVolume(100*1024*1024+64, 0xB0)
	vol2 := rawVolume(1*1024*1024+16, 0xC0)

	encrypt := func(plain []byte) []byte {
		block, err := aes.NewCipher(key)
		if err != nil {
			t.Fatalf("aes.NewCipher: %v", err)
		}
		out := make([]byte, len(plain))
		cipher.NewCTR(block, iv).XORKeyStream(out, plain)
		return out
	}

	enc0, enc1, enc2 := encrypt(vol0), encrypt(vol1), encrypt(vol2)

	payload := map[string][]byte{
		"p0": enc0,
		"p1": enc1,
		"p2": enc2,
	}
	ff := &fakeFetcher{payload: payload}

	desc := FileDescriptor{
		AES: &AESParams{Key: key, IV: iv},
		Parts: []FilePart{
			{
				SegmentIDs:        []string{"p0"},
				SegmentSizeHints:  []int64{int64(len(vol0))},
				SegmentByteRange:  ByteRange{Start: 8, End: int64(len(vol0)) - 8},
				FilePartByteRange: ByteRange{Start: 0, End: 50 * 1024 * 1024},
			},
			{
				SegmentIDs:        []string{"p1"},
				SegmentSizeHints:  []int64{int64(len(vol1))},
				SegmentByteRange:  ByteRange{Start: 32, End: 32 + 100*1024*1024},
				FilePartByteRange: ByteRange{Start: 50 * 1024 * 1024, End: 150 * 1024 * 1024},
			},
			{
				SegmentIDs:        []string{"p2"},
				SegmentSizeHints:  []int64{int64(len(vol2))},
				SegmentByteRange:  ByteRange{Start: 8, End: int64(len(vol2)) - 8},
				FilePartByteRange: ByteRange{Start: 150 * 1024 * 1024, End: 151 * 1024 * 1024},
			},
		},
	}

	s, err := New(context.Background(), ff, nntp.UsageContext{}, segment.Config{ConnectionsBudget: 8}, desc, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if s.Length() != 151*1024*1024 {
		t.Fatalf("Length() = %d, want %d", s.Length(), 151*1024*1024)
	}

	if _, err := s.Seek(90*1024*1024, io.SeekStart); err != nil {
		t.Fatalf("seek: %v", err)
	}

	got := make([]byte, 1024*1024)
	if _, err := io.ReadFull(s, got); err != nil {
		t.Fatalf("read after seek: %v", err)
	}

	// Reference: decrypt the whole of vol1, slice to the segment byte
	// range, then to the logical offset [90MB, 91MB) of part 2.
	plainVol1 := make([]byte, len(vol1))
	block, _ := aes.NewCipher(key)
	cipher.NewCTR(block, iv).XORKeyStream(plainVol1, vol1)
	partContent := plainVol1[32 : 32+100*1024*1024]
	localStart := 90*1024*1024 - 50*1024*1024
	want := partContent[localStart : localStart+1024*1024]

	if !bytes.Equal(got, want) {
		t.Fatalf("decrypted read after seek did not match reference plaintext slice")
	}
}

func TestNonPositiveFilePartRangeRejected(t *testing.T) {
	t.Parallel()

	ff := &fakeFetcher{payload: map[string][]byte{"a": []byte("x")}}
	desc := FileDescriptor{
		Parts: []FilePart{{
			SegmentIDs:        []string{"a"},
			SegmentSizeHints:  []int64{1},
			SegmentByteRange:  ByteRange{Start: 0, End: 1},
			FilePartByteRange: ByteRange{Start: 5, End: 5},
		}},
	}

	if _, err := New(context.Background(), ff, nntp.UsageContext{}, segment.Config{}, desc, nil); err == nil {
		t.Fatalf("expected an error for a non-positive file_part_byte_range")
	}
}

func TestBadAESKeyLengthRejected(t *testing.T) {
	t.Parallel()

	ff := &fakeFetcher{payload: map[string][]byte{"a": []byte("x")}}
	desc := FileDescriptor{
		AES: &AESParams{Key: []byte("too-short"), IV: bytes.Repeat([]byte{0}, 16)},
		Parts: []FilePart{{
			SegmentIDs:        []string{"a"},
			SegmentSizeHints:  []int64{1},
			SegmentByteRange:  ByteRange{Start: 0, End: 1},
			FilePartByteRange: ByteRange{Start: 0, End: 1},
		}},
	}

	if _, err := New(context.Background(), ff, nntp.UsageContext{}, segment.Config{}, desc, nil); err == nil {
		t.Fatalf("expected an error for a bad aes key length")
	}
}
