package filestream

import "testing"

func TestParseRangeHeaderStartOnly(t *testing.T) {
	t.Parallel()

	rh, err := ParseRangeHeader("bytes=100-")
	if err != nil {
		t.Fatalf("ParseRangeHeader: %v", err)
	}
	if rh.Start != 100 || rh.End != -1 {
		t.Fatalf("got %+v", rh)
	}
}

func TestParseRangeHeaderStartAndEnd(t *testing.T) {
	t.Parallel()

	rh, err := ParseRangeHeader("bytes=100-199")
	if err != nil {
		t.Fatalf("ParseRangeHeader: %v", err)
	}
	if rh.Start != 100 || rh.End != 199 {
		t.Fatalf("got %+v", rh)
	}
}

func TestParseRangeHeaderSuffix(t *testing.T) {
	t.Parallel()

	rh, err := ParseRangeHeader("bytes=-500")
	if err != nil {
		t.Fatalf("ParseRangeHeader: %v", err)
	}
	if rh.Start != -1 || rh.End != 500 {
		t.Fatalf("got %+v", rh)
	}
}

func TestParseRangeHeaderRejectsMultiRange(t *testing.T) {
	t.Parallel()

	if _, err := ParseRangeHeader("bytes=0-10,20-30"); err == nil {
		t.Fatalf("expected an error for a multi-range header")
	}
}

func TestParseRangeHeaderRejectsMissingPrefix(t *testing.T) {
	t.Parallel()

	if _, err := ParseRangeHeader("0-10"); err == nil {
		t.Fatalf("expected an error for a header missing the bytes= prefix")
	}
}

func TestParseRangeHeaderRejectsNoDash(t *testing.T) {
	t.Parallel()

	if _, err := ParseRangeHeader("bytes=100"); err == nil {
		t.Fatalf("expected an error for a header with no '-'")
	}
}

func TestDecodeStartOnly(t *testing.T) {
	t.Parallel()

	rh := RangeHeader{Start: 100, End: -1}
	offset, limit := rh.Decode(1000)
	if offset != 100 || limit != -1 {
		t.Fatalf("Decode() = (%d, %d), want (100, -1)", offset, limit)
	}
}

func TestDecodeStartAndEnd(t *testing.T) {
	t.Parallel()

	rh := RangeHeader{Start: 100, End: 199}
	offset, limit := rh.Decode(1000)
	if offset != 100 || limit != 100 {
		t.Fatalf("Decode() = (%d, %d), want (100, 100)", offset, limit)
	}
}

func TestDecodeSuffix(t *testing.T) {
	t.Parallel()

	rh := RangeHeader{Start: -1, End: 500}
	offset, limit := rh.Decode(1000)
	if offset != 500 || limit != -1 {
		t.Fatalf("Decode() = (%d, %d), want (500, -1)", offset, limit)
	}
}

func TestFixRangeHeaderClampsSuffixAndEnd(t *testing.T) {
	t.Parallel()

	fixed := FixRangeHeader(&RangeHeader{Start: -1, End: 500}, 1000)
	if fixed.Start != 500 || fixed.End != 999 {
		t.Fatalf("got %+v", fixed)
	}
}

func TestFixRangeHeaderLeavesValidRangeAlone(t *testing.T) {
	t.Parallel()

	fixed := FixRangeHeader(&RangeHeader{Start: 10, End: 20}, 1000)
	if fixed.Start != 10 || fixed.End != 20 {
		t.Fatalf("got %+v", fixed)
	}
}

func TestFixRangeHeaderSkipsClampWhenSizeUnknown(t *testing.T) {
	t.Parallel()

	rh := &RangeHeader{Start: 10, End: 20}
	if fixed := FixRangeHeader(rh, -1); fixed != rh {
		t.Fatalf("expected FixRangeHeader to return the input unchanged when size < 0")
	}
}
