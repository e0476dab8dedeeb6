package tablekey

import "testing"

func TestCompareOrdering(t *testing.T) {
	a := TableKey{UK: 1, Seq: 10, W: Put, UV: 0}
	b := TableKey{UK: 1, Seq: 20, W: Put, UV: 0}
	if !Less(b, a) {
		t.Fatalf("higher seq should sort first within the same user key")
	}

	c := TableKey{UK: 2, Seq: 1, W: Put, UV: 0}
	if !Less(a, c) {
		t.Fatalf("lower user key should sort first")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tk := TableKey{UK: -42, Seq: 12345, W: Delete, UV: 99}
	var buf [Size]byte
	Encode(tk, buf[:])

	got, err := Decode(buf[:])
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got != tk {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, tk)
	}
}

func TestDecodeInvalidWriteType(t *testing.T) {
	tk := TableKey{UK: 1, Seq: 1, W: Put, UV: 1}
	var buf [Size]byte
	Encode(tk, buf[:])
	buf[12] = 99

	if _, err := Decode(buf[:]); err == nil {
		t.Fatalf("expected error for invalid write type")
	}
}

func TestDecodeTruncated(t *testing.T) {
	if _, err := Decode(make([]byte, Size-1)); err == nil {
		t.Fatalf("expected error for truncated input")
	}
}

func TestLookupKeyAsTableKey(t *testing.T) {
	lk := LookupKey{UK: 7, Seq: 50}
	tk := lk.AsTableKey()
	if tk.UK != 7 || tk.Seq != 50 || tk.W != Empty {
		t.Fatalf("unexpected conversion: %+v", tk)
	}
}
