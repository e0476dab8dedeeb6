package bloomfilter

import "testing"

func TestInsertAndMayContain(t *testing.T) {
	f := New(Default())
	keys := [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma")}
	for _, k := range keys {
		f.Insert(k)
	}

	for _, k := range keys {
		if !f.MayContain(k) {
			t.Fatalf("expected MayContain(%q) to be true after Insert", k)
		}
	}
}

func TestBytesLengthIsExact(t *testing.T) {
	f := New(Default())
	want := 10000 / 8 // m=10000 bits, byte-packed
	if got := len(f.Bytes()); got != want {
		t.Fatalf("serialized filter has %d bytes, want %d", got, want)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	p := Default()
	f := New(p)
	f.Insert([]byte("roundtrip"))

	loaded, err := Load(p, f.Bytes())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !loaded.MayContain([]byte("roundtrip")) {
		t.Fatalf("loaded filter lost a set bit")
	}
}

func TestLoadWrongLength(t *testing.T) {
	if _, err := Load(Default(), make([]byte, 10)); err == nil {
		t.Fatalf("expected error for wrong-length input")
	}
}
