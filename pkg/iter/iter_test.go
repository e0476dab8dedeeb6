package iter

import (
	"testing"

	"lsmtree/pkg/tablekey"
)

func tk(uk int32, seq uint64) tablekey.TableKey {
	return tablekey.TableKey{UK: tablekey.UserKey(uk), Seq: tablekey.SeqNum(seq), W: tablekey.Put}
}

func drain(t *testing.T, it TableKeyIterator) []tablekey.TableKey {
	t.Helper()
	var out []tablekey.TableKey
	for {
		k, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, k)
	}
	return out
}

func TestMergeIteratorOrdersAcrossSources(t *testing.T) {
	a := NewSliceIterator([]tablekey.TableKey{tk(1, 5), tk(3, 1)})
	b := NewSliceIterator([]tablekey.TableKey{tk(2, 1), tk(3, 9)})

	m := NewMergeIterator([]TableKeyIterator{a, b})
	got := drain(t, m)

	want := []tablekey.TableKey{tk(1, 5), tk(2, 1), tk(3, 9), tk(3, 1)}
	if len(got) != len(want) {
		t.Fatalf("expected %d keys, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestConcatIteratorChainsInOrder(t *testing.T) {
	a := NewSliceIterator([]tablekey.TableKey{tk(1, 1), tk(2, 1)})
	b := NewSliceIterator([]tablekey.TableKey{tk(3, 1), tk(4, 1)})

	c := NewConcatIterator([]TableKeyIterator{a, b})
	got := drain(t, c)
	if len(got) != 4 {
		t.Fatalf("expected 4 keys, got %d", len(got))
	}
	for i, uk := range []int32{1, 2, 3, 4} {
		if got[i].UK != tablekey.UserKey(uk) {
			t.Fatalf("index %d: got UK=%d, want %d", i, got[i].UK, uk)
		}
	}
}

func TestSliceIteratorSeek(t *testing.T) {
	s := NewSliceIterator([]tablekey.TableKey{tk(1, 1), tk(2, 1), tk(3, 1)})
	s.Seek(tk(2, 1))
	head, ok := s.Peek()
	if !ok || head.UK != 2 {
		t.Fatalf("expected seek to land on UK=2, got %+v ok=%v", head, ok)
	}
}
