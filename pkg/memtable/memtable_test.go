package memtable

import (
	"errors"
	"testing"

	"lsmtree/pkg/tablekey"
)

func TestInsertAndGet(t *testing.T) {
	mt := New(100)

	if err := mt.Insert(tablekey.TableKey{UK: 1, Seq: 1, W: tablekey.Put, UV: 10}); err != nil {
		t.Fatalf("unexpected overload: %v", err)
	}
	if err := mt.Insert(tablekey.TableKey{UK: 1, Seq: 2, W: tablekey.Put, UV: 20}); err != nil {
		t.Fatalf("unexpected overload: %v", err)
	}

	tk, ok := mt.Get(tablekey.LookupKey{UK: 1, Seq: 2})
	if !ok {
		t.Fatalf("expected to find key")
	}
	if tk.UV != 20 {
		t.Fatalf("expected newest visible value 20, got %d", tk.UV)
	}

	tk, ok = mt.Get(tablekey.LookupKey{UK: 1, Seq: 1})
	if !ok || tk.UV != 10 {
		t.Fatalf("expected to see value as of seq 1, got ok=%v tk=%+v", ok, tk)
	}
}

func TestInsertOverload(t *testing.T) {
	mt := New(2)
	mt.Insert(tablekey.TableKey{UK: 1, Seq: 1, W: tablekey.Put})
	err := mt.Insert(tablekey.TableKey{UK: 2, Seq: 2, W: tablekey.Put})
	if !errors.Is(err, ErrOverload) {
		t.Fatalf("expected ErrOverload at capacity, got %v", err)
	}
}

func TestIteratorAscendingOrder(t *testing.T) {
	mt := New(100)
	for _, uk := range []tablekey.UserKey{5, 1, 3} {
		mt.Insert(tablekey.TableKey{UK: uk, Seq: 1, W: tablekey.Put})
	}

	it := mt.Iterator()
	var last tablekey.TableKey
	first := true
	count := 0
	for {
		tk, ok := it.Next()
		if !ok {
			break
		}
		if !first && !tablekey.Less(last, tk) {
			t.Fatalf("iterator not ascending: %+v then %+v", last, tk)
		}
		last, first = tk, false
		count++
	}
	if count != 3 {
		t.Fatalf("expected 3 keys, got %d", count)
	}
}

func TestIteratorSeek(t *testing.T) {
	mt := New(100)
	for _, uk := range []tablekey.UserKey{1, 2, 3, 4, 5} {
		mt.Insert(tablekey.TableKey{UK: uk, Seq: 1, W: tablekey.Put})
	}

	it := mt.Iterator()
	it.Seek(tablekey.TableKey{UK: 3, Seq: tablekey.SeqNum(^uint64(0)), W: tablekey.Empty})
	tk, ok := it.Peek()
	if !ok || tk.UK != 3 {
		t.Fatalf("expected seek to land on UK=3, got %+v ok=%v", tk, ok)
	}
}
