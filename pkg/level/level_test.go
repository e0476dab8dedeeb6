package level

import (
	"testing"

	"lsmtree/pkg/bloomfilter"
	"lsmtree/pkg/sstable"
	"lsmtree/pkg/tablekey"
)

func writeTestTable(t *testing.T, dir string, id uint64, keys []tablekey.TableKey) *sstable.Handle {
	t.Helper()
	src := &seqSource{keys: keys}
	opts := sstable.WriteOptions{
		Dir:            dir,
		BlockSize:      256,
		SSTableSizeCap: 1 << 20,
		Bloom:          bloomfilter.Default(),
		NextFileID:     func() uint64 { return id },
	}
	metas, err := sstable.WriteAll(opts, src)
	if err != nil {
		t.Fatalf("WriteAll failed: %v", err)
	}
	if len(metas) != 1 {
		t.Fatalf("expected one table, got %d", len(metas))
	}
	h, err := sstable.Open(metas[0].Path, opts.BlockSize, opts.Bloom, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return h
}

type seqSource struct {
	keys []tablekey.TableKey
	pos  int
}

func (s *seqSource) Next() (tablekey.TableKey, bool) {
	if s.pos >= len(s.keys) {
		return tablekey.TableKey{}, false
	}
	k := s.keys[s.pos]
	s.pos++
	return k, true
}

func TestRunGet(t *testing.T) {
	dir := t.TempDir()
	t1 := writeTestTable(t, dir, 1, []tablekey.TableKey{
		{UK: 1, Seq: 1, W: tablekey.Put, UV: 100},
		{UK: 2, Seq: 1, W: tablekey.Put, UV: 200},
	})
	t2 := writeTestTable(t, dir, 2, []tablekey.TableKey{
		{UK: 3, Seq: 1, W: tablekey.Put, UV: 300},
		{UK: 4, Seq: 1, W: tablekey.Put, UV: 400},
	})

	run := NewRun([]*sstable.Handle{t1, t2})

	tk, ok, err := run.Get(3)
	if err != nil || !ok || tk.UV != 300 {
		t.Fatalf("expected UV=300, got tk=%+v ok=%v err=%v", tk, ok, err)
	}
	if _, ok, _ := run.Get(99); ok {
		t.Fatalf("expected miss for absent key")
	}
}

func TestLevelCheckState(t *testing.T) {
	l := New(0, Policy{RunCapacity: 1, SizeCapacity: 1 << 30})
	if l.CheckState() != Normal {
		t.Fatalf("expected Normal for empty level")
	}

	dir := t.TempDir()
	t1 := writeTestTable(t, dir, 1, []tablekey.TableKey{{UK: 1, Seq: 1, W: tablekey.Put}})
	t2 := writeTestTable(t, dir, 2, []tablekey.TableKey{{UK: 2, Seq: 1, W: tablekey.Put}})
	l.AddRun(NewRun([]*sstable.Handle{t1}))
	l.AddRun(NewRun([]*sstable.Handle{t2}))

	if l.CheckState() != ExceedRun {
		t.Fatalf("expected ExceedRun with 2 runs against capacity 1")
	}
}
