package wal

import (
	"context"
	"testing"

	"lsmtree/pkg/tablekey"
)

func TestAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, true)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	w.Start(context.Background())

	want := []Record{
		{Seq: 1, Key: tablekey.TableKey{UK: 1, Seq: 1, W: tablekey.Put, UV: 10}},
		{Seq: 2, Key: tablekey.TableKey{UK: 2, Seq: 2, W: tablekey.Put, UV: 20}},
		{Seq: 3, Key: tablekey.TableKey{UK: 1, Seq: 3, W: tablekey.Delete}},
	}
	for _, rec := range want {
		w.Append(rec)
		if got := <-w.Done(); got != rec.Seq {
			t.Fatalf("expected ack for seq %d, got %d", rec.Seq, got)
		}
	}

	w.Stop()
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	w2, err := New(dir, true)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer w2.Close()

	var got []Record
	if err := w2.Replay(func(r Record) error {
		got = append(got, r)
		return nil
	}); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	if len(got) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(got))
	}
	for i, rec := range got {
		if rec.Key != want[i].Key {
			t.Fatalf("record %d mismatch: got %+v, want %+v", i, rec.Key, want[i].Key)
		}
	}
}

func TestTruncate(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, false)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	w.Start(context.Background())

	w.Append(Record{Seq: 1, Key: tablekey.TableKey{UK: 1, Seq: 1, W: tablekey.Put}})
	<-w.Done()
	w.Stop()

	if err := w.Truncate(); err != nil {
		t.Fatalf("Truncate failed: %v", err)
	}

	count := 0
	if err := w.Replay(func(Record) error { count++; return nil }); err != nil {
		t.Fatalf("Replay after truncate failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected empty log after truncate, got %d records", count)
	}
	w.Close()
}
