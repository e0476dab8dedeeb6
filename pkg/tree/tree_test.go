package tree

import "testing"

func TestLevelLazyCreation(t *testing.T) {
	tr := New(Config{Fanout: 10, RunCapacity: 4, MemtableCapacityBytes: 1 << 20, MaxLevel: 7})

	if len(tr.Levels()) != 0 {
		t.Fatalf("expected no levels before first access")
	}

	l2, err := tr.Level(2)
	if err != nil {
		t.Fatalf("Level(2) failed: %v", err)
	}
	if len(tr.Levels()) != 3 {
		t.Fatalf("expected levels 0,1,2 to exist, got %d", len(tr.Levels()))
	}
	if l2.Num != 2 {
		t.Fatalf("expected level num 2, got %d", l2.Num)
	}
}

func TestLevelExceedsMax(t *testing.T) {
	tr := New(Config{Fanout: 10, RunCapacity: 4, MemtableCapacityBytes: 1024, MaxLevel: 2})
	if _, err := tr.Level(5); err == nil {
		t.Fatalf("expected error exceeding max_level")
	}
}

func TestSizeCapacityGrowsByFanout(t *testing.T) {
	tr := New(Config{Fanout: 10, RunCapacity: 4, MemtableCapacityBytes: 1000, MaxLevel: 3})
	l0, _ := tr.Level(0)
	l1, _ := tr.Level(1)
	if l1.Policy.SizeCapacity != l0.Policy.SizeCapacity*10 {
		t.Fatalf("expected level 1 capacity to be fanout times level 0: l0=%d l1=%d", l0.Policy.SizeCapacity, l1.Policy.SizeCapacity)
	}
}
