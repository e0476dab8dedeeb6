// Package level implements sorted runs and levels (§4.4, §5.6). A run is
// an ordered, non-overlapping group of SSTables; a level is an unordered
// multiset of runs governed by a run_capacity/size_capacity policy.
// Grounded on the teacher's pkg/persistence/levels.go (LevelManager,
// per-level table slices, AddSSTable), restructured around the spec's
// explicit run concept instead of a flat per-level table list.
package level

import (
	"lsmtree/pkg/iter"
	"lsmtree/pkg/sstable"
	"lsmtree/pkg/tablekey"
)

// Run is an ordered, non-overlapping sequence of SSTables: table i's
// MaxKey < table i+1's MinKey. Runs are binary searchable and
// concatenable (§4.4).
type Run struct {
	Tables []*sstable.Handle
}

// NewRun builds a run from tables already known to be sorted and
// non-overlapping (the caller — typically a compaction — is responsible
// for that invariant).
func NewRun(tables []*sstable.Handle) *Run {
	return &Run{Tables: tables}
}

// SizeBytes sums the on-disk size of every table in the run.
func (r *Run) SizeBytes() int64 {
	var total int64
	for _, t := range r.Tables {
		total += t.Meta().SizeBytes
	}
	return total
}

// Get performs a binary search to the one table that could hold uk, then
// delegates to its bloom filter and block search.
func (r *Run) Get(uk tablekey.UserKey) (tablekey.TableKey, bool, error) {
	lo, hi := 0, len(r.Tables)-1
	idx := -1
	for lo <= hi {
		mid := (lo + hi) / 2
		meta := r.Tables[mid].Meta()
		switch {
		case uk < meta.MinKey.UK:
			hi = mid - 1
		case uk > meta.MaxKey.UK:
			lo = mid + 1
		default:
			idx = mid
			lo = hi + 1 // stop the loop, found a candidate
		}
	}
	if idx == -1 {
		return tablekey.TableKey{}, false, nil
	}
	return r.Tables[idx].Get(uk)
}

// Iterator concatenates every table's iterator in order (§4.4, §5.8).
func (r *Run) Iterator() iter.TableKeyIterator {
	sources := make([]iter.TableKeyIterator, len(r.Tables))
	for i, t := range r.Tables {
		sources[i] = t.Iterator()
	}
	return iter.NewConcatIterator(sources)
}

// Policy holds a level's run_capacity/size_capacity limits (§4.5).
type Policy struct {
	RunCapacity  int
	SizeCapacity int64
}

// State classifies a level's current occupancy against its Policy,
// driving the compaction engine's bottom-up scan (§5.9).
type State int

const (
	Normal State = iota
	ExceedRun
	ExceedSize
)

// Level is an unordered multiset of runs.
type Level struct {
	Num    int
	Runs   []*Run
	Policy Policy
}

// New creates an empty level at num with the given policy.
func New(num int, policy Policy) *Level {
	return &Level{Num: num, Policy: policy}
}

// AddRun appends a newly produced run to the level.
func (l *Level) AddRun(r *Run) {
	l.Runs = append(l.Runs, r)
}

// RemoveRuns drops the runs at the given indices (used after a
// compaction consumes them), preserving the relative order of the rest.
func (l *Level) RemoveRuns(indices map[int]bool) {
	kept := l.Runs[:0]
	for i, r := range l.Runs {
		if !indices[i] {
			kept = append(kept, r)
		}
	}
	l.Runs = kept
}

// SizeBytes sums every run's size.
func (l *Level) SizeBytes() int64 {
	var total int64
	for _, r := range l.Runs {
		total += r.SizeBytes()
	}
	return total
}

// CheckState classifies the level per §4.5: ExceedRun if it holds more
// runs than RunCapacity, else ExceedSize if its total size exceeds
// SizeCapacity, else Normal.
func (l *Level) CheckState() State {
	if len(l.Runs) > l.Policy.RunCapacity {
		return ExceedRun
	}
	if l.SizeBytes() > l.Policy.SizeCapacity {
		return ExceedSize
	}
	return Normal
}

// Get searches every run and returns the match with the highest sequence
// number, since runs within a level are unordered by age.
func (l *Level) Get(uk tablekey.UserKey) (tablekey.TableKey, bool, error) {
	var best tablekey.TableKey
	found := false
	for _, r := range l.Runs {
		tk, ok, err := r.Get(uk)
		if err != nil {
			return tablekey.TableKey{}, false, err
		}
		if ok && (!found || tk.Seq > best.Seq) {
			best, found = tk, true
		}
	}
	return best, found, nil
}

// Iterator merges every run's iterator (§5.8); runs may overlap each
// other (only within a run is overlap disallowed), so a heap merge
// rather than a concat is required here.
func (l *Level) Iterator() iter.TableKeyIterator {
	sources := make([]iter.TableKeyIterator, len(l.Runs))
	for i, r := range l.Runs {
		sources[i] = r.Iterator()
	}
	return iter.NewMergeIterator(sources)
}

// SizeCapacityForLevel computes level n's size_capacity from §4.5:
// level 0 = run_capacity * memtable_capacity (expressed here in bytes
// via the caller-supplied per-entry size), level n>=1 = the previous
// level's size_capacity * fanout.
func SizeCapacityForLevel(n, runCapacity, memtableCapacityBytes int, fanout int) int64 {
	if n == 0 {
		return int64(runCapacity) * int64(memtableCapacityBytes)
	}
	cap0 := SizeCapacityForLevel(0, runCapacity, memtableCapacityBytes, fanout)
	for i := 1; i <= n; i++ {
		cap0 *= int64(fanout)
	}
	return cap0
}
