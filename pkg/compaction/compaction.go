// Package compaction implements the three compaction kinds the tree
// relies on to stay within its level policy (§4.5, §5.9): Minor (drain a
// memtable into level 0), Horizontal (merge a level's overlapping runs
// down to one), and Vertical (push one randomly picked table's overlap
// group from level L into level L+1). A bottom-up scan, CheckLevelStates, classifies every
// level so the engine facade knows which compaction to run next.
// Grounded on the teacher's internal/engine/compaction.go
// (CompactionTask/Planner shape, kept as the vocabulary for "what to
// compact") and pkg/persistence/levels.go's writeSSTableData (the actual
// merge-and-write mechanics, now routed through pkg/iter's merge
// iterator instead of a flat item slice).
package compaction

import (
	"fmt"

	"github.com/zhangyunhao116/fastrand"

	"lsmtree/pkg/iter"
	"lsmtree/pkg/level"
	"lsmtree/pkg/manifest"
	"lsmtree/pkg/memtable"
	"lsmtree/pkg/sstable"
	"lsmtree/pkg/tablekey"
	"lsmtree/pkg/tree"
)

// Engine bundles everything a compaction needs to write new SSTables and
// record them durably.
type Engine struct {
	Tree      *tree.Tree
	Manifest  *manifest.Manifest
	WriteOpts sstable.WriteOptions
	Cache     sstable.BlockCache
}

// Minor drains mt into one or more new level-0 SSTables, forming a
// single new run, and records them in the manifest (§5.9). The caller
// is responsible for having already stopped routing writes to mt and
// for truncating/rotating the WAL backing it once this returns nil.
// Minor never applies the §4.8 step-5 retention filter: the memtable can
// legitimately hold several versions of the same UK, and that history is
// preserved in level 0 until a major compaction collapses it.
func Minor(e *Engine, mt *memtable.Memtable) error {
	src := mt.Iterator()
	metas, err := sstable.WriteAll(e.WriteOpts, src)
	if err != nil {
		return fmt.Errorf("minor compaction: %w", err)
	}
	if len(metas) == 0 {
		return nil
	}

	l0, err := e.Tree.Level(0)
	if err != nil {
		return fmt.Errorf("minor compaction: %w", err)
	}

	handles, err := openTables(e, metas)
	if err != nil {
		return fmt.Errorf("minor compaction: %w", err)
	}
	runIndex := len(l0.Runs)
	for _, meta := range metas {
		e.Manifest.AddTable(manifest.TableInfo{
			FileID:   meta.FileID,
			Path:     meta.Path,
			Level:    0,
			RunIndex: runIndex,
			SizeByte: meta.SizeBytes,
		})
	}
	l0.AddRun(level.NewRun(handles))
	return e.Manifest.Save()
}

// Horizontal merges the base run and every other run in the level whose
// UK range overlaps it (§4.8 steps 1-3) into a single new run, collapsing
// run count back toward the level's policy. It is the remedy for an
// ExceedRun classification. If no two runs in the level overlap at all —
// an edge case the spec's "pick another random run" retry doesn't
// terminate for — every run is merged, since ExceedRun must resolve
// regardless of key overlap.
func Horizontal(e *Engine, levelNum int) error {
	lvl, err := e.Tree.Level(levelNum)
	if err != nil {
		return fmt.Errorf("horizontal compaction: %w", err)
	}
	if len(lvl.Runs) < 2 {
		return nil
	}

	group := pickOverlappingGroup(lvl.Runs)

	oldFileIDs := map[uint64]bool{}
	sources := make([]iter.TableKeyIterator, 0, len(group))
	for _, ri := range group {
		r := lvl.Runs[ri]
		sources = append(sources, r.Iterator())
		for _, t := range r.Tables {
			oldFileIDs[t.Meta().FileID] = true
		}
	}
	merged := iter.NewMergeIterator(sources)
	dropTombstones := levelNum == e.Tree.MaxLevel()-1
	filtered := newRetentionFilter(merged, dropTombstones)

	metas, err := sstable.WriteAll(e.WriteOpts, filtered)
	if err != nil {
		return fmt.Errorf("horizontal compaction: %w", err)
	}
	handles, err := openTables(e, metas)
	if err != nil {
		return fmt.Errorf("horizontal compaction: %w", err)
	}

	removed := make(map[int]bool, len(group))
	for _, ri := range group {
		removed[ri] = true
	}
	lvl.RemoveRuns(removed)
	lvl.AddRun(level.NewRun(handles))

	runIndex := len(lvl.Runs) - 1
	infos := make([]manifest.TableInfo, len(metas))
	for i, meta := range metas {
		infos[i] = manifest.TableInfo{FileID: meta.FileID, Path: meta.Path, Level: levelNum, RunIndex: runIndex, SizeByte: meta.SizeBytes}
	}
	e.Manifest.ReplaceTables(oldFileIDs, infos)
	return e.Manifest.Save()
}

// Vertical pushes one randomly picked table's overlap group from levelNum
// down into levelNum+1 (§4.8 steps 1-7), remedying an ExceedSize classification.
func Vertical(e *Engine, levelNum int) error {
	lvl, err := e.Tree.Level(levelNum)
	if err != nil {
		return fmt.Errorf("vertical compaction: %w", err)
	}
	if len(lvl.Runs) == 0 {
		return nil
	}
	next, err := e.Tree.Level(levelNum + 1)
	if err != nil {
		return fmt.Errorf("vertical compaction: %w", err)
	}

	// Step 1: pick a random run, then a random table in it; its UK range
	// is the base range.
	runIdx := fastrand.Intn(len(lvl.Runs))
	base := lvl.Runs[runIdx]
	tblIdx := fastrand.Intn(len(base.Tables))
	baseMin := base.Tables[tblIdx].Meta().MinKey.UK
	baseMax := base.Tables[tblIdx].Meta().MaxKey.UK

	fromL := map[*sstable.Handle]bool{base.Tables[tblIdx]: true}

	// Step 2: repeatedly pull in any other table in L overlapping the
	// (possibly already-extended) base range, growing it until a pass
	// adds nothing new.
	for {
		grew := false
		for _, r := range lvl.Runs {
			for _, t := range r.Tables {
				if fromL[t] {
					continue
				}
				mn, mx := t.Meta().MinKey.UK, t.Meta().MaxKey.UK
				if ukOverlap(baseMin, baseMax, mn, mx) {
					fromL[t] = true
					if mn < baseMin {
						baseMin = mn
					}
					if mx > baseMax {
						baseMax = mx
					}
					grew = true
				}
			}
		}
		if !grew {
			break
		}
	}

	// Step 3: collect every table in L+1 overlapping the final base range.
	fromNext := map[*sstable.Handle]bool{}
	for _, r := range next.Runs {
		for _, t := range r.Tables {
			mn, mx := t.Meta().MinKey.UK, t.Meta().MaxKey.UK
			if ukOverlap(baseMin, baseMax, mn, mx) {
				fromNext[t] = true
			}
		}
	}

	oldFileIDs := map[uint64]bool{}
	sources := make([]iter.TableKeyIterator, 0, len(fromL)+len(fromNext))
	for t := range fromL {
		oldFileIDs[t.Meta().FileID] = true
		sources = append(sources, t.Iterator())
	}
	for t := range fromNext {
		oldFileIDs[t.Meta().FileID] = true
		sources = append(sources, t.Iterator())
	}
	merged := iter.NewMergeIterator(sources)
	dropTombstones := levelNum+1 == e.Tree.MaxLevel()-1
	filtered := newRetentionFilter(merged, dropTombstones)

	metas, err := sstable.WriteAll(e.WriteOpts, filtered)
	if err != nil {
		return fmt.Errorf("vertical compaction: %w", err)
	}
	handles, err := openTables(e, metas)
	if err != nil {
		return fmt.Errorf("vertical compaction: %w", err)
	}

	// Step 4: remove the collected tables from their runs, dropping any
	// run left empty.
	removePickedTables(lvl, fromL)
	removePickedTables(next, fromNext)

	runIndex := len(next.Runs)
	next.AddRun(level.NewRun(handles))

	infos := make([]manifest.TableInfo, len(metas))
	for i, meta := range metas {
		infos[i] = manifest.TableInfo{FileID: meta.FileID, Path: meta.Path, Level: levelNum + 1, RunIndex: runIndex, SizeByte: meta.SizeBytes}
	}
	e.Manifest.ReplaceTables(oldFileIDs, infos)
	return e.Manifest.Save()
}

// openTables opens every freshly written SSTable through the engine's
// shared block cache, consistent with recovery's opens.
func openTables(e *Engine, metas []sstable.Meta) ([]*sstable.Handle, error) {
	handles := make([]*sstable.Handle, len(metas))
	for i, meta := range metas {
		h, err := sstable.Open(meta.Path, e.WriteOpts.BlockSize, e.WriteOpts.Bloom, e.Cache)
		if err != nil {
			return nil, fmt.Errorf("open new table: %w", err)
		}
		h.SetFileID(meta.FileID)
		handles[i] = h
	}
	return handles, nil
}

// removePickedTables drops every table in picked from its run, removing
// any run left with no tables at all.
func removePickedTables(lvl *level.Level, picked map[*sstable.Handle]bool) {
	if len(picked) == 0 {
		return
	}
	empty := map[int]bool{}
	for i, r := range lvl.Runs {
		kept := r.Tables[:0]
		for _, t := range r.Tables {
			if !picked[t] {
				kept = append(kept, t)
			}
		}
		r.Tables = kept
		if len(r.Tables) == 0 {
			empty[i] = true
		}
	}
	lvl.RemoveRuns(empty)
}

// ukOverlap reports whether the closed UK ranges [aMin,aMax] and
// [bMin,bMax] intersect.
func ukOverlap(aMin, aMax, bMin, bMax tablekey.UserKey) bool {
	return aMin <= bMax && bMin <= aMax
}

// runRange returns a run's overall UK bounds across all its tables.
func runRange(r *level.Run) (tablekey.UserKey, tablekey.UserKey) {
	min, max := r.Tables[0].Meta().MinKey.UK, r.Tables[0].Meta().MaxKey.UK
	for _, t := range r.Tables[1:] {
		if t.Meta().MinKey.UK < min {
			min = t.Meta().MinKey.UK
		}
		if t.Meta().MaxKey.UK > max {
			max = t.Meta().MaxKey.UK
		}
	}
	return min, max
}

// pickOverlappingGroup implements §4.8 Horizontal steps 1-2: try each run
// as the base, in random order, and return it plus every other run whose
// UK range overlaps it as soon as one such base is found. Falls back to
// every run if none overlap pairwise.
func pickOverlappingGroup(runs []*level.Run) []int {
	for _, bi := range shuffledIndices(len(runs)) {
		bMin, bMax := runRange(runs[bi])
		group := []int{bi}
		for j, r := range runs {
			if j == bi {
				continue
			}
			mn, mx := runRange(r)
			if ukOverlap(bMin, bMax, mn, mx) {
				group = append(group, j)
			}
		}
		if len(group) > 1 {
			return group
		}
	}
	all := make([]int, len(runs))
	for i := range all {
		all[i] = i
	}
	return all
}

// shuffledIndices returns 0..n-1 in a random order (Fisher-Yates).
func shuffledIndices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := fastrand.Intn(i + 1)
		idx[i], idx[j] = idx[j], idx[i]
	}
	return idx
}

// retentionFilter applies §4.8 step 5 over an already-merged, ascending
// source: for each UK, retain only the newest table key (the merge's
// first-encountered entry for that UK, since ties within a UK sort
// newest-seq-first per §3), dropping the rest. When dropTombstones is
// set (the compaction's target is the final level), a retained Delete is
// discarded instead of being emitted.
type retentionFilter struct {
	src            iter.TableKeyIterator
	dropTombstones bool
	pending        tablekey.TableKey
	havePending    bool
}

func newRetentionFilter(src iter.TableKeyIterator, dropTombstones bool) *retentionFilter {
	return &retentionFilter{src: src, dropTombstones: dropTombstones}
}

// Next satisfies sstable.KeySource.
func (f *retentionFilter) Next() (tablekey.TableKey, bool) {
	for {
		var cur tablekey.TableKey
		if f.havePending {
			cur = f.pending
			f.havePending = false
		} else {
			var ok bool
			cur, ok = f.src.Next()
			if !ok {
				return tablekey.TableKey{}, false
			}
		}

		for {
			next, ok := f.src.Next()
			if !ok {
				break
			}
			if next.UK != cur.UK {
				f.pending, f.havePending = next, true
				break
			}
			// Older version of the same UK: drop it, keep scanning.
		}

		if f.dropTombstones && cur.W == tablekey.Delete {
			continue
		}
		return cur, true
	}
}

// CheckLevelStates classifies every allocated level bottom-up, per
// §4.5/§5.9. The returned slice is indexed by level number.
func CheckLevelStates(t *tree.Tree) []level.State {
	levels := t.Levels()
	states := make([]level.State, len(levels))
	for i, l := range levels {
		states[i] = l.CheckState()
	}
	return states
}

// NextAction inspects states bottom-up and returns the first level
// needing attention and which compaction remedies it. ok is false if
// every level is Normal.
func NextAction(states []level.State) (levelNum int, horizontal bool, ok bool) {
	for i, s := range states {
		switch s {
		case level.ExceedRun:
			return i, true, true
		case level.ExceedSize:
			return i, false, true
		}
	}
	return 0, false, false
}
