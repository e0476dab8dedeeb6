// Package tree implements the vector of levels that anchors the whole
// engine (§4.5, §5.7): it grows lazily as data accumulates, up to a
// configured max_level, and answers point lookups and full-range scans
// by fanning out to every level. Grounded on the teacher's
// pkg/persistence/levels.go (LevelManager's level-vector shape), split
// out from level management proper now that pkg/level owns runs and
// per-level policy.
package tree

import (
	"fmt"

	"lsmtree/pkg/iter"
	"lsmtree/pkg/level"
	"lsmtree/pkg/tablekey"
)

// Config carries the parameters needed to size each level on demand
// (§4.5, §7): fanout between levels, run capacity per level, the
// memtable's byte capacity (level 0's size baseline), and the hard
// ceiling on how many levels may exist.
type Config struct {
	Fanout                int
	RunCapacity           int
	MemtableCapacityBytes int
	MaxLevel              int
}

// Tree is the vector of levels. Levels are created lazily: Level(n)
// allocates levels 0..n on first access, up to MaxLevel.
type Tree struct {
	cfg    Config
	levels []*level.Level
}

// New creates an empty tree; no levels exist until first touched.
func New(cfg Config) *Tree {
	return &Tree{cfg: cfg}
}

// Level returns level n, creating it (and any levels below it that don't
// yet exist) on first access. Returns an error if n exceeds MaxLevel.
func (t *Tree) Level(n int) (*level.Level, error) {
	if n >= t.cfg.MaxLevel {
		return nil, fmt.Errorf("tree: level %d exceeds max_level %d", n, t.cfg.MaxLevel)
	}
	for len(t.levels) <= n {
		num := len(t.levels)
		policy := level.Policy{
			RunCapacity:  t.cfg.RunCapacity,
			SizeCapacity: level.SizeCapacityForLevel(num, t.cfg.RunCapacity, t.cfg.MemtableCapacityBytes, t.cfg.Fanout),
		}
		t.levels = append(t.levels, level.New(num, policy))
	}
	return t.levels[n], nil
}

// Levels returns every level currently allocated, level 0 first.
func (t *Tree) Levels() []*level.Level {
	return t.levels
}

// MaxLevel returns the configured hard ceiling on tree depth: the
// highest valid level number is MaxLevel()-1 (§4.8 step 5's "final
// level" check).
func (t *Tree) MaxLevel() int {
	return t.cfg.MaxLevel
}

// Get searches every allocated level from 0 upward (L0 holds the newest
// data) and returns the first match.
func (t *Tree) Get(uk tablekey.UserKey) (tablekey.TableKey, bool, error) {
	for _, l := range t.levels {
		tk, ok, err := l.Get(uk)
		if err != nil {
			return tablekey.TableKey{}, false, err
		}
		if ok {
			return tk, true, nil
		}
	}
	return tablekey.TableKey{}, false, nil
}

// Iterator merges every level's iterator into one ascending stream
// (§5.8).
func (t *Tree) Iterator() iter.TableKeyIterator {
	sources := make([]iter.TableKeyIterator, len(t.levels))
	for i, l := range t.levels {
		sources[i] = l.Iterator()
	}
	return iter.NewMergeIterator(sources)
}
