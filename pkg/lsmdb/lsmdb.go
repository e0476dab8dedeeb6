// Package lsmdb is the engine facade: Open/Put/Delete/Get/Range/Close
// over the memtable, WAL, tree, and manifest (§5.11). Grounded on the
// teacher's pkg/store/store.go (the overall Open/restore-from-journal/
// background-flush shape) and pkg/db/search.go (Get/Range semantics),
// generalized from byte-slice keys/values to the fixed-width table key
// model and from the teacher's background flusher channel to an
// explicit minor-compaction call triggered on memtable overload.
package lsmdb

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"lsmtree/pkg/bloomfilter"
	"lsmtree/pkg/clock"
	"lsmtree/pkg/compaction"
	"lsmtree/pkg/config"
	"lsmtree/pkg/dberrors"
	"lsmtree/pkg/iter"
	"lsmtree/pkg/level"
	"lsmtree/pkg/manifest"
	"lsmtree/pkg/memtable"
	"lsmtree/pkg/sstable"
	"lsmtree/pkg/tablekey"
	"lsmtree/pkg/tree"
	"lsmtree/pkg/wal"
)

// DB is a single opened store rooted at one data directory. Exactly one
// process may hold it open at a time (enforced by the manifest's
// directory lock).
type DB struct {
	cfg config.Config

	mu   sync.RWMutex // guards mt and the compaction-in-progress flag
	mt   *memtable.Memtable
	log  *wal.WAL
	tr   *tree.Tree
	mf   *manifest.Manifest
	eng  *compaction.Engine
	clk  *clock.AtomicClock

	compacting bool
	closed     bool
}

// Open opens (creating if absent) the store at cfg.Persistence.RootPath,
// replaying the WAL and loading the manifest's table catalog (§5.11).
func Open(cfg config.Config) (*DB, error) {
	if err := config.Validate(&cfg); err != nil {
		return nil, err
	}

	mf, err := manifest.Open(cfg.Persistence.RootPath)
	if err != nil {
		return nil, err
	}
	if err := mf.SweepOrphans(); err != nil {
		slog.Warn("orphan sweep failed", "error", err)
	}

	tr := tree.New(tree.Config{
		Fanout:                cfg.Compaction.Fanout,
		RunCapacity:           cfg.Compaction.RunCapacity,
		MemtableCapacityBytes: cfg.Memtable.Capacity * tablekey.Size,
		MaxLevel:              cfg.Compaction.MaxLevel,
	})
	cache := sstable.NewLRUCache(cfg.Persistence.CacheCapacity)
	if err := recoverTree(tr, mf, cfg, cache); err != nil {
		mf.Close()
		return nil, err
	}

	log, err := wal.New(cfg.Persistence.RootPath, cfg.WAL.Sync)
	if err != nil {
		mf.Close()
		return nil, err
	}

	clk := clock.NewAtomic(mf.PersistedSeq())
	mt := memtable.New(cfg.Memtable.Capacity)
	if err := log.Replay(func(rec wal.Record) error {
		if rec.Key.Seq >= clk.Val() {
			clk.Set(rec.Key.Seq + 1)
		}
		mt.Insert(rec.Key)
		return nil
	}); err != nil {
		log.Close()
		mf.Close()
		return nil, err
	}

	db := &DB{
		cfg: cfg,
		mt:  mt,
		log: log,
		tr:  tr,
		mf:  mf,
		clk: clk,
		eng: &compaction.Engine{
			Tree:     tr,
			Manifest: mf,
			Cache:    cache,
			WriteOpts: sstable.WriteOptions{
				Dir:            cfg.Persistence.RootPath,
				BlockSize:      cfg.Persistence.BlockSize,
				SSTableSizeCap: cfg.Persistence.SSTableSizeCap,
				Bloom:          bloomfilter.Params{P: cfg.BloomFilter.P, K: cfg.BloomFilter.K, M: cfg.BloomFilter.M, N: cfg.BloomFilter.N},
				NextFileID:     mf.NextFileID,
			},
		},
	}

	db.log.Start(context.Background())
	return db, nil
}

// recoverTree opens every SSTable the manifest references and rebuilds
// each level's runs, grouping tables by (Level, RunIndex) and ordering
// tables within a run by MinKey.
func recoverTree(tr *tree.Tree, mf *manifest.Manifest, cfg config.Config, cache sstable.BlockCache) error {
	bloom := bloomfilter.Params{P: cfg.BloomFilter.P, K: cfg.BloomFilter.K, M: cfg.BloomFilter.M, N: cfg.BloomFilter.N}

	type runKey struct {
		level, run int
	}
	grouped := map[runKey][]*sstable.Handle{}
	order := map[int][]int{} // level -> run indices in first-seen order

	for _, info := range mf.Tables() {
		h, err := sstable.Open(info.Path, cfg.Persistence.BlockSize, bloom, cache)
		if err != nil {
			return fmt.Errorf("%w: reopen sstable %s: %v", dberrors.ErrCorruption, info.Path, err)
		}
		h.SetFileID(info.FileID)
		rk := runKey{info.Level, info.RunIndex}
		if _, seen := grouped[rk]; !seen {
			order[info.Level] = append(order[info.Level], info.RunIndex)
		}
		grouped[rk] = append(grouped[rk], h)
	}

	for levelNum, runIndices := range order {
		lvl, err := tr.Level(levelNum)
		if err != nil {
			return err
		}
		for _, ri := range runIndices {
			tables := grouped[runKey{levelNum, ri}]
			lvl.AddRun(level.NewRun(tables))
		}
	}
	return nil
}

// Put writes uk=uv, allocating a fresh sequence number for the write.
func (db *DB) Put(uk tablekey.UserKey, uv tablekey.UserValue) error {
	return db.write(tablekey.TableKey{UK: uk, W: tablekey.Put, UV: uv})
}

// Delete records a tombstone for uk.
func (db *DB) Delete(uk tablekey.UserKey) error {
	return db.write(tablekey.TableKey{UK: uk, W: tablekey.Delete})
}

func (db *DB) write(tk tablekey.TableKey) error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return dberrors.ErrClosed
	}
	tk.Seq = tablekey.SeqNum(db.clk.Next())

	db.log.Append(wal.Record{Seq: tk.Seq, Key: tk})
	<-db.log.Done()

	err := db.mt.Insert(tk)
	overloaded := err != nil
	mt := db.mt
	if overloaded {
		db.mt = memtable.New(db.cfg.Memtable.Capacity)
	}
	db.mu.Unlock()

	if overloaded {
		if cerr := db.runMinorCompaction(mt); cerr != nil {
			slog.Error("minor compaction failed", "error", cerr)
			return cerr
		}
	}
	return nil
}

func (db *DB) runMinorCompaction(mt *memtable.Memtable) error {
	db.mu.Lock()
	if db.compacting {
		db.mu.Unlock()
		return dberrors.ErrCompactionRunning
	}
	db.compacting = true
	db.mu.Unlock()

	defer func() {
		db.mu.Lock()
		db.compacting = false
		db.mu.Unlock()
	}()

	if err := compaction.Minor(db.eng, mt); err != nil {
		return err
	}
	if err := db.log.Truncate(); err != nil {
		return err
	}
	for {
		if _, _, ok := compaction.NextAction(compaction.CheckLevelStates(db.tr)); !ok {
			return nil
		}
		if err := db.maybeCompact(); err != nil {
			return err
		}
	}
}

// maybeCompact runs at most one remedial compaction per call, following
// the bottom-up check_level_state scan (§4.5, §5.9). runMinorCompaction
// calls it repeatedly until every level is Normal.
func (db *DB) maybeCompact() error {
	states := compaction.CheckLevelStates(db.tr)
	levelNum, horizontal, ok := compaction.NextAction(states)
	if !ok {
		return nil
	}
	if horizontal {
		return compaction.Horizontal(db.eng, levelNum)
	}
	return compaction.Vertical(db.eng, levelNum)
}

// Get returns the current value for uk, or ok=false if it is absent or
// has been deleted. The memtable is checked first (newest data), then
// each tree level in order.
func (db *DB) Get(uk tablekey.UserKey) (tablekey.UserValue, bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return 0, false, dberrors.ErrClosed
	}

	lookup := tablekey.LookupKey{UK: uk, Seq: tablekey.SeqNum(db.clk.Val())}
	if tk, ok := db.mt.Get(lookup); ok {
		if tk.W == tablekey.Delete {
			return 0, false, nil
		}
		return tk.UV, true, nil
	}

	tk, ok, err := db.tr.Get(uk)
	if err != nil {
		return 0, false, err
	}
	if !ok || tk.W == tablekey.Delete {
		return 0, false, nil
	}
	return tk.UV, true, nil
}

// Entry is one visible (UK, UV) pair returned by Range.
type Entry struct {
	UK tablekey.UserKey
	UV tablekey.UserValue
}

// Range returns every visible, non-deleted entry with lo <= UK < hi, in
// ascending key order. It merges the memtable and every tree level so
// the most recent write for a given key always wins, mirroring Get's
// precedence (§5.11).
func (db *DB) Range(lo, hi tablekey.UserKey) ([]Entry, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, dberrors.ErrClosed
	}

	sources := []iter.TableKeyIterator{db.mt.Iterator()}
	for _, l := range db.tr.Levels() {
		sources = append(sources, l.Iterator())
	}
	merged := iter.NewMergeIterator(sources)

	start := tablekey.TableKey{UK: lo, Seq: tablekey.SeqNum(^uint64(0)), W: tablekey.Empty}
	merged.Seek(start)

	var out []Entry
	var lastUK tablekey.UserKey
	haveLast := false
	for {
		tk, ok := merged.Next()
		if !ok || tk.UK >= hi {
			break
		}
		if haveLast && tk.UK == lastUK {
			continue // already took the newest visible entry for this key
		}
		lastUK, haveLast = tk.UK, true
		if tk.W == tablekey.Delete {
			continue
		}
		out = append(out, Entry{UK: tk.UK, UV: tk.UV})
	}
	return out, nil
}

// Close flushes the current memtable's WAL state and releases the
// manifest's directory lock. It does not force a final minor compaction:
// recovery replays the WAL on next Open, which covers it.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return dberrors.ErrClosed
	}
	db.closed = true
	db.mu.Unlock()

	db.log.Stop()
	if err := db.log.Close(); err != nil {
		return err
	}
	db.mf.AdvanceSeqTo(uint64(db.clk.Val()))
	if err := db.mf.Save(); err != nil {
		return err
	}
	return db.mf.Close()
}
