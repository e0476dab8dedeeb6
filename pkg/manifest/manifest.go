// Package manifest persists the tree's durable table catalog: which
// SSTable files exist, which level/run they belong to, and the next
// sequence/file IDs to allocate (§5.10). Grounded on the teacher's
// pkg/persistance/manifest.go (JSON-marshaled ManifestData, per-level
// TableInfo slices, Load/Save), with two additions the spec requires
// that the teacher's version lacked: an exclusive directory lock so two
// processes can't open the same store concurrently, and atomic
// write-temp+rename so a crash mid-save can never leave a torn manifest
// on disk.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"lsmtree/pkg/dberrors"
)

// TableInfo describes one SSTable file's placement in the tree.
type TableInfo struct {
	FileID   uint64 `json:"file_id"`
	Path     string `json:"path"`
	Level    int    `json:"level"`
	RunIndex int    `json:"run_index"`
	SizeByte int64  `json:"size_bytes"`
}

// Data is the full snapshot persisted to disk: the manifest is rewritten
// whole on every Save rather than as incremental edits (§5.10), which
// keeps recovery a single parse instead of replaying a log of edits.
type Data struct {
	Version     int         `json:"version"`
	NextFileID  uint64      `json:"next_file_id"`
	NextSeq     uint64      `json:"next_seq"`
	Tables      []TableInfo `json:"tables"`
}

const currentVersion = 1

// Manifest owns the on-disk MANIFEST file and the directory lock
// protecting it.
type Manifest struct {
	mu       sync.Mutex
	dir      string
	path     string
	data     Data
	dirLock  *flock.Flock
}

// Open acquires an exclusive lock on dir (failing with
// dberrors.ErrLockHeld if another process already holds it) and loads
// the existing manifest, or initializes a fresh one if none exists.
func Open(dir string) (*Manifest, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %v", dberrors.ErrIOError, err)
	}

	lockPath := filepath.Join(dir, "LOCK")
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: acquire lock: %v", dberrors.ErrIOError, err)
	}
	if !locked {
		return nil, dberrors.ErrLockHeld
	}

	m := &Manifest{
		dir:     dir,
		path:    filepath.Join(dir, "MANIFEST"),
		dirLock: fl,
		data: Data{
			Version:    currentVersion,
			NextFileID: 1,
			NextSeq:    1,
		},
	}

	if _, err := os.Stat(m.path); err == nil {
		if err := m.load(); err != nil {
			fl.Unlock()
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		fl.Unlock()
		return nil, fmt.Errorf("%w: stat manifest: %v", dberrors.ErrIOError, err)
	} else if err := m.save(); err != nil {
		fl.Unlock()
		return nil, err
	}

	return m, nil
}

func (m *Manifest) load() error {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("%w: read manifest: %v", dberrors.ErrIOError, err)
	}
	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("%w: parse manifest: %v", dberrors.ErrCorruption, err)
	}
	if data.Version != currentVersion {
		return fmt.Errorf("%w: manifest version %d, want %d", dberrors.ErrInvalidFormat, data.Version, currentVersion)
	}
	m.data = data
	return nil
}

// save writes the full snapshot atomically: marshal to a uniquely named
// temp file in the same directory, fsync it, then rename over the live
// MANIFEST path. Rename is atomic on POSIX filesystems, so a crash
// between the temp write and the rename leaves the old manifest intact.
func (m *Manifest) save() error {
	raw, err := json.MarshalIndent(m.data, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal manifest: %v", dberrors.ErrInvalidArgument, err)
	}

	tmpPath := filepath.Join(m.dir, fmt.Sprintf("MANIFEST.%s.tmp", uuid.NewString()))
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("%w: create temp manifest: %v", dberrors.ErrIOError, err)
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: write temp manifest: %v", dberrors.ErrIOError, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: sync temp manifest: %v", dberrors.ErrIOError, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: close temp manifest: %v", dberrors.ErrIOError, err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: rename temp manifest: %v", dberrors.ErrIOError, err)
	}
	return nil
}

// Save persists the current in-memory state, replacing the manifest on
// disk in full.
func (m *Manifest) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save()
}

// NextFileID allocates the next SSTable file id. The advanced counter
// reaches disk on the next Save.
func (m *Manifest) NextFileID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.data.NextFileID
	m.data.NextFileID++
	return id
}

// NextSeq allocates the next write sequence number.
func (m *Manifest) NextSeq() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq := m.data.NextSeq
	m.data.NextSeq++
	return seq
}

// PersistedSeq reports the sequence number recovery should resume from,
// without allocating one (§5.11 Open).
func (m *Manifest) PersistedSeq() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.NextSeq
}

// AdvanceSeqTo records that seq has been allocated in memory (e.g. by an
// in-process clock) so a later Save persists a NextSeq past it.
func (m *Manifest) AdvanceSeqTo(seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seq >= m.data.NextSeq {
		m.data.NextSeq = seq + 1
	}
}

// AddTable records a newly written SSTable's placement.
func (m *Manifest) AddTable(info TableInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.Tables = append(m.data.Tables, info)
}

// ReplaceTables atomically swaps the set of tables belonging to a
// compaction's inputs for its outputs, used after Horizontal/Vertical
// compaction (§5.9) completes. Minor compaction uses AddTable instead.
func (m *Manifest) ReplaceTables(removeFileIDs map[uint64]bool, add []TableInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.data.Tables[:0]
	for _, t := range m.data.Tables {
		if !removeFileIDs[t.FileID] {
			kept = append(kept, t)
		}
	}
	m.data.Tables = append(kept, add...)
}

// Tables returns a copy of the current table catalog.
func (m *Manifest) Tables() []TableInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TableInfo, len(m.data.Tables))
	copy(out, m.data.Tables)
	return out
}

// SweepOrphans removes any *.sst file under dir that the manifest does
// not reference, and any leftover MANIFEST.*.tmp files — both are the
// product of a crash between writing a file and recording it (§5.10
// recovery).
func (m *Manifest) SweepOrphans() error {
	m.mu.Lock()
	known := make(map[string]bool, len(m.data.Tables))
	for _, t := range m.data.Tables {
		known[filepath.Base(t.Path)] = true
	}
	m.mu.Unlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("%w: read data dir: %v", dberrors.ErrIOError, err)
	}
	for _, e := range entries {
		name := e.Name()
		switch {
		case filepath.Ext(name) == ".tmp":
			os.Remove(filepath.Join(m.dir, name))
		case filepath.Ext(name) == ".sst" && !known[name]:
			os.Remove(filepath.Join(m.dir, name))
		}
	}
	return nil
}

// Close releases the directory lock.
func (m *Manifest) Close() error {
	if m.dirLock != nil {
		return m.dirLock.Unlock()
	}
	return nil
}
