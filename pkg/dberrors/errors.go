// Package dberrors defines the engine's error taxonomy (§7).
package dberrors

import "errors"

var (
	// ErrNotFound names a missing or deleted key. DB.Get does not return
	// it: Get reports such a key as ok=false with a nil error.
	ErrNotFound = errors.New("lsmdb: not found")
	// ErrClosed is returned by any operation issued after Close.
	ErrClosed = errors.New("lsmdb: closed")
	// ErrInvalidArgument flags a malformed request: an out-of-range key,
	// an empty range, a non-positive capacity.
	ErrInvalidArgument = errors.New("lsmdb: invalid argument")
	// ErrInvalidFormat flags a decode failure: bad footer magic, a
	// truncated SSTable, a corrupt manifest, an out-of-range write type.
	ErrInvalidFormat = errors.New("lsmdb: invalid format")
	// ErrIOError wraps a disk read/write/fsync failure on the write path.
	ErrIOError = errors.New("lsmdb: io error")
	// ErrLockHeld is returned by Open when the database directory is
	// already held by another process.
	ErrLockHeld = errors.New("lsmdb: lock held")
	// ErrCorruption flags a manifest referencing a missing file, or an
	// SSTable footer whose reported bounds don't match its contents.
	// Fatal to Open.
	ErrCorruption = errors.New("lsmdb: corruption")
	// ErrCompactionRunning guards against concurrent compactions, which
	// the single-threaded cooperative model never allows to overlap.
	ErrCompactionRunning = errors.New("lsmdb: compaction running")
)
