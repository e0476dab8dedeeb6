// Package wal implements the append-only write-ahead log: fixed 17-byte
// table-key records, replayed in full on recovery (§5.4). Adapted from the
// teacher's pkg/wal/wal.go, which wrote length-prefixed key/value entries
// through an async listener+done-channel; this version keeps that async
// write pattern but swaps the variable-length record for the engine's
// fixed-width table key, and makes fsync policy configurable instead of
// unconditional.
package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"lsmtree/pkg/listener"
	"lsmtree/pkg/tablekey"
)

// Record is a single WAL entry: the table key as written to the memtable.
type Record struct {
	Seq tablekey.SeqNum
	Key tablekey.TableKey
}

// WAL is an append-only log of table keys backing a single memtable
// generation. Writes are funneled through an async listener so callers
// can batch acknowledgement without blocking on fsync individually.
type WAL struct {
	*listener.Listener[Record]

	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	filePath string
	sync     bool

	inputCh chan Record
	doneCh  chan tablekey.SeqNum
}

// New creates or reopens a WAL file at dir/wal.log. When sync is true,
// every record is fsync'd before being acknowledged on Done(); otherwise
// records are only flushed to the OS buffer cache (§5.4 sync policy).
func New(dir string, sync bool) (*WAL, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty WAL dir")
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	filePath := filepath.Join(dir, "wal.log")
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	w := &WAL{
		file:     file,
		writer:   bufio.NewWriter(file),
		filePath: filePath,
		sync:     sync,
		inputCh:  make(chan Record, 16),
		doneCh:   make(chan tablekey.SeqNum, 16),
	}
	w.Listener = listener.New(w.inputCh, w.writeFile, w.stop)
	return w, nil
}

// Append enqueues a record for async write; the caller should wait on
// Done() for the corresponding sequence number before acknowledging the
// write to its own caller.
func (w *WAL) Append(rec Record) {
	w.inputCh <- rec
}

func (w *WAL) writeFile(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var buf [tablekey.Size]byte
	tablekey.Encode(rec.Key, buf[:])
	if _, err := w.writer.Write(buf[:]); err != nil {
		return fmt.Errorf("failed to write WAL record: %w", err)
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL: %w", err)
	}
	if w.sync {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync WAL: %w", err)
		}
	}

	w.doneCh <- rec.Seq
	return nil
}

// Done signals the sequence number of each record as it is durable
// (fsync'd, or merely flushed, depending on sync policy).
func (w *WAL) Done() <-chan tablekey.SeqNum {
	return w.doneCh
}

// Replay reads every record from the log in order and invokes callback
// for each, used to rebuild a memtable on recovery (§5.4, §5.11).
func (w *WAL) Replay(callback func(Record) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL before replay: %w", err)
	}

	file, err := os.Open(w.filePath)
	if err != nil {
		return fmt.Errorf("failed to open WAL for reading: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			slog.Warn("failed to close WAL read file", "error", cerr)
		}
	}()

	reader := bufio.NewReader(file)
	var buf [tablekey.Size]byte
	for {
		if _, err := io.ReadFull(reader, buf[:]); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				// Truncated trailing record from a crash mid-write; stop here.
				break
			}
			return fmt.Errorf("failed to read WAL record: %w", err)
		}
		tk, err := tablekey.Decode(buf[:])
		if err != nil {
			return fmt.Errorf("failed to decode WAL record: %w", err)
		}
		if err := callback(Record{Seq: tk.Seq, Key: tk}); err != nil {
			return fmt.Errorf("WAL replay callback failed: %w", err)
		}
	}
	return nil
}

// Truncate discards the log's contents, used after a successful minor
// compaction drains the memtable the log was backing.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate WAL: %w", err)
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek WAL after truncate: %w", err)
	}
	w.writer = bufio.NewWriter(w.file)
	return nil
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer != nil {
		if err := w.writer.Flush(); err != nil {
			return fmt.Errorf("failed to flush WAL on close: %w", err)
		}
		w.writer = nil
	}
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("failed to close WAL file: %w", err)
		}
		w.file = nil
	}
	return nil
}

func (w *WAL) stop() {
	close(w.inputCh)
	close(w.doneCh)
}
