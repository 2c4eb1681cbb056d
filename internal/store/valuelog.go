package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// valueLog is the append-only data file of a store. Payloads are stored back
// to back with no framing; their offsets and lengths live only in the index.
//
// Appends must happen between lock and unlock so that the end-of-file offset
// a writer observes is the one its bytes land at, even with other processes
// appending to the same file.
type valueLog struct {
	path       string
	f          *os.File
	syncWrites bool
}

// openLogFile opens path for reading and appending. Tests replace it to
// simulate failures.
var openLogFile = func(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
}

func openValueLog(path string, syncWrites bool) (*valueLog, error) {
	f, err := openLogFile(path)
	if err != nil {
		return nil, fmt.Errorf("open value log %s: %w", path, err)
	}
	return &valueLog{path: path, f: f, syncWrites: syncWrites}, nil
}

// errLost is returned once a failed compaction swap has left the value log
// without an open file.
func (l *valueLog) errLost() error {
	return fmt.Errorf("%w: value log %s was not reopened after compaction; reopen the store", ErrNotOpen, l.path)
}

// Size returns the current file size.
func (l *valueLog) Size() (int64, error) {
	if l.f == nil {
		return 0, l.errLost()
	}
	fi, err := l.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat value log %s: %w", l.path, err)
	}
	return fi.Size(), nil
}

func (l *valueLog) lock() error {
	if l.f == nil {
		return l.errLost()
	}
	if err := lockFile(l.f); err != nil {
		if errors.Is(err, ErrLockUnavailable) {
			return err
		}
		return fmt.Errorf("lock value log %s: %w", l.path, err)
	}
	return nil
}

func (l *valueLog) unlock() error {
	if l.f == nil {
		return nil
	}
	return unlockFile(l.f)
}

// Append writes payloads at the end of the file in one write and returns the
// offset each one starts at. The caller must hold the lock.
func (l *valueLog) Append(payloads ...[]byte) ([]uint64, error) {
	if l.f == nil {
		return nil, l.errLost()
	}
	end, err := l.f.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("seek value log %s: %w", l.path, err)
	}

	offsets := make([]uint64, len(payloads))
	total := 0
	for i, p := range payloads {
		offsets[i] = uint64(end) + uint64(total)
		total += len(p)
	}

	var buf []byte
	if len(payloads) == 1 {
		buf = payloads[0]
	} else {
		buf = make([]byte, 0, total)
		for _, p := range payloads {
			buf = append(buf, p...)
		}
	}
	if _, err := l.f.Write(buf); err != nil {
		return nil, fmt.Errorf("append value log %s: %w", l.path, err)
	}
	if l.syncWrites {
		if err := l.f.Sync(); err != nil {
			return nil, fmt.Errorf("sync value log %s: %w", l.path, err)
		}
	}
	return offsets, nil
}

// Read returns length bytes at offset. Asking for bytes past the end of the
// file returns ErrCorrupted.
func (l *valueLog) Read(offset, length uint64) ([]byte, error) {
	size, err := l.Size()
	if err != nil {
		return nil, err
	}
	if offset > uint64(size) || length > uint64(size)-offset {
		return nil, fmt.Errorf("%w: entry [%d,+%d) beyond %s size %d", ErrCorrupted, offset, length, l.path, size)
	}
	buf := make([]byte, length)
	n, err := l.f.ReadAt(buf, int64(offset))
	if err != nil && !(errors.Is(err, io.EOF) && uint64(n) == length) {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: short read at %d in %s", ErrCorrupted, offset, l.path)
		}
		return nil, fmt.Errorf("read value log %s: %w", l.path, err)
	}
	return buf, nil
}

// rewrite copies the byte ranges of records, in order, into a fresh file and
// swaps it in place of the current one. It returns the records' entries with
// their new offsets and the new file size. Entries are non-nil whenever the
// swap happened, even if reopening the new file then failed.
func (l *valueLog) rewrite(records []IndexRecord) ([]IndexEntry, int64, error) {
	size, err := l.Size()
	if err != nil {
		return nil, 0, err
	}

	tmpPath := l.path + ".compact"
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, 0, fmt.Errorf("create %s: %w", tmpPath, err)
	}
	fail := func(err error) ([]IndexEntry, int64, error) {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, 0, err
	}

	bw := bufio.NewWriterSize(tmp, 1<<20)
	entries := make([]IndexEntry, len(records))
	var pos uint64
	for i, r := range records {
		e := r.Entry
		if e.Offset > uint64(size) || e.Length > uint64(size)-e.Offset {
			return fail(fmt.Errorf("%w: key %q [%d,+%d) beyond size %d", ErrCorrupted, r.Key, e.Offset, e.Length, size))
		}
		if _, err := io.Copy(bw, io.NewSectionReader(l.f, int64(e.Offset), int64(e.Length))); err != nil {
			return fail(fmt.Errorf("copy key %q: %w", r.Key, err))
		}
		e.Offset = pos
		entries[i] = e
		pos += e.Length
	}
	if err := bw.Flush(); err != nil {
		return fail(fmt.Errorf("flush %s: %w", tmpPath, err))
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("sync %s: %w", tmpPath, err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, 0, fmt.Errorf("close %s: %w", tmpPath, err)
	}

	// Windows cannot rename over an open file.
	unlockFile(l.f)
	if err := l.f.Close(); err != nil {
		os.Remove(tmpPath)
		// Keep the old file in service; nil if even that fails.
		l.f, _ = openLogFile(l.path)
		return nil, 0, fmt.Errorf("close value log %s: %w", l.path, err)
	}
	renameErr := os.Rename(tmpPath, l.path)
	f, err := openLogFile(l.path)
	if err != nil {
		l.f = nil
		err = fmt.Errorf("reopen value log %s: %w", l.path, err)
		if renameErr != nil {
			os.Remove(tmpPath)
			return nil, 0, err
		}
		// The compacted file is in place; callers must still adopt entries.
		return entries, int64(pos), err
	}
	l.f = f
	if renameErr != nil {
		os.Remove(tmpPath)
		return nil, 0, fmt.Errorf("rename %s: %w", tmpPath, renameErr)
	}
	// The swap is done; a writer that grabs the new file first only delays
	// the caller's unlock.
	_ = l.lock()
	return entries, int64(pos), nil
}

func (l *valueLog) Close() error {
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
