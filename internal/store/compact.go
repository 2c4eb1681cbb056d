package store

import (
	"fmt"
	"time"
)

// Compact rewrites the value log so it holds only the bytes the index
// references, in index order starting at offset 0, then saves the index.
//
// Compaction holds the same locks as writes for its whole duration, so
// concurrent Set calls wait (or fail with ErrLockUnavailable in another
// process) instead of appending to the file being replaced.
func (s *Store) Compact() (CompactStats, error) {
	return s.compact(s.compactDropsExpired)
}

// CleanupAndCompact removes expired entries and then compacts, under one
// lock acquisition.
func (s *Store) CleanupAndCompact() (CompactStats, error) {
	return s.compact(true)
}

func (s *Store) compact(dropExpired bool) (CompactStats, error) {
	s.swapMu.Lock()
	defer s.swapMu.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return CompactStats{}, fmt.Errorf("%w: %q", ErrNotOpen, s.name)
	}
	if err := s.vlog.lock(); err != nil {
		return CompactStats{}, err
	}
	defer s.vlog.unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	var st CompactStats
	if dropExpired {
		st.Dropped = s.cleanupLocked()
	}

	oldSize, err := s.vlog.Size()
	if err != nil {
		return CompactStats{}, err
	}

	records := s.index.Records()
	entries, newSize, err := s.vlog.rewrite(records)
	if entries != nil {
		for i, r := range records {
			s.index.update(r.Key, entries[i])
		}
	}
	if err != nil {
		if entries != nil {
			// The file was swapped, so the saved index must describe it.
			if serr := s.saveIndexLocked(); serr != nil {
				s.log.Error().Err(serr).Msg("save index after failed compaction")
			}
		}
		s.log.Error().Err(err).Msg("compaction failed")
		return CompactStats{}, fmt.Errorf("compact %q: %w", s.name, err)
	}
	// Keys are unchanged; rebuilding only drops nodes emptied by deletes.
	freed := s.trie.Prune()

	st.OldSize = oldSize
	st.NewSize = newSize
	st.Saved = oldSize - newSize
	if oldSize > 0 {
		st.SavedPercent = float64(st.Saved) / float64(oldSize) * 100
	}
	s.stats.IncrementCompactions()

	if err := s.saveIndexLocked(); err != nil {
		return st, fmt.Errorf("save index after compaction: %w", err)
	}

	s.log.Info().
		Int64("old_size", st.OldSize).
		Int64("new_size", st.NewSize).
		Float64("saved_pct", st.SavedPercent).
		Int("dropped", st.Dropped).
		Int("trie_freed", freed).
		Dur("dur", time.Since(start)).
		Msg("compacted store")
	return st, nil
}
