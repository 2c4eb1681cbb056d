package store

import "sync/atomic"

// Stats describes the size and health of one store.
type Stats struct {
	Keys                 int
	DataSize             int64 // value log bytes on disk
	IndexSize            int64 // index file bytes on disk as of the last save
	TotalSize            int64
	LiveBytes            uint64 // bytes referenced by the index
	FragmentationPercent float64
	AvgValueSize         float64

	// Trie
	TrieNodes      int
	TrieEmptyNodes int

	// Counters since open
	Reads       uint64
	Writes      uint64
	Deletes     uint64
	Expired     uint64
	Compactions uint64
	CacheHits   uint64
	CacheMisses uint64
	CacheSize   int
}

// CompactStats reports the effect of one compaction.
type CompactStats struct {
	OldSize      int64
	NewSize      int64
	Saved        int64
	SavedPercent float64
	Dropped      int // expired entries removed before the rewrite
}

// StatsCollector counts operations on a store.
type StatsCollector struct {
	reads       uint64
	writes      uint64
	deletes     uint64
	expired     uint64
	compactions uint64
}

// IncrementReads atomically increments the read counter
func (s *StatsCollector) IncrementReads() {
	atomic.AddUint64(&s.reads, 1)
}

// AddWrites atomically adds n to the write counter
func (s *StatsCollector) AddWrites(n int) {
	atomic.AddUint64(&s.writes, uint64(n))
}

func (s *StatsCollector) IncrementDeletes() {
	atomic.AddUint64(&s.deletes, 1)
}

// AddExpired atomically adds n to the expired-entry counter
func (s *StatsCollector) AddExpired(n int) {
	atomic.AddUint64(&s.expired, uint64(n))
}

func (s *StatsCollector) IncrementCompactions() {
	atomic.AddUint64(&s.compactions, 1)
}

// fill copies the counters into st.
func (s *StatsCollector) fill(st *Stats) {
	st.Reads = atomic.LoadUint64(&s.reads)
	st.Writes = atomic.LoadUint64(&s.writes)
	st.Deletes = atomic.LoadUint64(&s.deletes)
	st.Expired = atomic.LoadUint64(&s.expired)
	st.Compactions = atomic.LoadUint64(&s.compactions)
}

// fragmentation returns the share of the value log not referenced by the
// index, as a percentage. An empty log has no fragmentation.
func fragmentation(live uint64, dataSize int64) float64 {
	if dataSize <= 0 {
		return 0
	}
	f := (1 - float64(live)/float64(dataSize)) * 100
	if f < 0 {
		return 0
	}
	return f
}
