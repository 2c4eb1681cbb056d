package store

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/olivier-ls/binstore/internal/codec"
	"github.com/olivier-ls/binstore/internal/trie"
)

// Store is one open named store: a value log, its index and a prefix trie
// over the index keys.
//
// Mutations are serialized by writeMu; appends additionally hold the value
// log's advisory lock so that writers in other processes cannot interleave.
// Readers only take mu for reading and may observe the index either before or
// after a concurrent write.
//
// swapMu guards the value log's file handle: Compact and close take it
// exclusively because they replace or release the file, while Each holds it
// shared to read payloads outside mu. Lock order is swapMu, writeMu, the file
// lock, then mu.
type Store struct {
	name      string
	dataPath  string
	indexPath string

	codec               codec.Codec
	clock               func() time.Time
	compactDropsExpired bool
	log                 zerolog.Logger

	swapMu  sync.RWMutex
	writeMu sync.Mutex

	mu     sync.RWMutex
	vlog   *valueLog
	index  *Index
	trie   *trie.Trie
	closed bool

	cache *ValueCache
	stats StatsCollector
}

func openStore(name, dataPath, indexPath string, cfg Config, log zerolog.Logger) (*Store, error) {
	res, err := ReadIndexFile(indexPath)
	if err != nil {
		return nil, err
	}

	vlog, err := openValueLog(dataPath, cfg.SyncWrites)
	if err != nil {
		return nil, err
	}

	idx := IndexFromRecords(res.Records)
	s := &Store{
		name:                name,
		dataPath:            dataPath,
		indexPath:           indexPath,
		codec:               cfg.Codec,
		clock:               cfg.Clock,
		compactDropsExpired: cfg.CompactDropsExpired,
		log:                 log,
		vlog:                vlog,
		index:               idx,
		trie:                trie.FromKeys(idx.Keys()),
		cache:               NewValueCache(cfg.CacheEntries),
	}

	if res.Truncated {
		log.Warn().Str("index", indexPath).Msg("dropped truncated record at end of index")
	}
	log.Info().
		Str("format", res.Format.String()).
		Int("keys", idx.Len()).
		Msg("opened store")
	return s, nil
}

// Name returns the store name.
func (s *Store) Name() string {
	return s.name
}

// Codec returns the codec values are encoded with.
func (s *Store) Codec() codec.Codec {
	return s.codec
}

func (s *Store) now() int64 {
	return s.clock().Unix()
}

// expiresAt converts a TTL into an absolute expiry. TTLs are rounded up to
// whole seconds; ttl <= 0 means no expiry.
func expiresAt(now int64, ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return now + int64((ttl+time.Second-1)/time.Second)
}

// Set stores value under key. A positive ttl makes the entry expire after
// that long. Overwritten bytes stay in the value log until Compact.
func (s *Store) Set(key string, value any, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	payload, err := s.codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return s.write([]string{key}, [][]byte{payload}, ttl)
}

// SetRaw stores an already encoded payload under key, bypassing the codec.
func (s *Store) SetRaw(key string, payload []byte, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	return s.write([]string{key}, [][]byte{payload}, ttl)
}

// SetMultiple stores every item with one lock acquisition and one write to
// the value log. Items are written in key order. Nothing is written if any
// value fails to encode.
func (s *Store) SetMultiple(items map[string]any, ttl time.Duration) error {
	keys := make([]string, 0, len(items))
	for k := range items {
		if k == "" {
			return ErrEmptyKey
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.closed {
			return fmt.Errorf("%w: %q", ErrNotOpen, s.name)
		}
		return nil
	}
	sort.Strings(keys)

	payloads := make([][]byte, len(keys))
	for i, k := range keys {
		p, err := s.codec.Marshal(items[k])
		if err != nil {
			return fmt.Errorf("encode %q: %w", k, err)
		}
		payloads[i] = p
	}
	return s.write(keys, payloads, ttl)
}

// write appends payloads and records them in the index under one lock.
func (s *Store) write(keys []string, payloads [][]byte, ttl time.Duration) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return fmt.Errorf("%w: %q", ErrNotOpen, s.name)
	}

	if err := s.vlog.lock(); err != nil {
		s.log.Warn().Err(err).Msg("value log lock")
		return err
	}
	defer s.vlog.unlock()

	offsets, err := s.vlog.Append(payloads...)
	if err != nil {
		return err
	}

	now := s.now()
	exp := expiresAt(now, ttl)

	s.mu.Lock()
	for i, key := range keys {
		isNew := s.index.Put(key, IndexEntry{
			Offset:    offsets[i],
			Length:    uint64(len(payloads[i])),
			CreatedAt: now,
			ExpiresAt: exp,
		})
		if isNew {
			s.trie.Insert(key)
		}
		s.cache.Invalidate(key)
	}
	s.mu.Unlock()

	s.stats.AddWrites(len(keys))
	return nil
}

// payload returns the stored bytes of key. Expired entries are deleted and
// reported as absent. The returned slice may be shared with the cache.
func (s *Store) payload(key string) ([]byte, bool, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, false, fmt.Errorf("%w: %q", ErrNotOpen, s.name)
	}
	e, ok := s.index.Get(key)
	if !ok {
		s.mu.RUnlock()
		return nil, false, nil
	}
	if e.Expired(s.now()) {
		s.mu.RUnlock()
		s.expire(key)
		return nil, false, nil
	}
	if data, ok := s.cache.Get(key); ok {
		s.mu.RUnlock()
		s.stats.IncrementReads()
		return data, true, nil
	}
	data, err := s.vlog.Read(e.Offset, e.Length)
	if err != nil {
		s.mu.RUnlock()
		return nil, false, fmt.Errorf("read %q: %w", key, err)
	}
	// Filled under the read lock so a concurrent write cannot be shadowed.
	s.cache.Put(key, data)
	s.mu.RUnlock()

	s.stats.IncrementReads()
	return data, true, nil
}

// Get decodes the value stored under key into out and reports whether the key
// was found. Expired keys are deleted on the way and reported as absent.
func (s *Store) Get(key string, out any) (bool, error) {
	data, ok, err := s.payload(key)
	if err != nil || !ok {
		return false, err
	}
	if err := s.codec.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("%w %q: %w", ErrDecode, key, err)
	}
	return true, nil
}

// GetRaw returns a copy of the encoded bytes stored under key.
func (s *Store) GetRaw(key string) ([]byte, bool, error) {
	data, ok, err := s.payload(key)
	if err != nil || !ok {
		return nil, false, err
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

// GetMultiple looks up every key and returns the values found, decoded as T.
// Missing and expired keys are left out of the result.
func GetMultiple[T any](s *Store, keys []string) (map[string]T, error) {
	out := make(map[string]T, len(keys))
	for _, k := range keys {
		var v T
		ok, err := s.Get(k, &v)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}

// Exists reports whether key holds a value that has not expired.
func (s *Store) Exists(key string) (bool, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return false, fmt.Errorf("%w: %q", ErrNotOpen, s.name)
	}
	e, ok := s.index.Get(key)
	expired := ok && e.Expired(s.now())
	s.mu.RUnlock()

	if expired {
		s.expire(key)
		return false, nil
	}
	return ok, nil
}

// Delete removes key from the index and reports whether it existed. The value
// bytes stay in the value log until Compact.
func (s *Store) Delete(key string) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, fmt.Errorf("%w: %q", ErrNotOpen, s.name)
	}
	if !s.removeLocked(key) {
		return false, nil
	}
	s.stats.IncrementDeletes()
	return true, nil
}

// removeLocked drops key from the index, trie and cache. Callers hold mu.
func (s *Store) removeLocked(key string) bool {
	if !s.index.Remove(key) {
		return false
	}
	s.trie.Remove(key)
	s.cache.Invalidate(key)
	return true
}

// StartsWith returns the keys beginning with prefix, sorted. Expired entries
// that have not been cleaned up yet are included.
func (s *Store) StartsWith(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("%w: %q", ErrNotOpen, s.name)
	}
	return s.trie.KeysWithPrefix(prefix), nil
}

// Contains returns, in index order, the keys that contain every pattern as a
// substring. No patterns matches nothing.
func (s *Store) Contains(patterns ...string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("%w: %q", ErrNotOpen, s.name)
	}
	matches := []string{}
	if len(patterns) == 0 {
		return matches, nil
	}
	s.index.Each(func(key string, _ IndexEntry) bool {
		for _, p := range patterns {
			if !strings.Contains(key, p) {
				return true
			}
		}
		matches = append(matches, key)
		return true
	})
	return matches, nil
}

// Keys returns every key in index order.
func (s *Store) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("%w: %q", ErrNotOpen, s.name)
	}
	return s.index.Keys(), nil
}

// Len returns the number of keys, including expired ones not yet removed.
func (s *Store) Len() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, fmt.Errorf("%w: %q", ErrNotOpen, s.name)
	}
	return s.index.Len(), nil
}

// Each calls fn with the raw payload of every entry that was live when Each
// started, in index order, until fn returns false. Expired entries are
// skipped.
//
// Writes proceed while fn runs; Compact and close wait for Each to return, so
// fn must not call them.
func (s *Store) Each(fn func(key string, e IndexEntry, payload []byte) bool) error {
	s.swapMu.RLock()
	defer s.swapMu.RUnlock()

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("%w: %q", ErrNotOpen, s.name)
	}
	records := s.index.Records()
	s.mu.RUnlock()

	// The value log only grows until the next compaction, which swapMu holds
	// off, so the snapshot's ranges stay readable.
	now := s.now()
	for _, r := range records {
		if r.Entry.Expired(now) {
			continue
		}
		data, err := s.vlog.Read(r.Entry.Offset, r.Entry.Length)
		if err != nil {
			return fmt.Errorf("read %q: %w", r.Key, err)
		}
		if !fn(r.Key, r.Entry, data) {
			return nil
		}
	}
	return nil
}

// SaveIndex writes the whole index to the index file, replacing it.
func (s *Store) SaveIndex() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("%w: %q", ErrNotOpen, s.name)
	}
	return s.saveIndexLocked()
}

func (s *Store) saveIndexLocked() error {
	if err := WriteIndexFile(s.indexPath, s.index.Records()); err != nil {
		return err
	}
	s.log.Debug().Int("keys", s.index.Len()).Msg("saved index")
	return nil
}

// PruneTrie releases trie nodes left empty by deletes and returns how many
// were freed.
func (s *Store) PruneTrie() (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, fmt.Errorf("%w: %q", ErrNotOpen, s.name)
	}
	freed := s.trie.Prune()
	s.log.Info().Int("freed", freed).Int("nodes", s.trie.NodeCount()).Msg("pruned trie")
	return freed, nil
}

// Stats reports sizes, fragmentation and counters.
func (s *Store) Stats() (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Stats{}, fmt.Errorf("%w: %q", ErrNotOpen, s.name)
	}

	dataSize, err := s.vlog.Size()
	if err != nil {
		return Stats{}, err
	}
	var indexSize int64
	if fi, err := os.Stat(s.indexPath); err == nil {
		indexSize = fi.Size()
	} else if !os.IsNotExist(err) {
		return Stats{}, fmt.Errorf("stat index %s: %w", s.indexPath, err)
	}

	st := Stats{
		Keys:                 s.index.Len(),
		DataSize:             dataSize,
		IndexSize:            indexSize,
		TotalSize:            dataSize + indexSize,
		LiveBytes:            s.index.LiveBytes(),
		FragmentationPercent: fragmentation(s.index.LiveBytes(), dataSize),
		TrieNodes:            s.trie.NodeCount(),
		TrieEmptyNodes:       s.trie.EmptyNodes(),
	}
	if st.Keys > 0 {
		st.AvgValueSize = float64(st.LiveBytes) / float64(st.Keys)
	}
	s.stats.fill(&st)
	st.CacheHits, st.CacheMisses, st.CacheSize = s.cache.Stats()
	return st, nil
}

// close releases the store's files, saving the index first if save is set.
func (s *Store) close(save bool) error {
	s.swapMu.Lock()
	defer s.swapMu.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("%w: %q", ErrNotOpen, s.name)
	}

	var errs []error
	if save {
		if err := s.saveIndexLocked(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.vlog.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close value log %s: %w", s.dataPath, err))
	}
	s.closed = true
	s.cache.Clear()

	if err := errors.Join(errs...); err != nil {
		s.log.Error().Err(err).Msg("close store")
		return err
	}
	s.log.Info().Int("keys", s.index.Len()).Msg("closed store")
	return nil
}
