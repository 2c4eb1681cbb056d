package store

import "container/list"

// Index maps keys to their value log entries and remembers insertion order.
// Overwriting a key moves it to the end, like a delete followed by an insert.
// An Index is not safe for concurrent use.
type Index struct {
	entries map[string]*list.Element
	order   *list.List
	live    uint64 // sum of entry lengths
}

type indexItem struct {
	key   string
	entry IndexEntry
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// IndexFromRecords builds an index from decoded records. Later records for
// the same key replace earlier ones.
func IndexFromRecords(records []IndexRecord) *Index {
	idx := NewIndex()
	for _, r := range records {
		idx.Put(r.Key, r.Entry)
	}
	return idx
}

// Get returns the entry for key.
func (idx *Index) Get(key string) (IndexEntry, bool) {
	elem, ok := idx.entries[key]
	if !ok {
		return IndexEntry{}, false
	}
	return elem.Value.(*indexItem).entry, true
}

// Put inserts or replaces the entry for key and reports whether the key is new.
func (idx *Index) Put(key string, e IndexEntry) bool {
	isNew := !idx.Remove(key)
	elem := idx.order.PushBack(&indexItem{key: key, entry: e})
	idx.entries[key] = elem
	idx.live += e.Length
	return isNew
}

// update replaces the entry for an existing key without moving it.
func (idx *Index) update(key string, e IndexEntry) {
	elem, ok := idx.entries[key]
	if !ok {
		return
	}
	item := elem.Value.(*indexItem)
	idx.live -= item.entry.Length
	item.entry = e
	idx.live += e.Length
}

// Remove deletes key and reports whether it was present.
func (idx *Index) Remove(key string) bool {
	elem, ok := idx.entries[key]
	if !ok {
		return false
	}
	idx.live -= elem.Value.(*indexItem).entry.Length
	idx.order.Remove(elem)
	delete(idx.entries, key)
	return true
}

// Len returns the number of keys.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// LiveBytes returns the sum of all entry lengths.
func (idx *Index) LiveBytes() uint64 {
	return idx.live
}

// Each calls fn for every key in index order until fn returns false.
// fn must not modify the index.
func (idx *Index) Each(fn func(key string, e IndexEntry) bool) {
	for elem := idx.order.Front(); elem != nil; elem = elem.Next() {
		item := elem.Value.(*indexItem)
		if !fn(item.key, item.entry) {
			return
		}
	}
}

// Keys returns all keys in index order.
func (idx *Index) Keys() []string {
	keys := make([]string, 0, len(idx.entries))
	idx.Each(func(key string, _ IndexEntry) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

// Records returns all entries in index order.
func (idx *Index) Records() []IndexRecord {
	records := make([]IndexRecord, 0, len(idx.entries))
	idx.Each(func(key string, e IndexEntry) bool {
		records = append(records, IndexRecord{Key: key, Entry: e})
		return true
	})
	return records
}

// Expired returns the keys whose entries expired before now, in index order.
func (idx *Index) Expired(now int64) []string {
	var keys []string
	idx.Each(func(key string, e IndexEntry) bool {
		if e.Expired(now) {
			keys = append(keys, key)
		}
		return true
	})
	return keys
}
