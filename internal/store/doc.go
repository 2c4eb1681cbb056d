// Package store implements binstore, an embedded key/value engine that keeps
// all values of a named store in one append-only data file and all key
// metadata in a companion binary index file.
//
// Files per store, under the registry's base directory:
//   - <name>.dat: value log, payloads concatenated with no framing
//   - <name>.bin: index, key -> {offset, length, created_at, expires_at}
//
// The index is held in memory while the store is open and written back on
// Close, SaveIndex and Compact. Index files without the "BINSTORE" header are
// read as the older headerless layout and rewritten in the current one on the
// next save.
//
// Deleted and overwritten values leave unreferenced bytes in the value log
// until Compact rewrites it. Entries with a TTL expire lazily on read, or in
// bulk through Cleanup.
//
// Not provided: multi-key atomicity, crash-safe logging, or index reloads
// when another process writes the same store.
package store
