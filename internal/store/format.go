package store

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// Index file format
//
// Versioned (written by this package):
//   Header (13 bytes):
//     - Magic (8): "BINSTORE"
//     - Version (1): 2
//     - EntryCount (4): big-endian uint32
//   EntryCount records:
//     - KeyLen (4), Key (KeyLen)
//     - Offset (8), Length (8)
//     - CreatedAt (8): unix seconds
//     - ExpiresAt (8): unix seconds, 0 = never
//
// Legacy (read only): no header, records of
//     KeyLen (4), Key (KeyLen), Offset (8), Length (8)
// until end of file.
//
// All integers are big-endian. A record cut short by the end of the file ends
// the parse; the records before it are kept.

const (
	IndexMagic      = "BINSTORE"
	IndexVersion    = 2
	IndexHeaderSize = 13

	legacyFixedSize    = 16 // offset + length
	versionedFixedSize = 32 // offset + length + created + expires
)

// IndexFormat identifies the layout an index file was decoded from.
type IndexFormat uint8

const (
	FormatLegacy IndexFormat = iota
	FormatVersioned
)

func (f IndexFormat) String() string {
	switch f {
	case FormatLegacy:
		return "legacy"
	case FormatVersioned:
		return "versioned"
	default:
		return fmt.Sprintf("format(%d)", uint8(f))
	}
}

// IndexEntry locates a value in the value log. Timestamps are unix seconds;
// zero means absent.
type IndexEntry struct {
	Offset    uint64
	Length    uint64
	CreatedAt int64
	ExpiresAt int64
}

// Expired reports whether the entry carries an expiry strictly before now.
func (e IndexEntry) Expired(now int64) bool {
	return e.ExpiresAt != 0 && e.ExpiresAt < now
}

// IndexRecord is a key with its entry, in file order.
type IndexRecord struct {
	Key   string
	Entry IndexEntry
}

// DecodeResult is the outcome of parsing an index file.
type DecodeResult struct {
	Format    IndexFormat
	Records   []IndexRecord
	Truncated bool // a partial record at the tail was dropped
}

// record is one decoded on-disk record before normalization.
type record interface {
	normalize() IndexRecord
}

type legacyRecord struct {
	key            string
	offset, length uint64
}

func (r legacyRecord) normalize() IndexRecord {
	return IndexRecord{Key: r.key, Entry: IndexEntry{Offset: r.offset, Length: r.length}}
}

type versionedRecord struct {
	key                 string
	offset, length      uint64
	createdAt, expireAt uint64
}

func (r versionedRecord) normalize() IndexRecord {
	return IndexRecord{Key: r.key, Entry: IndexEntry{
		Offset:    r.offset,
		Length:    r.length,
		CreatedAt: int64(r.createdAt),
		ExpiresAt: int64(r.expireAt),
	}}
}

// DecodeIndex parses an index file image, detecting the format from the
// leading magic marker.
func DecodeIndex(data []byte) (*DecodeResult, error) {
	if len(data) >= len(IndexMagic) && string(data[:len(IndexMagic)]) == IndexMagic {
		return decodeVersioned(data)
	}
	return decodeLegacy(data), nil
}

// readKey reads a length-prefixed key at pos followed by fixed bytes of
// trailing fields. ok is false if the record does not fit.
func readKey(data []byte, pos, fixed int) (key string, next int, ok bool) {
	if len(data)-pos < 4 {
		return "", pos, false
	}
	keyLen := binary.BigEndian.Uint32(data[pos:])
	pos += 4
	if uint64(len(data)-pos) < uint64(keyLen)+uint64(fixed) {
		return "", pos, false
	}
	key = string(data[pos : pos+int(keyLen)])
	return key, pos + int(keyLen), true
}

func decodeLegacy(data []byte) *DecodeResult {
	res := &DecodeResult{Format: FormatLegacy}
	pos := 0
	for pos < len(data) {
		key, next, ok := readKey(data, pos, legacyFixedSize)
		if !ok {
			res.Truncated = true
			break
		}
		var r record = legacyRecord{
			key:    key,
			offset: binary.BigEndian.Uint64(data[next:]),
			length: binary.BigEndian.Uint64(data[next+8:]),
		}
		res.Records = append(res.Records, r.normalize())
		pos = next + legacyFixedSize
	}
	return res
}

func decodeVersioned(data []byte) (*DecodeResult, error) {
	res := &DecodeResult{Format: FormatVersioned}
	if len(data) < IndexHeaderSize {
		res.Truncated = true
		return res, nil
	}
	if v := data[8]; v != IndexVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	count := binary.BigEndian.Uint32(data[9:13])
	res.Records = make([]IndexRecord, 0, min(int(count), len(data)/(4+versionedFixedSize)))

	pos := IndexHeaderSize
	for i := uint32(0); i < count; i++ {
		key, next, ok := readKey(data, pos, versionedFixedSize)
		if !ok {
			res.Truncated = true
			break
		}
		var r record = versionedRecord{
			key:       key,
			offset:    binary.BigEndian.Uint64(data[next:]),
			length:    binary.BigEndian.Uint64(data[next+8:]),
			createdAt: binary.BigEndian.Uint64(data[next+16:]),
			expireAt:  binary.BigEndian.Uint64(data[next+24:]),
		}
		res.Records = append(res.Records, r.normalize())
		pos = next + versionedFixedSize
	}
	return res, nil
}

// encodeIndexHeader encodes the versioned header for count records.
func encodeIndexHeader(count uint32) []byte {
	buf := make([]byte, IndexHeaderSize)
	copy(buf[0:8], IndexMagic)
	buf[8] = IndexVersion
	binary.BigEndian.PutUint32(buf[9:13], count)
	return buf
}

// EncodeIndex writes records in the versioned format.
func EncodeIndex(w io.Writer, records []IndexRecord) error {
	if uint64(len(records)) > math.MaxUint32 {
		return fmt.Errorf("too many index entries: %d", len(records))
	}
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(encodeIndexHeader(uint32(len(records)))); err != nil {
		return err
	}
	var fixed [4 + versionedFixedSize]byte
	for _, r := range records {
		if uint64(len(r.Key)) > math.MaxUint32 {
			return fmt.Errorf("key too long: %d bytes", len(r.Key))
		}
		binary.BigEndian.PutUint32(fixed[0:4], uint32(len(r.Key)))
		if _, err := bw.Write(fixed[0:4]); err != nil {
			return err
		}
		if _, err := bw.WriteString(r.Key); err != nil {
			return err
		}
		binary.BigEndian.PutUint64(fixed[4:12], r.Entry.Offset)
		binary.BigEndian.PutUint64(fixed[12:20], r.Entry.Length)
		binary.BigEndian.PutUint64(fixed[20:28], uint64(r.Entry.CreatedAt))
		binary.BigEndian.PutUint64(fixed[28:36], uint64(r.Entry.ExpiresAt))
		if _, err := bw.Write(fixed[4:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// EncodeLegacyIndex writes records in the headerless legacy format. Only
// offset and length survive. Used for migration tests and tooling.
func EncodeLegacyIndex(w io.Writer, records []IndexRecord) error {
	var buf bytes.Buffer
	var fixed [legacyFixedSize]byte
	for _, r := range records {
		var klen [4]byte
		binary.BigEndian.PutUint32(klen[:], uint32(len(r.Key)))
		buf.Write(klen[:])
		buf.WriteString(r.Key)
		binary.BigEndian.PutUint64(fixed[0:8], r.Entry.Offset)
		binary.BigEndian.PutUint64(fixed[8:16], r.Entry.Length)
		buf.Write(fixed[:])
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// ReadIndexFile decodes the index file at path. A missing file decodes as an
// empty versioned index.
func ReadIndexFile(path string) (*DecodeResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &DecodeResult{Format: FormatVersioned}, nil
		}
		return nil, fmt.Errorf("read index %s: %w", path, err)
	}
	return DecodeIndex(data)
}

// WriteIndexFile replaces the index file at path with records, writing to a
// temporary file first and renaming it over the old one.
func WriteIndexFile(path string, records []IndexRecord) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create index %s: %w", tmpPath, err)
	}
	if err := EncodeIndex(f, records); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write index %s: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close index %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename index %s: %w", path, err)
	}
	return nil
}
