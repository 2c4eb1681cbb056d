// Package dump exports a store to a zstd-compressed JSON-lines stream and
// imports it back.
//
// The first line is a Header; each following line is a Line holding the
// encoded payload of one key. Payloads are copied without decoding, so a dump
// can only be imported into a store using the same codec.
package dump

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/olivier-ls/binstore/internal/store"
)

const (
	Format  = "binstore-dump"
	Version = 1

	maxLineSize = 64 << 20
)

var ErrBadHeader = errors.New("not a binstore dump")

// Header is the first line of a dump.
type Header struct {
	Format     string `json:"format"`
	Version    int    `json:"version"`
	Store      string `json:"store"`
	Codec      string `json:"codec"`
	ExportedAt int64  `json:"exported_at"`
}

// Line is one exported key.
type Line struct {
	Key       string `json:"key"`
	Value     []byte `json:"value"`
	CreatedAt int64  `json:"created_at,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

// Export writes every live entry of s to w and returns the number of entries.
func Export(s *store.Store, w io.Writer, level zstd.EncoderLevel) (int, error) {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(level))
	if err != nil {
		return 0, fmt.Errorf("create zstd encoder: %w", err)
	}
	enc := json.NewEncoder(zw)

	hdr := Header{
		Format:     Format,
		Version:    Version,
		Store:      s.Name(),
		Codec:      s.Codec().Name(),
		ExportedAt: time.Now().Unix(),
	}
	if err := enc.Encode(hdr); err != nil {
		zw.Close()
		return 0, fmt.Errorf("write header: %w", err)
	}

	var n int
	var writeErr error
	err = s.Each(func(key string, e store.IndexEntry, payload []byte) bool {
		writeErr = enc.Encode(Line{
			Key:       key,
			Value:     payload,
			CreatedAt: e.CreatedAt,
			ExpiresAt: e.ExpiresAt,
		})
		if writeErr != nil {
			return false
		}
		n++
		return true
	})
	if err == nil {
		err = writeErr
	}
	if err != nil {
		zw.Close()
		return n, fmt.Errorf("export %q: %w", s.Name(), err)
	}
	if err := zw.Close(); err != nil {
		return n, fmt.Errorf("flush zstd stream: %w", err)
	}
	return n, nil
}

// ImportStats reports what Import did.
type ImportStats struct {
	Imported int
	Expired  int // lines whose expiry had already passed
}

// Import reads a dump from r into s. Entries keep their remaining TTL;
// entries that expired since the export are skipped.
func Import(s *store.Store, r io.Reader, now time.Time) (ImportStats, error) {
	var st ImportStats

	zr, err := zstd.NewReader(r)
	if err != nil {
		return st, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer zr.Close()

	sc := bufio.NewScanner(zr)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return st, fmt.Errorf("read header: %w", err)
		}
		return st, ErrBadHeader
	}
	var hdr Header
	if err := json.Unmarshal(sc.Bytes(), &hdr); err != nil || hdr.Format != Format {
		return st, ErrBadHeader
	}
	if hdr.Version != Version {
		return st, fmt.Errorf("%w: version %d", ErrBadHeader, hdr.Version)
	}
	if hdr.Codec != s.Codec().Name() {
		return st, fmt.Errorf("dump codec %q does not match store codec %q", hdr.Codec, s.Codec().Name())
	}

	nowSec := now.Unix()
	for sc.Scan() {
		var line Line
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			return st, fmt.Errorf("line %d: %w", st.Imported+st.Expired+2, err)
		}
		var ttl time.Duration
		if line.ExpiresAt != 0 {
			if line.ExpiresAt < nowSec {
				st.Expired++
				continue
			}
			ttl = time.Duration(line.ExpiresAt-nowSec) * time.Second
			if ttl == 0 {
				// Expires within the current second; keep it for one more.
				ttl = time.Second
			}
		}
		if err := s.SetRaw(line.Key, line.Value, ttl); err != nil {
			return st, fmt.Errorf("import %q: %w", line.Key, err)
		}
		st.Imported++
	}
	if err := sc.Err(); err != nil {
		return st, fmt.Errorf("read dump: %w", err)
	}
	return st, nil
}
