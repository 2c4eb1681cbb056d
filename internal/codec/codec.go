// Package codec turns values into the byte payloads stored in a value log and back.
//
// The storage engine never looks inside a payload; any Codec that round-trips
// a value can be plugged in.
package codec

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ErrUnsupportedValue is returned by Raw for values that are not []byte or string.
var ErrUnsupportedValue = errors.New("unsupported value type")

// Codec converts between values and payload bytes.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// JSON encodes values with encoding/json.
type JSON struct{}

func (JSON) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSON) Name() string                       { return "json" }

// Gob encodes values with encoding/gob. Each payload carries its own type
// description, so payloads are larger than JSON for small values.
type Gob struct{}

func (Gob) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Gob) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (Gob) Name() string { return "gob" }

// Raw stores []byte and string values as-is.
// Unmarshal accepts *[]byte and *string targets.
type Raw struct{}

func (Raw) Marshal(v any) ([]byte, error) {
	switch x := v.(type) {
	case []byte:
		out := make([]byte, len(x))
		copy(out, x)
		return out, nil
	case string:
		return []byte(x), nil
	default:
		return nil, fmt.Errorf("raw marshal %T: %w", v, ErrUnsupportedValue)
	}
}

func (Raw) Unmarshal(data []byte, v any) error {
	switch x := v.(type) {
	case *[]byte:
		*x = append((*x)[:0], data...)
		return nil
	case *string:
		*x = string(data)
		return nil
	default:
		return fmt.Errorf("raw unmarshal into %T: %w", v, ErrUnsupportedValue)
	}
}

func (Raw) Name() string { return "raw" }

// ZstdCodec compresses the payloads of an inner codec with zstd.
type ZstdCodec struct {
	inner Codec

	mu      sync.Mutex // guards Close
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// Zstd wraps inner so every payload is zstd-compressed.
func Zstd(inner Codec, level zstd.EncoderLevel) (*ZstdCodec, error) {
	if inner == nil {
		inner = JSON{}
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &ZstdCodec{inner: inner, encoder: encoder, decoder: decoder}, nil
}

func (z *ZstdCodec) Marshal(v any) ([]byte, error) {
	data, err := z.inner.Marshal(v)
	if err != nil {
		return nil, err
	}
	return z.encoder.EncodeAll(data, nil), nil
}

func (z *ZstdCodec) Unmarshal(data []byte, v any) error {
	plain, err := z.decoder.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("decompress payload: %w", err)
	}
	return z.inner.Unmarshal(plain, v)
}

func (z *ZstdCodec) Name() string { return "zstd+" + z.inner.Name() }

// Close releases the encoder and decoder.
func (z *ZstdCodec) Close() error {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.encoder != nil {
		z.encoder.Close()
		z.encoder = nil
	}
	if z.decoder != nil {
		z.decoder.Close()
		z.decoder = nil
	}
	return nil
}

// ByName returns the codec registered under name ("json", "gob", "raw",
// "zstd" or "zstd+<inner>").
func ByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON{}, nil
	case "gob":
		return Gob{}, nil
	case "raw":
		return Raw{}, nil
	case "zstd":
		name = "zstd+json"
	}
	if !strings.HasPrefix(name, "zstd+") {
		return nil, fmt.Errorf("unknown codec %q", name)
	}
	inner, err := ByName(strings.TrimPrefix(name, "zstd+"))
	if err != nil {
		return nil, err
	}
	z, err := Zstd(inner, zstd.SpeedDefault)
	if err != nil {
		return nil, err
	}
	return z, nil
}
