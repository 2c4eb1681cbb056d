package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/klauspost/compress/zstd"
)

type product struct {
	Name  string
	Price int
}

func TestCodecsRoundTrip(t *testing.T) {
	z, err := Zstd(JSON{}, zstd.SpeedFastest)
	if err != nil {
		t.Fatalf("Zstd: %v", err)
	}
	defer z.Close()

	codecs := []Codec{JSON{}, Gob{}, z}
	in := product{Name: "MacBook", Price: 1999}

	for _, c := range codecs {
		data, err := c.Marshal(in)
		if err != nil {
			t.Fatalf("%s Marshal: %v", c.Name(), err)
		}
		var out product
		if err := c.Unmarshal(data, &out); err != nil {
			t.Fatalf("%s Unmarshal: %v", c.Name(), err)
		}
		if out != in {
			t.Errorf("%s round trip = %+v, want %+v", c.Name(), out, in)
		}
	}
}

func TestRawCodec(t *testing.T) {
	var c Raw
	data, err := c.Marshal("hello")
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var s string
	if err := c.Unmarshal(data, &s); err != nil || s != "hello" {
		t.Errorf("Unmarshal string = %q, %v", s, err)
	}
	var b []byte
	if err := c.Unmarshal([]byte{1, 2, 3}, &b); err != nil || !bytes.Equal(b, []byte{1, 2, 3}) {
		t.Errorf("Unmarshal bytes = %v, %v", b, err)
	}
	if _, err := c.Marshal(42); !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("Marshal(42) err = %v, want ErrUnsupportedValue", err)
	}
}

func TestZstdCompresses(t *testing.T) {
	z, err := Zstd(Raw{}, zstd.SpeedDefault)
	if err != nil {
		t.Fatalf("Zstd: %v", err)
	}
	defer z.Close()

	plain := bytes.Repeat([]byte("abcdefgh"), 1024)
	data, err := z.Marshal(plain)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(data) >= len(plain) {
		t.Errorf("compressed size = %d, want < %d", len(data), len(plain))
	}
	var out []byte
	if err := z.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !bytes.Equal(out, plain) {
		t.Error("zstd round trip mismatch")
	}
	if err := z.Unmarshal([]byte("not zstd"), &out); err == nil {
		t.Error("Unmarshal of garbage succeeded")
	}
}

func TestByName(t *testing.T) {
	tests := []struct {
		name string
		want string
		err  bool
	}{
		{"", "json", false},
		{"json", "json", false},
		{"gob", "gob", false},
		{"raw", "raw", false},
		{"zstd", "zstd+json", false},
		{"zstd+gob", "zstd+gob", false},
		{"yaml", "", true},
		{"zstd+yaml", "", true},
	}
	for _, tt := range tests {
		c, err := ByName(tt.name)
		if tt.err {
			if err == nil {
				t.Errorf("ByName(%q) succeeded, want error", tt.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ByName(%q): %v", tt.name, err)
		}
		if c.Name() != tt.want {
			t.Errorf("ByName(%q).Name() = %q, want %q", tt.name, c.Name(), tt.want)
		}
		if z, ok := c.(*ZstdCodec); ok {
			z.Close()
		}
	}
}
