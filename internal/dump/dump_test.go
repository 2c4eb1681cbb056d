package dump

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/olivier-ls/binstore/internal/codec"
	"github.com/olivier-ls/binstore/internal/store"
)

type product struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

func openStore(t *testing.T, c codec.Codec, now *time.Time) (*store.Registry, *store.Store) {
	t.Helper()
	reg, err := store.NewRegistry(store.Config{
		Dir:   t.TempDir(),
		Codec: c,
		Clock: func() time.Time { return *now },
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(func() { reg.CloseAll() })
	s, err := reg.Open("products")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return reg, s
}

func TestExportImport(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	_, src := openStore(t, codec.JSON{}, &now)

	if err := src.Set("product:1", product{"Laptop", 999.99}, 0); err != nil {
		t.Fatal(err)
	}
	if err := src.Set("product:2", product{"Mouse", 19.5}, time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := src.Set("session:x", "gone soon", time.Second); err != nil {
		t.Fatal(err)
	}
	if _, err := src.Delete("product:1"); err != nil {
		t.Fatal(err)
	}
	if err := src.Set("product:1", product{"Laptop", 899}, 0); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	n, err := Export(src, &buf, zstd.SpeedDefault)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if n != 3 {
		t.Fatalf("exported %d entries, want 3", n)
	}

	// The session key expires between export and import.
	now = now.Add(10 * time.Second)
	_, dst := openStore(t, codec.JSON{}, &now)
	st, err := Import(dst, &buf, now)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if st.Imported != 2 || st.Expired != 1 {
		t.Fatalf("Import stats = %+v, want 2 imported, 1 expired", st)
	}

	var p product
	ok, err := dst.Get("product:1", &p)
	if err != nil || !ok {
		t.Fatalf("Get product:1 = %v, %v", ok, err)
	}
	if p.Price != 899 {
		t.Errorf("product:1 price = %v, want 899", p.Price)
	}

	ttl, ok, err := dst.TTL("product:2")
	if err != nil || !ok {
		t.Fatalf("TTL product:2 = %v, %v", ok, err)
	}
	if want := time.Hour - 10*time.Second; ttl != want {
		t.Errorf("TTL product:2 = %v, want %v", ttl, want)
	}
	if ttl, _, _ := dst.TTL("product:1"); ttl != store.NoExpiry {
		t.Errorf("TTL product:1 = %v, want NoExpiry", ttl)
	}
}

func TestImportCodecMismatch(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	_, src := openStore(t, codec.JSON{}, &now)
	if err := src.Set("a", "b", 0); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if _, err := Export(src, &buf, zstd.SpeedFastest); err != nil {
		t.Fatal(err)
	}

	_, dst := openStore(t, codec.Gob{}, &now)
	if _, err := Import(dst, &buf, now); err == nil {
		t.Fatal("Import into gob store succeeded, want codec mismatch")
	}
	keys, err := dst.Keys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("keys after failed import = %v", keys)
	}
}

func TestImportRejectsGarbage(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	_, dst := openStore(t, codec.JSON{}, &now)

	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	zw.Write([]byte("{\"format\":\"something-else\"}\n"))
	zw.Close()

	if _, err := Import(dst, &buf, now); !errors.Is(err, ErrBadHeader) {
		t.Fatalf("Import error = %v, want ErrBadHeader", err)
	}
}
