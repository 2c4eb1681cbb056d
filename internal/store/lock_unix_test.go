//go:build unix

package store

import (
	"errors"
	"testing"
)

func TestWriteFailsWhileAnotherWriterHoldsLock(t *testing.T) {
	reg, _ := newTestRegistry(t)
	s := openTest(t, reg, "products")
	mustSet(t, s, "k", "v1", 0)

	// A second handle on the same file stands in for another process.
	other, err := openValueLog(reg.DataPath("products"), false)
	if err != nil {
		t.Fatal(err)
	}
	defer other.Close()
	if err := other.lock(); err != nil {
		t.Fatalf("lock: %v", err)
	}

	if err := s.Set("k", "v2", 0); !errors.Is(err, ErrLockUnavailable) {
		t.Fatalf("Set error = %v, want ErrLockUnavailable", err)
	}
	if _, err := s.Compact(); !errors.Is(err, ErrLockUnavailable) {
		t.Fatalf("Compact error = %v, want ErrLockUnavailable", err)
	}

	// Readers are not blocked and see the old value.
	var v string
	if !mustGet(t, s, "k", &v) || v != "v1" {
		t.Errorf("Get = %q, want v1", v)
	}

	if err := other.unlock(); err != nil {
		t.Fatal(err)
	}
	mustSet(t, s, "k", "v2", 0)
	if !mustGet(t, s, "k", &v) || v != "v2" {
		t.Errorf("Get = %q, want v2", v)
	}
}
