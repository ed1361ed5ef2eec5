package mmap

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOptionsHas(t *testing.T) {
	var o Options = Writable | Prefault
	if !o.Has(Writable) || o.Has(SequentialAccess) {
		t.Fatalf("Options.Has returned unexpected results for %v", o)
	}
}

func TestMmapAndMunmap(t *testing.T) {
	f := must(os.CreateTemp(t.TempDir(), "mmap_test_*"))
	defer f.Close()

	const size = 4096
	if err := f.Truncate(size); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	b, err := Mmap(f, 0, size, Writable)
	if err != nil {
		t.Fatalf("Mmap: %v", err)
	}
	if len(b) != size {
		t.Fatalf("len(mmap) = %d, wanted %d", len(b), size)
	}
	b[0] = 0x42
	if err := Fdatasync(f, b); err != nil {
		t.Fatalf("Fdatasync: %v", err)
	}
	if err := Munmap(b); err != nil {
		t.Fatalf("Munmap: %v", err)
	}
}

func TestMmap_PanicsOnNonZeroOffset(t *testing.T) {
	f := must(os.CreateTemp(t.TempDir(), "mmap_test_*"))
	defer f.Close()

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	_, _ = Mmap(f, 1, 1, 0)
}

func TestRegion_WriteSyncReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region.bin")

	r, err := Open(path, 100, Writable|RandomAccess)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if r.Len() != 100 {
		t.Fatalf("Len = %d, wanted 100", r.Len())
	}
	r.Bytes()[0] = 7
	r.Bytes()[99] = 9
	if err := r.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	ro, err := Open(path, 100, 0)
	if err != nil {
		t.Fatalf("Open read-only: %v", err)
	}
	defer ro.Close()
	if ro.Writable() {
		t.Fatalf("read-only region reports writable")
	}
	if a, z := ro.Bytes()[0], ro.Bytes()[99]; a != 7 || z != 9 {
		t.Fatalf("contents = %d..%d, wanted 7..9", a, z)
	}
}

func TestRegion_ReadOnlyTooShort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.bin")
	if err := os.WriteFile(path, []byte{1, 2, 3}, 0666); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path, 10, 0); err == nil {
		t.Fatalf("Open succeeded on a short file")
	}
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
