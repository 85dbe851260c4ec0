package shm

import (
	"path/filepath"
	"testing"
)

func TestCreateAttachDetachDestroy(t *testing.T) {
	name := filepath.Join(t.TempDir(), "region")
	r, err := Create(name, 4096)
	if err != nil {
		t.Skipf("SysV shared memory unavailable in this environment: %v", err)
	}
	defer r.Destroy()

	buf, err := r.Attach()
	if err != nil {
		t.Fatal(err)
	}
	if len(buf) != 4096 {
		t.Fatalf("attached length = %d, want 4096", len(buf))
	}
	buf[0] = 0x42
	if err := r.Detach(buf); err != nil {
		t.Fatal(err)
	}
}

func TestWriteLockExcludesReaders(t *testing.T) {
	name := filepath.Join(t.TempDir(), "region2")
	r, err := Create(name, 4096)
	if err != nil {
		t.Skipf("SysV shared memory unavailable in this environment: %v", err)
	}
	defer r.Destroy()

	if err := r.WriteLock(); err != nil {
		t.Fatal(err)
	}
	if err := r.WriteUnlock(); err != nil {
		t.Fatal(err)
	}
	if err := r.ReadLock(); err != nil {
		t.Fatal(err)
	}
	if err := r.ReadUnlock(); err != nil {
		t.Fatal(err)
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	name := filepath.Join(t.TempDir(), "region3")
	r, err := Create(name, 4096)
	if err != nil {
		t.Skipf("SysV shared memory unavailable in this environment: %v", err)
	}
	if err := r.Destroy(); err != nil {
		t.Fatal(err)
	}
	if err := r.Destroy(); err != nil {
		t.Fatalf("second Destroy should be a no-op, got %v", err)
	}
}
