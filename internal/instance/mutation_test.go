package instance

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestMutationLock_Exclusive(t *testing.T) {
	dir := t.TempDir()
	first := NewMutationLock(dir)
	second := NewMutationLock(dir)

	if first.Path() != filepath.Join(dir, MutationLockFile) {
		t.Errorf("Path() = %q", first.Path())
	}

	unlock, err := first.Lock(context.Background())
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if _, err := second.Lock(ctx); err == nil {
		t.Fatal("second Lock() should wait until the context expires")
	}

	unlock()

	unlock2, err := second.Lock(context.Background())
	if err != nil {
		t.Fatalf("Lock() after release failed: %v", err)
	}
	unlock2()
}

func TestMutationLock_ReleasedWhileWaiting(t *testing.T) {
	dir := t.TempDir()
	holder := NewMutationLock(dir)
	unlock, err := holder.Lock(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	unlock2, err := NewMutationLock(dir).Lock(ctx)
	if err != nil {
		t.Fatalf("waiting Lock() failed: %v", err)
	}
	unlock2()
}
