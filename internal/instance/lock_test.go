package instance

import (
	"errors"
	"os"
	"testing"
)

func TestLock_OneServerPerRepository(t *testing.T) {
	dir := t.TempDir()

	fl, err := Lock(dir)
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	if _, err := Lock(dir); !errors.Is(err, ErrServerRunning) {
		t.Fatalf("second Lock() error = %v, want ErrServerRunning", err)
	}
	if held, err := lockHeld(dir); err != nil || !held {
		t.Fatalf("lockHeld() = %v, %v while locked", held, err)
	}

	if err := WritePort(dir, "127.0.0.1:7337"); err != nil {
		t.Fatalf("WritePort() error = %v", err)
	}
	if addr, err := readPort(dir); err != nil || addr != "127.0.0.1:7337" {
		t.Fatalf("readPort() = %q, %v", addr, err)
	}

	Cleanup(dir, fl)
	if _, err := os.Stat(portPath(dir)); !os.IsNotExist(err) {
		t.Errorf("port file left after Cleanup: %v", err)
	}
	if held, _ := lockHeld(dir); held {
		t.Error("lock still held after Cleanup")
	}

	fl, err = Lock(dir)
	if err != nil {
		t.Fatalf("Lock() after Cleanup error = %v", err)
	}
	Cleanup(dir, fl)
}

func TestReadPort_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := readPort(dir); err == nil {
		t.Error("readPort() with no file succeeded")
	}
	if err := WritePort(dir, "  \n"); err != nil {
		t.Fatal(err)
	}
	if _, err := readPort(dir); err == nil {
		t.Error("readPort() with a blank file succeeded")
	}
}

func TestRemoveStale(t *testing.T) {
	dir := t.TempDir()

	removed, err := RemoveStale(dir)
	if err != nil || removed {
		t.Fatalf("RemoveStale() on empty dir = %v, %v", removed, err)
	}

	if err := WritePort(dir, "127.0.0.1:1"); err != nil {
		t.Fatal(err)
	}
	removed, err = RemoveStale(dir)
	if err != nil || !removed {
		t.Fatalf("RemoveStale() = %v, %v, want removed", removed, err)
	}

	fl, err := Lock(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer Cleanup(dir, fl)
	if _, err := RemoveStale(dir); !errors.Is(err, ErrServerRunning) {
		t.Fatalf("RemoveStale() under a live lock error = %v, want ErrServerRunning", err)
	}
}
