package chat

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestInboundStoreCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "inbox")
	if _, err := NewInboundStore(dir); err != nil {
		t.Fatalf("NewInboundStore: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("inbound directory was not created: %v", err)
	}
}

func TestInboundStoreCollisionFreeNames(t *testing.T) {
	store, err := NewInboundStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewInboundStore: %v", err)
	}

	first, err := store.Save("photo.png", []byte("original"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Base(first) != "photo.png" {
		t.Errorf("first save landed at %s", first)
	}

	second, err := store.Save("photo.png", []byte("newer"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Base(second) != "photo_1.png" {
		t.Errorf("second save landed at %s, want photo_1.png", second)
	}

	third, err := store.Save("photo.png", []byte("newest"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Base(third) != "photo_2.png" {
		t.Errorf("third save landed at %s, want photo_2.png", third)
	}

	// The original must be untouched.
	data, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(data, []byte("original")) {
		t.Error("original file was overwritten")
	}
}

func TestInboundStoreStripsPathComponents(t *testing.T) {
	store, err := NewInboundStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewInboundStore: %v", err)
	}

	path, err := store.Save("../../etc/passwd", []byte("nope"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Dir(path) != store.Dir() {
		t.Errorf("file escaped the inbound directory: %s", path)
	}
	if filepath.Base(path) != "passwd" {
		t.Errorf("unexpected stored name %s", path)
	}
}

func TestInboundStoreEmptyFilename(t *testing.T) {
	store, err := NewInboundStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewInboundStore: %v", err)
	}
	path, err := store.Save("", []byte("anonymous"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Base(path) != "unnamed" {
		t.Errorf("empty filename stored as %s, want unnamed", path)
	}
}
