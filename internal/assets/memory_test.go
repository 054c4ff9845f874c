package assets

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestMemoryStore_PutAndGet(t *testing.T) {
	store := NewMemoryStore()

	ref, err := store.Put(context.Background(), "image_1.jpg", strings.NewReader("jpeg"), 4)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if ref != "memory://image_1.jpg" {
		t.Errorf("Put() ref = %q, want memory://image_1.jpg", ref)
	}

	var buf bytes.Buffer
	if err := store.Get("image_1.jpg", &buf); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if buf.String() != "jpeg" {
		t.Errorf("Get() = %q, want jpeg", buf.String())
	}

	if err := store.Get("missing.png", &buf); err == nil {
		t.Error("Get() expected error for missing image")
	}
	if names := store.Names(); len(names) != 1 || names[0] != "image_1.jpg" {
		t.Errorf("Names() = %v, want [image_1.jpg]", names)
	}
}

func TestMemoryStore_SizeMismatch(t *testing.T) {
	store := NewMemoryStore()

	if _, err := store.Put(context.Background(), "image_2.png", strings.NewReader("abc"), 10); err == nil {
		t.Fatal("Put() expected size mismatch error")
	}
	if len(store.Names()) != 0 {
		t.Errorf("Names() = %v, want empty after failed put", store.Names())
	}
}
