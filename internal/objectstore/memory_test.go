package objectstore

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Put(ctx, "k1", []byte("hello")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	ok, err := s.Exists(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("Exists() = %v, %v, want true, nil", ok, err)
	}

	data, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("Get() = %q, want hello", data)
	}

	if err := s.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, "k1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_PutIsolatesCallerSlice(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	buf := []byte("original")
	if err := s.Put(ctx, "k", buf); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	buf[0] = 'X'

	data, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(data) != "original" {
		t.Errorf("Get() = %q, want original (mutation of caller buffer leaked)", data)
	}
}
