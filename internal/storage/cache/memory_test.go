package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCache_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(0)

	if _, ok, _ := c.Get(ctx, "span-1"); ok {
		t.Fatal("empty cache should miss")
	}

	if err := c.Set(ctx, "span-1", []byte("content")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, ok, err := c.Get(ctx, "span-1")
	if err != nil || !ok || string(val) != "content" {
		t.Fatalf("Get: %q, %v, %v", val, ok, err)
	}

	if err := c.Delete(ctx, "span-1", "span-ghost"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "span-1"); ok {
		t.Fatal("deleted key should miss")
	}
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10 * time.Millisecond)
	_ = c.Set(ctx, "span-1", []byte("short lived"))

	if _, ok, _ := c.Get(ctx, "span-1"); !ok {
		t.Fatal("fresh entry should hit")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok, _ := c.Get(ctx, "span-1"); ok {
		t.Fatal("expired entry should miss")
	}
}

func TestMemoryCache_CopyIsolation(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(0)
	buf := []byte("original")
	_ = c.Set(ctx, "span-1", buf)
	buf[0] = 'X'

	val, _, _ := c.Get(ctx, "span-1")
	if string(val) != "original" {
		t.Fatalf("cached value was aliased: %q", val)
	}
	val[0] = 'Y'
	again, _, _ := c.Get(ctx, "span-1")
	if string(again) != "original" {
		t.Fatalf("returned value was aliased: %q", again)
	}
}
