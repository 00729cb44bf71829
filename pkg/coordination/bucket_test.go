package coordination

import (
	"context"
	"testing"
	"time"
)

func TestBucket_SetGet(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	b := c.Bucket("test:bucket:1")

	if err := b.Set(ctx, "hello", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v, found, err := b.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found || v != "hello" {
		t.Errorf("Get = (%q, %v), want (hello, true)", v, found)
	}
}

func TestBucket_GetAbsent(t *testing.T) {
	c, _ := newTestClient(t)

	_, found, err := c.Bucket("test:bucket:none").Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Error("Get on absent key should report not found")
	}
}

func TestBucket_GetAndDelete(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	b := c.Bucket("test:bucket:2")

	if err := b.Set(ctx, "once", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v, found, err := b.GetAndDelete(ctx)
	if err != nil {
		t.Fatalf("GetAndDelete: %v", err)
	}
	if !found || v != "once" {
		t.Errorf("GetAndDelete = (%q, %v), want (once, true)", v, found)
	}

	// The key is gone after the first read.
	_, found, err = b.GetAndDelete(ctx)
	if err != nil {
		t.Fatalf("second GetAndDelete: %v", err)
	}
	if found {
		t.Error("second GetAndDelete should report not found")
	}
}

func TestBucket_TTLExpiry(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	b := c.Bucket("test:bucket:3")

	if err := b.Set(ctx, "v", 5*time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}

	mr.FastForward(6 * time.Second)

	_, found, err := b.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Error("key should have expired")
	}
}

func TestBucket_Exists(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	b := c.Bucket("test:bucket:4")

	exists, err := b.Exists(ctx)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Error("Exists should be false before Set")
	}

	if err := b.Set(ctx, "v", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	exists, err = b.Exists(ctx)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Error("Exists should be true after Set")
	}

	if err := b.Delete(ctx); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	exists, err = b.Exists(ctx)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Error("Exists should be false after Delete")
	}
}
