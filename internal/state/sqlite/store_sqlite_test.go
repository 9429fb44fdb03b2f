package sqlite

import (
	"context"
	"testing"
)

func TestStoreRoundTrip(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Set(ctx, "sim", `{"usdtBalance":2000}`); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.Set(ctx, "sim", `{"usdtBalance":1500}`); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	val, ok, err := store.Get(ctx, "sim")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !ok || val != `{"usdtBalance":1500}` {
		t.Fatalf("unexpected value: %v (ok=%v)", val, ok)
	}
	if err := store.Delete(ctx, "sim"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	_, ok, err = store.Get(ctx, "sim")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ok {
		t.Fatalf("expected key to be deleted")
	}
}
