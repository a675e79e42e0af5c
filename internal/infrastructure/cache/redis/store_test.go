package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewWithClient(client), mr
}

func TestStoreGetMissThenHit(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, found, err := store.Get(ctx, "rag:search:k"); err != nil || found {
		t.Fatalf("expected clean miss, found=%v err=%v", found, err)
	}

	if err := store.Set(ctx, "rag:search:k", []byte(`{"a":1}`), time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	raw, found, err := store.Get(ctx, "rag:search:k")
	if err != nil || !found {
		t.Fatalf("expected hit, found=%v err=%v", found, err)
	}
	if string(raw) != `{"a":1}` {
		t.Fatalf("unexpected payload: %s", raw)
	}
}

func TestStoreTTLExpiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "rag:emb:k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	mr.FastForward(2 * time.Minute)

	if _, found, err := store.Get(ctx, "rag:emb:k"); err != nil || found {
		t.Fatalf("expected expiry, found=%v err=%v", found, err)
	}
}

func TestStoreIndexRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.AddToIndex(ctx, "rag:docidx:doc-1", "rag:search:a", time.Hour); err != nil {
		t.Fatalf("AddToIndex() error = %v", err)
	}
	if err := store.AddToIndex(ctx, "rag:docidx:doc-1", "rag:search:b", time.Hour); err != nil {
		t.Fatalf("AddToIndex() error = %v", err)
	}

	members, err := store.IndexMembers(ctx, "rag:docidx:doc-1")
	if err != nil {
		t.Fatalf("IndexMembers() error = %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 indexed keys, got %d", len(members))
	}

	if err := store.Delete(ctx, members...); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(ctx, "rag:docidx:doc-1"); err != nil {
		t.Fatalf("Delete() index error = %v", err)
	}
	remaining, err := store.IndexMembers(ctx, "rag:docidx:doc-1")
	if err != nil {
		t.Fatalf("IndexMembers() after delete error = %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected empty index, got %v", remaining)
	}
}

func TestNamespaceOf(t *testing.T) {
	cases := map[string]string{
		"rag:search:abc": "search",
		"rag:emb:abc":    "emb",
		"noprefix":       "unknown",
	}
	for key, want := range cases {
		if got := namespaceOf(key); got != want {
			t.Fatalf("namespaceOf(%q) = %q, want %q", key, got, want)
		}
	}
}
