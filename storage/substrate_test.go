package storage

import (
	"context"
	"testing"
	"time"

	sdkerrors "github.com/a-cube-io/ereceipts-sdk-go/errors"
)

func newTestSubstrate() *Substrate {
	return New(NewMemoryBackend(), Config{Namespace: "test", CoalesceWindow: 0}, nil)
}

func TestSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestSubstrate()
	defer s.Close(ctx)

	if err := s.Set(ctx, "receipt-1", []byte(`{"amount":10}`), SetOptions{}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	entry, ok, err := s.Get(ctx, "receipt-1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(entry.Value) != `{"amount":10}` {
		t.Fatalf("unexpected value: %s", entry.Value)
	}
}

func TestGetMissingKey(t *testing.T) {
	ctx := context.Background()
	s := newTestSubstrate()
	defer s.Close(ctx)

	_, ok, err := s.Get(ctx, "nope")
	if err != nil || ok {
		t.Fatalf("expected not-found, got ok=%v err=%v", ok, err)
	}
}

func TestSetOverwriteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestSubstrate()
	defer s.Close(ctx)

	if err := s.Set(ctx, "k", []byte("v1"), SetOptions{}); err != nil {
		t.Fatalf("first set: %v", err)
	}
	first, _, _ := s.Get(ctx, "k")
	created := first.Metadata.CreatedAt

	time.Sleep(time.Millisecond)
	if err := s.Set(ctx, "k", []byte("v2"), SetOptions{}); err != nil {
		t.Fatalf("second set: %v", err)
	}
	second, ok, err := s.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("get after overwrite: ok=%v err=%v", ok, err)
	}
	if string(second.Value) != "v2" {
		t.Fatalf("expected v2, got %s", second.Value)
	}
	if !second.Metadata.CreatedAt.Equal(created) {
		t.Fatalf("CreatedAt should be preserved across overwrite")
	}
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := newTestSubstrate()
	defer s.Close(ctx)

	if err := s.Set(ctx, "short", []byte("v"), SetOptions{TTL: time.Millisecond}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	_, ok, err := s.Get(ctx, "short")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected entry to have expired")
	}
}

func TestDeleteReportsExistence(t *testing.T) {
	ctx := context.Background()
	s := newTestSubstrate()
	defer s.Close(ctx)

	existed, err := s.Delete(ctx, "absent")
	if err != nil || existed {
		t.Fatalf("expected not-existed, got existed=%v err=%v", existed, err)
	}

	_ = s.Set(ctx, "present", []byte("v"), SetOptions{})
	existed, err = s.Delete(ctx, "present")
	if err != nil || !existed {
		t.Fatalf("expected existed, got existed=%v err=%v", existed, err)
	}
}

func TestCompressionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestSubstrate()
	defer s.Close(ctx)

	big := make([]byte, 4096)
	for i := range big {
		big[i] = byte(i % 7)
	}

	if err := s.Set(ctx, "big", big, SetOptions{Compress: true}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	entry, ok, err := s.Get(ctx, "big")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if len(entry.Value) != len(big) {
		t.Fatalf("length mismatch after decompression: got %d want %d", len(entry.Value), len(big))
	}
	if !entry.Metadata.Compressed {
		t.Fatal("expected Compressed flag set")
	}
}

func TestEncryptWithoutEncryptorFails(t *testing.T) {
	ctx := context.Background()
	s := newTestSubstrate()
	defer s.Close(ctx)

	err := s.Set(ctx, "secret", []byte("v"), SetOptions{Encrypt: true})
	if !sdkerrors.Is(err, "encryption") {
		t.Fatalf("expected encryption kind error, got %v", err)
	}
}

func TestQueryFiltersByPrefixAndSorts(t *testing.T) {
	ctx := context.Background()
	s := newTestSubstrate()
	defer s.Close(ctx)

	_ = s.Set(ctx, "receipts/b", []byte("2"), SetOptions{})
	_ = s.Set(ctx, "receipts/a", []byte("1"), SetOptions{})
	_ = s.Set(ctx, "other/c", []byte("3"), SetOptions{})

	entries, err := s.Query(ctx, QueryOptions{Prefix: "receipts/", SortBy: SortByKey})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Key != "receipts/a" || entries[1].Key != "receipts/b" {
		t.Fatalf("unexpected order: %v", entries)
	}
}

func TestQueryPagination(t *testing.T) {
	ctx := context.Background()
	s := newTestSubstrate()
	defer s.Close(ctx)

	for _, k := range []string{"p/1", "p/2", "p/3"} {
		_ = s.Set(ctx, k, []byte("v"), SetOptions{})
	}

	entries, err := s.Query(ctx, QueryOptions{Prefix: "p/", SortBy: SortByKey, Offset: 1, Limit: 1})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 || entries[0].Key != "p/2" {
		t.Fatalf("unexpected page: %v", entries)
	}
}

func TestSetManyGetManyDeleteMany(t *testing.T) {
	ctx := context.Background()
	s := newTestSubstrate()
	defer s.Close(ctx)

	items := map[string][]byte{"a": []byte("1"), "b": []byte("2")}
	if err := s.SetMany(ctx, items, SetOptions{}); err != nil {
		t.Fatalf("SetMany: %v", err)
	}

	got, err := s.GetMany(ctx, []string{"a", "b", "missing"})
	if err != nil {
		t.Fatalf("GetMany: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}

	n, err := s.DeleteMany(ctx, []string{"a", "missing"})
	if err != nil {
		t.Fatalf("DeleteMany: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deletion, got %d", n)
	}
}

func TestClearRemovesAllEntries(t *testing.T) {
	ctx := context.Background()
	s := newTestSubstrate()
	defer s.Close(ctx)

	_ = s.Set(ctx, "x", []byte("1"), SetOptions{})
	_ = s.Set(ctx, "y", []byte("2"), SetOptions{})

	if err := s.Clear(ctx, ""); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	_, ok, _ := s.Get(ctx, "x")
	if ok {
		t.Fatal("expected entries to be cleared")
	}
}

func TestStatsReportsEntryCount(t *testing.T) {
	ctx := context.Background()
	s := newTestSubstrate()
	defer s.Close(ctx)

	_ = s.Set(ctx, "a", []byte("1"), SetOptions{})
	_ = s.Set(ctx, "b", []byte("2"), SetOptions{})

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.EntryCount != 2 {
		t.Fatalf("expected 2 entries, got %d", stats.EntryCount)
	}
}

func TestWriteCoalescingReleasesAllWaiters(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackend(), Config{Namespace: "test", CoalesceWindow: 20 * time.Millisecond, CoalesceMaxBatch: 10}, nil)
	defer s.Close(ctx)

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func(n int) {
			errs <- s.Set(ctx, "coalesced", []byte{byte(n)}, SetOptions{})
		}(i)
	}
	for i := 0; i < 3; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("coalesced set failed: %v", err)
		}
	}

	_, ok, err := s.Get(ctx, "coalesced")
	if err != nil || !ok {
		t.Fatalf("expected coalesced key to be persisted: ok=%v err=%v", ok, err)
	}
}

func TestNamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	a := New(backend, Config{Namespace: "a"}, nil)
	b := New(backend, Config{Namespace: "b"}, nil)
	defer a.Close(ctx)
	defer b.Close(ctx)

	_ = a.Set(ctx, "shared-key", []byte("from-a"), SetOptions{})
	_, ok, _ := b.Get(ctx, "shared-key")
	if ok {
		t.Fatal("namespaces must not leak keys between substrates")
	}
}
