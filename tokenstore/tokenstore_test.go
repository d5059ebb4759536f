package tokenstore

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/a-cube-io/ereceipts-sdk-go/crypto"
	"github.com/a-cube-io/ereceipts-sdk-go/storage"
)

func newTestStore(t *testing.T) (*Store, *storage.Substrate) {
	t.Helper()
	backend := storage.NewMemoryBackend()
	enc := crypto.NewService(storage.NewRawKeyStore(backend), "test-secret")
	sub := storage.New(backend, storage.Config{Namespace: "auth", Encryptor: enc}, nil)
	t.Cleanup(func() { sub.Close(context.Background()) })
	return New(sub, nil, nil), sub
}

func TestStoreRetrieveRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	record := Record{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", ExpiresAt: time.Now().Add(time.Hour)}
	if err := store.Store(ctx, record); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, ok, err := store.Retrieve(ctx)
	if err != nil || !ok {
		t.Fatalf("Retrieve: ok=%v err=%v", ok, err)
	}
	if got.AccessToken != "a" || got.RefreshToken != "r" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestRetrieveExpiredReturnsNone(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_ = store.Store(ctx, Record{AccessToken: "a", ExpiresAt: time.Now().Add(-time.Minute)})

	_, ok, err := store.Retrieve(ctx)
	if err != nil || ok {
		t.Fatalf("expected expired record to read as absent: ok=%v err=%v", ok, err)
	}
}

func TestClearRemovesRecord(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_ = store.Store(ctx, Record{AccessToken: "a", ExpiresAt: time.Now().Add(time.Hour)})
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	_, ok, err := store.Retrieve(ctx)
	if err != nil || ok {
		t.Fatalf("expected no record after Clear: ok=%v err=%v", ok, err)
	}
}

func TestUpdatePatchesPartialFields(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_ = store.Store(ctx, Record{AccessToken: "old", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour)})

	err := store.Update(ctx, func(r Record) Record {
		r.AccessToken = "new"
		return r
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, ok, _ := store.Retrieve(ctx)
	if !ok || got.AccessToken != "new" || got.RefreshToken != "r" {
		t.Fatalf("unexpected record after Update: %+v", got)
	}
}

func TestMigrateLegacyRecord(t *testing.T) {
	ctx := context.Background()
	store, sub := newTestStore(t)

	legacy := Record{AccessToken: "legacy-a", RefreshToken: "legacy-r", ExpiresAt: time.Now().Add(time.Hour)}
	raw, _ := json.Marshal(legacy)
	if err := sub.Set(ctx, LegacyRecordKey, raw, storage.SetOptions{}); err != nil {
		t.Fatalf("seed legacy: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	got, ok, err := store.Retrieve(ctx)
	if err != nil || !ok {
		t.Fatalf("Retrieve after migrate: ok=%v err=%v", ok, err)
	}
	if got.AccessToken != "legacy-a" {
		t.Fatalf("unexpected migrated record: %+v", got)
	}

	if _, ok, _ := sub.Get(ctx, LegacyRecordKey); ok {
		t.Fatal("legacy key should have been removed after migration")
	}
}

func TestStoredRecordContainsNoPlaintext(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	enc := crypto.NewService(storage.NewRawKeyStore(backend), "test-secret")
	sub := storage.New(backend, storage.Config{Namespace: "auth", Encryptor: enc}, nil)
	defer sub.Close(ctx)
	store := New(sub, nil, nil)

	record := Record{AccessToken: "super-secret-access", RefreshToken: "super-secret-refresh", ExpiresAt: time.Now().Add(time.Hour)}
	if err := store.Store(ctx, record); err != nil {
		t.Fatalf("Store: %v", err)
	}

	raw, found, err := backend.Get(ctx, "auth:"+RecordKey)
	if err != nil || !found {
		t.Fatalf("expected raw entry in backend: found=%v err=%v", found, err)
	}
	if strings.Contains(string(raw), "super-secret-access") || strings.Contains(string(raw), "super-secret-refresh") {
		t.Fatal("persisted record must not contain plaintext token values")
	}

	got, ok, err := store.Retrieve(ctx)
	if err != nil || !ok || got.AccessToken != "super-secret-access" {
		t.Fatalf("decrypted round-trip failed: ok=%v err=%v got=%+v", ok, err, got)
	}
}

func TestRetrieveRawReturnsExpiredRecords(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_ = store.Store(ctx, Record{AccessToken: "a", RefreshToken: "r", ExpiresAt: time.Now().Add(-time.Minute)})

	if _, ok, _ := store.Retrieve(ctx); ok {
		t.Fatal("Retrieve should filter out the expired record")
	}

	got, ok, err := store.RetrieveRaw(ctx)
	if err != nil || !ok {
		t.Fatalf("RetrieveRaw: ok=%v err=%v", ok, err)
	}
	if got.RefreshToken != "r" {
		t.Fatalf("expected expired record with its refresh token intact, got %+v", got)
	}
}

func TestExistsReflectsPresence(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	exists, err := store.Exists(ctx)
	if err != nil || exists {
		t.Fatalf("expected no record initially: exists=%v err=%v", exists, err)
	}

	_ = store.Store(ctx, Record{AccessToken: "a", ExpiresAt: time.Now().Add(time.Hour)})
	exists, err = store.Exists(ctx)
	if err != nil || !exists {
		t.Fatalf("expected record to exist: exists=%v err=%v", exists, err)
	}
}
