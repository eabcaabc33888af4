package harness

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newTestSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	// Each pooled connection would get its own in-memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	store := NewSQLStore(db)
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Failed to init store: %v", err)
	}
	return store
}

func TestSQLStoreUpsertSupersedes(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	first := &TokenBundle{AccessToken: "first-token", IssuedAt: time.Now()}
	if err := store.Upsert(ctx, "user-1", ProviderInstagram, first); err != nil {
		t.Fatalf("First upsert failed: %v", err)
	}

	second := &TokenBundle{AccessToken: "second-token", IssuedAt: time.Now()}
	if err := store.Upsert(ctx, "user-1", ProviderInstagram, second); err != nil {
		t.Fatalf("Second upsert failed: %v", err)
	}

	rec, err := store.Get(ctx, "user-1", ProviderInstagram)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	var stored TokenBundle
	if err := json.Unmarshal(rec.Payload, &stored); err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}
	if stored.AccessToken != "second-token" {
		t.Errorf("AccessToken = %s, want second-token (latest wins)", stored.AccessToken)
	}

	records, err := store.List(ctx, "user-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("List returned %d records, want 1", len(records))
	}
}

func TestSQLStoreOneRowPerUser(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	bundle := &TokenBundle{AccessToken: "tok", IssuedAt: time.Now()}
	if err := store.Upsert(ctx, "user-1", ProviderInstagram, bundle); err != nil {
		t.Fatalf("Upsert instagram failed: %v", err)
	}
	if err := store.Upsert(ctx, "user-1", ProviderGoogle, bundle); err != nil {
		t.Fatalf("Upsert google failed: %v", err)
	}

	var rows int
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM credentials`).Scan(&rows); err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if rows != 1 {
		t.Errorf("Table has %d rows for one user, want 1", rows)
	}

	records, err := store.List(ctx, "user-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("List returned %d records, want 2", len(records))
	}
}

func TestSQLStoreGetNotFound(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	if _, err := store.Get(ctx, "nobody", ProviderInstagram); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get for unknown user = %v, want ErrNotFound", err)
	}

	// A row may exist with the requested provider column still empty
	bundle := &TokenBundle{AccessToken: "tok", IssuedAt: time.Now()}
	if err := store.Upsert(ctx, "user-1", ProviderInstagram, bundle); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if _, err := store.Get(ctx, "user-1", ProviderGoogle); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get for empty column = %v, want ErrNotFound", err)
	}
}

func TestSQLStoreUnknownProvider(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	bundle := &TokenBundle{AccessToken: "tok"}
	if err := store.Upsert(ctx, "user-1", "mystery; DROP TABLE credentials", bundle); err == nil {
		t.Error("Upsert with unknown provider should fail")
	}
	if _, err := store.Get(ctx, "user-1", "mystery"); err == nil {
		t.Error("Get with unknown provider should fail")
	}
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create file store: %v", err)
	}
	ctx := context.Background()

	bundle := &TokenBundle{AccessToken: "file-token", UserID: "178414", IssuedAt: time.Now()}
	if err := store.Upsert(ctx, "user-1", ProviderInstagram, bundle); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	// Overwrite is idempotent
	if err := store.Upsert(ctx, "user-1", ProviderInstagram, bundle); err != nil {
		t.Fatalf("Repeated upsert failed: %v", err)
	}

	rec, err := store.Get(ctx, "user-1", ProviderInstagram)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.OwnerUserID != "user-1" || rec.Provider != ProviderInstagram {
		t.Errorf("Record keys = %s/%s", rec.OwnerUserID, rec.Provider)
	}

	var stored TokenBundle
	if err := json.Unmarshal(rec.Payload, &stored); err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}
	if stored.AccessToken != "file-token" {
		t.Errorf("AccessToken = %s", stored.AccessToken)
	}

	if _, err := store.Get(ctx, "user-1", ProviderGoogle); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get for missing provider = %v, want ErrNotFound", err)
	}

	records, err := store.List(ctx, "user-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("List returned %d records, want 1", len(records))
	}
}
