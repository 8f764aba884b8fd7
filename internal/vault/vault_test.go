package vault

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type memoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string]Record)}
}

func (s *memoryStore) SaveCredential(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.UserID] = rec
	return nil
}

func (s *memoryStore) GetCredential(_ context.Context, userID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func newTestVault(t *testing.T, store Store, secret string) *Vault {
	t.Helper()
	v, err := New(store, []byte(secret), func() time.Time {
		return time.Date(2025, time.November, 5, 9, 0, 0, 0, time.UTC)
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v
}

func TestStoreLoadRoundTrip(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	v := newTestVault(t, store, "machine-a")
	ctx := context.Background()

	blob := []byte(`{"cookies":[{"name":"sid","value":"abc"}]}`)
	if err := v.Store(ctx, "user-1", blob); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, err := v.Load(ctx, "user-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got) != string(blob) {
		t.Fatalf("Load = %q, want %q", got, blob)
	}

	// Ciphertext at rest never equals the plaintext.
	rec, err := store.GetCredential(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	if string(rec.Ciphertext) == string(blob) {
		t.Fatal("credential stored in plaintext")
	}
	if !rec.Valid {
		t.Fatal("freshly stored credential should be valid")
	}
}

func TestLoadUnknownUser(t *testing.T) {
	t.Parallel()

	v := newTestVault(t, newMemoryStore(), "machine-a")
	if _, err := v.Load(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load unknown = %v, want ErrNotFound", err)
	}
}

func TestRefreshOverwrites(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	v := newTestVault(t, store, "machine-a")
	ctx := context.Background()

	if err := v.Store(ctx, "user-1", []byte("first")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := v.Store(ctx, "user-1", []byte("second")); err != nil {
		t.Fatalf("Store refresh: %v", err)
	}

	got, err := v.Load(ctx, "user-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("Load after refresh = %q, want %q", got, "second")
	}
	if len(store.records) != 1 {
		t.Fatalf("store holds %d records, want exactly 1 per user", len(store.records))
	}
}

func TestTamperedCiphertext(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	v := newTestVault(t, store, "machine-a")
	ctx := context.Background()

	if err := v.Store(ctx, "user-1", []byte("payload")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	rec := store.records["user-1"]
	rec.Ciphertext[len(rec.Ciphertext)-1] ^= 0xff
	store.records["user-1"] = rec

	if _, err := v.Load(ctx, "user-1"); !errors.Is(err, ErrDecryption) {
		t.Fatalf("Load tampered = %v, want ErrDecryption", err)
	}
}

func TestCrossMachineDecryptionFails(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	origin := newTestVault(t, store, "machine-a")
	ctx := context.Background()

	if err := origin.Store(ctx, "user-1", []byte("payload")); err != nil {
		t.Fatalf("Store: %v", err)
	}

	// Same store, different machine secret: the record must not open.
	other := newTestVault(t, store, "machine-b")
	if _, err := other.Load(ctx, "user-1"); !errors.Is(err, ErrDecryption) {
		t.Fatalf("cross-machine Load = %v, want ErrDecryption", err)
	}
}

func TestKeysAreUserScoped(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	v := newTestVault(t, store, "machine-a")
	ctx := context.Background()

	if err := v.Store(ctx, "alice", []byte("alice-session")); err != nil {
		t.Fatalf("Store: %v", err)
	}

	// Moving alice's ciphertext onto bob's record must not decrypt.
	rec := store.records["alice"]
	rec.UserID = "bob"
	store.records["bob"] = rec

	if _, err := v.Load(ctx, "bob"); !errors.Is(err, ErrDecryption) {
		t.Fatalf("Load with foreign ciphertext = %v, want ErrDecryption", err)
	}
}

func TestInvalidate(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	v := newTestVault(t, store, "machine-a")
	ctx := context.Background()

	if err := v.Store(ctx, "user-1", []byte("payload")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := v.Invalidate(ctx, "user-1"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := v.Load(ctx, "user-1"); !errors.Is(err, ErrInvalidated) {
		t.Fatalf("Load invalidated = %v, want ErrInvalidated", err)
	}

	// A fresh capture restores validity.
	if err := v.Store(ctx, "user-1", []byte("fresh")); err != nil {
		t.Fatalf("Store refresh: %v", err)
	}
	if _, err := v.Load(ctx, "user-1"); err != nil {
		t.Fatalf("Load after refresh = %v, want success", err)
	}
}

func TestStoreRejectsEmpty(t *testing.T) {
	t.Parallel()

	v := newTestVault(t, newMemoryStore(), "machine-a")
	if err := v.Store(context.Background(), "user-1", nil); err == nil {
		t.Fatal("empty credential must be rejected")
	}
	if err := v.Store(context.Background(), " ", []byte("x")); err == nil {
		t.Fatal("blank user id must be rejected")
	}
}
