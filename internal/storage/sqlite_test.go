package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hanamilabs/tg-forwarder/internal/domain"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "tg_forwarder.session"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestPeerCacheRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.LookupPeer(ctx, "@source"); err != nil || ok {
		t.Fatalf("expected empty cache, got ok=%v err=%v", ok, err)
	}
	if err := store.RememberPeer(ctx, "@Source", -1001); err != nil {
		t.Fatalf("remember peer: %v", err)
	}
	if err := store.RememberPeer(ctx, "source", -1002); err != nil {
		t.Fatalf("remember peer again: %v", err)
	}

	chatID, ok, err := store.LookupPeer(ctx, "@SOURCE")
	if err != nil || !ok {
		t.Fatalf("expected cached peer, got ok=%v err=%v", ok, err)
	}
	if chatID != -1002 {
		t.Fatalf("expected latest chat id -1002, got %d", chatID)
	}
}

func TestRememberPeerRejectsEmptyUsername(t *testing.T) {
	store := openTestStore(t)
	if err := store.RememberPeer(context.Background(), " @ ", 1); err == nil {
		t.Fatalf("expected error for empty username")
	}
}

func TestSaveAccountUpserts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.LoadAccount(ctx, "tg_forwarder"); err != nil || ok {
		t.Fatalf("expected no account, got ok=%v err=%v", ok, err)
	}
	if err := store.SaveAccount(ctx, "tg_forwarder", domain.Identity{ID: 1, FirstName: "Old"}); err != nil {
		t.Fatalf("save account: %v", err)
	}
	want := domain.Identity{ID: 2, FirstName: "Relay", LastName: "Bot", Username: "relay_bot"}
	if err := store.SaveAccount(ctx, "tg_forwarder", want); err != nil {
		t.Fatalf("save account again: %v", err)
	}

	got, ok, err := store.LoadAccount(ctx, "tg_forwarder")
	if err != nil || !ok {
		t.Fatalf("expected account, got ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("expected second migrate to succeed, got %v", err)
	}
}
