package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestMemoryStoreEnsureKeepsExistingBalance(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	balance, err := store.Ensure(ctx, "alice", 1000)
	if err != nil {
		t.Fatalf("Ensure returned error: %v", err)
	}
	if balance != 1000 {
		t.Fatalf("expected starting balance 1000, got %d", balance)
	}

	if err := store.SetBalance(ctx, "alice", 250); err != nil {
		t.Fatalf("SetBalance returned error: %v", err)
	}
	balance, err = store.Ensure(ctx, "alice", 1000)
	if err != nil {
		t.Fatalf("Ensure returned error: %v", err)
	}
	if balance != 250 {
		t.Fatalf("Ensure must not reset an existing balance, got %d", balance)
	}
}

func TestMemoryStoreUnknownAccount(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Balance(ctx, "ghost"); !errors.Is(err, ErrNoAccount) {
		t.Fatalf("expected ErrNoAccount, got %v", err)
	}
	if err := store.SetBalance(ctx, "ghost", 10); !errors.Is(err, ErrNoAccount) {
		t.Fatalf("expected ErrNoAccount, got %v", err)
	}
}

func TestMemoryStoreFailNext(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Ensure(ctx, "alice", 100); err != nil {
		t.Fatalf("Ensure returned error: %v", err)
	}

	boom := errors.New("store down")
	store.FailNext(boom)
	if _, err := store.Balance(ctx, "alice"); !errors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if _, err := store.Balance(ctx, "alice"); err != nil {
		t.Fatalf("failure must clear after one operation, got %v", err)
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite returned error: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	balance, err := store.Ensure(ctx, "alice", 1000)
	if err != nil {
		t.Fatalf("Ensure returned error: %v", err)
	}
	if balance != 1000 {
		t.Fatalf("expected starting balance 1000, got %d", balance)
	}

	if err := store.SetBalance(ctx, "alice", 1100); err != nil {
		t.Fatalf("SetBalance returned error: %v", err)
	}
	balance, err = store.Balance(ctx, "alice")
	if err != nil {
		t.Fatalf("Balance returned error: %v", err)
	}
	if balance != 1100 {
		t.Fatalf("expected balance 1100, got %d", balance)
	}

	if _, err := store.Balance(ctx, "nobody"); !errors.Is(err, ErrNoAccount) {
		t.Fatalf("expected ErrNoAccount, got %v", err)
	}
	if err := store.SetBalance(ctx, "nobody", 5); !errors.Is(err, ErrNoAccount) {
		t.Fatalf("expected ErrNoAccount, got %v", err)
	}
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	store, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite returned error: %v", err)
	}
	if _, err := store.Ensure(ctx, "bob", 900); err != nil {
		t.Fatalf("Ensure returned error: %v", err)
	}
	if err := store.SetBalance(ctx, "bob", 650); err != nil {
		t.Fatalf("SetBalance returned error: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	reopened, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen returned error: %v", err)
	}
	defer reopened.Close()
	balance, err := reopened.Balance(ctx, "bob")
	if err != nil {
		t.Fatalf("Balance returned error: %v", err)
	}
	if balance != 650 {
		t.Fatalf("expected persisted balance 650, got %d", balance)
	}
}
