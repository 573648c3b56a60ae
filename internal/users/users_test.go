package users

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStore_CreateAssignsIDs(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a := &User{DisplayName: "alice"}
	b := &User{DisplayName: "bob"}
	if err := store.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, b); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if a.ID == 0 || b.ID == 0 {
		t.Fatal("expected assigned ids")
	}
	if a.ID == b.ID {
		t.Fatalf("expected distinct ids, both %d", a.ID)
	}
	if a.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be stamped")
	}
}

func TestMemoryStore_GetAndExists(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	u := &User{DisplayName: "carol"}
	if err := store.Create(ctx, u); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, u.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.DisplayName != "carol" {
		t.Errorf("DisplayName = %q", got.DisplayName)
	}

	ok, err := store.Exists(ctx, u.ID)
	if err != nil || !ok {
		t.Errorf("Exists(%d) = %v, %v", u.ID, ok, err)
	}

	ok, err = store.Exists(ctx, 9999)
	if err != nil || ok {
		t.Errorf("Exists(9999) = %v, %v", ok, err)
	}

	if _, err := store.Get(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(9999) = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	u := &User{DisplayName: "dave"}
	_ = store.Create(ctx, u)

	got, _ := store.Get(ctx, u.ID)
	got.DisplayName = "mutated"

	again, _ := store.Get(ctx, u.ID)
	if again.DisplayName != "dave" {
		t.Error("store state leaked through returned pointer")
	}
}
