package escrow

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/oselz/escrowd/internal/money"
	"github.com/oselz/escrowd/internal/testutil"
)

func seedParties(t *testing.T, db *sql.DB) (buyer, seller int64) {
	t.Helper()
	ctx := context.Background()
	for _, name := range []string{"pg-buyer", "pg-seller"} {
		var id int64
		err := db.QueryRowContext(ctx,
			`INSERT INTO users (display_name) VALUES ($1) RETURNING id`, name).Scan(&id)
		if err != nil {
			t.Fatalf("seed user %s: %v", name, err)
		}
		if name == "pg-buyer" {
			buyer = id
		} else {
			seller = id
		}
	}
	return buyer, seller
}

func pgTransaction(t *testing.T, buyer, seller int64) *Transaction {
	t.Helper()
	a, err := money.ParsePositive("42.500000")
	if err != nil {
		t.Fatalf("parse amount: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &Transaction{
		SellerID:          seller,
		BuyerID:           buyer,
		Amount:            a,
		Status:            StatusPending,
		Memo:              "integration",
		ReleaseConditions: "on delivery",
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func TestPostgresStore_CreateGetRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	buyer, seller := seedParties(t, db)

	store := NewPostgresStore(db)
	ctx := context.Background()

	tx := pgTransaction(t, buyer, seller)
	if err := store.Create(ctx, tx); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if tx.ID == 0 {
		t.Fatal("Create did not assign an id")
	}

	got, err := store.Get(ctx, tx.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Amount != tx.Amount {
		t.Errorf("amount = %s, want %s", got.Amount, tx.Amount)
	}
	if got.Status != StatusPending || got.Memo != "integration" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.AutoReleaseAt != nil || got.DisputeStatus != DisputeNone {
		t.Errorf("unset fields came back populated: %+v", got)
	}

	if _, err := store.Get(ctx, 999999); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id: got %v, want ErrNotFound", err)
	}
}

func TestPostgresStore_UpdateConditional(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	buyer, seller := seedParties(t, db)

	store := NewPostgresStore(db)
	ctx := context.Background()

	tx := pgTransaction(t, buyer, seller)
	if err := store.Create(ctx, tx); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	deadline := tx.CreatedAt.Add(24 * time.Hour)
	tx.Status = StatusLocked
	tx.PaymentIdentifier = "PI_PG_1"
	tx.AutoReleaseAt = &deadline
	if err := store.UpdateConditional(ctx, tx, StatusPending, false); err != nil {
		t.Fatalf("conditional lock failed: %v", err)
	}

	// Same expected-status condition must now lose.
	if err := store.UpdateConditional(ctx, tx, StatusPending, false); !errors.Is(err, ErrStateConflict) {
		t.Errorf("stale condition: got %v, want ErrStateConflict", err)
	}

	missing := pgTransaction(t, buyer, seller)
	missing.ID = 999999
	if err := store.UpdateConditional(ctx, missing, StatusPending, false); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id: got %v, want ErrNotFound", err)
	}
}

func TestPostgresStore_DisputeGuard(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	buyer, seller := seedParties(t, db)

	store := NewPostgresStore(db)
	ctx := context.Background()

	tx := pgTransaction(t, buyer, seller)
	deadline := tx.CreatedAt.Add(24 * time.Hour)
	tx.Status = StatusLocked
	tx.PaymentIdentifier = "PI_PG_2"
	tx.AutoReleaseAt = &deadline
	tx.DisputeStatus = DisputePending
	tx.DisputeReason = "never arrived"
	if err := store.Create(ctx, tx); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// A release with the dispute guard must not win against a pending dispute.
	attempt := tx.Clone()
	attempt.Status = StatusReleased
	if err := store.UpdateConditional(ctx, attempt, StatusLocked, true); !errors.Is(err, ErrStateConflict) {
		t.Fatalf("guarded release: got %v, want ErrStateConflict", err)
	}

	// Without the guard (the dispute transition itself) the same row is writable.
	attempt.Status = StatusDisputed
	if err := store.UpdateConditional(ctx, attempt, StatusLocked, false); err != nil {
		t.Fatalf("unguarded update failed: %v", err)
	}
}

func TestPostgresStore_ListDueForRelease(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	buyer, seller := seedParties(t, db)

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	lock := func(tx *Transaction, due time.Time, dispute DisputeStatus) *Transaction {
		tx.Status = StatusLocked
		tx.PaymentIdentifier = "PI_" + tx.Memo
		tx.AutoReleaseAt = &due
		tx.DisputeStatus = dispute
		if err := store.Create(ctx, tx); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		return tx
	}

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	due := pgTransaction(t, buyer, seller)
	due.Memo = "due"
	lock(due, past, DisputeNone)

	notYet := pgTransaction(t, buyer, seller)
	notYet.Memo = "notyet"
	lock(notYet, future, DisputeNone)

	disputed := pgTransaction(t, buyer, seller)
	disputed.Memo = "disputed"
	lock(disputed, past, DisputePending)

	got, err := store.ListDueForRelease(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListDueForRelease failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != due.ID {
		t.Errorf("due = %+v, want only tx %d", got, due.ID)
	}
}

func TestPostgresStore_ListByBuyerAndDisputed(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	buyer, seller := seedParties(t, db)

	store := NewPostgresStore(db)
	ctx := context.Background()

	first := pgTransaction(t, buyer, seller)
	if err := store.Create(ctx, first); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	second := pgTransaction(t, buyer, seller)
	second.CreatedAt = second.CreatedAt.Add(time.Second)
	second.UpdatedAt = second.CreatedAt
	second.Status = StatusDisputed
	second.DisputeStatus = DisputePending
	second.DisputeReason = "damaged"
	if err := store.Create(ctx, second); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	byBuyer, err := store.ListByBuyer(ctx, buyer, 10)
	if err != nil {
		t.Fatalf("ListByBuyer failed: %v", err)
	}
	if len(byBuyer) != 2 || byBuyer[0].ID != second.ID {
		t.Errorf("byBuyer = %+v, want newest first", byBuyer)
	}

	disputed, err := store.ListDisputed(ctx)
	if err != nil {
		t.Fatalf("ListDisputed failed: %v", err)
	}
	if len(disputed) != 1 || disputed[0].ID != second.ID {
		t.Errorf("disputed = %+v, want only tx %d", disputed, second.ID)
	}
	if disputed[0].DisputeReason != "damaged" {
		t.Errorf("dispute reason = %q", disputed[0].DisputeReason)
	}
}
