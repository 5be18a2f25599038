package ledger_test

import (
	"testing"

	"github.com/modsagraphy/universa/hashid"
	"github.com/modsagraphy/universa/internal/testutil"
	"github.com/modsagraphy/universa/item"
	"github.com/modsagraphy/universa/ledger"
)

func TestGetRecordMissingReturnsNilNoError(t *testing.T) {
	l := testutil.NewLedger()
	rec, err := l.GetRecord(hashid.Of([]byte("missing")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record, got %+v", rec)
	}
}

func TestFindOrCreateIsPending(t *testing.T) {
	l := testutil.NewLedger()
	id := hashid.Of([]byte("x"))

	rec, err := l.FindOrCreate(id)
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	if rec.State() != item.StatePending {
		t.Fatalf("expected StatePending, got %v", rec.State())
	}

	again, err := l.FindOrCreate(id)
	if err != nil {
		t.Fatalf("FindOrCreate (second): %v", err)
	}
	if again.State() != item.StatePending {
		t.Fatalf("expected the same pending record back, got %v", again.State())
	}
}

func TestSaveThenGetRecordRoundTrips(t *testing.T) {
	l := testutil.NewLedger()
	id := hashid.Of([]byte("y"))

	rec, err := l.FindOrCreate(id)
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	rec.SetState(item.StateApproved)
	if err := rec.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := l.GetRecord(id)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got.State() != item.StateApproved {
		t.Fatalf("expected StateApproved, got %v", got.State())
	}
}

func TestIsApprovedExcludesLockedForCreation(t *testing.T) {
	l := testutil.NewLedger()
	id := hashid.Of([]byte("z"))

	if _, ok, err := l.CreateOutputLockRecord(id); err != nil || !ok {
		t.Fatalf("CreateOutputLockRecord: ok=%v err=%v", ok, err)
	}

	approved, err := l.IsApproved(id)
	if err != nil {
		t.Fatalf("IsApproved: %v", err)
	}
	if approved {
		t.Fatal("a reservation must not count as approved")
	}
}

func TestCreateOutputLockRecordFailsIfRecordExists(t *testing.T) {
	l := testutil.NewLedger()
	id := hashid.Of([]byte("w"))

	if _, err := l.FindOrCreate(id); err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	_, ok, err := l.CreateOutputLockRecord(id)
	if err != nil {
		t.Fatalf("CreateOutputLockRecord: %v", err)
	}
	if ok {
		t.Fatal("expected CreateOutputLockRecord to fail when a record already exists")
	}
}

func TestLockToRevokeRequiresApprovedAndUnlocked(t *testing.T) {
	l := testutil.NewLedger()
	id := hashid.Of([]byte("v"))
	owner := hashid.Of([]byte("owner"))

	// No record yet: fails.
	if _, ok, err := l.LockToRevoke(id, owner); err != nil || ok {
		t.Fatalf("expected failure with no record, got ok=%v err=%v", ok, err)
	}

	rec, err := l.FindOrCreate(id)
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	// Still pending, not approved: fails.
	if _, ok, err := l.LockToRevoke(id, owner); err != nil || ok {
		t.Fatalf("expected failure while pending, got ok=%v err=%v", ok, err)
	}

	rec.SetState(item.StateApproved)
	if err := rec.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	locked, ok, err := l.LockToRevoke(id, owner)
	if err != nil || !ok {
		t.Fatalf("expected success once approved, got ok=%v err=%v", ok, err)
	}
	if !locked.Locked() {
		t.Fatal("expected the returned record to report Locked")
	}

	// A second concurrent revoke attempt must fail while still locked.
	if _, ok, err := l.LockToRevoke(id, owner); err != nil || ok {
		t.Fatalf("expected double-lock to fail, got ok=%v err=%v", ok, err)
	}
}

func TestTransactionDiscardsWritesOnError(t *testing.T) {
	l := testutil.NewLedger()
	id := hashid.Of([]byte("t"))

	wantErr := errTest
	err := l.Transaction(func(tx ledger.Tx) error {
		rec, err := tx.FindOrCreate(id)
		if err != nil {
			return err
		}
		rec.SetState(item.StateApproved)
		if err := rec.Save(); err != nil {
			return err
		}
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("expected wantErr, got %v", err)
	}

	rec, err := l.GetRecord(id)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected no record to have been persisted, got %+v", rec)
	}
}

func TestTransactionCommitsAllWritesTogether(t *testing.T) {
	l := testutil.NewLedger()
	a := hashid.Of([]byte("a"))
	b := hashid.Of([]byte("b"))

	err := l.Transaction(func(tx ledger.Tx) error {
		ra, err := tx.FindOrCreate(a)
		if err != nil {
			return err
		}
		ra.SetState(item.StateApproved)
		if err := ra.Save(); err != nil {
			return err
		}
		rb, err := tx.FindOrCreate(b)
		if err != nil {
			return err
		}
		rb.SetState(item.StateDeclined)
		return rb.Save()
	})
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}

	ra, _ := l.GetRecord(a)
	rb, _ := l.GetRecord(b)
	if ra.State() != item.StateApproved || rb.State() != item.StateDeclined {
		t.Fatalf("unexpected final states: a=%v b=%v", ra.State(), rb.State())
	}
}

type testError string

func (e testError) Error() string { return string(e) }

const errTest = testError("boom")
