package indexer_test

import (
	"testing"

	"github.com/modsagraphy/universa/events"
	"github.com/modsagraphy/universa/hashid"
	"github.com/modsagraphy/universa/indexer"
	"github.com/modsagraphy/universa/internal/testutil"
	"github.com/modsagraphy/universa/item"
)

func TestOutcomeIndexTracksApprovedItems(t *testing.T) {
	db := testutil.NewMemDB()
	emitter := events.NewEmitter()
	idx := indexer.New(db, emitter)

	id := hashid.Of([]byte("approved-item"))
	emitter.Emit(events.Event{Type: events.EventApproved, ItemID: id, State: item.StateApproved})

	ids, err := idx.ByOutcome(string(item.StateApproved))
	if err != nil {
		t.Fatalf("ByOutcome: %v", err)
	}
	if len(ids) != 1 || ids[0] != id.String() {
		t.Fatalf("expected [%s], got %v", id, ids)
	}
}

func TestRevokesIndexTracksRevoker(t *testing.T) {
	db := testutil.NewMemDB()
	emitter := events.NewEmitter()
	idx := indexer.New(db, emitter)

	revoker := hashid.Of([]byte("revoker"))
	revoked := hashid.Of([]byte("revoked-target"))
	emitter.Emit(events.Event{
		Type:   events.EventApproved,
		ItemID: revoker,
		State:  item.StateApproved,
		Data:   map[string]any{"revokes": []hashid.ID{revoked}},
	})

	by, err := idx.RevokedBy(revoked)
	if err != nil {
		t.Fatalf("RevokedBy: %v", err)
	}
	if len(by) != 1 || by[0] != revoker.String() {
		t.Fatalf("expected [%s], got %v", revoker, by)
	}
}

func TestByOutcomeUnknownStateReturnsEmpty(t *testing.T) {
	db := testutil.NewMemDB()
	idx := indexer.New(db, events.NewEmitter())

	ids, err := idx.ByOutcome("NOT_A_REAL_STATE")
	if err != nil {
		t.Fatalf("ByOutcome: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no ids, got %v", ids)
	}
}
