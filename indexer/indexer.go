// Package indexer maintains secondary indexes over item outcomes so
// operators can query "everything this node has declined/revoked" without
// scanning the ledger. It is a read-only convenience layer: consensus logic
// never consults it, per invariant 6 (the Ledger remains authoritative).
package indexer

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/modsagraphy/universa/events"
	"github.com/modsagraphy/universa/hashid"
	"github.com/modsagraphy/universa/ledger"
)

const (
	prefixOutcome = "idx:outcome:"
	prefixRevokes = "idx:revokes:"
)

// Indexer subscribes to item lifecycle events and updates secondary lookup
// tables backed by the same DB the ledger uses.
type Indexer struct {
	db ledger.DB
}

// New creates an Indexer backed by db and subscribes it to emitter.
func New(db ledger.DB, emitter *events.Emitter) *Indexer {
	idx := &Indexer{db: db}
	emitter.Subscribe(events.EventApproved, idx.onTerminal)
	emitter.Subscribe(events.EventDeclined, idx.onTerminal)
	emitter.Subscribe(events.EventRevoked, idx.onTerminal)
	// EventDiscarded covers items rejected before a processor ever existed
	// (see dispatch.Node.RegisterItem); EventExpired covers UNDEFINED
	// outcomes a processor reaches by running out of time. Either way
	// onTerminal indexes by ev.State, not ev.Type.
	emitter.Subscribe(events.EventDiscarded, idx.onTerminal)
	emitter.Subscribe(events.EventExpired, idx.onTerminal)
	return idx
}

// ByOutcome returns every item id that terminated in state.
func (idx *Indexer) ByOutcome(state string) ([]string, error) {
	return idx.getList(prefixOutcome + state)
}

// RevokedBy returns the ids of items that revoked id.
func (idx *Indexer) RevokedBy(id hashid.ID) ([]string, error) {
	return idx.getList(prefixRevokes + id.String())
}

func (idx *Indexer) onTerminal(ev events.Event) {
	key := prefixOutcome + string(ev.State)
	if err := idx.addToList(key, ev.ItemID.String()); err != nil {
		log.Printf("[indexer] outcome index write failed (item=%s state=%s): %v", ev.ItemID, ev.State, err)
	}

	revokes, _ := ev.Data["revokes"].([]hashid.ID)
	for _, revoked := range revokes {
		if err := idx.addToList(prefixRevokes+revoked.String(), ev.ItemID.String()); err != nil {
			log.Printf("[indexer] revokes index write failed (revoked=%s by=%s): %v", revoked, ev.ItemID, err)
		}
	}
}

// ---- list helpers ----

func (idx *Indexer) getList(key string) ([]string, error) {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if err == ledger.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return ids, nil
}

func (idx *Indexer) addToList(key, value string) error {
	ids, err := idx.getList(key)
	if err != nil {
		return fmt.Errorf("read list: %w", err)
	}
	for _, id := range ids {
		if id == value {
			return nil // already present
		}
	}
	ids = append(ids, value)
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}
