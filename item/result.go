package item

import (
	"time"

	"github.com/modsagraphy/universa/hashid"
)

// Result is a snapshot of a StateRecord's externally visible fields,
// returned to clients and exchanged with peers.
type Result struct {
	State     State     `json:"state"`
	ExpiresAt time.Time `json:"expires_at"`
	// HaveCopy reports whether the reporting node holds the item body.
	HaveCopy bool `json:"have_copy"`
}

// Undefined is the canonical result for an id with no known record.
var Undefined = Result{State: StateUndefined}

// Discarded is the canonical result for an id rejected before a record
// was ever created (too old at submission, see edge policy iii).
var Discarded = Result{State: StateDiscarded}

// Notification is the wire shape exchanged between peers. All four fields,
// including every field of Result, must round-trip bit-equivalently between
// implementations.
type Notification struct {
	From          NodeInfo  `json:"from"`
	ItemID        hashid.ID `json:"item_id"`
	Result        Result    `json:"result"`
	RequestAnswer bool      `json:"request_answer"`
}

// NodeInfo identifies a peer. Equality is defined by ID.
type NodeInfo struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// Equal reports whether two NodeInfo values name the same peer.
func (n NodeInfo) Equal(other NodeInfo) bool {
	return n.ID == other.ID
}
