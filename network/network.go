package network

import (
	"context"
	"time"

	"github.com/modsagraphy/universa/hashid"
	"github.com/modsagraphy/universa/item"
)

// ItemSource answers a peer's request for an item's body, when this node
// happens to hold a copy (it downloaded or received it earlier).
type ItemSource func(id hashid.ID) (*item.Item, bool)

// Network is the collaborator an item processor uses to exchange votes and
// item bodies with the rest of the network. It is implemented by Node.
type Network interface {
	// Subscribe registers fn to be called for every notification arriving
	// from any peer.
	Subscribe(fn func(peer item.NodeInfo, n item.Notification))

	// Broadcast sends n to every currently connected peer.
	Broadcast(n item.Notification)

	// Deliver sends n to a single named peer.
	Deliver(peer item.NodeInfo, n item.Notification) error

	// EachNode invokes fn once for every peer currently known to the node,
	// including peers that are not presently connected.
	EachNode(fn func(peer item.NodeInfo))

	// GetItem asks peer for the body of id, blocking until it answers, ctx
	// is done, or the connection fails.
	GetItem(ctx context.Context, peer item.NodeInfo, id hashid.ID) (*item.Item, error)
}

// getItemRequest/getItemResponse are the wire payloads behind MsgGetItem
// and MsgItem.
type getItemRequest struct {
	ItemID  hashid.ID `json:"item_id"`
	ReplyTo string    `json:"reply_to"`
}

type getItemResponse struct {
	ItemID  hashid.ID    `json:"item_id"`
	ReplyTo string       `json:"reply_to"`
	Found   bool         `json:"found"`
	Item    *item.Item   `json:"item,omitempty"`
}

// defaultGetItemTimeout bounds GetItem when the caller's context carries no
// deadline of its own.
const defaultGetItemTimeout = 30 * time.Second
