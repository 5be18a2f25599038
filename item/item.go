// Package item defines the Approvable item and the terminal/transient
// states a StateRecord can occupy during consensus.
package item

import (
	"encoding/json"
	"time"

	"github.com/modsagraphy/universa/hashid"
)

// State is one of the lifecycle states a StateRecord can occupy.
type State string

const (
	StatePending           State = "PENDING"
	StatePendingPositive   State = "PENDING_POSITIVE"
	StatePendingNegative   State = "PENDING_NEGATIVE"
	StateApproved          State = "APPROVED"
	StateDeclined          State = "DECLINED"
	StateRevoked           State = "REVOKED"
	StateLockedForCreation State = "LOCKED_FOR_CREATION"
	StateUndefined         State = "UNDEFINED"
	StateDiscarded         State = "DISCARDED"
)

// IsPositive reports whether s counts toward a positive quorum.
func (s State) IsPositive() bool {
	return s == StatePendingPositive || s == StateApproved
}

// Error is a code appended to an item's error list during local checking.
// Presence of any Error flips the item's own vote to negative.
type Error string

const (
	ErrExpired       Error = "EXPIRED"
	ErrBadRef        Error = "BAD_REF"
	ErrBadRevoke     Error = "BAD_REVOKE"
	ErrBadNewItem    Error = "BAD_NEW_ITEM"
	ErrNewItemExists Error = "NEW_ITEM_EXISTS"
)

// CheckFunc is an item's self-validation predicate. Item definition and
// cryptographic validation are out of scope for this engine; callers supply
// whatever CheckFunc their item format requires. A nil CheckFunc is treated
// as always-valid.
type CheckFunc func(it *Item) bool

// Item is the concrete Approvable: a transactional object that may
// reference, revoke, and create other items, subject to consensus.
type Item struct {
	ID        hashid.ID       `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
	// References are other items this item depends on; each must already
	// be APPROVED in the ledger for this item to pass local checking.
	References []hashid.ID `json:"references,omitempty"`
	// Revokes names prior items this item proposes to revoke.
	Revokes []hashid.ID `json:"revokes,omitempty"`
	// NewItems are items this item proposes to create on approval. Each
	// nested item must itself pass Check() during local processing.
	NewItems []*Item `json:"new_items,omitempty"`
	// Payload is the opaque item body; the engine never interprets it.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Errors accumulates validation failures found during local checking.
	// Its presence (not its content) flips the local vote to negative.
	Errors []Error `json:"errors,omitempty"`

	checkFn CheckFunc
}

// New creates an unchecked item. checkFn may be nil (always valid).
func New(id hashid.ID, createdAt, expiresAt time.Time, checkFn CheckFunc) *Item {
	return &Item{ID: id, CreatedAt: createdAt, ExpiresAt: expiresAt, checkFn: checkFn}
}

// canonicalBody holds the fields covered by an item's content hash: every
// field that defines what the item IS, excluding ID (self-referential) and
// Errors (mutated during local checking, so can't be part of the identity
// a peer hashes before it has ever checked the item).
type canonicalBody struct {
	CreatedAt  time.Time       `json:"created_at"`
	ExpiresAt  time.Time       `json:"expires_at"`
	References []hashid.ID     `json:"references,omitempty"`
	Revokes    []hashid.ID     `json:"revokes,omitempty"`
	NewItems   []*Item         `json:"new_items,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// ComputeID returns the content-addressed id it.ID should hold: the hash of
// it's canonical JSON encoding, sans ID and Errors. Returns the zero ID if
// marshaling fails (which cannot happen in practice).
func (it *Item) ComputeID() hashid.ID {
	body := canonicalBody{
		CreatedAt:  it.CreatedAt,
		ExpiresAt:  it.ExpiresAt,
		References: it.References,
		Revokes:    it.Revokes,
		NewItems:   it.NewItems,
		Payload:    it.Payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return hashid.ID{}
	}
	return hashid.Of(data)
}

// SetCheckFunc installs (or replaces) the self-validation predicate.
// Used by tests and by decoders reconstructing an Item from the wire,
// where the function pointer itself cannot travel over JSON.
func (it *Item) SetCheckFunc(fn CheckFunc) {
	it.checkFn = fn
}

// Check runs the item's self-validation predicate. A missing predicate is
// always valid; a failing predicate's errors are expected to already be
// appended to it.Errors by the predicate itself.
func (it *Item) Check() bool {
	if it.checkFn == nil {
		return true
	}
	return it.checkFn(it)
}

// AddError appends a validation error to the item's error list.
func (it *Item) AddError(e Error) {
	it.Errors = append(it.Errors, e)
}

// HasErrors reports whether any validation error has been recorded.
func (it *Item) HasErrors() bool {
	return len(it.Errors) > 0
}

// IsTooOld reports whether it was created before now-maxAge, per the
// EXPIRED discard policy.
func (it *Item) IsTooOld(now time.Time, maxAge time.Duration) bool {
	return it.CreatedAt.Before(now.Add(-maxAge))
}
