// Package events provides the pub/sub broker item processors use to report
// lifecycle transitions to other in-process subscribers (the indexer).
package events

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/modsagraphy/universa/hashid"
	"github.com/modsagraphy/universa/item"
)

// EventType labels what happened to an item.
type EventType string

const (
	EventRegistered EventType = "registered"
	EventDownloaded EventType = "downloaded"
	EventChecked    EventType = "checked"
	EventApproved   EventType = "approved"
	EventDeclined   EventType = "declined"
	EventRevoked    EventType = "revoked"
	EventDiscarded  EventType = "discarded"
	EventExpired    EventType = "expired"
)

// Event carries a typed payload emitted after an item processor transitions.
type Event struct {
	Type   EventType
	ItemID hashid.ID
	State  item.State
	Data   map[string]any
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventType][]Handler)}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// Emit delivers ev to all subscribers for ev.Type synchronously. Each
// handler is guarded by panic recovery so a misbehaving subscriber cannot
// crash the node or stall the item processor that emitted it.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := e.handlers[ev.Type]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(log.Fields{
						"event": ev.Type,
						"item":  ev.ItemID,
					}).Errorf("event handler panicked: %v", r)
				}
			}()
			h(ev)
		}()
	}
}
