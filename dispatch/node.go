// Package dispatch implements the Node: the per-node dispatcher that
// serializes on item identifier, routes client calls and inbound peer
// notifications to the right per-item processor, and answers directly
// from the ledger once an item's outcome is already final.
package dispatch

import (
	"time"

	log "github.com/sirupsen/logrus"
	deadlock "github.com/sasha-s/go-deadlock"

	"github.com/modsagraphy/universa/config"
	"github.com/modsagraphy/universa/events"
	"github.com/modsagraphy/universa/hashid"
	"github.com/modsagraphy/universa/item"
	"github.com/modsagraphy/universa/itemcache"
	"github.com/modsagraphy/universa/itemlock"
	"github.com/modsagraphy/universa/ledger"
	"github.com/modsagraphy/universa/network"
	"github.com/modsagraphy/universa/processor"
	"github.com/modsagraphy/universa/scheduler"
)

// Node routes registerItem/checkItem/waitItem calls and inbound
// notifications to at most one live Processor per item identifier.
type Node struct {
	self item.NodeInfo
	cfg  *config.Config

	ledger ledger.Ledger
	net    network.Network
	cache  *itemcache.Cache
	pool   *scheduler.Pool
	locks  *itemlock.Table
	events *events.Emitter

	mu         deadlock.Mutex
	processors map[hashid.ID]*processor.Processor
}

// New creates a Node and subscribes it to inbound network notifications.
func New(self item.NodeInfo, cfg *config.Config, l ledger.Ledger, net network.Network, cache *itemcache.Cache, pool *scheduler.Pool, emitter *events.Emitter) *Node {
	n := &Node{
		self:       self,
		cfg:        cfg,
		ledger:     l,
		net:        net,
		cache:      cache,
		pool:       pool,
		locks:      itemlock.New(),
		events:     emitter,
		processors: make(map[hashid.ID]*processor.Processor),
	}
	net.Subscribe(n.handleNotification)
	return n
}

// RegisterItem is the client entry point for submitting a new item.
func (n *Node) RegisterItem(it *item.Item) item.Result {
	var result item.Result
	n.locks.Do(it.ID, func() {
		if p, ok := n.lookup(it.ID); ok {
			result = p.Result()
			return
		}
		if rec, ok := n.finalRecordResult(it.ID); ok {
			result = rec
			return
		}
		if it.IsTooOld(time.Now(), n.cfg.MaxItemCreationAge) {
			it.AddError(item.ErrExpired)
			result = item.Result{State: item.StateDiscarded}
			n.events.Emit(events.Event{Type: events.EventDiscarded, ItemID: it.ID, State: item.StateDiscarded})
			return
		}
		p := n.start(it.ID, it, nil)
		result = p.Result()
	})
	return result
}

// CheckItem reports an item's current result without ever starting a
// processor. Unknown ids report UNDEFINED.
func (n *Node) CheckItem(id hashid.ID) item.Result {
	var result item.Result
	n.locks.Do(id, func() {
		if p, ok := n.lookup(id); ok {
			result = p.Result()
			return
		}
		if rec, ok := n.recordResult(id); ok {
			result = rec
			return
		}
		result = item.Result{State: item.StateUndefined}
	})
	return result
}

// WaitItem blocks up to timeout for id's processor to finish, then returns
// its final result. Reserved for testing, not the normal client path.
func (n *Node) WaitItem(id hashid.ID, timeout time.Duration) item.Result {
	p, ok := n.lookup(id)
	if !ok {
		return n.CheckItem(id)
	}
	select {
	case <-p.Done():
	case <-time.After(timeout):
	}
	return p.Result()
}

func (n *Node) handleNotification(from item.NodeInfo, notif item.Notification) {
	n.locks.Do(notif.ItemID, func() {
		if p, ok := n.lookup(notif.ItemID); ok {
			p.Vote(from, notif.Result)
			n.reply(from, p)
			return
		}
		if rec, ok := n.finalRecordResult(notif.ItemID); ok {
			n.deliver(from, notif.ItemID, rec, false)
			return
		}

		var sources []item.NodeInfo
		if notif.Result.HaveCopy {
			sources = []item.NodeInfo{from}
		}
		p := n.start(notif.ItemID, nil, sources)
		p.Vote(from, notif.Result)
		n.reply(from, p)
	})
}

func (n *Node) reply(to item.NodeInfo, p *processor.Processor) {
	n.deliver(to, p.ID(), p.Result(), !p.HasVoteFrom(to.ID))
}

func (n *Node) deliver(to item.NodeInfo, id hashid.ID, result item.Result, requestAnswer bool) {
	notif := item.Notification{From: n.self, ItemID: id, Result: result, RequestAnswer: requestAnswer}
	if err := n.net.Deliver(to, notif); err != nil {
		log.WithError(err).Debugf("dispatch: reply to %s about %s", to.ID, id)
	}
}

func (n *Node) lookup(id hashid.ID) (*processor.Processor, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.processors[id]
	return p, ok
}

// start creates and registers a processor for id, and begins its state
// machine. Callers must hold the per-item lock for id.
func (n *Node) start(id hashid.ID, body *item.Item, sources []item.NodeInfo) *processor.Processor {
	deps := processor.Deps{
		Self:    n.self,
		Config:  n.cfg,
		Ledger:  n.ledger,
		Network: n.net,
		Cache:   n.cache,
		Pool:    n.pool,
		// Callers of start already hold n.locks for id, and the processor's
		// check and rollback sections lock their id in Locks, so each
		// processor gets a table of its own.
		Locks:  itemlock.New(),
		Events: n.events,
	}
	p := processor.New(id, deps, func() { n.retire(id) })

	n.mu.Lock()
	n.processors[id] = p
	n.mu.Unlock()

	p.Start(body, sources)
	return p
}

// retire schedules id's finished processor for removal from the live map
// after cfg.ProcessorRetention, so a closely-following waitItem can still
// observe it: retention is configurable, not a leak, and not immediate so
// late waiters aren't told UNDEFINED.
func (n *Node) retire(id hashid.ID) {
	time.AfterFunc(n.cfg.ProcessorRetention, func() {
		n.mu.Lock()
		delete(n.processors, id)
		n.mu.Unlock()
	})
}

func (n *Node) recordResult(id hashid.ID) (item.Result, bool) {
	rec, err := n.ledger.GetRecord(id)
	if err != nil {
		log.WithError(err).Errorf("dispatch: get record %s", id)
		return item.Result{}, false
	}
	if rec == nil {
		return item.Result{}, false
	}
	return item.Result{State: rec.State(), ExpiresAt: rec.ExpiresAt(), HaveCopy: n.cache.Have(id)}, true
}

// finalRecordResult is like recordResult but only reports a record that has
// reached one of the terminal states; PENDING/PENDING_* and
// LOCKED_FOR_CREATION are not "final" for dispatch purposes.
func (n *Node) finalRecordResult(id hashid.ID) (item.Result, bool) {
	result, ok := n.recordResult(id)
	if !ok || !isFinal(result.State) {
		return item.Result{}, false
	}
	return result, true
}

func isFinal(s item.State) bool {
	switch s {
	case item.StateApproved, item.StateDeclined, item.StateRevoked, item.StateUndefined, item.StateDiscarded:
		return true
	default:
		return false
	}
}
