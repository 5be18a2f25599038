// Package processor implements the per-item consensus state machine: on
// demand download of the item body, local validation and dependency
// locking against the ledger, dual-quorum vote accumulation with peers,
// and atomic commit or rollback of the locks it took.
package processor

import (
	"context"
	"math/rand"
	"time"

	deadlock "github.com/sasha-s/go-deadlock"

	"github.com/modsagraphy/universa/config"
	"github.com/modsagraphy/universa/events"
	"github.com/modsagraphy/universa/hashid"
	"github.com/modsagraphy/universa/item"
	"github.com/modsagraphy/universa/itemcache"
	"github.com/modsagraphy/universa/itemlock"
	"github.com/modsagraphy/universa/ledger"
	"github.com/modsagraphy/universa/network"
	"github.com/modsagraphy/universa/scheduler"
	"github.com/modsagraphy/universa/tally"
)

type phase int

const (
	phaseInit phase = iota
	phaseDownloading
	phaseChecking
	phasePolling
	phaseCommitting
	phaseDone
)

// Processor drives one item, identified by ID, through download, local
// check, voting, and commit or rollback. At most one Processor exists per
// ID at a time (enforced by the dispatcher, not by Processor itself).
type Processor struct {
	id   hashid.ID
	self item.NodeInfo
	cfg  *config.Config

	ledger ledger.Ledger
	net    network.Network
	cache  *itemcache.Cache
	pool   *scheduler.Pool
	locks  *itemlock.Table
	events *events.Emitter

	// onDone is called exactly once, after doneEvent fires, so the owning
	// dispatcher can unhook this processor from its live map. Modeled as a
	// callback rather than a back-pointer to avoid a processor needing to
	// know about its owning dispatcher's internals.
	onDone func()

	mu              deadlock.Mutex
	phaseVal        phase
	body            *item.Item
	state           item.State
	resultExpiresAt time.Time
	expiresAt       time.Time
	downloadCancel  scheduler.Cancel
	pollCancel      scheduler.Cancel
	lockedToRevoke  []hashid.ID
	lockedToCreate  []hashid.ID

	sourcesMu deadlock.Mutex
	sources   map[string]item.NodeInfo

	tally *tally.Tally

	downloadedEvent *latch
	doneEvent       *latch
}

// Deps bundles the collaborators a Processor needs, so New stays readable.
type Deps struct {
	Self    item.NodeInfo
	Config  *config.Config
	Ledger  ledger.Ledger
	Network network.Network
	Cache   *itemcache.Cache
	Pool    *scheduler.Pool
	Locks   *itemlock.Table
	Events  *events.Emitter
}

// New creates a Processor for id. onDone is invoked once doneEvent fires.
func New(id hashid.ID, d Deps, onDone func()) *Processor {
	return &Processor{
		id:              id,
		self:            d.Self,
		cfg:             d.Config,
		ledger:          d.Ledger,
		net:             d.Network,
		cache:           d.Cache,
		pool:            d.Pool,
		locks:           d.Locks,
		events:          d.Events,
		onDone:          onDone,
		state:           item.StatePending,
		sources:         make(map[string]item.NodeInfo),
		tally:           tally.New(d.Config.PositiveConsensus, d.Config.NegativeConsensus),
		downloadedEvent: newLatch(),
		doneEvent:       newLatch(),
	}
}

// ID returns the item identifier this processor drives.
func (p *Processor) ID() hashid.ID { return p.id }

// Done returns a channel closed once the processor reaches a terminal state.
func (p *Processor) Done() <-chan struct{} { return p.doneEvent.Done() }

// HasVoteFrom reports whether peerID has already cast a vote.
func (p *Processor) HasVoteFrom(peerID string) bool { return p.tally.HasVoteFrom(peerID) }

// Result returns the processor's current, possibly non-final, view of the
// item: its ledger state, expiry, and whether a local copy of the body is
// held.
func (p *Processor) Result() item.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return item.Result{
		State:     p.state,
		ExpiresAt: p.resultExpiresAt,
		HaveCopy:  p.body != nil,
	}
}

// Start begins the state machine. body is the item payload if the caller
// (a registerItem call) already has it; initialSources are peers already
// known, from the triggering notification, to hold a copy.
func (p *Processor) Start(body *item.Item, initialSources []item.NodeInfo) {
	p.mu.Lock()
	p.expiresAt = time.Now().Add(p.cfg.MaxCacheAge)
	p.resultExpiresAt = p.expiresAt
	p.mu.Unlock()

	p.events.Emit(events.Event{Type: events.EventRegistered, ItemID: p.id, State: p.state})

	for _, src := range initialSources {
		p.AddSource(src)
	}

	if body != nil {
		p.enterChecking(body)
		return
	}
	if cached, ok := p.cache.Get(p.id); ok {
		p.enterChecking(cached)
		return
	}

	p.mu.Lock()
	p.phaseVal = phaseDownloading
	p.mu.Unlock()
	p.pool.Submit(p.runDownload)
}

// Vote folds a peer's notification into the tally, tracks them as a
// possible source if they claim to hold a copy, and fires commit or
// rollback exactly once if this vote reaches quorum.
func (p *Processor) Vote(from item.NodeInfo, result item.Result) {
	if result.HaveCopy {
		p.AddSource(from)
	}
	switch p.tally.Record(from.ID, result.State) {
	case tally.OutcomePositive:
		p.pool.Submit(p.runCommit)
	case tally.OutcomeNegative:
		p.pool.Submit(func() { p.rollback(item.StateDeclined) })
	}
}

// AddSource records peer as a believed holder of the item body. If a
// download is currently waiting for sources, it is rescheduled immediately.
func (p *Processor) AddSource(peer item.NodeInfo) {
	p.sourcesMu.Lock()
	p.sources[peer.ID] = peer
	p.sourcesMu.Unlock()

	p.mu.Lock()
	downloading := p.phaseVal == phaseDownloading
	if downloading && p.downloadCancel != nil {
		p.downloadCancel()
		p.downloadCancel = nil
	}
	p.mu.Unlock()

	if downloading {
		p.pool.Submit(p.runDownload)
	}
}

func (p *Processor) pickSource() (item.NodeInfo, bool) {
	p.sourcesMu.Lock()
	defer p.sourcesMu.Unlock()
	if len(p.sources) == 0 {
		return item.NodeInfo{}, false
	}
	idx := rand.Intn(len(p.sources))
	i := 0
	for _, info := range p.sources {
		if i == idx {
			return info, true
		}
		i++
	}
	return item.NodeInfo{}, false
}

func (p *Processor) isTerminal() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phaseVal == phaseDone
}

func (p *Processor) isExpired() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.expiresAt.IsZero() && time.Now().After(p.expiresAt)
}

func (p *Processor) remaining() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := time.Until(p.expiresAt)
	if d < 0 {
		return 0
	}
	return d
}

func (p *Processor) notification(requestAnswer bool) item.Notification {
	return item.Notification{
		From:          p.self,
		ItemID:        p.id,
		Result:        p.Result(),
		RequestAnswer: requestAnswer,
	}
}

func (p *Processor) enterChecking(body *item.Item) {
	p.mu.Lock()
	p.body = body
	p.phaseVal = phaseChecking
	p.mu.Unlock()

	p.cache.Put(body)
	p.downloadedEvent.Fire()
	p.events.Emit(events.Event{Type: events.EventDownloaded, ItemID: p.id, State: p.state})

	p.localCheck()
}

// finish transitions the processor to phaseDone and emits the terminal
// lifecycle event. data is attached to the emitted event verbatim (e.g. the
// revoked/created ids a commit finalized); callers with nothing to report
// pass nil.
func (p *Processor) finish(finalState item.State, data map[string]any) {
	p.mu.Lock()
	p.phaseVal = phaseDone
	p.state = finalState
	if p.downloadCancel != nil {
		p.downloadCancel()
	}
	if p.pollCancel != nil {
		p.pollCancel()
	}
	p.mu.Unlock()

	// A processor only ever reaches StateUndefined by running out of time —
	// waiting for a download, waiting for quorum, or waiting for a body to
	// re-fetch after quorum already committed — so it always maps to
	// EventExpired. EventDiscarded is reserved for items rejected before a
	// processor was ever created (see dispatch.Node.RegisterItem).
	typ := events.EventExpired
	switch finalState {
	case item.StateApproved:
		typ = events.EventApproved
	case item.StateDeclined:
		typ = events.EventDeclined
	case item.StateRevoked:
		typ = events.EventRevoked
	}
	p.events.Emit(events.Event{Type: typ, ItemID: p.id, State: finalState, Data: data})

	p.doneEvent.Fire()
	if p.onDone != nil {
		p.onDone()
	}
}

func (p *Processor) getItemCtx() context.Context {
	return context.Background()
}
