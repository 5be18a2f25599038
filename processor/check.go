package processor

import (
	log "github.com/sirupsen/logrus"

	"github.com/modsagraphy/universa/events"
	"github.com/modsagraphy/universa/item"
	"github.com/modsagraphy/universa/tally"
)

// localCheck runs the synchronous validation and dependency-locking phase
// under the per-item lock so it cannot interleave with another goroutine's
// view of this item's lock state.
func (p *Processor) localCheck() {
	p.locks.Do(p.id, func() {
		p.mu.Lock()
		body := p.body
		p.mu.Unlock()

		if body.Check() {
			p.checkReferences(body)
			p.checkRevokes(body)
			p.checkNewItems(body)
		}
		// If body.Check() failed, the item populated its own error list and
		// the reference/revoke/new-item checks are skipped entirely.

		vote := item.StatePendingPositive
		if body.HasErrors() {
			vote = item.StatePendingNegative
		}
		p.events.Emit(events.Event{Type: events.EventChecked, ItemID: p.id, State: vote})

		rec, err := p.ledger.FindOrCreate(p.id)
		if err != nil {
			log.WithError(err).Errorf("processor %s: find-or-create own record", p.id)
			return
		}
		rec.SetState(vote)
		rec.SetExpiresAt(body.ExpiresAt)
		if err := rec.Save(); err != nil {
			log.WithError(err).Errorf("processor %s: save own record", p.id)
			return
		}

		p.mu.Lock()
		p.state = vote
		p.resultExpiresAt = body.ExpiresAt
		p.phaseVal = phasePolling
		p.mu.Unlock()

		outcome := p.tally.Record(p.self.ID, vote)
		p.net.Broadcast(p.notification(false))
		p.schedulePoll()

		switch outcome {
		case tally.OutcomePositive:
			p.pool.Submit(p.runCommit)
		case tally.OutcomeNegative:
			p.pool.Submit(func() { p.rollback(item.StateDeclined) })
		}
	})
}

func (p *Processor) checkReferences(body *item.Item) {
	for _, ref := range body.References {
		approved, err := p.ledger.IsApproved(ref)
		if err != nil {
			log.WithError(err).Warnf("processor %s: is-approved %s", p.id, ref)
			body.AddError(item.ErrBadRef)
			continue
		}
		if !approved {
			body.AddError(item.ErrBadRef)
		}
	}
}

func (p *Processor) checkRevokes(body *item.Item) {
	for _, rev := range body.Revokes {
		_, ok, err := p.ledger.LockToRevoke(rev, p.id)
		if err != nil {
			log.WithError(err).Warnf("processor %s: lock-to-revoke %s", p.id, rev)
			body.AddError(item.ErrBadRevoke)
			continue
		}
		if !ok {
			body.AddError(item.ErrBadRevoke)
			continue
		}
		p.mu.Lock()
		p.lockedToRevoke = append(p.lockedToRevoke, rev)
		p.mu.Unlock()
	}
}

func (p *Processor) checkNewItems(body *item.Item) {
	for _, newItem := range body.NewItems {
		if !newItem.Check() {
			body.AddError(item.ErrBadNewItem)
			continue
		}
		_, ok, err := p.ledger.CreateOutputLockRecord(newItem.ID)
		if err != nil {
			log.WithError(err).Warnf("processor %s: create-output-lock %s", p.id, newItem.ID)
			body.AddError(item.ErrNewItemExists)
			continue
		}
		if !ok {
			body.AddError(item.ErrNewItemExists)
			continue
		}
		p.mu.Lock()
		p.lockedToCreate = append(p.lockedToCreate, newItem.ID)
		p.mu.Unlock()
	}
}
