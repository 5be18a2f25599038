package processor

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/modsagraphy/universa/hashid"
	"github.com/modsagraphy/universa/item"
	"github.com/modsagraphy/universa/ledger"
)

// runCommit marks the record APPROVED in memory, makes sure the body is
// actually present (re-downloading with an extended deadline if necessary),
// then finalizes every locked dependent record inside one ledger transaction.
func (p *Processor) runCommit() {
	p.mu.Lock()
	if p.phaseVal == phaseDone {
		p.mu.Unlock()
		return
	}
	p.phaseVal = phaseCommitting
	p.state = item.StateApproved
	hasBody := p.body != nil
	p.mu.Unlock()

	if !hasBody {
		if !p.awaitBodyForCommit() {
			p.abortCommitMissingBody()
			return
		}
	}

	p.finalizeCommit()
}

// awaitBodyForCommit extends the processor's deadline and kicks an
// immediate download across every known peer, then waits for either
// downloadedEvent or the extended deadline.
func (p *Processor) awaitBodyForCommit() bool {
	p.mu.Lock()
	p.expiresAt = time.Now().Add(p.cfg.MaxDownloadOnApproveTime)
	p.phaseVal = phaseDownloading
	p.mu.Unlock()

	p.net.EachNode(func(peer item.NodeInfo) { p.AddSource(peer) })
	p.pool.Submit(p.runDownload)

	timer := time.NewTimer(p.remaining())
	defer timer.Stop()
	select {
	case <-p.downloadedEvent.Done():
		return true
	case <-timer.C:
		return false
	}
}

func (p *Processor) abortCommitMissingBody() {
	rec, err := p.ledger.GetRecord(p.id)
	if err != nil {
		log.WithError(err).Errorf("processor %s: get own record on commit abort", p.id)
	} else if rec != nil {
		rec.SetState(item.StateUndefined)
		if err := rec.Destroy(); err != nil {
			log.WithError(err).Errorf("processor %s: destroy own record on commit abort", p.id)
		}
	}
	p.finish(item.StateUndefined, nil)
}

func (p *Processor) finalizeCommit() {
	p.mu.Lock()
	body := p.body
	revokes := append([]hashid.ID(nil), p.lockedToRevoke...)
	creates := append([]hashid.ID(nil), p.lockedToCreate...)
	p.mu.Unlock()

	now := time.Now()
	err := p.ledger.Transaction(func(tx ledger.Tx) error {
		for _, id := range revokes {
			rec, err := tx.FindOrCreate(id)
			if err != nil {
				return err
			}
			rec.SetState(item.StateRevoked)
			rec.SetExpiresAt(now.Add(p.cfg.RevokedItemExpiration))
			if err := rec.Save(); err != nil {
				return err
			}
		}
		for _, id := range creates {
			rec, err := tx.FindOrCreate(id)
			if err != nil {
				return err
			}
			rec.SetState(item.StateApproved)
			rec.SetExpiresAt(body.ExpiresAt)
			if err := rec.Save(); err != nil {
				return err
			}
		}
		own, err := tx.FindOrCreate(p.id)
		if err != nil {
			return err
		}
		own.SetState(item.StateApproved)
		own.SetExpiresAt(body.ExpiresAt)
		return own.Save()
	})
	if err != nil {
		// Persistence is required for correctness: a failed commit
		// transaction leaves the ledger in a state this node can no longer
		// reason about.
		log.WithError(err).Fatalf("processor %s: commit transaction failed", p.id)
	}

	p.mu.Lock()
	p.lockedToRevoke = nil
	p.lockedToCreate = nil
	p.resultExpiresAt = body.ExpiresAt
	p.mu.Unlock()

	p.finish(item.StateApproved, map[string]any{"revokes": revokes, "creates": creates})
}

// rollback releases every lock this processor holds and marks its own
// record newState, all inside one ledger transaction. Guarded by the
// per-item lock and a terminal check so a late poll tick or vote cannot
// re-fire it once consensus already resolved.
func (p *Processor) rollback(newState item.State) {
	p.locks.Do(p.id, func() {
		if p.isTerminal() {
			return
		}

		p.mu.Lock()
		revokes := append([]hashid.ID(nil), p.lockedToRevoke...)
		creates := append([]hashid.ID(nil), p.lockedToCreate...)
		p.mu.Unlock()

		now := time.Now()
		expiry := p.cfg.DeclinedItemExpiration
		if newState == item.StateRevoked {
			expiry = p.cfg.RevokedItemExpiration
		}

		err := p.ledger.Transaction(func(tx ledger.Tx) error {
			for _, id := range revokes {
				rec, err := tx.GetRecord(id)
				if err != nil {
					return err
				}
				if rec == nil {
					continue
				}
				rec.Unlock()
				if err := rec.Save(); err != nil {
					return err
				}
			}
			for _, id := range creates {
				rec, err := tx.GetRecord(id)
				if err != nil {
					return err
				}
				if rec == nil {
					continue
				}
				if err := rec.Destroy(); err != nil {
					return err
				}
			}
			own, err := tx.FindOrCreate(p.id)
			if err != nil {
				return err
			}
			own.SetState(newState)
			own.SetExpiresAt(now.Add(expiry))
			return own.Save()
		})
		if err != nil {
			log.WithError(err).Fatalf("processor %s: rollback transaction failed", p.id)
		}

		p.mu.Lock()
		p.lockedToRevoke = nil
		p.lockedToCreate = nil
		p.resultExpiresAt = now.Add(expiry)
		p.mu.Unlock()

		var data map[string]any
		if len(revokes) > 0 {
			data = map[string]any{"unlocked_revokes": revokes}
		}
		p.finish(newState, data)
	})
}
