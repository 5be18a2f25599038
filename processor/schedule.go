package processor

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/modsagraphy/universa/item"
)

// runDownload picks a random known source, fetches with a bounded timeout,
// and on failure or an empty source set, retries after pollTime. AddSource
// cancels and reruns this immediately when a new source appears.
func (p *Processor) runDownload() {
	if p.isTerminal() {
		return
	}
	if p.isExpired() {
		p.pool.Submit(func() { p.rollback(item.StateUndefined) })
		return
	}

	peer, ok := p.pickSource()
	if !ok {
		p.scheduleDownloadAfter(p.cfg.PollTime)
		return
	}

	ctx, cancel := context.WithTimeout(p.getItemCtx(), p.cfg.MaxGetItemTime)
	body, err := p.net.GetItem(ctx, peer, p.id)
	cancel()
	if err != nil {
		log.WithError(err).Debugf("processor %s: download from %s", p.id, peer.ID)
		p.scheduleDownloadAfter(p.cfg.PollTime)
		return
	}

	if p.isTerminal() {
		// Cancellation observed mid-iteration: the fetched body must not
		// alter an outcome that already fired.
		return
	}
	p.enterChecking(body)
}

func (p *Processor) scheduleDownloadAfter(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.phaseVal != phaseDownloading {
		return
	}
	if p.downloadCancel != nil {
		p.downloadCancel()
	}
	p.downloadCancel = p.pool.Schedule(d, p.runDownload)
}

// schedulePoll starts the periodic retransmission tick, entered once upon
// reaching POLLING.
func (p *Processor) schedulePoll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pollCancel != nil {
		p.pollCancel()
	}
	p.pollCancel = p.pool.Schedule(p.cfg.PollTime, p.runPoll)
}

func (p *Processor) runPoll() {
	if p.isTerminal() {
		return
	}
	if p.isExpired() {
		p.rollback(item.StateUndefined)
		return
	}

	known := make([]string, 0)
	byID := make(map[string]item.NodeInfo)
	p.net.EachNode(func(peer item.NodeInfo) {
		known = append(known, peer.ID)
		byID[peer.ID] = peer
	})

	for _, peerID := range p.tally.Missing(known) {
		peer, ok := byID[peerID]
		if !ok {
			continue
		}
		if err := p.net.Deliver(peer, p.notification(true)); err != nil {
			log.WithError(err).Debugf("processor %s: poll deliver to %s", p.id, peerID)
		}
	}

	p.mu.Lock()
	stillPolling := p.phaseVal == phasePolling
	p.mu.Unlock()
	if stillPolling {
		p.schedulePoll()
	}
}
