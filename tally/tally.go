// Package tally implements the dual-set vote accumulator each item
// processor uses to detect positive or negative quorum among peers.
package tally

import (
	mapset "github.com/deckarep/golang-set"
	deadlock "github.com/sasha-s/go-deadlock"

	"github.com/modsagraphy/universa/item"
)

// Outcome is the terminal decision a Tally reaches.
type Outcome int

const (
	// NoOutcome means quorum has not yet been reached.
	NoOutcome Outcome = iota
	OutcomePositive
	OutcomeNegative
)

// Tally accumulates disjoint positive/negative peer sets and detects quorum.
// Negative quorum is checked before positive quorum on every update (safety
// over liveness): a peer set that would satisfy both thresholds in the same
// update resolves to rollback.
type Tally struct {
	posQuorum int
	negQuorum int

	mu            deadlock.Mutex
	positive      mapset.Set
	negative      mapset.Set
	consensusFound bool
	outcome       Outcome
}

// New creates a Tally requiring posQuorum positive votes or negQuorum
// negative votes to reach consensus.
func New(posQuorum, negQuorum int) *Tally {
	return &Tally{
		posQuorum: posQuorum,
		negQuorum: negQuorum,
		positive:  mapset.NewSet(),
		negative:  mapset.NewSet(),
	}
}

// Record classifies state as positive or negative, adds peer to the chosen
// set and removes it from the other (a peer may switch sides; the latest
// vote wins), then checks thresholds. It returns the outcome if this call
// is the one that reaches consensus, or NoOutcome otherwise. Once consensus
// has been found, Record is a no-op — later votes cannot change or undo
// the decision.
func (t *Tally) Record(peer string, state item.State) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.consensusFound {
		return NoOutcome
	}

	if state.IsPositive() {
		t.negative.Remove(peer)
		t.positive.Add(peer)
	} else {
		t.positive.Remove(peer)
		t.negative.Add(peer)
	}

	if t.negative.Cardinality() >= t.negQuorum {
		t.consensusFound = true
		t.outcome = OutcomeNegative
		return OutcomeNegative
	}
	if t.positive.Cardinality() >= t.posQuorum {
		t.consensusFound = true
		t.outcome = OutcomePositive
		return OutcomePositive
	}
	return NoOutcome
}

// HasVoteFrom reports whether peer currently sits in either set.
func (t *Tally) HasVoteFrom(peer string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.positive.Contains(peer) || t.negative.Contains(peer)
}

// Missing returns a snapshot of the peers that have not yet voted, given the
// full known peer set known (used by the poll tick to decide who to
// re-notify).
func (t *Tally) Missing(known []string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	missing := make([]string, 0, len(known))
	for _, p := range known {
		if !t.positive.Contains(p) && !t.negative.Contains(p) {
			missing = append(missing, p)
		}
	}
	return missing
}

// ConsensusFound reports whether an outcome has already been reached.
func (t *Tally) ConsensusFound() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.consensusFound
}

// Snapshot returns the current positive/negative peer counts for diagnostics.
func (t *Tally) Snapshot() (positive, negative int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.positive.Cardinality(), t.negative.Cardinality()
}
