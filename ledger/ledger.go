// Package ledger implements the persistent store of StateRecords the
// consensus engine checks and mutates: lookup, conditional locking,
// transactions, and save/destroy, per the Ledger collaborator contract.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/modsagraphy/universa/hashid"
	"github.com/modsagraphy/universa/item"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("ledger: not found")

const recordPrefix = "rec:"

func recordKey(id hashid.ID) string {
	return recordPrefix + id.String()
}

// recordData is the on-disk encoding of a StateRecord.
type recordData struct {
	State     item.State `json:"state"`
	ExpiresAt time.Time  `json:"expires_at"`
	LockOwner hashid.ID  `json:"lock_owner,omitempty"`
	Locked    bool       `json:"locked"`
}

// Record is a StateRecord: the persistent row a Ledger owns for one
// HashId, carrying state, expiry, and an optional lock-owner reference.
type Record struct {
	id   hashid.ID
	data recordData

	ledger *StateLedger
	tx     *txn // non-nil when obtained inside a Ledger.Transaction
}

// ID returns the record's key.
func (r *Record) ID() hashid.ID { return r.id }

// State returns the record's current in-memory state.
func (r *Record) State() item.State { return r.data.State }

// ExpiresAt returns the record's current in-memory expiry.
func (r *Record) ExpiresAt() time.Time { return r.data.ExpiresAt }

// SetState sets the in-memory state; call Save to persist it.
func (r *Record) SetState(s item.State) { r.data.State = s }

// SetExpiresAt sets the in-memory expiry; call Save to persist it.
func (r *Record) SetExpiresAt(t time.Time) { r.data.ExpiresAt = t }

// Unlock clears the lock-owner reference in memory; call Save to persist it.
func (r *Record) Unlock() { r.data.Locked = false; r.data.LockOwner = hashid.ID{} }

// Locked reports whether the record currently holds a conditional lock.
func (r *Record) Locked() bool { return r.data.Locked }

// Save persists the record's current in-memory fields.
func (r *Record) Save() error {
	data, err := json.Marshal(r.data)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", r.id, err)
	}
	key := recordKey(r.id)
	if r.tx != nil {
		r.tx.set(key, data)
		return nil
	}
	return r.ledger.runTx(func(tx *txn) error {
		tx.set(key, data)
		return nil
	})
}

// Destroy removes the record entirely.
func (r *Record) Destroy() error {
	key := recordKey(r.id)
	if r.tx != nil {
		r.tx.del(key)
		return nil
	}
	return r.ledger.runTx(func(tx *txn) error {
		tx.del(key)
		return nil
	})
}

func decodeRecord(id hashid.ID, raw []byte) (*Record, error) {
	var d recordData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("unmarshal record %s: %w", id, err)
	}
	return &Record{id: id, data: d}, nil
}

// txn buffers the reads/writes of a single Ledger.Transaction call so its
// mutations either all land or none do.
type txn struct {
	ledger  *StateLedger
	dirty   map[string][]byte
	deleted map[string]bool
}

func (t *txn) get(key string) ([]byte, error) {
	if t.deleted[key] {
		return nil, ErrNotFound
	}
	if v, ok := t.dirty[key]; ok {
		return v, nil
	}
	return t.ledger.db.Get([]byte(key))
}

func (t *txn) set(key string, v []byte) {
	delete(t.deleted, key)
	t.dirty[key] = v
}

func (t *txn) del(key string) {
	delete(t.dirty, key)
	t.deleted[key] = true
}

func (t *txn) getRecord(id hashid.ID, bind bool) (*Record, error) {
	raw, err := t.get(recordKey(id))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec, err := decodeRecord(id, raw)
	if err != nil {
		return nil, err
	}
	if bind {
		rec.tx = t
	} else {
		rec.ledger = t.ledger
	}
	return rec, nil
}

// Tx is the view of the ledger available inside a Transaction callback.
// It is also satisfied by Ledger itself for single-operation use outside an
// explicit transaction (each such call auto-commits immediately).
type Tx interface {
	GetRecord(id hashid.ID) (*Record, error)
	FindOrCreate(id hashid.ID) (*Record, error)
	IsApproved(id hashid.ID) (bool, error)
	LockToRevoke(id, owner hashid.ID) (*Record, bool, error)
	CreateOutputLockRecord(id hashid.ID) (*Record, bool, error)
}

// Ledger is the full collaborator contract an item processor depends on:
// single-operation conditional reads/writes plus atomic multi-record
// transactions. *StateLedger implements it.
type Ledger interface {
	Tx
	Transaction(fn func(tx Tx) error) error
}

// StateLedger implements Tx plus Transaction, backed by a DB.
type StateLedger struct {
	db DB
	mu sync.Mutex
}

// NewStateLedger creates a StateLedger backed by db.
func NewStateLedger(db DB) *StateLedger {
	return &StateLedger{db: db}
}

// runTx executes fn against a fresh write buffer, then flushes it to the
// underlying DB as a single atomic batch. If fn returns an error the buffer
// is discarded — no partial effects reach the DB.
func (l *StateLedger) runTx(fn func(tx *txn) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &txn{ledger: l, dirty: make(map[string][]byte), deleted: make(map[string]bool)}
	if err := fn(tx); err != nil {
		return err
	}
	batch := l.db.NewBatch()
	for k, v := range tx.dirty {
		batch.Set([]byte(k), v)
	}
	for k := range tx.deleted {
		batch.Delete([]byte(k))
	}
	return batch.Write()
}

// Transaction runs fn atomically: every Record obtained through the Tx
// passed to fn stages its writes into a shared buffer that is flushed in
// one batch only if fn returns nil. Used by the commit and rollback phases.
func (l *StateLedger) Transaction(fn func(tx Tx) error) error {
	return l.runTx(func(raw *txn) error {
		return fn(boundTx{raw})
	})
}

// boundTx adapts the internal txn to the public Tx interface, binding every
// Record it returns to the active transaction buffer.
type boundTx struct{ t *txn }

func (b boundTx) GetRecord(id hashid.ID) (*Record, error) { return b.t.getRecord(id, true) }

func (b boundTx) FindOrCreate(id hashid.ID) (*Record, error) {
	return findOrCreate(b.t, id, true)
}

func (b boundTx) IsApproved(id hashid.ID) (bool, error) { return isApproved(b.t, id) }

func (b boundTx) LockToRevoke(id, owner hashid.ID) (*Record, bool, error) {
	return lockToRevoke(b.t, id, owner, true)
}

func (b boundTx) CreateOutputLockRecord(id hashid.ID) (*Record, bool, error) {
	return createOutputLockRecord(b.t, id, true)
}

// ---- standalone (auto-committing) Tx implementation ----

// GetRecord returns the record for id, or nil if none exists yet.
func (l *StateLedger) GetRecord(id hashid.ID) (*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	raw, err := l.db.Get([]byte(recordKey(id)))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec, err := decodeRecord(id, raw)
	if err != nil {
		return nil, err
	}
	rec.ledger = l
	return rec, nil
}

// FindOrCreate returns the existing record for id, or creates and persists
// one in PENDING if absent.
func (l *StateLedger) FindOrCreate(id hashid.ID) (*Record, error) {
	var out *Record
	err := l.runTx(func(tx *txn) error {
		rec, err := findOrCreate(tx, id, false)
		if err != nil {
			return err
		}
		rec.ledger = l
		out = rec
		return nil
	})
	return out, err
}

// IsApproved reports whether id's record exists and is in StateApproved.
// LOCKED_FOR_CREATION does not count: it is a reservation, not yet a
// realized item, so it must not satisfy another item's reference check.
func (l *StateLedger) IsApproved(id hashid.ID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	raw, err := l.db.Get([]byte(recordKey(id)))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	rec, err := decodeRecord(id, raw)
	if err != nil {
		return false, err
	}
	return rec.data.State == item.StateApproved, nil
}

// LockToRevoke attempts to conditionally lock id's record for revocation.
// It succeeds only if the record currently exists, is approved, and is not
// already locked.
func (l *StateLedger) LockToRevoke(id, owner hashid.ID) (*Record, bool, error) {
	var rec *Record
	var ok bool
	err := l.runTx(func(tx *txn) error {
		r, locked, err := lockToRevoke(tx, id, owner, false)
		if err != nil {
			return err
		}
		if r != nil {
			r.ledger = l
		}
		rec, ok = r, locked
		return nil
	})
	return rec, ok, err
}

// CreateOutputLockRecord attempts to conditionally reserve id for a new
// item. It succeeds only if no record for id exists yet.
func (l *StateLedger) CreateOutputLockRecord(id hashid.ID) (*Record, bool, error) {
	var rec *Record
	var ok bool
	err := l.runTx(func(tx *txn) error {
		r, created, err := createOutputLockRecord(tx, id, false)
		if err != nil {
			return err
		}
		if r != nil {
			r.ledger = l
		}
		rec, ok = r, created
		return nil
	})
	return rec, ok, err
}

// ---- shared conditional-operation logic (used by both standalone and
// transactional call paths) ----

func findOrCreate(t *txn, id hashid.ID, bind bool) (*Record, error) {
	rec, err := t.getRecord(id, bind)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return rec, nil
	}
	rec = &Record{id: id, data: recordData{State: item.StatePending}}
	if bind {
		rec.tx = t
	}
	data, err := json.Marshal(rec.data)
	if err != nil {
		return nil, fmt.Errorf("marshal record %s: %w", id, err)
	}
	t.set(recordKey(id), data)
	return rec, nil
}

func isApproved(t *txn, id hashid.ID) (bool, error) {
	rec, err := t.getRecord(id, false)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	return rec.data.State == item.StateApproved, nil
}

func lockToRevoke(t *txn, id, owner hashid.ID, bind bool) (*Record, bool, error) {
	rec, err := t.getRecord(id, bind)
	if err != nil {
		return nil, false, err
	}
	if rec == nil || rec.data.State != item.StateApproved || rec.data.Locked {
		return nil, false, nil
	}
	rec.data.Locked = true
	rec.data.LockOwner = owner
	data, err := json.Marshal(rec.data)
	if err != nil {
		return nil, false, fmt.Errorf("marshal record %s: %w", id, err)
	}
	t.set(recordKey(id), data)
	return rec, true, nil
}

func createOutputLockRecord(t *txn, id hashid.ID, bind bool) (*Record, bool, error) {
	existing, err := t.getRecord(id, false)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return nil, false, nil
	}
	rec := &Record{id: id, data: recordData{State: item.StateLockedForCreation, Locked: true}}
	if bind {
		rec.tx = t
	}
	data, err := json.Marshal(rec.data)
	if err != nil {
		return nil, false, fmt.Errorf("marshal record %s: %w", id, err)
	}
	t.set(recordKey(id), data)
	return rec, true, nil
}
