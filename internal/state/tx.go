package state

import (
	"github.com/goran-ethernal/StarboardIndexor/pkg/model"
)

// ReceiptContext describes the receipt being processed. It is passed by value and never mutated.
type ReceiptContext struct {
	Height       uint64
	BlockHash    string
	Timestamp    int64
	TxID         string
	ReceiptIndex uint32
	ContractID   string
}

// Key returns the dedup key of the receipt.
func (rc ReceiptContext) Key() ReceiptKey {
	return ReceiptKey{Height: rc.Height, Index: rc.ReceiptIndex, TxID: rc.TxID}
}

// Tx is a receipt-scoped overlay over the batch write set. Entities saved
// through it become visible to the batch only when the receipt is committed.
type Tx struct {
	rc      ReceiptContext
	batch   *WriteSet
	overlay *WriteSet
}

// Begin opens an overlay for one receipt on top of batch.
func Begin(batch *WriteSet, rc ReceiptContext) *Tx {
	return &Tx{rc: rc, batch: batch, overlay: NewWriteSet()}
}

// Receipt returns the context of the receipt the overlay belongs to.
func (tx *Tx) Receipt() ReceiptContext {
	return tx.rc
}

// Save stages e in the overlay.
func (tx *Tx) Save(e model.Entity) {
	tx.overlay.Put(model.Clone(e))
}

// Len returns the number of entities staged by this receipt.
func (tx *Tx) Len() int {
	return tx.overlay.Len()
}

// lookup returns the latest pending version of an entity: overlay first, then batch.
func (tx *Tx) lookup(kind model.Kind, id string) (model.Entity, bool) {
	if e, ok := tx.overlay.Get(kind, id); ok {
		return e, true
	}
	return tx.batch.Get(kind, id)
}

// pending returns every pending entity of a kind, overlay versions taking precedence.
func (tx *Tx) pending(kind model.Kind) map[string]model.Entity {
	out := make(map[string]model.Entity)
	for _, e := range tx.batch.Entities(kind) {
		out[e.EntityID()] = e
	}
	for _, e := range tx.overlay.Entities(kind) {
		out[e.EntityID()] = e
	}
	return out
}

// Commit merges the overlay into the batch and marks the receipt processed.
func (tx *Tx) Commit() {
	tx.overlay.MarkProcessed(tx.rc.Key())
	tx.batch.Merge(tx.overlay)
	tx.overlay = NewWriteSet()
}

// Discard drops everything the receipt staged. The receipt stays unprocessed.
func (tx *Tx) Discard() {
	tx.overlay = NewWriteSet()
}
