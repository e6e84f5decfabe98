// Package state holds the batch-scoped entity write set and the get-or-create
// resolver that handlers use to read and stage entities.
package state

import (
	"github.com/goran-ethernal/StarboardIndexor/pkg/model"
)

// ReceiptKey identifies a receipt within the canonical ledger order.
type ReceiptKey struct {
	Height uint64 `meddler:"height"`
	Index  uint32 `meddler:"receipt_index"`
	TxID   string `meddler:"tx_id"`
}

// position returns the (height, index) part of the key, which alone is unique.
func (k ReceiptKey) position() [2]uint64 {
	return [2]uint64{k.Height, uint64(k.Index)}
}

// WriteSet is an id-keyed collection of pending entities plus the receipts
// they were derived from. A later Put of the same id replaces the earlier one.
type WriteSet struct {
	entities map[model.Kind]map[string]model.Entity
	order    map[model.Kind][]string
	receipts []ReceiptKey
	seen     map[[2]uint64]struct{}
}

// NewWriteSet creates an empty write set.
func NewWriteSet() *WriteSet {
	return &WriteSet{
		entities: make(map[model.Kind]map[string]model.Entity),
		order:    make(map[model.Kind][]string),
		seen:     make(map[[2]uint64]struct{}),
	}
}

// Put stages e, replacing any pending entity with the same kind and id.
func (w *WriteSet) Put(e model.Entity) {
	kind := e.EntityKind()

	byID, ok := w.entities[kind]
	if !ok {
		byID = make(map[string]model.Entity)
		w.entities[kind] = byID
	}

	if _, exists := byID[e.EntityID()]; !exists {
		w.order[kind] = append(w.order[kind], e.EntityID())
	}
	byID[e.EntityID()] = e
}

// Get returns the pending entity for kind and id.
func (w *WriteSet) Get(kind model.Kind, id string) (model.Entity, bool) {
	e, ok := w.entities[kind][id]
	return e, ok
}

// Entities returns the pending entities of one kind in first-insertion order.
func (w *WriteSet) Entities(kind model.Kind) []model.Entity {
	ids := w.order[kind]
	out := make([]model.Entity, 0, len(ids))
	for _, id := range ids {
		out = append(out, w.entities[kind][id])
	}
	return out
}

// Each visits every pending entity in kind order, then first-insertion order.
func (w *WriteSet) Each(fn func(model.Entity) error) error {
	for _, kind := range model.Kinds {
		for _, id := range w.order[kind] {
			if err := fn(w.entities[kind][id]); err != nil {
				return err
			}
		}
	}
	return nil
}

// MarkProcessed records that the receipt's effects are part of this write set.
func (w *WriteSet) MarkProcessed(key ReceiptKey) {
	if _, ok := w.seen[key.position()]; ok {
		return
	}
	w.seen[key.position()] = struct{}{}
	w.receipts = append(w.receipts, key)
}

// Processed reports whether the receipt was already applied to this write set.
func (w *WriteSet) Processed(key ReceiptKey) bool {
	_, ok := w.seen[key.position()]
	return ok
}

// Receipts returns the processed receipts in the order they were applied.
func (w *WriteSet) Receipts() []ReceiptKey {
	return w.receipts
}

// Len returns the number of pending entities.
func (w *WriteSet) Len() int {
	n := 0
	for _, byID := range w.entities {
		n += len(byID)
	}
	return n
}

// Counts returns the number of pending entities per kind.
func (w *WriteSet) Counts() map[model.Kind]int {
	out := make(map[model.Kind]int, len(w.entities))
	for kind, byID := range w.entities {
		out[kind] = len(byID)
	}
	return out
}

// Empty reports whether the write set holds neither entities nor receipts.
func (w *WriteSet) Empty() bool {
	return w.Len() == 0 && len(w.receipts) == 0
}

// Merge applies other on top of w.
func (w *WriteSet) Merge(other *WriteSet) {
	_ = other.Each(func(e model.Entity) error {
		w.Put(e)
		return nil
	})
	for _, r := range other.receipts {
		w.MarkProcessed(r)
	}
}
