package scribe

import "scribe-go/internal/model"

// Baseline holds the last known-persisted state of every block of a document,
// keyed by block id, along with the persisted block order. It is the reference
// the ChangeTracker diffs against. A Baseline is never mutated after
// construction; commits replace it wholesale.
type Baseline struct {
	order  []string
	blocks map[string]model.Block
}

// NewBaseline builds a Baseline from an ordered block list. Blocks are copied.
// If an id appears more than once the last occurrence wins and keeps the
// position of the first.
func NewBaseline(blocks []model.Block) *Baseline {
	b := &Baseline{
		order:  make([]string, 0, len(blocks)),
		blocks: make(map[string]model.Block, len(blocks)),
	}
	for _, blk := range blocks {
		if _, dup := b.blocks[blk.ID]; !dup {
			b.order = append(b.order, blk.ID)
		}
		b.blocks[blk.ID] = blk.Clone()
	}
	return b
}

// Get returns a copy of the baseline block with the given id.
func (b *Baseline) Get(id string) (model.Block, bool) {
	blk, ok := b.blocks[id]
	if !ok {
		return model.Block{}, false
	}
	return blk.Clone(), true
}

// Has reports whether id is part of the baseline.
func (b *Baseline) Has(id string) bool {
	_, ok := b.blocks[id]
	return ok
}

// Len returns the number of baseline blocks.
func (b *Baseline) Len() int {
	return len(b.order)
}

// IDs returns the persisted block order.
func (b *Baseline) IDs() []string {
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

// Blocks returns copies of the baseline blocks in persisted order.
func (b *Baseline) Blocks() []model.Block {
	out := make([]model.Block, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.blocks[id].Clone())
	}
	return out
}

// SameOrder reports whether ids equals the persisted order exactly.
func (b *Baseline) SameOrder(ids []string) bool {
	if len(ids) != len(b.order) {
		return false
	}
	for i, id := range ids {
		if b.order[i] != id {
			return false
		}
	}
	return true
}
