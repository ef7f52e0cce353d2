package archive

import (
	"encoding/json"
	"fmt"

	"github.com/zeebo/xxh3"

	"scribe-go/internal/model"
	"scribe-go/internal/scribe"
)

// Apply returns the document that results from applying p to head. head is
// not modified. Any inconsistency between the payload and head is reported
// as scribe.ErrValidation.
func Apply(head []model.Block, p *model.BackupPayload) ([]model.Block, error) {
	var out []model.Block
	var err error
	if p.IsFullSnapshot {
		out, err = applyFull(p)
	} else {
		out, err = applyIncremental(head, p)
	}
	if err != nil {
		return nil, err
	}
	if len(out) != p.TotalBlockCount {
		return nil, invalid("version %d has %d blocks, payload declares %d", p.Version, len(out), p.TotalBlockCount)
	}
	return out, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", scribe.ErrValidation, fmt.Sprintf(format, args...))
}

func applyFull(p *model.BackupPayload) ([]model.Block, error) {
	seen := make(map[string]struct{}, len(p.Changes))
	out := make([]model.Block, 0, len(p.Changes))
	for _, ch := range p.Changes {
		if ch.ID == "" {
			return nil, invalid("full snapshot contains a block without id")
		}
		if ch.Operation != model.OpUpdate {
			return nil, invalid("full snapshot entry %s is %q, want %q", ch.ID, ch.Operation, model.OpUpdate)
		}
		if _, dup := seen[ch.ID]; dup {
			return nil, invalid("full snapshot repeats block %s", ch.ID)
		}
		seen[ch.ID] = struct{}{}
		out = append(out, ch.Block.Clone())
	}
	return out, nil
}

func applyIncremental(head []model.Block, p *model.BackupPayload) ([]model.Block, error) {
	blocks := make(map[string]model.Block, len(head))
	order := make([]string, 0, len(head))
	for _, b := range head {
		blocks[b.ID] = b.Clone()
		order = append(order, b.ID)
	}

	for _, ch := range p.Changes {
		_, exists := blocks[ch.ID]
		switch ch.Operation {
		case model.OpCreate:
			if exists {
				return nil, invalid("create of existing block %s", ch.ID)
			}
			blocks[ch.ID] = ch.Block.Clone()
			order = append(order, ch.ID)
		case model.OpUpdate:
			if !exists {
				return nil, invalid("update of unknown block %s", ch.ID)
			}
			blocks[ch.ID] = ch.Block.Clone()
		case model.OpDelete:
			if !exists {
				return nil, invalid("delete of unknown block %s", ch.ID)
			}
			delete(blocks, ch.ID)
		default:
			return nil, invalid("unknown operation %q on block %s", ch.Operation, ch.ID)
		}
	}

	if p.Order != nil {
		if len(p.Order) != len(blocks) {
			return nil, invalid("order lists %d blocks, document has %d", len(p.Order), len(blocks))
		}
		seen := make(map[string]struct{}, len(p.Order))
		for _, id := range p.Order {
			if _, ok := blocks[id]; !ok {
				return nil, invalid("order references unknown block %s", id)
			}
			if _, dup := seen[id]; dup {
				return nil, invalid("order repeats block %s", id)
			}
			seen[id] = struct{}{}
		}
		order = p.Order
	}

	out := make([]model.Block, 0, len(blocks))
	for _, id := range order {
		if b, ok := blocks[id]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}

// Digest returns the xxh3-128 digest of a document's blocks in order.
func Digest(blocks []model.Block) string {
	if blocks == nil {
		blocks = []model.Block{}
	}
	data, err := json.Marshal(blocks)
	if err != nil {
		// model.Block always marshals
		panic(fmt.Sprintf("archive: marshaling blocks: %v", err))
	}
	return fmt.Sprintf("%x", xxh3.Hash128(data).Bytes())
}

// Diff counts how next differs from prev, block by block.
func Diff(prev, next []model.Block) model.ChangeCounts {
	before := make(map[string]model.Block, len(prev))
	for _, b := range prev {
		before[b.ID] = b
	}

	var c model.ChangeCounts
	for _, b := range next {
		old, ok := before[b.ID]
		switch {
		case !ok:
			c.Added++
		case !model.SameContent(old, b):
			c.Modified++
		}
		delete(before, b.ID)
	}
	c.Deleted = len(before)
	return c
}
