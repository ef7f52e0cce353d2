package scribe

import (
	"sort"

	"scribe-go/internal/model"
)

// Edit is a single-field mutation of a block.
type Edit struct {
	field model.Field
	value model.Block
}

// SetText edits the block text.
func SetText(text string) Edit {
	return Edit{field: model.FieldText, value: model.Block{Text: text}}
}

// SetSpeakerRef edits the speaker reference. An empty ref unassigns it.
func SetSpeakerRef(ref string) Edit {
	return Edit{field: model.FieldSpeakerRef, value: model.Block{SpeakerRef: ref}}
}

// SetSpeakerName edits the speaker display name.
func SetSpeakerName(name string) Edit {
	return Edit{field: model.FieldSpeakerName, value: model.Block{SpeakerName: name}}
}

// SetTimeMarker edits the time marker. nil clears it.
func SetTimeMarker(t *float64) Edit {
	return Edit{field: model.FieldTimeMarker, value: model.Block{TimeMarker: t}}.cloned()
}

// EditFrom builds an edit that sets field to the value it has in b.
func EditFrom(field model.Field, b model.Block) Edit {
	return Edit{field: field, value: b}.cloned()
}

// Field returns the edited field.
func (e Edit) Field() model.Field { return e.field }

func (e Edit) cloned() Edit {
	e.value = e.value.Clone()
	return e
}

func (e Edit) apply(b *model.Block) {
	model.CopyField(b, e.value, e.field)
}

// changeSet is the keyed container of pending changes: at most one entry per
// block id, iteration order irrelevant.
type changeSet struct {
	entries map[string]*model.BlockChange
}

func newChangeSet() changeSet {
	return changeSet{entries: make(map[string]*model.BlockChange)}
}

func (s changeSet) get(id string) (*model.BlockChange, bool) {
	c, ok := s.entries[id]
	return c, ok
}

func (s changeSet) put(c *model.BlockChange) { s.entries[c.ID] = c }

func (s changeSet) remove(id string) { delete(s.entries, id) }

func (s changeSet) len() int { return len(s.entries) }

// list returns copies of all entries sorted by block id.
func (s changeSet) list() []model.BlockChange {
	out := make([]model.BlockChange, 0, len(s.entries))
	for _, c := range s.entries {
		out = append(out, model.BlockChange{Block: c.Block.Clone(), Operation: c.Operation})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// revertsToBaseline reports whether an update entry holds exactly the
// baseline values again, in which case it is not a change.
func revertsToBaseline(change model.BlockChange, base model.Block, known bool) bool {
	return change.Operation == model.OpUpdate && known && model.SameContent(change.Block, base)
}

// ChangeTracker records the minimal set of block mutations relative to a
// Baseline. It performs no I/O and is not safe for concurrent use; the
// Coordinator serializes access to it.
type ChangeTracker struct {
	baseline *Baseline
	changes  changeSet
	added    map[string]struct{} // created since the baseline
	deleted  map[string]struct{}
	logger   Logger
}

// NewChangeTracker creates a tracker with no pending changes.
func NewChangeTracker(baseline *Baseline, logger Logger) *ChangeTracker {
	if baseline == nil {
		baseline = NewBaseline(nil)
	}
	return &ChangeTracker{
		baseline: baseline,
		changes:  newChangeSet(),
		added:    make(map[string]struct{}),
		deleted:  make(map[string]struct{}),
		logger:   logger,
	}
}

// Baseline returns the baseline changes are tracked against.
func (t *ChangeTracker) Baseline() *Baseline {
	return t.baseline
}

// TrackCreated records a new block. A block whose id is already part of the
// baseline (an undone delete) is tracked as an update against the baseline.
func (t *ChangeTracker) TrackCreated(block model.Block) {
	delete(t.deleted, block.ID)

	if t.baseline.Has(block.ID) {
		t.changes.put(&model.BlockChange{Block: block.Clone(), Operation: model.OpUpdate})
		t.settle(block.ID)
		t.logger.Debug("baseline block recreated", "block", block.ID)
		return
	}

	t.changes.put(&model.BlockChange{Block: block.Clone(), Operation: model.OpCreate})
	t.added[block.ID] = struct{}{}
	t.logger.Debug("block created", "block", block.ID)
}

// TrackUpdated records a single-field edit. When full is non-nil its field
// values are merged over the entry after the edit is applied.
func (t *ChangeTracker) TrackUpdated(blockID string, edit Edit, full *model.Block) {
	if _, isNew := t.added[blockID]; isNew {
		if ch, ok := t.changes.get(blockID); ok {
			edit.apply(&ch.Block)
			mergeFull(ch, full)
		}
		return
	}

	ch, ok := t.changes.get(blockID)
	if ok && ch.Operation == model.OpDelete {
		t.logger.Debug("ignoring update to deleted block", "block", blockID)
		return
	}
	if !ok {
		seed, known := t.baseline.Get(blockID)
		if !known {
			seed = model.Block{ID: blockID}
		}
		ch = &model.BlockChange{Block: seed, Operation: model.OpUpdate}
		t.changes.put(ch)
	}

	edit.apply(&ch.Block)
	mergeFull(ch, full)
	t.settle(blockID)
}

// TrackBulkUpdate records the same field edit for many blocks, e.g. a speaker
// rename applied across the document.
func (t *ChangeTracker) TrackBulkUpdate(blocks []model.Block, field model.Field) {
	for i := range blocks {
		t.TrackUpdated(blocks[i].ID, EditFrom(field, blocks[i]), &blocks[i])
	}
}

// TrackDeleted records the removal of a block. Blocks the store never saw
// leave no trace.
func (t *ChangeTracker) TrackDeleted(blockID string) {
	if _, isNew := t.added[blockID]; isNew {
		delete(t.added, blockID)
		t.changes.remove(blockID)
		t.logger.Debug("new block deleted before save", "block", blockID)
		return
	}
	if !t.baseline.Has(blockID) {
		t.changes.remove(blockID)
		return
	}

	t.changes.put(&model.BlockChange{Block: model.Block{ID: blockID}, Operation: model.OpDelete})
	t.deleted[blockID] = struct{}{}
	t.logger.Debug("block deleted", "block", blockID)
}

// PendingChanges returns a copy of every pending change.
func (t *ChangeTracker) PendingChanges() []model.BlockChange {
	return t.changes.list()
}

// HasPendingChanges reports whether any change is pending.
func (t *ChangeTracker) HasPendingChanges() bool {
	return t.changes.len() > 0
}

// PendingCount returns the number of pending changes.
func (t *ChangeTracker) PendingCount() int {
	return t.changes.len()
}

// Reset replaces the baseline and drops every pending change. Call it only
// with the state that was actually persisted.
func (t *ChangeTracker) Reset(baseline *Baseline) {
	t.baseline = baseline
	t.clear()
}

// Live reconstructs the current block values: the baseline with every
// pending change applied.
func (t *ChangeTracker) Live() map[string]model.Block {
	live := make(map[string]model.Block, t.baseline.Len()+t.changes.len())
	for _, b := range t.baseline.Blocks() {
		live[b.ID] = b
	}
	for id, ch := range t.changes.entries {
		if ch.Operation == model.OpDelete {
			delete(live, id)
			continue
		}
		live[id] = ch.Block.Clone()
	}
	return live
}

// Summary renders the pending changes for display, e.g. "1 added, 2 modified".
func (t *ChangeTracker) Summary() string {
	return model.CountChanges(t.changes.list()).String()
}

// TrackerMetrics is a point-in-time view of the tracker.
type TrackerMetrics struct {
	BaselineBlocks int
	Pending        int
	Added          int
	Modified       int
	Deleted        int
}

// Metrics returns counts of baseline blocks and pending changes.
func (t *ChangeTracker) Metrics() TrackerMetrics {
	counts := model.CountChanges(t.changes.list())
	return TrackerMetrics{
		BaselineBlocks: t.baseline.Len(),
		Pending:        t.changes.len(),
		Added:          counts.Added,
		Modified:       counts.Modified,
		Deleted:        counts.Deleted,
	}
}

func (t *ChangeTracker) settle(blockID string) {
	ch, ok := t.changes.get(blockID)
	if !ok {
		return
	}
	base, known := t.baseline.Get(blockID)
	if revertsToBaseline(*ch, base, known) {
		t.changes.remove(blockID)
		t.logger.Debug("block reverted to baseline", "block", blockID)
	}
}

func (t *ChangeTracker) clear() {
	t.changes = newChangeSet()
	t.added = make(map[string]struct{})
	t.deleted = make(map[string]struct{})
}

func mergeFull(ch *model.BlockChange, full *model.Block) {
	if full == nil {
		return
	}
	id := ch.ID
	ch.Block = full.Clone()
	ch.ID = id
}

// Rebase moves the tracker onto a new baseline while keeping every local
// edit: the pending entries become the difference between the new baseline
// and the current live blocks. Used after a save whose payload was captured
// before later edits arrived.
func (t *ChangeTracker) Rebase(baseline *Baseline) {
	live := t.Live()
	t.baseline = baseline
	t.clear()

	for id, blk := range live {
		base, known := baseline.Get(id)
		switch {
		case !known:
			t.changes.put(&model.BlockChange{Block: blk, Operation: model.OpCreate})
			t.added[id] = struct{}{}
		case !model.SameContent(base, blk):
			t.changes.put(&model.BlockChange{Block: blk, Operation: model.OpUpdate})
		}
	}
	for _, id := range baseline.IDs() {
		if _, ok := live[id]; !ok {
			t.changes.put(&model.BlockChange{Block: model.Block{ID: id}, Operation: model.OpDelete})
			t.deleted[id] = struct{}{}
		}
	}
}

// Reconciliation reports how pending edits fared when replayed onto a
// baseline that changed elsewhere.
type Reconciliation struct {
	Reapplied  []string            // block ids whose local edits were kept
	Dropped    []string            // block ids whose local edits already match the new baseline
	Unresolved []model.BlockChange // local edits whose target no longer exists
}

// Conflicts reports whether any local edit needs manual attention.
func (r *Reconciliation) Conflicts() bool {
	return len(r.Unresolved) > 0
}

// Reapply replaces the baseline with one loaded from the store and replays
// the pending edits on top of it. Only the fields that differed from the old
// baseline are carried over, so concurrent edits to other fields of the same
// block survive. Updates to blocks removed elsewhere cannot be replayed and
// are returned as unresolved.
func (t *ChangeTracker) Reapply(baseline *Baseline) Reconciliation {
	old := t.baseline
	pending := t.changes.list()
	t.baseline = baseline
	t.clear()

	var rec Reconciliation
	for _, ch := range pending {
		server, onServer := baseline.Get(ch.ID)

		switch ch.Operation {
		case model.OpDelete:
			if !onServer {
				rec.Dropped = append(rec.Dropped, ch.ID)
				continue
			}
			t.TrackDeleted(ch.ID)
			rec.Reapplied = append(rec.Reapplied, ch.ID)

		case model.OpCreate:
			if !onServer {
				t.TrackCreated(ch.Block)
				rec.Reapplied = append(rec.Reapplied, ch.ID)
				continue
			}
			t.TrackCreated(ch.Block)
			t.record(&rec, ch.ID)

		case model.OpUpdate:
			if !onServer {
				rec.Unresolved = append(rec.Unresolved, ch)
				t.logger.Warn("local edit targets a block removed elsewhere", "block", ch.ID)
				continue
			}
			base, _ := old.Get(ch.ID)
			merged := server
			for _, f := range model.Fields {
				if !model.FieldEqual(ch.Block, base, f) {
					model.CopyField(&merged, ch.Block, f)
				}
			}
			t.TrackCreated(merged)
			t.record(&rec, ch.ID)
		}
	}
	return rec
}

func (t *ChangeTracker) record(rec *Reconciliation, id string) {
	if _, pending := t.changes.get(id); pending {
		rec.Reapplied = append(rec.Reapplied, id)
		return
	}
	rec.Dropped = append(rec.Dropped, id)
}
