package scribe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"scribe-go/internal/model"
)

// State is the lifecycle state of a Coordinator.
type State int

const (
	StateUninitialized State = iota
	StateIdle
	StateSavePending
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateIdle:
		return "idle"
	case StateSavePending:
		return "save-pending"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// BlockSource supplies the current ordered block list of a document.
// Snapshot must hold off edits while fn runs so the list and the tracker
// agree.
type BlockSource interface {
	Snapshot(fn func(blocks []model.Block))
}

// SaveResult describes the outcome of a Save call.
type SaveResult struct {
	Version   int64
	Full      bool
	Reason    string
	Changes   int
	Skipped   bool // nothing to persist
	Coalesced bool // folded into the save already in flight
	Discarded bool // persisted, but the coordinator closed before commit

	inflight <-chan struct{}
}

// Wait blocks until the save a coalesced result was folded into has
// finished. It returns immediately for any other result.
func (r *SaveResult) Wait(ctx context.Context) error {
	if r.inflight == nil {
		return nil
	}
	select {
	case <-r.inflight:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CoordinatorMetrics is a point-in-time view of a coordinator.
type CoordinatorMetrics struct {
	DocumentID string
	State      State
	Version    int64
	LastFullAt time.Time
	Saves      int
	FullSaves  int
	Failures   int
	Conflicts  int
	Coalesced  int
	Tracker    TrackerMetrics
}

type prepared struct {
	version int64
	full    bool
}

type flight struct {
	payload    *model.BackupPayload
	blocks     []model.Block
	reason     string
	generation uint64
}

// Coordinator owns the save protocol for one document: it asks the tracker
// for pending changes, lets the policy choose the payload mode, hands the
// payload to the VersionStore and reconciles the tracker once the store
// acknowledges it. At most one persistence call is in flight at a time.
type Coordinator struct {
	store  VersionStore
	source BlockSource
	policy SnapshotPolicy
	logger Logger
	clock  Clock

	mu         sync.Mutex
	tracker    *ChangeTracker
	documentID string
	state      State
	lastAcked  int64
	lastFullAt time.Time
	prepared   *prepared
	persisting bool
	again      bool
	againForce bool
	inflight   chan struct{}
	generation uint64
	stats      CoordinatorMetrics
}

// NewCoordinator creates an uninitialized coordinator. source may be nil
// when only PreparePayload and Commit are used.
func NewCoordinator(store VersionStore, source BlockSource, policy SnapshotPolicy, logger Logger, clock Clock) *Coordinator {
	return &Coordinator{
		store:   store,
		source:  source,
		policy:  policy,
		logger:  logger,
		clock:   clock,
		tracker: NewChangeTracker(nil, logger),
	}
}

// Initialize sets the baseline for documentID at the given persisted
// version. Version 0 means nothing has been persisted yet, so the first save
// is a full snapshot. Any save still in flight from before is discarded
// when it completes.
func (c *Coordinator) Initialize(documentID string, blocks []model.Block, version int64) {
	c.Resume(&model.DocumentState{DocumentID: documentID, Version: version, Blocks: blocks})
}

// Resume initializes from a state loaded from the store. The full snapshot
// interval counts from the state's LastFullAt when it is known and from now
// otherwise. A save in flight keeps running but no longer holds the
// single-flight slot.
func (c *Coordinator) Resume(st *model.DocumentState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.releaseLocked()
	c.documentID = st.DocumentID
	c.lastAcked = st.Version
	c.lastFullAt = st.LastFullAt
	if c.lastFullAt.IsZero() {
		c.lastFullAt = c.clock.Now()
	}
	c.tracker = NewChangeTracker(NewBaseline(st.Blocks), c.logger)
	c.prepared = nil
	c.again, c.againForce = false, false
	c.state = StateIdle
	c.stats = CoordinatorMetrics{}

	c.logger.Debug("coordinator initialized", "document", st.DocumentID, "version", st.Version, "blocks", len(st.Blocks))
}

// Track runs fn against the tracker under the coordinator lock.
func (c *Coordinator) Track(fn func(t *ChangeTracker)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked(); err != nil {
		return err
	}
	fn(c.tracker)
	return nil
}

// Tracker returns the tracker. It must not be used concurrently with Save;
// use Track for that.
func (c *Coordinator) Tracker() *ChangeTracker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker
}

// HasPendingChanges reports whether the tracker holds unsaved changes.
func (c *Coordinator) HasPendingChanges() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker.HasPendingChanges()
}

// PreparePayload builds the next payload from the given block list without
// touching the tracker. Calling it again replaces the prepared payload, so
// it may be retried freely.
func (c *Coordinator) PreparePayload(blocks []model.Block, force bool) (*model.BackupPayload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked(); err != nil {
		return nil, err
	}
	if c.persisting {
		return nil, ErrSaveInFlight
	}
	payload, _ := c.prepareLocked(blocks, force)
	return payload, nil
}

// Commit reconciles the tracker after the store acknowledged the prepared
// payload as ackedVersion: blocks become the new baseline and every pending
// change is cleared. Committing a version that was not prepared is a bug in
// the caller and panics.
func (c *Coordinator) Commit(ackedVersion int64, blocks []model.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	full := c.mustPrepared(ackedVersion)
	c.tracker.Reset(NewBaseline(blocks))
	c.commitLocked(ackedVersion, full)
}

// Save persists pending changes. A call arriving while another save is in
// flight is coalesced: it returns at once and the running save goes again
// after it completes. Edits made while a save is in flight stay pending for
// the next one.
func (c *Coordinator) Save(ctx context.Context, force bool) (*SaveResult, error) {
	if c.source == nil {
		return nil, fmt.Errorf("saving: no block source")
	}

	var last *SaveResult
	for {
		fl, res, err := c.begin(force)
		if fl == nil {
			if last != nil {
				return last, nil
			}
			return res, err
		}

		version, err := c.store.Save(ctx, fl.payload)
		res, again, againForce, err := c.finish(fl, version, err)
		if err != nil || !again {
			return res, err
		}
		last, force = res, againForce
	}
}

// Flush saves pending changes, waiting out any save already in flight.
func (c *Coordinator) Flush(ctx context.Context) (*SaveResult, error) {
	for {
		res, err := c.Save(ctx, false)
		if err != nil || !res.Coalesced {
			return res, err
		}
		if err := res.Wait(ctx); err != nil {
			return nil, err
		}
	}
}

// Reload re-baselines after a version conflict: the latest state is loaded
// from the store and pending local edits are replayed on top of it.
func (c *Coordinator) Reload(ctx context.Context) (*model.DocumentState, *Reconciliation, error) {
	documentID, gen, err := c.acquire()
	if err != nil {
		return nil, nil, err
	}

	st, err := c.store.LoadLatest(ctx, documentID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return nil, nil, ErrSessionClosed
	}
	c.releaseLocked()
	if err != nil {
		return nil, nil, fmt.Errorf("loading latest version: %w", err)
	}

	rec := c.tracker.Reapply(NewBaseline(st.Blocks))
	c.lastAcked = st.Version
	if !st.LastFullAt.IsZero() {
		c.lastFullAt = st.LastFullAt
	}
	c.prepared = nil

	c.logger.Info("document reloaded",
		"document", documentID,
		"version", st.Version,
		"reapplied", len(rec.Reapplied),
		"dropped", len(rec.Dropped),
		"unresolved", len(rec.Unresolved))
	return st, &rec, nil
}

// Restore rolls the document back to version and adopts the restored
// state as if it had just been saved. Pending changes are discarded.
func (c *Coordinator) Restore(ctx context.Context, version int64) (*model.DocumentState, error) {
	documentID, gen, err := c.acquire()
	if err != nil {
		return nil, err
	}

	st, err := c.store.Restore(ctx, documentID, version)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return nil, ErrSessionClosed
	}
	c.releaseLocked()
	if err != nil {
		return nil, fmt.Errorf("restoring version %d: %w", version, err)
	}

	c.tracker.Reset(NewBaseline(st.Blocks))
	c.commitLocked(st.Version, true)

	c.logger.Info("document restored", "document", documentID, "from", version, "version", st.Version)
	return st, nil
}

// Close stops the coordinator. A save that completes afterwards is not
// committed.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	c.generation++
	c.releaseLocked()
	c.state = StateClosed
	c.logger.Debug("coordinator closed", "document", c.documentID, "pending", c.tracker.PendingCount())
}

// State returns the lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Version returns the last acknowledged version.
func (c *Coordinator) Version() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastAcked
}

// DocumentID returns the document the coordinator was initialized for.
func (c *Coordinator) DocumentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.documentID
}

// Metrics returns counters and tracker state.
func (c *Coordinator) Metrics() CoordinatorMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.stats
	m.DocumentID = c.documentID
	m.State = c.state
	m.Version = c.lastAcked
	m.LastFullAt = c.lastFullAt
	m.Tracker = c.tracker.Metrics()
	return m
}

func (c *Coordinator) usableLocked() error {
	switch c.state {
	case StateUninitialized:
		return ErrNotInitialized
	case StateClosed:
		return ErrSessionClosed
	}
	return nil
}

func (c *Coordinator) prepareLocked(blocks []model.Block, force bool) (*model.BackupPayload, Decision) {
	now := c.clock.Now()
	pending := c.tracker.PendingChanges()
	decision := c.policy.Decide(PolicyInput{
		FirstSave:      c.lastAcked == 0,
		Force:          force,
		PendingChanges: len(pending),
		SinceLastFull:  now.Sub(c.lastFullAt),
	})

	payload := &model.BackupPayload{
		DocumentID:      c.documentID,
		Version:         c.lastAcked + 1,
		Timestamp:       now,
		TotalBlockCount: len(blocks),
	}
	if decision.Mode == ModeFull {
		payload.IsFullSnapshot = true
		payload.Changes = make([]model.BlockChange, 0, len(blocks))
		for _, b := range blocks {
			payload.Changes = append(payload.Changes, model.BlockChange{Block: b.Clone(), Operation: model.OpUpdate})
		}
	} else {
		payload.Changes = pending
		ids := blockIDs(blocks)
		if !c.tracker.Baseline().SameOrder(ids) {
			payload.Order = ids
		}
	}

	c.prepared = &prepared{version: payload.Version, full: payload.IsFullSnapshot}
	return payload, decision
}

func (c *Coordinator) mustPrepared(version int64) bool {
	if c.prepared == nil || c.prepared.version != version {
		panic(fmt.Sprintf("scribe: commit of version %d does not match a prepared payload", version))
	}
	return c.prepared.full
}

// commitLocked records an acknowledged version. The tracker must already
// hold the new baseline.
func (c *Coordinator) commitLocked(version int64, full bool) {
	c.lastAcked = version
	if full {
		c.lastFullAt = c.clock.Now()
	}
	c.prepared = nil
}

func (c *Coordinator) begin(force bool) (fl *flight, res *SaveResult, err error) {
	c.source.Snapshot(func(blocks []model.Block) {
		c.mu.Lock()
		defer c.mu.Unlock()

		if err = c.usableLocked(); err != nil {
			return
		}
		if c.persisting {
			c.again = true
			c.againForce = c.againForce || force
			c.stats.Coalesced++
			res = &SaveResult{Coalesced: true, inflight: c.inflight}
			return
		}

		payload, decision := c.prepareLocked(blocks, force)
		if payload.Empty() {
			c.prepared = nil
			res = &SaveResult{Version: c.lastAcked, Skipped: true, Reason: "no changes"}
			return
		}

		c.persisting = true
		c.state = StateSavePending
		c.inflight = make(chan struct{})
		fl = &flight{
			payload:    payload,
			blocks:     cloneBlocks(blocks),
			reason:     decision.Reason,
			generation: c.generation,
		}
	})
	return fl, res, err
}

func (c *Coordinator) finish(fl *flight, version int64, saveErr error) (res *SaveResult, again, againForce bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := fl.payload
	if fl.generation != c.generation {
		c.logger.Warn("discarding save completed after close",
			"document", p.DocumentID, "version", p.Version, "error", saveErr)
		return &SaveResult{Version: version, Full: p.IsFullSnapshot, Discarded: true}, false, false, nil
	}
	again, againForce = c.again, c.againForce
	c.releaseLocked()
	c.state = StateIdle

	if saveErr != nil {
		c.prepared = nil
		c.stats.Failures++
		if Classify(saveErr) == KindConflict {
			c.stats.Conflicts++
		}
		c.logger.Warn("save failed",
			"document", p.DocumentID,
			"version", p.Version,
			"kind", Classify(saveErr).String(),
			"error", saveErr)
		return nil, false, false, fmt.Errorf("saving version %d: %w", p.Version, saveErr)
	}

	full := c.mustPrepared(version)
	c.tracker.Rebase(NewBaseline(fl.blocks))
	c.commitLocked(version, full)

	c.stats.Saves++
	if full {
		c.stats.FullSaves++
	}
	c.logger.Info("version saved",
		"document", p.DocumentID,
		"version", version,
		"mode", modeOf(full).String(),
		"reason", fl.reason,
		"changes", len(p.Changes))

	return &SaveResult{
		Version: version,
		Full:    full,
		Reason:  fl.reason,
		Changes: len(p.Changes),
	}, again, againForce, nil
}

// acquire claims the single-flight slot for a reload or restore.
func (c *Coordinator) acquire() (string, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usableLocked(); err != nil {
		return "", 0, err
	}
	if c.persisting {
		return "", 0, ErrSaveInFlight
	}
	c.persisting = true
	c.state = StateSavePending
	c.inflight = make(chan struct{})
	return c.documentID, c.generation, nil
}

func (c *Coordinator) releaseLocked() {
	c.persisting = false
	c.again, c.againForce = false, false
	if c.inflight != nil {
		close(c.inflight)
		c.inflight = nil
	}
	if c.state == StateSavePending {
		c.state = StateIdle
	}
}

func modeOf(full bool) Mode {
	if full {
		return ModeFull
	}
	return ModeIncremental
}

func blockIDs(blocks []model.Block) []string {
	ids := make([]string, len(blocks))
	for i, b := range blocks {
		ids[i] = b.ID
	}
	return ids
}

func cloneBlocks(blocks []model.Block) []model.Block {
	out := make([]model.Block, len(blocks))
	for i, b := range blocks {
		out[i] = b.Clone()
	}
	return out
}
