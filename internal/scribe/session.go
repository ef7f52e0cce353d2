package scribe

import (
	"context"
	"fmt"
	"sync"

	"scribe-go/internal/model"
)

// Session is one open editing session of a document. It mirrors the
// editor's ordered block list, feeds every mutation into the tracker and
// serves as the coordinator's BlockSource.
type Session struct {
	manager *SessionManager
	coord   *Coordinator
	logger  Logger

	mu     sync.Mutex
	blocks []model.Block
	index  map[string]int
	closed bool
}

func newSession(manager *SessionManager, st *model.DocumentState, policy SnapshotPolicy, logger Logger, clock Clock) *Session {
	s := &Session{manager: manager, logger: logger}
	s.setBlocks(st.Blocks)
	s.coord = NewCoordinator(manager.store, s, policy, logger, clock)
	s.coord.Resume(st)
	return s
}

// DocumentID returns the id of the open document.
func (s *Session) DocumentID() string {
	return s.coord.DocumentID()
}

// Coordinator exposes the session's coordinator.
func (s *Session) Coordinator() *Coordinator {
	return s.coord
}

// Snapshot implements BlockSource.
func (s *Session) Snapshot(fn func(blocks []model.Block)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.blocks)
}

// Blocks returns a copy of the current block list.
func (s *Session) Blocks() []model.Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneBlocks(s.blocks)
}

// Insert adds a block after the block with id afterID, or at the start
// when afterID is empty.
func (s *Session) Insert(block model.Block, afterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usableLocked(); err != nil {
		return err
	}
	if _, dup := s.index[block.ID]; dup {
		return fmt.Errorf("inserting block %s: %w", block.ID, ErrDuplicateBlock)
	}

	pos := 0
	if afterID != "" {
		i, ok := s.index[afterID]
		if !ok {
			return fmt.Errorf("inserting after block %s: %w", afterID, ErrUnknownBlock)
		}
		pos = i + 1
	}

	if err := s.coord.Track(func(t *ChangeTracker) { t.TrackCreated(block) }); err != nil {
		return err
	}
	s.blocks = append(s.blocks, model.Block{})
	copy(s.blocks[pos+1:], s.blocks[pos:])
	s.blocks[pos] = block.Clone()
	s.reindexLocked()
	return nil
}

// Append adds a block at the end of the document.
func (s *Session) Append(block model.Block) error {
	s.mu.Lock()
	last := ""
	if n := len(s.blocks); n > 0 {
		last = s.blocks[n-1].ID
	}
	s.mu.Unlock()
	return s.Insert(block, last)
}

// Update applies a single-field edit to a block.
func (s *Session) Update(blockID string, edit Edit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usableLocked(); err != nil {
		return err
	}
	i, ok := s.index[blockID]
	if !ok {
		return fmt.Errorf("updating block %s: %w", blockID, ErrUnknownBlock)
	}

	if err := s.coord.Track(func(t *ChangeTracker) { t.TrackUpdated(blockID, edit, nil) }); err != nil {
		return err
	}
	edit.apply(&s.blocks[i])
	return nil
}

// RenameSpeaker sets the display name of every block attributed to ref.
// It returns the number of blocks changed.
func (s *Session) RenameSpeaker(ref, name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usableLocked(); err != nil {
		return 0, err
	}

	var changed []model.Block
	for i := range s.blocks {
		if s.blocks[i].SpeakerRef == ref && s.blocks[i].SpeakerName != name {
			s.blocks[i].SpeakerName = name
			changed = append(changed, s.blocks[i])
		}
	}
	if len(changed) == 0 {
		return 0, nil
	}
	err := s.coord.Track(func(t *ChangeTracker) { t.TrackBulkUpdate(changed, model.FieldSpeakerName) })
	return len(changed), err
}

// Delete removes a block.
func (s *Session) Delete(blockID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usableLocked(); err != nil {
		return err
	}
	i, ok := s.index[blockID]
	if !ok {
		return fmt.Errorf("deleting block %s: %w", blockID, ErrUnknownBlock)
	}

	if err := s.coord.Track(func(t *ChangeTracker) { t.TrackDeleted(blockID) }); err != nil {
		return err
	}
	s.blocks = append(s.blocks[:i], s.blocks[i+1:]...)
	s.reindexLocked()
	return nil
}

// Sync replaces the block list with a complete editor snapshot, tracking
// the difference as individual creates, field updates and deletes.
func (s *Session) Sync(blocks []model.Block) error {
	next := make(map[string]model.Block, len(blocks))
	for _, b := range blocks {
		if _, dup := next[b.ID]; dup {
			return fmt.Errorf("syncing block %s: %w", b.ID, ErrDuplicateBlock)
		}
		next[b.ID] = b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usableLocked(); err != nil {
		return err
	}

	err := s.coord.Track(func(t *ChangeTracker) {
		for _, old := range s.blocks {
			if _, ok := next[old.ID]; !ok {
				t.TrackDeleted(old.ID)
			}
		}
		for _, b := range blocks {
			i, ok := s.index[b.ID]
			if !ok {
				t.TrackCreated(b)
				continue
			}
			for _, f := range model.Fields {
				if !model.FieldEqual(s.blocks[i], b, f) {
					t.TrackUpdated(b.ID, EditFrom(f, b), nil)
				}
			}
		}
	})
	if err != nil {
		return err
	}
	s.setBlocks(blocks)
	return nil
}

// Save persists pending changes through the coordinator.
func (s *Session) Save(ctx context.Context, force bool) (*SaveResult, error) {
	return s.coord.Save(ctx, force)
}

// Reload re-baselines after a version conflict and rebuilds the block list
// from the reloaded state with pending local edits reapplied. Blocks created
// locally keep their position after the nearest surviving predecessor.
func (s *Session) Reload(ctx context.Context) (*Reconciliation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usableLocked(); err != nil {
		return nil, err
	}

	st, rec, err := s.coord.Reload(ctx)
	if err != nil {
		return nil, err
	}

	var live map[string]model.Block
	_ = s.coord.Track(func(t *ChangeTracker) { live = t.Live() })
	s.setBlocks(mergeOrder(s.blocks, st.Blocks, live))
	return rec, nil
}

// Restore rolls the document back to version. Unsaved edits are lost.
func (s *Session) Restore(ctx context.Context, version int64) (*model.DocumentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usableLocked(); err != nil {
		return nil, err
	}

	st, err := s.coord.Restore(ctx, version)
	if err != nil {
		return nil, err
	}
	s.setBlocks(st.Blocks)
	return st, nil
}

// History lists persisted versions of the document, newest first.
func (s *Session) History(ctx context.Context, limit int) ([]model.VersionInfo, error) {
	return s.manager.store.ListHistory(ctx, s.DocumentID(), limit)
}

// Close saves pending changes and closes the session. When the final save
// fails the session stays open so the caller can retry or Discard.
func (s *Session) Close(ctx context.Context) error {
	if _, err := s.coord.Flush(ctx); err != nil {
		return fmt.Errorf("final save: %w", err)
	}
	s.Discard()
	return nil
}

// Discard closes the session without saving.
func (s *Session) Discard() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	documentID := s.coord.DocumentID()
	s.coord.Close()
	s.manager.release(documentID, s)
}

func (s *Session) usableLocked() error {
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) setBlocks(blocks []model.Block) {
	s.blocks = cloneBlocks(blocks)
	s.reindexLocked()
}

func (s *Session) reindexLocked() {
	s.index = make(map[string]int, len(s.blocks))
	for i, b := range s.blocks {
		s.index[b.ID] = i
	}
}

// mergeOrder orders the live blocks by the server's sequence and slots each
// block unknown to the server in after its nearest predecessor in the local
// sequence.
func mergeOrder(local, server []model.Block, live map[string]model.Block) []model.Block {
	out := make([]model.Block, 0, len(live))
	placed := make(map[string]bool, len(live))
	after := make(map[string][]string)
	var head []string

	onServer := make(map[string]bool, len(server))
	for _, b := range server {
		onServer[b.ID] = true
	}

	prev := ""
	for _, b := range local {
		if _, ok := live[b.ID]; !ok {
			continue
		}
		if !onServer[b.ID] {
			if prev == "" {
				head = append(head, b.ID)
			} else {
				after[prev] = append(after[prev], b.ID)
			}
		}
		prev = b.ID
	}

	var emit func(id string)
	emit = func(id string) {
		if placed[id] {
			return
		}
		b, ok := live[id]
		if !ok {
			return
		}
		placed[id] = true
		out = append(out, b)
		for _, next := range after[id] {
			emit(next)
		}
	}

	for _, id := range head {
		emit(id)
	}
	for _, b := range server {
		emit(b.ID)
	}
	// Local predecessors that no longer exist on the server.
	for _, b := range local {
		emit(b.ID)
	}
	return out
}

// SessionManager opens documents. Each open document gets its own session,
// coordinator and tracker; a document can be open at most once.
type SessionManager struct {
	store  VersionStore
	policy SnapshotPolicy
	logger Logger
	clock  Clock
	idgen  IDGenerator

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionManager creates a manager persisting through store.
func NewSessionManager(store VersionStore, policy SnapshotPolicy, logger Logger, clock Clock, idgen IDGenerator) *SessionManager {
	return &SessionManager{
		store:    store,
		policy:   policy,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
		sessions: make(map[string]*Session),
	}
}

// Open loads the latest state of an existing document and starts a session
// on it.
func (m *SessionManager) Open(ctx context.Context, documentID string) (*Session, error) {
	if err := m.reserve(documentID); err != nil {
		return nil, err
	}

	st, err := m.store.LoadLatest(ctx, documentID)
	if err != nil {
		m.release(documentID, nil)
		return nil, fmt.Errorf("loading document %s: %w", documentID, err)
	}

	s := newSession(m, st, m.policy, m.logger, m.clock)
	m.mu.Lock()
	m.sessions[documentID] = s
	m.mu.Unlock()

	m.logger.Info("document opened", "document", documentID, "version", st.Version, "blocks", len(st.Blocks))
	return s, nil
}

// Create starts a session on a new document holding blocks. Nothing is
// persisted until the first save, which is always a full snapshot.
func (m *SessionManager) Create(blocks []model.Block) (*Session, error) {
	seen := make(map[string]struct{}, len(blocks))
	for _, b := range blocks {
		if _, dup := seen[b.ID]; dup {
			return nil, fmt.Errorf("creating document with block %s: %w", b.ID, ErrDuplicateBlock)
		}
		seen[b.ID] = struct{}{}
	}

	documentID := m.idgen.New()
	if err := m.reserve(documentID); err != nil {
		return nil, err
	}

	st := &model.DocumentState{DocumentID: documentID, Blocks: blocks}
	s := newSession(m, st, m.policy, m.logger, m.clock)
	m.mu.Lock()
	m.sessions[documentID] = s
	m.mu.Unlock()

	m.logger.Info("document created", "document", documentID, "blocks", len(blocks))
	return s, nil
}

// Get returns the open session for documentID, or nil.
func (m *SessionManager) Get(documentID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[documentID]
}

// CloseAll closes every open session, saving pending changes. Sessions
// whose final save fails are discarded and the first error is returned.
func (m *SessionManager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s != nil {
			open = append(open, s)
		}
	}
	m.mu.Unlock()

	var first error
	for _, s := range open {
		if err := s.Close(ctx); err != nil {
			m.logger.Error("closing document", "document", s.DocumentID(), "error", err)
			if first == nil {
				first = err
			}
			s.Discard()
		}
	}
	return first
}

func (m *SessionManager) reserve(documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, open := m.sessions[documentID]; open {
		return fmt.Errorf("opening %s: %w", documentID, ErrDocumentOpen)
	}
	m.sessions[documentID] = nil
	return nil
}

// release forgets documentID if it is still held by s.
func (m *SessionManager) release(documentID string, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[documentID]; ok && cur == s {
		delete(m.sessions, documentID)
	}
}
