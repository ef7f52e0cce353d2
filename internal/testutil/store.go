package testutil

import (
	"context"
	"sync"
	"testing"

	"scribe-go/internal/archive"
	"scribe-go/internal/database"
	"scribe-go/internal/model"
	"scribe-go/internal/scribe"
	"scribe-go/internal/vault"
)

// TestStore is a real archive over an in-memory index and vault.
type TestStore struct {
	*archive.Archive
	DB    *database.SQLiteDatabase
	Vault *vault.MemoryVault
}

// NewTestStore creates an unencrypted archive for tests.
func NewTestStore(t *testing.T, clock scribe.Clock) *TestStore {
	t.Helper()
	return NewTestStoreWithEncryptor(t, clock, nil)
}

// NewTestStoreWithEncryptor creates an archive that encrypts payloads with
// enc. A nil enc stores them in the clear.
func NewTestStoreWithEncryptor(t *testing.T, clock scribe.Clock, enc scribe.Encryptor) *TestStore {
	t.Helper()
	db := NewTestDatabase(t, clock)
	v := NewTestVault()
	return &TestStore{
		Archive: archive.New(db, v, enc, clock, scribe.NewNopLogger()),
		DB:      db,
		Vault:   v,
	}
}

// ScriptedStore wraps a VersionStore so tests can inject Save failures and
// hold a Save in flight.
type ScriptedStore struct {
	inner scribe.VersionStore

	mu       sync.Mutex
	errs     []error
	gate     chan struct{}
	entered  chan *model.BackupPayload
	payloads []*model.BackupPayload
}

func NewScriptedStore(inner scribe.VersionStore) *ScriptedStore {
	return &ScriptedStore{
		inner:   inner,
		entered: make(chan *model.BackupPayload, 64),
	}
}

// FailNext makes the next len(errs) Save calls return errs in order
// without reaching the wrapped store.
func (s *ScriptedStore) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, errs...)
}

// Hold makes every following Save block until Release.
func (s *ScriptedStore) Hold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate == nil {
		s.gate = make(chan struct{})
	}
}

// Release unblocks held saves.
func (s *ScriptedStore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
}

// Entered delivers every payload as its Save starts.
func (s *ScriptedStore) Entered() <-chan *model.BackupPayload {
	return s.entered
}

// Payloads returns every payload passed to Save.
func (s *ScriptedStore) Payloads() []*model.BackupPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.BackupPayload, len(s.payloads))
	copy(out, s.payloads)
	return out
}

func (s *ScriptedStore) Save(ctx context.Context, p *model.BackupPayload) (int64, error) {
	s.mu.Lock()
	s.payloads = append(s.payloads, p)
	var err error
	if len(s.errs) > 0 {
		err, s.errs = s.errs[0], s.errs[1:]
	}
	gate := s.gate
	s.mu.Unlock()

	select {
	case s.entered <- p:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if err != nil {
		return 0, err
	}
	return s.inner.Save(ctx, p)
}

func (s *ScriptedStore) LoadLatest(ctx context.Context, documentID string) (*model.DocumentState, error) {
	return s.inner.LoadLatest(ctx, documentID)
}

func (s *ScriptedStore) ListHistory(ctx context.Context, documentID string, limit int) ([]model.VersionInfo, error) {
	return s.inner.ListHistory(ctx, documentID, limit)
}

func (s *ScriptedStore) Restore(ctx context.Context, documentID string, version int64) (*model.DocumentState, error) {
	return s.inner.Restore(ctx, documentID, version)
}

var _ scribe.VersionStore = (*ScriptedStore)(nil)
