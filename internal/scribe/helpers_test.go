package scribe_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"scribe-go/internal/model"
	"scribe-go/internal/scribe"
	"scribe-go/internal/testutil"
)

var errTransport = errors.New("connection reset by peer")

// env is a session manager persisting through a scripted wrapper around a
// real archive.
type env struct {
	clock    *testutil.StubClock
	store    *testutil.TestStore
	scripted *testutil.ScriptedStore
	manager  *scribe.SessionManager
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clock := testutil.FixedClock()
	store := testutil.NewTestStore(t, clock)
	scripted := testutil.NewScriptedStore(store)
	return &env{
		clock:    clock,
		store:    store,
		scripted: scripted,
		manager: scribe.NewSessionManager(scripted, scribe.DefaultSnapshotPolicy(),
			scribe.NewNopLogger(), clock, testutil.NewStubIDGenerator()),
	}
}

// saved creates a document holding blocks and saves it as version 1.
func (e *env) saved(t *testing.T, blocks ...model.Block) *scribe.Session {
	t.Helper()
	s, err := e.manager.Create(blocks)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	res, err := s.Save(context.Background(), false)
	if err != nil {
		t.Fatalf("initial Save() error = %v", err)
	}
	if res.Version != 1 || !res.Full {
		t.Fatalf("initial Save() = %+v, want full v1", res)
	}
	return s
}

// writeElsewhere saves an incremental version directly to the archive, as a
// second writer would.
func (e *env) writeElsewhere(t *testing.T, documentID string, changes ...model.BlockChange) int64 {
	t.Helper()
	ctx := context.Background()
	st, err := e.store.LoadLatest(ctx, documentID)
	if err != nil {
		t.Fatalf("LoadLatest() error = %v", err)
	}
	next, err := applyChanges(st.Blocks, changes)
	if err != nil {
		t.Fatal(err)
	}
	p := &model.BackupPayload{
		DocumentID:      documentID,
		Version:         st.Version + 1,
		Timestamp:       e.clock.Now(),
		TotalBlockCount: len(next),
		Changes:         changes,
	}
	v, err := e.store.Save(ctx, p)
	if err != nil {
		t.Fatalf("second writer Save() error = %v", err)
	}
	return v
}

func applyChanges(head []model.Block, changes []model.BlockChange) ([]model.Block, error) {
	out := append([]model.Block(nil), head...)
	for _, ch := range changes {
		switch ch.Operation {
		case model.OpCreate:
			out = append(out, ch.Block)
		case model.OpUpdate:
			for i := range out {
				if out[i].ID == ch.ID {
					out[i] = ch.Block
				}
			}
		case model.OpDelete:
			for i := range out {
				if out[i].ID == ch.ID {
					out = append(out[:i], out[i+1:]...)
					break
				}
			}
		default:
			return nil, errors.New("unknown operation")
		}
	}
	return out, nil
}

func (e *env) latest(t *testing.T, documentID string) *model.DocumentState {
	t.Helper()
	st, err := e.store.LoadLatest(context.Background(), documentID)
	if err != nil {
		t.Fatalf("LoadLatest() error = %v", err)
	}
	return st
}

func waitEntered(t *testing.T, s *testutil.ScriptedStore) *model.BackupPayload {
	t.Helper()
	select {
	case p := <-s.Entered():
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Save to reach the store")
		return nil
	}
}

func threeBlocks() []model.Block {
	return []model.Block{
		{ID: "a", Text: "Good morning everyone.", SpeakerRef: "S1"},
		{ID: "b", Text: "Let's get started.", SpeakerRef: "S2"},
		{ID: "c", Text: "First item on the agenda.", SpeakerRef: "S1"},
	}
}

func textsOf(blocks []model.Block) []string {
	out := make([]string, len(blocks))
	for i, b := range blocks {
		out[i] = b.ID + "=" + b.Text
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// staticSource is a BlockSource over a fixed list.
type staticSource struct {
	blocks []model.Block
}

func (s *staticSource) Snapshot(fn func(blocks []model.Block)) { fn(s.blocks) }
