package scribe_test

import (
	"context"
	"errors"
	"testing"

	"scribe-go/internal/model"
	"scribe-go/internal/scribe"
)

func ids(blocks []model.Block) []string {
	out := make([]string, len(blocks))
	for i, b := range blocks {
		out[i] = b.ID
	}
	return out
}

func TestSession_Insert(t *testing.T) {
	e := newEnv(t)
	s, err := e.manager.Create(threeBlocks())
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		block   model.Block
		after   string
		wantErr error
		want    []string
	}{
		{"at start", model.Block{ID: "x"}, "", nil, []string{"x", "a", "b", "c"}},
		{"after middle", model.Block{ID: "y"}, "b", nil, []string{"x", "a", "b", "y", "c"}},
		{"unknown predecessor", model.Block{ID: "z"}, "nope", scribe.ErrUnknownBlock, nil},
		{"duplicate id", model.Block{ID: "a"}, "c", scribe.ErrDuplicateBlock, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Insert(tt.block, tt.after)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Insert() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got := ids(s.Blocks()); !equalStrings(got, tt.want) {
				t.Errorf("Blocks() = %v, want %v", got, tt.want)
			}
		})
	}

	if err := s.Append(model.Block{ID: "w"}); err != nil {
		t.Fatal(err)
	}
	if got := ids(s.Blocks()); got[len(got)-1] != "w" {
		t.Errorf("Append() placed block at %v", got)
	}
}

func TestSession_EditsFeedTracker(t *testing.T) {
	e := newEnv(t)
	s := e.saved(t, threeBlocks()...)

	if err := s.Update("a", scribe.SetText("Hello.")); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("b"); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(model.Block{ID: "d", Text: "New."}); err != nil {
		t.Fatal(err)
	}

	m := s.Coordinator().Metrics().Tracker
	if m.Added != 1 || m.Modified != 1 || m.Deleted != 1 {
		t.Errorf("tracker metrics = %+v", m)
	}

	if err := s.Update("b", scribe.SetText("gone")); !errors.Is(err, scribe.ErrUnknownBlock) {
		t.Errorf("Update(deleted) error = %v", err)
	}
	if err := s.Delete("b"); !errors.Is(err, scribe.ErrUnknownBlock) {
		t.Errorf("Delete(deleted) error = %v", err)
	}

	res, err := s.Save(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Changes != 3 {
		t.Errorf("Save().Changes = %d, want 3", res.Changes)
	}
	want := []string{"a=Hello.", "c=First item on the agenda.", "d=New."}
	if got := textsOf(e.latest(t, s.DocumentID()).Blocks); !equalStrings(got, want) {
		t.Errorf("stored = %v, want %v", got, want)
	}
}

func TestSession_RenameSpeaker(t *testing.T) {
	e := newEnv(t)
	s := e.saved(t, threeBlocks()...)

	n, err := s.RenameSpeaker("S1", "Alice")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("RenameSpeaker() = %d, want 2", n)
	}
	if n, _ := s.RenameSpeaker("S1", "Alice"); n != 0 {
		t.Errorf("repeated RenameSpeaker() = %d, want 0", n)
	}

	if _, err := s.Save(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	for _, b := range e.latest(t, s.DocumentID()).Blocks {
		want := ""
		if b.SpeakerRef == "S1" {
			want = "Alice"
		}
		if b.SpeakerName != want {
			t.Errorf("block %s speaker name = %q, want %q", b.ID, b.SpeakerName, want)
		}
	}
}

func TestSession_Sync(t *testing.T) {
	e := newEnv(t)
	s := e.saved(t, threeBlocks()...)

	next := threeBlocks()
	next[0].Text = "Morning."
	next[0].SpeakerName = "Alice"
	next = append(next[:1], next[2:]...)
	next = append(next, model.Block{ID: "d", Text: "Any other business?"})

	if err := s.Sync(next); err != nil {
		t.Fatal(err)
	}
	got := map[string]model.Operation{}
	for _, ch := range s.Coordinator().Tracker().PendingChanges() {
		got[ch.ID] = ch.Operation
	}
	want := map[string]model.Operation{"a": model.OpUpdate, "b": model.OpDelete, "d": model.OpCreate}
	if len(got) != len(want) {
		t.Fatalf("pending = %v, want %v", got, want)
	}
	for id, op := range want {
		if got[id] != op {
			t.Errorf("pending[%s] = %q, want %q", id, got[id], op)
		}
	}

	if _, err := s.Save(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if got := textsOf(e.latest(t, s.DocumentID()).Blocks); !equalStrings(got, textsOf(next)) {
		t.Errorf("stored = %v", got)
	}

	dup := []model.Block{{ID: "a"}, {ID: "a"}}
	if err := s.Sync(dup); !errors.Is(err, scribe.ErrDuplicateBlock) {
		t.Errorf("Sync(duplicates) error = %v", err)
	}
}

func TestSession_SyncBackToBaselineIsNoChange(t *testing.T) {
	e := newEnv(t)
	s := e.saved(t, threeBlocks()...)

	edited := threeBlocks()
	edited[1].Text = "temporary"
	_ = s.Sync(edited)
	_ = s.Sync(threeBlocks())

	if s.Coordinator().HasPendingChanges() {
		t.Errorf("pending = %+v", s.Coordinator().Tracker().PendingChanges())
	}
}

func TestSessionManager_OpenOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s := e.saved(t, threeBlocks()...)
	id := s.DocumentID()

	if _, err := e.manager.Open(ctx, id); !errors.Is(err, scribe.ErrDocumentOpen) {
		t.Fatalf("second Open() error = %v, want ErrDocumentOpen", err)
	}
	if e.manager.Get(id) != s {
		t.Error("Get() did not return the open session")
	}

	_ = s.Update("a", scribe.SetText("closing edit"))
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if e.manager.Get(id) != nil {
		t.Error("closed session still registered")
	}
	if err := s.Update("a", scribe.SetText("after close")); !errors.Is(err, scribe.ErrSessionClosed) {
		t.Errorf("Update() after close error = %v", err)
	}

	reopened, err := e.manager.Open(ctx, id)
	if err != nil {
		t.Fatalf("Open() after close error = %v", err)
	}
	if reopened.Coordinator().Version() != 2 || reopened.Blocks()[0].Text != "closing edit" {
		t.Errorf("reopened at v%d with %v", reopened.Coordinator().Version(), textsOf(reopened.Blocks()))
	}
}

func TestSessionManager_OpenUnknownDocument(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	s, err := e.manager.Open(ctx, "fresh")
	if err != nil {
		t.Fatal(err)
	}
	if s.Coordinator().Version() != 0 || len(s.Blocks()) != 0 {
		t.Errorf("fresh document at v%d with %d blocks", s.Coordinator().Version(), len(s.Blocks()))
	}

	_ = s.Append(model.Block{ID: "a", Text: "hello"})
	res, err := s.Save(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Full || res.Version != 1 || res.Reason != "first save" {
		t.Errorf("Save() = %+v, want first full save", res)
	}
}

func TestSessionManager_CreateRejectsDuplicateBlocks(t *testing.T) {
	e := newEnv(t)
	blocks := append(threeBlocks(), model.Block{ID: "b", Text: "Again."})

	if _, err := e.manager.Create(blocks); !errors.Is(err, scribe.ErrDuplicateBlock) {
		t.Fatalf("Create() error = %v, want ErrDuplicateBlock", err)
	}
	if n := len(e.scripted.Payloads()); n != 0 {
		t.Errorf("store saw %d payloads, want 0", n)
	}

	s, err := e.manager.Create(threeBlocks())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if got := ids(s.Blocks()); !equalStrings(got, []string{"a", "b", "c"}) {
		t.Errorf("Blocks() = %v", got)
	}
}

func TestSessionManager_OpenFailureReleasesDocument(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if err := e.store.DB.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := e.manager.Open(ctx, "doc"); err == nil {
		t.Fatal("Open() on a closed index succeeded")
	}
	if _, err := e.manager.Open(ctx, "doc"); errors.Is(err, scribe.ErrDocumentOpen) {
		t.Error("failed Open() kept the document reserved")
	}
}

func TestSessionManager_CloseFailureKeepsSessionOpen(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s := e.saved(t, threeBlocks()...)

	_ = s.Update("a", scribe.SetText("unsaved"))
	e.scripted.FailNext(errTransport)
	if err := s.Close(ctx); !errors.Is(err, errTransport) {
		t.Fatalf("Close() error = %v", err)
	}
	if e.manager.Get(s.DocumentID()) != s {
		t.Fatal("session released after failed final save")
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if e.latest(t, s.DocumentID()).Blocks[0].Text != "unsaved" {
		t.Error("final save did not persist the edit")
	}
}

func TestSessionManager_CloseAll(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	first := e.saved(t, threeBlocks()...)
	second := e.saved(t, model.Block{ID: "only", Text: "one block"})

	_ = first.Update("a", scribe.SetText("first"))
	_ = second.Update("only", scribe.SetText("second"))

	if err := e.manager.CloseAll(ctx); err != nil {
		t.Fatalf("CloseAll() error = %v", err)
	}
	if e.manager.Get(first.DocumentID()) != nil || e.manager.Get(second.DocumentID()) != nil {
		t.Error("sessions still open after CloseAll")
	}
	if e.latest(t, first.DocumentID()).Version != 2 || e.latest(t, second.DocumentID()).Version != 2 {
		t.Error("CloseAll did not save pending changes")
	}
}

func TestSession_History(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s := e.saved(t, threeBlocks()...)
	_ = s.Delete("c")
	_, _ = s.Save(ctx, false)

	history, err := s.History(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[0].Version != 2 || history[0].ChangeSummary != "1 deleted" {
		t.Errorf("History() = %+v", history)
	}
}
