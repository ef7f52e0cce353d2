package app

import (
	"context"
	"fmt"

	"scribe-go/internal/archive"
	"scribe-go/internal/config"
	"scribe-go/internal/model"
	"scribe-go/internal/scribe"
)

// openSession locks an existing document and opens it for editing.
// Documents are only created by ImportDocument.
func (a *App) openSession(ctx context.Context, documentID string) (*scribe.Session, error) {
	if err := a.locks.acquire(documentID); err != nil {
		return nil, err
	}
	s, err := a.sessions.Open(ctx, documentID)
	if err != nil {
		a.locks.release(documentID)
		return nil, err
	}
	if s.Coordinator().Version() == 0 {
		s.Discard()
		a.locks.release(documentID)
		return nil, fmt.Errorf("document %s: %w", documentID, scribe.ErrNotFound)
	}
	return s, nil
}

// closeSession saves what is pending, closes the session and drops the lock.
// A session whose final save fails is discarded.
func (a *App) closeSession(ctx context.Context, s *scribe.Session) error {
	documentID := s.DocumentID()
	defer a.locks.release(documentID)

	if err := s.Close(ctx); err != nil {
		s.Discard()
		return err
	}
	return nil
}

// ImportDocument stores blocks as a new document and returns its id. The
// first version is always a full snapshot.
func (a *App) ImportDocument(ctx context.Context, blocks []model.Block) (string, *scribe.SaveResult, error) {
	if err := a.persistOperation(ctx, fmt.Sprintf("blocks=%d", len(blocks))); err != nil {
		return "", nil, err
	}

	s, err := a.sessions.Create(blocks)
	if err != nil {
		return "", nil, a.fail(err)
	}
	documentID := s.DocumentID()
	if err := a.locks.acquire(documentID); err != nil {
		s.Discard()
		return "", nil, a.fail(err)
	}
	defer a.locks.release(documentID)

	res, err := s.Save(ctx, false)
	s.Discard()
	if err != nil {
		return "", nil, a.fail(fmt.Errorf("saving document %s: %w", documentID, err))
	}
	return documentID, res, nil
}

// EditDocument replaces the content of a document with blocks and saves the
// difference as the next version.
func (a *App) EditDocument(ctx context.Context, documentID string, blocks []model.Block, force bool) (*scribe.SaveResult, error) {
	if err := a.persistOperation(ctx, fmt.Sprintf("document=%s force=%t", documentID, force)); err != nil {
		return nil, err
	}

	s, err := a.openSession(ctx, documentID)
	if err != nil {
		return nil, a.fail(err)
	}
	if err := s.Sync(blocks); err != nil {
		a.closeSession(ctx, s)
		return nil, a.fail(err)
	}

	res, err := s.Save(ctx, force)
	if err != nil {
		s.Discard()
		a.locks.release(documentID)
		return nil, a.fail(fmt.Errorf("saving document %s: %w", documentID, err))
	}
	return res, a.fail(a.closeSession(ctx, s))
}

// RenameSpeaker sets the display name of every block attributed to ref and
// saves the result. It returns the number of blocks changed.
func (a *App) RenameSpeaker(ctx context.Context, documentID, ref, name string) (int, error) {
	if err := a.persistOperation(ctx, fmt.Sprintf("document=%s ref=%s", documentID, ref)); err != nil {
		return 0, err
	}

	s, err := a.openSession(ctx, documentID)
	if err != nil {
		return 0, a.fail(err)
	}
	n, err := s.RenameSpeaker(ref, name)
	if err != nil {
		a.closeSession(ctx, s)
		return 0, a.fail(err)
	}
	return n, a.fail(a.closeSession(ctx, s))
}

// ShowDocument returns a document at version, or its latest state when
// version is 0. Older versions of encrypted documents need Unlock.
func (a *App) ShowDocument(ctx context.Context, documentID string, version int64) (*model.DocumentState, error) {
	st, err := a.archive.LoadLatest(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if st.Version == 0 {
		return nil, fmt.Errorf("document %s: %w", documentID, scribe.ErrNotFound)
	}
	if version == 0 || version == st.Version {
		return st, nil
	}

	blocks, err := a.archive.Materialize(ctx, documentID, version)
	if err != nil {
		return nil, err
	}
	return &model.DocumentState{DocumentID: documentID, Version: version, Blocks: blocks}, nil
}

// History returns up to limit versions of a document, newest first.
func (a *App) History(ctx context.Context, documentID string, limit int) ([]model.VersionInfo, error) {
	return a.archive.ListHistory(ctx, documentID, limit)
}

// Documents lists every document in the index.
func (a *App) Documents(ctx context.Context) ([]*model.DocumentRecord, error) {
	return a.archive.Documents(ctx)
}

// RestoreDocument rolls a document back to version. The restored content
// becomes a new full-snapshot version.
func (a *App) RestoreDocument(ctx context.Context, documentID string, version int64) (*model.DocumentState, error) {
	if err := a.persistOperation(ctx, fmt.Sprintf("document=%s version=%d", documentID, version)); err != nil {
		return nil, err
	}

	s, err := a.openSession(ctx, documentID)
	if err != nil {
		return nil, a.fail(err)
	}
	st, err := s.Restore(ctx, version)
	if err != nil {
		a.closeSession(ctx, s)
		return nil, a.fail(err)
	}
	return st, a.fail(a.closeSession(ctx, s))
}

// PruneDocument drops old versions of a document, keeping the newest keep.
// keep <= 0 uses the configured retention.
func (a *App) PruneDocument(ctx context.Context, documentID string, keep int) (*archive.PruneResult, error) {
	if keep <= 0 {
		keep = a.cfg.Retention.KeepVersions
	}
	if keep <= 0 {
		keep = config.DefaultKeepVersions
	}
	if err := a.persistOperation(ctx, fmt.Sprintf("document=%s keep=%d", documentID, keep)); err != nil {
		return nil, err
	}

	if err := a.locks.acquire(documentID); err != nil {
		return nil, a.fail(err)
	}
	defer a.locks.release(documentID)

	res, err := a.archive.Prune(ctx, documentID, keep)
	return res, a.fail(err)
}

// ValidateVault checks that the configured vault is reachable.
func (a *App) ValidateVault(ctx context.Context) error {
	return a.vault.ValidateSetup(ctx)
}
