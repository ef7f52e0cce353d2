package app

import (
	"context"
	"fmt"

	"scribe-go/internal/model"
	"scribe-go/internal/scribe"
)

// BlockLoader reads the current editor content of a watched document.
type BlockLoader func(ctx context.Context) ([]model.Block, error)

// syncingTarget pulls the editor content into the session before every
// save, so each autosave tick persists whatever changed since the last.
type syncingTarget struct {
	session *scribe.Session
	load    BlockLoader
}

func (t *syncingTarget) Save(ctx context.Context, force bool) (*scribe.SaveResult, error) {
	blocks, err := t.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading editor content: %w", err)
	}
	if err := t.session.Sync(blocks); err != nil {
		return nil, err
	}
	return t.session.Save(ctx, force)
}

func (t *syncingTarget) Reload(ctx context.Context) (*scribe.Reconciliation, error) {
	return t.session.Reload(ctx)
}

// WatchDocument autosaves a document until ctx is cancelled, reading its
// content through load on every tick. A final save runs on the way out.
// onSave, when set, observes every tick.
func (a *App) WatchDocument(ctx context.Context, documentID string, load BlockLoader, onSave func(*scribe.SaveResult, error)) error {
	interval, err := a.cfg.AutoSave.IntervalDuration()
	if err != nil {
		return err
	}
	if err := a.persistOperation(ctx, fmt.Sprintf("document=%s interval=%s", documentID, interval)); err != nil {
		return err
	}

	s, err := a.openSession(ctx, documentID)
	if err != nil {
		return a.fail(err)
	}

	target := &syncingTarget{session: s, load: load}
	saver := scribe.NewAutoSaver(target, interval, a.newTicker, a.logger)
	saver.OnSave = onSave
	saver.Start(ctx)
	a.logger.Info("watching document", "document", documentID)

	<-ctx.Done()
	saver.Stop()

	final := context.Background()
	if _, err := target.Save(final, false); err != nil {
		a.logger.Warn("final save failed", "document", documentID, "error", err)
	}
	return a.fail(a.closeSession(final, s))
}
