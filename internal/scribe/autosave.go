package scribe

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultAutoSaveInterval is the period between automatic saves.
const DefaultAutoSaveInterval = 60 * time.Second

// SaveReloader is what the AutoSaver drives; Session implements it.
type SaveReloader interface {
	Save(ctx context.Context, force bool) (*SaveResult, error)
	Reload(ctx context.Context) (*Reconciliation, error)
}

// AutoSaver triggers a save on every tick. A version conflict triggers a
// reload so the next tick saves on top of the fresh baseline.
type AutoSaver struct {
	target    SaveReloader
	interval  time.Duration
	newTicker TickerFactory
	logger    Logger

	// OnSave, when set, is called after every tick-driven save attempt.
	OnSave func(res *SaveResult, err error)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewAutoSaver creates an AutoSaver. A nil newTicker uses NewRealTicker.
func NewAutoSaver(target SaveReloader, interval time.Duration, newTicker TickerFactory, logger Logger) *AutoSaver {
	if interval <= 0 {
		interval = DefaultAutoSaveInterval
	}
	if newTicker == nil {
		newTicker = NewRealTicker
	}
	return &AutoSaver{
		target:    target,
		interval:  interval,
		newTicker: newTicker,
		logger:    logger,
	}
}

// Start begins ticking in the background. Starting a running AutoSaver
// is a no-op.
func (a *AutoSaver) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	ticker := a.newTicker(a.interval)

	go func(done chan struct{}) {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				a.tick(ctx)
			}
		}
	}(a.done)
}

// Stop ends ticking and waits for a running save attempt to return.
func (a *AutoSaver) Stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (a *AutoSaver) tick(ctx context.Context) {
	res, err := a.target.Save(ctx, false)
	switch {
	case err == nil:
	case errors.Is(err, ErrVersionConflict):
		a.logger.Warn("autosave conflict, reloading", "error", err)
		rec, rerr := a.target.Reload(ctx)
		if rerr != nil {
			a.logger.Error("reload after conflict failed", "error", rerr)
		} else if rec.Conflicts() {
			a.logger.Warn("local edits need manual reconciliation", "unresolved", len(rec.Unresolved))
		}
	case errors.Is(err, ErrSessionClosed), errors.Is(err, context.Canceled):
	default:
		a.logger.Warn("autosave failed", "kind", Classify(err).String(), "error", err)
	}

	if a.OnSave != nil {
		a.OnSave(res, err)
	}
}
