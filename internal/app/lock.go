package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"scribe-go/internal/config"
)

var (
	// ErrDocumentLocked means another process holds the document's lock.
	ErrDocumentLocked = errors.New("document is locked by another process")
	// ErrInvalidDocumentID rejects ids that cannot name a lock file.
	ErrInvalidDocumentID = errors.New("invalid document id")
)

// validateDocumentID checks that id is a single path element.
func validateDocumentID(id string) error {
	if id == "" || id == "." || id == ".." ||
		strings.ContainsAny(id, "/\\\x00") || filepath.Base(id) != id {
		return fmt.Errorf("%q: %w", id, ErrInvalidDocumentID)
	}
	return nil
}

func lockDir(cfg *config.Config) string {
	return filepath.Join(cfg.BaseDir, "locks")
}

// lockSet holds the per-document lock files taken by one App. A document
// is written by one process at a time.
type lockSet struct {
	dir string

	mu   sync.Mutex
	held map[string]*flock.Flock
}

func newLockSet(dir string) *lockSet {
	return &lockSet{dir: dir, held: make(map[string]*flock.Flock)}
}

// acquire takes the lock for documentID without blocking. Taking a lock
// this set already holds is a no-op.
func (s *lockSet) acquire(documentID string) error {
	if err := validateDocumentID(documentID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.held[documentID]; ok {
		return nil
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}
	lock := flock.New(filepath.Join(s.dir, documentID+".lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock for %s: %w", documentID, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", documentID, ErrDocumentLocked)
	}
	s.held[documentID] = lock
	return nil
}

func (s *lockSet) release(documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lock, ok := s.held[documentID]; ok {
		_ = lock.Unlock()
		delete(s.held, documentID)
	}
}

func (s *lockSet) releaseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, lock := range s.held {
		_ = lock.Unlock()
		delete(s.held, id)
	}
}
