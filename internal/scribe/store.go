package scribe

import (
	"context"
	"errors"

	"scribe-go/internal/model"
)

// VersionStore durably persists versioned payloads for documents.
//
// Save must reject a payload whose Version is not exactly one past the
// latest stored version with ErrVersionConflict, and a payload it cannot
// apply consistently with ErrValidation. Any other error is treated as a
// transport failure and retried on the next trigger.
type VersionStore interface {
	// Save persists the payload and returns the accepted version.
	Save(ctx context.Context, payload *model.BackupPayload) (int64, error)

	// LoadLatest returns the newest persisted state. An unknown document
	// yields version 0 and no blocks.
	LoadLatest(ctx context.Context, documentID string) (*model.DocumentState, error)

	// ListHistory returns up to limit versions, newest first.
	ListHistory(ctx context.Context, documentID string, limit int) ([]model.VersionInfo, error)

	// Restore rolls the document back to version. The returned state is the
	// new head, recorded by the store as a full snapshot.
	Restore(ctx context.Context, documentID string, version int64) (*model.DocumentState, error)
}

var (
	// ErrVersionConflict means the document advanced elsewhere.
	ErrVersionConflict = errors.New("document changed elsewhere")
	// ErrValidation means the store refused the payload as inconsistent.
	ErrValidation = errors.New("payload failed validation")

	ErrNotInitialized = errors.New("coordinator not initialized")
	ErrSaveInFlight   = errors.New("save already in flight")
	ErrSessionClosed  = errors.New("session closed")
	ErrDocumentOpen   = errors.New("document already open")
	ErrUnknownBlock   = errors.New("unknown block")
	ErrDuplicateBlock = errors.New("duplicate block id")
)

// ErrorKind classifies persistence errors by how they are recovered.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindTransport
	KindConflict
	KindValidation
	KindLocal
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransport:
		return "transport"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindLocal:
		return "local"
	default:
		return "unknown"
	}
}

// Classify maps an error returned by the coordinator or a VersionStore
// to its kind.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrVersionConflict):
		return KindConflict
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotInitialized),
		errors.Is(err, ErrSaveInFlight),
		errors.Is(err, ErrSessionClosed),
		errors.Is(err, ErrDocumentOpen),
		errors.Is(err, ErrUnknownBlock),
		errors.Is(err, ErrDuplicateBlock):
		return KindLocal
	default:
		return KindTransport
	}
}
