package scribe

import (
	"context"

	"scribe-go/internal/model"
)

// Database is the version index: documents, version rows, the current head
// blocks of every document and the operation log. Lookups return nil, nil
// when nothing matches.
type Database interface {
	// Document operations

	FindDocument(ctx context.Context, documentID string) (*model.DocumentRecord, error)
	ListDocuments(ctx context.Context) ([]*model.DocumentRecord, error)

	// Version operations

	// FindVersion returns a single version row.
	FindVersion(ctx context.Context, documentID string, version int64) (*model.VersionRecord, error)

	// LatestVersion returns the newest version row of a document.
	LatestVersion(ctx context.Context, documentID string) (*model.VersionRecord, error)

	// LatestFullVersion returns the newest full snapshot at or before version.
	LatestFullVersion(ctx context.Context, documentID string, atOrBefore int64) (*model.VersionRecord, error)

	// ListVersions returns up to limit versions newest first; limit <= 0
	// returns all of them.
	ListVersions(ctx context.Context, documentID string, limit int) ([]*model.VersionRecord, error)

	// VersionRange returns versions from..to inclusive, oldest first.
	VersionRange(ctx context.Context, documentID string, from, to int64) ([]*model.VersionRecord, error)

	// HeadBlocks returns the current blocks of a document in order.
	HeadBlocks(ctx context.Context, documentID string) ([]model.Block, error)

	// CommitVersion records a new version and replaces the head blocks in
	// one transaction. It fails with ErrVersionConflict unless the version
	// directly follows the latest recorded one.
	CommitVersion(ctx context.Context, rec *model.VersionRecord, head []model.Block) error

	// DeleteVersionsBefore removes version rows older than version and
	// returns the checksums of blobs no longer referenced by any row.
	DeleteVersionsBefore(ctx context.Context, documentID string, version int64) ([]string, error)

	// Operation log

	CreateOperation(ctx context.Context, operation string, parameters string) (*model.OperationRecord, error)
	FinishOperation(ctx context.Context, id int64, status string) error
	ListOperations(ctx context.Context, limit int) ([]*model.OperationRecord, error)
	MaxOperationID(ctx context.Context) (int64, error)

	// Path returns the database file path, or ":memory:".
	Path() string

	// CheckMigrations verifies the schema is at the latest version.
	CheckMigrations() error

	// BackupTo writes a consistent copy of the database to destPath.
	BackupTo(ctx context.Context, destPath string) error

	Close() error
}
