package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"scribe-go/internal/database/migrations"
	"scribe-go/internal/model"
	"scribe-go/internal/scribe"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements scribe.Database on SQLite.
type SQLiteDatabase struct {
	db      *sql.DB
	queries *queries
	path    string
	clock   scribe.Clock
}

// NewSQLiteDatabase opens a SQLite database. path can be a file path or
// ":memory:". A nil clock uses the real time.
func NewSQLiteDatabase(path string, clock scribe.Clock) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteDatabaseFromDB(db, path, clock), nil
}

// NewSQLiteDatabaseFromDB wraps an already configured connection.
func NewSQLiteDatabaseFromDB(db *sql.DB, path string, clock scribe.Clock) *SQLiteDatabase {
	if clock == nil {
		clock = scribe.RealClock{}
	}
	return &SQLiteDatabase{
		db:      db,
		queries: newQueries(db),
		path:    path,
		clock:   clock,
	}
}

// OpenConnection opens a SQLite connection with foreign keys enforced.
// An in-memory database is pinned to a single connection, since every new
// connection to ":memory:" would see an empty database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Migrate brings the schema to the latest version.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// Document operations

func (s *SQLiteDatabase) FindDocument(ctx context.Context, documentID string) (*model.DocumentRecord, error) {
	doc, err := s.queries.getDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding document: %w", err)
	}
	return doc, nil
}

func (s *SQLiteDatabase) ListDocuments(ctx context.Context) ([]*model.DocumentRecord, error) {
	docs, err := s.queries.listDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	return docs, nil
}

// Version operations

func (s *SQLiteDatabase) FindVersion(ctx context.Context, documentID string, version int64) (*model.VersionRecord, error) {
	v, err := s.queries.getVersion(ctx, documentID, version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding version: %w", err)
	}
	return v, nil
}

func (s *SQLiteDatabase) LatestVersion(ctx context.Context, documentID string) (*model.VersionRecord, error) {
	v, err := s.queries.getLatestVersion(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding latest version: %w", err)
	}
	return v, nil
}

func (s *SQLiteDatabase) LatestFullVersion(ctx context.Context, documentID string, atOrBefore int64) (*model.VersionRecord, error) {
	v, err := s.queries.getLatestFullVersion(ctx, documentID, atOrBefore)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding full snapshot: %w", err)
	}
	return v, nil
}

func (s *SQLiteDatabase) ListVersions(ctx context.Context, documentID string, limit int) ([]*model.VersionRecord, error) {
	n := int64(limit)
	if limit <= 0 {
		n = -1 // SQLite: no limit
	}
	versions, err := s.queries.listVersions(ctx, documentID, n)
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	return versions, nil
}

func (s *SQLiteDatabase) VersionRange(ctx context.Context, documentID string, from, to int64) ([]*model.VersionRecord, error) {
	versions, err := s.queries.listVersionRange(ctx, documentID, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing version range: %w", err)
	}
	return versions, nil
}

func (s *SQLiteDatabase) HeadBlocks(ctx context.Context, documentID string) ([]model.Block, error) {
	blocks, err := s.queries.listHeadBlocks(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("listing head blocks: %w", err)
	}
	return blocks, nil
}

// CommitVersion records rec and replaces the document's head blocks. The
// document row is created on its first version.
func (s *SQLiteDatabase) CommitVersion(ctx context.Context, rec *model.VersionRecord, head []model.Block) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	qtx := s.queries.withTx(tx)
	now := s.clock.Now()

	if rec.Version == 1 {
		if _, err := qtx.getDocument(ctx, rec.DocumentID); err == nil {
			return fmt.Errorf("committing version 1 of %s: %w", rec.DocumentID, scribe.ErrVersionConflict)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("finding document: %w", err)
		}
		if err := qtx.insertDocument(ctx, rec.DocumentID, now); err != nil {
			return fmt.Errorf("inserting document: %w", err)
		}
	}

	n, err := qtx.advanceDocument(ctx, rec.DocumentID, rec.Version, now, rec.IsFullSnapshot)
	if err != nil {
		return fmt.Errorf("advancing document: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("committing version %d of %s: %w", rec.Version, rec.DocumentID, scribe.ErrVersionConflict)
	}

	if err := qtx.insertVersion(ctx, rec); err != nil {
		return fmt.Errorf("inserting version: %w", err)
	}

	if err := qtx.deleteHeadBlocks(ctx, rec.DocumentID); err != nil {
		return fmt.Errorf("clearing head blocks: %w", err)
	}
	for i, b := range head {
		if err := qtx.insertHeadBlock(ctx, rec.DocumentID, i, b); err != nil {
			return fmt.Errorf("inserting head block %s: %w", b.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// DeleteVersionsBefore removes old version rows of a document and reports
// which of their blobs are no longer referenced anywhere.
func (s *SQLiteDatabase) DeleteVersionsBefore(ctx context.Context, documentID string, version int64) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	qtx := s.queries.withTx(tx)

	checksums, err := qtx.listChecksumsBefore(ctx, documentID, version)
	if err != nil {
		return nil, fmt.Errorf("listing checksums: %w", err)
	}
	if err := qtx.deleteVersionsBefore(ctx, documentID, version); err != nil {
		return nil, fmt.Errorf("deleting versions: %w", err)
	}

	var orphaned []string
	for _, c := range checksums {
		refs, err := qtx.countChecksumRefs(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("counting references to %s: %w", c, err)
		}
		if refs == 0 {
			orphaned = append(orphaned, c)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return orphaned, nil
}

// Operation log

func (s *SQLiteDatabase) CreateOperation(ctx context.Context, operation string, parameters string) (*model.OperationRecord, error) {
	id, err := s.queries.insertOperation(ctx, s.clock.Now(), operation, parameters)
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	op, err := s.queries.getOperation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reading operation: %w", err)
	}
	return op, nil
}

func (s *SQLiteDatabase) FinishOperation(ctx context.Context, id int64, status string) error {
	if err := s.queries.finishOperation(ctx, id, s.clock.Now(), status); err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListOperations(ctx context.Context, limit int) ([]*model.OperationRecord, error) {
	ops, err := s.queries.listOperations(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}

func (s *SQLiteDatabase) MaxOperationID(ctx context.Context) (int64, error) {
	id, err := s.queries.maxOperationID(ctx)
	if err != nil {
		return 0, fmt.Errorf("getting max operation ID: %w", err)
	}
	return id, nil
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the schema is up to date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo writes a complete copy of the database to destPath using
// VACUUM INTO. destPath must not exist.
func (s *SQLiteDatabase) BackupTo(ctx context.Context, destPath string) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ scribe.Database = (*SQLiteDatabase)(nil)

