package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"scribe-go/internal/archive"
	"scribe-go/internal/config"
	"scribe-go/internal/database"
	"scribe-go/internal/encryption"
	"scribe-go/internal/model"
	"scribe-go/internal/scribe"
	"scribe-go/internal/vault"
)

// indexMetadataName is the vault metadata item holding the index replica.
const indexMetadataName = "index"

// ErrIndexBehind means the vault holds a newer index replica than the local
// database.
var ErrIndexBehind = errors.New("local index is behind the vault replica")

// App is the application layer between the CLI and the versioning core.
// It constructs all dependencies from config, exposes document-level
// operations and manages the index lifecycle on Close.
type App struct {
	cfg       *config.Config
	db        scribe.Database
	vault     scribe.Vault
	encryptor scribe.Encryptor
	archive   *archive.Archive
	sessions  *scribe.SessionManager
	logger    scribe.Logger
	clock     scribe.Clock
	op        *Operation
	locks     *lockSet
	logFile   *os.File

	// newTicker drives autosave while watching; nil uses real time.
	newTicker scribe.TickerFactory
}

// NewApp creates a fully wired App from the given config. operation names
// the CLI command being run (e.g. "ImportDocument"). The caller must call
// Close when done.
func NewApp(ctx context.Context, cfg *config.Config, operation string) (*App, error) {
	policy, err := policyFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	if len(cfg.Vaults) == 0 {
		return nil, fmt.Errorf("no vaults configured")
	}
	v, err := vault.NewVaultFromConfig(ctx, cfg.Vaults[0])
	if err != nil {
		return nil, fmt.Errorf("creating vault: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}
	if enc != nil && !enc.IsConfigured() {
		return nil, fmt.Errorf("encryption keys not found: run 'scribe config keys' first")
	}

	clock := scribe.RealClock{}
	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.HostID, clock)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}
	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	// Check the local index against the replica in the vault.
	remoteVersion, err := v.GetMetadataVersion(ctx, cfg.HostID, indexMetadataName)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("checking remote index version: %w", err)
	}
	localMax, err := db.MaxOperationID(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("checking local index version: %w", err)
	}
	if remoteVersion > localMax {
		db.Close()
		return nil, fmt.Errorf("%w (local=%d, remote=%d): restore the index from the vault or re-initialize",
			ErrIndexBehind, localMax, remoteVersion)
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	sl, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: sl}

	arc := archive.New(db, v, enc, clock, logger)
	return &App{
		cfg:       cfg,
		db:        db,
		vault:     v,
		encryptor: enc,
		archive:   arc,
		sessions:  scribe.NewSessionManager(arc, policy, logger, clock, scribe.UUIDGenerator{}),
		logger:    logger,
		clock:     clock,
		op:        NewOperation(operation, ""),
		locks:     newLockSet(lockDir(cfg)),
		logFile:   logFile,
	}, nil
}

// InitStorage prepares a fresh installation: the index schema is migrated
// and the vault is checked for access.
func InitStorage(ctx context.Context, cfg *config.Config) error {
	if len(cfg.Vaults) == 0 {
		return fmt.Errorf("no vaults configured")
	}
	v, err := vault.NewVaultFromConfig(ctx, cfg.Vaults[0])
	if err != nil {
		return fmt.Errorf("creating vault: %w", err)
	}
	if err := v.ValidateSetup(ctx); err != nil {
		return fmt.Errorf("validating vault: %w", err)
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.HostID, scribe.RealClock{})
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	return nil
}

// SetupEncryption generates the key pair for the configured encryptor.
func SetupEncryption(cfg *config.Config, passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	if enc == nil {
		return fmt.Errorf("encryption is disabled in the configuration")
	}
	return enc.Setup(passphrase)
}

func policyFromConfig(cfg *config.Config) (scribe.SnapshotPolicy, error) {
	policy := scribe.DefaultSnapshotPolicy()
	if cfg.Policy.ChangeThreshold > 0 {
		policy.ChangeThreshold = cfg.Policy.ChangeThreshold
	}
	interval, err := cfg.Policy.FullIntervalDuration()
	if err != nil {
		return policy, err
	}
	if interval > 0 {
		policy.FullInterval = interval
	}
	return policy, nil
}

// EncryptionEnabled reports whether payloads are encrypted, in which case
// reading history needs Unlock.
func (a *App) EncryptionEnabled() bool {
	return a.encryptor != nil
}

// Unlock opens the private key so encrypted history can be replayed.
func (a *App) Unlock(passphrase string) error {
	if a.encryptor == nil {
		return nil
	}
	dc, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking private key: %w", err)
	}
	a.archive.Unlock(dc)
	return nil
}

// persistOperation saves the operation to the database, giving it an
// auto-increment ID. Only mutating commands call it.
func (a *App) persistOperation(ctx context.Context, parameters string) error {
	if a.op.Persisted() {
		return nil
	}
	a.op.Parameters = parameters
	rec, err := a.db.CreateOperation(ctx, a.op.Operation, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = rec.ID
	return nil
}

// fail marks the operation as failed and passes err through.
func (a *App) fail(err error) error {
	if err != nil {
		a.op.Status = StatusError
	}
	return err
}

// Operations returns the most recent operations, newest first.
func (a *App) Operations(ctx context.Context, limit int) ([]*model.OperationRecord, error) {
	return a.db.ListOperations(ctx, limit)
}

// Close finalizes the operation and closes all resources. For persisted
// operations the operation record is finished and the index is snapshotted
// and uploaded to the vault with the operation id as its version.
func (a *App) Close() error {
	var firstErr error
	ctx := context.Background()

	if err := a.sessions.CloseAll(ctx); err != nil {
		firstErr = fmt.Errorf("closing documents: %w", err)
	}
	a.locks.releaseAll()

	if a.op.Persisted() {
		if err := a.db.FinishOperation(ctx, a.op.ID, a.op.Status); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("finishing operation: %w", err)
		}

		tmpPath, err := a.snapshotIndex(ctx)
		if err != nil && firstErr == nil {
			firstErr = err
		}

		if err := a.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing database: %w", err)
		}

		if tmpPath != "" {
			if err := a.uploadIndex(ctx, tmpPath, a.op.ID); err != nil && firstErr == nil {
				firstErr = err
			}
			os.Remove(tmpPath)
		}
	} else if err := a.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// snapshotIndex writes a consistent copy of the index to a temp file.
// VACUUM INTO refuses to overwrite, so the temp file is removed first.
func (a *App) snapshotIndex(ctx context.Context) (string, error) {
	tmpFile, err := os.CreateTemp("", "scribe-index-*.db")
	if err != nil {
		return "", fmt.Errorf("creating temp file for index backup: %w", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	os.Remove(tmpPath)

	if err := a.db.BackupTo(ctx, tmpPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("backing up index: %w", err)
	}
	return tmpPath, nil
}

// uploadIndex uploads the index snapshot at path to the vault.
func (a *App) uploadIndex(ctx context.Context, path string, version int64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening index backup for upload: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat index backup: %w", err)
	}

	if err := a.vault.PutMetadata(ctx, a.cfg.HostID, indexMetadataName, f, info.Size(), version); err != nil {
		return fmt.Errorf("uploading index to vault: %w", err)
	}
	return nil
}
