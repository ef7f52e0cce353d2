// Package archive is the durable VersionStore: version rows and head blocks
// live in the index database, payload blobs in a vault, optionally
// encrypted. Older versions are rebuilt by replaying blobs from the nearest
// full snapshot.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"scribe-go/internal/model"
	"scribe-go/internal/scribe"
)

var (
	// ErrLocked means an encrypted blob was read before Unlock.
	ErrLocked = errors.New("archive is locked: unlock with the passphrase to read encrypted versions")
	// ErrCorrupt means a stored blob or replay does not match the index.
	ErrCorrupt = errors.New("archive data corrupt")
)

// Archive implements scribe.VersionStore.
type Archive struct {
	db        scribe.Database
	vault     scribe.Vault
	encryptor scribe.Encryptor // nil stores payloads in the clear
	clock     scribe.Clock
	logger    scribe.Logger

	mu      sync.Mutex // serializes writes
	decrypt scribe.DecryptionContext
}

var _ scribe.VersionStore = (*Archive)(nil)

// New creates an Archive. encryptor may be nil.
func New(db scribe.Database, vault scribe.Vault, encryptor scribe.Encryptor, clock scribe.Clock, logger scribe.Logger) *Archive {
	if clock == nil {
		clock = scribe.RealClock{}
	}
	if logger == nil {
		logger = scribe.NewNopLogger()
	}
	return &Archive{
		db:        db,
		vault:     vault,
		encryptor: encryptor,
		clock:     clock,
		logger:    logger,
	}
}

// Unlock sets the decryption context used to read encrypted versions.
func (a *Archive) Unlock(dc scribe.DecryptionContext) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.decrypt = dc
}

// Save validates p against the current head and persists it.
func (a *Archive) Save(ctx context.Context, p *model.BackupPayload) (int64, error) {
	if p == nil || p.DocumentID == "" {
		return 0, invalid("payload without document id")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	doc, err := a.db.FindDocument(ctx, p.DocumentID)
	if err != nil {
		return 0, err
	}
	var latest int64
	var head []model.Block
	if doc != nil {
		latest = doc.LatestVersion
		if head, err = a.db.HeadBlocks(ctx, p.DocumentID); err != nil {
			return 0, err
		}
	}

	if p.Version != latest+1 {
		return 0, fmt.Errorf("payload version %d, latest is %d: %w", p.Version, latest, scribe.ErrVersionConflict)
	}
	if !p.IsFullSnapshot {
		base, err := a.db.LatestFullVersion(ctx, p.DocumentID, latest)
		if err != nil {
			return 0, err
		}
		if base == nil {
			return 0, invalid("incremental version %d of %s has no full snapshot to build on", p.Version, p.DocumentID)
		}
	}

	next, err := Apply(head, p)
	if err != nil {
		return 0, err
	}

	summary := model.CountChanges(p.Changes).String()
	if p.IsFullSnapshot {
		summary = "Full snapshot: " + Diff(head, next).String()
	}
	if err := a.persistLocked(ctx, p, next, summary); err != nil {
		return 0, err
	}
	return p.Version, nil
}

// persistLocked writes the blob, then the index rows. A blob whose index
// commit fails is removed again.
func (a *Archive) persistLocked(ctx context.Context, p *model.BackupPayload, next []model.Block, summary string) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	encrypted := a.encryptor != nil
	if encrypted {
		var buf bytes.Buffer
		if err := a.encryptor.Encrypt(bytes.NewReader(data), &buf); err != nil {
			return fmt.Errorf("encrypting payload: %w", err)
		}
		data = buf.Bytes()
	}

	checksum := checksumOf(data)
	if err := a.vault.PutContent(ctx, checksum, bytes.NewReader(data), int64(len(data))); err != nil {
		return fmt.Errorf("storing payload: %w", err)
	}

	rec := &model.VersionRecord{
		DocumentID:     p.DocumentID,
		Version:        p.Version,
		CreatedAt:      p.Timestamp,
		IsFullSnapshot: p.IsFullSnapshot,
		Checksum:       checksum,
		Digest:         Digest(next),
		ChangeCount:    len(p.Changes),
		BlockCount:     len(next),
		WordCount:      model.WordCount(next),
		SpeakerCount:   model.SpeakerCount(next),
		ChangeSummary:  summary,
		PayloadSize:    int64(len(data)),
		Encrypted:      encrypted,
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = a.clock.Now()
	}

	if err := a.db.CommitVersion(ctx, rec, next); err != nil {
		if delErr := a.vault.DeleteContent(ctx, checksum); delErr != nil {
			a.logger.Warn("failed to remove unreferenced payload", "checksum", checksum, "error", delErr)
		}
		return err
	}

	a.logger.Debug("version persisted",
		"document", p.DocumentID,
		"version", p.Version,
		"full", p.IsFullSnapshot,
		"blocks", len(next),
		"size", rec.PayloadSize)
	return nil
}

// LoadLatest returns the head of a document. An unknown document is
// version 0 with no blocks.
func (a *Archive) LoadLatest(ctx context.Context, documentID string) (*model.DocumentState, error) {
	doc, err := a.db.FindDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return &model.DocumentState{DocumentID: documentID}, nil
	}

	blocks, err := a.db.HeadBlocks(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return &model.DocumentState{
		DocumentID: documentID,
		Version:    doc.LatestVersion,
		Blocks:     blocks,
		LastFullAt: doc.LastFullAt,
	}, nil
}

// ListHistory returns up to limit versions newest first; limit <= 0
// returns every version.
func (a *Archive) ListHistory(ctx context.Context, documentID string, limit int) ([]model.VersionInfo, error) {
	recs, err := a.db.ListVersions(ctx, documentID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]model.VersionInfo, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Info())
	}
	return out, nil
}

// Documents lists every document in the index, most recently updated first.
func (a *Archive) Documents(ctx context.Context) ([]*model.DocumentRecord, error) {
	return a.db.ListDocuments(ctx)
}

// Materialize rebuilds the document as it was at version.
func (a *Archive) Materialize(ctx context.Context, documentID string, version int64) ([]model.Block, error) {
	rec, err := a.db.FindVersion(ctx, documentID, version)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, invalid("document %s has no version %d", documentID, version)
	}

	base, err := a.db.LatestFullVersion(ctx, documentID, version)
	if err != nil {
		return nil, err
	}
	if base == nil {
		return nil, fmt.Errorf("no full snapshot at or before version %d of %s: %w", version, documentID, ErrCorrupt)
	}

	chain, err := a.db.VersionRange(ctx, documentID, base.Version, version)
	if err != nil {
		return nil, err
	}
	if int64(len(chain)) != version-base.Version+1 {
		return nil, fmt.Errorf("versions %d..%d of %s are incomplete: %w", base.Version, version, documentID, ErrCorrupt)
	}

	var blocks []model.Block
	for _, r := range chain {
		p, err := a.readPayload(ctx, r)
		if err != nil {
			return nil, err
		}
		if blocks, err = Apply(blocks, p); err != nil {
			return nil, fmt.Errorf("replaying version %d: %w", r.Version, err)
		}
		if Digest(blocks) != r.Digest {
			return nil, fmt.Errorf("version %d of %s does not match its digest: %w", r.Version, documentID, ErrCorrupt)
		}
	}
	return blocks, nil
}

// Restore makes version the new head by recording it again as a full
// snapshot on top of the latest version.
func (a *Archive) Restore(ctx context.Context, documentID string, version int64) (*model.DocumentState, error) {
	blocks, err := a.Materialize(ctx, documentID, version)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	doc, err := a.db.FindDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, invalid("unknown document %s", documentID)
	}

	now := a.clock.Now()
	p := &model.BackupPayload{
		DocumentID:      documentID,
		Version:         doc.LatestVersion + 1,
		IsFullSnapshot:  true,
		Timestamp:       now,
		TotalBlockCount: len(blocks),
		Changes:         make([]model.BlockChange, 0, len(blocks)),
	}
	for _, b := range blocks {
		p.Changes = append(p.Changes, model.BlockChange{Block: b, Operation: model.OpUpdate})
	}

	if err := a.persistLocked(ctx, p, blocks, fmt.Sprintf("Restored from v%d", version)); err != nil {
		return nil, err
	}

	a.logger.Info("version restored", "document", documentID, "from", version, "version", p.Version)
	return &model.DocumentState{
		DocumentID: documentID,
		Version:    p.Version,
		Blocks:     blocks,
		LastFullAt: now,
	}, nil
}

// PruneResult reports what Prune removed.
type PruneResult struct {
	Versions int
	Blobs    int
}

// Prune keeps the newest keep versions of a document and whatever older
// full snapshot they need to be replayed. Blobs no longer referenced by
// any version are deleted from the vault.
func (a *Archive) Prune(ctx context.Context, documentID string, keep int) (*PruneResult, error) {
	if keep < 1 {
		return nil, fmt.Errorf("keep must be at least 1, got %d", keep)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	all, err := a.db.ListVersions(ctx, documentID, 0)
	if err != nil {
		return nil, err
	}
	if len(all) <= keep {
		return &PruneResult{}, nil
	}

	oldestKept := all[keep-1].Version
	cutoff := oldestKept
	base, err := a.db.LatestFullVersion(ctx, documentID, oldestKept)
	if err != nil {
		return nil, err
	}
	if base != nil {
		cutoff = base.Version
	}

	res := &PruneResult{}
	for _, v := range all {
		if v.Version < cutoff {
			res.Versions++
		}
	}
	if res.Versions == 0 {
		return res, nil
	}

	orphaned, err := a.db.DeleteVersionsBefore(ctx, documentID, cutoff)
	if err != nil {
		return nil, err
	}
	for _, checksum := range orphaned {
		if err := a.vault.DeleteContent(ctx, checksum); err != nil {
			return res, fmt.Errorf("deleting payload %s: %w", checksum, err)
		}
		res.Blobs++
	}

	a.logger.Info("versions pruned",
		"document", documentID,
		"removed", res.Versions,
		"blobs", res.Blobs,
		"oldest", cutoff)
	return res, nil
}

func (a *Archive) readPayload(ctx context.Context, rec *model.VersionRecord) (*model.BackupPayload, error) {
	var buf bytes.Buffer
	if err := a.vault.GetContent(ctx, rec.Checksum, &buf); err != nil {
		return nil, fmt.Errorf("fetching version %d: %w", rec.Version, err)
	}
	if checksumOf(buf.Bytes()) != rec.Checksum {
		return nil, fmt.Errorf("payload of version %d fails its checksum: %w", rec.Version, ErrCorrupt)
	}

	data := buf.Bytes()
	if rec.Encrypted {
		a.mu.Lock()
		dc := a.decrypt
		a.mu.Unlock()
		if dc == nil {
			return nil, ErrLocked
		}
		var plain bytes.Buffer
		if err := dc.Decrypt(bytes.NewReader(data), &plain); err != nil {
			return nil, fmt.Errorf("decrypting version %d: %w", rec.Version, err)
		}
		data = plain.Bytes()
	}

	var p model.BackupPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding version %d: %w", rec.Version, err)
	}
	return &p, nil
}

func checksumOf(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
