package model

import "time"

// DocumentRecord is the index row of a versioned document.
type DocumentRecord struct {
	ID            string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LatestVersion int64
	LastFullAt    time.Time // zero when no full snapshot was recorded
}

// VersionRecord is the index row of one persisted version. The payload
// itself lives in the vault under Checksum.
type VersionRecord struct {
	DocumentID     string
	Version        int64
	CreatedAt      time.Time
	IsFullSnapshot bool
	Checksum       string // SHA-256 of the stored blob
	Digest         string // xxh3-128 of the document after this version
	ChangeCount    int
	BlockCount     int
	WordCount      int
	SpeakerCount   int
	ChangeSummary  string
	PayloadSize    int64
	Encrypted      bool
}

// Info converts the record to its history view.
func (r *VersionRecord) Info() VersionInfo {
	return VersionInfo{
		Version:        r.Version,
		Timestamp:      r.CreatedAt,
		IsFullSnapshot: r.IsFullSnapshot,
		ChangeCount:    r.ChangeCount,
		BlockCount:     r.BlockCount,
		WordCount:      r.WordCount,
		SpeakerCount:   r.SpeakerCount,
		ChangeSummary:  r.ChangeSummary,
		PayloadSize:    r.PayloadSize,
		Encrypted:      r.Encrypted,
	}
}

// OperationRecord logs one mutating command run against the archive.
type OperationRecord struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt *time.Time
	Operation  string
	Parameters string
	Status     string
}
