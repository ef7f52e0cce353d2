package model

import "time"

// Block is the unit of versioned transcript content.
// Identity is by ID only; position and content are mutable.
type Block struct {
	ID          string   `json:"id"`
	Text        string   `json:"text"`
	SpeakerRef  string   `json:"speakerRef,omitempty"`  // speaker code, empty when unassigned
	SpeakerName string   `json:"speakerName,omitempty"` // display name shown next to the code
	TimeMarker  *float64 `json:"timeMarker,omitempty"`  // seconds into the media, nil when unset
}

// Field names a mutable attribute of a Block.
type Field string

const (
	FieldText        Field = "text"
	FieldSpeakerRef  Field = "speakerRef"
	FieldSpeakerName Field = "speakerName"
	FieldTimeMarker  Field = "timeMarker"
)

// Fields lists every mutable field in a stable order.
var Fields = []Field{FieldText, FieldSpeakerRef, FieldSpeakerName, FieldTimeMarker}

// Clone returns a deep copy of b.
func (b Block) Clone() Block {
	if b.TimeMarker != nil {
		t := *b.TimeMarker
		b.TimeMarker = &t
	}
	return b
}

// FieldEqual reports whether a and b hold the same value for field.
func FieldEqual(a, b Block, field Field) bool {
	switch field {
	case FieldText:
		return a.Text == b.Text
	case FieldSpeakerRef:
		return a.SpeakerRef == b.SpeakerRef
	case FieldSpeakerName:
		return a.SpeakerName == b.SpeakerName
	case FieldTimeMarker:
		if a.TimeMarker == nil || b.TimeMarker == nil {
			return a.TimeMarker == nil && b.TimeMarker == nil
		}
		return *a.TimeMarker == *b.TimeMarker
	default:
		return false
	}
}

// CopyField copies the value of field from src into dst.
func CopyField(dst *Block, src Block, field Field) {
	switch field {
	case FieldText:
		dst.Text = src.Text
	case FieldSpeakerRef:
		dst.SpeakerRef = src.SpeakerRef
	case FieldSpeakerName:
		dst.SpeakerName = src.SpeakerName
	case FieldTimeMarker:
		dst.TimeMarker = src.Clone().TimeMarker
	}
}

// SameContent reports whether every mutable field of a and b is equal.
// IDs are not compared.
func SameContent(a, b Block) bool {
	for _, f := range Fields {
		if !FieldEqual(a, b, f) {
			return false
		}
	}
	return true
}

// Operation tags a recorded mutation.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// BlockChange is a pending mutation of one block. The embedded Block holds
// the block id and a copy of its current field values; for deletes only the
// id is meaningful.
type BlockChange struct {
	Block
	Operation Operation `json:"operation"`
}

// BackupPayload is the unit handed to a version store.
type BackupPayload struct {
	DocumentID      string        `json:"documentId"`
	Changes         []BlockChange `json:"changes"`
	IsFullSnapshot  bool          `json:"isFullSnapshot"`
	Version         int64         `json:"version"`
	Timestamp       time.Time     `json:"timestamp"`
	TotalBlockCount int           `json:"totalBlockCount"`
	// Order is the complete id sequence of the document. It is only set on
	// incremental payloads whose sequence differs from the baseline.
	Order []string `json:"order,omitempty"`
}

// Empty reports whether an incremental payload carries nothing to persist.
func (p *BackupPayload) Empty() bool {
	return !p.IsFullSnapshot && len(p.Changes) == 0 && p.Order == nil
}

// DocumentState is a document as persisted at a given version.
type DocumentState struct {
	DocumentID string
	Version    int64
	Blocks     []Block
	LastFullAt time.Time // zero when no full snapshot exists
}

// VersionInfo describes one persisted version in a document's history.
type VersionInfo struct {
	Version        int64
	Timestamp      time.Time
	IsFullSnapshot bool
	ChangeCount    int
	BlockCount     int
	WordCount      int
	SpeakerCount   int
	ChangeSummary  string
	PayloadSize    int64
	Encrypted      bool
}
