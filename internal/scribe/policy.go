package scribe

import "time"

const (
	DefaultChangeThreshold = 100
	DefaultFullInterval    = time.Hour
)

// Mode is the shape of the next persisted payload.
type Mode int

const (
	ModeIncremental Mode = iota
	ModeFull
)

func (m Mode) String() string {
	if m == ModeFull {
		return "full"
	}
	return "incremental"
}

// SnapshotPolicy decides between a full snapshot and an incremental delta.
type SnapshotPolicy struct {
	// ChangeThreshold is the pending change count above which a full
	// snapshot is taken instead of a delta.
	ChangeThreshold int
	// FullInterval bounds the time between full snapshots.
	FullInterval time.Duration
}

// DefaultSnapshotPolicy returns the policy with a threshold of 100 changes
// and an interval of one hour.
func DefaultSnapshotPolicy() SnapshotPolicy {
	return SnapshotPolicy{
		ChangeThreshold: DefaultChangeThreshold,
		FullInterval:    DefaultFullInterval,
	}
}

// PolicyInput is everything the policy looks at.
type PolicyInput struct {
	FirstSave      bool
	Force          bool
	PendingChanges int
	SinceLastFull  time.Duration
}

// Decision is the chosen mode and a short reason for logs and history.
type Decision struct {
	Mode   Mode
	Reason string
}

// Decide applies the rules in order; the first match wins.
func (p SnapshotPolicy) Decide(in PolicyInput) Decision {
	switch {
	case in.FirstSave:
		return Decision{ModeFull, "first save"}
	case in.Force:
		return Decision{ModeFull, "forced"}
	case in.PendingChanges > p.ChangeThreshold:
		return Decision{ModeFull, "change threshold exceeded"}
	case in.SinceLastFull > p.FullInterval:
		return Decision{ModeFull, "full snapshot interval elapsed"}
	default:
		return Decision{ModeIncremental, "incremental"}
	}
}
