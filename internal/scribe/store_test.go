package scribe_test

import (
	"fmt"
	"testing"

	"scribe-go/internal/scribe"
)

func TestClassify_Wrapped(t *testing.T) {
	tests := []struct {
		err  error
		want scribe.ErrorKind
	}{
		{fmt.Errorf("saving version 4: %w", scribe.ErrVersionConflict), scribe.KindConflict},
		{fmt.Errorf("replaying: %w", scribe.ErrValidation), scribe.KindValidation},
		{fmt.Errorf("inserting: %w", scribe.ErrDuplicateBlock), scribe.KindLocal},
		{fmt.Errorf("opening: %w", scribe.ErrDocumentOpen), scribe.KindLocal},
		{fmt.Errorf("prepare: %w", scribe.ErrNotInitialized), scribe.KindLocal},
		{fmt.Errorf("dial: %w", errTransport), scribe.KindTransport},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			if got := scribe.Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorKind_String(t *testing.T) {
	for kind, want := range map[scribe.ErrorKind]string{
		scribe.KindNone:       "none",
		scribe.KindTransport:  "transport",
		scribe.KindConflict:   "conflict",
		scribe.KindValidation: "validation",
		scribe.KindLocal:      "local",
		scribe.ErrorKind(42):  "unknown",
	} {
		if got := kind.String(); got != want {
			t.Errorf("ErrorKind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}

func TestState_String(t *testing.T) {
	if scribe.StateSavePending.String() != "save-pending" || scribe.State(9).String() != "State(9)" {
		t.Error("State strings wrong")
	}
}
