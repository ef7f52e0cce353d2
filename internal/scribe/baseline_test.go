package scribe_test

import (
	"testing"

	"scribe-go/internal/model"
	"scribe-go/internal/scribe"
)

func TestBaseline(t *testing.T) {
	marker := 2.0
	src := []model.Block{
		{ID: "a", Text: "one", TimeMarker: &marker},
		{ID: "b", Text: "two"},
		{ID: "a", Text: "one again"},
	}
	b := scribe.NewBaseline(src)

	if b.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", b.Len())
	}
	if got, _ := b.Get("a"); got.Text != "one again" {
		t.Errorf("Get(a).Text = %q, want last occurrence", got.Text)
	}
	if ids := b.IDs(); ids[0] != "a" || ids[1] != "b" {
		t.Errorf("IDs() = %v, want [a b]", ids)
	}
	if !b.SameOrder([]string{"a", "b"}) || b.SameOrder([]string{"b", "a"}) || b.SameOrder([]string{"a"}) {
		t.Error("SameOrder() wrong")
	}
	if b.Has("zz") {
		t.Error("Has(zz) = true")
	}

	// the baseline holds copies
	marker = 9
	src[1].Text = "mutated"
	got, _ := b.Get("b")
	if got.Text != "two" {
		t.Errorf("baseline shares memory with input")
	}

	blocks := b.Blocks()
	blocks[0].Text = "changed"
	if again, _ := b.Get("a"); again.Text == "changed" {
		t.Error("Blocks() returned shared memory")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want scribe.ErrorKind
	}{
		{nil, scribe.KindNone},
		{scribe.ErrVersionConflict, scribe.KindConflict},
		{scribe.ErrValidation, scribe.KindValidation},
		{scribe.ErrSaveInFlight, scribe.KindLocal},
		{scribe.ErrSessionClosed, scribe.KindLocal},
		{errTransport, scribe.KindTransport},
	}
	for _, tt := range tests {
		if got := scribe.Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
