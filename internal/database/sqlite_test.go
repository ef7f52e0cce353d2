package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"scribe-go/internal/model"
	"scribe-go/internal/scribe"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// newTestDB creates a migrated database in a temp file.
func newTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()

	db, err := NewSQLiteDatabase(filepath.Join(t.TempDir(), "index.db"), fixedClock{testNow})
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func tm(f float64) *float64 { return &f }

func versionRec(doc string, v int64, full bool, checksum string) *model.VersionRecord {
	return &model.VersionRecord{
		DocumentID:     doc,
		Version:        v,
		CreatedAt:      testNow.Add(time.Duration(v) * time.Minute),
		IsFullSnapshot: full,
		Checksum:       checksum,
		Digest:         "digest",
		ChangeCount:    1,
		BlockCount:     2,
		ChangeSummary:  "1 modified",
		PayloadSize:    42,
	}
}

func TestSQLiteDatabase_CommitVersion(t *testing.T) {
	ctx := context.Background()

	t.Run("first version creates the document", func(t *testing.T) {
		db := newTestDB(t)
		head := []model.Block{
			{ID: "b1", Text: "hello", SpeakerRef: "A", SpeakerName: "Alice", TimeMarker: tm(1.5)},
			{ID: "b2", Text: "world"},
		}

		if err := db.CommitVersion(ctx, versionRec("doc", 1, true, "c1"), head); err != nil {
			t.Fatalf("CommitVersion() error = %v", err)
		}

		doc, err := db.FindDocument(ctx, "doc")
		if err != nil {
			t.Fatalf("FindDocument() error = %v", err)
		}
		if doc == nil {
			t.Fatal("FindDocument() = nil, want document")
		}
		if doc.LatestVersion != 1 {
			t.Errorf("LatestVersion = %d, want 1", doc.LatestVersion)
		}
		if !doc.LastFullAt.Equal(testNow) {
			t.Errorf("LastFullAt = %v, want %v", doc.LastFullAt, testNow)
		}

		got, err := db.HeadBlocks(ctx, "doc")
		if err != nil {
			t.Fatalf("HeadBlocks() error = %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("len(HeadBlocks()) = %d, want 2", len(got))
		}
		if got[0].ID != "b1" || got[0].SpeakerName != "Alice" || got[0].TimeMarker == nil || *got[0].TimeMarker != 1.5 {
			t.Errorf("HeadBlocks()[0] = %+v", got[0])
		}
		if got[1].TimeMarker != nil {
			t.Errorf("HeadBlocks()[1].TimeMarker = %v, want nil", *got[1].TimeMarker)
		}
	})

	t.Run("rejects a version that does not follow the latest", func(t *testing.T) {
		db := newTestDB(t)
		if err := db.CommitVersion(ctx, versionRec("doc", 1, true, "c1"), nil); err != nil {
			t.Fatalf("CommitVersion(1) error = %v", err)
		}

		for _, v := range []int64{1, 3} {
			err := db.CommitVersion(ctx, versionRec("doc", v, false, "cx"), nil)
			if !errors.Is(err, scribe.ErrVersionConflict) {
				t.Errorf("CommitVersion(%d) error = %v, want ErrVersionConflict", v, err)
			}
		}
	})

	t.Run("rejects a non-initial version for an unknown document", func(t *testing.T) {
		db := newTestDB(t)
		err := db.CommitVersion(ctx, versionRec("ghost", 2, false, "c"), nil)
		if !errors.Is(err, scribe.ErrVersionConflict) {
			t.Errorf("CommitVersion() error = %v, want ErrVersionConflict", err)
		}
	})

	t.Run("replaces head blocks in order", func(t *testing.T) {
		db := newTestDB(t)
		if err := db.CommitVersion(ctx, versionRec("doc", 1, true, "c1"), []model.Block{{ID: "a"}, {ID: "b"}}); err != nil {
			t.Fatal(err)
		}
		if err := db.CommitVersion(ctx, versionRec("doc", 2, false, "c2"), []model.Block{{ID: "c"}, {ID: "a"}}); err != nil {
			t.Fatal(err)
		}

		got, err := db.HeadBlocks(ctx, "doc")
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 || got[0].ID != "c" || got[1].ID != "a" {
			t.Errorf("HeadBlocks() = %+v, want [c a]", got)
		}
	})
}

func TestSQLiteDatabase_VersionQueries(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	for v := int64(1); v <= 5; v++ {
		full := v == 1 || v == 4
		if err := db.CommitVersion(ctx, versionRec("doc", v, full, "c"+string(rune('0'+v))), nil); err != nil {
			t.Fatalf("CommitVersion(%d) error = %v", v, err)
		}
	}

	t.Run("latest version", func(t *testing.T) {
		v, err := db.LatestVersion(ctx, "doc")
		if err != nil || v == nil || v.Version != 5 {
			t.Fatalf("LatestVersion() = %+v, %v; want version 5", v, err)
		}
	})

	t.Run("latest version of unknown document is nil", func(t *testing.T) {
		v, err := db.LatestVersion(ctx, "other")
		if err != nil || v != nil {
			t.Errorf("LatestVersion() = %+v, %v; want nil, nil", v, err)
		}
	})

	t.Run("latest full snapshot at or before", func(t *testing.T) {
		tests := []struct {
			at   int64
			want int64
		}{{1, 1}, {3, 1}, {4, 4}, {5, 4}}
		for _, tt := range tests {
			v, err := db.LatestFullVersion(ctx, "doc", tt.at)
			if err != nil || v == nil {
				t.Fatalf("LatestFullVersion(%d) = %+v, %v", tt.at, v, err)
			}
			if v.Version != tt.want {
				t.Errorf("LatestFullVersion(%d) = %d, want %d", tt.at, v.Version, tt.want)
			}
		}
	})

	t.Run("list is newest first and limited", func(t *testing.T) {
		vs, err := db.ListVersions(ctx, "doc", 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(vs) != 2 || vs[0].Version != 5 || vs[1].Version != 4 {
			t.Errorf("ListVersions(2) = %d rows starting %d", len(vs), vs[0].Version)
		}

		all, err := db.ListVersions(ctx, "doc", 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 5 {
			t.Errorf("ListVersions(0) = %d rows, want 5", len(all))
		}
	})

	t.Run("range is oldest first and inclusive", func(t *testing.T) {
		vs, err := db.VersionRange(ctx, "doc", 2, 4)
		if err != nil {
			t.Fatal(err)
		}
		if len(vs) != 3 || vs[0].Version != 2 || vs[2].Version != 4 {
			t.Errorf("VersionRange(2, 4) returned %d rows", len(vs))
		}
		if !vs[2].IsFullSnapshot {
			t.Error("version 4 should be a full snapshot")
		}
	})
}

func TestSQLiteDatabase_DeleteVersionsBefore(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	checksums := []string{"shared", "old", "shared", "new"}
	for i, c := range checksums {
		v := int64(i + 1)
		if err := db.CommitVersion(ctx, versionRec("doc", v, v == 1 || v == 3, c), nil); err != nil {
			t.Fatalf("CommitVersion(%d) error = %v", v, err)
		}
	}

	orphaned, err := db.DeleteVersionsBefore(ctx, "doc", 3)
	if err != nil {
		t.Fatalf("DeleteVersionsBefore() error = %v", err)
	}
	if len(orphaned) != 1 || orphaned[0] != "old" {
		t.Errorf("orphaned = %v, want [old]", orphaned)
	}

	vs, err := db.ListVersions(ctx, "doc", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(vs) != 2 {
		t.Errorf("remaining versions = %d, want 2", len(vs))
	}
}

func TestSQLiteDatabase_Operations(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	max, err := db.MaxOperationID(ctx)
	if err != nil || max != 0 {
		t.Fatalf("MaxOperationID() on empty = %d, %v; want 0, nil", max, err)
	}

	op, err := db.CreateOperation(ctx, "DocImport", "transcript.json")
	if err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}
	if op.ID == 0 || op.Status != "running" || op.FinishedAt != nil {
		t.Errorf("CreateOperation() = %+v", op)
	}

	if err := db.FinishOperation(ctx, op.ID, "success"); err != nil {
		t.Fatalf("FinishOperation() error = %v", err)
	}
	if _, err := db.CreateOperation(ctx, "DocEdit", ""); err != nil {
		t.Fatal(err)
	}

	ops, err := db.ListOperations(ctx, 10)
	if err != nil {
		t.Fatalf("ListOperations() error = %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("len(ListOperations()) = %d, want 2", len(ops))
	}
	if ops[0].Operation != "DocEdit" {
		t.Errorf("ops[0].Operation = %q, want newest first", ops[0].Operation)
	}
	if ops[1].Status != "success" || ops[1].FinishedAt == nil {
		t.Errorf("finished op = %+v", ops[1])
	}

	max, err = db.MaxOperationID(ctx)
	if err != nil || max != ops[0].ID {
		t.Errorf("MaxOperationID() = %d, %v; want %d", max, err, ops[0].ID)
	}
}

func TestSQLiteDatabase_BackupTo(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	if err := db.CommitVersion(ctx, versionRec("doc", 1, true, "c1"), []model.Block{{ID: "a", Text: "x"}}); err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(t.TempDir(), "copy.db")
	if err := db.BackupTo(ctx, dest); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("backup file missing: %v", err)
	}

	copyDB, err := NewSQLiteDatabase(dest, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer copyDB.Close()

	blocks, err := copyDB.HeadBlocks(ctx, "doc")
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 1 || blocks[0].Text != "x" {
		t.Errorf("copied head = %+v", blocks)
	}
}
