package vault

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"scribe-go/internal/scribe"
)

// testVaultContract runs the behaviour every scribe.Vault must share.
func testVaultContract(t *testing.T, newVault func(t *testing.T) scribe.Vault) {
	ctx := context.Background()

	t.Run("put and get content", func(t *testing.T) {
		tests := []struct {
			name     string
			checksum string
			content  string
		}{
			{"small payload", "abc123", `{"version":1}`},
			{"empty payload", "empty", ""},
			{"large payload", "large", strings.Repeat("x", 10000)},
		}

		v := newVault(t)
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if err := v.PutContent(ctx, tt.checksum, strings.NewReader(tt.content), int64(len(tt.content))); err != nil {
					t.Fatalf("PutContent() error = %v", err)
				}

				var buf bytes.Buffer
				if err := v.GetContent(ctx, tt.checksum, &buf); err != nil {
					t.Fatalf("GetContent() error = %v", err)
				}
				if got := buf.String(); got != tt.content {
					t.Errorf("GetContent() = %q, want %q", got, tt.content)
				}
			})
		}
	})

	t.Run("put content is idempotent", func(t *testing.T) {
		v := newVault(t)
		for i := 0; i < 2; i++ {
			if err := v.PutContent(ctx, "same", strings.NewReader("data"), 4); err != nil {
				t.Fatalf("PutContent() iteration %d error = %v", i+1, err)
			}
		}

		var buf bytes.Buffer
		if err := v.GetContent(ctx, "same", &buf); err != nil || buf.String() != "data" {
			t.Errorf("GetContent() = %q, %v", buf.String(), err)
		}
	})

	t.Run("size mismatch is rejected", func(t *testing.T) {
		v := newVault(t)
		if err := v.PutContent(ctx, "short", strings.NewReader("test"), 14); err == nil {
			t.Error("PutContent() expected size mismatch error")
		}
	})

	t.Run("missing content is ErrNotFound", func(t *testing.T) {
		v := newVault(t)
		err := v.GetContent(ctx, "nonexistent", &bytes.Buffer{})
		if !errors.Is(err, scribe.ErrNotFound) {
			t.Errorf("GetContent() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("delete content", func(t *testing.T) {
		v := newVault(t)
		if err := v.PutContent(ctx, "gone", strings.NewReader("x"), 1); err != nil {
			t.Fatal(err)
		}
		if err := v.DeleteContent(ctx, "gone"); err != nil {
			t.Fatalf("DeleteContent() error = %v", err)
		}
		if err := v.GetContent(ctx, "gone", &bytes.Buffer{}); !errors.Is(err, scribe.ErrNotFound) {
			t.Errorf("GetContent() after delete error = %v, want ErrNotFound", err)
		}
		if err := v.DeleteContent(ctx, "gone"); err != nil {
			t.Errorf("DeleteContent() of missing blob error = %v", err)
		}
	})

	t.Run("metadata is versioned per host and name", func(t *testing.T) {
		v := newVault(t)

		version, err := v.GetMetadataVersion(ctx, "host-1", "index")
		if err != nil || version != 0 {
			t.Fatalf("GetMetadataVersion() before put = %d, %v; want 0, nil", version, err)
		}

		if err := v.PutMetadata(ctx, "host-1", "index", strings.NewReader("db-v7"), 5, 7); err != nil {
			t.Fatalf("PutMetadata() error = %v", err)
		}
		if err := v.PutMetadata(ctx, "host-2", "index", strings.NewReader("other"), 5, 2); err != nil {
			t.Fatalf("PutMetadata() error = %v", err)
		}

		var buf bytes.Buffer
		if err := v.GetMetadata(ctx, "host-1", "index", &buf); err != nil {
			t.Fatalf("GetMetadata() error = %v", err)
		}
		if buf.String() != "db-v7" {
			t.Errorf("GetMetadata() = %q, want db-v7", buf.String())
		}

		version, err = v.GetMetadataVersion(ctx, "host-1", "index")
		if err != nil || version != 7 {
			t.Errorf("GetMetadataVersion() = %d, %v; want 7, nil", version, err)
		}
	})

	t.Run("missing metadata is ErrNotFound", func(t *testing.T) {
		v := newVault(t)
		err := v.GetMetadata(ctx, "nobody", "index", &bytes.Buffer{})
		if !errors.Is(err, scribe.ErrNotFound) {
			t.Errorf("GetMetadata() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("validate setup", func(t *testing.T) {
		if err := newVault(t).ValidateSetup(ctx); err != nil {
			t.Errorf("ValidateSetup() error = %v", err)
		}
	})
}

func TestMemoryVault(t *testing.T) {
	testVaultContract(t, func(t *testing.T) scribe.Vault {
		return NewMemoryVault("test")
	})
}

func TestFileSystemVault(t *testing.T) {
	testVaultContract(t, func(t *testing.T) scribe.Vault {
		v, err := NewFileSystemVault("test", t.TempDir())
		if err != nil {
			t.Fatalf("NewFileSystemVault() error = %v", err)
		}
		return v
	})
}

func TestS3Vault(t *testing.T) {
	testVaultContract(t, func(t *testing.T) scribe.Vault {
		return newS3VaultWithClient("test", "bucket", "scribe/", newFakeS3())
	})
}
