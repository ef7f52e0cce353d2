package vault

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewFileSystemVault(t *testing.T) {
	root := filepath.Join(t.TempDir(), "vault")

	v, err := NewFileSystemVault("test", root)
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}

	for _, dir := range []string{"content", "metadata"} {
		if _, err := os.Stat(filepath.Join(root, dir)); err != nil {
			t.Errorf("%s directory not created: %v", dir, err)
		}
	}
	if v.name != "test" {
		t.Errorf("name = %q, want %q", v.name, "test")
	}
}

func TestFileSystemVault_Layout(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	v, err := NewFileSystemVault("test", root)
	if err != nil {
		t.Fatal(err)
	}

	if err := v.PutContent(ctx, "abc", strings.NewReader("blob"), 4); err != nil {
		t.Fatal(err)
	}
	if err := v.PutMetadata(ctx, "host", "index", strings.NewReader("db"), 2, 3); err != nil {
		t.Fatal(err)
	}

	want := []string{
		filepath.Join(root, "content", "abc"),
		filepath.Join(root, "metadata", "host", "index"),
		filepath.Join(root, "metadata", "host", "index.version"),
	}
	for _, p := range want {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected %s: %v", p, err)
		}
	}

	// no temp files left behind
	entries, err := os.ReadDir(filepath.Join(root, "content"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("content dir has %d entries, want 1", len(entries))
	}
}

func TestFileSystemVault_ValidateSetup_MissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "vault")
	v, err := NewFileSystemVault("test", root)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(root); err != nil {
		t.Fatal(err)
	}

	if err := v.ValidateSetup(context.Background()); err == nil {
		t.Error("ValidateSetup() expected error for removed root")
	}
}
