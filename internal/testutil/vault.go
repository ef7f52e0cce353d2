package testutil

import (
	"scribe-go/internal/vault"
)

// NewTestVault creates an in-memory vault for tests.
func NewTestVault() *vault.MemoryVault {
	return vault.NewMemoryVault("test-vault")
}
