package scribe

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by a Vault for a missing blob or metadata item.
var ErrNotFound = errors.New("not found")

// Vault stores version payload blobs and per-host metadata such as the
// index replica. Blobs are addressed by the SHA-256 of their stored bytes.
type Vault interface {
	// PutContent stores a blob. Storing the same checksum twice is safe.
	// size is the number of bytes that will be read from r.
	PutContent(ctx context.Context, checksum string, r io.Reader, size int64) error

	// GetContent writes the blob to w.
	GetContent(ctx context.Context, checksum string, w io.Writer) error

	// DeleteContent removes a blob. Deleting a missing blob is not an error.
	DeleteContent(ctx context.Context, checksum string) error

	// PutMetadata stores a named item for a host together with a version
	// used for staleness checks. Known names: "index".
	PutMetadata(ctx context.Context, hostID string, name string, r io.Reader, size int64, version int64) error

	// GetMetadata writes a named item for a host to w.
	GetMetadata(ctx context.Context, hostID string, name string, w io.Writer) error

	// GetMetadataVersion returns the version stored with an item, or 0.
	GetMetadataVersion(ctx context.Context, hostID string, name string) (int64, error)

	// ValidateSetup verifies the vault is reachable and usable.
	ValidateSetup(ctx context.Context) error
}
