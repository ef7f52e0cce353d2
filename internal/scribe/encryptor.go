package scribe

import "io"

// Encryptor protects payload blobs at rest. Encrypting needs only the public
// key, so saves run unattended; replaying encrypted history needs the
// private key, unlocked with a passphrase.
type Encryptor interface {
	// Setup generates a key pair once, storing the private key protected
	// by passphrase.
	Setup(passphrase string) error

	// Encrypt reads plaintext from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock opens the private key for the rest of the process.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether a key pair exists.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory only.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
