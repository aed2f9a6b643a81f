package ctrack

import (
	"errors"
	"io"
)

// ErrKeysExist is returned by Encryptor.Setup when a key pair is already present.
var ErrKeysExist = errors.New("encryption keys already exist")

// Encryptor protects exported investigation bundles.
// Encryption needs only the public key; decryption needs the passphrase that
// unlocks the private key.
type Encryptor interface {
	// Setup generates a key pair and protects the private key with
	// passphrase. It refuses to replace an existing pair.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key and returns a DecryptionContext.
	// Returns an error if the passphrase is incorrect.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if a key pair is available.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory only.
type DecryptionContext interface {
	// Decrypt decrypts data read from r and writes plaintext to w.
	Decrypt(r io.Reader, w io.Writer) error
}
