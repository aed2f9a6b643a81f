package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"ctrack-go/internal/ctrack"
)

// testHeader is prepended to data by TestEncryptor so output differs from
// plaintext while remaining deterministic and reversible.
var testHeader = []byte("CTENC\x00\x00\x00")

// ErrWrongPassphrase is returned by Unlock when the passphrase does not open
// the bundle identity.
var ErrWrongPassphrase = errors.New("wrong passphrase")

// TestEncryptor is a deterministic, crypto-free Encryptor for tests. It
// prepends a fixed 8-byte header on Encrypt and strips it on Decrypt. Before
// Setup any passphrase unlocks it; after Setup only the one given.
type TestEncryptor struct {
	mu         sync.Mutex
	passphrase string
	setup      bool
}

var _ ctrack.Encryptor = (*TestEncryptor)(nil)

// NewTestEncryptor creates a new TestEncryptor.
func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.setup {
		return ctrack.ErrKeysExist
	}
	e.setup = true
	e.passphrase = passphrase
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testHeader); err != nil {
		return fmt.Errorf("writing test header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (e *TestEncryptor) Unlock(passphrase string) (ctrack.DecryptionContext, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.setup && passphrase != e.passphrase {
		return nil, ErrWrongPassphrase
	}
	return &TestDecryptionContext{}, nil
}

func (e *TestEncryptor) IsConfigured() bool {
	return true
}

// TestDecryptionContext strips the test header added by TestEncryptor.
type TestDecryptionContext struct{}

var _ ctrack.DecryptionContext = (*TestDecryptionContext)(nil)

func (c *TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(testHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading test header: %w", err)
	}
	if !bytes.Equal(header, testHeader) {
		return fmt.Errorf("invalid test encryption header")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
