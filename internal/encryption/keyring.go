package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"

	"ctrack-go/internal/config"
	"ctrack-go/internal/ctrack"
)

// BundleKeyring seals export bundles with an age X25519 key pair kept in two
// files:
//
//	public_key_path   bundle recipient (age1...), plaintext
//	private_key_path  bundle identity, sealed to the passphrase and armored
//
// Exporting needs only the recipient. Reading an encrypted bundle needs the
// passphrase.
type BundleKeyring struct {
	recipientPath string
	identityPath  string
}

var _ ctrack.Encryptor = (*BundleKeyring)(nil)

func NewBundleKeyring(cfg config.EncryptionConfig) *BundleKeyring {
	return &BundleKeyring{
		recipientPath: cfg.PublicKeyPath,
		identityPath:  cfg.PrivateKeyPath,
	}
}

// Setup generates the bundle key pair. It fails with ctrack.ErrKeysExist when
// either key file is already present.
func (k *BundleKeyring) Setup(passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("passphrase must not be empty")
	}
	for _, p := range []string{k.recipientPath, k.identityPath} {
		if _, err := os.Stat(p); err == nil {
			return fmt.Errorf("%w: %s", ctrack.ErrKeysExist, p)
		}
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating bundle key pair: %w", err)
	}
	sealed, err := sealIdentity(identity, passphrase)
	if err != nil {
		return err
	}

	if err := createKeyFile(k.identityPath, sealed, 0600); err != nil {
		return err
	}
	public := fmt.Sprintf("# ctrack bundle recipient\n%s\n", identity.Recipient())
	if err := createKeyFile(k.recipientPath, []byte(public), 0644); err != nil {
		os.Remove(k.identityPath)
		return err
	}
	return nil
}

// Encrypt seals the bundle read from r to the stored recipient.
func (k *BundleKeyring) Encrypt(r io.Reader, w io.Writer) error {
	recipient, err := k.loadRecipient()
	if err != nil {
		return err
	}
	return seal(w, recipient, r)
}

// Unlock opens the sealed identity with passphrase. A passphrase that does not
// match yields ErrWrongPassphrase.
func (k *BundleKeyring) Unlock(passphrase string) (ctrack.DecryptionContext, error) {
	f, err := os.Open(k.identityPath)
	if err != nil {
		return nil, fmt.Errorf("opening bundle identity: %w", err)
	}
	defer f.Close()

	scrypt, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating passphrase identity: %w", err)
	}

	var plain bytes.Buffer
	if err := unseal(&plain, armor.NewReader(f), scrypt); err != nil {
		var noMatch *age.NoIdentityMatchError
		if errors.As(err, &noMatch) {
			return nil, ErrWrongPassphrase
		}
		return nil, fmt.Errorf("unsealing bundle identity: %w", err)
	}

	identities, err := age.ParseIdentities(&plain)
	if err != nil {
		return nil, fmt.Errorf("parsing bundle identity: %w", err)
	}
	return &bundleOpener{identities: identities}, nil
}

// Recipient returns the age1... public key bundles are sealed to.
func (k *BundleKeyring) Recipient() (string, error) {
	recipient, err := k.loadRecipient()
	if err != nil {
		return "", err
	}
	x, ok := recipient.(*age.X25519Recipient)
	if !ok {
		return "", fmt.Errorf("bundle recipient has unexpected type %T", recipient)
	}
	return x.String(), nil
}

func (k *BundleKeyring) IsConfigured() bool {
	for _, p := range []string{k.recipientPath, k.identityPath} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func (k *BundleKeyring) loadRecipient() (age.Recipient, error) {
	data, err := os.ReadFile(k.recipientPath)
	if err != nil {
		return nil, fmt.Errorf("reading bundle recipient: %w", err)
	}
	recipients, err := age.ParseRecipients(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing bundle recipient: %w", err)
	}
	if len(recipients) != 1 {
		return nil, fmt.Errorf("bundle recipient file holds %d keys, want 1", len(recipients))
	}
	return recipients[0], nil
}

// bundleOpener holds the unlocked identity in memory only.
type bundleOpener struct {
	identities []age.Identity
}

func (o *bundleOpener) Decrypt(r io.Reader, w io.Writer) error {
	if err := unseal(w, r, o.identities...); err != nil {
		return fmt.Errorf("opening bundle: %w", err)
	}
	return nil
}

// sealIdentity seals the identity's text form to passphrase, armored.
func sealIdentity(identity *age.X25519Identity, passphrase string) ([]byte, error) {
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating passphrase recipient: %w", err)
	}

	var buf bytes.Buffer
	aw := armor.NewWriter(&buf)
	if err := seal(aw, recipient, strings.NewReader(identity.String()+"\n")); err != nil {
		return nil, fmt.Errorf("sealing bundle identity: %w", err)
	}
	if err := aw.Close(); err != nil {
		return nil, fmt.Errorf("armoring bundle identity: %w", err)
	}
	return buf.Bytes(), nil
}

// seal writes r to w as an age stream for recipient.
func seal(w io.Writer, recipient age.Recipient, r io.Reader) error {
	sw, err := age.Encrypt(w, recipient)
	if err != nil {
		return fmt.Errorf("starting age stream: %w", err)
	}
	if _, err := io.Copy(sw, r); err != nil {
		return fmt.Errorf("sealing data: %w", err)
	}
	if err := sw.Close(); err != nil {
		return fmt.Errorf("closing age stream: %w", err)
	}
	return nil
}

// unseal writes the plaintext of the age stream r to w.
func unseal(w io.Writer, r io.Reader, identities ...age.Identity) error {
	sr, err := age.Decrypt(r, identities...)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, sr); err != nil {
		return fmt.Errorf("reading age stream: %w", err)
	}
	return nil
}

// createKeyFile writes data to a new file at path.
func createKeyFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if errors.Is(err, iofs.ErrExist) {
		return fmt.Errorf("%w: %s", ctrack.ErrKeysExist, path)
	}
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("closing %s: %w", filepath.Base(path), err)
	}
	return nil
}
