package encryption_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ctrack-go/internal/config"
	"ctrack-go/internal/ctrack"
	"ctrack-go/internal/encryption"
	"ctrack-go/internal/export"
)

func newKeyring(t *testing.T) (*encryption.BundleKeyring, config.EncryptionConfig) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.EncryptionConfig{
		Type:           "age",
		PublicKeyPath:  filepath.Join(dir, "keys", "ctrack.pub"),
		PrivateKeyPath: filepath.Join(dir, "keys", "ctrack.key"),
	}
	return encryption.NewBundleKeyring(cfg), cfg
}

func testBundle() *export.Bundle {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	old := "/repo/old.py"
	return &export.Bundle{
		InvestigationID: "inv-1",
		ExportedAt:      ts.Add(time.Hour),
		Snapshots: []*ctrack.InvestigationSnapshot{{
			InvestigationID: "inv-1",
			Timestamp:       ts,
			Path:            "/repo",
			FileCount:       2,
			ChangesSinceLast: []*ctrack.ChangeRecord{
				{Path: "/repo/new.py", ChangeType: ctrack.ChangeMoved, OldPath: &old, Timestamp: ts.Add(-time.Minute)},
			},
			Metadata: map[string]any{"ticket": "BUG-12"},
		}},
	}
}

func TestBundleKeyring_SealedBundleRoundTrip(t *testing.T) {
	t.Parallel()
	k, _ := newKeyring(t)
	if k.IsConfigured() {
		t.Fatal("IsConfigured() = true before Setup")
	}
	if err := k.Setup("s3cret"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if !k.IsConfigured() {
		t.Fatal("IsConfigured() = false after Setup")
	}

	var sealed bytes.Buffer
	if err := export.Write(&sealed, testBundle(), k); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if bytes.Contains(sealed.Bytes(), []byte("/repo/new.py")) {
		t.Error("sealed bundle leaks a change path")
	}

	unlocks := 0
	got, err := export.Read(&sealed, func() (ctrack.DecryptionContext, error) {
		unlocks++
		return k.Unlock("s3cret")
	})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if unlocks != 1 {
		t.Errorf("unlock called %d times, want 1", unlocks)
	}
	if got.InvestigationID != "inv-1" || len(got.Snapshots) != 1 {
		t.Fatalf("Read() = %+v", got)
	}
	changes := got.Snapshots[0].ChangesSinceLast
	if len(changes) != 1 || changes[0].OldPath == nil || *changes[0].OldPath != "/repo/old.py" {
		t.Errorf("ChangesSinceLast = %+v", changes)
	}
	if got.Snapshots[0].Metadata["ticket"] != "BUG-12" {
		t.Errorf("Metadata = %v", got.Snapshots[0].Metadata)
	}
}

func TestBundleKeyring_WrongPassphrase(t *testing.T) {
	t.Parallel()
	k, _ := newKeyring(t)
	if err := k.Setup("right"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	var sealed bytes.Buffer
	if err := export.Write(&sealed, testBundle(), k); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	_, err := export.Read(&sealed, func() (ctrack.DecryptionContext, error) { return k.Unlock("wrong") })
	if !errors.Is(err, encryption.ErrWrongPassphrase) {
		t.Errorf("Read() error = %v, want ErrWrongPassphrase", err)
	}
}

func TestBundleKeyring_ForeignBundle(t *testing.T) {
	t.Parallel()
	mine, _ := newKeyring(t)
	theirs, _ := newKeyring(t)
	for _, k := range []*encryption.BundleKeyring{mine, theirs} {
		if err := k.Setup("pass"); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
	}

	var sealed bytes.Buffer
	if err := export.Write(&sealed, testBundle(), theirs); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := export.Read(&sealed, func() (ctrack.DecryptionContext, error) { return mine.Unlock("pass") }); err == nil {
		t.Error("Read() of a bundle sealed to another key should fail")
	}
}

func TestBundleKeyring_Setup(t *testing.T) {
	t.Run("refuses to replace keys", func(t *testing.T) {
		t.Parallel()
		k, cfg := newKeyring(t)
		if err := k.Setup("first"); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		before, err := k.Recipient()
		if err != nil {
			t.Fatalf("Recipient() error = %v", err)
		}

		if err := k.Setup("second"); !errors.Is(err, ctrack.ErrKeysExist) {
			t.Fatalf("second Setup() error = %v, want ErrKeysExist", err)
		}
		after, _ := k.Recipient()
		if before != after {
			t.Error("recipient changed after refused Setup")
		}
		if _, err := k.Unlock("first"); err != nil {
			t.Errorf("Unlock(first) error = %v", err)
		}

		identity, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			t.Fatalf("reading identity file: %v", err)
		}
		if !strings.HasPrefix(string(identity), "-----BEGIN AGE ENCRYPTED FILE-----") {
			t.Errorf("identity file is not armored:\n%s", identity)
		}
	})

	t.Run("empty passphrase", func(t *testing.T) {
		t.Parallel()
		k, _ := newKeyring(t)
		if err := k.Setup(""); err == nil {
			t.Error("Setup(\"\") expected error")
		}
		if k.IsConfigured() {
			t.Error("IsConfigured() = true after failed Setup")
		}
	})

	t.Run("recipient", func(t *testing.T) {
		t.Parallel()
		k, _ := newKeyring(t)
		if _, err := k.Recipient(); err == nil {
			t.Error("Recipient() before Setup expected error")
		}
		if err := k.Setup("pass"); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		got, err := k.Recipient()
		if err != nil {
			t.Fatalf("Recipient() error = %v", err)
		}
		if !strings.HasPrefix(got, "age1") {
			t.Errorf("Recipient() = %q, want age1 prefix", got)
		}
	})
}

func TestBundleKeyring_BeforeSetup(t *testing.T) {
	t.Parallel()
	k, _ := newKeyring(t)
	if err := export.Write(&bytes.Buffer{}, testBundle(), k); err == nil {
		t.Error("Write() with an unset keyring expected error")
	}
	if _, err := k.Unlock("pass"); err == nil {
		t.Error("Unlock() before Setup expected error")
	}
}
