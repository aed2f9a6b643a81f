package fs

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"ctrack-go/internal/testutil"
)

func TestInspector_Inspect(t *testing.T) {
	t.Run("hashes regular files", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		path := filepath.Join(dir, "a.py")
		content := []byte("print('hi')\n")
		if err := os.WriteFile(path, content, 0644); err != nil {
			t.Fatalf("writing file: %v", err)
		}

		got, err := NewInspector(true).Inspect(path)
		if err != nil {
			t.Fatalf("Inspect() error = %v", err)
		}
		if got.IsDir {
			t.Error("IsDir = true, want false")
		}
		if want := testutil.SHA256Hex(content); got.Hash != want {
			t.Errorf("Hash = %q, want %q", got.Hash, want)
		}
	})

	t.Run("hashing disabled", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "a.py")
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatalf("writing file: %v", err)
		}

		got, err := NewInspector(false).Inspect(path)
		if err != nil {
			t.Fatalf("Inspect() error = %v", err)
		}
		if got.Hash != "" {
			t.Errorf("Hash = %q, want empty", got.Hash)
		}
	})

	t.Run("directories are not hashed", func(t *testing.T) {
		t.Parallel()
		got, err := NewInspector(true).Inspect(t.TempDir())
		if err != nil {
			t.Fatalf("Inspect() error = %v", err)
		}
		if !got.IsDir || got.Hash != "" {
			t.Errorf("Inspect() = %+v, want directory without hash", got)
		}
	})

	t.Run("missing path", func(t *testing.T) {
		t.Parallel()
		if _, err := NewInspector(true).Inspect(filepath.Join(t.TempDir(), "gone")); err == nil {
			t.Error("Inspect() expected error for missing path")
		}
	})
}

func TestInspector_Dirs(t *testing.T) {
	root := t.TempDir()
	for _, d := range []string{"src/pkg", ".git/objects", "docs"} {
		if err := os.MkdirAll(filepath.Join(root, d), 0755); err != nil {
			t.Fatalf("creating %s: %v", d, err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "src", "main.go"), []byte("package main"), 0644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	got, err := NewInspector(false).Dirs(root, NewIgnoreMatcher([]string{".git"}))
	if err != nil {
		t.Fatalf("Dirs() error = %v", err)
	}
	sort.Strings(got)

	want := []string{
		root,
		filepath.Join(root, "docs"),
		filepath.Join(root, "src"),
		filepath.Join(root, "src", "pkg"),
	}
	sort.Strings(want)
	if len(got) != len(want) {
		t.Fatalf("Dirs() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Dirs()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestInspector_CountFiles(t *testing.T) {
	root := t.TempDir()
	files := []string{"a.py", "src/b.py", "src/pkg/c.py", ".git/HEAD", "src/x.swp"}
	for _, f := range files {
		p := filepath.Join(root, f)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("creating directory: %v", err)
		}
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatalf("writing %s: %v", f, err)
		}
	}

	got, err := NewInspector(false).CountFiles(root, NewIgnoreMatcher([]string{".git", "*.swp"}))
	if err != nil {
		t.Fatalf("CountFiles() error = %v", err)
	}
	if got != 3 {
		t.Errorf("CountFiles() = %d, want 3", got)
	}

	got, err = NewInspector(false).CountFiles(filepath.Join(root, "a.py"), nil)
	if err != nil {
		t.Fatalf("CountFiles(file) error = %v", err)
	}
	if got != 1 {
		t.Errorf("CountFiles(file) = %d, want 1", got)
	}

	if _, err := NewInspector(false).CountFiles(filepath.Join(root, "missing"), nil); err == nil {
		t.Error("CountFiles() expected error for missing root")
	}
}
