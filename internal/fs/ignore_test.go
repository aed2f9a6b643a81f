package fs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIgnoreMatcher_Match(t *testing.T) {
	m := NewIgnoreMatcher([]string{
		"# editor and tool noise",
		"",
		"*.sw?",
		"*~",
		".git",
		"__pycache__/",
		"logs/*.log",
	})

	tests := []struct {
		path string
		want bool
	}{
		{".main.py.swp", true},
		{filepath.Join("src", ".util.py.swo"), true},
		{"notes.txt~", true},
		{filepath.Join(".git", "objects", "ab", "cdef"), true},
		{filepath.Join("pkg", "__pycache__", "mod.cpython-312.pyc"), true},
		{filepath.Join("logs", "app.log"), true},
		// Path patterns are anchored at the watch root.
		{filepath.Join("svc", "logs", "app.log"), false},
		{filepath.Join("logs", "archive", "old.log"), false},
		{"main.py", false},
		{"swap.py", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := m.Match(tt.path); got != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}

	if NewIgnoreMatcher(nil).Match("main.py") {
		t.Error("empty matcher matched main.py")
	}
}

func TestLoadIgnoreMatcher(t *testing.T) {
	t.Run("combines defaults, config and ignore file", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		content := "# investigation scratch\n*.bak\n\nscratch/\n"
		if err := os.WriteFile(filepath.Join(root, IgnoreFileName), []byte(content), 0644); err != nil {
			t.Fatalf("writing ignore file: %v", err)
		}

		m, err := LoadIgnoreMatcher(root, []string{"*.log"})
		if err != nil {
			t.Fatalf("LoadIgnoreMatcher() error = %v", err)
		}
		for path, want := range map[string]bool{
			IgnoreFileName:                       true,
			"app.log":                            true,
			"old.bak":                            true,
			filepath.Join("scratch", "trace.py"): true,
			"main.go":                            false,
		} {
			if got := m.Match(path); got != want {
				t.Errorf("Match(%q) = %v, want %v", path, got, want)
			}
		}
	})

	t.Run("missing ignore file leaves only defaults", func(t *testing.T) {
		t.Parallel()
		m, err := LoadIgnoreMatcher(t.TempDir(), nil)
		if err != nil {
			t.Fatalf("LoadIgnoreMatcher() error = %v", err)
		}
		if m.Match("main.go") || !m.Match(IgnoreFileName) {
			t.Errorf("defaults-only matcher: main.go=%v %s=%v", m.Match("main.go"), IgnoreFileName, m.Match(IgnoreFileName))
		}
	})

	t.Run("unreadable ignore file is an error", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		// A directory in place of the file cannot be scanned.
		if err := os.Mkdir(filepath.Join(root, IgnoreFileName), 0755); err != nil {
			t.Fatalf("creating directory: %v", err)
		}
		if _, err := LoadIgnoreMatcher(root, nil); err == nil {
			t.Error("LoadIgnoreMatcher() expected error")
		}
	})
}
