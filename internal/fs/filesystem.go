// Package fs inspects the watched filesystem: it classifies and hashes paths
// and applies ignore rules.
package fs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Entry describes a path at the moment it was inspected.
type Entry struct {
	Path  string
	IsDir bool
	// Hash is the hex SHA-256 of a regular file's content. It is empty for
	// directories, special files and when hashing is disabled.
	Hash string
}

// Inspector reads the state of paths on the real filesystem.
type Inspector struct {
	hashFiles bool
	maxHash   int64
}

// DefaultMaxHashSize is the largest file Inspect hashes.
const DefaultMaxHashSize = 64 << 20

// NewInspector creates an Inspector. When hashFiles is false no file content
// is read.
func NewInspector(hashFiles bool) *Inspector {
	return &Inspector{hashFiles: hashFiles, maxHash: DefaultMaxHashSize}
}

// Inspect stats path without following symlinks and hashes it when it is a
// regular file.
func (i *Inspector) Inspect(path string) (*Entry, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, fmt.Errorf("stat path: %w", err)
	}

	entry := &Entry{Path: path, IsDir: info.IsDir()}
	if !i.hashFiles || !info.Mode().IsRegular() || info.Size() > i.maxHash {
		return entry, nil
	}

	hash, err := hashFile(path)
	if err != nil {
		return nil, err
	}
	entry.Hash = hash
	return entry, nil
}

// Dirs returns root and every directory below it that the matcher does not
// ignore. Ignored directories are not descended into.
func (i *Inspector) Dirs(root string, matcher *IgnoreMatcher) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Directories removed mid-walk are not an error.
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root {
			rel, err := filepath.Rel(root, p)
			if err == nil && matcher != nil && matcher.Match(rel) {
				return filepath.SkipDir
			}
		}
		dirs = append(dirs, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}
	return dirs, nil
}

// CountFiles returns the number of non-directory entries below root that the
// matcher does not ignore. A root that is itself a file counts as one.
func (i *Inspector) CountFiles(root string, matcher *IgnoreMatcher) (int, error) {
	n := 0
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p != root {
				return nil
			}
			return err
		}
		if p != root {
			rel, err := filepath.Rel(root, p)
			if err == nil && matcher != nil && matcher.Match(rel) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("counting files: %w", err)
	}
	return n, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening file for hashing: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
