// Package staging is the file-system queue that sits between the fetcher and
// the loader. A staged document is a JSON file named
// <type>_<UTC timestamp>.json; it stays in the directory until it has been
// loaded and archived, and its presence blocks new fetches for that type.
//
// Documents are written to a hidden temporary file first and renamed into
// place, so List never returns a partially written document.
package staging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// TimestampLayout is the timestamp part of a staged file name. It sorts
// lexicographically in creation order.
const TimestampLayout = "20060102T150405.000000Z"

const ext = ".json"

// ErrExists is returned when a document with the same name is already staged.
var ErrExists = errors.New("staged document already exists")

// Store manages one staging directory.
type Store struct {
	dir string
}

// New opens the staging directory, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the staging directory.
func (s *Store) Dir() string { return s.dir }

// FileName returns the staged file name for docType created at t.
func FileName(docType string, t time.Time) string {
	return docType + "_" + t.UTC().Format(TimestampLayout) + ext
}

// Create stages data as a new document for docType and returns its path.
func (s *Store) Create(docType string, data []byte, at time.Time) (string, error) {
	if docType == "" {
		return "", fmt.Errorf("document type is required")
	}

	name := FileName(docType, at)
	final := filepath.Join(s.dir, name)
	if _, err := os.Stat(final); err == nil {
		return "", fmt.Errorf("%w: %s", ErrExists, final)
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return "", fmt.Errorf("failed to write staged document: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return "", fmt.Errorf("failed to sync staged document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close staged document: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to publish staged document: %w", err)
	}

	return final, nil
}

// List returns the staged documents of docType, oldest first. Only names of
// the form <docType>_<timestamp>.json match, so "ticket" never picks up
// "ticket_fields" documents.
func (s *Store) List(docType string) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list staging directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !Matches(e.Name(), docType) {
			continue
		}
		files = append(files, filepath.Join(s.dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// Matches reports whether name is a staged file name for docType.
func Matches(name, docType string) bool {
	prefix := docType + "_"
	if strings.HasPrefix(name, ".") || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
		return false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ext)
	_, err := time.Parse(TimestampLayout, stamp)
	return err == nil
}

// Pending reports whether any document of docType is staged.
func (s *Store) Pending(docType string) (bool, error) {
	files, err := s.List(docType)
	if err != nil {
		return false, err
	}
	return len(files) > 0, nil
}

// Read returns the content of a staged document.
func (s *Store) Read(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Delete removes a staged document.
func (s *Store) Delete(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete staged document: %w", err)
	}
	return nil
}

// Move relocates a file into destDir, keeping its name and modification time,
// and returns the new path.
func Move(path, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", destDir, err)
	}

	dest := filepath.Join(destDir, filepath.Base(path))
	if err := os.Rename(path, dest); err == nil {
		return dest, nil
	}

	// Rename fails across file systems; fall back to copy and delete.
	if err := copyFile(path, dest); err != nil {
		return "", err
	}
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("failed to remove %s after copy: %w", path, err)
	}
	return dest, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
