package assets

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"boneguide-go/internal/guide"
)

// FileSystemStore keeps downloaded images as files in one directory:
//
//	<root>/
//	  image_<uuid>.<ext>
//
// The reference handed back for stored content is the absolute file path.
type FileSystemStore struct {
	root string
}

// NewFileSystemStore creates the image directory if needed.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving images directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create images directory: %w", err)
	}
	return &FileSystemStore{root: abs}, nil
}

// Root returns the image directory.
func (s *FileSystemStore) Root() string { return s.root }

// Put writes the image under name and returns its absolute path.
func (s *FileSystemStore) Put(ctx context.Context, name string, r io.Reader, size int64) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	destPath := filepath.Join(s.root, name)
	if err := s.writeFile(destPath, r, size); err != nil {
		return "", err
	}
	return destPath, nil
}

// ValidateSetup verifies that the image directory is accessible.
func (s *FileSystemStore) ValidateSetup() error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("images directory not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("images path is not a directory: %s", s.root)
	}
	return nil
}

// writeFile writes data from r to path using atomic write (temp file + rename).
func (s *FileSystemStore) writeFile(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// validName rejects names that would escape the store root.
func validName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid image name: %q", name)
	}
	return nil
}

// Compile-time check that FileSystemStore implements guide.AssetStore.
var _ guide.AssetStore = (*FileSystemStore)(nil)
