package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Compile-time check that LocalArchive implements Archiver.
var _ Archiver = (*LocalArchive)(nil)

// LocalArchive copies finished outputs into a directory on local disk.
type LocalArchive struct {
	dir string
}

// NewLocalArchive creates a LocalArchive rooted at dir, creating the
// directory if it doesn't exist. If dir is empty, a framefold directory
// under os.TempDir() is used.
func NewLocalArchive(dir string) (*LocalArchive, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "framefold")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	return &LocalArchive{dir: dir}, nil
}

// Dir returns the archive directory path.
func (a *LocalArchive) Dir() string {
	return a.dir
}

// ArchiveFile copies the source file into the archive directory. The key
// prefixes the original filename so repeated runs never collide.
func (a *LocalArchive) ArchiveFile(ctx context.Context, key, srcPath string) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	src, err := os.Open(srcPath) // #nosec G304 - path comes from the backend we spawned
	if err != nil {
		return "", fmt.Errorf("open output file: %w", err)
	}
	defer src.Close()

	destPath := filepath.Join(a.dir, key+"_"+filepath.Base(srcPath))
	dest, err := os.Create(destPath) // #nosec G304 - destination inside archive dir
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}

	if _, err := io.Copy(dest, src); err != nil {
		_ = dest.Close()
		_ = os.Remove(destPath)
		return "", fmt.Errorf("copy to archive: %w", err)
	}
	if err := dest.Close(); err != nil {
		_ = os.Remove(destPath)
		return "", fmt.Errorf("close archive file: %w", err)
	}

	return destPath, nil
}
