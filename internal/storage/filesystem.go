package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vampirenirmal/bookforge/internal/core"
)

// FileSystem is a DocumentStore backed by a project directory. All paths are
// relative to baseDir; traversal outside it is rejected.
type FileSystem struct {
	baseDir string
}

func NewFileSystem(baseDir string) *FileSystem {
	return &FileSystem{baseDir: baseDir}
}

// sanitizePath validates and cleans the path to prevent directory traversal.
func (fs *FileSystem) sanitizePath(path string) (string, error) {
	cleaned := filepath.Clean(path)

	if strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("%w: path contains parent directory reference", core.ErrInvalidInput)
	}

	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("%w: absolute paths not allowed", core.ErrInvalidInput)
	}

	fullPath := filepath.Join(fs.baseDir, cleaned)

	// Verify the final path is still within baseDir. This handles symbolic
	// links and other edge cases.
	if !strings.HasPrefix(fullPath, fs.baseDir+string(filepath.Separator)) && fullPath != fs.baseDir {
		return "", fmt.Errorf("%w: path escapes base directory", core.ErrInvalidInput)
	}

	return fullPath, nil
}

func (fs *FileSystem) Save(ctx context.Context, path string, data []byte) error {
	fullPath, err := fs.sanitizePath(path)
	if err != nil {
		return err
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}

	return nil
}

func (fs *FileSystem) Load(ctx context.Context, path string) ([]byte, error) {
	fullPath, err := fs.sanitizePath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(fullPath)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", core.ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	return data, nil
}

func (fs *FileSystem) List(ctx context.Context, pattern string) ([]string, error) {
	// Allow * and ? wildcards but nothing that escapes the base directory.
	cleaned := filepath.Clean(pattern)
	if strings.Contains(cleaned, "..") {
		return nil, fmt.Errorf("%w: pattern contains parent directory reference", core.ErrInvalidInput)
	}
	if filepath.IsAbs(cleaned) {
		return nil, fmt.Errorf("%w: absolute patterns not allowed", core.ErrInvalidInput)
	}

	fullPattern := filepath.Join(fs.baseDir, cleaned)

	matches, err := filepath.Glob(fullPattern)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}

	var results []string
	for _, match := range matches {
		if !strings.HasPrefix(match, fs.baseDir+string(filepath.Separator)) && match != fs.baseDir {
			continue
		}

		rel, err := filepath.Rel(fs.baseDir, match)
		if err != nil {
			continue
		}
		results = append(results, rel)
	}

	return results, nil
}

func (fs *FileSystem) Exists(ctx context.Context, path string) bool {
	fullPath, err := fs.sanitizePath(path)
	if err != nil {
		return false
	}

	_, err = os.Stat(fullPath)
	return err == nil
}

func (fs *FileSystem) Delete(ctx context.Context, path string) error {
	fullPath, err := fs.sanitizePath(path)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}

	return nil
}

// DeleteDir removes a directory and everything under it. Missing directories
// are not an error so culling is idempotent.
func (fs *FileSystem) DeleteDir(ctx context.Context, dir string) error {
	fullPath, err := fs.sanitizePath(dir)
	if err != nil {
		return err
	}

	if fullPath == fs.baseDir {
		return fmt.Errorf("refusing to delete project root")
	}

	if err := os.RemoveAll(fullPath); err != nil {
		return fmt.Errorf("deleting directory: %w", err)
	}

	return nil
}
