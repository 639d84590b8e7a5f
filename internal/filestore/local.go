package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/progrunhq/progrun/internal/progerr"
	"github.com/progrunhq/progrun/internal/program/model"
)

// LocalStore implements Store on the local filesystem
type LocalStore struct {
	root string
}

// NewLocalStore creates a local store rooted at dir
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) filesDir(programID, versionID string) string {
	return filepath.Join(s.root, programID, versionID, "files")
}

func (s *LocalStore) outputsDir(programID, versionID, executionID string) string {
	return filepath.Join(s.root, programID, versionID, "execution", executionID, "outputs")
}

// hashOf returns the content address of data
func hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Put writes a version file and returns its storage key. Writes for the same
// (programID, versionID, relPath) are last-writer-wins.
func (s *LocalStore) Put(ctx context.Context, programID, versionID, relPath string, data []byte, contentType string) (string, error) {
	if err := validateRelPath(relPath); err != nil {
		return "", err
	}

	path := filepath.Join(s.filesDir(programID, versionID), relPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return hashOf(data), nil
}

// Get reads a version file
func (s *LocalStore) Get(ctx context.Context, programID, versionID, relPath string) ([]byte, error) {
	if err := validateRelPath(relPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.filesDir(programID, versionID), relPath))
	if os.IsNotExist(err) {
		return nil, progerr.NotFound("file", relPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// List lists the files of a version
func (s *LocalStore) List(ctx context.Context, programID, versionID string) ([]model.VersionFile, error) {
	dir := s.filesDir(programID, versionID)

	var files []model.VersionFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		files = append(files, model.VersionFile{
			Path:       filepath.ToSlash(rel),
			StorageKey: hashOf(data),
			Hash:       hashOf(data),
			Size:       int64(len(data)),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return files, nil
}

// Delete removes a single version file, or the whole version when relPath is
// empty.
func (s *LocalStore) Delete(ctx context.Context, programID, versionID, relPath string) error {
	if relPath == "" {
		return os.RemoveAll(filepath.Join(s.root, programID, versionID))
	}
	if err := validateRelPath(relPath); err != nil {
		return err
	}
	return os.Remove(filepath.Join(s.filesDir(programID, versionID), relPath))
}

// Copy duplicates every file of one version into another
func (s *LocalStore) Copy(ctx context.Context, programID, fromVersionID, toVersionID string) error {
	files, err := s.List(ctx, programID, fromVersionID)
	if err != nil {
		return err
	}

	for _, f := range files {
		data, err := s.Get(ctx, programID, fromVersionID, f.Path)
		if err != nil {
			return err
		}
		if _, err := s.Put(ctx, programID, toVersionID, f.Path, data, f.FileType); err != nil {
			return err
		}
	}
	return nil
}

// PutOutput stores an execution output file
func (s *LocalStore) PutOutput(ctx context.Context, programID, versionID, executionID, name string, data []byte) (string, error) {
	if err := validateRelPath(name); err != nil {
		return "", err
	}

	path := filepath.Join(s.outputsDir(programID, versionID, executionID), name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create outputs directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write output file: %w", err)
	}
	return hashOf(data), nil
}

// GetOutput reads an execution output file
func (s *LocalStore) GetOutput(ctx context.Context, programID, versionID, executionID, name string) ([]byte, error) {
	if err := validateRelPath(name); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.outputsDir(programID, versionID, executionID), name))
	if os.IsNotExist(err) {
		return nil, progerr.NotFound("output file", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read output file: %w", err)
	}
	return data, nil
}

// Stats returns storage usage for a program
func (s *LocalStore) Stats(ctx context.Context, programID string) (*StoreStats, error) {
	stats := &StoreStats{}

	err := filepath.WalkDir(filepath.Join(s.root, programID), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		stats.FileCount++
		stats.TotalBytes += info.Size()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}
	return stats, nil
}

func validateRelPath(relPath string) error {
	if relPath == "" {
		return progerr.Validation("relative path is required")
	}
	clean := filepath.ToSlash(filepath.Clean(relPath))
	if strings.HasPrefix(clean, "../") || clean == ".." || filepath.IsAbs(relPath) {
		return progerr.Validation("path escapes the store: " + relPath)
	}
	return nil
}
