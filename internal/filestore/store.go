// Package filestore provides content-addressed storage for version files and
// execution outputs.
package filestore

import (
	"context"

	"github.com/progrunhq/progrun/internal/program/model"
)

// Store is the file-store consumed by the execution core. Version files live
// under {programID}/{versionID}/files/{relPath}; execution outputs under
// {programID}/{versionID}/execution/{executionID}/outputs/{name}. Keys are
// content-addressed by SHA-256 of the bytes.
type Store interface {
	Put(ctx context.Context, programID, versionID, relPath string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, programID, versionID, relPath string) ([]byte, error)
	List(ctx context.Context, programID, versionID string) ([]model.VersionFile, error)
	Delete(ctx context.Context, programID, versionID, relPath string) error
	Copy(ctx context.Context, programID, fromVersionID, toVersionID string) error
	PutOutput(ctx context.Context, programID, versionID, executionID, name string, data []byte) (string, error)
	GetOutput(ctx context.Context, programID, versionID, executionID, name string) ([]byte, error)
	Stats(ctx context.Context, programID string) (*StoreStats, error)
}

// StoreStats holds per-program storage usage
type StoreStats struct {
	FileCount  int   `json:"fileCount"`
	TotalBytes int64 `json:"totalBytes"`
}
