package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// MediaStore persists raw image bytes and returns a relative path, the
// blob-storage collaborator of the pipeline. Per-image failures are
// non-fatal: the caller keeps whatever images did succeed.
type MediaStore interface {
	Store(ctx context.Context, data []byte, contentType, sourceURL string) (string, error)
	Read(path string) ([]byte, error)
}

// FileMediaStore writes image binaries to the local filesystem, addressed by
// content hash so repeated downloads of the same artwork reuse one file.
type FileMediaStore struct {
	baseDir string
}

// NewFileMediaStore constructs a filesystem-backed media store.
func NewFileMediaStore(baseDir string) (*FileMediaStore, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("base directory must be provided")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create media directory: %w", err)
	}
	return &FileMediaStore{baseDir: baseDir}, nil
}

// Store persists the image bytes to disk and returns the relative path.
func (s *FileMediaStore) Store(ctx context.Context, data []byte, contentType, sourceURL string) (string, error) {
	if s == nil || len(data) == 0 {
		return "", nil
	}
	if ctx != nil {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	subdir := hash[:2]
	filename := hash[2:]
	ext := pickImageExtension(contentType, sourceURL)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	relative := filepath.Join(subdir, filename+ext)
	fullPath := filepath.Join(s.baseDir, relative)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("create media subdir: %w", err)
	}
	if _, err := os.Stat(fullPath); err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("stat media file: %w", err)
		}
		if err := os.WriteFile(fullPath, data, 0o644); err != nil {
			return "", fmt.Errorf("write media file: %w", err)
		}
	}
	return relative, nil
}

// Read loads a previously stored image by its relative path.
func (s *FileMediaStore) Read(path string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.baseDir, path))
}

func pickImageExtension(contentType, sourceURL string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if ct != "" {
		if exts, err := mime.ExtensionsByType(ct); err == nil {
			for _, ext := range exts {
				if ext != "" {
					return strings.TrimPrefix(ext, ".")
				}
			}
		}
	}
	if idx := strings.Index(sourceURL, "?"); idx >= 0 {
		sourceURL = sourceURL[:idx]
	}
	if dot := strings.LastIndex(sourceURL, "."); dot >= 0 && dot < len(sourceURL)-1 {
		ext := strings.ToLower(sourceURL[dot+1:])
		if len(ext) <= 5 {
			return ext
		}
	}
	return ""
}
