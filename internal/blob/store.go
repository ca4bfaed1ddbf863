// Package blob stores uploaded files on disk under opaque names, with
// metadata rows in the snapshot store. The descriptor it returns is what the
// client attaches to file messages.
package blob

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"localchat/server/internal/protocol"
	"localchat/server/internal/store"
)

const defaultContentType = "application/octet-stream"

// MaxUploadSize is the upload size limit.
const MaxUploadSize = 10 * 1024 * 1024 // 10 MB

// Store coordinates upload bytes on disk with metadata in the store.
type Store struct {
	rootDir string
	meta    *store.Store
}

// OpenResult is a file record + opened file stream tuple.
type OpenResult struct {
	Record store.FileRecord
	File   *os.File
}

// NewStore creates an upload store rooted at rootDir.
func NewStore(rootDir string, meta *store.Store) (*Store, error) {
	rootDir = strings.TrimSpace(rootDir)
	if rootDir == "" {
		return nil, fmt.Errorf("upload root directory is required")
	}
	if meta == nil {
		return nil, fmt.Errorf("metadata store is required")
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	slog.Debug("upload store initialized", "dir", rootDir)
	return &Store{rootDir: rootDir, meta: meta}, nil
}

// Put writes the upload to disk under a fresh opaque name, records its
// metadata, and returns the descriptor clients embed in file messages.
func (s *Store) Put(originalName, contentType string, r io.Reader) (protocol.FileInfo, error) {
	if r == nil {
		return protocol.FileInfo{}, fmt.Errorf("upload reader is required")
	}
	originalName = strings.TrimSpace(originalName)
	if originalName == "" {
		return protocol.FileInfo{}, fmt.Errorf("upload original name is required")
	}
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		if byExt := mime.TypeByExtension(filepath.Ext(originalName)); byExt != "" {
			contentType = byExt
		} else {
			contentType = defaultContentType
		}
	}

	id := uuid.NewString()
	diskName := id + filepath.Ext(originalName)

	tempFile, err := os.CreateTemp(s.rootDir, ".upload-*")
	if err != nil {
		return protocol.FileInfo{}, fmt.Errorf("create temp upload file: %w", err)
	}
	tempPath := tempFile.Name()

	size, copyErr := io.Copy(tempFile, io.LimitReader(r, MaxUploadSize+1))
	closeErr := tempFile.Close()
	if copyErr != nil {
		_ = os.Remove(tempPath)
		return protocol.FileInfo{}, fmt.Errorf("write upload bytes: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tempPath)
		return protocol.FileInfo{}, fmt.Errorf("close upload file: %w", closeErr)
	}
	if size > MaxUploadSize {
		_ = os.Remove(tempPath)
		return protocol.FileInfo{}, fmt.Errorf("upload exceeds %d bytes", MaxUploadSize)
	}

	finalPath := filepath.Join(s.rootDir, diskName)
	if err := os.Rename(tempPath, finalPath); err != nil {
		_ = os.Remove(tempPath)
		return protocol.FileInfo{}, fmt.Errorf("move upload into place: %w", err)
	}

	rec := store.FileRecord{
		ID:           id,
		OriginalName: originalName,
		ContentType:  contentType,
		DiskName:     diskName,
		Size:         size,
	}
	if err := s.meta.CreateFile(rec); err != nil {
		_ = os.Remove(finalPath)
		return protocol.FileInfo{}, fmt.Errorf("persist file record: %w", err)
	}

	slog.Info("upload stored", "file_id", id, "name", originalName, "size", size, "content_type", contentType)
	return protocol.FileInfo{
		URL:          "/api/files/" + id,
		Filename:     diskName,
		OriginalName: originalName,
		Size:         size,
		Mimetype:     contentType,
	}, nil
}

// Open resolves a file record and opens its on-disk bytes.
func (s *Store) Open(id string) (OpenResult, error) {
	rec, err := s.meta.FileByID(id)
	if err != nil {
		return OpenResult{}, err
	}

	path := filepath.Join(s.rootDir, rec.DiskName)
	f, err := os.Open(path)
	if err != nil {
		slog.Error("upload file open failed", "file_id", id, "path", path, "err", err)
		return OpenResult{}, fmt.Errorf("open upload file: %w", err)
	}
	return OpenResult{Record: rec, File: f}, nil
}
