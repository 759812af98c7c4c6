package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"basegraph.app/council/internal/model"
)

const (
	// MaxTrailSize is the maximum encoded audit trail size in bytes.
	MaxTrailSize = 4 * 1024 * 1024

	trailFilename = "audit.json"
)

var (
	ErrTrailNotFound = errors.New("audit trail not found")
	ErrTrailTooLarge = errors.New("audit trail exceeds maximum size")
)

// FileAuditStore writes one JSON document per deliberation under rootDir.
// Used in development when no database is available.
type FileAuditStore struct {
	rootDir string
}

func NewFileAuditStore(rootDir string) (*FileAuditStore, error) {
	if rootDir == "" {
		return nil, fmt.Errorf("audit root directory is required")
	}

	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating audit root directory: %w", err)
	}

	return &FileAuditStore{rootDir: rootDir}, nil
}

// Record stores the trail unless one already exists for the session.
func (s *FileAuditStore) Record(ctx context.Context, sessionID int64, trail model.AuditTrail) error {
	content, err := json.MarshalIndent(trail, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding audit trail: %w", err)
	}
	if len(content) > MaxTrailSize {
		return ErrTrailTooLarge
	}

	dir := filepath.Join(s.rootDir, sessionDir(sessionID))
	fullPath := filepath.Join(dir, trailFilename)

	if _, err := os.Stat(fullPath); err == nil {
		slog.InfoContext(ctx, "audit trail already recorded", "session_id", sessionID, "path", fullPath)
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating audit directory: %w", err)
	}

	// Atomic write: write to temp file, then rename
	tmpPath := fullPath + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0o644); err != nil {
		return fmt.Errorf("writing temp audit trail: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming audit trail: %w", err)
	}

	slog.DebugContext(ctx, "audit trail written",
		"session_id", sessionID,
		"path", fullPath,
		"sha256", sha256Hash(content))
	return nil
}

// Read returns a previously recorded trail.
func (s *FileAuditStore) Read(ctx context.Context, sessionID int64) (model.AuditTrail, error) {
	content, err := os.ReadFile(filepath.Join(s.rootDir, sessionDir(sessionID), trailFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return model.AuditTrail{}, ErrTrailNotFound
		}
		return model.AuditTrail{}, fmt.Errorf("reading audit trail: %w", err)
	}

	var trail model.AuditTrail
	if err := json.Unmarshal(content, &trail); err != nil {
		return model.AuditTrail{}, fmt.Errorf("decoding audit trail: %w", err)
	}
	return trail, nil
}

func sessionDir(sessionID int64) string {
	return fmt.Sprintf("deliberation_%d", sessionID)
}

func sha256Hash(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}
