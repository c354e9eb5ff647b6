// Package storage implements the object storage port on the local
// filesystem. Keys are relative paths under a base directory; presigned URLs
// carry an HMAC token a download handler can verify without state.
package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kaiwen/docverify/internal/application/port"
)

// FileStorage stores objects under a base directory on the local filesystem
type FileStorage struct {
	baseDir    string
	baseURL    string
	signingKey []byte
	logger     *zap.Logger
}

// NewFileStorage creates a local file storage rooted at baseDir. baseURL is
// prefixed to returned object URLs; signingKey signs presigned download
// tokens.
func NewFileStorage(baseDir, baseURL string, signingKey []byte, logger *zap.Logger) (*FileStorage, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStorage{
		baseDir:    baseDir,
		baseURL:    strings.TrimRight(baseURL, "/"),
		signingKey: signingKey,
		logger:     logger,
	}, nil
}

// Put writes content under the key, creating parent directories as needed
func (s *FileStorage) Put(ctx context.Context, path string, content []byte) (string, error) {
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create parent dir: %w", err)
	}

	// Write to a temp name then rename so readers never see partial content
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("finalize object: %w", err)
	}

	s.logger.Debug("Object stored", zap.String("path", path), zap.Int("size", len(content)))
	return s.baseURL + "/" + path, nil
}

// Get reads the content stored under the key
func (s *FileStorage) Get(ctx context.Context, path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", path, err)
	}
	return content, nil
}

// Delete removes the object. Deleting a missing object is not an error.
func (s *FileStorage) Delete(ctx context.Context, path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object %s: %w", path, err)
	}
	return nil
}

// Exists reports whether an object is stored under the key
func (s *FileStorage) Exists(ctx context.Context, path string) bool {
	full, err := s.resolve(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(full)
	return err == nil
}

// Presign returns a URL carrying an expiry and HMAC token for the key
func (s *FileStorage) Presign(ctx context.Context, path string, ttl time.Duration) (string, error) {
	if _, err := s.resolve(path); err != nil {
		return "", err
	}

	expires := time.Now().Add(ttl).Unix()
	token := s.sign(path, expires)
	return fmt.Sprintf("%s/%s?expires=%d&token=%s", s.baseURL, path, expires, token), nil
}

// VerifyToken checks a presigned token against the key and expiry
func (s *FileStorage) VerifyToken(path string, expires int64, token string) bool {
	if time.Now().Unix() > expires {
		return false
	}
	return hmac.Equal([]byte(token), []byte(s.sign(path, expires)))
}

func (s *FileStorage) sign(path string, expires int64) string {
	mac := hmac.New(sha256.New, s.signingKey)
	mac.Write([]byte(path + "|" + strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// resolve maps a key to an absolute path, rejecting traversal outside the
// base directory
func (s *FileStorage) resolve(path string) (string, error) {
	cleaned := filepath.Clean(path)
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid storage key %q", path)
	}
	return filepath.Join(s.baseDir, cleaned), nil
}

// Verify interface compliance
var _ port.ObjectStorage = (*FileStorage)(nil)
