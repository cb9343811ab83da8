// Package storageio implements streaming download/upload helpers: compute
// SHA-256 and byte count as data is written, never buffer the whole body in
// memory.
package storageio

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// DownloadWithHash streams url to destination, creating parent directories
// as needed, and returns the byte count and lowercase hex SHA-256 of what
// was written. On any error the caller is responsible for removing the
// partial file via SafeRemove.
func DownloadWithHash(ctx context.Context, client *http.Client, url, destination string) (size int64, sha256Hex string, err error) {
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return 0, "", fmt.Errorf("create parent directories: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, "", fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	out, err := os.Create(destination)
	if err != nil {
		return 0, "", fmt.Errorf("create %s: %w", destination, err)
	}
	defer out.Close()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(out, hasher), resp.Body)
	if err != nil {
		return 0, "", fmt.Errorf("write %s: %w", destination, err)
	}

	return written, hex.EncodeToString(hasher.Sum(nil)), nil
}

// SaveUpload copies an operator-supplied upload stream to destination the
// same way DownloadWithHash copies an upstream response, then rewinds src
// to its start so the caller can read it again; a failed rewind is an error.
func SaveUpload(src io.ReadSeeker, destination string) (size int64, sha256Hex string, err error) {
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return 0, "", fmt.Errorf("create parent directories: %w", err)
	}

	out, err := os.Create(destination)
	if err != nil {
		return 0, "", fmt.Errorf("create %s: %w", destination, err)
	}
	defer out.Close()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(out, hasher), src)
	if err != nil {
		return 0, "", fmt.Errorf("write %s: %w", destination, err)
	}

	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return 0, "", fmt.Errorf("rewind upload: %w", err)
	}

	return written, hex.EncodeToString(hasher.Sum(nil)), nil
}

// SafeRemove unlinks path, doing nothing if it is already missing.
func SafeRemove(path string) error {
	if path == "" {
		return nil
	}
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
