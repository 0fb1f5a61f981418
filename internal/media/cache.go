// ABOUTME: Clip cache for remote audio files
// ABOUTME: Downloads http(s) clip urls once and serves later loads from disk
package media

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// defaultExt is used when a clip url has no extension.
const defaultExt = ".mp3"

// Cache keeps downloaded clips keyed by url hash
type Cache struct {
	dir    string
	client *http.Client
}

// NewCache creates a clip cache in dir, or in the temp directory when dir
// is empty.
func NewCache(dir string) (*Cache, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "loopsync-media")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &Cache{
		dir:    dir,
		client: &http.Client{},
	}, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// IsRemote reports whether location is an http(s) url.
func IsRemote(location string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// Fetch returns a local path for location. Local paths are returned
// unchanged; remote clips are downloaded on first use.
func (c *Cache) Fetch(ctx context.Context, location string) (string, error) {
	if location == "" {
		return "", fmt.Errorf("no clip configured")
	}
	if !IsRemote(location) {
		return location, nil
	}

	cachePath := c.pathFor(location)

	if _, err := os.Stat(cachePath); err == nil {
		log.Printf("Clip cache hit: %s", cachePath)
		return cachePath, nil
	}

	log.Printf("Downloading clip: %s", location)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build clip request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download clip: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("clip download failed: HTTP %d", resp.StatusCode)
	}

	// Write to a temp file so an interrupted download never looks cached
	f, err := os.CreateTemp(c.dir, "download-*")
	if err != nil {
		return "", fmt.Errorf("failed to create cache file: %w", err)
	}
	tmpPath := f.Name()

	_, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmpPath)
		if copyErr == nil {
			copyErr = closeErr
		}
		return "", fmt.Errorf("failed to save clip: %w", copyErr)
	}

	if err := os.Rename(tmpPath, cachePath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to store clip: %w", err)
	}

	log.Printf("Clip saved: %s", cachePath)
	return cachePath, nil
}

func (c *Cache) pathFor(location string) string {
	hash := sha256.Sum256([]byte(location))
	return filepath.Join(c.dir, fmt.Sprintf("%x%s", hash[:8], getExtension(location)))
}

// getExtension extracts the file extension from a url path
func getExtension(location string) string {
	ext := ""
	if u, err := url.Parse(location); err == nil {
		ext = path.Ext(u.Path)
	}
	if ext == "" {
		ext = defaultExt
	}

	return strings.ToLower(ext)
}

// Cleanup removes all cached clips
func (c *Cache) Cleanup() error {
	return os.RemoveAll(c.dir)
}
