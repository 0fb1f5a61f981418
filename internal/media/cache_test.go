// ABOUTME: Tests for the remote clip cache
// ABOUTME: Tests HTTP download, caching, pass-through and error handling
package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := NewCache(filepath.Join(t.TempDir(), "media"))
	require.NoError(t, err)
	return c
}

func TestNewCacheDefaultDir(t *testing.T) {
	c, err := NewCache("")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(os.TempDir(), "loopsync-media"), c.Dir())
	info, err := os.Stat(c.Dir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestFetchDownloadsAndCaches(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte("fake clip data"))
	}))
	defer server.Close()

	c := newTestCache(t)
	url := server.URL + "/clips/loop.FLAC?rev=2"

	path1, err := c.Fetch(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, ".flac", filepath.Ext(path1))

	content, err := os.ReadFile(path1)
	require.NoError(t, err)
	assert.Equal(t, "fake clip data", string(content))

	path2, err := c.Fetch(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, path1, path2)
	assert.Equal(t, int32(1), requests.Load(), "second fetch must be served from cache")
}

func TestFetchDifferentURLs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.URL.Path))
	}))
	defer server.Close()

	c := newTestCache(t)

	path1, err := c.Fetch(context.Background(), server.URL+"/a.mp3")
	require.NoError(t, err)
	path2, err := c.Fetch(context.Background(), server.URL+"/b.mp3")
	require.NoError(t, err)

	assert.NotEqual(t, path1, path2)
}

func TestFetchHTTPErrorLeavesNoFile(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	c := newTestCache(t)

	_, err := c.Fetch(context.Background(), server.URL+"/loop.mp3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	entries, err := os.ReadDir(c.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFetchLocalPathPassesThrough(t *testing.T) {
	c := newTestCache(t)

	path, err := c.Fetch(context.Background(), "/srv/clips/loop.opus")
	require.NoError(t, err)
	assert.Equal(t, "/srv/clips/loop.opus", path)
}

func TestFetchEmptyLocation(t *testing.T) {
	c := newTestCache(t)

	_, err := c.Fetch(context.Background(), "")
	assert.Error(t, err)
}

func TestFetchCancelledContext(t *testing.T) {
	c := newTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Fetch(ctx, "http://127.0.0.1:1/loop.mp3")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetExtension(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{"http://example.com/loop.mp3", ".mp3"},
		{"http://example.com/loop.opus", ".opus"},
		{"http://example.com/loop.flac?size=large", ".flac"},
		{"http://example.com/loop", ".mp3"}, // Default
		{"http://example.com:8080", ".mp3"},
		{"https://example.com/path/to/LOOP.PCM", ".pcm"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, getExtension(tt.url), tt.url)
	}
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("http://example.com/a.mp3"))
	assert.True(t, IsRemote("https://example.com/a.mp3"))
	assert.False(t, IsRemote("/tmp/a.mp3"))
	assert.False(t, IsRemote("a.mp3"))
}

func TestCleanup(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.Cleanup())
	_, err := os.Stat(c.Dir())
	assert.True(t, os.IsNotExist(err))
}
