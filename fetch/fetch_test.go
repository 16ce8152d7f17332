package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileName(t *testing.T) {
	tests := map[string]string{
		"https://example.com/media/talk.mp3":         "talk.mp3",
		"https://example.com/media/talk.mp3?x=1#top": "talk.mp3",
		"https://example.com/":                       DefaultFileName,
		"https://example.com":                        DefaultFileName,
		"https://example.com/a/b/":                   DefaultFileName,
		"::not a url":                                DefaultFileName,
	}
	for in, want := range tests {
		assert.Equal(t, want, FileName(in), in)
	}
}

func TestGetterFetcher_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/clip.wav" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("RIFF-audio-bytes"))
	}))
	defer server.Close()

	f := NewGetterFetcher(Config{Timeout: 5 * time.Second, AllowPrivate: true}, nil)
	dst := filepath.Join(t.TempDir(), "uploads", "job1_clip.wav")

	require.NoError(t, f.Fetch(context.Background(), server.URL+"/clip.wav", dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "RIFF-audio-bytes", string(data))
}

func TestGetterFetcher_NotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	f := NewGetterFetcher(Config{Timeout: 5 * time.Second, AllowPrivate: true}, nil)
	dst := filepath.Join(t.TempDir(), "missing.bin")

	err := f.Fetch(context.Background(), server.URL+"/missing.bin", dst)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to download")
	assert.NoFileExists(t, dst)
}

func TestGetterFetcher_BlocksPrivateByDefault(t *testing.T) {
	hit := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
	}))
	defer server.Close()

	f := NewGetterFetcher(Config{}, nil)
	err := f.Fetch(context.Background(), server.URL+"/x", filepath.Join(t.TempDir(), "x"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "refusing to fetch")
	assert.False(t, hit)
}

func TestGetterFetcher_RejectsScheme(t *testing.T) {
	f := NewGetterFetcher(Config{AllowPrivate: true}, nil)

	assert.Error(t, f.Validate("file:///etc/passwd"))
	assert.Error(t, f.Validate("s3::https://bucket/key"))
	assert.NoError(t, f.Validate("https://example.com/a.mp4"))
}

func TestGetterFetcher_ContextCanceled(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	f := NewGetterFetcher(Config{Timeout: 5 * time.Second, AllowPrivate: true}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := f.Fetch(ctx, server.URL+"/slow.mp3", filepath.Join(t.TempDir(), "slow.mp3"))
	assert.Error(t, err)
}
