package collector

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testOptions(serverURL string) Options {
	return Options{
		URLTemplate:     serverURL + "/archives/%d-%02d.zip",
		MinArchiveBytes: 10,
		MaxRedirects:    3,
	}
}

func TestDownload(t *testing.T) {
	payload := bytes.Repeat([]byte("z"), 64)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/archives/2025-09.zip", r.URL.Path)
		w.Write(payload)
	}))
	defer server.Close()

	c := New(testOptions(server.URL), zap.NewNop())
	body, err := c.Download(context.Background(), 2025, 9)
	require.NoError(t, err)
	assert.Equal(t, payload, body)
}

func TestDownload_FollowsRedirects(t *testing.T) {
	payload := bytes.Repeat([]byte("z"), 64)
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/archives/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, server.URL+"/hop2", http.StatusFound)
	})
	mux.HandleFunc("/hop2", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, server.URL+"/final", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	})

	c := New(testOptions(server.URL), zap.NewNop())
	body, err := c.Download(context.Background(), 2025, 9)
	require.NoError(t, err)
	assert.Equal(t, payload, body)
}

func TestDownload_RedirectLoopIsBounded(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, server.URL+r.URL.Path, http.StatusFound)
	}))
	defer server.Close()

	c := New(testOptions(server.URL), zap.NewNop())
	_, err := c.Download(context.Background(), 2025, 9)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many redirects")
}

func TestDownload_RejectsUndersizedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "tiny")
	}))
	defer server.Close()

	c := New(testOptions(server.URL), zap.NewNop())
	_, err := c.Download(context.Background(), 2025, 9)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too small")
}

func TestDownload_NotFoundIsPermanent(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := New(testOptions(server.URL), zap.NewNop())
	_, err := c.Download(context.Background(), 2025, 9)
	require.Error(t, err)
	// A 404 for a period that was never published is not retried.
	assert.Equal(t, 1, hits)
}
