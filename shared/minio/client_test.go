package minio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const objectBody = "fake video bytes"

// fakeS3 answers the handful of requests the client makes
func fakeS3(t *testing.T, bucketExists bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/videos" || r.URL.Path == "/videos/":
			if !bucketExists {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/videos/a.mp4":
			w.Header().Set("Content-Length", strconv.Itoa(len(objectBody)))
			w.Header().Set("Content-Type", "video/mp4")
			w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
			w.Header().Set("Last-Modified", "Mon, 02 Jan 2026 15:04:05 GMT")
			w.WriteHeader(http.StatusOK)
			if r.Method == http.MethodGet {
				_, _ = w.Write([]byte(objectBody))
			}
		default:
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			if r.Method != http.MethodHead {
				_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`))
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server) (*Client, error) {
	t.Helper()
	return NewClient(context.Background(), &Config{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		AccessKey: "minio",
		SecretKey: "minio123",
		Bucket:    "videos",
		Region:    "us-east-1",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestNewClient_MissingBucket(t *testing.T) {
	_, err := newTestClient(t, fakeS3(t, false))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestClient_Get(t *testing.T) {
	c, err := newTestClient(t, fakeS3(t, true))
	require.NoError(t, err)

	rc, err := c.Get(context.Background(), "a.mp4")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, objectBody, string(data))
}

func TestClient_GetMissing(t *testing.T) {
	c, err := newTestClient(t, fakeS3(t, true))
	require.NoError(t, err)

	_, err = c.Get(context.Background(), "missing.mp4")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrObjectNotFound))
}

func TestClient_HealthCheck(t *testing.T) {
	srv := fakeS3(t, true)
	c, err := newTestClient(t, srv)
	require.NoError(t, err)

	require.NoError(t, c.HealthCheck(context.Background()))

	srv.Close()
	err = c.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "object storage health check failed")
}
