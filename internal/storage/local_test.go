package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestObjectStore(t *testing.T, publicBaseURL string) (*LocalObjectStore, string) {
	t.Helper()
	dir := t.TempDir()
	objectStore, err := NewLocalObjectStore(dir, publicBaseURL)
	require.NoError(t, err)
	require.NoError(t, objectStore.CreateBucket(context.Background()))
	return objectStore, dir
}

func TestLocalObjectStore_PutGetObject(t *testing.T) {
	objectStore, baseDir := setupTestObjectStore(t, "")

	key := "uploads/owner-1/task-1/clip.mp4"
	content := []byte("Test content")

	url, err := objectStore.PutObject(context.Background(), key, bytes.NewReader(content), "video/mp4")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "file://"))
	assert.True(t, strings.HasSuffix(url, "/uploads/owner-1/task-1/clip.mp4"))

	data, err := os.ReadFile(filepath.Join(baseDir, key))
	require.NoError(t, err)
	assert.Equal(t, content, data)

	reader, err := objectStore.GetObject(context.Background(), key)
	require.NoError(t, err)
	defer reader.Close()
	read, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, content, read)
}

func TestLocalObjectStore_PublicURL(t *testing.T) {
	objectStore, _ := setupTestObjectStore(t, "http://localhost:8001/blobs/")

	url, err := objectStore.PutObject(context.Background(), "results/task 1/result.png", strings.NewReader("png"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8001/blobs/results/task%201/result.png", url)
}

func TestLocalObjectStore_GetMissingObject(t *testing.T) {
	objectStore, _ := setupTestObjectStore(t, "")

	_, err := objectStore.GetObject(context.Background(), "does/not/exist")
	assert.True(t, errors.Is(err, ErrObjectNotFound))
}

func TestLocalObjectStore_KeysStayInsideBaseDir(t *testing.T) {
	objectStore, baseDir := setupTestObjectStore(t, "")

	_, err := objectStore.PutObject(context.Background(), "../../escape.txt", strings.NewReader("x"), "")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(baseDir, "escape.txt"))
	assert.NoError(t, err)
}

func TestLocalObjectStore_DeleteObjects(t *testing.T) {
	objectStore, baseDir := setupTestObjectStore(t, "")

	files := []string{"test-dir/file1.txt", "test-dir/file2.txt", "other-dir/file3.txt"}
	for _, file := range files {
		_, err := objectStore.PutObject(context.Background(), file, strings.NewReader("content"), "")
		require.NoError(t, err)
	}

	require.NoError(t, objectStore.DeleteObjects(context.Background(), "test-dir"))

	_, err := os.Stat(filepath.Join(baseDir, "test-dir"))
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(filepath.Join(baseDir, "other-dir/file3.txt"))
	assert.NoError(t, err)
}

func TestObjectURL(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com/a/b.png", objectURL(S3ClientConfig{PublicBaseURL: "https://cdn.example.com/"}, "bucket", "a/b.png"))
	assert.Equal(t, "http://minio:9000/bucket/a/b.png", objectURL(S3ClientConfig{Endpoint: "http://minio:9000"}, "bucket", "a/b.png"))
	assert.Equal(t, "s3://bucket/a/b.png", objectURL(S3ClientConfig{}, "bucket", "a/b.png"))
}
