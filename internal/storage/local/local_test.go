package local

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"dropwatch/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_WriteExistsDelete(t *testing.T) {
	ctx := context.Background()
	store := NewStore(t.TempDir(), "http://cdn.local/")

	exists, err := store.Exists(ctx, "photos/img1.jpg")
	require.NoError(t, err)
	assert.False(t, exists)

	counter := storage.NewProgressCounter(5, nil)
	loc, err := store.Write(ctx, "photos/img1.jpg", bytes.NewReader([]byte("hello")), storage.WriteOptions{
		Size:     5,
		Metadata: map[string]string{"title": "Sunset"},
		ACL:      "public-read",
		Progress: counter,
	})
	require.NoError(t, err)
	assert.Equal(t, "http://cdn.local/photos/img1.jpg", loc.URL)
	assert.Equal(t, int64(5), counter.Transferred())

	data, err := os.ReadFile(loc.Path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	meta, acl, err := store.Metadata("photos/img1.jpg")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"title": "Sunset"}, meta)
	assert.Equal(t, "public-read", acl)

	exists, err = store.Exists(ctx, "photos/img1.jpg")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Delete(ctx, "photos/img1.jpg"))
	exists, err = store.Exists(ctx, "photos/img1.jpg")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStore_WriteIfAbsentRejectsExisting(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	store := NewStore(base, "")

	_, err := store.Write(ctx, "img1.jpg", bytes.NewReader([]byte("first")), storage.WriteOptions{
		IfAbsent: true,
		Metadata: map[string]string{"title": "first"},
	})
	require.NoError(t, err)

	_, err = store.Write(ctx, "img1.jpg", bytes.NewReader([]byte("second")), storage.WriteOptions{
		IfAbsent: true,
		Metadata: map[string]string{"title": "second"},
	})
	require.ErrorIs(t, err, storage.ErrAlreadyExists)

	data, err := os.ReadFile(filepath.Join(base, "img1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	meta, _, err := store.Metadata("img1.jpg")
	require.NoError(t, err)
	assert.Equal(t, "first", meta["title"])

	leftovers, err := filepath.Glob(filepath.Join(base, ".img1.jpg.*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestStore_FailedMetadataWriteLeavesKeyAbsent(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	store := NewStore(base, "")

	// 目录占住 sidecar 路径，元数据写入必然失败
	sidecarPath := filepath.Join(base, "img1.jpg"+metaSuffix)
	require.NoError(t, os.Mkdir(sidecarPath, 0o755))

	for _, ifAbsent := range []bool{true, false} {
		_, err := store.Write(ctx, "img1.jpg", bytes.NewReader([]byte("jpeg")), storage.WriteOptions{
			IfAbsent: ifAbsent,
			Metadata: map[string]string{"title": "Sunset"},
		})
		require.Error(t, err)

		exists, err := store.Exists(ctx, "img1.jpg")
		require.NoError(t, err)
		assert.False(t, exists, "ifAbsent=%v", ifAbsent)
	}

	require.NoError(t, os.Remove(sidecarPath))
	_, err := store.Write(ctx, "img1.jpg", bytes.NewReader([]byte("jpeg")), storage.WriteOptions{IfAbsent: true})
	require.NoError(t, err)
}

func TestStore_KeyCannotEscapeBaseDir(t *testing.T) {
	base := t.TempDir()
	store := NewStore(base, "")

	_, err := store.Write(context.Background(), "../../etc/passwd", bytes.NewReader([]byte("x")), storage.WriteOptions{})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(base, "etc", "passwd"))
	assert.NoError(t, err)
}

func TestStore_RejectsSidecarKeys(t *testing.T) {
	store := NewStore(t.TempDir(), "")

	_, err := store.Exists(context.Background(), "img1.jpg"+metaSuffix)
	assert.Error(t, err)
}
