package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleph-im/go-ccn/types/files"
	"github.com/aleph-im/go-ccn/types/message"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := New(&Config{Folder: t.TempDir(), PinTimeout: time.Second})
	require.NoError(t, err)
	return s
}

func TestWriteThenRead(t *testing.T) {
	s := newTestService(t)
	content := []byte(`{"type":"test-content"}`)
	hash := message.Sha256Hex(content)

	require.NoError(t, s.Write(hash, content))
	got, err := s.Read(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// A second read is served from cache.
	got, err = s.Read(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestAddWithoutDaemonUsesContentHash(t *testing.T) {
	s := newTestService(t)
	content := []byte(`{"messages":[]}`)

	hash, err := s.Add(context.Background(), content)
	require.NoError(t, err)
	assert.Equal(t, message.Sha256Hex(content), hash)

	got, err := s.Read(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestReadVerifiesStorageHashes(t *testing.T) {
	s := newTestService(t)
	wrongHash := strings.Repeat("ab", 32)
	require.NoError(t, os.WriteFile(filepath.Join(s.cfg.Folder, wrongHash), []byte("tampered"), 0o640))

	_, err := s.Read(context.Background(), wrongHash)
	assert.True(t, errors.Is(err, ErrInvalidContent))
}

func TestReadMissingContentIsUnavailable(t *testing.T) {
	s := newTestService(t)

	_, err := s.Read(context.Background(), strings.Repeat("00", 32))
	assert.True(t, errors.Is(err, ErrContentUnavailable))

	// An IPFS hash without a configured daemon cannot be fetched.
	_, err = s.Read(context.Background(), "QmaMLRsvmDRCezZe2iebcKWtEzKNjBaQfwcu7mcpdm8eY2")
	assert.True(t, errors.Is(err, ErrContentUnavailable))
}

func TestStatLocalBlob(t *testing.T) {
	s := newTestService(t)
	content := []byte("0123456789")
	hash := message.Sha256Hex(content)
	require.NoError(t, s.Write(hash, content))

	info, err := s.Stat(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, files.FileTypeFile, info.Type)
	assert.Equal(t, int64(10), info.Size)

	_, err = s.Stat(context.Background(), strings.Repeat("11", 32))
	assert.True(t, errors.Is(err, ErrContentUnavailable))
}

func TestDeleteDropsBlobAndCache(t *testing.T) {
	s := newTestService(t)
	content := []byte("to be deleted")
	hash := message.Sha256Hex(content)
	require.NoError(t, s.Write(hash, content))

	_, err := s.Read(context.Background(), hash)
	require.NoError(t, err)

	require.NoError(t, s.Delete(hash))
	_, err = s.Read(context.Background(), hash)
	assert.True(t, errors.Is(err, ErrContentUnavailable))

	// Deleting again is a no-op.
	require.NoError(t, s.Delete(hash))
}
